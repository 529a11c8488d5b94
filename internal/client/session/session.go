// Package session ties the client pieces together: it owns the derived
// vault key, the open local database, the API client, and the sync loop.
// One session corresponds to one unlocked vault; all mutations go through
// its lock so a suspended sync can never interleave with a local write.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/okulov/vaultsync/internal/client/api"
	"github.com/okulov/vaultsync/internal/client/config"
	"github.com/okulov/vaultsync/internal/client/vaultdb"
	"github.com/okulov/vaultsync/internal/common"
	"github.com/okulov/vaultsync/internal/cryptox"
	"github.com/okulov/vaultsync/internal/logging"
	"github.com/okulov/vaultsync/internal/srpx"
)

// Session is the unlocked-vault state machine. The zero value is not
// usable; construct with New.
type Session struct {
	cfg *config.Config
	api *api.Client
	log logging.Logger

	// mu is the single-writer mutation lock from the concurrency model:
	// local record writes, sync, and password changes all hold it.
	mu       sync.Mutex
	key      []byte
	kdf      cryptox.KDFConfig
	salt     []byte
	username string
	db       *vaultdb.DB
	revision int64

	online atomic.Bool
}

func New(cfg *config.Config, log logging.Logger) *Session {
	if log == nil {
		log = logging.Nop{}
	}
	return &Session{cfg: cfg, api: api.NewClient(cfg.ServerURL), log: log}
}

// Unlocked reports whether a derived key and an open database are held.
func (s *Session) Unlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key != nil
}

// Online reports the last observed server reachability.
func (s *Session) Online() bool { return s.online.Load() }

// DB exposes the open vault database for record operations. It returns
// nil while the session is locked.
func (s *Session) DB() *vaultdb.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db
}

// Register provisions a new account and leaves the session unlocked with
// a brand-new vault: a fresh salt and epoch are generated, the empty
// local database is created and its snapshot becomes revision 1 on the
// server, and a login follows so the session holds a token pair.
func (s *Session) Register(ctx context.Context, username string, password []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = srpx.NormalizeUsername(username)
	salt := common.GenerateRandByteArray(srpx.SaltLen)
	kdf := cryptox.DefaultKDFConfig()

	key, err := cryptox.DeriveKey(password, salt, kdf)
	if err != nil {
		return err
	}
	secret := srpx.KeyToSecret(key)
	verifier := srpx.ComputeVerifier(salt, username, secret)

	db, err := vaultdb.Open(ctx, s.cfg.DatabasePath)
	if err != nil {
		return err
	}
	// The SRP salt doubles as the password epoch: it is shared by every
	// device of the account and rotates exactly when the password does.
	if err := s.stampVault(ctx, db, username, salt, kdf, key, salt); err != nil {
		db.Close()
		return err
	}

	blob, settings, err := sealSnapshot(ctx, db, key)
	if err != nil {
		db.Close()
		return err
	}

	version, err := db.SchemaVersion(ctx)
	if err != nil {
		db.Close()
		return err
	}

	kdfSettings, err := kdf.Settings()
	if err != nil {
		db.Close()
		return err
	}

	err = s.api.Register(ctx, api.RegisterParams{
		Username:           username,
		Salt:               salt,
		Verifier:           verifier,
		KDFType:            kdf.Type,
		KDFSettings:        kdfSettings,
		VaultBlob:          blob,
		VaultVersion:       version,
		EncryptionType:     cryptox.CipherAES256GCM,
		EncryptionSettings: settings,
	})
	if err != nil {
		db.Close()
		return err
	}

	common.WipeByteArray(key)
	s.db = db
	s.revision = 1

	// Registration does not issue tokens; run the SRP round for a pair.
	if err := s.loginLocked(ctx, username, password, LoginOptions{}); err != nil {
		return fmt.Errorf("registered, but login failed: %w", err)
	}
	return nil
}

// LoginOptions carry the optional second factor and the refresh-token
// lifetime choice.
type LoginOptions struct {
	TOTPCode     string
	RecoveryCode string
	RememberMe   bool
}

// Login runs the SRP handshake against the server, verifies the server's
// proof, and unlocks the local vault with the key derived from the
// server-held salt and KDF parameters. An ErrTwoFactorRequired result
// means the proof was accepted; retry with the code filled in.
func (s *Session) Login(ctx context.Context, username string, password []byte, opts LoginOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginLocked(ctx, username, password, opts)
}

func (s *Session) loginLocked(ctx context.Context, username string, password []byte, opts LoginOptions) error {
	username = srpx.NormalizeUsername(username)

	ch, err := s.api.LoginInitiate(ctx, username)
	if err != nil {
		return err
	}

	kdf, err := cryptox.ParseKDFConfig(ch.KDFType, ch.KDFSettings)
	if err != nil {
		return err
	}
	key, err := cryptox.DeriveKey(password, ch.Salt, kdf)
	if err != nil {
		return err
	}

	srp := srpx.NewClientSession(ch.Salt, username, srpx.KeyToSecret(key))
	srp.SetServerEphemeral(ch.ServerEphemeral)

	res, err := s.api.LoginFinish(ctx, api.LoginFinishParams{
		LoginID:         ch.LoginID,
		ClientEphemeral: srp.PublicEphemeral(),
		Proof:           srp.Proof(),
		TOTPCode:        opts.TOTPCode,
		RecoveryCode:    opts.RecoveryCode,
		RememberMe:      opts.RememberMe,
	})
	if err != nil {
		common.WipeByteArray(key)
		return err
	}
	if err := srp.VerifyServerProof(res.ServerProof); err != nil {
		common.WipeByteArray(key)
		s.api.ClearTokens()
		return err
	}

	if s.db == nil {
		db, err := vaultdb.Open(ctx, s.cfg.DatabasePath)
		if err != nil {
			common.WipeByteArray(key)
			return err
		}
		s.db = db
	}

	// First login on this device leaves no canary yet; stamp one so the
	// next unlock works offline.
	canary, err := s.db.GetMeta(ctx, vaultdb.MetaCanary)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		common.WipeByteArray(key)
		return err
	}
	if canary == nil || cryptox.CheckCanary(key, canary) != nil {
		// Either the first login on this device, or the local copy is
		// stamped for an older password epoch. The salt-derived epoch
		// keeps all devices of the account mergeable.
		if err := s.stampVault(ctx, s.db, username, ch.Salt, kdf, key, ch.Salt); err != nil {
			common.WipeByteArray(key)
			return err
		}
	}

	s.install(username, ch.Salt, kdf, key, s.db)
	s.online.Store(true)
	return nil
}

// Unlock opens the local vault with only the password, no server
// round-trip: the cached salt and KDF parameters re-derive the key and
// the canary decides whether it is the right one.
func (s *Session) Unlock(ctx context.Context, password []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil {
		return nil
	}

	db, err := vaultdb.Open(ctx, s.cfg.DatabasePath)
	if err != nil {
		return err
	}

	username, salt, kdf, err := readAccountMeta(ctx, db)
	if err != nil {
		db.Close()
		return err
	}
	canary, err := db.GetMeta(ctx, vaultdb.MetaCanary)
	if err != nil {
		db.Close()
		return err
	}

	key, err := cryptox.DeriveKey(password, salt, kdf)
	if err != nil {
		db.Close()
		return err
	}
	if err := cryptox.CheckCanary(key, canary); err != nil {
		common.WipeByteArray(key)
		db.Close()
		return common.ErrInvalidCredentials
	}

	s.install(username, salt, kdf, key, db)
	return nil
}

// Lock wipes the derived key and closes the database. Tokens survive so
// a later Unlock can sync without a fresh login.
func (s *Session) Lock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockLocked()
}

func (s *Session) lockLocked() error {
	if s.key != nil {
		common.WipeByteArray(s.key)
		s.key = nil
	}
	var err error
	if s.db != nil {
		err = s.db.Close()
		s.db = nil
	}
	return err
}

// Logout revokes the refresh token server-side and locks the session.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	apiErr := s.api.Logout(ctx)
	if err := s.lockLocked(); err != nil {
		return err
	}
	return apiErr
}

// ChangePassword re-proves the current password over a fresh SRP round
// and atomically installs a new (salt, verifier, epoch) plus the vault
// re-encrypted under the new key. The server revokes every session of
// the old epoch, this one included, so the caller must log in again.
func (s *Session) ChangePassword(ctx context.Context, current, next []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return common.ErrorUnauthorized
	}

	ch, err := s.api.ChangePasswordInitiate(ctx, s.username)
	if err != nil {
		return err
	}
	kdf, err := cryptox.ParseKDFConfig(ch.KDFType, ch.KDFSettings)
	if err != nil {
		return err
	}
	oldKey, err := cryptox.DeriveKey(current, ch.Salt, kdf)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(oldKey)

	srp := srpx.NewClientSession(ch.Salt, s.username, srpx.KeyToSecret(oldKey))
	srp.SetServerEphemeral(ch.ServerEphemeral)

	newSalt := common.GenerateRandByteArray(srpx.SaltLen)
	newKDF := cryptox.DefaultKDFConfig()
	newKey, err := cryptox.DeriveKey(next, newSalt, newKDF)
	if err != nil {
		return err
	}
	newVerifier := srpx.ComputeVerifier(newSalt, s.username, srpx.KeyToSecret(newKey))

	// Restamp the local copy first; on a rejected upload the metadata is
	// stamped back below.
	if err := s.stampVault(ctx, s.db, s.username, newSalt, newKDF, newKey, newSalt); err != nil {
		common.WipeByteArray(newKey)
		return err
	}

	blob, settings, err := sealSnapshot(ctx, s.db, newKey)
	if err != nil {
		common.WipeByteArray(newKey)
		return err
	}
	version, err := s.db.SchemaVersion(ctx)
	if err != nil {
		common.WipeByteArray(newKey)
		return err
	}
	kdfSettings, err := newKDF.Settings()
	if err != nil {
		common.WipeByteArray(newKey)
		return err
	}

	res, err := s.api.ChangePassword(ctx, api.ChangePasswordParams{
		LoginID:               ch.LoginID,
		ClientEphemeral:       srp.PublicEphemeral(),
		Proof:                 srp.Proof(),
		NewSalt:               newSalt,
		NewVerifier:           newVerifier,
		NewKDFType:            newKDF.Type,
		NewKDFSettings:        kdfSettings,
		StatedCurrentRevision: s.revision,
		VaultBlob:             blob,
		VaultVersion:          version,
		EncryptionType:        cryptox.CipherAES256GCM,
		EncryptionSettings:    settings,
	})
	if err != nil {
		common.WipeByteArray(newKey)
		if stampErr := s.stampVault(ctx, s.db, s.username, s.salt, s.kdf, s.key, s.salt); stampErr != nil {
			return errors.Join(err, stampErr)
		}
		return err
	}
	if err := srp.VerifyServerProof(res.ServerProof); err != nil {
		common.WipeByteArray(newKey)
		return err
	}

	common.WipeByteArray(s.key)
	s.key = newKey
	s.salt = newSalt
	s.kdf = newKDF
	s.revision = res.NewRevision
	return nil
}

// install records the unlocked state, wiping any key held before.
// Caller holds mu.
func (s *Session) install(username string, salt []byte, kdf cryptox.KDFConfig, key []byte, db *vaultdb.DB) {
	if s.key != nil {
		common.WipeByteArray(s.key)
	}
	s.username = username
	s.salt = salt
	s.kdf = kdf
	s.key = key
	s.db = db
}

// stampVault writes the account metadata a later offline unlock needs.
func (s *Session) stampVault(ctx context.Context, db *vaultdb.DB, username string, salt []byte, kdf cryptox.KDFConfig, key, epoch []byte) error {
	canary, err := cryptox.MakeCanary(key)
	if err != nil {
		return err
	}
	settings, err := kdf.Settings()
	if err != nil {
		return err
	}

	writes := map[string][]byte{
		vaultdb.MetaUsername:    []byte(username),
		vaultdb.MetaSalt:        salt,
		vaultdb.MetaKDFType:     []byte(kdf.Type),
		vaultdb.MetaKDFSettings: settings,
		vaultdb.MetaCanary:      canary,
		vaultdb.MetaEpoch:       epoch,
	}
	for k, v := range writes {
		if err := db.SetMeta(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func readAccountMeta(ctx context.Context, db *vaultdb.DB) (username string, salt []byte, kdf cryptox.KDFConfig, err error) {
	u, err := db.GetMeta(ctx, vaultdb.MetaUsername)
	if err != nil {
		return "", nil, cryptox.KDFConfig{}, fmt.Errorf("local vault has no account metadata: %w", err)
	}
	salt, err = db.GetMeta(ctx, vaultdb.MetaSalt)
	if err != nil {
		return "", nil, cryptox.KDFConfig{}, err
	}
	typ, err := db.GetMeta(ctx, vaultdb.MetaKDFType)
	if err != nil {
		return "", nil, cryptox.KDFConfig{}, err
	}
	settings, err := db.GetMeta(ctx, vaultdb.MetaKDFSettings)
	if err != nil {
		return "", nil, cryptox.KDFConfig{}, err
	}
	kdf, err = cryptox.ParseKDFConfig(string(typ), settings)
	if err != nil {
		return "", nil, cryptox.KDFConfig{}, err
	}
	return string(u), salt, kdf, nil
}

// sealSnapshot checkpoints the database and encrypts the whole file.
// The returned settings JSON records the cipher parameters that travel
// with the blob.
func sealSnapshot(ctx context.Context, db *vaultdb.DB, key []byte) (blob []byte, settings []byte, err error) {
	snap, err := db.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	blob, err = cryptox.Encrypt(snap, key)
	if err != nil {
		return nil, nil, err
	}
	return blob, []byte(`{}`), nil
}

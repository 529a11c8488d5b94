// Package services contains server-side business logic. This file implements
// UserService: registration, the two-round SRP login, token rotation,
// lockout accounting, two-factor checks and the transactional password
// change that swaps the whole password epoch at once.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okulov/vaultsync/internal/common"
	"github.com/okulov/vaultsync/internal/cryptox"
	"github.com/okulov/vaultsync/internal/dbx"
	"github.com/okulov/vaultsync/internal/server/auth"
	sc "github.com/okulov/vaultsync/internal/server/config"
	"github.com/okulov/vaultsync/internal/server/models"
	"github.com/okulov/vaultsync/internal/server/repositories/repomanager"
	"github.com/okulov/vaultsync/internal/server/totp"
	"github.com/okulov/vaultsync/internal/srpx"
)

// timeNow is a seam for tests.
var timeNow = time.Now

// pendingLoginTTL bounds the window between login initiate and finish.
const pendingLoginTTL = 2 * time.Minute

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// pendingLogin is the server half of one SRP handshake, kept between
// initiate and finish. For unknown usernames a bogus session is stored so
// the two rounds are indistinguishable from a real account's.
type pendingLogin struct {
	srp      *srpx.ServerSession
	username string
	userID   string
	bogus    bool
	expires  time.Time

	// set once the SRP proof has been accepted but a second factor is
	// still outstanding, so a finish retry does not redo the handshake
	proofOK     bool
	serverProof []byte
}

// UserService provides authentication-related operations.
type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	vaults      *VaultService
	config      *sc.Config
	jwtSecret   []byte

	mu     sync.Mutex
	logins map[string]*pendingLogin
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, vaults *VaultService, cfg *sc.Config) *UserService {
	return &UserService{
		db:          db,
		repomanager: m,
		vaults:      vaults,
		config:      cfg,
		jwtSecret:   []byte(cfg.SecretKey),
		logins:      make(map[string]*pendingLogin),
	}
}

// RegisterParams carries everything a new account needs: the SRP
// credentials and the initial (possibly empty) encrypted vault.
type RegisterParams struct {
	Username    string
	Salt        []byte
	Verifier    []byte
	KDFType     string
	KDFSettings json.RawMessage

	VaultBlob          []byte
	VaultVersion       int64
	EncryptionType     string
	EncryptionSettings json.RawMessage
}

// Register creates the user and its vault revision 1 in one transaction.
func (s *UserService) Register(ctx context.Context, p RegisterParams) (*models.User, error) {
	user := &models.User{
		Username:    srpx.NormalizeUsername(p.Username),
		Salt:        p.Salt,
		Verifier:    p.Verifier,
		KDFType:     p.KDFType,
		KDFSettings: p.KDFSettings,
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		u, err := s.repomanager.Users(tx).Create(ctx, user)
		if err != nil {
			return err
		}
		user = u

		vault := &models.Vault{
			UserID:             user.ID,
			Blob:               p.VaultBlob,
			RevisionNumber:     1,
			Version:            p.VaultVersion,
			EncryptionType:     p.EncryptionType,
			EncryptionSettings: p.EncryptionSettings,
		}
		_, err = s.vaults.insertRevision(ctx, tx, vault)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("registering user: %w", err)
	}
	return user, nil
}

// LoginChallenge is the server's reply to login initiate: everything the
// client needs to derive its key and run its SRP half.
type LoginChallenge struct {
	LoginID         string
	Salt            []byte
	ServerEphemeral []byte
	KDFType         string
	KDFSettings     json.RawMessage
}

// LoginInitiate starts an SRP handshake. Unknown usernames get a random
// salt and a throwaway verifier so account existence does not leak; the
// finish round then fails the same way a wrong password does.
func (s *UserService) LoginInitiate(ctx context.Context, username, origin string) (*LoginChallenge, error) {
	username = srpx.NormalizeUsername(username)

	pending := &pendingLogin{
		username: username,
		expires:  timeNow().Add(pendingLoginTTL),
	}
	challenge := &LoginChallenge{LoginID: uuid.NewString()}

	user, err := s.repomanager.Users(s.db).GetByUsername(ctx, username)
	switch {
	case err == nil:
		pending.userID = user.ID
		pending.srp = srpx.NewServerSession(user.Verifier)
		challenge.Salt = user.Salt
		challenge.KDFType = user.KDFType
		challenge.KDFSettings = user.KDFSettings
	case errors.Is(err, common.ErrorNotFound):
		salt := common.GenerateRandByteArray(srpx.SaltLen)
		secret := common.GenerateRandByteArray(32)
		pending.bogus = true
		pending.srp = srpx.NewServerSession(srpx.ComputeVerifier(salt, username, secret))
		challenge.Salt = salt
		challenge.KDFType = cryptox.KDFArgon2id
		challenge.KDFSettings, _ = cryptox.DefaultKDFConfig().Settings()
	default:
		return nil, common.ErrorInternal
	}

	challenge.ServerEphemeral = pending.srp.PublicEphemeral()

	s.putPending(challenge.LoginID, pending)
	s.audit(ctx, username, models.AuditLoginInitiate, models.AuditOK, origin)

	return challenge, nil
}

// FinishParams carries the client's SRP answer plus the optional second
// factor. Exactly one of TOTPCode / RecoveryCode is set when 2FA is on.
type FinishParams struct {
	LoginID         string
	ClientEphemeral []byte
	Proof           []byte
	TOTPCode        string
	RecoveryCode    string
	RememberMe      bool
	Origin          string
}

// LoginResult is a successful finish: the server's proof plus tokens.
type LoginResult struct {
	ServerProof []byte
	Tokens      *TokenPair
}

// LoginFinish completes the handshake. Failed proofs count toward the
// lockout threshold; once 2FA is outstanding the pending session survives
// so the client can resubmit with a code without a new handshake.
func (s *UserService) LoginFinish(ctx context.Context, p FinishParams) (*LoginResult, error) {
	pending, ok := s.getPending(p.LoginID)
	if !ok {
		return nil, common.ErrInvalidCredentials
	}

	if pending.bogus {
		s.dropPending(p.LoginID)
		s.audit(ctx, pending.username, models.AuditLoginFinish, models.AuditFailed, p.Origin)
		return nil, common.ErrInvalidCredentials
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, pending.userID)
	if err != nil {
		s.dropPending(p.LoginID)
		return nil, common.ErrorInternal
	}

	if err := s.checkLock(ctx, user, p.Origin); err != nil {
		s.dropPending(p.LoginID)
		return nil, err
	}

	if !pending.proofOK {
		m2, err := pending.srp.VerifyClientProof(p.ClientEphemeral, p.Proof)
		if err != nil {
			s.dropPending(p.LoginID)
			return nil, s.recordFailure(ctx, user, models.AuditLoginFinish, p.Origin)
		}
		pending.proofOK = true
		pending.serverProof = m2
	}

	if user.TOTPSecret != "" {
		if err := s.checkSecondFactor(ctx, user, p); err != nil {
			if errors.Is(err, common.ErrTwoFactorRequired) {
				// keep the pending session for the retry with a code
				return nil, err
			}
			s.dropPending(p.LoginID)
			return nil, err
		}
	}

	s.dropPending(p.LoginID)

	if err := s.resetFailures(ctx, user); err != nil {
		return nil, common.ErrorInternal
	}

	pair, err := s.generateTokenPair(ctx, user.ID, p.RememberMe, s.db)
	if err != nil {
		return nil, common.ErrorInternal
	}

	s.audit(ctx, user.Username, models.AuditLoginFinish, models.AuditOK, p.Origin)
	return &LoginResult{ServerProof: pending.serverProof, Tokens: pair}, nil
}

// checkSecondFactor validates whichever factor the client sent. An absent
// factor is reported as ErrTwoFactorRequired; a wrong one counts as a
// failed attempt like a wrong password would.
func (s *UserService) checkSecondFactor(ctx context.Context, user *models.User, p FinishParams) error {
	switch {
	case p.RecoveryCode != "":
		used, err := s.repomanager.Users(s.db).ConsumeRecoveryCode(ctx, user.ID, totp.HashRecoveryCode(p.RecoveryCode))
		if err != nil {
			return common.ErrorInternal
		}
		if !used {
			s.audit(ctx, user.Username, models.AuditRecoveryCode, models.AuditFailed, p.Origin)
			if err := s.recordFailure(ctx, user, models.AuditRecoveryCode, p.Origin); errors.Is(err, common.ErrAccountLocked) {
				return err
			}
			return common.ErrInvalidRecoveryCode
		}
		s.audit(ctx, user.Username, models.AuditRecoveryCode, models.AuditOK, p.Origin)
		return nil
	case p.TOTPCode != "":
		if !totp.Verify(p.TOTPCode, user.TOTPSecret, timeNow()) {
			s.audit(ctx, user.Username, models.AuditTwoFactor, models.AuditFailed, p.Origin)
			if err := s.recordFailure(ctx, user, models.AuditTwoFactor, p.Origin); errors.Is(err, common.ErrAccountLocked) {
				return err
			}
			return common.ErrInvalidTwoFactorCode
		}
		s.audit(ctx, user.Username, models.AuditTwoFactor, models.AuditOK, p.Origin)
		return nil
	default:
		return common.ErrTwoFactorRequired
	}
}

// checkLock rejects locked accounts. An expired lock clears itself and the
// failure counter on the next attempt.
func (s *UserService) checkLock(ctx context.Context, user *models.User, origin string) error {
	if user.LockedUntil == nil {
		return nil
	}
	if timeNow().Before(*user.LockedUntil) {
		s.audit(ctx, user.Username, models.AuditLoginFinish, models.AuditLocked, origin)
		return common.ErrAccountLocked
	}
	user.FailedAttempts = 0
	user.LockedUntil = nil
	return s.repomanager.Users(s.db).UpdateLockState(ctx, user.ID, 0, nil)
}

// recordFailure bumps the consecutive-failure counter and locks the
// account at the threshold. The returned error is what the caller should
// surface: ErrAccountLocked at the threshold, ErrInvalidCredentials below.
func (s *UserService) recordFailure(ctx context.Context, user *models.User, event, origin string) error {
	user.FailedAttempts++
	var lockedUntil *time.Time
	if user.FailedAttempts >= s.config.LockoutThreshold {
		t := timeNow().Add(s.config.LockoutCooldown)
		lockedUntil = &t
	}

	if err := s.repomanager.Users(s.db).UpdateLockState(ctx, user.ID, user.FailedAttempts, lockedUntil); err != nil {
		return common.ErrorInternal
	}

	if lockedUntil != nil {
		s.audit(ctx, user.Username, models.AuditLockout, models.AuditLocked, origin)
		return common.ErrAccountLocked
	}
	s.audit(ctx, user.Username, event, models.AuditFailed, origin)
	return common.ErrInvalidCredentials
}

func (s *UserService) resetFailures(ctx context.Context, user *models.User) error {
	if user.FailedAttempts == 0 && user.LockedUntil == nil {
		return nil
	}
	return s.repomanager.Users(s.db).UpdateLockState(ctx, user.ID, 0, nil)
}

// RefreshToken validates a refresh token, rotates it transactionally, and
// returns a fresh TokenPair.
func (s *UserService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	token, err := s.repomanager.RefreshTokens(s.db).Get(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidRefreshToken
		}
		return nil, common.ErrorInternal
	}
	if token.ExpiresAt.Before(timeNow()) {
		_ = s.repomanager.RefreshTokens(s.db).Delete(ctx, refreshToken)
		return nil, common.ErrInvalidRefreshToken
	}

	// the rotated token keeps the original absolute expiry class:
	// rememberMe sessions were issued with the long TTL, and extending
	// it on every refresh is intended
	rememberMe := time.Until(token.ExpiresAt) > s.config.RefreshTokenValidityDuration

	var pair *TokenPair
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.RefreshTokens(tx).Delete(ctx, refreshToken); err != nil {
			return err
		}
		var genErr error
		pair, genErr = s.generateTokenPair(ctx, token.UserID, rememberMe, tx)
		return genErr
	})
	if err != nil {
		return nil, common.ErrorInternal
	}

	if user, err := s.repomanager.Users(s.db).GetByID(ctx, token.UserID); err == nil {
		s.audit(ctx, user.Username, models.AuditTokenRefresh, models.AuditOK, "")
	}
	return pair, nil
}

// Revoke discards a refresh token. Unknown tokens are not an error, so
// logout is idempotent.
func (s *UserService) Revoke(ctx context.Context, refreshToken string) error {
	return s.repomanager.RefreshTokens(s.db).Delete(ctx, refreshToken)
}

// ChangePasswordParams rides a single request: the proof of the current
// password, the new credentials and the vault re-encrypted under the new
// key, pinned to the revision the client last saw.
type ChangePasswordParams struct {
	LoginID         string
	ClientEphemeral []byte
	Proof           []byte

	NewSalt        []byte
	NewVerifier    []byte
	NewKDFType     string
	NewKDFSettings json.RawMessage

	StatedCurrentRevision int64
	VaultBlob             []byte
	VaultVersion          int64
	EncryptionType        string
	EncryptionSettings    json.RawMessage

	Origin string
}

// ChangePasswordResult is the server proof plus the revision the
// re-encrypted vault landed on.
type ChangePasswordResult struct {
	ServerProof []byte
	NewRevision int64
}

// ChangePassword swaps the password epoch. The SRP proof uses a pending
// handshake obtained via LoginInitiate. Credentials, the re-encrypted
// vault and the session purge commit in one transaction or not at all.
func (s *UserService) ChangePassword(ctx context.Context, p ChangePasswordParams) (*ChangePasswordResult, error) {
	pending, ok := s.getPending(p.LoginID)
	if !ok {
		return nil, common.ErrInvalidCredentials
	}
	s.dropPending(p.LoginID)

	if pending.bogus {
		s.audit(ctx, pending.username, models.AuditPasswordChange, models.AuditFailed, p.Origin)
		return nil, common.ErrInvalidCredentials
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, pending.userID)
	if err != nil {
		return nil, common.ErrorInternal
	}

	if err := s.checkLock(ctx, user, p.Origin); err != nil {
		return nil, err
	}

	m2, err := pending.srp.VerifyClientProof(p.ClientEphemeral, p.Proof)
	if err != nil {
		return nil, s.recordFailure(ctx, user, models.AuditPasswordChange, p.Origin)
	}

	latest, err := s.repomanager.Vaults(s.db).GetLatestRevision(ctx, user.ID)
	if err != nil {
		return nil, common.ErrorInternal
	}
	if p.StatedCurrentRevision != latest {
		return nil, common.ErrVaultOutdated
	}

	newRevision := latest + 1
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).UpdateAuth(ctx, user.ID,
			p.NewSalt, p.NewVerifier, p.NewKDFType, p.NewKDFSettings); err != nil {
			return err
		}

		vault := &models.Vault{
			UserID:             user.ID,
			Blob:               p.VaultBlob,
			RevisionNumber:     newRevision,
			Version:            p.VaultVersion,
			EncryptionType:     p.EncryptionType,
			EncryptionSettings: p.EncryptionSettings,
		}
		if _, err := s.vaults.insertRevision(ctx, tx, vault); err != nil {
			return err
		}

		// every outstanding session was minted under the old epoch
		return s.repomanager.RefreshTokens(tx).DeleteAllForUser(ctx, user.ID)
	})
	if err != nil {
		if errors.Is(err, common.ErrVaultOutdated) {
			return nil, common.ErrVaultOutdated
		}
		return nil, common.ErrorInternal
	}

	s.audit(ctx, user.Username, models.AuditPasswordChange, models.AuditOK, p.Origin)
	return &ChangePasswordResult{ServerProof: m2, NewRevision: newRevision}, nil
}

// TwoFactorSetup is returned once at enrollment. The recovery codes are
// shown to the user here and stored only as digests.
type TwoFactorSetup struct {
	Secret        string
	RecoveryCodes []string
}

// EnableTwoFactor enrolls the account into TOTP and mints recovery codes.
func (s *UserService) EnableTwoFactor(ctx context.Context, userID string) (*TwoFactorSetup, error) {
	secret := totp.GenerateSecret()
	codes := totp.GenerateRecoveryCodes()

	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = totp.HashRecoveryCode(c)
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).SetTOTPSecret(ctx, userID, secret); err != nil {
			return err
		}
		return s.repomanager.Users(tx).AddRecoveryCodes(ctx, userID, hashes)
	})
	if err != nil {
		return nil, common.ErrorInternal
	}

	return &TwoFactorSetup{Secret: secret, RecoveryCodes: codes}, nil
}

// DisableTwoFactor clears the TOTP enrollment.
func (s *UserService) DisableTwoFactor(ctx context.Context, userID string) error {
	return s.repomanager.Users(s.db).SetTOTPSecret(ctx, userID, "")
}

func (s *UserService) generateTokenPair(ctx context.Context, userID string, rememberMe bool, db dbx.DBTX) (*TokenPair, error) {
	accessToken, err := auth.GenerateToken(userID, s.jwtSecret, s.config.AccessTokenValidityDuration)
	if err != nil {
		return nil, err
	}

	validity := s.config.RefreshTokenValidityDuration
	if rememberMe {
		validity = s.config.RememberMeValidityDuration
	}

	refreshToken, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, err
	}

	err = s.repomanager.RefreshTokens(db).Create(ctx, &models.RefreshToken{
		UserID:    userID,
		Token:     refreshToken,
		ExpiresAt: timeNow().Add(validity),
	})
	if err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (s *UserService) putPending(id string, p *pendingLogin) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := timeNow()
	for k, v := range s.logins {
		if v.expires.Before(now) {
			delete(s.logins, k)
		}
	}
	s.logins[id] = p
}

func (s *UserService) getPending(id string) (*pendingLogin, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.logins[id]
	if !ok || p.expires.Before(timeNow()) {
		delete(s.logins, id)
		return nil, false
	}
	return p, true
}

func (s *UserService) dropPending(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logins, id)
}

// audit appends the event and deliberately swallows errors: a broken
// audit sink must not take authentication down with it.
func (s *UserService) audit(ctx context.Context, username, event, outcome, origin string) {
	_ = s.repomanager.Audit(s.db).Append(ctx, &models.AuditEvent{
		Username: username,
		Event:    event,
		Outcome:  outcome,
		Origin:   origin,
	})
}

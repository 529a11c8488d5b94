package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/okulov/vaultsync/internal/common"
	"github.com/okulov/vaultsync/internal/dbx"
	sc "github.com/okulov/vaultsync/internal/server/config"
	"github.com/okulov/vaultsync/internal/server/models"
	"github.com/okulov/vaultsync/internal/server/repositories/repomanager"
)

// VaultService implements the revision protocol: the server stores opaque
// ciphertext revisions and arbitrates uploads with a compare-and-swap on
// the revision number. It never inspects blob contents.
type VaultService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	blobs       BlobStore // nil when ciphertext lives inline in Postgres
}

func NewVaultService(db *sql.DB, m repomanager.RepositoryManager, cfg *sc.Config, blobs BlobStore) *VaultService {
	return &VaultService{db: db, repomanager: m, config: cfg, blobs: blobs}
}

// StatusInfo is the cheap pre-sync probe: the client compares
// VaultRevision with its own before deciding to fetch.
type StatusInfo struct {
	VaultRevision int64
	Salt          []byte
}

func (s *VaultService) Status(ctx context.Context, userID string) (*StatusInfo, error) {
	revision, err := s.repomanager.Vaults(s.db).GetLatestRevision(ctx, userID)
	if err != nil {
		return nil, common.ErrorInternal
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, common.ErrorInternal
	}

	return &StatusInfo{VaultRevision: revision, Salt: user.Salt}, nil
}

// Get returns the latest revision with its ciphertext loaded, fetching
// from the object store when the row only carries a storage key.
func (s *VaultService) Get(ctx context.Context, userID string) (*models.Vault, error) {
	vault, err := s.repomanager.Vaults(s.db).GetLatest(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, common.ErrorInternal
	}

	if vault.StorageKey != "" {
		if s.blobs == nil {
			return nil, fmt.Errorf("vault %s stored externally but no blob store configured: %w",
				vault.ID, common.ErrorInternal)
		}
		blob, err := s.blobs.Get(ctx, vault.StorageKey)
		if err != nil {
			return nil, common.ErrorInternal
		}
		vault.Blob = blob
	}
	return vault, nil
}

// UploadParams is one candidate revision. StatedCurrentRevision is the
// revision the client based its changes on.
type UploadParams struct {
	UserID                string
	StatedCurrentRevision int64
	Blob                  []byte
	Version               int64
	EncryptionType        string
	EncryptionSettings    json.RawMessage
}

// Upload accepts the revision iff the client's stated revision is still
// current. Stale uploads get ErrVaultOutdated and the client is expected
// to fetch, merge and try again.
func (s *VaultService) Upload(ctx context.Context, p UploadParams) (*models.Vault, error) {
	latest, err := s.repomanager.Vaults(s.db).GetLatestRevision(ctx, p.UserID)
	if err != nil {
		return nil, common.ErrorInternal
	}
	if p.StatedCurrentRevision != latest {
		return nil, common.ErrVaultOutdated
	}

	vault := &models.Vault{
		UserID:             p.UserID,
		Blob:               p.Blob,
		RevisionNumber:     latest + 1,
		Version:            p.Version,
		EncryptionType:     p.EncryptionType,
		EncryptionSettings: p.EncryptionSettings,
	}
	stored, err := s.insertRevision(ctx, s.db, vault)
	if err != nil {
		if errors.Is(err, common.ErrVaultOutdated) {
			// lost the race between the revision check and the insert
			return nil, common.ErrVaultOutdated
		}
		return nil, common.ErrorInternal
	}
	return stored, nil
}

// insertRevision persists one revision through the configured backend.
// With an object store the row keeps only the key; the object is written
// first so a failed insert leaves nothing dangling in the row.
func (s *VaultService) insertRevision(ctx context.Context, db dbx.DBTX, vault *models.Vault) (*models.Vault, error) {
	if s.blobs != nil && len(vault.Blob) > 0 {
		key := GetRandomStorageKey(vault.UserID)
		if err := s.blobs.Put(ctx, key, vault.Blob); err != nil {
			return nil, err
		}
		vault.StorageKey = key
		vault.Blob = []byte{}
	}
	return s.repomanager.Vaults(db).Insert(ctx, vault)
}

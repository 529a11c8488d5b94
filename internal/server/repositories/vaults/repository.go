package vaults

import (
	"context"

	"github.com/okulov/vaultsync/internal/server/models"
)

type Repository interface {
	// GetLatest returns the authoritative (highest-revision) vault row
	// for the user.
	GetLatest(ctx context.Context, userID string) (*models.Vault, error)

	// GetLatestRevision returns only the number of the authoritative
	// revision, 0 when the user has no vault yet.
	GetLatestRevision(ctx context.Context, userID string) (int64, error)

	// Insert stores a new revision. The (user_id, revision_number) pair
	// is unique; inserting a revision that already exists fails with
	// common.ErrVaultOutdated, which doubles as the compare-and-swap
	// guard against concurrent uploads.
	Insert(ctx context.Context, vault *models.Vault) (*models.Vault, error)
}

package vaults

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okulov/vaultsync/internal/common"
	"github.com/okulov/vaultsync/internal/server/models"
)

// InMemoryRepository is the testing double for the Postgres repository.
type InMemoryRepository struct {
	mu sync.Mutex
	// revisions per user, ordered by insertion
	byUser map[string][]*models.Vault
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{byUser: make(map[string][]*models.Vault)}
}

func cloneVault(v *models.Vault) *models.Vault {
	c := *v
	c.Blob = append([]byte(nil), v.Blob...)
	c.EncryptionSettings = append([]byte(nil), v.EncryptionSettings...)
	return &c
}

func (r *InMemoryRepository) GetLatest(ctx context.Context, userID string) (*models.Vault, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *models.Vault
	for _, v := range r.byUser[userID] {
		if latest == nil || v.RevisionNumber > latest.RevisionNumber {
			latest = v
		}
	}
	if latest == nil {
		return nil, common.ErrorNotFound
	}
	return cloneVault(latest), nil
}

func (r *InMemoryRepository) GetLatestRevision(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var max int64
	for _, v := range r.byUser[userID] {
		if v.RevisionNumber > max {
			max = v.RevisionNumber
		}
	}
	return max, nil
}

func (r *InMemoryRepository) Insert(ctx context.Context, vault *models.Vault) (*models.Vault, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, v := range r.byUser[vault.UserID] {
		if v.RevisionNumber == vault.RevisionNumber {
			return nil, common.ErrVaultOutdated
		}
	}

	stored := cloneVault(vault)
	stored.ID = uuid.NewString()
	stored.CreatedAt = time.Now()
	r.byUser[vault.UserID] = append(r.byUser[vault.UserID], stored)

	return cloneVault(stored), nil
}

package users

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okulov/vaultsync/internal/common"
	"github.com/okulov/vaultsync/internal/server/models"
)

// InMemoryRepository is the testing double for the Postgres repository.
type InMemoryRepository struct {
	mu       sync.Mutex
	users    map[string]*models.User // by id
	recovery map[string][]*models.RecoveryCode
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		users:    make(map[string]*models.User),
		recovery: make(map[string][]*models.RecoveryCode),
	}
}

func clone(u *models.User) *models.User {
	c := *u
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		c.LockedUntil = &t
	}
	return &c
}

func (r *InMemoryRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Username == user.Username {
			return nil, common.ErrorAlreadyExists
		}
	}

	user.ID = uuid.NewString()
	user.CreatedAt = time.Now()
	r.users[user.ID] = clone(user)
	return user, nil
}

func (r *InMemoryRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Username == username {
			return clone(u), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clone(u), nil
}

func (r *InMemoryRepository) UpdateLockState(ctx context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return common.ErrorNotFound
	}
	u.FailedAttempts = failedAttempts
	u.LockedUntil = lockedUntil
	return nil
}

func (r *InMemoryRepository) UpdateAuth(ctx context.Context, userID string, salt, verifier []byte, kdfType string, kdfSettings json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return common.ErrorNotFound
	}
	u.Salt = salt
	u.Verifier = verifier
	u.KDFType = kdfType
	u.KDFSettings = kdfSettings
	return nil
}

func (r *InMemoryRepository) SetTOTPSecret(ctx context.Context, userID, secret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return common.ErrorNotFound
	}
	u.TOTPSecret = secret
	return nil
}

func (r *InMemoryRepository) AddRecoveryCodes(ctx context.Context, userID string, codeHashes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range codeHashes {
		r.recovery[userID] = append(r.recovery[userID], &models.RecoveryCode{UserID: userID, CodeHash: h})
	}
	return nil
}

func (r *InMemoryRepository) ConsumeRecoveryCode(ctx context.Context, userID, codeHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.recovery[userID] {
		if c.CodeHash == codeHash && c.UsedAt == nil {
			now := time.Now()
			c.UsedAt = &now
			return true, nil
		}
	}
	return false, nil
}

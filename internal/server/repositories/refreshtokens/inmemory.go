package refreshtokens

import (
	"context"
	"sync"

	"github.com/okulov/vaultsync/internal/common"
	"github.com/okulov/vaultsync/internal/server/models"
)

// InMemoryRepository is the testing double for the Postgres repository.
type InMemoryRepository struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{tokens: make(map[string]*models.RefreshToken)}
}

func (r *InMemoryRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *token
	r.tokens[token.Token] = &c
	return nil
}

func (r *InMemoryRepository) Get(ctx context.Context, token string) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.tokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *rt
	return &c, nil
}

func (r *InMemoryRepository) Delete(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tokens, token)
	return nil
}

func (r *InMemoryRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for t, rt := range r.tokens {
		if rt.UserID == userID {
			delete(r.tokens, t)
		}
	}
	return nil
}

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/okulov/vaultsync/internal/server/models"
)

// InMemoryRepository is the testing double for the Postgres repository.
type InMemoryRepository struct {
	mu     sync.Mutex
	events []*models.AuditEvent
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

func (r *InMemoryRepository) Append(ctx context.Context, event *models.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var prev string
	if n := len(r.events); n > 0 {
		prev = r.events[n-1].Hash
	}
	event.Hash = chainHash(prev, event)
	event.ID = int64(len(r.events) + 1)

	c := *event
	r.events = append(r.events, &c)
	return nil
}

func (r *InMemoryRepository) Last(ctx context.Context, limit int) ([]*models.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.AuditEvent
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		c := *r.events[i]
		out = append(out, &c)
	}
	return out, nil
}

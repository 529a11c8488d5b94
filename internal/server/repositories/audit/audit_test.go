package audit

import (
	"context"
	"testing"

	"github.com/okulov/vaultsync/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendChainsHashes(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()

	for _, name := range []string{"alice", "bob", "alice"} {
		err := repo.Append(ctx, &models.AuditEvent{
			Username: name,
			Event:    models.AuditLoginFinish,
			Outcome:  models.AuditFailed,
			Origin:   "127.0.0.1",
		})
		require.NoError(t, err)
	}

	events, err := repo.Last(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// events come newest first; replay the chain oldest first
	prev := ""
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		assert.Equal(t, chainHash(prev, e), e.Hash)
		prev = e.Hash
	}
}

func TestTamperingBreaksChain(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()

	require.NoError(t, repo.Append(ctx, &models.AuditEvent{Username: "alice", Event: models.AuditLoginFinish, Outcome: models.AuditOK}))
	require.NoError(t, repo.Append(ctx, &models.AuditEvent{Username: "alice", Event: models.AuditLockout, Outcome: models.AuditLocked}))

	events, err := repo.Last(ctx, 10)
	require.NoError(t, err)

	oldest := events[len(events)-1]
	oldest.Outcome = models.AuditFailed
	assert.NotEqual(t, chainHash("", oldest), oldest.Hash)
}

func TestLastHonorsLimit(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Append(ctx, &models.AuditEvent{Username: "alice", Event: models.AuditTokenRefresh, Outcome: models.AuditOK}))
	}

	events, err := repo.Last(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(5), events[0].ID)
	assert.Equal(t, int64(4), events[1].ID)
}

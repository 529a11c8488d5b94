// Package audit stores an append-only, hash-chained log of authentication
// attempts. Each event's hash covers the previous event's hash, so a
// truncated or edited log no longer verifies.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/okulov/vaultsync/internal/server/models"
)

type Repository interface {
	// Append chains the event to the current tail and stores it. The
	// Hash and ID fields of the argument are filled in.
	Append(ctx context.Context, event *models.AuditEvent) error

	// Last returns up to limit most recent events, newest first.
	Last(ctx context.Context, limit int) ([]*models.AuditEvent, error)
}

// chainHash derives the hash of an event given its predecessor's hash.
// The empty string seeds the chain for the first event.
func chainHash(prev string, e *models.AuditEvent) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%d",
		prev, e.Username, e.Event, e.Outcome, e.Origin, e.CreatedAt.UnixMilli())
	return hex.EncodeToString(h.Sum(nil))
}

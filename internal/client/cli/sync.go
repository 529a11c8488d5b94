package cli

import (
	"context"
	"fmt"

	"github.com/okulov/vaultsync/internal/client/session"
)

// Sync runs a full reconcile cycle, printing each stage as the event
// channel delivers it.
func (a *App) Sync(ctx context.Context) error {
	for ev := range a.session.Sync(ctx) {
		switch e := ev.(type) {
		case session.SyncProgress:
			fmt.Printf("... %s\n", e.Stage)
		case session.SyncSuccess:
			if e.HasNewVault {
				fmt.Printf("Synced: pulled remote changes, now at revision %d.\n", e.Revision)
			} else {
				fmt.Printf("Synced: revision %d.\n", e.Revision)
			}
		case session.SyncFailure:
			return e.Reason
		}
	}
	return nil
}

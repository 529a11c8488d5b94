package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/okulov/vaultsync/internal/client/api"
	"github.com/okulov/vaultsync/internal/client/merge"
	"github.com/okulov/vaultsync/internal/client/vaultdb"
	"github.com/okulov/vaultsync/internal/common"
	"github.com/okulov/vaultsync/internal/cryptox"
)

// SyncStage identifies the step a running sync is in.
type SyncStage int

const (
	StageCheckingStatus SyncStage = iota + 1
	StageFetching
	StageMerging
	StageUploading
)

func (s SyncStage) String() string {
	switch s {
	case StageCheckingStatus:
		return "checking status"
	case StageFetching:
		return "fetching vault"
	case StageMerging:
		return "merging"
	case StageUploading:
		return "uploading"
	default:
		return "unknown"
	}
}

// SyncResult is the event type emitted over the channel Sync returns:
// any number of SyncProgress values followed by exactly one terminal
// SyncSuccess or SyncFailure.
type SyncResult interface{ syncResult() }

type SyncProgress struct{ Stage SyncStage }

// SyncSuccess is the terminal event of a completed sync. HasNewVault is
// true when the server held changes the local copy did not.
type SyncSuccess struct {
	HasNewVault bool
	Revision    int64
}

type SyncFailure struct{ Reason error }

func (SyncProgress) syncResult() {}
func (SyncSuccess) syncResult()  {}
func (SyncFailure) syncResult()  {}

// CAS races with other devices are retried from the fetch step this
// many times before giving up.
const maxUploadAttempts = 3

// Sync reconciles the local vault with the server: status check, fetch
// and merge when the server is ahead, then a compare-and-swap upload.
// It returns immediately; progress and the terminal result arrive on
// the returned channel, which is closed after the terminal event. The
// mutation lock is held for the whole run.
func (s *Session) Sync(ctx context.Context) <-chan SyncResult {
	events := make(chan SyncResult, 8)
	go func() {
		defer close(events)
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.key == nil {
			events <- SyncFailure{Reason: common.ErrorUnauthorized}
			return
		}
		res := s.syncLocked(ctx, events)
		events <- res
	}()
	return events
}

// SyncWait runs Sync and blocks until the terminal event, discarding
// progress. Convenience for callers that do not render progress.
func (s *Session) SyncWait(ctx context.Context) (SyncSuccess, error) {
	var last SyncResult
	for ev := range s.Sync(ctx) {
		last = ev
	}
	switch t := last.(type) {
	case SyncSuccess:
		return t, nil
	case SyncFailure:
		return SyncSuccess{}, t.Reason
	default:
		return SyncSuccess{}, fmt.Errorf("sync ended without terminal event")
	}
}

func (s *Session) syncLocked(ctx context.Context, events chan<- SyncResult) SyncResult {
	events <- SyncProgress{Stage: StageCheckingStatus}

	st, err := s.statusWithRetry(ctx)
	if err != nil {
		if errors.Is(err, common.ErrServerUnavailable) {
			s.online.Store(false)
			s.log.Warn(ctx, "server unreachable, staying on local copy")
		}
		return SyncFailure{Reason: err}
	}
	s.online.Store(true)

	if !st.ClientVersionSupported {
		return SyncFailure{Reason: common.ErrPendingMigrations}
	}

	serverRev := st.VaultRevision
	hasNew := false

	for attempt := 0; attempt < maxUploadAttempts; attempt++ {
		if serverRev > s.revision {
			events <- SyncProgress{Stage: StageFetching}
			merged, err := s.fetchAndMerge(ctx, events)
			if err != nil {
				return SyncFailure{Reason: err}
			}
			hasNew = hasNew || merged
		}

		events <- SyncProgress{Stage: StageUploading}
		blob, settings, err := sealSnapshot(ctx, s.db, s.key)
		if err != nil {
			return SyncFailure{Reason: err}
		}
		version, err := s.db.SchemaVersion(ctx)
		if err != nil {
			return SyncFailure{Reason: err}
		}

		newRev, err := s.api.UploadVault(ctx, api.UploadParams{
			StatedCurrentRevision: serverRev,
			Blob:                  blob,
			Version:               version,
			EncryptionType:        cryptox.CipherAES256GCM,
			EncryptionSettings:    settings,
		})
		switch {
		case err == nil:
			s.revision = newRev
			s.log.Info(ctx, "vault synced", "revision", newRev, "pulled", hasNew)
			return SyncSuccess{HasNewVault: hasNew, Revision: newRev}
		case errors.Is(err, common.ErrVaultOutdated):
			// Another device won the race. Re-read the counter and go
			// back through fetch and merge.
			st, err := s.statusWithRetry(ctx)
			if err != nil {
				return SyncFailure{Reason: err}
			}
			serverRev = st.VaultRevision
		case errors.Is(err, common.ErrServerUnavailable):
			s.online.Store(false)
			return SyncFailure{Reason: err}
		default:
			return SyncFailure{Reason: err}
		}
	}
	return SyncFailure{Reason: common.ErrVaultOutdated}
}

// statusWithRetry polls /status, retrying transport failures with
// fibonacci backoff. Rejected requests are returned as-is.
func (s *Session) statusWithRetry(ctx context.Context) (*api.Status, error) {
	var st *api.Status
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		st, err = s.api.Status(ctx)
		if errors.Is(err, common.ErrServerUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// fetchAndMerge downloads the server copy, decrypts it with the session
// key, materializes it to a temp file, and folds it into the local
// database. Reports whether anything was fetched.
func (s *Session) fetchAndMerge(ctx context.Context, events chan<- SyncResult) (bool, error) {
	v, err := s.api.FetchVault(ctx)
	if err != nil {
		return false, err
	}
	if len(v.Blob) == 0 {
		return false, nil
	}

	plain, err := cryptox.Decrypt(v.Blob, s.key)
	if err != nil {
		return false, err
	}

	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("vaultsync-fetch-%d.db", time.Now().UnixNano()))
	if err := vaultdb.WriteSnapshot(tmp, plain); err != nil {
		return false, err
	}
	defer func() {
		os.Remove(tmp)
		os.Remove(tmp + "-wal")
		os.Remove(tmp + "-shm")
	}()

	// Opening the snapshot surfaces ErrPendingMigrations when it was
	// written by a newer client; merging it here would corrupt rows the
	// running schema does not understand.
	fetched, err := vaultdb.Open(ctx, tmp)
	if err != nil {
		return false, err
	}
	if err := fetched.Close(); err != nil {
		return false, err
	}

	events <- SyncProgress{Stage: StageMerging}
	if err := merge.Into(ctx, s.db, tmp); err != nil {
		return false, err
	}
	return true, nil
}

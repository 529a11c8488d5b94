package session

import (
	"context"
	"errors"
	"time"

	"github.com/okulov/vaultsync/internal/common"
)

// Watch probes server reachability every cfg.OnlineCheckInterval and
// keeps the Online flag current until ctx is cancelled. Any answered
// request counts as online, even a rejected one; only transport
// failures flip the flag off.
func (s *Session) Watch(ctx context.Context) {
	interval := s.cfg.OnlineCheckInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := s.api.Status(ctx)
			reachable := !errors.Is(err, common.ErrServerUnavailable)
			if s.online.Swap(reachable) != reachable {
				s.log.Info(ctx, "connectivity changed", "online", reachable)
			}
		}
	}
}

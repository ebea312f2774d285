package gossip

import (
	"context"
	"time"
)

// RunExpiryLoop polls for stale rounds every interval until ctx is
// cancelled, adapted from the teacher's wait-for-downloader ticker-poll
// pattern: a ticker fires, the condition is checked, and the loop exits
// cleanly on cancellation rather than leaking a goroutine.
func (sm *StateMachine) RunExpiryLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sm.ExpireStale(now)
		}
	}
}

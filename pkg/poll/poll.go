// Package poll holds the sleep primitive shared by the synchronous polling
// loops (rollout supervision and migration jobs).
package poll

import (
	"context"
	"time"

	"k8s.io/utils/clock"
)

// Sleep suspends for d on clk, returning early with ctx.Err() when ctx is
// cancelled first.
func Sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	t := clk.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

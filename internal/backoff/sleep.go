package backoff

import (
	"context"
	"time"
)

// Sleep waits for duration, respecting context cancellation. Returns nil
// when the sleep completed, or ctx.Err().
func Sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

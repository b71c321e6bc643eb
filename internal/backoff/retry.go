package backoff

import (
	"context"
	"errors"
)

// ErrMaxAttemptsExhausted is returned when every retry attempt failed.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// Retry runs fn up to maxAttempts times, sleeping between attempts per the
// policy. Used for transient storage failures; the caller surfaces the
// error to the user once attempts run out. Context cancellation is checked
// between attempts.
func Retry(ctx context.Context, policy Policy, maxAttempts int, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxAttempts-1 {
			if err := Sleep(ctx, policy.Delay(attempt)); err != nil {
				return err
			}
		}
	}
	return errors.Join(ErrMaxAttemptsExhausted, lastErr)
}

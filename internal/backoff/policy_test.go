package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rinlabs/rin/pkg/models"
)

func TestDelayDoublesAndCaps(t *testing.T) {
	p := Policy{Base: time.Second, Max: 5 * time.Second, Factor: 2}
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{10, 5 * time.Second},
		{-1, time.Second},
	}
	for _, tc := range tests {
		if got := p.Delay(tc.retryCount); got != tc.want {
			t.Errorf("Delay(%d) = %s, want %s", tc.retryCount, got, tc.want)
		}
	}
}

func TestFromRetryPolicy(t *testing.T) {
	fallback := DefaultPolicy()
	if got := FromRetryPolicy(nil, fallback); got != fallback {
		t.Fatalf("FromRetryPolicy(nil) = %+v, want fallback", got)
	}
	got := FromRetryPolicy(&models.RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute}, fallback)
	if got.Base != time.Second || got.Max != time.Minute {
		t.Fatalf("FromRetryPolicy() = %+v", got)
	}
	partial := FromRetryPolicy(&models.RetryPolicy{BaseDelay: 2 * time.Second}, fallback)
	if partial.Max != fallback.Max {
		t.Fatalf("unset max not taken from fallback: %+v", partial)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	p := Policy{Base: time.Millisecond, Max: time.Millisecond, Factor: 2}
	calls := 0
	err := Retry(context.Background(), p, 3, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	p := Policy{Base: time.Millisecond, Max: time.Millisecond, Factor: 2}
	sentinel := errors.New("down")
	err := Retry(context.Background(), p, 2, func() error { return sentinel })
	if !errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Fatalf("Retry() error = %v, want ErrMaxAttemptsExhausted", err)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("Retry() error lost the last failure: %v", err)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, DefaultPolicy(), 3, func() error { return errors.New("never") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry() error = %v, want context.Canceled", err)
	}
}

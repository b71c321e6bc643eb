// Package backoff computes retry delays for failed item executions. The
// policy is data-driven: the executor reads it from operation metadata or
// the engine config, never from ad-hoc sleeps.
package backoff

import (
	"math"
	"time"

	"github.com/rinlabs/rin/pkg/models"
)

// Policy defines exponential backoff parameters.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// Max caps the computed delay.
	Max time.Duration

	// Factor is the exponential growth factor per retry.
	Factor float64
}

// DefaultPolicy returns the engine default: 30s base, 30m cap, doubling.
func DefaultPolicy() Policy {
	return Policy{Base: 30 * time.Second, Max: 30 * time.Minute, Factor: 2}
}

// FromRetryPolicy converts an operation-level retry descriptor, falling
// back to fallback for unset fields.
func FromRetryPolicy(rp *models.RetryPolicy, fallback Policy) Policy {
	if rp == nil {
		return fallback
	}
	p := fallback
	if rp.BaseDelay > 0 {
		p.Base = rp.BaseDelay
	}
	if rp.MaxDelay > 0 {
		p.Max = rp.MaxDelay
	}
	return p
}

// Delay computes the backoff for retryCount completed failures:
// base·factor^retryCount, capped at max. retryCount 0 yields the base.
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	factor := p.Factor
	if factor <= 1 {
		factor = 2
	}
	delay := float64(p.Base) * math.Pow(factor, float64(retryCount))
	if p.Max > 0 && delay > float64(p.Max) {
		return p.Max
	}
	return time.Duration(delay)
}

package service

import (
	"math/rand/v2"
	"time"

	"github.com/timmy/confingest/internal/domain"
)

// RetryPolicy decides when a failed job runs again.
type RetryPolicy struct {
	// Backoff[i] is the base delay before retry i+1.
	Backoff []time.Duration
	// Jitter is the maximum relative deviation applied to each delay.
	Jitter     float64
	MaxRetries int

	rand func() float64
}

// DefaultRetryPolicy waits 60s, 180s then 600s, each +/-20%.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Backoff:    []time.Duration{60 * time.Second, 180 * time.Second, 600 * time.Second},
		Jitter:     0.2,
		MaxRetries: domain.MaxRetries,
	}
}

// CanRetry reports whether a job that already made retriesMade retries
// may be retried again.
func (p RetryPolicy) CanRetry(retriesMade int) bool {
	return retriesMade < p.MaxRetries
}

// Delay returns the jittered wait before the next retry.
func (p RetryPolicy) Delay(retriesMade int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	i := retriesMade
	if i < 0 {
		i = 0
	}
	if i >= len(p.Backoff) {
		i = len(p.Backoff) - 1
	}
	base := p.Backoff[i]
	if p.Jitter <= 0 {
		return base
	}
	r := p.rand
	if r == nil {
		r = rand.Float64
	}
	factor := 1 + p.Jitter*(2*r()-1)
	return time.Duration(float64(base) * factor)
}

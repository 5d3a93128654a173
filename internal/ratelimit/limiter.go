package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces remote mutations to stay under the provider's burst quota.
// It is a token bucket with a burst of one, which makes it a fixed-interval
// limiter of 1/callsPerSecond between calls.
type Limiter struct {
	limiter *rate.Limiter
}

// New returns a limiter allowing callsPerSecond calls. A non-positive rate
// disables limiting.
func New(callsPerSecond float64) *Limiter {
	if callsPerSecond <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(callsPerSecond), 1)}
}

// Wait blocks until the next call is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// Interval is the minimum spacing between calls.
func (l *Limiter) Interval() time.Duration {
	if l == nil || l.limiter.Limit() == rate.Inf {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(l.limiter.Limit()))
}

package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy retries transient failures with exponential backoff.
type Policy struct {
	Attempts        int // total attempts including the first; values below 1 mean 1
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Transient reports whether an error is worth retrying. Nil retries nothing.
	Transient func(error) bool
	Logger    *slog.Logger
}

// DefaultPolicy is three attempts starting at 500ms.
func DefaultPolicy(logger *slog.Logger, attempts int, transient func(error) bool) Policy {
	return Policy{
		Attempts:        attempts,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Transient:       transient,
		Logger:          logger,
	}
}

// Do runs fn until it succeeds, returns a non-transient error, the attempts
// are exhausted, or ctx is done. The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	operation := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if p.Transient == nil || !p.Transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if p.Logger != nil {
			p.Logger.Warn("Transient remote error, retrying.", "op", op, "wait", wait, "error", err)
		}
	}
	return backoff.RetryNotify(operation, b, notify)
}

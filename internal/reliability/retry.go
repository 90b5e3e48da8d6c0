package reliability

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryConfig parameterizes exponential backoff with jitter.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	CapDelay    time.Duration
	Jitter      bool
	// Retryable reports whether err should be retried. Nil means retry
	// everything.
	Retryable func(err error) bool
}

// errNonRetryable wraps an error the Retryable predicate rejected so callers
// can distinguish "gave up after N attempts" from "refused to retry".
type errNonRetryable struct{ err error }

func (e *errNonRetryable) Error() string { return e.err.Error() }
func (e *errNonRetryable) Unwrap() error { return e.err }

// Retry runs fn, retrying on failure per cfg until it succeeds, a
// non-retryable error occurs, MaxAttempts is exhausted, or ctx is
// cancelled. It logs nothing itself; callers typically wrap fn with a
// CircuitBreaker.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := cfg.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}
	mult := cfg.Multiplier
	if mult <= 0 {
		mult = 2
	}
	cap := cfg.CapDelay
	if cap <= 0 {
		cap = 60 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			return err
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return &errNonRetryable{err: err}
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		wait := delay
		if cfg.Jitter {
			wait = time.Duration(float64(delay) * (0.5 + rand.Float64()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay = time.Duration(float64(delay) * mult)
		if delay > cap {
			delay = cap
		}
	}
	return lastErr
}

// RetryForever retries fn with exponential backoff doubling from BaseDelay
// up to CapDelay, indefinitely, until fn succeeds or ctx is cancelled. Used
// for long-lived connection loops where giving up is never correct.
func RetryForever(ctx context.Context, base, cap time.Duration, fn func(ctx context.Context) error) error {
	delay := base
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > cap {
			delay = cap
		}
	}
}

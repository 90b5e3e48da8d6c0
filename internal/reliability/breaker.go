// Package reliability provides the circuit breaker, retry, and health
// monitor primitives used to wrap every I/O boundary in this module.
package reliability

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState is one of the three circuit-breaker states.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// ErrCircuitOpen is returned without executing the wrapped call when the
// breaker is open and its timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("reliability: circuit open")

// BreakerConfig parameterizes a CircuitBreaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before closed->open
	SuccessThreshold int           // consecutive successes before half_open->closed
	Timeout          time.Duration // open->half_open delay since last failure
}

// CircuitBreaker implements the closed/open/half-open state machine.
// All state transitions happen under a single lock; callbacks
// (none here) would be invoked outside it.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{name: name, cfg: cfg, state: StateClosed}
}

// State returns the current state under lock.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the breaker's configured name.
func (b *CircuitBreaker) Name() string { return b.name }

// allow reports whether a call may proceed, transitioning open->half_open
// if the timeout has elapsed.
func (b *CircuitBreaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailureTime) >= b.cfg.Timeout {
			b.state = StateHalfOpen
			b.successCount = 0
			return nil
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (b *CircuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
		}
	case StateClosed:
		b.failureCount = 0
	}
}

func (b *CircuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = time.Now()
	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.failureCount = b.cfg.FailureThreshold
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = StateOpen
		}
	}
}

// Call executes fn if the breaker permits it, recording the outcome.
// Returns ErrCircuitOpen without invoking fn if the breaker is open.
func (b *CircuitBreaker) Call(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// CallContext is Call for functions that accept a context.
func (b *CircuitBreaker) CallContext(ctx context.Context, fn func(context.Context) error) error {
	return b.Call(func() error { return fn(ctx) })
}

// Package circuit provides a per-dependency circuit breaker. Each gateway owns
// its own Breaker instance; there is no shared global state.
package circuit

import (
	"context"
	"sync"
	"time"

	"attesta/pkg/platform/sentinel"
)

// State is the breaker's current disposition toward the primary dependency.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// StateChange reports a transition caused by a recorded outcome, so callers
// can log or count open/close events exactly once.
type StateChange struct {
	Opened bool
	Closed bool
}

// Breaker tracks consecutive failures against a dependency:
// - Open after N consecutive failures; while open, calls fail fast.
// - After the reset timeout, let probe calls through (half-open).
// - Close again after M consecutive successful calls.
type Breaker struct {
	name string

	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	callTimeout      time.Duration
	resetTimeout     time.Duration
	openedAt         time.Time
	isFailure        func(error) bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many consecutive successes close an open circuit.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// WithCallTimeout bounds each call made through Do. A timed-out call counts
// as a failure.
func WithCallTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.callTimeout = d
		}
	}
}

// WithResetTimeout sets how long an open circuit blocks calls before probe
// calls are let through again.
func WithResetTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.resetTimeout = d
		}
	}
}

// WithFailureFilter decides which errors count against the failure threshold.
// Business outcomes like not-found travel as errors but say nothing about the
// dependency's health; filter them out so they cannot open the circuit.
func WithFailureFilter(isFailure func(error) bool) Option {
	return func(b *Breaker) {
		if isFailure != nil {
			b.isFailure = isFailure
		}
	}
}

// New constructs a closed Breaker named after the dependency it guards.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		state:            StateClosed,
		failureThreshold: 5,
		successThreshold: 3,
		callTimeout:      10 * time.Second,
		resetTimeout:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

// State returns the current state. An open circuit whose reset timeout has
// elapsed reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// IsOpen reports whether calls should be treated as degraded.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateOpen
}

// allow reports whether a call may proceed: always when closed, and as a
// probe once the reset timeout has elapsed while open.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateClosed {
		return true
	}
	return time.Since(b.openedAt) >= b.resetTimeout
}

// RecordFailure notes a failed call. It returns true when callers should use
// their fallback (circuit open), and a StateChange when this failure opened it.
func (b *Breaker) RecordFailure() (bool, StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.successCount = 0
	if b.state == StateOpen {
		b.openedAt = time.Now()
		return true, StateChange{}
	}
	if b.failureCount >= b.failureThreshold {
		b.state = StateOpen
		b.openedAt = time.Now()
		return true, StateChange{Opened: true}
	}
	return false, StateChange{}
}

// RecordSuccess notes a successful call. It returns true when callers should
// use the primary path (circuit closed), and a StateChange when this success
// closed it.
func (b *Breaker) RecordSuccess() (bool, StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen {
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
			return true, StateChange{Closed: true}
		}
		return false, StateChange{}
	}
	b.failureCount = 0
	return true, StateChange{}
}

// Reset force-closes the circuit and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
}

// Do runs fn through the breaker: fail fast with sentinel.ErrCircuitOpen while
// the circuit is open, bound the call with the configured timeout, and record
// the outcome. A context deadline expiry counts as a failure like any other
// error.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		return sentinel.ErrCircuitOpen
	}
	if b.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
	}
	if err := fn(ctx); err != nil {
		if b.isFailure == nil || b.isFailure(err) {
			b.RecordFailure()
		}
		return err
	}
	b.RecordSuccess()
	return nil
}

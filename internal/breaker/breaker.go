// Package breaker guards calls to a flaky upstream with a circuit breaker
// that retries, times out and falls back.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is handed to the fallback when a call is short-circuited.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrCallTimeout is reported when an attempt exceeds Config.CallTimeout.
	ErrCallTimeout = errors.New("circuit breaker call timed out")
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed lets calls through and counts failures.
	StateClosed State = iota
	// StateOpen short-circuits every call to the fallback.
	StateOpen
	// StateHalfOpen lets a single probe through to test recovery.
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

// Config holds the configuration for a circuit breaker.
type Config struct {
	// MaxFailures is the number of consecutive failed calls that trips the breaker.
	MaxFailures int
	// CallTimeout bounds a single attempt; zero means no bound.
	CallTimeout time.Duration
	// ResetTimeout is how long the breaker stays open before admitting a probe.
	ResetTimeout time.Duration
	// MaxRetries is the number of immediate retries within one call.
	MaxRetries int
	// OnStateChange is called after every transition, outside the breaker lock.
	OnStateChange func(from, to State)
}

// DefaultConfig returns the thresholds the proxy has always run with.
func DefaultConfig() Config {
	return Config{
		MaxFailures:  3,
		CallTimeout:  2 * time.Second,
		ResetTimeout: time.Second,
		MaxRetries:   3,
	}
}

// Stats holds statistics about the circuit breaker.
type Stats struct {
	State          State
	ConsecFailures int
	OpenedAt       time.Time
	TotalCalls     int64
	TotalSuccesses int64
	TotalFailures  int64
	TotalRejected  int64
}

// CircuitBreaker is one breaker shared by every caller of an upstream.
type CircuitBreaker struct {
	mu     sync.Mutex
	config Config
	now    func() time.Time

	state          State
	consecFailures int
	openedAt       time.Time
	probing        bool

	totalCalls     int64
	totalSuccesses int64
	totalFailures  int64
	totalRejected  int64
}

// New creates a closed circuit breaker.
func New(config Config) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 1
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &CircuitBreaker{
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed still reports open until the next call probes it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns the current statistics.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		State:          cb.state,
		ConsecFailures: cb.consecFailures,
		OpenedAt:       cb.openedAt,
		TotalCalls:     cb.totalCalls,
		TotalSuccesses: cb.totalSuccesses,
		TotalFailures:  cb.totalFailures,
		TotalRejected:  cb.totalRejected,
	}
}

// Reset forces the breaker closed and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.consecFailures = 0
	cb.probing = false
	cb.mu.Unlock()
	cb.notify(from, StateClosed)
}

// allow decides whether a call may run. probe is true for the single call
// admitted while half-open.
func (cb *CircuitBreaker) allow() (admitted, probe bool) {
	cb.mu.Lock()
	from := cb.state
	cb.totalCalls++

	switch cb.state {
	case StateClosed:
		admitted = true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.config.ResetTimeout {
			cb.state = StateHalfOpen
			cb.probing = true
			admitted, probe = true, true
		}
	case StateHalfOpen:
		// a cancelled probe leaves the slot free
		if !cb.probing {
			cb.probing = true
			admitted, probe = true, true
		}
	}
	if !admitted {
		cb.totalRejected++
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return admitted, probe
}

func (cb *CircuitBreaker) recordSuccess(probe bool) {
	cb.mu.Lock()
	from := cb.state
	cb.totalSuccesses++
	cb.consecFailures = 0
	if probe {
		cb.probing = false
		cb.state = StateClosed
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

func (cb *CircuitBreaker) recordFailure(probe bool) {
	cb.mu.Lock()
	from := cb.state
	cb.totalFailures++
	cb.consecFailures++

	switch {
	case probe:
		cb.probing = false
		cb.state = StateOpen
		cb.openedAt = cb.now()
	case cb.state == StateClosed && cb.consecFailures >= cb.config.MaxFailures:
		cb.state = StateOpen
		cb.openedAt = cb.now()
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

// recordAbandoned releases a probe slot when the caller went away before
// the upstream gave an answer. Nothing is counted against the upstream.
func (cb *CircuitBreaker) recordAbandoned(probe bool) {
	if !probe {
		return
	}
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// Execute runs op through the breaker and always returns a value: either
// op's result or fallback's. fallback receives the error that made the call
// give up (ErrCircuitOpen when op was never attempted).
//
// An admitted call makes up to 1+MaxRetries attempts, each bounded by
// CallTimeout, and counts as a single failure once they are exhausted.
// If ctx is done the call is abandoned without counting a failure.
func Execute[T any](ctx context.Context, cb *CircuitBreaker, op func(context.Context) (T, error), fallback func(error) T) T {
	admitted, probe := cb.allow()
	if !admitted {
		return fallback(ErrCircuitOpen)
	}

	var err error
	for attempt := 0; attempt <= cb.config.MaxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			cb.recordAbandoned(probe)
			return fallback(ctxErr)
		}

		var result T
		result, err = runAttempt(ctx, cb.config.CallTimeout, op)
		if err == nil {
			cb.recordSuccess(probe)
			return result
		}
		if ctx.Err() != nil {
			cb.recordAbandoned(probe)
			return fallback(err)
		}
	}

	cb.recordFailure(probe)
	return fallback(err)
}

// runAttempt runs op once. op runs in its own goroutine so that an operation
// ignoring its context still returns control to the caller on timeout.
func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("breaker: operation panicked: %v", p)}
			}
		}()
		v, err := op(callCtx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return o.value, fmt.Errorf("%w: %w", ErrCallTimeout, o.err)
		}
		return o.value, o.err
	case <-callCtx.Done():
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, ErrCallTimeout
	}
}

// Package circuit provides circuit breaker pattern implementation for handling failures gracefully.
package circuit

import (
	"sync"
	"time"

	"github.com/resilient-systems/wireline/internal/errors"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed indicates the circuit breaker is closed and requests are allowed through.
	StateClosed State = iota
	// StateOpen indicates the circuit breaker is open and requests are rejected.
	StateOpen
	// StateHalfOpen indicates the circuit breaker is half-open and testing if requests should be allowed.
	StateHalfOpen
)

// String returns the string representation of the state.
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

// autoRecoveryCheckInterval is how often the background goroutine checks for
// the open-to-half-open transition.
const autoRecoveryCheckInterval = 100 * time.Millisecond

// Stats is a point-in-time view of breaker counters.
type Stats struct {
	State         string `json:"state"`
	Failures      int    `json:"failures"`
	Successes     int    `json:"successes"`
	RejectedCalls uint64 `json:"rejected_calls"`
	StateChanges  uint64 `json:"state_changes"`
}

// Breaker implements the circuit breaker pattern. Construct with NewBreaker
// and call Close when done to stop the auto-recovery goroutine.
type Breaker struct {
	name             string
	maxFailures      int
	successThreshold int
	resetTimeout     time.Duration
	halfOpenMaxCalls int

	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	halfOpenCalls   int
	rejectedCalls   uint64
	stateChanges    uint64
	lastFailureTime time.Time
	lastStateChange time.Time

	// Called outside the critical section after every transition.
	onStateChange func(name string, state State)

	// Auto-recovery support
	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithStateChangeHook registers a callback invoked after state transitions,
// typically to mirror the state into metrics.
func WithStateChangeHook(hook func(name string, state State)) Option {
	return func(b *Breaker) {
		b.onStateChange = hook
	}
}

// WithHalfOpenMaxCalls bounds the number of concurrent trial calls while
// half-open. Defaults to 1.
func WithHalfOpenMaxCalls(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.halfOpenMaxCalls = n
		}
	}
}

// NewBreaker creates a new circuit breaker.
func NewBreaker(name string, maxFailures, successThreshold int, resetTimeout time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		maxFailures:      maxFailures,
		successThreshold: successThreshold,
		resetTimeout:     resetTimeout,
		halfOpenMaxCalls: 1,
		state:            StateClosed,
		lastStateChange:  time.Now(),
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}

	// Start background auto-recovery goroutine
	go b.autoRecovery()

	return b
}

// autoRecovery periodically checks if the circuit should transition from Open to Half-Open.
// This enables active recovery without waiting for incoming requests.
func (b *Breaker) autoRecovery() {
	defer close(b.doneCh)

	ticker := time.NewTicker(autoRecoveryCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.checkAndTransitionToHalfOpen()
		}
	}
}

// checkAndTransitionToHalfOpen checks if enough time has passed to transition from Open to Half-Open.
func (b *Breaker) checkAndTransitionToHalfOpen() {
	b.mu.Lock()

	var notify bool

	if b.state == StateOpen && time.Since(b.lastFailureTime) > b.resetTimeout {
		b.setState(StateHalfOpen)
		b.successes = 0
		b.halfOpenCalls = 0
		notify = true
	}

	b.mu.Unlock()

	if notify {
		b.notifyStateChange(StateHalfOpen)
	}
}

// Execute runs the function through the circuit breaker.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn()

	b.afterCall(err)

	return err
}

// beforeCall admits or rejects a call based on the current state.
func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		// Fail fast; the background goroutine handles recovery.
		b.rejectedCalls++

		return errors.CreateCircuitOpenError(b.name)
	case StateHalfOpen:
		if b.halfOpenCalls >= b.halfOpenMaxCalls {
			b.rejectedCalls++

			return errors.CreateCircuitOpenError(b.name).
				WithContext("reason", "half-open call limit reached")
		}

		b.halfOpenCalls++
	case StateClosed:
	}

	return nil
}

// afterCall records the outcome of an admitted call.
func (b *Breaker) afterCall(err error) {
	b.mu.Lock()

	var (
		transitioned bool
		newState     State
	)

	if err != nil {
		transitioned, newState = b.recordFailure()
	} else {
		transitioned, newState = b.recordSuccess()
	}

	if transitioned {
		b.halfOpenCalls = 0
	} else if b.state == StateHalfOpen && b.halfOpenCalls > 0 {
		b.halfOpenCalls--
	}

	b.mu.Unlock()

	if transitioned {
		b.notifyStateChange(newState)
	}
}

// recordFailure records a failure and potentially opens the circuit.
// Caller must hold b.mu.
func (b *Breaker) recordFailure() (bool, State) {
	b.failures++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.maxFailures {
			b.setState(StateOpen)
			b.failures = 0

			return true, StateOpen
		}
	case StateHalfOpen:
		// Any failure in half-open state reopens the circuit
		b.setState(StateOpen)
		b.failures = 0

		return true, StateOpen
	case StateOpen:
	}

	return false, b.state
}

// recordSuccess records a success and potentially closes the circuit.
// Caller must hold b.mu.
func (b *Breaker) recordSuccess() (bool, State) {
	b.failures = 0

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.setState(StateClosed)
			b.successes = 0

			return true, StateClosed
		}
	case StateClosed:
	case StateOpen:
	}

	return false, b.state
}

// setState changes the circuit breaker state. Caller must hold b.mu.
func (b *Breaker) setState(state State) {
	b.state = state
	b.stateChanges++
	b.lastStateChange = time.Now()
}

func (b *Breaker) notifyStateChange(state State) {
	if b.onStateChange != nil {
		b.onStateChange(b.name, state)
	}
}

// GetState returns the current state.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// GetStateFloat returns the state as a float64 for metrics.
func (b *Breaker) GetStateFloat() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return float64(b.state)
}

// IsOpen returns true if the circuit is open.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state == StateOpen
}

// GetStats returns a snapshot of breaker counters.
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		State:         b.state.String(),
		Failures:      b.failures,
		Successes:     b.successes,
		RejectedCalls: b.rejectedCalls,
		StateChanges:  b.stateChanges,
	}
}

// Reset resets the circuit breaker to closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.halfOpenCalls = 0
	b.lastStateChange = time.Now()
}

// Close stops the background auto-recovery goroutine and cleans up resources.
// This should be called when the circuit breaker is no longer needed.
func (b *Breaker) Close() {
	close(b.stopCh)
	<-b.doneCh
}

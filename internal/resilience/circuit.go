package resilience

import (
	"errors"
	"sync"
	"time"
)

// CircuitState is the breaker's current mode.
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

// CircuitOpenError is returned instead of calling the wrapped provider when
// the breaker is open and the cooldown hasn't elapsed.
type CircuitOpenError struct {
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return "circuit breaker open"
}

// CircuitBreaker implements the closed → open → half-open → {closed, open}
// state machine: N consecutive failures open the circuit; after a cooldown
// exactly one probe call is let through in half-open; a successful probe
// closes the circuit, a failed probe reopens it and resets the failure
// counter to the threshold (not to zero) so the next cooldown starts
// immediately rather than requiring another full run-up of failures.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	cooldown         time.Duration

	state      CircuitState
	failures   int
	openedAt   time.Time
	probeInFlight bool
}

func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		state:            StateClosed,
	}
}

// Allow reports whether a call may proceed right now. When it returns
// false, err is a *CircuitOpenError. When the breaker is in half-open, only
// the first caller to observe that transition is allowed through; later
// concurrent callers are rejected until that probe resolves.
func (cb *CircuitBreaker) Allow() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true, nil
	case StateOpen:
		if time.Since(cb.openedAt) < cb.cooldown {
			return false, &CircuitOpenError{RetryAfter: cb.cooldown - time.Since(cb.openedAt)}
		}
		cb.state = StateHalfOpen
		cb.probeInFlight = true
		return true, nil
	case StateHalfOpen:
		if cb.probeInFlight {
			return false, &CircuitOpenError{RetryAfter: cb.cooldown}
		}
		cb.probeInFlight = true
		return true, nil
	default:
		return true, nil
	}
}

// RecordSuccess closes the circuit and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.probeInFlight = false
}

// RecordFailure advances the failure count (or reopens from half-open).
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.probeInFlight = false
		cb.failures = cb.failureThreshold
		cb.state = StateOpen
		cb.openedAt = time.Now()
		return
	}

	cb.failures++
	if cb.failures >= cb.failureThreshold {
		cb.state = StateOpen
		cb.openedAt = time.Now()
	}
}

// State returns the current state, for diagnostics/tests only.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsCircuitOpen reports whether err represents a rejected call due to an
// open circuit (as opposed to a failure from the wrapped call itself).
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return errors.As(err, &coe)
}

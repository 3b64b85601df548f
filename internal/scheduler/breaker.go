package scheduler

import (
	"sync"
	"time"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	// CircuitClosed means requests are allowed.
	CircuitClosed CircuitState = iota
	// CircuitOpen means requests are blocked.
	CircuitOpen
	// CircuitHalfOpen means one probe is allowed to test recovery.
	CircuitHalfOpen
)

// CircuitBreaker blocks scheduled runs after repeated failures and lets
// a probe through once the timeout expires.
type CircuitBreaker struct {
	mu               sync.RWMutex
	failures         int
	failureThreshold int
	timeout          time.Duration
	lastFailureTime  time.Time
	state            CircuitState
}

// NewCircuitBreaker creates a breaker that opens after failureThreshold
// consecutive failures and probes again after timeout.
func NewCircuitBreaker(failureThreshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		timeout:          timeout,
		state:            CircuitClosed,
	}
}

// Allow reports whether a run should proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) > cb.timeout {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	case CircuitHalfOpen:
		return true
	}
	return false
}

// RecordSuccess closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure, opening the circuit at the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = time.Now()

	if cb.failures >= cb.failureThreshold {
		cb.state = CircuitOpen
	}
}

// Trip opens the circuit immediately, regardless of the failure count.
func (cb *CircuitBreaker) Trip() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = cb.failureThreshold
	cb.lastFailureTime = time.Now()
	cb.state = CircuitOpen
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

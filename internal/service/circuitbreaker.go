package service

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half-open"
)

// BreakerPolicy configures when a CircuitBreaker trips and recovers.
type BreakerPolicy struct {
	FailureThreshold int           // consecutive failures that open the circuit
	SuccessThreshold int           // half-open successes that close it again
	Timeout          time.Duration // how long the circuit stays open before probing
	MaxProbes        int           // concurrent calls allowed while half-open
}

// DefaultBreakerPolicy trips after 5 straight store failures and probes after 2s.
func DefaultBreakerPolicy() BreakerPolicy {
	return BreakerPolicy{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          2 * time.Second,
		MaxProbes:        1,
	}
}

// CircuitBreaker fails store calls fast once the store has stopped answering.
type CircuitBreaker struct {
	mu              sync.RWMutex
	policy          BreakerPolicy
	state           CircuitState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	currentProbes   int
	now             func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(p BreakerPolicy) *CircuitBreaker {
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = 1
	}
	if p.SuccessThreshold <= 0 {
		p.SuccessThreshold = 1
	}
	if p.MaxProbes <= 0 {
		p.MaxProbes = 1
	}
	return &CircuitBreaker{
		policy: p,
		state:  StateClosed,
		now:    time.Now,
	}
}

// Call executes fn if the circuit allows it. Cancellation by the caller is
// not counted as a store failure.
func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.mu.Lock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailureTime) > cb.policy.Timeout {
			cb.state = StateHalfOpen
			cb.successCount = 0
		} else {
			cb.mu.Unlock()
			return ErrCircuitBreakerOpen
		}
	}

	probing := cb.state == StateHalfOpen
	if probing {
		if cb.currentProbes >= cb.policy.MaxProbes {
			cb.mu.Unlock()
			return ErrCircuitBreakerOpen
		}
		cb.currentProbes++
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if probing {
		cb.currentProbes--
	}

	switch {
	case err == nil:
		cb.recordSuccess()
	case errors.Is(err, context.Canceled):
	default:
		cb.recordFailure()
	}
	return err
}

// Bypass runs fn regardless of state and without taking a probe slot. Only
// failures are recorded. Used for lock release, which must reach the store
// even while the circuit is open or half-open.
func (cb *CircuitBreaker) Bypass(fn func() error) error {
	err := fn()
	if err != nil && !errors.Is(err, context.Canceled) {
		cb.mu.Lock()
		cb.recordFailure()
		cb.mu.Unlock()
	}
	return err
}

// recordFailure must be called with mu held.
func (cb *CircuitBreaker) recordFailure() {
	cb.failureCount++
	cb.lastFailureTime = cb.now()
	cb.successCount = 0

	if cb.state == StateHalfOpen || cb.failureCount >= cb.policy.FailureThreshold {
		cb.state = StateOpen
	}
}

// recordSuccess must be called with mu held.
func (cb *CircuitBreaker) recordSuccess() {
	cb.failureCount = 0
	cb.successCount++

	if cb.state == StateHalfOpen && cb.successCount >= cb.policy.SuccessThreshold {
		cb.state = StateClosed
		cb.successCount = 0
	}
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// GetMetrics returns circuit breaker metrics
func (cb *CircuitBreaker) GetMetrics() CircuitMetrics {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return CircuitMetrics{
		State:         cb.state,
		FailureCount:  cb.failureCount,
		SuccessCount:  cb.successCount,
		CurrentProbes: cb.currentProbes,
	}
}

// Reset closes the circuit and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
}

// CircuitMetrics contains circuit breaker metrics
type CircuitMetrics struct {
	State         CircuitState `json:"state"`
	FailureCount  int          `json:"failure_count"`
	SuccessCount  int          `json:"success_count"`
	CurrentProbes int          `json:"current_probes"`
}

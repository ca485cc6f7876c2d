package webhookqueue

import (
	"errors"
	"sync"
	"time"
)

// ErrStorageUnavailable is returned for every queue operation while the
// circuit breaker is open. The intake layer maps it to a retryable response
// so the provider re-delivers instead of the event being dropped.
var ErrStorageUnavailable = errors.New("webhook queue storage unavailable")

// BreakerState is the circuit breaker state exposed in stats
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

const (
	breakerFailureThreshold = 5
	breakerOpenDuration     = 60 * time.Second
)

// CircuitBreaker fails fast after a run of consecutive storage errors, then
// probes again after a cool-down. State is process-local and in-memory; in a
// horizontally scaled deployment each instance breaks independently.
type CircuitBreaker struct {
	mu        sync.Mutex
	failures  int
	openUntil time.Time
	probing   bool
}

// NewCircuitBreaker creates a breaker with the default thresholds.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{}
}

// Allow reports whether an operation may proceed. While open it returns
// false until the cool-down elapses, then admits a single probe.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < breakerFailureThreshold {
		return true
	}
	if time.Now().Before(b.openUntil) {
		return false
	}
	if b.probing {
		return false
	}
	b.probing = true
	return true
}

// RecordSuccess closes the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
}

// RecordFailure counts a consecutive storage error; reaching the threshold
// opens the breaker for the cool-down period.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.probing = false
	if b.failures >= breakerFailureThreshold {
		b.openUntil = time.Now().Add(breakerOpenDuration)
	}
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < breakerFailureThreshold {
		return BreakerClosed
	}
	if time.Now().Before(b.openUntil) {
		return BreakerOpen
	}
	return BreakerHalfOpen
}

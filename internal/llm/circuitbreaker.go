package llm

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	circuitClosed   int32 = 0
	circuitOpen     int32 = 1
	circuitHalfOpen int32 = 2
)

// CircuitBreaker guards the provider call: after threshold consecutive
// failures it opens and rejects calls outright for resetTimeout, then
// allows one half-open probe through before deciding whether to close or
// re-open. Adapted from the teacher's CLI-call circuit breaker to guard
// Client.invokeWithRetry instead of a subprocess call.
type CircuitBreaker struct {
	failures     int64
	lastFailure  int64
	threshold    int64
	resetTimeout int64
	state        int32
}

// NewCircuitBreaker builds a breaker that opens after threshold failures
// and probes again resetTimeout seconds later.
func NewCircuitBreaker(threshold int64, resetTimeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, resetTimeout: int64(resetTimeout.Seconds())}
}

// Allow reports whether a call should be let through.
func (cb *CircuitBreaker) Allow() bool {
	state := atomic.LoadInt32(&cb.state)
	if state == circuitClosed {
		return true
	}
	if state == circuitOpen {
		lastFail := atomic.LoadInt64(&cb.lastFailure)
		if time.Now().Unix()-lastFail > cb.resetTimeout {
			atomic.CompareAndSwapInt32(&cb.state, circuitOpen, circuitHalfOpen)
			return true
		}
		return false
	}
	return true
}

// RecordSuccess closes the circuit and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	atomic.StoreInt64(&cb.failures, 0)
	atomic.StoreInt32(&cb.state, circuitClosed)
}

// RecordFailure increments the failure count and opens the circuit once
// threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	failures := atomic.AddInt64(&cb.failures, 1)
	atomic.StoreInt64(&cb.lastFailure, time.Now().Unix())
	if failures >= cb.threshold {
		atomic.StoreInt32(&cb.state, circuitOpen)
		log.Warn().Int64("failures", failures).Msg("llm: circuit breaker opened, provider calls temporarily disabled")
	}
}

// State returns the breaker's current state as a label: "closed", "open",
// or "half-open".
func (cb *CircuitBreaker) State() string {
	switch atomic.LoadInt32(&cb.state) {
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

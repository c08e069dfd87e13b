package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAfterThresholdFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	assert.True(t, cb.Allow())
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, "closed", cb.State())
	cb.RecordFailure()

	assert.Equal(t, "open", cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_HalfOpensAfterResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker(1, 20*time.Millisecond)

	cb.RecordFailure()
	assert.Equal(t, "open", cb.State())
	assert.False(t, cb.Allow())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, cb.Allow())
	assert.Equal(t, "half-open", cb.State())
}

func TestCircuitBreaker_SuccessClosesCircuit(t *testing.T) {
	cb := NewCircuitBreaker(1, 20*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(30 * time.Millisecond)
	assert.True(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, "closed", cb.State())
	assert.True(t, cb.Allow())
}

package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	var changes []CircuitState
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "openai",
		FailureThreshold: 2,
		Cooldown:         time.Hour,
		OnStateChange:    func(_ string, to CircuitState) { changes = append(changes, to) },
	})

	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	_, failures, rejected := cb.Counts()
	assert.EqualValues(t, 2, failures)
	assert.EqualValues(t, 1, rejected)
	assert.Equal(t, []CircuitState{StateOpen}, changes)
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Millisecond})
	cb.RecordFailure()

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
	require.True(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerReopensOnProbeFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, Cooldown: time.Millisecond})
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	time.Sleep(5 * time.Millisecond)
	require.True(t, cb.Allow())

	cb.RecordFailure()
	assert.False(t, cb.Allow())
}

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transientFail(_ context.Context) error {
	return NewTransientError(errors.New("unavailable"), 503)
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})

	_ = cb.Execute(context.Background(), transientFail)
	assert.Equal(t, CircuitClosed, cb.State())
	_ = cb.Execute(context.Background(), transientFail)
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	_ = cb.Execute(context.Background(), func(_ context.Context) error {
		return errors.New("invalid criteria")
	})
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	cb.nowFunc = func() time.Time { return now }

	_ = cb.Execute(context.Background(), transientFail)
	require.Equal(t, CircuitOpen, cb.State())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func(_ context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	cb.nowFunc = func() time.Time { return now }

	for range 3 {
		_ = cb.Execute(context.Background(), transientFail)
	}
	now = now.Add(time.Minute)
	_ = cb.Execute(context.Background(), transientFail)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestExecuteVal(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	val, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}

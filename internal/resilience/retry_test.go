package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mailhaus/internal/config"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(), func(_ context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	var calls int
	var retried []int
	cfg := fastRetry()
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("temporary"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(), func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("always fails"), 500)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "always fails")
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(), func(_ context.Context) error {
		calls++
		return errors.New("duplicate key")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomShouldRetry(t *testing.T) {
	busy := errors.New("database is locked")
	cfg := fastRetry()
	cfg.ShouldRetry = func(err error) bool { return errors.Is(err, busy) }

	var calls int
	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		if calls == 1 {
			return busy
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_ContextCancelledStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := Do(ctx, fastRetry(), func(_ context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("temporary"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ReturnsValue(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), fastRetry(), func(_ context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, NewTransientError(errors.New("retry"), 429)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.RetryConfig{MaxAttempts: 5, InitialBackoffMs: 10, MaxBackoffMs: 100})
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 100*time.Millisecond, cfg.MaxBackoff)

	def := FromConfig(config.RetryConfig{})
	assert.Equal(t, DefaultRetryConfig().MaxAttempts, def.MaxAttempts)
}

func TestComputeBackoff_CapsAtMax(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 2 * time.Second, Multiplier: 10}
	assert.Equal(t, time.Second, computeBackoff(0, cfg))
	assert.Equal(t, 2*time.Second, computeBackoff(3, cfg))
}

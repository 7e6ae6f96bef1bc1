package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSleep captures backoff delays instead of waiting.
func recordSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestRetrySucceedsFirst(t *testing.T) {
	var delays []time.Duration
	calls := 0
	v, err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, Sleep: recordSleep(&delays)}, "test",
		func(ctx context.Context) (string, error) {
			calls++
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestRetryBackoffBounds(t *testing.T) {
	base := 100 * time.Millisecond
	var delays []time.Duration
	calls := 0

	v, err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: base, Sleep: recordSleep(&delays)}, "flaky",
		func(ctx context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("transient")
			}
			return 42, nil
		})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
	require.Len(t, delays, 2)

	for i, d := range delays {
		exp := base * time.Duration(1<<i)
		lo := time.Duration(float64(exp) * JitterMin)
		hi := time.Duration(float64(exp) * JitterMax)
		assert.GreaterOrEqual(t, d, lo, "delay %d", i+1)
		assert.LessOrEqual(t, d, hi, "delay %d", i+1)
	}
}

func TestRetryReturnsLastErrorUnchanged(t *testing.T) {
	var delays []time.Duration
	errs := []error{errors.New("first"), errors.New("second")}
	calls := 0

	_, err := Retry(context.Background(), RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, Sleep: recordSleep(&delays)}, "fail",
		func(ctx context.Context) (struct{}, error) {
			e := errs[calls]
			calls++
			return struct{}{}, e
		})

	assert.Same(t, errs[1], err)
	assert.Equal(t, 2, calls)
	assert.Len(t, delays, 1)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	var delays []time.Duration
	fatal := errors.New("fatal")
	calls := 0

	cfg := RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Sleep:       recordSleep(&delays),
		Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
	}
	_, err := Retry(context.Background(), cfg, "fatal", func(ctx context.Context) (int, error) {
		calls++
		return 0, fatal
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	boom := errors.New("boom")
	calls := 0

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := Retry(ctx, RetryConfig{MaxAttempts: 10, BaseDelay: time.Second}, "cancel", func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestBackoffDelay(t *testing.T) {
	base := 2 * time.Second
	tests := []struct {
		attempt int
		u       float64
		want    time.Duration
	}{
		{1, 0, 1500 * time.Millisecond},
		{1, 0.5, 2 * time.Second},
		{2, 0.5, 4 * time.Second},
		{3, 0, 6 * time.Second},
		{0, 0.5, 2 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BackoffDelay(base, tt.attempt, tt.u), "attempt=%d u=%v", tt.attempt, tt.u)
	}
}

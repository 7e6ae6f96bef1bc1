package resilience

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Jitter bounds applied to every backoff delay.
const (
	JitterMin = 0.75
	JitterMax = 1.25
)

// RetryConfig holds configuration for the exponential backoff retry logic.
type RetryConfig struct {
	MaxAttempts int           // Total attempts, including the first
	BaseDelay   time.Duration // Delay before the second attempt (pre-jitter)

	// Retryable decides whether a failure earns another attempt.
	// Nil retries every error.
	Retryable func(error) bool

	// Sleep suspends between attempts. Nil waits on a timer and honours ctx.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger *slog.Logger
}

// DefaultRetryConfig returns the orchestrator's per-provider retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 2,
		BaseDelay:   2 * time.Second,
	}
}

// RetryableFunc is a function that can be retried.
type RetryableFunc[T any] func(ctx context.Context) (T, error)

// Retry runs fn up to cfg.MaxAttempts times. Between attempts it waits
// BaseDelay * 2^(attempt-1) * jitter, jitter uniform in [0.75, 1.25].
// The last error is returned unchanged.
func Retry[T any](ctx context.Context, cfg RetryConfig, op string, fn RetryableFunc[T]) (T, error) {
	cfg = cfg.withDefaults()

	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		willRetry := attempt < cfg.MaxAttempts && cfg.Retryable(err)
		var delay time.Duration
		if willRetry {
			delay = BackoffDelay(cfg.BaseDelay, attempt, rand.Float64())
		}
		cfg.Logger.Warn("attempt failed",
			"op", op,
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"error", err,
			"will_retry", willRetry,
			"delay", delay,
		)
		if !willRetry {
			break
		}

		if err := cfg.Sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

// BackoffDelay computes base * 2^(attempt-1) scaled by a jitter factor
// mapped from u ∈ [0, 1) onto [JitterMin, JitterMax].
func BackoffDelay(base time.Duration, attempt int, u float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := float64(base) * float64(uint64(1)<<min(attempt-1, 30))
	factor := JitterMin + u*(JitterMax-JitterMin)
	return time.Duration(exp * factor)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 2
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.Retryable == nil {
		c.Retryable = func(error) bool { return true }
	}
	if c.Sleep == nil {
		c.Sleep = sleepCtx
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

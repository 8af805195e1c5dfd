package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/narmi-sensor/internal/clock"
)

// RetryPolicy bounds how often a bus operation is attempted.
type RetryPolicy struct {
	Attempts int           // total attempts, minimum 1
	Backoff  time.Duration // fixed delay between attempts
}

// DefaultRetryPolicy matches the I2C retry used by the climate driver.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 100 * time.Millisecond}
}

// Retry runs op until it succeeds, the attempts are exhausted or ctx is
// done. It returns the number of attempts made alongside the result.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(context.Context) (T, error)) (T, int, error) {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, attempt, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, attempt, ctx.Err()
		}
		if attempt < p.Attempts {
			slog.Debug("[SENSOR] operation failed, retrying", "attempt", attempt, "of", p.Attempts, "error", err)
			if err := clock.Sleep(ctx, p.Backoff); err != nil {
				return zero, attempt, err
			}
		}
	}
	return zero, p.Attempts, fmt.Errorf("sensor: failed after %d attempts: %w", p.Attempts, lastErr)
}

// RetryingClimate wraps a ClimateSensor so every read goes through Retry.
type RetryingClimate struct {
	inner  ClimateSensor
	policy RetryPolicy
}

// WithRetry returns s wrapped with p.
func WithRetry(s ClimateSensor, p RetryPolicy) *RetryingClimate {
	return &RetryingClimate{inner: s, policy: p}
}

func (r *RetryingClimate) ReadClimate(ctx context.Context) (Climate, error) {
	c, _, err := Retry(ctx, r.policy, r.inner.ReadClimate)
	return c, err
}

func (r *RetryingClimate) Reinitialize(ctx context.Context) error {
	return r.inner.Reinitialize(ctx)
}

var _ ClimateSensor = (*RetryingClimate)(nil)

// Package retry runs fallible operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

const jitterFraction = 0.25

// Policy bounds how an operation is retried.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool
	// Retryable decides whether a failure is worth another attempt. Nil retries everything
	// except context cancellation.
	Retryable func(error) bool

	// Sleep and Rand are replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  func() float64

	Logger *zerolog.Logger
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Jitter:     true,
	}
}

// Do invokes op until it succeeds, fails with a non-retryable error, or the retry
// budget is spent. The last error is returned wrapped with the attempt count.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	attempt := 1
	for {
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		if !p.retryable(err) || ctx.Err() != nil {
			return zero, err
		}
		if attempt > p.MaxRetries {
			return zero, fmt.Errorf("failed after %d attempts: %w", attempt, err)
		}

		delay := p.Delay(attempt)
		if p.Logger != nil {
			p.Logger.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying operation")
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return zero, fmt.Errorf("retry interrupted: %w", errors.Join(sleepErr, err))
		}
		attempt++
	}
}

// Delay returns the wait before the next try after the given failed attempt (1-based).
// The result never exceeds MaxDelay, jitter included.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter && delay > 0 {
		r := p.Rand
		if r == nil {
			r = rand.Float64
		}
		delay += time.Duration(float64(delay) * jitterFraction * r())
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return delay
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

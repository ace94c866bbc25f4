// Package resilience wraps a single backend attempt with a per-attempt
// timeout and a linear-backoff retry loop.
package resilience

import (
	"context"
	"time"

	"github.com/vnmchuo/labflow/internal/llmerr"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Policy struct {
	// Attempts is the total number of tries, including the first. Values
	// below 1 are treated as 1.
	Attempts int

	// Delay is the base backoff. Before retry n (1-indexed) the loop waits
	// Delay * n.
	Delay time.Duration

	// Timeout bounds each individual attempt. Zero disables it.
	Timeout time.Duration

	// Sleep overrides the backoff wait; tests use it to record delays.
	Sleep SleepFunc
}

func (p Policy) backoff(attempt int) time.Duration {
	return p.Delay * time.Duration(attempt+1)
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

// Retry calls fn until it succeeds, returns an error marked non-retryable, or
// the attempt budget runs out. The last error is returned on exhaustion.
func Retry[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !llmerr.IsRetryable(err) {
			return zero, err
		}

		// Don't sleep after the last attempt
		if attempt < attempts-1 {
			if err := sleep(ctx, p.backoff(attempt)); err != nil {
				return zero, lastErr
			}
		}
	}

	return zero, lastErr
}

// Do applies Retry around the whole sequence and WithTimeout around each
// attempt.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	return Retry(ctx, p, func(ctx context.Context) (T, error) {
		return WithTimeout(ctx, p.Timeout, fn)
	})
}

package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/vnmchuo/labflow/internal/llmerr"
)

type result[T any] struct {
	value T
	err   error
}

// WithTimeout races fn against a timer. When the timer wins, the context
// passed to fn is cancelled, which aborts an HTTP request built on it while
// it is still in flight, and whatever fn eventually returns is discarded.
// The caller gets a retryable TIMEOUT error. fn must honour its context for
// the abort to reach the network.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	var zero T
	attemptCtx, cancel := context.WithCancel(ctx)

	// Buffered so the goroutine never blocks on a result nobody reads.
	done := make(chan result[T], 1)
	go func() {
		v, err := fn(attemptCtx)
		done <- result[T]{value: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case r := <-done:
		cancel()
		return r.value, r.err
	case <-timer.C:
		cancel()
		return zero, llmerr.Transient(llmerr.CodeTimeout, fmt.Sprintf("request timed out after %s", d))
	case <-ctx.Done():
		cancel()
		return zero, llmerr.Wrap(ctx.Err(), llmerr.CodeTimeout, "request cancelled", false)
	}
}

package gametools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
)

var (
	// ErrUpstreamUnavailable is returned when the API keeps failing after a retry
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrNotFound is returned when no server matches the configured identity
	ErrNotFound = errors.New("server not found")
	// ErrDecode is returned when a response does not have the expected shape
	ErrDecode = errors.New("unexpected response shape")

	// errTransient marks a failed attempt that may succeed when repeated
	errTransient = errors.New("transient upstream error")
)

// retry runs fn up to attempts times while it fails with a transient error.
// Each attempt gets its own timeout. Any other error is returned immediately.
func retry(ctx context.Context, attempts int, timeout time.Duration, b *backoff.Backoff, fn func(ctx context.Context) error) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			wait := b.Duration()
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, ctx.Err())
			case <-time.After(wait):
			}
		}

		actx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(actx)
		cancel()
		if err == nil {
			return nil
		}
		if !errors.Is(err, errTransient) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, lastErr)
}

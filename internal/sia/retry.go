package sia

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxRetries is how many times a call is repeated after its first
// transport failure before the daemon is declared unavailable.
const DefaultMaxRetries = 5

// SleepFunc pauses for d. It returns ctx.Err() if ctx ends first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ContextSleep is the production SleepFunc.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrRetryAborted is returned when a retry pause is cut short by a stop
// signal rather than by the caller's context.
var ErrRetryAborted = errors.New("retry aborted")

// StopSleep returns a SleepFunc that behaves like ContextSleep but also
// wakes, with ErrRetryAborted, once stop is closed.
func StopSleep(stop <-chan struct{}) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		select {
		case <-stop:
			return ErrRetryAborted
		default:
		}
		if d <= 0 {
			return ctx.Err()
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return ErrRetryAborted
		}
	}
}

// backoff returns the pause before retry n (1-based): 1s, 5s, 25s, ...
func backoff(n int) time.Duration {
	d := time.Second
	for i := 1; i < n; i++ {
		d *= 5
	}
	return d
}

// retry runs fn, repeating it on transport failures with exponential backoff.
// Any other error is returned as is on the first occurrence.
func retry[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		var te *TransportError
		if !errors.As(err, &te) {
			return zero, err
		}
		if attempt >= c.maxRetries {
			c.logger.Error("sia daemon unreachable, giving up", "op", op, "attempts", attempt+1, "error", err)
			return zero, fmt.Errorf("%w: %s: %w", ErrRemoteUnavailable, op, err)
		}
		delay := backoff(attempt + 1)
		c.logger.Warn("sia daemon request failed, retrying",
			"op", op,
			"retry", attempt+1,
			"max_retries", c.maxRetries,
			"delay", delay,
			"error", err,
		)
		if err := c.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
	}
}

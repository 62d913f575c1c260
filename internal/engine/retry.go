package engine

import (
	"context"
	"time"
)

const maxRetryDelay = 30 * time.Second

// withRetry runs fn up to maxRetries+1 times with doubling backoff, capped so
// a long outage does not stretch delays past the point where a supervisor
// restart would be faster.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	var err error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries || attempt == 0; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= maxRetries {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if delay *= 2; delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
	return err
}

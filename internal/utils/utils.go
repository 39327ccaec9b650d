package utils

import (
	"context"
	"time"
)

// WaitFor blocks for d or until ctx is done, whichever comes first.
func WaitFor(ctx context.Context, d time.Duration) error {
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

// Backoff returns base doubled for every attempt after the first (attempt is 1-based).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt <= 1 || base <= 0 {
		return base
	}
	return base << (attempt - 1)
}

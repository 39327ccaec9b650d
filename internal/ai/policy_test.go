package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func noWait(t *testing.T) *[]time.Duration {
	t.Helper()
	var waits []time.Duration
	original := wait
	wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	t.Cleanup(func() { wait = original })
	return &waits
}

func TestRetryStopsAfterAttempts(t *testing.T) {
	waits := noWait(t)

	calls := 0
	err := Policy{Attempts: 2, Backoff: time.Second}.Retry(context.Background(), func(context.Context, int) error {
		calls++
		return fmt.Errorf("call: %w", context.DeadlineExceeded)
	})

	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if len(*waits) != 1 || (*waits)[0] != time.Second {
		t.Fatalf("unexpected backoff waits: %v", *waits)
	}
}

func TestRetrySucceedsOnSecondAttempt(t *testing.T) {
	noWait(t)

	var attempts []int
	err := DefaultPolicy().Retry(context.Background(), func(_ context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		if attempt == 1 {
			return ErrMalformedResponse
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(attempts) != 2 || attempts[1] != 2 {
		t.Fatalf("unexpected attempts: %v", attempts)
	}
}

func TestRetryDoublesBackoff(t *testing.T) {
	waits := noWait(t)

	_ = Policy{Attempts: 4, Backoff: 100 * time.Millisecond}.Retry(context.Background(), func(context.Context, int) error {
		return ErrMalformedResponse
	})

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if len(*waits) != len(want) {
		t.Fatalf("expected %d waits, got %v", len(want), *waits)
	}
	for i := range want {
		if (*waits)[i] != want[i] {
			t.Fatalf("wait %d: expected %s, got %s", i, want[i], (*waits)[i])
		}
	}
}

func TestRetryDoesNotRetryUnavailable(t *testing.T) {
	noWait(t)

	calls := 0
	err := DefaultPolicy().Retry(context.Background(), func(context.Context, int) error {
		calls++
		return ErrUnavailable
	})

	if calls != 1 || !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected one call failing with ErrUnavailable, got %d calls and %v", calls, err)
	}
}

func TestRetryReturnsParentContextError(t *testing.T) {
	noWait(t)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := DefaultPolicy().Retry(ctx, func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("aborted")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retry after cancellation, got %d calls", calls)
	}
}

func TestRetryAppliesAttemptTimeout(t *testing.T) {
	err := Policy{Attempts: 1, Timeout: 10 * time.Millisecond}.Retry(context.Background(), func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

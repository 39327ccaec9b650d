package ai

import (
	"context"
	"errors"
	"time"

	"github.com/spigell/grant-interviewer/internal/utils"
)

const (
	DefaultAttempts = 2
	DefaultBackoff  = 500 * time.Millisecond
	DefaultTimeout  = 20 * time.Second
)

// Policy bounds how a component calls the model: how many attempts, the pause
// before each retry (doubled every time) and the deadline of a single attempt.
type Policy struct {
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Attempts: DefaultAttempts, Backoff: DefaultBackoff, Timeout: DefaultTimeout}
}

// WithDefaults replaces unset fields with the defaults.
func (p Policy) WithDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	return p
}

var wait = utils.WaitFor

// Retry calls fn until it succeeds or the attempts are spent and returns the
// last error. Each attempt gets its own deadline. ErrUnavailable is not retried.
// When the parent context ends, its error is returned instead.
func (p Policy) Retry(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	p = p.WithDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if attempt > 1 {
			if err := wait(ctx, utils.Backoff(p.Backoff, attempt-1)); err != nil {
				return err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		err := fn(callCtx, attempt)
		cancel()

		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		lastErr = Classify(err)
		if errors.Is(lastErr, ErrUnavailable) {
			break
		}
	}

	return lastErr
}

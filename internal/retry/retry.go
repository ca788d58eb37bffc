// Package retry runs an operation with bounded attempts and exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned when every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy bounds a retry loop. The wait before attempt n (n >= 1) is
// BaseDelay * 2^n, so a one second base waits 2s, 4s, 8s.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
}

// Default returns three attempts with a one second base delay.
func Default() Policy {
	return Policy{Attempts: 3, BaseDelay: time.Second}
}

// Backoff returns the wait that precedes the given zero-based attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return p.BaseDelay << attempt
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent wraps err so Do stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do calls op until it succeeds, returns a permanent error, or the policy runs
// out of attempts. It returns the number of attempts made. The error wraps
// ErrExhausted and the last failure when attempts ran out.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.Backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, fmt.Errorf("retry: context cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}

		err := op(ctx, attempt)
		if err == nil {
			return attempt + 1, nil
		}
		if IsPermanent(err) {
			return attempt + 1, err
		}
		lastErr = err
	}

	return attempts, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

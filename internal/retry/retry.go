// Package retry provides a single retry policy used by authentication,
// vision model calls and stream recovery.
package retry

import (
	"context"
	"errors"
	"time"
)

// BackoffFunc returns the delay before the given attempt (1-based retry number)
type BackoffFunc func(attempt int) time.Duration

// Policy describes how an operation is retried
type Policy struct {
	MaxAttempts int
	Backoff     BackoffFunc
	Retryable   func(err error) bool
}

// Exponential returns base * 2^(attempt-1), capped at max (0 disables the cap)
func Exponential(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if max > 0 && d >= max {
				return max
			}
		}
		if max > 0 && d > max {
			return max
		}
		return d
	}
}

// Constant returns the same delay for every attempt
func Constant(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}

// stopError marks an error that must not be retried
type stopError struct {
	err error
}

func (s *stopError) Error() string { return s.err.Error() }
func (s *stopError) Unwrap() error { return s.err }

// Stop wraps err so that Do returns it immediately
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempt
// budget is spent or ctx is done. The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}

		var stop *stopError
		if errors.As(err, &stop) {
			return stop.err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff(attempt)
		}
		if err := Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return err
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
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

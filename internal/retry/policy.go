// Package retry makes retry behavior a first-class configuration: a Policy
// carries the attempt bound, the backoff schedule, and an overall deadline,
// and is passed into the components that wait on external systems.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy describes a bounded retry schedule. Interval is the initial delay
// between attempts; Multiplier > 1 makes the backoff exponential, capped at
// MaxInterval. Timeout, when positive, bounds the whole operation regardless
// of remaining attempts.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
	Multiplier  float64
	MaxInterval time.Duration
	Timeout     time.Duration
}

// Fixed returns a fixed-interval policy.
func Fixed(attempts int, interval time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Interval: interval}
}

// Exponential returns a bounded-exponential policy.
func Exponential(attempts int, interval, maxInterval time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Interval: interval, Multiplier: 2, MaxInterval: maxInterval}
}

// ErrExhausted is returned when every attempt failed without a permanent
// error; the last attempt's error is wrapped alongside it.
var ErrExhausted = errors.New("retry attempts exhausted")

// Permanent wraps err so Do stops retrying and returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Do runs fn until it succeeds, returns a Permanent error, the attempt bound
// is reached, or the policy timeout / ctx expires. The context passed to fn
// is bounded by the policy timeout when one is set.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.Interval

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return p.exitErr(err, lastErr)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return p.exitErr(ctx.Err(), lastErr)
		case <-time.After(delay):
		}
		if p.Multiplier > 1 {
			delay = time.Duration(float64(delay) * p.Multiplier)
			if p.MaxInterval > 0 && delay > p.MaxInterval {
				delay = p.MaxInterval
			}
		}
	}
	return fmt.Errorf("%w after %d attempt(s): %v", ErrExhausted, attempts, lastErr)
}

func (p Policy) exitErr(ctxErr, lastErr error) error {
	if lastErr != nil {
		return fmt.Errorf("%w (last attempt: %v)", ctxErr, lastErr)
	}
	return ctxErr
}

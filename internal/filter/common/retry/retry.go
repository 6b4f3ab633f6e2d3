// Package retry runs fallible operations under an explicit attempts/backoff
// policy. It is the single place timing logic for retries lives; callers pass
// a Policy value instead of scattering timers.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is wrapped into the returned error once every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy bounds a retried operation. Backoff is the delay after the first
// failure and doubles after each further failure, capped at MaxBackoff
// when MaxBackoff is positive.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// DefaultPolicy is used by persistence paths when no policy is configured.
var DefaultPolicy = Policy{MaxAttempts: 3, Backoff: 50 * time.Millisecond, MaxBackoff: 2 * time.Second}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// backOff builds the schedule for p: no jitter, doubling, and no overall
// time limit beyond the attempt count and ctx.
func (p Policy) backOff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Backoff
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = p.MaxBackoff
	if exp.MaxInterval <= 0 {
		exp.MaxInterval = time.Duration(math.MaxInt64)
	}
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.attempts()-1)), ctx)
}

// Permanent marks err as not worth retrying; Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do calls fn until it succeeds, returns a Permanent error, the context is
// done, or the policy runs out of attempts.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	calls := 0
	stopped := false
	v, err := backoff.RetryWithData(func() (T, error) {
		calls++
		v, err := fn(ctx)
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			stopped = true
		}
		return v, err
	}, p.backOff(ctx))
	switch {
	case err == nil:
		return v, nil
	case stopped:
		return zero, err
	case ctx.Err() != nil:
		return zero, ctx.Err()
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, calls, err)
}

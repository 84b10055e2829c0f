package callerr

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy bounds the retries of one adapter operation.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Base is the first backoff delay; later delays grow exponentially.
	Base time.Duration
	// Cap limits a single backoff delay. Zero means no cap.
	Cap time.Duration
}

// DefaultPolicy is used when an adapter is configured without one.
var DefaultPolicy = Policy{Attempts: 3, Base: 200 * time.Millisecond, Cap: 2 * time.Second}

func (p Policy) backoff() retry.Backoff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.Base
	if base <= 0 {
		base = DefaultPolicy.Base
	}
	b := retry.NewExponential(base)
	if p.Cap > 0 {
		b = retry.WithCappedDuration(p.Cap, b)
	}
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// Permanent wraps err so Retry gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Retry runs fn until it succeeds, the policy is exhausted, fn returns a
// Permanent error, or ctx is done. Exhaustion and permanent failures come
// back as *AdapterError; a done context returns ctx.Err() unchanged.
func Retry(ctx context.Context, p Policy, adapter, op string, fn func(ctx context.Context) error) error {
	attempts := 0
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		err = perm.err
	}
	return &AdapterError{Adapter: adapter, Op: op, Attempts: attempts, Err: err}
}

// Package pollutil provides the single polling primitive used by every
// browser wait in this codebase: poll a predicate at a fixed interval
// until it reports true or a deadline passes.
package pollutil

import (
	"context"
	"errors"
	"time"
)

var ErrTimeout = errors.New("polling deadline exceeded")

type unrecoverableError struct {
	err error
}

func (e unrecoverableError) Error() string { return e.err.Error() }
func (e unrecoverableError) Unwrap() error { return e.err }

// Unrecoverable wraps an error so Poll stops immediately instead of
// retrying until the deadline.
func Unrecoverable(err error) error {
	return unrecoverableError{err: err}
}

// Poll calls predicate once per interval until it returns true, the timeout
// elapses, or ctx is cancelled. A predicate error does not stop polling;
// transient failures (a page mid-navigation, a half-rendered DOM) are
// expected and the next tick simply tries again.
func Poll(ctx context.Context, interval, timeout time.Duration, predicate func(context.Context) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := predicate(ctx)
		if err == nil && ok {
			return nil
		}
		var fatal unrecoverableError
		if errors.As(err, &fatal) {
			return fatal.err
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

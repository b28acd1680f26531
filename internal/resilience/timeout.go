package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
)

// ErrCallTimeout marks an external call that ran past its deadline.
var ErrCallTimeout = eris.New("call timed out")

// TimeoutError reports which operation timed out and after how long.
type TimeoutError struct {
	Operation string
	After     time.Duration
	Err       error
}

func (e *TimeoutError) Error() string {
	return e.Operation + ": " + ErrCallTimeout.Error() + " after " + e.After.String()
}

func (e *TimeoutError) Unwrap() []error {
	return []error{ErrCallTimeout, e.Err}
}

// WithTimeout runs fn under a derived context that expires after d. When the
// derived deadline (not the parent) fires, the returned error is a
// *TimeoutError. A non-positive d runs fn with ctx unchanged.
func WithTimeout[T any](ctx context.Context, operation string, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	val, err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		var zero T
		return zero, &TimeoutError{Operation: operation, After: d, Err: err}
	}
	return val, err
}

// IsTimeout reports whether err came from a call deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrCallTimeout) || errors.Is(err, context.DeadlineExceeded)
}

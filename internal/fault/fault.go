package fault

import (
	"context"
	"errors"
	"fmt"
)

// TimeoutError marks an external call that exceeded its caller-imposed
// deadline. Retry policy belongs to the caller, not to the package that
// produced the error.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: deadline exceeded: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Classify wraps err in a TimeoutError when it stems from a deadline.
// Cooperative cancellation (context.Canceled) passes through untouched so
// callers can tell "the flow was cancelled" from "the call timed out".
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}
	return err
}

// IsTimeout reports whether err carries a TimeoutError anywhere in its chain.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Package amerr defines the error kinds shared by the automerger packages.
package amerr

import (
	"errors"
	"fmt"
	"time"
)

// RetryableError marks a failed operation that is expected to succeed when
// it is repeated, e.g. after the GitHub API rate limit was reset.
type RetryableError struct {
	Err error
	// After is the earliest time the operation should be repeated. The
	// zero value means it can be repeated immediately.
	After time.Time
}

func NewRetryableError(err error, after time.Time) *RetryableError {
	return &RetryableError{Err: err, After: after}
}

func NewRetryableAnytimeError(err error) *RetryableError {
	return NewRetryableError(err, time.Time{})
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) Error() string {
	if e.After.IsZero() {
		return "temporary failure: " + e.Err.Error()
	}

	return fmt.Sprintf("temporary failure, retry after %s: %s", e.After.Format(time.RFC3339), e.Err)
}

// IsRetryable reports whether err wraps a RetryableError and returns the
// earliest time the failed operation should be repeated.
func IsRetryable(err error) (after time.Time, retryable bool) {
	var retryErr *RetryableError
	if !errors.As(err, &retryErr) {
		return time.Time{}, false
	}

	return retryErr.After, true
}

package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAuth marks invalid or expired credentials. Fatal: the run aborts
	// before dispatching jobs.
	ErrAuth = errors.New("authentication failed")

	// ErrNotFound marks a source playlist or target resource that does not
	// exist. Terminal per job, never retried.
	ErrNotFound = errors.New("not found")

	// ErrTransient marks network, timeout, and rate-limit failures that are
	// retried with backoff before the job gives up.
	ErrTransient = errors.New("transient failure")
)

// IsRetryable reports whether an error should be retried. NotFound and auth
// failures are permanent; context cancellation is the caller's business.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAuth) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// IsNotFound reports whether err resolves to a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAuth reports whether err resolves to an authentication failure.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}

// Transientf wraps a formatted message with ErrTransient.
func Transientf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrTransient)...)
}

// NotFoundf wraps a formatted message with ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound marks queries against unknown users or sessions. Read
// paths translate it into an empty result rather than a failure.
var ErrNotFound = errors.New("not found")

// ErrNoLeader is returned by an election that finds zero healthy,
// non-stale heartbeats. It is never replaced by a stale previous leader.
var ErrNoLeader = errors.New("no leader")

// ValidationError rejects malformed or incomplete input. It is returned
// synchronously and must not be retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// ConflictError signals a uniqueness violation under concurrent writers.
// It is transient: callers retry locally up to a fixed bound, then
// surface it as retryable.
type ConflictError struct {
	Entity string
	Key    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %q", e.Entity, e.Key)
}

// StoreUnavailableError wraps a backing-store timeout or connection
// failure. Transaction boundaries guarantee no partial write happened,
// so the operation is safe to retry from the caller.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the caller may safely retry the operation.
func IsRetryable(err error) bool {
	var conflict *ConflictError
	var unavailable *StoreUnavailableError
	return errors.As(err, &conflict) || errors.As(err, &unavailable)
}

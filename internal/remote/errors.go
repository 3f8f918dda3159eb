package remote

import (
	"errors"
	"fmt"
)

// Common errors returned by remote store operations.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, remote.ErrUnavailable) {
//	    // abort the pass and try again later
//	}
var (
	// ErrVersionConflict is returned when a Put names a version other than
	// the stored one. The concrete error is a *ConflictError.
	ErrVersionConflict = errors.New("version conflict")

	// ErrNotFound is returned when no document exists at a path.
	ErrNotFound = errors.New("document not found")

	// ErrUnavailable is returned when the remote store cannot be reached at
	// all. It aborts the whole pass.
	ErrUnavailable = errors.New("remote store unavailable")

	// ErrTimeout is returned when a single operation exceeds its deadline.
	// It affects only the entity being synchronized.
	ErrTimeout = errors.New("remote operation timed out")
)

// ConflictError carries the document that won the race.
type ConflictError struct {
	Path     string
	Expected int64
	// Current is nil when the document was expected to exist but does not.
	Current *Document
}

func (e *ConflictError) Error() string {
	if e.Current == nil {
		return fmt.Sprintf("version conflict at %s: expected version %d, document missing", e.Path, e.Expected)
	}
	return fmt.Sprintf("version conflict at %s: expected version %d, stored %d", e.Path, e.Expected, e.Current.Version)
}

// Unwrap lets errors.Is match ErrVersionConflict.
func (e *ConflictError) Unwrap() error {
	return ErrVersionConflict
}

// IsTransient returns true if the operation should be retried on a later pass
// for the same entity.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTimeout)
}

// IsFatal returns true if the error should abort the whole pass.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUnavailable)
}

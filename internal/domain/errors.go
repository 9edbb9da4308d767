package domain

import "errors"

var (
	// ErrNotFound marks a malformed or absent id. It is a soft outcome:
	// callers distinguish it from hard persistence failures.
	ErrNotFound = errors.New("not found")

	// ErrForbidden marks an actor lacking participant, role, or ownership rights.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidState marks an operation against a terminal or otherwise
	// incompatible state: acting on a resolved request, editing outside the
	// edit window, re-deleting a tombstoned message.
	ErrInvalidState = errors.New("invalid state")

	// ErrValidation marks malformed input shape.
	ErrValidation = errors.New("validation failed")

	// ErrTransient marks a dependency failure (storage, cache, broker) that
	// is safe to retry.
	ErrTransient = errors.New("transient dependency failure")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

package domain

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist for the user.
	ErrNotFound = errors.New("not found")
	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrInvalidStatus is returned for status values outside the closed set.
	ErrInvalidStatus = errors.New("invalid task status")
	// ErrValidation marks input that fails domain validation.
	ErrValidation = errors.New("validation failed")
	// ErrStaleCommand is returned when a command is older than the stored entity.
	ErrStaleCommand = errors.New("stale command")
)

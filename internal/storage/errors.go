package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a run is archived twice.
	ErrDuplicateKey = errors.New("duplicate key: archived runs are immutable")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrClosed is returned when a closed store is used.
	ErrClosed = errors.New("store closed")
)

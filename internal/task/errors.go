package task

import "errors"

var (
	// ErrNotFound means the (user, task) pair has no current record. Benign:
	// callers present a neutral message.
	ErrNotFound = errors.New("task not found")

	// ErrInvalidInput means the operation was rejected before any mutation
	// (empty name, non-positive step count, negative interval).
	ErrInvalidInput = errors.New("invalid input")
)

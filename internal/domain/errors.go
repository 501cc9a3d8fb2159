package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrTaskNotFound is returned when no task with the requested ID is tracked.
	ErrTaskNotFound = errors.New("task not found")

	// ErrResultIndexOutOfRange is returned when a result index does not
	// address an existing output of a task.
	ErrResultIndexOutOfRange = errors.New("result index out of range")
)

package errors

import "errors"

// This package defines a centralized set of sentinel errors for the
// application. Services return these instead of HTTP status codes; the API
// layer maps them with errors.Is, keeping business logic transport-agnostic.

var (
	// ErrNotFound signifies that a requested resource could not be located.
	ErrNotFound = errors.New("resource not found")

	// ErrValidation signifies that client input failed validation. Surfaced
	// synchronously, before any streaming response is opened.
	ErrValidation = errors.New("validation failed")

	// ErrConflict signifies that an operation conflicts with the current
	// state, e.g. submitting a message while a turn is already in flight.
	ErrConflict = errors.New("resource conflict")

	// ErrProvider signifies that the generation provider failed. Once a
	// streaming response is open this can only travel as an in-band chunk.
	ErrProvider = errors.New("provider request failed")

	// ErrPersistence signifies that a history store call failed. Persistence
	// is best-effort: these are logged, never rolled back into the UI.
	ErrPersistence = errors.New("persistence failed")

	// ErrInternal signifies an unexpected server-side error.
	ErrInternal = errors.New("internal server error")
)

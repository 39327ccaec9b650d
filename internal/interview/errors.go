package interview

import "errors"

var (
	// ErrNotFound is returned when no context exists for the session.
	ErrNotFound = errors.New("interview not found")
	// ErrInvalidState is returned when an operation is not allowed in the session's current status.
	ErrInvalidState = errors.New("invalid interview state")
	// ErrPersistence is returned when the session store could not be read or written.
	// The submitted answer has not been consumed and may be sent again.
	ErrPersistence = errors.New("interview persistence failure")
	// ErrEmptyAnswer is returned for blank answers.
	ErrEmptyAnswer = errors.New("answer must not be empty")
)

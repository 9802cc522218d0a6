package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the kind shared by every rejected input shape.
	// Match it with errors.Is; use errors.As with *ValidationError for the field.
	ErrValidation = errors.New("validation error")

	// ErrUnknownToken is returned when a heartbeat names a token that is not
	// currently registered, including tokens dropped by Clear.
	ErrUnknownToken = errors.New("unknown client token")

	// ErrNotFound is returned by Lookup and Heartbeat for absent tokens.
	ErrNotFound = errors.New("client not found")
)

// ValidationError describes a malformed or missing request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error { return ErrValidation }

func required(field string) error {
	return &ValidationError{Field: field, Reason: "is required"}
}

func mustBeObject(field string) error {
	return &ValidationError{Field: field, Reason: "must be an object"}
}

package service

import (
	"errors"
	"fmt"
)

// Errors returned by the checkout services.
var (
	ErrNotFound          = errors.New("not found")
	ErrAppointmentClosed = errors.New("appointment is cancelled")
)

// ValidationError reports a malformed checkout request. Handlers map it to 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

func notFound(what string, id fmt.Stringer) error {
	return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
}

package order

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrConflict          = errors.New("order was modified concurrently")
	ErrIntentActive      = errors.New("order already has an active payment intent")
)

// ValidationError is returned for malformed drafts and updates.
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

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

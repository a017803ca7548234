// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrInternal   = errors.New("internal error")
)

// Error carries an error kind plus the context needed to log it.
type Error struct {
	Sentinel error  // kind, matched with errors.Is
	Message  string // safe to show to callers
	Field    string // offending input for validation errors
	Resource string // looked-up resource for not found errors
	Op       string // failing operation for internal errors
	Cause    error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	if e.Cause != nil && e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, name string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %q not found", resource, name),
		Resource: resource,
	}
}

// Internal wraps an infrastructure failure. The caller-facing message stays
// generic; the cause is only visible through Error() and errors.Is/As.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  "internal error",
		Op:       op,
		Cause:    cause,
	}
}

// PublicMessage returns the text that may be shown to an API caller.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

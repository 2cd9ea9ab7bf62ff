// Package apperr defines the error categories chat operations return, so
// callers can tell a permission problem from a missing record or a backend
// outage with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrPermission = errors.New("permission denied")
	ErrTransport  = errors.New("backend unavailable")
)

// Error carries a category sentinel, a human-readable message and, for
// transport failures, the underlying cause.
type Error struct {
	Err     error
	Message string
	Field   string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the category and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func Validation(field, message string) *Error {
	return &Error{Err: ErrValidation, Message: message, Field: field}
}

func NotFound(resource, id string) *Error {
	return &Error{Err: ErrNotFound, Message: fmt.Sprintf("%s %s not found", resource, id)}
}

func Permission(message string) *Error {
	return &Error{Err: ErrPermission, Message: message}
}

// Transport wraps a storage or network failure of op.
func Transport(op string, cause error) *Error {
	return &Error{Err: ErrTransport, Message: op, Cause: cause}
}

// Wrap returns err unchanged when it already carries a category, and
// classifies anything else as a transport failure of op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if Category(err) != nil {
		return err
	}
	return Transport(op, err)
}

// Category returns the sentinel err belongs to, or nil.
func Category(err error) error {
	for _, sentinel := range []error{ErrValidation, ErrNotFound, ErrPermission, ErrTransport} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

package storage

import (
	"errors"
	"fmt"

	"github.com/cyp0633/caldora/server/recurrence"
)

// Error types
type ErrorType string

const (
	ErrValidation         ErrorType = "validation"
	ErrNotFound           ErrorType = "not_found"
	ErrConflict           ErrorType = "conflict"
	ErrPermissionDenied   ErrorType = "permission_denied"
	ErrTransactionFailure ErrorType = "transaction_failure"
)

// Error represents a storage-related error
type Error struct {
	Type    ErrorType
	Field   string // set for validation errors
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewValidationError(field, message string) *Error {
	return &Error{Type: ErrValidation, Field: field, Message: message}
}

func NewNotFoundError(kind string, id any) *Error {
	return &Error{Type: ErrNotFound, Message: fmt.Sprintf("%s %v not found", kind, id)}
}

func NewConflictError(message string) *Error {
	return &Error{Type: ErrConflict, Message: message}
}

func NewPermissionError(user, message string) *Error {
	return &Error{Type: ErrPermissionDenied, Message: fmt.Sprintf("user %q: %s", user, message)}
}

func NewTransactionError(message string, err error) *Error {
	return &Error{Type: ErrTransactionFailure, Message: message, Err: err}
}

// TypeOf returns the type of the outermost taxonomy error in err's chain.
// Rule validation errors count as ErrValidation.
func TypeOf(err error) (ErrorType, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Type, true
	}
	var ve *recurrence.ValidationError
	if errors.As(err, &ve) {
		return ErrValidation, true
	}
	return "", false
}

func isType(err error, t ErrorType) bool {
	got, ok := TypeOf(err)
	return ok && got == t
}

func IsValidation(err error) bool         { return isType(err, ErrValidation) }
func IsNotFound(err error) bool           { return isType(err, ErrNotFound) }
func IsConflict(err error) bool           { return isType(err, ErrConflict) }
func IsPermissionDenied(err error) bool   { return isType(err, ErrPermissionDenied) }
func IsTransactionFailure(err error) bool { return isType(err, ErrTransactionFailure) }

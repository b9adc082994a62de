package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for the API surface. Services return these (wrapped with
// context); the HTTP layer maps each kind to a status code and a
// {detail, kind} body.
var (
	ErrNotFound          = errors.New("not found")
	ErrMultipleObjects   = errors.New("multiple objects returned")
	ErrValidation        = errors.New("validation error")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrConflict          = errors.New("conflict")
	ErrNotImplemented    = errors.New("not implemented")
	ErrAuth              = errors.New("authentication failed")
)

// ErrorKind returns the wire-level kind token for a known error, or
// "internal" for anything unrecognized.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrMultipleObjects):
		return "MultipleObjects"
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrInvalidTransition):
		return "InvalidTransition"
	case errors.Is(err, ErrConflict):
		return "Conflict"
	case errors.Is(err, ErrNotImplemented):
		return "NotImplemented"
	case errors.Is(err, ErrAuth):
		return "AuthFailure"
	default:
		return "internal"
	}
}

// NotFoundf wraps ErrNotFound with a formatted detail message.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// MultipleObjectsf wraps ErrMultipleObjects with a formatted detail message.
func MultipleObjectsf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMultipleObjects, fmt.Sprintf(format, args...))
}

// Validationf wraps ErrValidation with a formatted detail message.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflictf wraps ErrConflict with a formatted detail message.
func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Package apperror holds the error kinds shared by the order and payment services.
// Each kind maps to one HTTP status in the handler layer.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest              = errors.New("invalid request")
	ErrUnauthorized                = errors.New("unauthorized")
	ErrForbidden                   = errors.New("forbidden")
	ErrNotFound                    = errors.New("not found")
	ErrConflict                    = errors.New("conflict")
	ErrInvalidTransition           = errors.New("invalid status transition")
	ErrInvalidState                = errors.New("invalid state")
	ErrInvalidSignature            = errors.New("invalid signature")
	ErrPaymentInitializationFailed = errors.New("payment initialization failed")
	ErrPaymentVerificationFailed   = errors.New("payment verification failed")
)

// Error pairs a kind with a message that is safe to show to the caller.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func New(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func InvalidRequest(format string, args ...any) *Error {
	return New(ErrInvalidRequest, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(ErrNotFound, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(ErrForbidden, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(ErrConflict, format, args...)
}

func InvalidState(format string, args ...any) *Error {
	return New(ErrInvalidState, format, args...)
}

// InvalidTransition names both ends of the rejected status change.
func InvalidTransition(from, to fmt.Stringer) *Error {
	return New(ErrInvalidTransition, "cannot transition order from %s to %s", from, to)
}

// Message returns the client-facing message of err, or fallback when err
// does not carry one.
func Message(err error, fallback string) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return fallback
}

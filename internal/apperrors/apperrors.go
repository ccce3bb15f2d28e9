// Package apperrors defines the shared error taxonomy used across the
// recovery pipeline so callers can branch on error kind without parsing
// messages.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the pipeline's handled categories.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindConflict    Kind = "conflict"
	KindNotFound    Kind = "not_found"
	KindUnavailable Kind = "unavailable"
	KindInternal    Kind = "internal"
)

// Error wraps an underlying cause with a Kind and a stable message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a Kind and message to an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

var (
	ErrUnsupportedFormat = New(KindValidation, "unsupported upload format")
	ErrInvalidIBAN       = New(KindValidation, "invalid iban")
	ErrAlreadyProcessed  = New(KindConflict, "event already processed")
	ErrCircuitOpen       = New(KindUnavailable, "circuit breaker open")
	ErrRateLimited       = New(KindUnavailable, "rate limit exceeded")
)

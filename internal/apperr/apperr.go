// Package apperr provides the structured error type carried on the wire
// and through internal call chains. Kinds are the strings spec §7 names;
// unlike the teacher's protobuf-enum-keyed AppError, these map directly to
// the JSON error kinds the audio socket and admin API emit.
package apperr

import "fmt"

// Kind enumerates the wire-level error kinds from spec §7.
type Kind string

const (
	BadHandshake Kind = "BadHandshake"
	OddByteCount Kind = "OddByteCount"
	Overloaded   Kind = "Overloaded"
	Timeout      Kind = "Timeout"
	ModelFailure Kind = "ModelFailure"
	StorageError Kind = "StorageError"
)

// Error is the structured application error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is/As against the wrapped cause.
func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with the given kind and message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error.
func Wrap(err error, kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Cause: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	ae, ok := err.(*Error)
	return ok && ae.Kind == kind
}

// Surfaceable reports whether an error kind should ever be reported to the
// client on the wire. Spec §7: StorageError is internal-only.
func (k Kind) Surfaceable() bool {
	return k != StorageError
}

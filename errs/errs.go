// Package errs implements the normalized error taxonomy the persistence
// engine surfaces across every substrate (§7 of the design spec): callers
// switch on Kind rather than on substrate-specific sentinel values.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure into one of the taxonomy buckets callers can
// branch on. Kinds are not Go types; every failure is an *Error carrying
// one.
type Kind string

const (
	// ContainerNotFound means the blob container/namespace is missing.
	ContainerNotFound Kind = "ContainerNotFound"
	// TableNotFound means the wide-table table is missing.
	TableNotFound Kind = "TableNotFound"
	// NotFound means a requested entity (row, blob, key) is absent.
	NotFound Kind = "NotFound"
	// DocumentNotFound means Document.Get found no document for the id.
	DocumentNotFound Kind = "DocumentNotFound"
	// ConcurrencyConflict means an ETag/version precondition did not hold.
	ConcurrencyConflict Kind = "ConcurrencyConflict"
	// StreamClosed means the stream's tail event is EventStream.Closed.
	StreamClosed Kind = "StreamClosed"
	// CorruptPayload means a chunked payload is missing a continuation
	// chunk or failed to decompress.
	CorruptPayload Kind = "CorruptPayload"
	// InvalidArgument means the caller passed a malformed request.
	InvalidArgument Kind = "InvalidArgument"
	// InvalidToken means a rebuild token did not match the active lease.
	InvalidToken Kind = "InvalidToken"
	// TokenExpired means a rebuild token's lease has elapsed.
	TokenExpired Kind = "TokenExpired"
	// Transient means the substrate reported a retriable condition.
	Transient Kind = "Transient"
	// Unauthorized means the substrate rejected the call's credentials.
	Unauthorized Kind = "Unauthorized"
)

// Error is the concrete error type every package in this module returns
// for substrate and invariant failures. It always carries a Kind so
// callers can branch with Is instead of parsing message text.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error that retains cause for %w-style unwrapping.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Wrapf builds a wrapped *Error with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err is an *Error of the given kind, walking the
// error chain (so a wrapped *Error still matches).
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, or "" if err is not (or does not wrap)
// an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

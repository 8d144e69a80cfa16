// Package errs provides the unified error type used across geopg.
//
// Every subsystem (postgres connection, registry, codecs, HTTP adapter) wraps
// its native errors into *errs.Error before returning them to callers.
// Callers use the Is* predicates to branch on the failure class; the message
// stays a human-readable detail and is not meant to be parsed.
//
// Usage:
//
//	// In the connection layer, wrap the server's error:
//	return errs.Wrap(errs.ErrKindQueryFailed, "table insert failed", pgErr)
//
//	// In a caller, check error kind:
//	if errs.IsInvalidState(err) {
//	    // not connected, or transaction state did not allow the call
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing driver-specific codes.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindNotFound                 // table, geometry column or raster column missing
	ErrKindConnectionFailed         // cannot reach or authenticate to the server
	ErrKindTimeout                  // context deadline / cancellation
	ErrKindQueryFailed              // the server rejected a statement
	ErrKindInvalidInput             // bad arguments from the caller
	ErrKindPermissionDenied         // access denied
	ErrKindInvalidState             // no connection, already / not in transaction
	ErrKindAlreadyExists            // table or registry entry exists
	ErrKindDataShape                // result did not have the expected shape
	ErrKindPartial                  // bulk operation finished below its policy threshold
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindPermissionDenied:
		return "permission_denied"
	case ErrKindInvalidState:
		return "invalid_state"
	case ErrKindAlreadyExists:
		return "already_exists"
	case ErrKindDataShape:
		return "data_shape"
	case ErrKindPartial:
		return "partial"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all geopg subsystems.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with a format string.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsNotFound reports whether err represents a missing table or column.
func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return KindOf(err) == ErrKindConnectionFailed
}

// IsQueryFailed reports whether the server rejected a statement.
func IsQueryFailed(err error) bool {
	return KindOf(err) == ErrKindQueryFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return KindOf(err) == ErrKindPermissionDenied
}

// IsInvalidState reports whether the connection state did not allow the call.
func IsInvalidState(err error) bool {
	return KindOf(err) == ErrKindInvalidState
}

// IsAlreadyExists reports whether err is a duplicate table or registry entry.
func IsAlreadyExists(err error) bool {
	return KindOf(err) == ErrKindAlreadyExists
}

// IsDataShape reports whether a result failed post-query validation.
func IsDataShape(err error) bool {
	return KindOf(err) == ErrKindDataShape
}

// IsPartial reports whether a bulk operation stopped short of its policy.
func IsPartial(err error) bool {
	return KindOf(err) == ErrKindPartial
}

// KindOf extracts the ErrKind from any error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}

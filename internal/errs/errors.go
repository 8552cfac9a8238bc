// Package errs provides the unified error type used across all of contrag.
//
// Every subsystem (data sources, embedders, vector stores, pipeline)
// wraps its native errors into *errs.Error before returning them to
// callers. Callers use the Is* predicates to handle errors without
// importing driver-specific packages.
//
// Usage:
//
//	// In a driver — wrap native errors:
//	return errs.Wrap(errs.ErrKindUnavailable, "embedding request failed", httpErr)
//
//	// In a handler — check error kind:
//	if errs.IsNotFound(err) {
//	    http.Error(w, "not found", http.StatusNotFound)
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
// All backends (Postgres, MySQL, MinIO, OpenAI, …) map their native errors
// to one of these kinds, giving callers a single consistent API.
type ErrKind int

const (
	ErrKindUnknown ErrKind = iota

	// ErrKindNotFound covers missing rows, objects, entities, and
	// namespaces that were never built.
	ErrKindNotFound

	// ErrKindConnectionFailed means the backend could not be reached.
	ErrKindConnectionFailed

	// ErrKindTimeout covers context deadline and cancellation.
	ErrKindTimeout

	// ErrKindQueryFailed is a backend operation failure (SQL error,
	// storage I/O error, malformed response).
	ErrKindQueryFailed

	// ErrKindInvalidInput means the caller passed bad arguments
	// (e.g. a query vector with the wrong dimensions).
	ErrKindInvalidInput

	// ErrKindConfig is a configuration error detected up front,
	// before any backend call is attempted (e.g. overlap >= chunk size).
	ErrKindConfig

	// ErrKindUnavailable means a backend accepted the connection but the
	// call itself failed terminally for this build/query (provider outage,
	// non-2xx API response). Propagated to the pipeline caller.
	ErrKindUnavailable

	// ErrKindBranchFetch marks a recoverable relationship-branch fetch
	// failure. The graph builder absorbs these: the branch is dropped
	// and logged, sibling branches and the parent node are unaffected.
	ErrKindBranchFetch
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
	case ErrKindConfig:
		return "config"
	case ErrKindUnavailable:
		return "unavailable"
	case ErrKindBranchFetch:
		return "branch_fetch"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all contrag subsystems.
// Drivers produce it; callers inspect it via the Is* predicates below.
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

// Newf creates an *Error with a formatted message and no cause.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsNotFound reports whether err represents a "not found" result
// (no rows, missing object, unknown entity, unbuilt namespace).
func IsNotFound(err error) bool {
	return kindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return kindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return kindOf(err) == ErrKindConnectionFailed
}

// IsQueryFailed reports whether err is a backend operation failure.
func IsQueryFailed(err error) bool {
	return kindOf(err) == ErrKindQueryFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return kindOf(err) == ErrKindInvalidInput
}

// IsConfig reports whether err is a configuration error raised before
// any backend work was attempted.
func IsConfig(err error) bool {
	return kindOf(err) == ErrKindConfig
}

// IsUnavailable reports whether err is a terminal backend failure for
// the current call.
func IsUnavailable(err error) bool {
	return kindOf(err) == ErrKindUnavailable
}

// IsBranchFetch reports whether err is a recoverable relationship-branch
// fetch failure.
func IsBranchFetch(err error) bool {
	return kindOf(err) == ErrKindBranchFetch
}

// kindOf extracts the ErrKind from any error in the chain.
func kindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}

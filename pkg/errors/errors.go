// Package errors implements the core error taxonomy: a single sum type with
// variants for each error kind, carrying a source chain and a caller-location
// annotation.
package errors

import (
	"fmt"
	"runtime"
)

// Kind identifies which taxonomy variant an Error belongs to.
type Kind int

const (
	// Unknown is the zero value; should not be constructed directly.
	Unknown Kind = iota

	// Client covers malformed requests, unknown part_id, unsupported
	// block-parameter combinations, unauthorized. Reported as 4xx; not logged
	// above debug.
	Client

	// Auth covers invalid token, expired session, missing scope. 401/403;
	// logged at debug.
	Auth

	// NotFound covers unknown room/recording/part within a valid namespace. 404.
	NotFound

	// Timeout covers a blocked read that exceeded its deadline. Playlist
	// handlers convert this to "respond with current state"; part reads
	// convert it to 408.
	Timeout

	// Codec covers demuxer/encoder/muxer failures. Fatal to the affected
	// rendition; fatal to the session if no rendition survives.
	Codec

	// Storage covers object-store or database failure.
	Storage

	// Internal covers invariants violated in state machine code. Always 500;
	// logged at error; the session is torn down.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Client:
		return "client_error"
	case Auth:
		return "auth_error"
	case NotFound:
		return "not_found"
	case Timeout:
		return "timeout_error"
	case Codec:
		return "codec_error"
	case Storage:
		return "storage_error"
	case Internal:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Error is the core's single error type. All error kinds in the taxonomy are
// represented by this type with a distinguishing Kind.
type Error struct {
	Kind Kind

	Message string
	Cause   error
	Caller  string

	// Permanent distinguishes a StorageError that should not be retried
	// (e.g. a 4xx other than 408/429) from a transient one.
	Permanent bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the source chain to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

func caller() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// New creates a new Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Caller: caller()}
}

// Wrap wraps an existing error with a kind and message, preserving the
// source chain. Cancellation errors (context.Canceled) must never be passed
// here; they are distinguished from business errors and never accrue a chain.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause, Caller: caller()}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

// KindOf returns the Kind of err, or Unknown if err is not an *Error.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return Unknown
}

// Convenience constructors, one per taxonomy kind.

func NewClientError(message string) *Error {
	return New(Client, message)
}

func NewAuthError(message string) *Error {
	return New(Auth, message)
}

func NewNotFoundError(message string) *Error {
	return New(NotFound, message)
}

func NewTimeoutError(message string) *Error {
	return New(Timeout, message)
}

func NewCodecError(message string, cause error) *Error {
	return Wrap(Codec, message, cause)
}

// NewStorageError creates a StorageError. permanent distinguishes a definite
// 4xx-class failure (not retried) from a transient one (connection reset,
// 5xx, timeout — retried by the caller with backoff).
func NewStorageError(message string, cause error, permanent bool) *Error {
	e := Wrap(Storage, message, cause)
	e.Permanent = permanent
	return e
}

func NewInternalError(message string) *Error {
	return New(Internal, message)
}

package tool

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure categories recognized by the
// runtime. Kinds are assigned from the nature of a failure (deadline expired,
// transport refused, credentials rejected), never by inspecting error text.
type ErrorKind string

const (
	// KindValidation marks malformed or missing arguments. Validation
	// failures are never retried and never affect the circuit breaker.
	KindValidation ErrorKind = "validation"

	// KindTimeout marks a call that exceeded its per-attempt deadline.
	KindTimeout ErrorKind = "timeout"

	// KindNetwork marks connectivity failures and calls rejected because
	// the target's circuit is open.
	KindNetwork ErrorKind = "network"

	// KindAuth marks rejected credentials or insufficient permissions.
	KindAuth ErrorKind = "auth"

	// KindParse marks unreadable or malformed responses.
	KindParse ErrorKind = "parse"

	// KindCancelled marks caller-initiated cancellation. Cancellation
	// reflects caller intent rather than target health, so it is never
	// recorded against the circuit breaker.
	KindCancelled ErrorKind = "cancelled"

	// KindUnknown is everything a tool did not classify itself.
	KindUnknown ErrorKind = "unknown"
)

// Error is a classified tool failure.
//
// Tool implementations return *Error when they can name the failure
// category; the runtime preserves the kind through retries and fallbacks so
// the caller always sees why the last attempt failed.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error { return e.Cause }

// Errorf builds a classified error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error, keeping it
// reachable through errors.Unwrap.
func Wrap(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// KindOf classifies an error by its nature.
//
// A *Error anywhere in the chain wins. Context errors map to KindTimeout
// (deadline) and KindCancelled (cancellation). Everything else is
// KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindUnknown
}

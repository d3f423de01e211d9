package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure. Every engine operation returns either a
// typed success value or exactly one Error; there is no partial success.
type Kind string

const (
	KindValidation            Kind = "VALIDATION_ERROR"
	KindNotFound              Kind = "NOT_FOUND"
	KindForbidden             Kind = "FORBIDDEN"
	KindNotVerified           Kind = "NOT_VERIFIED"
	KindInvalidTransition     Kind = "INVALID_TRANSITION"
	KindInvalidState          Kind = "INVALID_STATE"
	KindDependencyUnavailable Kind = "DEPENDENCY_UNAVAILABLE"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error // optional wrapped cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind sentinels built with New.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(KindForbidden, format, args...)
}

func NotVerified(format string, args ...any) *Error {
	return New(KindNotVerified, format, args...)
}

func InvalidTransition(current, requested string) *Error {
	return New(KindInvalidTransition, "cannot move from %s to %s", current, requested)
}

func InvalidState(format string, args ...any) *Error {
	return New(KindInvalidState, format, args...)
}

func Unavailable(err error, message string) *Error {
	return Wrap(KindDependencyUnavailable, err, message)
}

// KindOf extracts the kind from any error; unknown errors report as
// DEPENDENCY_UNAVAILABLE so callers treat them as transient.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDependencyUnavailable
}

// Package apperr defines the error kinds surfaced by the storefront service.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation          Kind = "ValidationError"
	KindNotFound            Kind = "NotFound"
	KindMisconfigured       Kind = "Misconfigured"
	KindProviderUnavailable Kind = "ProviderUnavailable"
	KindUpstream            Kind = "UpstreamError"
	KindDuplicateIdentity   Kind = "DuplicateIdentity"
	KindPersistence         Kind = "PersistenceError"
	KindConflict            Kind = "Conflict"
	KindInternal            Kind = "Internal"
)

// Error carries a kind and a human-readable message. Err is the underlying cause, if any.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...), nil)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...), nil)
}

func Misconfigured(format string, args ...any) *Error {
	return New(KindMisconfigured, fmt.Sprintf(format, args...), nil)
}

func ProviderUnavailable(format string, args ...any) *Error {
	return New(KindProviderUnavailable, fmt.Sprintf(format, args...), nil)
}

func Upstream(msg string, err error) *Error {
	return New(KindUpstream, msg, err)
}

func DuplicateIdentity(format string, args ...any) *Error {
	return New(KindDuplicateIdentity, fmt.Sprintf(format, args...), nil)
}

func Persistence(msg string, err error) *Error {
	return New(KindPersistence, msg, err)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...), nil)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the human-readable message without the wrapped cause.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

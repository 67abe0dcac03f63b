// Package apperr defines the error kinds that cross the service/HTTP boundary.
//
// Services return *Error values (or wrap them) for conditions the caller can
// act on. Anything else is treated as an internal failure by the API layer.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an application error.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindAuth        Kind = "auth"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindUnavailable Kind = "unavailable"
)

// Error is an application error with a kind, a client-safe message and
// optional structured details.
type Error struct {
	Kind    Kind
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports bad or missing input.
func Validation(message string, details any) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: details}
}

// Auth reports a missing or rejected credential.
func Auth(message string) *Error {
	return &Error{Kind: KindAuth, Message: message}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: resource + " not found",
		Details: map[string]string{"id": id},
	}
}

// Conflict reports a request that collides with work already in progress.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// Unavailable reports a temporarily saturated dependency.
func Unavailable(message string, err error) *Error {
	return &Error{Kind: KindUnavailable, Message: message, Err: err}
}

// Wrap attaches a kind to an existing error, keeping it in the chain.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

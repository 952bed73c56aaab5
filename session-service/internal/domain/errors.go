package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable category sent to clients.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "NotFound"
	KindUnauthorized      ErrorKind = "Unauthorized"
	KindValidationFailed  ErrorKind = "ValidationFailed"
	KindEditWindowExpired ErrorKind = "EditWindowExpired"
	KindServerError       ErrorKind = "ServerError"
)

// Error is a guard failure scoped to the session that caused it.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...interface{}) *Error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func Invalid(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidationFailed, Message: fmt.Sprintf(format, args...)}
}

func EditWindowExpired(format string, args ...interface{}) *Error {
	return &Error{Kind: KindEditWindowExpired, Message: fmt.Sprintf(format, args...)}
}

// Upstream wraps a collaborator failure. The wrapped error is logged, never
// sent to the client.
func Upstream(err error) *Error {
	return &Error{Kind: KindServerError, Message: "internal server error", Err: err}
}

// AsError classifies err, treating anything unrecognised as an upstream
// failure.
func AsError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return Upstream(err)
}

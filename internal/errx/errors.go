// Package errx carries the coded error taxonomy shared across the
// compilation pipeline. Codes are matched with Is, never by string.
package errx

import (
	"errors"
	"fmt"
)

type Code string

const (
	// CodeSecurityRejection marks a list URL that failed HTTPS validation.
	// Fatal: the URL is never fetched.
	CodeSecurityRejection Code = "SECURITY_REJECTION"
	// CodeFetchFailure marks a network or HTTP-level fetch error.
	CodeFetchFailure Code = "FETCH_FAILURE"
	// CodeQuotaExceeded marks a persistent-store write that was too large.
	CodeQuotaExceeded Code = "QUOTA_EXCEEDED"
	// CodeCapacityExceeded marks exhaustion of a rule id range.
	CodeCapacityExceeded Code = "CAPACITY_EXCEEDED"
)

type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error with a code and message.
func New(code Code, msg string) *Error { return &Error{Code: code, Msg: msg} }

// Newf creates an error with a code and formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, err error, msg string) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

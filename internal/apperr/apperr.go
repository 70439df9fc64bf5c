// Package apperr defines the error taxonomy surfaced to callers.
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers.
type Code string

const (
	// CodeStaleReference means the ordinal is absent, expired, evicted or invalidated.
	CodeStaleReference Code = "STALE_REFERENCE"
	// CodeProviderUnavailable means no provider call in the operation could complete.
	CodeProviderUnavailable Code = "PROVIDER_UNAVAILABLE"
	// CodeInvalidWindow means the date window is empty, reversed or exceeds the kind's bound.
	CodeInvalidWindow Code = "INVALID_WINDOW"
	// CodeNotFound means the referenced item no longer exists in the provider.
	CodeNotFound Code = "NOT_FOUND"
	// CodeInvalidArgument means a request parameter is malformed.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	// CodeDisabled means the operation is switched off by configuration.
	CodeDisabled Code = "DISABLED"
	// CodeUnsupported means the provider cannot perform the operation.
	CodeUnsupported Code = "UNSUPPORTED"
)

// Error carries a Code, a message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so errors.Is(err, apperr.ErrNotFound) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Cause == nil
}

// Sentinels for errors.Is checks.
var (
	ErrStaleReference      = &Error{Code: CodeStaleReference}
	ErrProviderUnavailable = &Error{Code: CodeProviderUnavailable}
	ErrInvalidWindow       = &Error{Code: CodeInvalidWindow}
	ErrNotFound            = &Error{Code: CodeNotFound}
	ErrInvalidArgument     = &Error{Code: CodeInvalidArgument}
	ErrDisabled            = &Error{Code: CodeDisabled}
	ErrUnsupported         = &Error{Code: CodeUnsupported}
)

// New creates an error with the given code.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error with the given code around cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// StaleReference reports an ordinal that no longer resolves.
func StaleReference(kind fmt.Stringer, ordinal int) *Error {
	return New(CodeStaleReference, "%s #%d is no longer valid, list again", kind, ordinal)
}

// ProviderUnavailable reports that the provider could not be reached.
func ProviderUnavailable(cause error, format string, args ...any) *Error {
	return Wrap(CodeProviderUnavailable, cause, format, args...)
}

// InvalidWindow reports a rejected date window.
func InvalidWindow(format string, args ...any) *Error {
	return New(CodeInvalidWindow, format, args...)
}

// NotFound reports a missing provider item.
func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

// InvalidArgument reports a malformed parameter.
func InvalidArgument(format string, args ...any) *Error {
	return New(CodeInvalidArgument, format, args...)
}

// Disabled reports a gated operation.
func Disabled(tool string) *Error {
	return New(CodeDisabled, "%s is disabled by configuration", tool)
}

// Unsupported reports an operation the provider cannot perform.
func Unsupported(format string, args ...any) *Error {
	return New(CodeUnsupported, format, args...)
}

// CodeOf extracts the code of the first *Error in err's chain.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// IsCode reports whether err's chain carries an *Error with the given code.
func IsCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

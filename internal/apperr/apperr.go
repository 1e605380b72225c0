// Package apperr defines the structured errors returned across vigil's facade
// boundaries. Each error carries a code so callers (HTTP handlers, the CLI)
// can map failures without string matching.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes.
const (
	CodeConnection = "CONNECTION"
	CodeProtocol   = "PROTOCOL"
	CodeConfig     = "CONFIG"
	CodeValidation = "VALIDATION"
)

// Reason refines a CONFIG error.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonMissingDirective   Reason = "missing-directive"
	ReasonMalformedDirective Reason = "malformed-directive"
	ReasonMissingModuleFile  Reason = "missing-module-file"
	ReasonMissingSocketFile  Reason = "missing-socket-file"
	ReasonUnreadable         Reason = "unreadable"
)

// Error is a structured error with a code, an optional reason, a message,
// a suggestion for the operator, and an optional cause.
type Error struct {
	Code       string
	Reason     Reason
	Message    string
	Suggestion string
	Cause      error
}

// New creates an error with the given code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps cause with a code and message.
func Wrap(cause error, code, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Config creates a CONFIG error with a reason and a suggestion.
func Config(reason Reason, message, suggestion string) *Error {
	return &Error{Code: CodeConfig, Reason: reason, Message: message, Suggestion: suggestion}
}

// Connection wraps a transport failure.
func Connection(cause error, format string, args ...any) *Error {
	return &Error{Code: CodeConnection, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Protocol creates a PROTOCOL error for a reply that could not be understood.
func Protocol(format string, args ...any) *Error {
	return &Error{Code: CodeProtocol, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a VALIDATION error for bad caller input.
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// WithSuggestion sets the suggestion and returns e.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	if e.Suggestion != "" {
		b.WriteString(" (")
		b.WriteString(e.Suggestion)
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// ReasonOf returns the config reason carried by err, if any.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonNone
}

// CodeOf returns the code carried by err, or "" for foreign errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

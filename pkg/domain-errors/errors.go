// Package domainerrors carries coded errors across layers. Services return
// these; transports map the code to a status without inspecting messages.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code is a stable, client-visible error identifier.
type Code string

const (
	CodeValidation         Code = "validation_error"
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeUnavailable        Code = "unavailable"
	CodeTimeout            Code = "timeout"
	CodeBusy               Code = "busy"
	CodeInternal           Code = "internal_error"
	CodeInvariantViolation Code = "invariant_violation"
)

// FieldError names a single rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the coded domain error.
type Error struct {
	Code    Code
	Message string
	// Reason refines Code for callers that branch on it (e.g. "retry_limit").
	Reason string
	Fields []FieldError
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// WithReason creates a coded error carrying a machine-readable reason.
func WithReason(code Code, reason, msg string) error {
	return &Error{Code: code, Reason: reason, Message: msg}
}

// Validation creates a CodeValidation error listing the failing fields.
func Validation(msg string, fields ...FieldError) error {
	return &Error{Code: CodeValidation, Message: msg, Fields: fields}
}

// As returns the outermost coded error in the chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether the outermost coded error in err's chain has code.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// Is is an alias of HasCode kept for call-site readability in tests.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// ReasonOf returns the reason attached to the outermost coded error.
func ReasonOf(err error) string {
	if de, ok := As(err); ok {
		return de.Reason
	}
	return ""
}

package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Registry and validation error codes
const (
	ErrUnknownOperation   ErrorCode = "UNKNOWN_OPERATION"
	ErrDuplicateOperation ErrorCode = "DUPLICATE_OPERATION"
	ErrValidation         ErrorCode = "VALIDATION"
)

// Graph wiring error codes
const (
	ErrSelfConnection    ErrorCode = "SELF_CONNECTION"
	ErrDanglingReference ErrorCode = "DANGLING_REFERENCE"
	ErrAmbiguousOutput   ErrorCode = "AMBIGUOUS_OUTPUT"
	ErrDuplicateStep     ErrorCode = "DUPLICATE_STEP"
	ErrCycle             ErrorCode = "CYCLE"
)

// Workspace and invocation error codes
const (
	ErrDependentResource           ErrorCode = "DEPENDENT_RESOURCE"
	ErrUnsupportedProvenanceTarget ErrorCode = "UNSUPPORTED_PROVENANCE_TARGET"
	ErrWorkspaceClosed             ErrorCode = "WORKSPACE_CLOSED"
	ErrCancelled                   ErrorCode = "CANCELLED"
	ErrStoreClosed                 ErrorCode = "STORE_CLOSED"
	ErrNotFound                    ErrorCode = "NOT_FOUND"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Operation string    `json:"operation,omitempty"`
	Input     string    `json:"input,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Operation != "" {
		msg = fmt.Sprintf("operation %q: %s", e.Operation, msg)
	}
	if e.Input != "" {
		msg = fmt.Sprintf("%s (input %q)", msg, e.Input)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithOperation records the operation the error originated from.
func (e *Error) WithOperation(name string) *Error {
	e.Operation = name
	return e
}

// WithInput records the input argument that caused the error.
func (e *Error) WithInput(name string) *Error {
	e.Input = name
	return e
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

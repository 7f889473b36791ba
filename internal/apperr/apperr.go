package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a category of failure surfaced to API callers.
type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeConflict            Code = "CONFLICT"
	CodeNotFound            Code = "NOT_FOUND"
	CodeSessionBusy         Code = "SESSION_BUSY"
	CodeSessionNotConnected Code = "SESSION_NOT_CONNECTED"
	CodeAdapter             Code = "ADAPTER_ERROR"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// Error is a structured error carrying a stable code for API responses.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithCause attaches an underlying error.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Validation(message string) *Error {
	return New(CodeValidation, message)
}

func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

func NotFound(resource string) *Error {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func SessionBusy(sessionID string) *Error {
	return New(CodeSessionBusy, fmt.Sprintf("session %s has a command in flight", sessionID))
}

func SessionNotConnected(sessionID string) *Error {
	return New(CodeSessionNotConnected, fmt.Sprintf("session %s is not connected", sessionID))
}

func Adapter(reason string) *Error {
	return New(CodeAdapter, reason)
}

func Internal(message string, cause error) *Error {
	return &Error{Code: CodeInternal, Message: message, cause: cause}
}

// As converts err to *Error when possible.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of err, or CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error code to its HTTP response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeSessionBusy, CodeSessionNotConnected:
		return http.StatusConflict
	case CodeAdapter:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ABOUTME: Structured SDK errors mapping HTTP statuses and protocol error codes
// ABOUTME: Supports errors.Is comparison by code

package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/mentorhq/chatsync/internal/event"
)

// ErrorCode categorizes SDK errors.
type ErrorCode int

const (
	// Server-reported errors.
	ErrorUnknown ErrorCode = iota
	ErrorBadRequest
	ErrorUnauthorized
	ErrorForbidden
	ErrorNotFound
	ErrorInternalServer

	// Client-side errors.
	ErrorConnection
	ErrorNotConnected
	ErrorClosed
	ErrorSerialization
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorBadRequest:
		return "bad_request"
	case ErrorUnauthorized:
		return "unauthorized"
	case ErrorForbidden:
		return "forbidden"
	case ErrorNotFound:
		return "not_found"
	case ErrorInternalServer:
		return "internal_error"
	case ErrorConnection:
		return "connection_error"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorClosed:
		return "closed"
	case ErrorSerialization:
		return "serialization_error"
	default:
		return fmt.Sprintf("unknown_code_%d", int(e))
	}
}

// Error is a structured SDK error with a code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is matches errors by code so callers can compare against NewError(code, "").
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates an Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with a code and message.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Wrapped: err}
}

// statusErrorCode maps an HTTP status to an ErrorCode.
func statusErrorCode(status int) ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return ErrorBadRequest
	case http.StatusUnauthorized:
		return ErrorUnauthorized
	case http.StatusForbidden:
		return ErrorForbidden
	case http.StatusNotFound:
		return ErrorNotFound
	case http.StatusInternalServerError:
		return ErrorInternalServer
	default:
		return ErrorUnknown
	}
}

// parseProtocolCode converts a protocol error code string to an ErrorCode.
func parseProtocolCode(code string) ErrorCode {
	switch code {
	case event.CodeBadRequest:
		return ErrorBadRequest
	case event.CodeUnauthorized:
		return ErrorUnauthorized
	case event.CodeForbidden:
		return ErrorForbidden
	case event.CodeNotFound:
		return ErrorNotFound
	case event.CodeInternal:
		return ErrorInternalServer
	default:
		return ErrorUnknown
	}
}

// fromProtocolError converts a channel protocol error payload to an Error.
func fromProtocolError(e *event.Error) *Error {
	if e == nil {
		return nil
	}
	return &Error{Code: parseProtocolCode(e.Code), Message: e.Msg}
}

// HasCode reports whether err carries the given SDK error code.
func HasCode(err error, code ErrorCode) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// Package apperror carries the error taxonomy of the delivery service.
// Every error that reaches an HTTP response is an AppError so the client only
// ever sees the Message, never the Internal cause.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error types.
const (
	TypeValidation    = "validation_error"
	TypeAuthorization = "authorization_error"
	TypeNotFound      = "not_found"
	TypeUpstream      = "upstream_error"
	TypeStorage       = "storage_error"
	TypeExecution     = "execution_fault"
	TypeInternal      = "internal_error"
)

// AppError is the base error for everything surfaced at the boundary.
type AppError struct {
	// Code is the HTTP status code.
	Code int `json:"-"`

	// Type is the machine-readable classifier.
	Type string `json:"type"`

	// Message is safe to show to the caller.
	Message string `json:"message"`

	// Internal is logged, never exposed.
	Internal error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Type, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error { return e.Internal }

// NewValidation creates a 400 for bad input shape.
func NewValidation(message string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Type: TypeValidation, Message: message}
}

// NewAuthorization creates a 403 for missing capabilities.
func NewAuthorization(message string) *AppError {
	return &AppError{Code: http.StatusForbidden, Type: TypeAuthorization, Message: message}
}

// NewNotFound creates a 404.
func NewNotFound(message string) *AppError {
	return &AppError{Code: http.StatusNotFound, Type: TypeNotFound, Message: message}
}

// NewUpstream wraps a third-party failure into a 502 with a user-facing message.
func NewUpstream(message string, err error) *AppError {
	return &AppError{Code: http.StatusBadGateway, Type: TypeUpstream, Message: message, Internal: err}
}

// NewStorage wraps a persistence failure into a 503.
func NewStorage(err error) *AppError {
	return &AppError{
		Code:     http.StatusServiceUnavailable,
		Type:     TypeStorage,
		Message:  "Storage is temporarily unavailable. Please try again.",
		Internal: err,
	}
}

// NewExecution wraps a fault raised by author-supplied code.
func NewExecution(itemID string, err error) *AppError {
	return &AppError{
		Code:     http.StatusInternalServerError,
		Type:     TypeExecution,
		Message:  fmt.Sprintf("item %s failed to execute", itemID),
		Internal: err,
	}
}

// NewInternal creates a 500 with a generic message.
func NewInternal(err error) *AppError {
	return &AppError{
		Code:     http.StatusInternalServerError,
		Type:     TypeInternal,
		Message:  "An unexpected error occurred. Please try again.",
		Internal: err,
	}
}

// As returns the AppError in err's chain, or wraps err as internal.
func As(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternal(err)
}

// SafeMessage returns the client-safe message for err.
func SafeMessage(err error) string {
	return As(err).Message
}

// IsType reports whether err is an AppError of the given type.
func IsType(err error, typ string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == typ
}

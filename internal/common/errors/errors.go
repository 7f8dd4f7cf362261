// Package errors provides custom error types for the Nolan control plane.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAlreadyExists     = "ALREADY_EXISTS"
	ErrCodeAlreadyConfigured = "ALREADY_CONFIGURED"
	ErrCodeInvalid           = "INVALID"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeProtected         = "PROTECTED"
	ErrCodeSpawnFailed       = "SPAWN_FAILED"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeUnavailable       = "UNAVAILABLE"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// AppError represents an application-specific error with additional context.
// Details carries the lower layer's message verbatim (multiplexer stderr,
// child-process output) and is surfaced unmodified on the HTTP edge.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Details)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a lower-layer message to the error.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// AlreadyExists creates a new already exists error for a resource.
func AlreadyExists(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeAlreadyExists,
		Message:    fmt.Sprintf("%s '%s' already exists", resource, id),
		HTTPStatus: http.StatusConflict,
	}
}

// AlreadyConfigured creates an error for re-running one-time setup.
func AlreadyConfigured(what string) *AppError {
	return &AppError{
		Code:       ErrCodeAlreadyConfigured,
		Message:    fmt.Sprintf("%s is already configured", what),
		HTTPStatus: http.StatusConflict,
	}
}

// Invalid creates a new validation error for a grammar violation.
func Invalid(message string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalid,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Unauthorized creates a new unauthorized error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Protected signals an attempt to act on an infrastructure session.
func Protected(session string) *AppError {
	return &AppError{
		Code:       ErrCodeProtected,
		Message:    fmt.Sprintf("session '%s' is protected infrastructure and cannot be modified", session),
		HTTPStatus: http.StatusForbidden,
	}
}

// SpawnFailed creates an error for a multiplexer or child launch failure.
func SpawnFailed(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeSpawnFailed,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Unavailable creates an error for a missing optional dependency.
func Unavailable(dependency string) *AppError {
	return &AppError{
		Code:       ErrCodeUnavailable,
		Message:    fmt.Sprintf("'%s' is not available", dependency),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// Conflict creates a new conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// InternalError creates a new internal server error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			Details:    appErr.Details,
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	// Otherwise, wrap as an internal error
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// IsProtected checks if the error is a protected-session error.
func IsProtected(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeProtected
	}
	return false
}

// IsConflict checks if the error is a conflict error.
func IsConflict(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeConflict
	}
	return false
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

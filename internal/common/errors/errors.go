// Package errors provides custom error types for the discode bridge.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"

	// Hook pipeline taxonomy
	ErrCodeEnvelopeInvalid    = "ENVELOPE_INVALID"
	ErrCodeProjectNotFound    = "PROJECT_NOT_FOUND"
	ErrCodeChannelUnresolved  = "CHANNEL_UNRESOLVED"
	ErrCodeWindowMissing      = "WINDOW_MISSING"
	ErrCodeRuntimeUnavailable = "RUNTIME_UNAVAILABLE"
	ErrCodeOversize           = "OVERSIZE"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// EnvelopeInvalid creates an error for a malformed hook event body.
func EnvelopeInvalid(message string) *AppError {
	return &AppError{
		Code:       ErrCodeEnvelopeInvalid,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// ProjectNotFound creates an error for an unresolvable project name.
func ProjectNotFound(project string) *AppError {
	return &AppError{
		Code:       ErrCodeProjectNotFound,
		Message:    fmt.Sprintf("project %q not found", project),
		HTTPStatus: http.StatusBadRequest,
	}
}

// ChannelUnresolved creates an error for an instance without a chat channel.
func ChannelUnresolved(project, instanceKey string) *AppError {
	return &AppError{
		Code:       ErrCodeChannelUnresolved,
		Message:    fmt.Sprintf("no channel for project %q instance %q", project, instanceKey),
		HTTPStatus: http.StatusBadRequest,
	}
}

// WindowMissing creates an error for a terminal window that disappeared.
func WindowMissing(windowID string) *AppError {
	return &AppError{
		Code:       ErrCodeWindowMissing,
		Message:    fmt.Sprintf("terminal window %q not found", windowID),
		HTTPStatus: http.StatusNotFound,
	}
}

// RuntimeUnavailable creates an error for runtime-control calls without a runtime.
func RuntimeUnavailable() *AppError {
	return &AppError{
		Code:       ErrCodeRuntimeUnavailable,
		Message:    "no terminal runtime configured",
		HTTPStatus: http.StatusNotImplemented,
	}
}

// Oversize creates an error for request bodies above the size limit.
func Oversize(limit int64) *AppError {
	return &AppError{
		Code:       ErrCodeOversize,
		Message:    fmt.Sprintf("request body exceeds %d bytes", limit),
		HTTPStatus: http.StatusRequestEntityTooLarge,
	}
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a new bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
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

// InternalError creates a new internal server error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ValidationError creates a new validation error for a specific field.
func ValidationError(field string, message string) *AppError {
	return &AppError{
		Code:       ErrCodeValidationError,
		Message:    fmt.Sprintf("validation failed for field '%s': %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

// ServiceUnavailable creates a new service unavailable error.
func ServiceUnavailable(service string) *AppError {
	return &AppError{
		Code:       ErrCodeServiceUnavailable,
		Message:    fmt.Sprintf("service '%s' is currently unavailable", service),
		HTTPStatus: http.StatusServiceUnavailable,
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
		return appErr.Code == ErrCodeNotFound || appErr.Code == ErrCodeWindowMissing
	}
	return false
}

// IsWindowMissing checks if the error reports a disappeared terminal window.
func IsWindowMissing(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeWindowMissing
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

// Package errors defines the error codes and error type returned by the HTTP
// API.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode is the machine readable error identifier sent to clients.
type ErrorCode string

const (
	// ErrValidationFailed is returned when input data fails validation.
	ErrValidationFailed ErrorCode = "VALIDATION_FAILED"
	// ErrMissingField is returned when a required field is missing.
	ErrMissingField ErrorCode = "MISSING_FIELD"
	// ErrInvalidName is returned for page names that cannot map to a file.
	ErrInvalidName ErrorCode = "INVALID_NAME"
	// ErrMalformedRevision is returned when a revision does not resolve.
	ErrMalformedRevision ErrorCode = "MALFORMED_REVISION"
	// ErrReadOnlyRevision is returned when writing to a pinned revision.
	ErrReadOnlyRevision ErrorCode = "READ_ONLY_REVISION"
	// ErrPayloadTooLarge is returned when the request body exceeds the limit.
	ErrPayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"

	// ErrNotFound is returned when a route or resource does not exist.
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrPageNotFound is returned by strict page lookups.
	ErrPageNotFound ErrorCode = "PAGE_NOT_FOUND"

	// ErrCommitFailed is returned when a save could not be committed. The
	// client may retry with the same content.
	ErrCommitFailed ErrorCode = "COMMIT_FAILED"
	// ErrRateLimited is returned when the client sent too many writes.
	ErrRateLimited ErrorCode = "RATE_LIMITED"
	// ErrInternal is returned when an unexpected server error occurs.
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// ErrorWithStatus is an error that includes an HTTP status code and error code.
type ErrorWithStatus interface {
	Error() string
	StatusCode() int
	Code() ErrorCode
	Details() map[string]any
}

// APIError is a concrete error type with status code, code, and optional details.
type APIError struct {
	statusCode int
	code       ErrorCode
	message    string
	details    map[string]any
	wrappedErr error
}

// NewAPIError creates a new APIError with the given status code and message.
func NewAPIError(statusCode int, code ErrorCode, message string) *APIError {
	return &APIError{
		statusCode: statusCode,
		code:       code,
		message:    message,
	}
}

// WithDetail adds a single detail to the error.
func (e *APIError) WithDetail(key string, value any) *APIError {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error.
func (e *APIError) Wrap(err error) *APIError {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// Message returns the client facing message, without the wrapped error.
func (e *APIError) Message() string {
	return e.message
}

// StatusCode returns the HTTP status code.
func (e *APIError) StatusCode() int {
	return e.statusCode
}

// Code returns the error code.
func (e *APIError) Code() ErrorCode {
	return e.code
}

// Details returns additional error details.
func (e *APIError) Details() map[string]any {
	return e.details
}

// Unwrap returns the wrapped error if any.
func (e *APIError) Unwrap() error {
	return e.wrappedErr
}

// NotFound creates a 404 Not Found error.
func NotFound(resource string) *APIError {
	return NewAPIError(http.StatusNotFound, ErrNotFound, fmt.Sprintf("%s not found", resource))
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrValidationFailed, message)
}

// MissingField creates a 400 Bad Request error for a missing field.
func MissingField(fieldName string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrMissingField, fmt.Sprintf("Missing required field: %s", fieldName))
}

// TooManyRequests creates a 429 error.
func TooManyRequests() *APIError {
	return NewAPIError(http.StatusTooManyRequests, ErrRateLimited, "Too many requests")
}

// Internal creates a 500 error hiding err from the client.
func Internal(err error) *APIError {
	return NewAPIError(http.StatusInternalServerError, ErrInternal, "Internal server error").Wrap(err)
}

package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across codexmirror.
type ErrorCode string

// Request and pipeline error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrPipeline           ErrorCode = "PIPELINE_FAILED"
	ErrMediaGeneration    ErrorCode = "MEDIA_GENERATION_FAILED"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrSuperseded         ErrorCode = "SUPERSEDED"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Upstream error codes, aligned with llm.ErrorCode values.
const (
	ErrUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrForbidden           ErrorCode = "FORBIDDEN"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrContentFiltered     ErrorCode = "CONTENT_FILTERED"
	ErrUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError       ErrorCode = "UPSTREAM_ERROR"
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// AsError extracts a *Error from anywhere in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// NewInvalidRequestError reports input that was rejected before any upstream call.
func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message).WithHTTPStatus(400)
}

// NewMediaError wraps a media generation failure.
func NewMediaError(message string, cause error) *Error {
	return NewError(ErrMediaGeneration, message).WithCause(cause).WithHTTPStatus(502)
}

// NewPipelineError wraps a dispatch pipeline failure.
func NewPipelineError(message string, cause error) *Error {
	return NewError(ErrPipeline, message).WithCause(cause).WithHTTPStatus(500)
}

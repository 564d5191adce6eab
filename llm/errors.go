package llm

import (
	"context"
	"errors"
	"net/http"

	"github.com/BaSui01/codexmirror/types"
)

// 统一的网关错误码，与 types.ErrorCode 取值对齐，便于 API 层直接映射 HTTP 状态。
type ErrorCode = types.ErrorCode

const (
	ErrInvalidRequest      = types.ErrInvalidRequest
	ErrUnauthorized        = types.ErrUnauthorized
	ErrForbidden           = types.ErrForbidden
	ErrRateLimited         = types.ErrRateLimited
	ErrContentFiltered     = types.ErrContentFiltered
	ErrUpstreamTimeout     = types.ErrUpstreamTimeout
	ErrUpstreamError       = types.ErrUpstreamError
	ErrProviderUnavailable = types.ErrProviderUnavailable
)

// Error is a failure reported by a gateway backend.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// ToTypes converts e into the shared error type.
func (e *Error) ToTypes() *types.Error {
	return types.NewError(e.Code, e.Message).
		WithHTTPStatus(e.HTTPStatus).
		WithRetryable(e.Retryable).
		WithProvider(e.Provider).
		WithCause(e.Cause)
}

// IsRetryable reports whether err is a gateway error worth another attempt.
// Context cancellation never is.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsClientError reports whether err was caused by the request rather than
// the backend's health. Such failures do not count against a circuit breaker.
func IsClientError(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code {
	case ErrInvalidRequest, ErrUnauthorized, ErrForbidden, ErrContentFiltered:
		return true
	}
	return false
}

// MapHTTPStatus maps an upstream status code to a gateway error.
func MapHTTPStatus(status int, msg, provider string) *Error {
	e := &Error{Message: msg, HTTPStatus: status, Provider: provider}
	switch {
	case status == http.StatusUnauthorized:
		e.Code = ErrUnauthorized
	case status == http.StatusForbidden:
		e.Code = ErrForbidden
	case status == http.StatusTooManyRequests:
		e.Code = ErrRateLimited
		e.Retryable = true
	case status == http.StatusBadRequest || status == http.StatusNotFound || status == http.StatusUnprocessableEntity:
		e.Code = ErrInvalidRequest
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e.Code = ErrUpstreamTimeout
		e.Retryable = true
	case status == http.StatusServiceUnavailable || status == 529:
		e.Code = ErrProviderUnavailable
		e.Retryable = true
	case status >= 500:
		e.Code = ErrUpstreamError
		e.Retryable = true
	default:
		e.Code = ErrUpstreamError
	}
	return e
}

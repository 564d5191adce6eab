package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("gemini")

	assert.Equal(t, ErrUpstreamError, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, root)
	assert.Equal(t, "[UPSTREAM_ERROR] upstream failed: root", err.Error())
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	inner := NewMediaError("video failed", errors.New("boom"))
	wrapped := fmt.Errorf("generate: %w", inner)

	got, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, got)
	assert.True(t, IsErrorCode(wrapped, ErrMediaGeneration))
	assert.False(t, IsErrorCode(wrapped, ErrInvalidRequest))
	assert.Equal(t, http.StatusBadGateway, got.HTTPStatus)
}

func TestError_PlainErrors(t *testing.T) {
	t.Parallel()

	plain := errors.New("plain")
	assert.Equal(t, ErrorCode(""), GetErrorCode(plain))
	assert.False(t, IsRetryable(plain))
	_, ok := AsError(plain)
	assert.False(t, ok)
}

func TestError_Constructors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    *Error
		code   ErrorCode
		status int
	}{
		{"invalid", NewInvalidRequestError("bad"), ErrInvalidRequest, http.StatusBadRequest},
		{"media", NewMediaError("bad", nil), ErrMediaGeneration, http.StatusBadGateway},
		{"pipeline", NewPipelineError("bad", nil), ErrPipeline, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
			assert.Equal(t, "["+string(tt.code)+"] bad", tt.err.Error())
		})
	}
}

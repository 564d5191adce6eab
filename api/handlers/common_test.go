package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BaSui01/codexmirror/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusAccepted, []int{1, 2, 3})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `[1,2,3]`, w.Body.String())
}

func TestWriteSuccess_CarriesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set(RequestIDHeader, "req-42")

	WriteSuccess(w, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "req-42", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		code   types.ErrorCode
		status int
	}{
		{types.ErrInvalidRequest, http.StatusBadRequest},
		{types.ErrUnauthorized, http.StatusUnauthorized},
		{types.ErrForbidden, http.StatusForbidden},
		{types.ErrNotFound, http.StatusNotFound},
		{types.ErrSuperseded, http.StatusConflict},
		{types.ErrPipeline, http.StatusInternalServerError},
		{types.ErrRateLimited, http.StatusTooManyRequests},
		{types.ErrContentFiltered, http.StatusUnprocessableEntity},
		{types.ErrUpstreamTimeout, http.StatusGatewayTimeout},
		{types.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{types.ErrProviderUnavailable, http.StatusServiceUnavailable},
		{types.ErrUpstreamError, http.StatusBadGateway},
		{types.ErrMediaGeneration, http.StatusBadGateway},
		{types.ErrInternalError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, types.NewError(tt.code, "boom").WithRetryable(true), zap.NewNop())

			assert.Equal(t, tt.status, w.Code)
			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.code), resp.Error.Code)
			assert.Equal(t, "boom", resp.Error.Message)
			assert.True(t, resp.Error.Retryable)
		})
	}
}

func TestWriteError_ExplicitStatusWins(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "nope", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

type convertible struct{}

func (convertible) Error() string { return "converted" }
func (convertible) ToTypes() *types.Error {
	return types.NewError(types.ErrRateLimited, "slow down")
}

func TestToTypesError(t *testing.T) {
	te := types.NewPipelineError("invocation superseded", nil)
	assert.Same(t, te, ToTypesError(fmt.Errorf("wrapped: %w", te)))

	assert.Equal(t, types.ErrRateLimited, ToTypesError(fmt.Errorf("x: %w", convertible{})).Code)

	plain := errors.New("disk on fire")
	got := ToTypesError(plain)
	assert.Equal(t, types.ErrInternalError, got.Code)
	assert.Equal(t, "internal error", got.Message)
	assert.ErrorIs(t, got, plain)
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name       string
		body       string
		wantErr    bool
		wantStatus int
	}{
		{name: "valid", body: `{"name":"alpha"}`},
		{name: "empty", body: "", wantErr: true, wantStatus: http.StatusBadRequest},
		{name: "malformed", body: `{"name":`, wantErr: true, wantStatus: http.StatusBadRequest},
		{name: "unknown field", body: `{"name":"a","extra":1}`, wantErr: true, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.body != "" {
				r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			}
			w := httptest.NewRecorder()

			var dst payload
			err := DecodeJSONBody(w, r, &dst, zap.NewNop())
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "alpha", dst.Name)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestDecodeJSONBody_TooLarge(t *testing.T) {
	old := maxBodyBytes
	maxBodyBytes = 16
	defer func() { maxBodyBytes = old }()

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"`+strings.Repeat("x", 64)+`"}`))
	w := httptest.NewRecorder()

	var dst map[string]string
	require.Error(t, DecodeJSONBody(w, r, &dst, nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestValidateContentType(t *testing.T) {
	for ct, ok := range map[string]bool{
		"application/json":                true,
		"application/json; charset=utf-8": true,
		"text/plain":                      false,
		"":                                false,
	} {
		r := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(nil))
		if ct != "" {
			r.Header.Set("Content-Type", ct)
		}
		w := httptest.NewRecorder()
		assert.Equal(t, ok, ValidateContentType(w, r, nil), ct)
		if !ok {
			assert.Equal(t, http.StatusBadRequest, w.Code)
		}
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK) // 第二次被忽略
	n, err := rw.Write([]byte("hello"))

	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusTeapot, rw.StatusCode)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.EqualValues(t, 5, rw.Bytes)
	assert.Same(t, rec, rw.Unwrap())

	_, _, err = rw.Hijack()
	assert.Error(t, err, "recorder cannot be hijacked")
}

func TestResponseWriter_ImplicitOK(t *testing.T) {
	rw := NewResponseWriter(httptest.NewRecorder())
	_, _ = rw.Write([]byte("x"))
	assert.True(t, rw.Written)
	assert.Equal(t, http.StatusOK, rw.StatusCode)
}

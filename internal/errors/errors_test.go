package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrewrite/docrewrite/internal/server/middleware"
)

func TestHTTPStatusFromCode(t *testing.T) {
	cases := map[string]int{
		CodeInvalidInput:       http.StatusBadRequest,
		CodeUnauthorized:       http.StatusUnauthorized,
		CodeNotFound:           http.StatusNotFound,
		CodePayloadTooLarge:    http.StatusRequestEntityTooLarge,
		CodeUnsupportedMedia:   http.StatusUnsupportedMediaType,
		CodeTooManyRequests:    http.StatusTooManyRequests,
		CodeExternalService:    http.StatusBadGateway,
		CodeServiceUnavailable: http.StatusServiceUnavailable,
		"SOMETHING_ELSE":       http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatusFromCode(code), code)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, RetryAfterSeconds(0))
	assert.Equal(t, 1, RetryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 2, RetryAfterSeconds(1500*time.Millisecond))
	assert.Equal(t, 60, RetryAfterSeconds(time.Minute))
}

func TestRespondWithTooManyRequestsSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/process-text", nil)

	RespondWithEnvelope(rec, req, NewTooManyRequestsError("rate limit exceeded", 2500*time.Millisecond))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeTooManyRequests, body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestWrapUsesRequestID(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDContextKey, "req-42")
	env := WrapNotFound(ctx, stderrors.New("no row"), "job not found")

	assert.Equal(t, "req-42", env.CorrelationID)
	assert.Equal(t, CodeNotFound, env.Code)
	assert.Equal(t, "no row", env.Context["wrapped_error"])
}

func TestEnsureEnvelopeWrapsPlainErrors(t *testing.T) {
	env := EnsureEnvelope(stderrors.New("boom"))
	assert.Equal(t, CodeInternal, env.Code)
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(env))
	assert.Equal(t, CodeInternal, EnsureEnvelope(nil).Code)
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrewrite/docrewrite/internal/auth"
	"github.com/docrewrite/docrewrite/internal/config"
	apperrors "github.com/docrewrite/docrewrite/internal/errors"
	"github.com/docrewrite/docrewrite/internal/jobs"
	"github.com/docrewrite/docrewrite/internal/rewrite"
	"github.com/docrewrite/docrewrite/internal/server/handlers"
	"github.com/docrewrite/docrewrite/internal/service"
)

func upperRewriter() rewrite.Rewriter {
	return rewrite.RewriterFunc(func(_ context.Context, req rewrite.Request) (string, error) {
		if req.Style == rewrite.CleanupStyle {
			return strings.TrimSpace(req.Text), nil
		}
		return strings.ToUpper(req.Text), nil
	})
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", MaxUploadBytes: 1 << 20},
		CORS:   config.CORSConfig{AllowedOrigins: []string{"*"}},
		Admission: config.AdmissionConfig{
			Enabled: true,
			Limit:   3,
			Window:  time.Minute,
			Backend: "memory",
		},
		Rewrite: config.RewriteConfig{
			DefaultStyle: "scholar",
			BatchSize:    5,
			Retry:        rewrite.RetryPolicy{MaxAttempts: 1},
		},
		Jobs: config.JobsConfig{Backend: "memory", Workers: 2, QueueSize: 8, Retention: time.Hour},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, authn *auth.Authenticator) *Server {
	t.Helper()
	svc, err := service.BuildWithRewriter(context.Background(), cfg, upperRewriter(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
		handlers.ResetHTTPErrorResponder()
	})
	return New(Options{Config: cfg, Service: svc, Auth: authn})
}

func do(t *testing.T, s *Server, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.10:4321"
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPErrorResponse {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	rec := do(t, s, http.MethodGet, "/does-not-exist", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Error.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/documents/process-text", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestProcessText(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	rec := do(t, s, http.MethodPost, "/api/v1/documents/process-text",
		handlers.TextRequest{Content: "The cat sat.", Style: "scholar"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result rewrite.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "The cat sat.", result.Original)
	assert.Equal(t, "THE CAT SAT.", result.Rewritten)
	assert.Equal(t, "THE CAT SAT.", result.Cleaned)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestProcessTextRejectsBadInput(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	rec := do(t, s, http.MethodPost, "/api/v1/documents/process-text", handlers.TextRequest{Content: "   "}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.CodeInvalidInput, decodeError(t, rec).Error.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/documents/process-text", `{"content":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessTextBatchAndParagraphs(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	rec := do(t, s, http.MethodPost, "/api/v1/documents/process-text-batch",
		handlers.BatchRequest{Texts: []string{"one", "two", "three"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var agg rewrite.Aggregate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agg))
	require.Len(t, agg.Results, 3)
	assert.Equal(t, "TWO", agg.Results[1].Cleaned)

	rec = do(t, s, http.MethodPost, "/api/v1/documents/process-paragraphs",
		handlers.ParagraphsRequest{Text: "first para\n\n\nsecond para\n"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var paras handlers.ParagraphsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paras))
	assert.Equal(t, "FIRST PARA\n\nSECOND PARA", paras.Result)
}

func TestAdmissionRejectsOverLimit(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	body := handlers.TextRequest{Content: "hello"}

	for i := 0; i < 3; i++ {
		rec := do(t, s, http.MethodPost, "/api/v1/documents/process-text", body, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(2-i), rec.Header().Get("X-RateLimit-Remaining"))
	}

	rec := do(t, s, http.MethodPost, "/api/v1/documents/process-text", body, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, apperrors.CodeTooManyRequests, decodeError(t, rec).Error.Code)

	// Health and version are never admitted.
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/version", nil, nil).Code)
}

func TestRateLimitEndpointDoesNotCount(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	require.Equal(t, http.StatusOK,
		do(t, s, http.MethodPost, "/api/v1/documents/process-text", handlers.TextRequest{Content: "hi"}, nil).Code)

	for i := 0; i < 2; i++ {
		rec := do(t, s, http.MethodGet, "/api/v1/rate-limit", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var status struct {
			Identity  string `json:"identity"`
			Count     int    `json:"count"`
			Limit     int    `json:"limit"`
			Remaining int    `json:"remaining"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "ip:192.0.2.10", status.Identity)
		assert.Equal(t, 1, status.Count)
		assert.Equal(t, 3, status.Limit)
		assert.Equal(t, 2, status.Remaining)
	}
}

func TestAuthRequiredBeforeAdmission(t *testing.T) {
	cfg := testConfig()
	cfg.Admission.Limit = 1
	authn, err := auth.New(config.AuthConfig{
		Enabled:   true,
		APIKeys:   []string{"sk-test"},
		JWTSecret: "secret",
		Issuer:    "docrewrite",
	})
	require.NoError(t, err)
	s := newTestServer(t, cfg, authn)
	body := handlers.TextRequest{Content: "hi"}

	// Anonymous requests never consume the window.
	for i := 0; i < 3; i++ {
		rec := do(t, s, http.MethodPost, "/api/v1/documents/process-text", body, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, apperrors.CodeUnauthorized, decodeError(t, rec).Error.Code)
	}

	rec := do(t, s, http.MethodPost, "/api/v1/documents/process-text", body,
		http.Header{auth.HeaderAPIKey: {"sk-test"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	token, _, err := authn.MintToken("alice")
	require.NoError(t, err)
	bearer := http.Header{"Authorization": {"Bearer " + token}}
	rec = do(t, s, http.MethodPost, "/api/v1/documents/process-text", body, bearer)
	require.Equal(t, http.StatusOK, rec.Code, "a different identity has its own window")

	rec = do(t, s, http.MethodPost, "/api/v1/documents/process-text", body, bearer)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/documents/process-text", body,
		http.Header{"Authorization": {"Bearer not-a-jwt"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func waitForJob(t *testing.T, s *Server, id string) handlers.JobStatusResponse {
	t.Helper()
	var status handlers.JobStatusResponse
	require.Eventually(t, func() bool {
		rec := do(t, s, http.MethodGet, "/api/v1/documents/status/"+id, nil, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		return status.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
	return status
}

func TestJobLifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.Admission.Enabled = false
	s := newTestServer(t, cfg, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/documents/jobs",
		handlers.BatchRequest{Texts: []string{"a", "", "b"}, Style: "scholar"}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var accepted handlers.JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, jobs.StatusPending, accepted.Status)
	require.NotEmpty(t, accepted.JobID)

	status := waitForJob(t, s, accepted.JobID)
	assert.Equal(t, jobs.StatusCompleted, status.Status)
	require.NotNil(t, status.Result)
	require.Len(t, status.Result.Results, 2)
	assert.Equal(t, "B", status.Result.Results[1].Cleaned)

	rec = do(t, s, http.MethodGet, "/api/v1/documents/status/missing", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.CodeNotFound, decodeError(t, rec).Error.Code)
}

func multipartUpload(t *testing.T, filename, contentType, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("style", "scholar"))
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postUpload(s *Server, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/process", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestUploadCreatesJob(t *testing.T) {
	cfg := testConfig()
	cfg.Admission.Enabled = false
	s := newTestServer(t, cfg, nil)

	body, ct := multipartUpload(t, "essay.txt", "text/plain", "Para one.\n\nPara two.\n\nPara three.")
	rec := postUpload(s, body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var accepted handlers.JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	status := waitForJob(t, s, accepted.JobID)
	assert.Equal(t, jobs.StatusCompleted, status.Status)
	assert.Equal(t, 3, status.Segments)
	require.Len(t, status.Result.Results, 3)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	cfg := testConfig()
	cfg.Admission.Enabled = false
	s := newTestServer(t, cfg, nil)

	body, ct := multipartUpload(t, "tool.exe", "application/x-msdownload", "MZ")
	rec := postUpload(s, body, ct)
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code, rec.Body.String())

	rec = postUpload(s, bytes.NewBufferString("not multipart"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/documents/process-text", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	for _, path := range []string{"/health", "/health/live", "/health/ready", "/health/startup"} {
		assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, path, nil, nil).Code, path)
	}
}

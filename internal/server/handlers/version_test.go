package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getVersion(t *testing.T) VersionResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp VersionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestVersionHandlerIncludesIdentityMetadata(t *testing.T) {
	SetVersionInfo("1.2.3", "abcd123", "2026-10-01T12:00:00Z")
	SetAppIdentity(&appidentity.Identity{BinaryName: "docrewrite-test"})
	t.Cleanup(func() {
		SetVersionInfo("dev", "unknown", "unknown")
		SetAppIdentity(nil)
	})

	resp := getVersion(t)
	assert.Equal(t, "docrewrite-test", resp.App.Name)
	assert.Equal(t, "1.2.3", resp.App.Version)
	assert.Equal(t, "abcd123", resp.App.Commit)
	assert.Equal(t, "2026-10-01T12:00:00Z", resp.App.BuildDate)
	assert.NotEmpty(t, resp.App.GoVersion)
	assert.NotEmpty(t, resp.Dependencies.Gofulmen)
	assert.NotEmpty(t, resp.Dependencies.Crucible)
	assert.Positive(t, resp.Runtime.NumCPU)
}

func TestVersionHandlerFallsBackToBinaryName(t *testing.T) {
	SetAppIdentity(nil)

	resp := getVersion(t)
	assert.Equal(t, "docrewrite", resp.App.Name)
}

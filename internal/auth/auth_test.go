package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrewrite/docrewrite/internal/config"
)

const testSecret = "test-secret-at-least-32-bytes-long!!"

func newRequest(headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/process-text", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestIdentifyDisabledUsesClientIP(t *testing.T) {
	a, err := New(config.AuthConfig{})
	require.NoError(t, err)

	identity, err := a.Identify(newRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "ip:203.0.113.7", identity)
}

func TestNewRequiresCredentialsWhenEnabled(t *testing.T) {
	_, err := New(config.AuthConfig{Enabled: true})
	require.Error(t, err)
}

func TestIdentifyAPIKey(t *testing.T) {
	key := NewAPIKey()
	a, err := New(config.AuthConfig{Enabled: true, APIKeys: []string{" ", key}})
	require.NoError(t, err)

	identity, err := a.Identify(newRequest(map[string]string{HeaderAPIKey: key}))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(identity, "key:"))
	assert.NotContains(t, identity, key, "raw keys never become identities")

	again, err := a.Identify(newRequest(map[string]string{HeaderAPIKey: key}))
	require.NoError(t, err)
	assert.Equal(t, identity, again)

	_, err = a.Identify(newRequest(map[string]string{HeaderAPIKey: "sk-wrong"}))
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, err = a.Identify(newRequest(nil))
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestNewAPIKeyFormat(t *testing.T) {
	key := NewAPIKey()
	assert.True(t, strings.HasPrefix(key, "sk-"))
	assert.Len(t, key, len("sk-")+36)
	assert.NotEqual(t, key, NewAPIKey())
}

func TestBearerTokenRoundTrip(t *testing.T) {
	a, err := New(config.AuthConfig{Enabled: true, JWTSecret: testSecret, Issuer: "docrewrite", TokenTTL: time.Hour})
	require.NoError(t, err)

	token, expires, err := a.MintToken("alice@example.com")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	identity, err := a.Identify(newRequest(map[string]string{"Authorization": "Bearer " + token}))
	require.NoError(t, err)
	assert.Equal(t, "user:alice@example.com", identity)

	_, err = a.Identify(newRequest(map[string]string{"Authorization": "Basic " + token}))
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestParseTokenRejections(t *testing.T) {
	a, err := New(config.AuthConfig{Enabled: true, JWTSecret: testSecret, Issuer: "docrewrite"})
	require.NoError(t, err)

	t.Run("Expired", func(t *testing.T) {
		minted := time.Now().Add(-48 * time.Hour)
		a.now = func() time.Time { return minted }
		token, _, err := a.MintToken("bob")
		require.NoError(t, err)
		a.now = time.Now

		_, err = a.ParseToken(token)
		require.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		other, err := New(config.AuthConfig{Enabled: true, JWTSecret: "another-secret-that-is-long-enough", Issuer: "docrewrite"})
		require.NoError(t, err)
		token, _, err := other.MintToken("mallory")
		require.NoError(t, err)

		_, err = a.ParseToken(token)
		require.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("NoExpiry", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject: "eve",
			Issuer:  "docrewrite",
		}).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = a.ParseToken(token)
		require.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("WrongAlgorithm", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
			Subject:   "eve",
			Issuer:    "docrewrite",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = a.ParseToken(token)
		require.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("NoSubject", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Issuer:    "docrewrite",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = a.ParseToken(token)
		require.ErrorIs(t, err, ErrUnauthenticated)
	})
}

func TestMintTokenRequiresSecret(t *testing.T) {
	a, err := New(config.AuthConfig{Enabled: true, APIKeys: []string{NewAPIKey()}})
	require.NoError(t, err)
	_, _, err = a.MintToken("x")
	require.Error(t, err)
}

func TestIdentityContext(t *testing.T) {
	ctx := WithIdentity(context.Background(), "ip:127.0.0.1")
	assert.Equal(t, "ip:127.0.0.1", IdentityFromContext(ctx))
	assert.Equal(t, "", IdentityFromContext(context.Background()))
}

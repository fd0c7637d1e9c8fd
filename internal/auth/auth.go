// Package auth identifies callers by API key, bearer token, or client
// address.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/docrewrite/docrewrite/internal/config"
)

// HeaderAPIKey carries a static API key.
const HeaderAPIKey = "X-API-Key"

const defaultTokenTTL = 24 * time.Hour

// ErrUnauthenticated is returned when a request carries no valid credential.
var ErrUnauthenticated = errors.New("unauthenticated")

// Claims are the bearer token claims. Subject names the caller.
type Claims struct {
	jwt.RegisteredClaims
}

// Authenticator turns a request into a caller identity.
type Authenticator struct {
	enabled bool
	keys    [][]byte
	secret  []byte
	issuer  string
	ttl     time.Duration
	now     func() time.Time
}

// New builds an Authenticator. Enabled auth needs at least one API key or a
// JWT secret.
func New(cfg config.AuthConfig) (*Authenticator, error) {
	a := &Authenticator{
		enabled: cfg.Enabled,
		secret:  []byte(strings.TrimSpace(cfg.JWTSecret)),
		issuer:  strings.TrimSpace(cfg.Issuer),
		ttl:     cfg.TokenTTL,
		now:     time.Now,
	}
	if a.ttl <= 0 {
		a.ttl = defaultTokenTTL
	}
	for _, key := range cfg.APIKeys {
		if key = strings.TrimSpace(key); key != "" {
			a.keys = append(a.keys, []byte(key))
		}
	}
	if a.enabled && len(a.keys) == 0 && len(a.secret) == 0 {
		return nil, errors.New("auth enabled without api keys or jwt secret")
	}
	return a, nil
}

// Enabled reports whether requests must carry credentials.
func (a *Authenticator) Enabled() bool {
	return a != nil && a.enabled
}

// Identify returns the caller identity for r. With auth disabled the client
// address is the identity and Identify never fails.
func (a *Authenticator) Identify(r *http.Request) (string, error) {
	if !a.Enabled() {
		return "ip:" + ClientIP(r), nil
	}

	if key := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); key != "" {
		if a.validKey(key) {
			return "key:" + fingerprint(key), nil
		}
		return "", fmt.Errorf("%w: unknown api key", ErrUnauthenticated)
	}

	if token, ok := bearerToken(r); ok {
		claims, err := a.ParseToken(token)
		if err != nil {
			return "", err
		}
		return "user:" + claims.Subject, nil
	}

	return "", ErrUnauthenticated
}

// MintToken signs an HS256 token for subject.
func (a *Authenticator) MintToken(subject string) (string, time.Time, error) {
	if len(a.secret) == 0 {
		return "", time.Time{}, errors.New("jwt secret is not configured")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, errors.New("token subject is required")
	}

	now := a.now()
	expires := now.Add(a.ttl)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
		ID:        uuid.NewString(),
	}}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// ParseToken verifies an HS256 token. exp and sub are required.
func (a *Authenticator) ParseToken(token string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, fmt.Errorf("%w: bearer tokens are not accepted", ErrUnauthenticated)
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		options = append(options, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return claims, nil
}

// NewAPIKey returns a fresh key in the sk-<uuid> format.
func NewAPIKey() string {
	return "sk-" + uuid.NewString()
}

func (a *Authenticator) validKey(key string) bool {
	candidate := []byte(key)
	match := false
	for _, known := range a.keys {
		if subtle.ConstantTimeCompare(candidate, known) == 1 {
			match = true
		}
	}
	return match
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// fingerprint keeps raw keys out of window keys, logs and job records.
func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

// ClientIP returns the host part of r.RemoteAddr. Proxy headers are honoured
// only through chi's RealIP middleware, which rewrites RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

type identityKey struct{}

// WithIdentity stores the caller identity on ctx.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity set by WithIdentity, or "".
func IdentityFromContext(ctx context.Context) string {
	identity, _ := ctx.Value(identityKey{}).(string)
	return identity
}

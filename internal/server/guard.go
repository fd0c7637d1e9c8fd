package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/docrewrite/docrewrite/internal/admission"
	"github.com/docrewrite/docrewrite/internal/auth"
	apperrors "github.com/docrewrite/docrewrite/internal/errors"
	"github.com/docrewrite/docrewrite/internal/observability"
)

// Admitter decides whether a caller may start another request.
type Admitter interface {
	Admit(ctx context.Context, identity string) (admission.Decision, error)
}

// authenticate resolves the caller identity and stores it on the request
// context. Unauthenticated requests stop here with 401.
func authenticate(a *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := a.Identify(r)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="docrewrite"`)
				HandleError(w, r, apperrors.WrapUnauthorized(r.Context(), err, "valid API key or bearer token required"))
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}

// admit counts the request against the caller's sliding window. It must run
// after authenticate.
func admit(admitter Admitter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.IdentityFromContext(r.Context())
			decision, err := admitter.Admit(r.Context(), identity)
			switch {
			case errors.Is(err, admission.ErrRejected):
				setRateHeaders(w, decision)
				HandleError(w, r, apperrors.NewTooManyRequestsError("rate limit exceeded", decision.RetryAfter).
					WithCorrelationID(requestID(r)))
				return
			case err != nil:
				if observability.ServerLogger != nil {
					observability.ServerLogger.Error("admission check failed",
						zap.String("identity", identity), zap.Error(err))
				}
				HandleError(w, r, apperrors.WrapServiceUnavailable(r.Context(), err, "admission check unavailable"))
				return
			}
			setRateHeaders(w, decision)
			next.ServeHTTP(w, r)
		})
	}
}

func setRateHeaders(w http.ResponseWriter, decision admission.Decision) {
	if decision.Limit <= 0 {
		return
	}
	remaining := decision.Limit - decision.Count
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
}

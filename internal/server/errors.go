package server

import (
	"net/http"

	apperrors "github.com/docrewrite/docrewrite/internal/errors"
	"github.com/docrewrite/docrewrite/internal/server/middleware"
)

// HandleError is the central error responder for every route.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}

func requestID(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}

package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/invitations/internal/infra/http/middleware"
	"github.com/openctemio/invitations/pkg/apierror"
)

// PathParam extracts a URL path parameter.
func PathParam(r *http.Request, key string) string {
	if val := chi.URLParam(r, key); val != "" {
		return val
	}
	return r.PathValue(key)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	apierror.NotFound("Route").WriteJSONWithRequestID(w, middleware.GetRequestID(r.Context()))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	apierror.New(http.StatusMethodNotAllowed, apierror.CodeBadRequest, "Method not allowed").
		WriteJSONWithRequestID(w, middleware.GetRequestID(r.Context()))
}

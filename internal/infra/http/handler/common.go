package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/openctemio/invitations/internal/app"
	"github.com/openctemio/invitations/internal/infra/http/middleware"
	"github.com/openctemio/invitations/pkg/apierror"
	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/logger"
	"github.com/openctemio/invitations/pkg/validator"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"
)

// PaginationLinks contains HATEOAS-style pagination links.
type PaginationLinks struct {
	Self  string `json:"self"`
	First string `json:"first,omitempty"`
	Prev  string `json:"prev,omitempty"`
	Next  string `json:"next,omitempty"`
	Last  string `json:"last,omitempty"`
}

// ListResponse represents a paginated list response.
type ListResponse[T any] struct {
	Data       []T              `json:"data"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	PerPage    int              `json:"per_page"`
	TotalPages int              `json:"total_pages"`
	Links      *PaginationLinks `json:"links,omitempty"`
}

// NewPaginationLinks builds links for the current request, keeping its
// other query parameters.
func NewPaginationLinks(r *http.Request, page, perPage, totalPages int) *PaginationLinks {
	if totalPages == 0 {
		return nil
	}

	baseURL := buildBaseURL(r)
	query := r.URL.Query()

	links := &PaginationLinks{
		Self:  buildPageURL(baseURL, query, page, perPage),
		First: buildPageURL(baseURL, query, 1, perPage),
	}
	if page > 1 {
		links.Prev = buildPageURL(baseURL, query, page-1, perPage)
	}
	if page < totalPages {
		links.Next = buildPageURL(baseURL, query, page+1, perPage)
	}
	if totalPages > 1 {
		links.Last = buildPageURL(baseURL, query, totalPages, perPage)
	}
	return links
}

func buildBaseURL(r *http.Request) string {
	scheme := schemeHTTPS
	if r.TLS == nil {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = schemeHTTP
		}
	}

	host := r.Host
	if fwdHost := r.Header.Get("X-Forwarded-Host"); fwdHost != "" {
		host = fwdHost
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.Path)
}

func buildPageURL(baseURL string, query url.Values, page, perPage int) string {
	params := make(url.Values, len(query)+2)
	for k, v := range query {
		params[k] = v
	}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(perPage))
	return baseURL + "?" + params.Encode()
}

// parseQueryArray splits a comma-separated query parameter. Empty input
// gives nil.
func parseQueryArray(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseQueryInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return val
}

func parseQueryBool(s string) bool {
	return s == "true" || s == "1"
}

// parseQueryTime accepts RFC 3339 timestamps and plain dates.
func parseQueryTime(name, s string, errs *apierror.ValidationErrors) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	errs.Add(name, "must be an RFC 3339 timestamp or a YYYY-MM-DD date")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes the body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeDecodeError answers a body that failed to decode.
func writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetRequestID(r.Context())
	if middleware.IsBodyTooLarge(err) {
		middleware.WriteBodyTooLarge(w, r)
		return
	}
	apierror.BadRequest("Invalid request body").WriteJSONWithRequestID(w, requestID)
}

// writeValidationError answers a request struct that failed validation.
func writeValidationError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetRequestID(r.Context())
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make(apierror.ValidationErrors, 0, len(verrs))
		for _, ve := range verrs {
			details.Add(ve.Field, ve.Message)
		}
		details.ToAPIError().WriteJSONWithRequestID(w, requestID)
		return
	}
	apierror.BadRequest("Validation error").WriteJSONWithRequestID(w, requestID)
}

// handleServiceError maps domain errors to HTTP responses. Anything that is
// not a domain error is logged and answered with a generic 400 so internal
// detail never reaches the caller.
func handleServiceError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error, resource string) {
	requestID := middleware.GetRequestID(r.Context())
	switch {
	case errors.Is(err, shared.ErrValidation):
		apierror.BadRequest(shared.Message(err)).WriteJSONWithRequestID(w, requestID)
	case errors.Is(err, shared.ErrNotFound):
		apierror.NotFound(resource).WriteJSONWithRequestID(w, requestID)
	case errors.Is(err, shared.ErrAlreadyExists), errors.Is(err, shared.ErrConflict):
		apierror.Conflict(shared.Message(err)).WriteJSONWithRequestID(w, requestID)
	case errors.Is(err, shared.ErrUnauthorized):
		apierror.Unauthorized(shared.Message(err)).WriteJSONWithRequestID(w, requestID)
	case errors.Is(err, shared.ErrForbidden):
		apierror.Forbidden(shared.Message(err)).WriteJSONWithRequestID(w, requestID)
	case errors.Is(err, shared.ErrRateLimited):
		apierror.TooManyRequests(shared.Message(err)).WriteJSONWithRequestID(w, requestID)
	default:
		log.WithContext(r.Context()).Error("request failed",
			"error", err,
			"path", middleware.RedactTokenPath(r.URL.Path),
		)
		apierror.SafeBadRequest(err).WriteJSONWithRequestID(w, requestID)
	}
}

// auditContext captures who is calling from where.
func auditContext(r *http.Request) app.AuditContext {
	return app.AuditContext{
		ActorID:   middleware.GetUserID(r.Context()),
		IP:        middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: middleware.GetRequestID(r.Context()),
	}
}

// sessionIDs returns the tenant and user of the authenticated session.
func sessionIDs(w http.ResponseWriter, r *http.Request) (tenantID, userID shared.ID, ok bool) {
	tenantID = middleware.GetTenantID(r.Context())
	userID = middleware.GetUserID(r.Context())
	if tenantID.IsZero() || userID.IsZero() {
		apierror.Unauthorized("").WriteJSONWithRequestID(w, middleware.GetRequestID(r.Context()))
		return shared.ID{}, shared.ID{}, false
	}
	return tenantID, userID, true
}

func parseID(w http.ResponseWriter, r *http.Request, raw, resource string) (shared.ID, bool) {
	id, err := shared.IDFromString(raw)
	if err != nil {
		apierror.NotFound(resource).WriteJSONWithRequestID(w, middleware.GetRequestID(r.Context()))
		return shared.ID{}, false
	}
	return id, true
}

// RateLimitRecorder records rejected public requests.
type RateLimitRecorder interface {
	RecordRateLimitExceeded(ctx context.Context, actx app.AuditContext, path string)
}

// OnRateLimited adapts rec to the rate limiter callback. The path is
// redacted before it reaches the audit trail.
func OnRateLimited(rec RateLimitRecorder) middleware.LimitExceededFunc {
	return func(r *http.Request) {
		rec.RecordRateLimitExceeded(r.Context(), auditContext(r), middleware.RedactTokenPath(r.URL.Path))
	}
}

package middleware

import (
	"errors"
	"net/http"

	"github.com/openctemio/invitations/pkg/apierror"
)

// DefaultMaxBodySize applies when the configured limit is not positive.
const DefaultMaxBodySize = 1 << 20

// BodyLimit caps request bodies at maxBytes.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasBody(r) {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > maxBytes {
				WriteBodyTooLarge(w, r)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// IsBodyTooLarge reports whether err came from a BodyLimit reader.
func IsBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// WriteBodyTooLarge writes the 413 response.
func WriteBodyTooLarge(w http.ResponseWriter, r *http.Request) {
	apierror.New(http.StatusRequestEntityTooLarge, apierror.CodeBadRequest, "Request body too large").
		WriteJSONWithRequestID(w, GetRequestID(r.Context()))
}

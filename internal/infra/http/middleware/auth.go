package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/openctemio/invitations/pkg/apierror"
	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/jwt"
	"github.com/openctemio/invitations/pkg/logger"
)

// Auth-related context keys. User and tenant ids share the logger's keys so
// request logs carry them.
const (
	UserIDKey   = logger.ContextKeyUserID
	TenantIDKey = logger.ContextKeyTenantID

	ClaimsKey logger.ContextKey = "session_claims"
)

// AccessTokenValidator validates bearer tokens. *jwt.Generator implements it.
type AccessTokenValidator interface {
	ValidateAccessToken(token string) (*jwt.Claims, error)
}

// Auth requires a valid bearer session token and puts its user, tenant and
// claims on the request context.
func Auth(validator AccessTokenValidator, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())

			token, ok := bearerToken(r)
			if !ok {
				RecordAuthFailure("missing_token")
				apierror.Unauthorized("").WriteJSONWithRequestID(w, requestID)
				return
			}

			claims, err := validator.ValidateAccessToken(token)
			if err != nil {
				reason := "invalid_token"
				message := "Invalid token"
				if errors.Is(err, jwt.ErrExpiredToken) {
					reason = "expired_token"
					message = "Token has expired"
				}
				RecordAuthFailure(reason)
				log.Debug("bearer token rejected", "reason", reason, "request_id", requestID)
				apierror.Unauthorized(message).WriteJSONWithRequestID(w, requestID)
				return
			}

			if _, err := shared.IDFromString(claims.UserID); err != nil {
				RecordAuthFailure("invalid_subject")
				apierror.Unauthorized("Invalid token").WriteJSONWithRequestID(w, requestID)
				return
			}
			if _, err := shared.IDFromString(claims.TenantID); err != nil {
				RecordAuthFailure("invalid_tenant")
				apierror.Unauthorized("Tenant ID not found in token").WriteJSONWithRequestID(w, requestID)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, TenantIDKey, claims.TenantID)
			ctx = context.WithValue(ctx, ClaimsKey, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithSession returns ctx carrying the given claims the way Auth stores them.
func WithSession(ctx context.Context, claims *jwt.Claims) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, claims.UserID)
	ctx = context.WithValue(ctx, TenantIDKey, claims.TenantID)
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetUserID returns the authenticated user, or the zero ID.
func GetUserID(ctx context.Context) shared.ID {
	return idFromContext(ctx, UserIDKey)
}

// GetTenantID returns the tenant the session is bound to, or the zero ID.
func GetTenantID(ctx context.Context) shared.ID {
	return idFromContext(ctx, TenantIDKey)
}

// GetClaims returns the session claims.
func GetClaims(ctx context.Context) *jwt.Claims {
	if claims, ok := ctx.Value(ClaimsKey).(*jwt.Claims); ok {
		return claims
	}
	return nil
}

func idFromContext(ctx context.Context, key logger.ContextKey) shared.ID {
	raw, ok := ctx.Value(key).(string)
	if !ok {
		return shared.ID{}
	}
	id, err := shared.IDFromString(raw)
	if err != nil {
		return shared.ID{}
	}
	return id
}

package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/invitations/internal/app"
	"github.com/openctemio/invitations/pkg/domain/invitation"
	"github.com/openctemio/invitations/pkg/logger"
	"github.com/openctemio/invitations/pkg/validator"
)

// TokenChecker validates invitation tokens. *app.TokenValidator implements it.
type TokenChecker interface {
	Validate(ctx context.Context, token string, vctx app.ValidationContext) (*app.ValidationResult, error)
}

// InvitationAcceptor accepts invitations. *app.AcceptanceService implements it.
type InvitationAcceptor interface {
	Accept(ctx context.Context, token string, input app.AcceptInput, actx app.AuditContext) (*app.AcceptanceResult, error)
	GoogleAuthURL(ctx context.Context, token string, vctx app.ValidationContext) (*app.GoogleAuthURLResult, error)
}

// AcceptanceHandler handles the public invitation acceptance endpoints.
// Tokens only reach the logs truncated.
type AcceptanceHandler struct {
	tokens    TokenChecker
	acceptor  InvitationAcceptor
	validator *validator.Validator
	logger    *logger.Logger
}

// NewAcceptanceHandler creates a new acceptance handler.
func NewAcceptanceHandler(tokens TokenChecker, acceptor InvitationAcceptor, v *validator.Validator, log *logger.Logger) *AcceptanceHandler {
	return &AcceptanceHandler{
		tokens:    tokens,
		acceptor:  acceptor,
		validator: v,
		logger:    log.With("handler", "invitation_acceptance"),
	}
}

// ValidationResponse is the body of GET /invitation-acceptance/{token}.
type ValidationResponse struct {
	IsValid    bool                  `json:"is_valid"`
	Status     string                `json:"status,omitempty"`
	Invitation *PublicInvitationInfo `json:"invitation,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// PublicInvitationInfo is what an invitee may see before accepting.
type PublicInvitationInfo struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	ExpiresAt time.Time      `json:"expires_at"`
	Tenant    TenantResponse `json:"tenant"`
	Roles     []RoleResponse `json:"roles"`
	Message   string         `json:"message,omitempty"`
}

// GoogleAuthResponse is the body of GET /invitation-acceptance/{token}/google-auth.
type GoogleAuthResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// AcceptRequest is the body of POST /invitation-acceptance/{token}/accept.
type AcceptRequest struct {
	Method    string `json:"method" validate:"required,auth_method"`
	Password  string `json:"password" validate:"max=128"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Code      string `json:"code" validate:"max=2048"`
	State     string `json:"state" validate:"max=128"`
}

// AcceptResponse is the result of accepting an invitation.
type AcceptResponse struct {
	Message              string         `json:"message"`
	User                 UserResponse   `json:"user"`
	Tenant               TenantResponse `json:"tenant"`
	Roles                []RoleResponse `json:"roles"`
	AccessToken          string         `json:"access_token"`
	ExpiresAt            time.Time      `json:"expires_at"`
	VerificationRequired bool           `json:"verification_required,omitempty"`
}

// Validate handles GET /invitation-acceptance/{token}. An unusable token is
// a normal answer with is_valid false, not an error.
func (h *AcceptanceHandler) Validate(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	result, err := h.tokens.Validate(r.Context(), token, auditContext(r))
	if err != nil {
		h.logger.WithContext(r.Context()).Error("token validation failed",
			"token_prefix", invitation.TruncateToken(token),
			"error", err,
		)
		handleServiceError(w, r, h.logger, err, "Invitation")
		return
	}

	resp := ValidationResponse{
		IsValid: result.Valid,
		Status:  result.Status.String(),
	}
	if !result.Valid {
		resp.Error = result.Reason
	} else if result.Details != nil {
		inv := result.Details.Invitation
		resp.Invitation = &PublicInvitationInfo{
			ID:        inv.ID().String(),
			Email:     inv.Email(),
			ExpiresAt: inv.ExpiresAt(),
			Tenant:    toTenantResponse(result.Details.Tenant),
			Roles:     toRoleResponses(result.Details.Roles),
			Message:   inv.Message(),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// GoogleAuth handles GET /invitation-acceptance/{token}/google-auth.
func (h *AcceptanceHandler) GoogleAuth(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	result, err := h.acceptor.GoogleAuthURL(r.Context(), token, auditContext(r))
	if err != nil {
		handleServiceError(w, r, h.logger, err, "Invitation")
		return
	}

	writeJSON(w, http.StatusOK, GoogleAuthResponse{AuthURL: result.AuthURL, State: result.State})
}

// Accept handles POST /invitation-acceptance/{token}/accept.
func (h *AcceptanceHandler) Accept(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req AcceptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		writeValidationError(w, r, err)
		return
	}

	result, err := h.acceptor.Accept(r.Context(), token, app.AcceptInput{
		Method:    req.Method,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Code:      req.Code,
		State:     req.State,
	}, auditContext(r))
	if err != nil {
		h.logger.WithContext(r.Context()).Warn("invitation acceptance failed",
			"token_prefix", invitation.TruncateToken(token),
			"method", req.Method,
			"error", err,
		)
		handleServiceError(w, r, h.logger, err, "Invitation")
		return
	}

	writeJSON(w, http.StatusOK, AcceptResponse{
		Message:              result.Message,
		User:                 toUserResponse(result.User),
		Tenant:               toTenantResponse(result.Tenant),
		Roles:                toRoleResponses(result.Roles),
		AccessToken:          result.AccessToken,
		ExpiresAt:            result.ExpiresAt,
		VerificationRequired: result.VerificationRequired,
	})
}

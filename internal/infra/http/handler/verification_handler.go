package handler

import (
	"context"
	"net/http"

	"github.com/openctemio/invitations/internal/app"
	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/domain/user"
	"github.com/openctemio/invitations/pkg/logger"
	"github.com/openctemio/invitations/pkg/validator"
)

// EmailVerifier checks email verification codes.
// *app.AcceptanceService implements it.
type EmailVerifier interface {
	VerifyEmail(ctx context.Context, tenantID, userID shared.ID, code string, actx app.AuditContext) (*user.User, error)
}

// VerificationHandler handles POST /auth/verify-email.
type VerificationHandler struct {
	verifier  EmailVerifier
	validator *validator.Validator
	logger    *logger.Logger
}

// NewVerificationHandler creates a new verification handler.
func NewVerificationHandler(verifier EmailVerifier, v *validator.Validator, log *logger.Logger) *VerificationHandler {
	return &VerificationHandler{
		verifier:  verifier,
		validator: v,
		logger:    log.With("handler", "verification"),
	}
}

// VerifyEmailRequest carries the emailed code.
type VerifyEmailRequest struct {
	Code string `json:"code" validate:"required,numeric,len=6"`
}

// VerifyEmail marks the session user's email as verified.
func (h *VerificationHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := sessionIDs(w, r)
	if !ok {
		return
	}

	var req VerifyEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		writeValidationError(w, r, err)
		return
	}

	u, err := h.verifier.VerifyEmail(r.Context(), tenantID, userID, req.Code, auditContext(r))
	if err != nil {
		handleServiceError(w, r, h.logger, err, "User")
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(u))
}

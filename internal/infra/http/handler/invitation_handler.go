package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/invitations/internal/app"
	"github.com/openctemio/invitations/internal/infra/http/middleware"
	"github.com/openctemio/invitations/pkg/apierror"
	"github.com/openctemio/invitations/pkg/domain/audit"
	"github.com/openctemio/invitations/pkg/domain/invitation"
	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/logger"
	"github.com/openctemio/invitations/pkg/pagination"
	"github.com/openctemio/invitations/pkg/validator"
)

// InvitationManager is the lifecycle surface used by InvitationHandler.
// *app.InvitationService implements it.
type InvitationManager interface {
	CreateInvitation(ctx context.Context, tenantID, invitedBy shared.ID, input app.CreateInvitationInput, actx app.AuditContext) (*app.InvitationDetails, error)
	ResendInvitation(ctx context.Context, tenantID, id shared.ID, actx app.AuditContext) (*app.InvitationDetails, error)
	CancelInvitation(ctx context.Context, tenantID, id shared.ID, actx app.AuditContext) (*invitation.Invitation, error)
	GetInvitation(ctx context.Context, tenantID, id shared.ID) (*app.InvitationDetails, error)
	ListInvitations(ctx context.Context, tenantID shared.ID, input app.ListInvitationsInput) (pagination.Result[*invitation.Invitation], error)
}

// BulkInvitationManager runs bulk operations. *app.InvitationBulkService
// implements it.
type BulkInvitationManager interface {
	CreateBulkInvitations(ctx context.Context, tenantID, actorID shared.ID, input app.BulkCreateInput, actx app.AuditContext) (*app.BulkResult, error)
	CancelBulkInvitations(ctx context.Context, tenantID shared.ID, ids []string, actx app.AuditContext) (*app.BulkResult, error)
	ResendBulkInvitations(ctx context.Context, tenantID shared.ID, ids []string, actx app.AuditContext) (*app.BulkResult, error)
}

// AuditTrailReader lists the audit trail of one invitation.
// *app.AuditService implements it.
type AuditTrailReader interface {
	ListInvitationTrail(ctx context.Context, tenantID, invitationID shared.ID, page pagination.Pagination) (pagination.Result[*audit.Entry], error)
}

// InvitationHandler handles the authenticated invitation endpoints.
type InvitationHandler struct {
	service   InvitationManager
	bulk      BulkInvitationManager
	trail     AuditTrailReader
	validator *validator.Validator
	logger    *logger.Logger
}

// NewInvitationHandler creates a new invitation handler.
func NewInvitationHandler(svc InvitationManager, bulk BulkInvitationManager, trail AuditTrailReader, v *validator.Validator, log *logger.Logger) *InvitationHandler {
	return &InvitationHandler{
		service:   svc,
		bulk:      bulk,
		trail:     trail,
		validator: v,
		logger:    log.With("handler", "invitation"),
	}
}

// CreateInvitationRequest is the body of POST /invitations.
type CreateInvitationRequest struct {
	Email     string     `json:"email" validate:"required,email,max=254"`
	RoleIDs   []string   `json:"role_ids" validate:"max=20,dive,uuid"`
	ExpiresAt *time.Time `json:"expires_at"`
	Message   string     `json:"message" validate:"max=1000"`
}

// BulkCreateRequest is the body of POST /invitations/bulk.
type BulkCreateRequest struct {
	Emails    []string   `json:"emails" validate:"required,min=1"`
	RoleIDs   []string   `json:"role_ids" validate:"max=20,dive,uuid"`
	ExpiresAt *time.Time `json:"expires_at"`
	Message   string     `json:"message" validate:"max=1000"`
}

// BulkActionRequest is the body of the bulk cancel and resend endpoints.
type BulkActionRequest struct {
	InvitationIDs []string `json:"invitation_ids" validate:"required,min=1"`
}

// List handles GET /invitations.
func (h *InvitationHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := sessionIDs(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var errs apierror.ValidationErrors
	input := app.ListInvitationsInput{
		Statuses:    parseQueryArray(q.Get("status")),
		Email:       q.Get("email"),
		InvitedBy:   q.Get("invited_by"),
		CreatedFrom: parseQueryTime("created_from", q.Get("created_from"), &errs),
		CreatedTo:   parseQueryTime("created_to", q.Get("created_to"), &errs),
		ExpiresFrom: parseQueryTime("expires_from", q.Get("expires_from"), &errs),
		ExpiresTo:   parseQueryTime("expires_to", q.Get("expires_to"), &errs),
		Sort:        q.Get("sort"),
		Page:        parseQueryInt(q.Get("page"), 1),
		PerPage:     parseQueryInt(q.Get("per_page"), 20),
	}
	if errs.HasErrors() {
		errs.ToAPIError().WriteJSONWithRequestID(w, middleware.GetRequestID(r.Context()))
		return
	}
	if err := h.validator.Validate(input); err != nil {
		writeValidationError(w, r, err)
		return
	}

	result, err := h.service.ListInvitations(r.Context(), tenantID, input)
	if err != nil {
		handleServiceError(w, r, h.logger, err, "Invitation")
		return
	}

	data := make([]InvitationResponse, 0, len(result.Data))
	for _, inv := range result.Data {
		data = append(data, toInvitationResponse(inv))
	}

	writeJSON(w, http.StatusOK, ListResponse[InvitationResponse]{
		Data:       data,
		Total:      result.Total,
		Page:       result.Page,
		PerPage:    result.PerPage,
		TotalPages: result.TotalPages,
		Links:      NewPaginationLinks(r, result.Page, result.PerPage, result.TotalPages),
	})
}

// Create handles POST /invitations.
func (h *InvitationHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := sessionIDs(w, r)
	if !ok {
		return
	}

	var req CreateInvitationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		writeValidationError(w, r, err)
		return
	}

	details, err := h.service.CreateInvitation(r.Context(), tenantID, userID, app.CreateInvitationInput{
		Email:     req.Email,
		RoleIDs:   req.RoleIDs,
		ExpiresAt: req.ExpiresAt,
		Message:   req.Message,
	}, auditContext(r))
	if err != nil {
		handleServiceError(w, r, h.logger, err, "Invitation")
		return
	}

	writeJSON(w, http.StatusCreated, toInvitationDetailsResponse(details))
}

// Get handles GET /invitations/{id}.
func (h *InvitationHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := sessionIDs(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, chi.URLParam(r, "id"), "Invitation")
	if !ok {
		return
	}

	details, err := h.service.GetInvitation(r.Context(), tenantID, id)
	if err != nil {
		handleServiceError(w, r, h.logger, err, "Invitation")
		return
	}

	writeJSON(w, http.StatusOK, toInvitationDetailsResponse(details))
}

// Resend handles POST /invitations/{id}/resend.
func (h *InvitationHandler) Resend(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := sessionIDs(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, chi.URLParam(r, "id"), "Invitation")
	if !ok {
		return
	}

	details, err := h.service.ResendInvitation(r.Context(), tenantID, id, auditContext(r))
	if err != nil {
		handleServiceError(w, r, h.logger, err, "Invitation")
		return
	}

	writeJSON(w, http.StatusOK, toInvitationDetailsResponse(details))
}

// Cancel handles DELETE /invitations/{id}.
func (h *InvitationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := sessionIDs(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, chi.URLParam(r, "id"), "Invitation")
	if !ok {
		return
	}

	inv, err := h.service.CancelInvitation(r.Context(), tenantID, id, auditContext(r))
	if err != nil {
		handleServiceError(w, r, h.logger, err, "Invitation")
		return
	}

	writeJSON(w, http.StatusOK, toInvitationResponse(inv))
}

// BulkCreate handles POST /invitations/bulk.
func (h *InvitationHandler) BulkCreate(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := sessionIDs(w, r)
	if !ok {
		return
	}

	var req BulkCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		writeValidationError(w, r, err)
		return
	}

	result, err := h.bulk.CreateBulkInvitations(r.Context(), tenantID, userID, app.BulkCreateInput{
		Emails:    req.Emails,
		RoleIDs:   req.RoleIDs,
		ExpiresAt: req.ExpiresAt,
		Message:   req.Message,
	}, auditContext(r))
	if err != nil {
		handleServiceError(w, r, h.logger, err, "Invitation")
		return
	}

	writeJSON(w, http.StatusOK, toBulkResultResponse(result))
}

// BulkCancel handles POST /invitations/bulk/cancel.
func (h *InvitationHandler) BulkCancel(w http.ResponseWriter, r *http.Request) {
	h.bulkAction(w, r, h.bulk.CancelBulkInvitations)
}

// BulkResend handles POST /invitations/bulk/resend.
func (h *InvitationHandler) BulkResend(w http.ResponseWriter, r *http.Request) {
	h.bulkAction(w, r, h.bulk.ResendBulkInvitations)
}

type bulkActionFunc func(ctx context.Context, tenantID shared.ID, ids []string, actx app.AuditContext) (*app.BulkResult, error)

func (h *InvitationHandler) bulkAction(w http.ResponseWriter, r *http.Request, action bulkActionFunc) {
	tenantID, _, ok := sessionIDs(w, r)
	if !ok {
		return
	}

	var req BulkActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		writeValidationError(w, r, err)
		return
	}

	result, err := action(r.Context(), tenantID, req.InvitationIDs, auditContext(r))
	if err != nil {
		handleServiceError(w, r, h.logger, err, "Invitation")
		return
	}

	writeJSON(w, http.StatusOK, toBulkResultResponse(result))
}

// AuditTrail handles GET /invitations/{id}/audit-logs.
func (h *InvitationHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := sessionIDs(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, chi.URLParam(r, "id"), "Invitation")
	if !ok {
		return
	}

	q := r.URL.Query()
	page := pagination.New(parseQueryInt(q.Get("page"), 1), parseQueryInt(q.Get("per_page"), 50))

	result, err := h.trail.ListInvitationTrail(r.Context(), tenantID, id, page)
	if err != nil {
		handleServiceError(w, r, h.logger, err, "Invitation")
		return
	}

	data := make([]AuditEntryResponse, 0, len(result.Data))
	for _, e := range result.Data {
		data = append(data, toAuditEntryResponse(e))
	}

	writeJSON(w, http.StatusOK, ListResponse[AuditEntryResponse]{
		Data:       data,
		Total:      result.Total,
		Page:       result.Page,
		PerPage:    result.PerPage,
		TotalPages: result.TotalPages,
		Links:      NewPaginationLinks(r, result.Page, result.PerPage, result.TotalPages),
	})
}

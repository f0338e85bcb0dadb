package handler

import (
	"time"

	"github.com/openctemio/invitations/internal/app"
	"github.com/openctemio/invitations/pkg/domain/audit"
	"github.com/openctemio/invitations/pkg/domain/invitation"
	"github.com/openctemio/invitations/pkg/domain/role"
	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/domain/tenant"
	"github.com/openctemio/invitations/pkg/domain/user"
)

// InvitationResponse represents an invitation in API responses. The token
// is never part of it; it only travels in the invitation email.
type InvitationResponse struct {
	ID          string          `json:"id"`
	Email       string          `json:"email"`
	Status      string          `json:"status"`
	InvitedBy   string          `json:"invited_by"`
	RoleIDs     []string        `json:"role_ids"`
	Message     string          `json:"message,omitempty"`
	ExpiresAt   time.Time       `json:"expires_at"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	AcceptedAt  *time.Time      `json:"accepted_at,omitempty"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
	Tenant      *TenantResponse `json:"tenant,omitempty"`
	Inviter     *UserResponse   `json:"inviter,omitempty"`
	Roles       []RoleResponse  `json:"roles,omitempty"`
}

// TenantResponse is the public view of a tenant.
type TenantResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RoleResponse is the public view of a role.
type RoleResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	AuthProvider  string `json:"auth_provider,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}

func toInvitationResponse(inv *invitation.Invitation) InvitationResponse {
	return InvitationResponse{
		ID:          inv.ID().String(),
		Email:       inv.Email(),
		Status:      inv.StatusKind().String(),
		InvitedBy:   inv.InvitedBy().String(),
		RoleIDs:     shared.IDStrings(inv.RoleIDs()),
		Message:     inv.Message(),
		ExpiresAt:   inv.ExpiresAt(),
		CreatedAt:   inv.CreatedAt(),
		UpdatedAt:   inv.UpdatedAt(),
		AcceptedAt:  inv.AcceptedAt(),
		CancelledAt: inv.CancelledAt(),
	}
}

func toInvitationDetailsResponse(d *app.InvitationDetails) InvitationResponse {
	resp := toInvitationResponse(d.Invitation)
	if d.Tenant != nil {
		t := toTenantResponse(d.Tenant)
		resp.Tenant = &t
	}
	if d.Inviter != nil {
		u := toUserResponse(d.Inviter)
		resp.Inviter = &u
	}
	resp.Roles = toRoleResponses(d.Roles)
	return resp
}

func toTenantResponse(t *tenant.Tenant) TenantResponse {
	return TenantResponse{ID: t.ID().String(), Name: t.Name()}
}

func toRoleResponses(roles []*role.Role) []RoleResponse {
	out := make([]RoleResponse, 0, len(roles))
	for _, r := range roles {
		out = append(out, RoleResponse{
			ID:          r.ID().String(),
			Name:        r.Name(),
			Description: r.Description(),
		})
	}
	return out
}

func toUserResponse(u *user.User) UserResponse {
	return UserResponse{
		ID:            u.ID().String(),
		Email:         u.Email(),
		FirstName:     u.FirstName(),
		LastName:      u.LastName(),
		AuthProvider:  string(u.AuthProvider()),
		EmailVerified: u.EmailVerified(),
	}
}

// BulkResultResponse is the summary of a bulk operation.
type BulkResultResponse struct {
	BatchID    string                `json:"batch_id"`
	Summary    BulkSummaryResponse   `json:"summary"`
	Successful []BulkSuccessResponse `json:"successful"`
	Failed     []BulkFailureResponse `json:"failed"`
}

// BulkSummaryResponse counts the items of a bulk operation.
type BulkSummaryResponse struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// BulkSuccessResponse is one item that succeeded.
type BulkSuccessResponse struct {
	Email        string `json:"email"`
	InvitationID string `json:"invitation_id"`
}

// BulkFailureResponse is one item that failed.
type BulkFailureResponse struct {
	Email        string `json:"email,omitempty"`
	InvitationID string `json:"invitation_id,omitempty"`
	Error        string `json:"error"`
}

func toBulkResultResponse(r *app.BulkResult) BulkResultResponse {
	resp := BulkResultResponse{
		BatchID: r.BatchID,
		Summary: BulkSummaryResponse{
			Total:      r.Summary.Total,
			Successful: r.Summary.Successful,
			Failed:     r.Summary.Failed,
		},
		Successful: make([]BulkSuccessResponse, 0, len(r.Successful)),
		Failed:     make([]BulkFailureResponse, 0, len(r.Failed)),
	}
	for _, s := range r.Successful {
		resp.Successful = append(resp.Successful, BulkSuccessResponse{
			Email:        s.Email,
			InvitationID: s.InvitationID.String(),
		})
	}
	for _, f := range r.Failed {
		resp.Failed = append(resp.Failed, BulkFailureResponse{
			Email:        f.Email,
			InvitationID: f.InvitationID,
			Error:        f.Error,
		})
	}
	return resp
}

// AuditEntryResponse is one audit trail entry.
type AuditEntryResponse struct {
	ID           string         `json:"id"`
	Action       string         `json:"action"`
	InvitationID *string        `json:"invitation_id,omitempty"`
	ActorID      *string        `json:"actor_id,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Success      bool           `json:"success"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func toAuditEntryResponse(e *audit.Entry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:           e.ID().String(),
		Action:       string(e.Action()),
		InvitationID: idPtrString(e.InvitationID()),
		ActorID:      idPtrString(e.ActorID()),
		IPAddress:    e.IPAddress(),
		UserAgent:    e.UserAgent(),
		Success:      e.Success(),
		ErrorCode:    e.ErrorCode(),
		ErrorMessage: e.ErrorMessage(),
		Metadata:     e.Metadata(),
		CreatedAt:    e.CreatedAt(),
	}
}

func idPtrString(id *shared.ID) *string {
	if id == nil || id.IsZero() {
		return nil
	}
	s := id.String()
	return &s
}

package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/openctemio/invitations/internal/app"
	"github.com/openctemio/invitations/internal/infra/http/middleware"
	"github.com/openctemio/invitations/pkg/apierror"
	"github.com/openctemio/invitations/pkg/domain/invitation"
	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/logger"
)

// InvitationReporter answers the reporting queries.
// *app.InvitationReportService implements it.
type InvitationReporter interface {
	GetInvitationStatistics(ctx context.Context, tenantID shared.ID) (*app.InvitationStatistics, error)
	GetInvitationActivitySummary(ctx context.Context, tenantID shared.ID) (*app.ActivitySummary, error)
	GenerateInvitationReport(ctx context.Context, tenantID shared.ID, filter invitation.ReportFilter) (*app.InvitationReport, error)
	ExportInvitationReportAsCSV(ctx context.Context, tenantID shared.ID, filter invitation.ReportFilter) ([]byte, error)
}

// InvitationReportHandler handles the reporting endpoints.
type InvitationReportHandler struct {
	service InvitationReporter
	logger  *logger.Logger
	now     func() time.Time
}

// NewInvitationReportHandler creates a new report handler.
func NewInvitationReportHandler(svc InvitationReporter, log *logger.Logger) *InvitationReportHandler {
	return &InvitationReportHandler{
		service: svc,
		logger:  log.With("handler", "invitation_report"),
		now:     time.Now,
	}
}

// ActivitySummaryResponse is the body of GET /invitations/activity-summary.
type ActivitySummaryResponse struct {
	Today                DayActivityResponse   `json:"today"`
	DailyTrend           []DayActivityResponse `json:"daily_trend"`
	ExpiringWithin24h    int64                 `json:"expiring_within_24h"`
	PendingOver7Days     int64                 `json:"pending_over_7_days"`
	FailedValidations24h int64                 `json:"failed_validations_24h"`
}

// DayActivityResponse counts one UTC day.
type DayActivityResponse struct {
	Date     string `json:"date"`
	Created  int64  `json:"created"`
	Accepted int64  `json:"accepted"`
	Expired  int64  `json:"expired"`
}

// ReportResponse is the body of GET /invitations/report.
type ReportResponse struct {
	Rows        []ReportRowResponse `json:"rows"`
	Summary     map[string]int64    `json:"summary"`
	Total       int                 `json:"total"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// ReportRowResponse is one invitation in a report.
type ReportRowResponse struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Status       string     `json:"status"`
	InvitedBy    string     `json:"invited_by"`
	InviterEmail string     `json:"inviter_email,omitempty"`
	Roles        []string   `json:"roles"`
	Message      string     `json:"message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	AcceptedAt   *time.Time `json:"accepted_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
}

// Statistics handles GET /invitations/statistics.
func (h *InvitationReportHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := sessionIDs(w, r)
	if !ok {
		return
	}

	stats, err := h.service.GetInvitationStatistics(r.Context(), tenantID)
	if err != nil {
		handleServiceError(w, r, h.logger, err, "Statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ActivitySummary handles GET /invitations/activity-summary.
func (h *InvitationReportHandler) ActivitySummary(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := sessionIDs(w, r)
	if !ok {
		return
	}

	summary, err := h.service.GetInvitationActivitySummary(r.Context(), tenantID)
	if err != nil {
		handleServiceError(w, r, h.logger, err, "Activity summary")
		return
	}

	resp := ActivitySummaryResponse{
		Today:                toDayActivityResponse(summary.Today),
		DailyTrend:           make([]DayActivityResponse, 0, len(summary.DailyTrend)),
		ExpiringWithin24h:    summary.ExpiringWithin24h,
		PendingOver7Days:     summary.PendingOver7Days,
		FailedValidations24h: summary.FailedValidations24h,
	}
	for _, d := range summary.DailyTrend {
		resp.DailyTrend = append(resp.DailyTrend, toDayActivityResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toDayActivityResponse(d app.DayActivity) DayActivityResponse {
	return DayActivityResponse{Date: d.Date, Created: d.Created, Accepted: d.Accepted, Expired: d.Expired}
}

// Report handles GET /invitations/report.
func (h *InvitationReportHandler) Report(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := sessionIDs(w, r)
	if !ok {
		return
	}
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}

	report, err := h.service.GenerateInvitationReport(r.Context(), tenantID, filter)
	if err != nil {
		handleServiceError(w, r, h.logger, err, "Report")
		return
	}

	resp := ReportResponse{
		Rows:        make([]ReportRowResponse, 0, len(report.Rows)),
		Summary:     make(map[string]int64, len(report.Summary)),
		Total:       report.Total,
		GeneratedAt: report.GeneratedAt,
	}
	for kind, n := range report.Summary {
		resp.Summary[kind.String()] = n
	}
	for _, row := range report.Rows {
		resp.Rows = append(resp.Rows, ReportRowResponse{
			ID:           row.ID.String(),
			Email:        row.Email,
			Status:       row.Status.String(),
			InvitedBy:    row.InvitedBy.String(),
			InviterEmail: row.InviterEmail,
			Roles:        row.Roles,
			Message:      row.Message,
			CreatedAt:    row.CreatedAt,
			ExpiresAt:    row.ExpiresAt,
			AcceptedAt:   row.AcceptedAt,
			CancelledAt:  row.CancelledAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ExportCSV handles GET /invitations/export/csv.
func (h *InvitationReportHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := sessionIDs(w, r)
	if !ok {
		return
	}
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}

	data, err := h.service.ExportInvitationReportAsCSV(r.Context(), tenantID, filter)
	if err != nil {
		handleServiceError(w, r, h.logger, err, "Report")
		return
	}

	filename := fmt.Sprintf("invitations-%s.csv", h.now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// parseFilter reads status, from, to and include_expired.
func (h *InvitationReportHandler) parseFilter(w http.ResponseWriter, r *http.Request) (invitation.ReportFilter, bool) {
	q := r.URL.Query()
	var errs apierror.ValidationErrors

	filter := invitation.ReportFilter{
		From:           parseQueryTime("from", q.Get("from"), &errs),
		To:             parseQueryTime("to", q.Get("to"), &errs),
		IncludeExpired: parseQueryBool(q.Get("include_expired")),
	}
	if raw := q.Get("status"); raw != "" {
		kind, err := invitation.ParseStatusKind(raw)
		if err != nil {
			errs.Add("status", "must be one of: PENDING, ACCEPTED, EXPIRED, CANCELLED")
		} else {
			filter.Status = &kind
		}
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		errs.Add("to", "must not be before from")
	}

	if errs.HasErrors() {
		errs.ToAPIError().WriteJSONWithRequestID(w, middleware.GetRequestID(r.Context()))
		return invitation.ReportFilter{}, false
	}
	return filter, true
}

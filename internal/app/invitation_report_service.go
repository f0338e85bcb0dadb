package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openctemio/invitations/pkg/domain/audit"
	"github.com/openctemio/invitations/pkg/domain/invitation"
	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/logger"
)

const (
	topInvitersLimit = 5
	topRolesLimit    = 10
	trendDays        = 7
	day              = 24 * time.Hour
)

// StatisticsCache caches statistics per tenant.
type StatisticsCache interface {
	GetOrSet(ctx context.Context, key string, loader func(ctx context.Context) (*InvitationStatistics, error)) (*InvitationStatistics, error)
}

// InvitationStatistics aggregates a tenant's invitations.
type InvitationStatistics struct {
	Total             int64                           `json:"total"`
	ByStatus          map[invitation.StatusKind]int64 `json:"by_status"`
	CreatedLast24h    int64                           `json:"created_last_24h"`
	CreatedLast7d     int64                           `json:"created_last_7d"`
	CreatedLast30d    int64                           `json:"created_last_30d"`
	AcceptanceRate    float64                         `json:"acceptance_rate"`
	AcceptanceRate30d float64                         `json:"acceptance_rate_30d"`
	TopInviters       []InviterStat                   `json:"top_inviters"`
	RoleDistribution  []RoleStat                      `json:"role_distribution"`
	ExpiringWithin24h int64                           `json:"expiring_within_24h"`
	ExpiredLast7d     int64                           `json:"expired_last_7d"`
	GeneratedAt       time.Time                       `json:"generated_at"`
}

// InviterStat is an inviter and the number of invitations they sent.
type InviterStat struct {
	UserID shared.ID `json:"user_id"`
	Email  string    `json:"email"`
	Count  int64     `json:"count"`
}

// RoleStat is a role and how many invitations grant it.
type RoleStat struct {
	RoleID   shared.ID `json:"role_id"`
	RoleName string    `json:"role_name"`
	Count    int64     `json:"count"`
}

// ActivitySummary is a short view of recent invitation activity.
type ActivitySummary struct {
	Today                DayActivity
	DailyTrend           []DayActivity
	ExpiringWithin24h    int64
	PendingOver7Days     int64
	FailedValidations24h int64
}

// DayActivity counts one UTC day of activity.
type DayActivity struct {
	Date     string
	Created  int64
	Accepted int64
	Expired  int64
}

// InvitationReport is a flat projection of invitations with a summary.
type InvitationReport struct {
	Rows        []invitation.ReportRow
	Summary     map[invitation.StatusKind]int64
	Total       int
	GeneratedAt time.Time
}

// InvitationReportService answers reporting queries.
type InvitationReportService struct {
	stats  invitation.StatsRepository
	audit  *AuditService
	cache  StatisticsCache
	now    func() time.Time
	logger *logger.Logger
}

// NewInvitationReportService creates a new InvitationReportService. cache may
// be nil, in which case statistics are computed on every call.
func NewInvitationReportService(stats invitation.StatsRepository, auditService *AuditService, cache StatisticsCache, log *logger.Logger) *InvitationReportService {
	return &InvitationReportService{
		stats:  stats,
		audit:  auditService,
		cache:  cache,
		now:    time.Now,
		logger: log.With("service", "invitation_report"),
	}
}

// GetInvitationStatistics returns the tenant's statistics, served from the
// cache when fresh.
func (s *InvitationReportService) GetInvitationStatistics(ctx context.Context, tenantID shared.ID) (*InvitationStatistics, error) {
	if s.cache == nil {
		return s.computeStatistics(ctx, tenantID)
	}
	return s.cache.GetOrSet(ctx, tenantID.String(), func(ctx context.Context) (*InvitationStatistics, error) {
		return s.computeStatistics(ctx, tenantID)
	})
}

func (s *InvitationReportService) computeStatistics(ctx context.Context, tenantID shared.ID) (*InvitationStatistics, error) {
	now := s.now().UTC()
	stats := &InvitationStatistics{GeneratedAt: now}

	var (
		byStatus, byStatus30d map[invitation.StatusKind]int64
		inviters              []invitation.InviterCount
		roles                 []invitation.RoleCount
	)
	since30d := now.Add(-30 * day)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		byStatus, err = s.stats.CountByStatus(gctx, tenantID, nil)
		return err
	})
	g.Go(func() (err error) {
		byStatus30d, err = s.stats.CountByStatus(gctx, tenantID, &since30d)
		return err
	})
	g.Go(func() (err error) {
		stats.CreatedLast24h, err = s.stats.CountCreatedBetween(gctx, tenantID, now.Add(-day), now)
		return err
	})
	g.Go(func() (err error) {
		stats.CreatedLast7d, err = s.stats.CountCreatedBetween(gctx, tenantID, now.Add(-7*day), now)
		return err
	})
	g.Go(func() (err error) {
		stats.CreatedLast30d, err = s.stats.CountCreatedBetween(gctx, tenantID, since30d, now)
		return err
	})
	g.Go(func() (err error) {
		inviters, err = s.stats.TopInviters(gctx, tenantID, topInvitersLimit)
		return err
	})
	g.Go(func() (err error) {
		roles, err = s.stats.RoleDistribution(gctx, tenantID, topRolesLimit)
		return err
	})
	g.Go(func() (err error) {
		stats.ExpiringWithin24h, err = s.stats.CountPendingExpiringBetween(gctx, tenantID, now, now.Add(day))
		return err
	})
	g.Go(func() (err error) {
		stats.ExpiredLast7d, err = s.stats.CountExpiredBetween(gctx, tenantID, now.Add(-7*day), now)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to compute invitation statistics: %w", err)
	}

	stats.ByStatus = byStatus
	stats.Total = sumCounts(byStatus)
	stats.AcceptanceRate = acceptanceRate(byStatus[invitation.StatusAccepted], stats.Total)
	stats.AcceptanceRate30d = acceptanceRate(byStatus30d[invitation.StatusAccepted], sumCounts(byStatus30d))

	stats.TopInviters = make([]InviterStat, 0, len(inviters))
	for _, ic := range inviters {
		email := ic.Email
		if email == "" {
			email = unknownEmail
		}
		stats.TopInviters = append(stats.TopInviters, InviterStat{UserID: ic.UserID, Email: email, Count: ic.Count})
	}

	stats.RoleDistribution = make([]RoleStat, 0, len(roles))
	for _, rc := range roles {
		stats.RoleDistribution = append(stats.RoleDistribution, RoleStat{RoleID: rc.RoleID, RoleName: rc.RoleName, Count: rc.Count})
	}

	return stats, nil
}

// GetInvitationActivitySummary returns today's counts, a seven day trend and
// the counters that need attention.
func (s *InvitationReportService) GetInvitationActivitySummary(ctx context.Context, tenantID shared.ID) (*ActivitySummary, error) {
	now := s.now().UTC()
	today := now.Truncate(day)

	summary := &ActivitySummary{DailyTrend: make([]DayActivity, trendDays)}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < trendDays; i++ {
		start := today.Add(-time.Duration(trendDays-1-i) * day)
		end := start.Add(day)
		entry := &summary.DailyTrend[i]
		entry.Date = start.Format(time.DateOnly)

		g.Go(func() (err error) {
			entry.Created, err = s.stats.CountCreatedBetween(gctx, tenantID, start, end)
			return err
		})
		g.Go(func() (err error) {
			entry.Accepted, err = s.stats.CountAcceptedBetween(gctx, tenantID, start, end)
			return err
		})
	}
	g.Go(func() (err error) {
		summary.Today.Expired, err = s.stats.CountExpiredBetween(gctx, tenantID, today, now)
		return err
	})
	g.Go(func() (err error) {
		summary.ExpiringWithin24h, err = s.stats.CountPendingExpiringBetween(gctx, tenantID, now, now.Add(day))
		return err
	})
	g.Go(func() (err error) {
		summary.PendingOver7Days, err = s.stats.CountPendingCreatedBefore(gctx, tenantID, now.Add(-7*day))
		return err
	})
	g.Go(func() (err error) {
		summary.FailedValidations24h, err = s.audit.CountSince(gctx, tenantID, audit.ActionValidationFailed, now.Add(-day))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to compute activity summary: %w", err)
	}

	last := summary.DailyTrend[trendDays-1]
	summary.Today.Date = last.Date
	summary.Today.Created = last.Created
	summary.Today.Accepted = last.Accepted
	summary.DailyTrend[trendDays-1].Expired = summary.Today.Expired

	return summary, nil
}

// GenerateInvitationReport projects the tenant's invitations into flat rows.
// Expired invitations are left out unless IncludeExpired is set or the
// filter asks for the EXPIRED status.
func (s *InvitationReportService) GenerateInvitationReport(ctx context.Context, tenantID shared.ID, filter invitation.ReportFilter) (*InvitationReport, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, fmt.Errorf("%w: Report end date must not be before start date", shared.ErrValidation)
	}

	rows, err := s.stats.ListForReport(ctx, tenantID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation report: %w", err)
	}

	summary := make(map[invitation.StatusKind]int64, 4)
	for _, k := range invitation.AllStatusKinds() {
		summary[k] = 0
	}
	for _, r := range rows {
		summary[r.Status]++
	}

	return &InvitationReport{
		Rows:        rows,
		Summary:     summary,
		Total:       len(rows),
		GeneratedAt: s.now().UTC(),
	}, nil
}

var reportCSVHeader = []string{
	"ID", "Email", "Status", "Invited By", "Roles", "Message",
	"Created At", "Expires At", "Accepted At", "Cancelled At",
}

// ExportInvitationReportAsCSV renders the report as CSV. Every field is
// quoted and roles are joined with "; ".
func (s *InvitationReportService) ExportInvitationReportAsCSV(ctx context.Context, tenantID shared.ID, filter invitation.ReportFilter) ([]byte, error) {
	report, err := s.GenerateInvitationReport(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}

	records := make([][]string, 0, len(report.Rows)+1)
	records = append(records, reportCSVHeader)
	for _, r := range report.Rows {
		invitedBy := r.InviterEmail
		if invitedBy == "" {
			invitedBy = r.InvitedBy.String()
		}
		records = append(records, []string{
			r.ID.String(),
			r.Email,
			r.Status.String(),
			invitedBy,
			strings.Join(r.Roles, "; "),
			r.Message,
			formatCSVTime(&r.CreatedAt),
			formatCSVTime(&r.ExpiresAt),
			formatCSVTime(r.AcceptedAt),
			formatCSVTime(r.CancelledAt),
		})
	}

	var buf bytes.Buffer
	if err := writeQuotedCSV(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeQuotedCSV writes RFC 4180 records with every field quoted.
// encoding/csv only quotes fields that need it.
func writeQuotedCSV(w io.Writer, records [][]string) error {
	var line strings.Builder
	for _, record := range records {
		line.Reset()
		for i, field := range record {
			if i > 0 {
				line.WriteByte(',')
			}
			line.WriteByte('"')
			line.WriteString(strings.ReplaceAll(field, `"`, `""`))
			line.WriteByte('"')
		}
		line.WriteString("\r\n")
		if _, err := io.WriteString(w, line.String()); err != nil {
			return fmt.Errorf("failed to write csv: %w", err)
		}
	}
	return nil
}

func formatCSVTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func sumCounts(counts map[invitation.StatusKind]int64) int64 {
	var total int64
	for _, n := range counts {
		total += n
	}
	return total
}

// acceptanceRate returns accepted/total as a percentage with two decimals,
// or 0 when nothing was sent.
func acceptanceRate(accepted, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(accepted)/float64(total)*10000) / 100
}

package app

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/openctemio/invitations/internal/metrics"
	"github.com/openctemio/invitations/pkg/domain/audit"
	"github.com/openctemio/invitations/pkg/domain/invitation"
	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/logger"
)

// Archiver stores an export before records are deleted.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) error
}

// RetentionConfig configures the RetentionService.
type RetentionConfig struct {
	// RetentionDays is how long terminal invitations are kept. Zero disables
	// invitation cleanup.
	RetentionDays int
	// AuditRetentionDays is how long audit entries are kept. Zero disables
	// audit cleanup.
	AuditRetentionDays int
	BatchSize          int
}

// CleanupResult reports what one cleanup run removed.
type CleanupResult struct {
	InvitationsDeleted int64
	AuditDeleted       int64
	Archived           []string
}

// RetentionService removes terminal invitations and old audit entries.
type RetentionService struct {
	repo     invitation.Repository
	audit    *AuditService
	archiver Archiver
	config   RetentionConfig
	now      func() time.Time
	logger   *logger.Logger
}

// NewRetentionService creates a new RetentionService. archiver may be nil.
func NewRetentionService(repo invitation.Repository, auditService *AuditService, archiver Archiver, cfg RetentionConfig, log *logger.Logger) *RetentionService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	return &RetentionService{
		repo:     repo,
		audit:    auditService,
		archiver: archiver,
		config:   cfg,
		now:      time.Now,
		logger:   log.With("service", "retention"),
	}
}

// Cleanup deletes terminal invitations last touched before the retention
// window, archiving each batch first when an archiver is set, and then
// purges old audit entries. A failed archive stops the run before anything
// in that batch is deleted.
func (s *RetentionService) Cleanup(ctx context.Context) (*CleanupResult, error) {
	now := s.now().UTC()
	result := &CleanupResult{Archived: []string{}}
	log := s.logger.WithContext(ctx)

	if s.config.RetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -s.config.RetentionDays)
		for batch := 0; ; batch++ {
			invs, err := s.repo.ListTerminalBefore(ctx, cutoff, s.config.BatchSize)
			if err != nil {
				return result, fmt.Errorf("failed to list expired invitations: %w", err)
			}
			if len(invs) == 0 {
				break
			}

			if s.archiver != nil {
				key := fmt.Sprintf("invitations-%s-%03d.csv", now.Format("20060102T150405Z"), batch)
				body, err := archiveCSV(invs)
				if err != nil {
					return result, err
				}
				if err := s.archiver.Archive(ctx, key, body); err != nil {
					return result, fmt.Errorf("failed to archive invitations: %w", err)
				}
				result.Archived = append(result.Archived, key)
			}

			ids := make([]shared.ID, len(invs))
			for i, inv := range invs {
				ids[i] = inv.ID()
			}
			deleted, err := s.repo.DeleteByIDs(ctx, ids)
			if err != nil {
				return result, fmt.Errorf("failed to delete invitations: %w", err)
			}
			result.InvitationsDeleted += deleted

			if len(invs) < s.config.BatchSize {
				break
			}
		}
		metrics.RetentionDeletedTotal.WithLabelValues("invitation").Add(float64(result.InvitationsDeleted))
	}

	if s.config.AuditRetentionDays > 0 {
		deleted, err := s.audit.Purge(ctx, now.AddDate(0, 0, -s.config.AuditRetentionDays))
		if err != nil {
			return result, fmt.Errorf("failed to purge audit entries: %w", err)
		}
		result.AuditDeleted = deleted
		metrics.RetentionDeletedTotal.WithLabelValues("audit").Add(float64(deleted))
	}

	log.Info("retention cleanup finished",
		"invitations_deleted", result.InvitationsDeleted,
		"audit_deleted", result.AuditDeleted,
		"archives", len(result.Archived),
	)

	s.audit.RecordBestEffort(ctx, AuditContext{}, newEntry(audit.ActionCleanup, shared.ID{}, shared.ID{}).
		WithMetadata("invitations_deleted", result.InvitationsDeleted).
		WithMetadata("audit_deleted", result.AuditDeleted).
		WithMetadata("retention_days", s.config.RetentionDays))

	return result, nil
}

var archiveCSVHeader = []string{
	"ID", "Tenant ID", "Email", "Status", "Invited By", "Created At", "Expires At", "Updated At",
}

func archiveCSV(invs []*invitation.Invitation) ([]byte, error) {
	records := make([][]string, 0, len(invs)+1)
	records = append(records, archiveCSVHeader)
	for _, inv := range invs {
		createdAt, expiresAt, updatedAt := inv.CreatedAt(), inv.ExpiresAt(), inv.UpdatedAt()
		records = append(records, []string{
			inv.ID().String(),
			inv.TenantID().String(),
			inv.Email(),
			inv.StatusKind().String(),
			inv.InvitedBy().String(),
			formatCSVTime(&createdAt),
			formatCSVTime(&expiresAt),
			formatCSVTime(&updatedAt),
		})
	}

	var buf bytes.Buffer
	if err := writeQuotedCSV(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

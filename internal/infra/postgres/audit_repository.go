package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openctemio/invitations/pkg/domain/audit"
	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/pagination"
)

// AuditRepository implements audit.Repository using PostgreSQL.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create appends an audit entry.
func (r *AuditRepository) Create(ctx context.Context, e *audit.Entry) error {
	metadataJSON, err := json.Marshal(e.Metadata())
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO invitation_audit_logs (
			id, action, invitation_id, tenant_id, actor_id, ip_address, user_agent,
			success, error_code, error_message, metadata, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.ExecContext(ctx, query,
		e.ID().String(),
		e.Action().String(),
		nullID(e.InvitationID()),
		nullID(e.TenantID()),
		nullID(e.ActorID()),
		nullString(e.IPAddress()),
		nullString(e.UserAgent()),
		e.Success(),
		nullString(e.ErrorCode()),
		nullString(e.ErrorMessage()),
		metadataJSON,
		e.CreatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}
	return nil
}

// ListByInvitation returns the audit trail of one invitation, newest first.
func (r *AuditRepository) ListByInvitation(ctx context.Context, tenantID, invitationID shared.ID, page pagination.Pagination) (pagination.Result[*audit.Entry], error) {
	var total int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invitation_audit_logs WHERE invitation_id = $1 AND tenant_id = $2`,
		invitationID.String(), tenantID.String(),
	).Scan(&total)
	if err != nil {
		return pagination.Result[*audit.Entry]{}, fmt.Errorf("failed to count audit entries: %w", err)
	}

	query := `
		SELECT id, action, invitation_id, tenant_id, actor_id, ip_address, user_agent,
			success, error_code, error_message, metadata, created_at
		FROM invitation_audit_logs
		WHERE invitation_id = $1 AND tenant_id = $2
		ORDER BY created_at DESC
	` + fmt.Sprintf(" LIMIT %d OFFSET %d", page.Limit(), page.Offset())

	rows, err := r.db.QueryContext(ctx, query, invitationID.String(), tenantID.String())
	if err != nil {
		return pagination.Result[*audit.Entry]{}, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		e, err := r.scanEntry(rows)
		if err != nil {
			return pagination.Result[*audit.Entry]{}, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return pagination.Result[*audit.Entry]{}, fmt.Errorf("failed to iterate audit entries: %w", err)
	}

	return pagination.NewResult(entries, total, page), nil
}

// CountByAction counts occurrences of an action since a point in time.
func (r *AuditRepository) CountByAction(ctx context.Context, tenantID *shared.ID, action audit.Action, since time.Time) (int64, error) {
	var query string
	var args []any

	if tenantID != nil {
		query = `SELECT COUNT(*) FROM invitation_audit_logs WHERE tenant_id = $1 AND action = $2 AND created_at >= $3`
		args = []any{tenantID.String(), action.String(), since}
	} else {
		query = `SELECT COUNT(*) FROM invitation_audit_logs WHERE action = $1 AND created_at >= $2`
		args = []any{action.String(), since}
	}

	var count int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count by action: %w", err)
	}
	return count, nil
}

// DeleteOlderThan removes entries created before the cutoff.
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM invitation_audit_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit entries: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return count, nil
}

func (r *AuditRepository) scanEntry(rows *sql.Rows) (*audit.Entry, error) {
	var (
		idStr, action                        string
		invitationID, tenantID, actorID      sql.NullString
		ip, userAgent, errorCode, errMessage sql.NullString
		success                              bool
		metadataJSON                         []byte
		createdAt                            time.Time
	)

	err := rows.Scan(
		&idStr, &action, &invitationID, &tenantID, &actorID, &ip, &userAgent,
		&success, &errorCode, &errMessage, &metadataJSON, &createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	id, err := shared.IDFromString(idStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse id: %w", err)
	}

	var metadata map[string]any
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return audit.Reconstitute(
		id,
		audit.Action(action),
		parseNullID(invitationID),
		parseNullID(tenantID),
		parseNullID(actorID),
		ip.String,
		userAgent.String,
		success,
		errorCode.String,
		errMessage.String,
		metadata,
		createdAt,
	), nil
}

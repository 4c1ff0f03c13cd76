package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const adminAuditColumns = `id, room_id, actor_user_id, target_user_id, action, metadata, created_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed audit repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// RecordAccess inserts an AccessLog row. User-agent values longer than MaxUserAgentLength are truncated rather than
// rejected so a malformed client header never blocks the account-lifecycle action it is logging.
func (r *PGRepository) RecordAccess(ctx context.Context, params RecordAccessParams) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO access_logs (user_id, action, ip_address, user_agent) VALUES ($1, $2, $3, $4)`,
		params.UserID, params.Action, params.IPAddress, truncateUserAgent(params.UserAgent),
	)
	if err != nil {
		return fmt.Errorf("insert access log: %w", err)
	}
	return nil
}

// RecordAdmin inserts an AdminAuditLog row.
func (r *PGRepository) RecordAdmin(ctx context.Context, params RecordAdminParams) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO admin_audit_logs (room_id, actor_user_id, target_user_id, action, metadata)
		 VALUES ($1, $2, $3, $4, $5)`,
		params.RoomID, params.ActorUserID, params.TargetUserID, params.Action, params.Metadata,
	)
	if err != nil {
		return fmt.Errorf("insert admin audit log: %w", err)
	}
	return nil
}

func scanAdminAuditLog(row pgx.Row) (*AdminAuditLog, error) {
	var l AdminAuditLog
	if err := row.Scan(&l.ID, &l.RoomID, &l.ActorUserID, &l.TargetUserID, &l.Action, &l.Metadata, &l.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan admin audit log: %w", err)
	}
	return &l, nil
}

// AdminLogsForRoom returns a room's admin audit trail, newest first.
func (r *PGRepository) AdminLogsForRoom(ctx context.Context, roomID uuid.UUID) ([]AdminAuditLog, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+adminAuditColumns+` FROM admin_audit_logs WHERE room_id = $1 ORDER BY created_at DESC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query admin audit logs: %w", err)
	}
	defer rows.Close()

	var logs []AdminAuditLog
	for rows.Next() {
		l, err := scanAdminAuditLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}

// TrimAccessLogsBefore deletes AccessLog rows older than cutoff.
func (r *PGRepository) TrimAccessLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM access_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("trim access logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

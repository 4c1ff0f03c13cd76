// Package audit persists and exports the two audit trails the Store maintains: AccessLog (account-lifecycle
// events: login, logout, registration, password change, account deletion) and AdminAuditLog (room-admin actions).
package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// MaxUserAgentLength is the stored cap on AccessLog.UserAgent; longer values are truncated rather than rejected,
// since user agent strings are client-supplied and not security-sensitive.
const MaxUserAgentLength = 500

// AccessAction enumerates the account-lifecycle events AccessLog records.
type AccessAction string

const (
	ActionLogin           AccessAction = "login"
	ActionLogout          AccessAction = "logout"
	ActionRegister        AccessAction = "register"
	ActionPasswordChange  AccessAction = "password_change"
	ActionAccountDeletion AccessAction = "account_deletion"
)

// AccessLog is one row of the account-lifecycle audit trail. UserID is nil for actions that fail before a user is
// resolved (e.g. login with an unknown username).
type AccessLog struct {
	ID        uuid.UUID
	UserID    *uuid.UUID
	Action    AccessAction
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

// RecordAccessParams groups the inputs for writing an AccessLog row.
type RecordAccessParams struct {
	UserID    *uuid.UUID
	Action    AccessAction
	IPAddress string
	UserAgent string
}

// AdminAction enumerates the room-admin actions AdminAuditLog records.
type AdminAction string

const (
	AdminActionKick          AdminAction = "kick"
	AdminActionKickRejected  AdminAction = "kick_rejected"
	AdminActionPromote       AdminAction = "promote"
	AdminActionDemote        AdminAction = "demote"
	AdminActionRename        AdminAction = "rename"
	AdminActionClosePoll     AdminAction = "close_poll"
	AdminActionDeleteMessage AdminAction = "delete_message"
)

// AdminAuditLog is one row of the room-admin action trail. TargetUserID is nil for actions with no target member
// (e.g. rename). Metadata is free-form JSON carrying action-specific detail (e.g. the new room name on rename).
type AdminAuditLog struct {
	ID           uuid.UUID
	RoomID       uuid.UUID
	ActorUserID  uuid.UUID
	TargetUserID *uuid.UUID
	Action       AdminAction
	Metadata     json.RawMessage
	CreatedAt    time.Time
}

// RecordAdminParams groups the inputs for writing an AdminAuditLog row.
type RecordAdminParams struct {
	RoomID       uuid.UUID
	ActorUserID  uuid.UUID
	TargetUserID *uuid.UUID
	Action       AdminAction
	Metadata     json.RawMessage
}

// Repository defines the data-access contract for both audit trails.
type Repository interface {
	RecordAccess(ctx context.Context, params RecordAccessParams) error
	RecordAdmin(ctx context.Context, params RecordAdminParams) error
	// AdminLogsForRoom returns a room's admin audit trail, newest first.
	AdminLogsForRoom(ctx context.Context, roomID uuid.UUID) ([]AdminAuditLog, error)
	// TrimAccessLogsBefore deletes AccessLog rows older than cutoff, for the maintenance loop's retention policy.
	// It returns the number of rows removed.
	TrimAccessLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// truncateUserAgent caps ua at MaxUserAgentLength runes.
func truncateUserAgent(ua string) string {
	r := []rune(ua)
	if len(r) <= MaxUserAgentLength {
		return ua
	}
	return string(r[:MaxUserAgentLength])
}

// adminAuditCSVHeader is the fixed column order for the admin audit log CSV export.
var adminAuditCSVHeader = []string{"id", "room_id", "actor_user_id", "target_user_id", "action", "metadata", "created_at"}

// WriteAdminAuditCSV writes logs to w as CSV with a fixed header and column order, so the export is stable across
// server versions and safe to diff or script against.
func WriteAdminAuditCSV(w io.Writer, logs []AdminAuditLog) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(adminAuditCSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, l := range logs {
		target := ""
		if l.TargetUserID != nil {
			target = l.TargetUserID.String()
		}
		metadata := ""
		if len(l.Metadata) > 0 {
			metadata = string(l.Metadata)
		}
		record := []string{
			l.ID.String(), l.RoomID.String(), l.ActorUserID.String(), target,
			string(l.Action), metadata, l.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

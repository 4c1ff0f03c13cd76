package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/twbeatles/intranet-messenger/internal/message"
)

// Repository defines the data-access contract for message search.
type Repository interface {
	// Search runs a plain content query across every room userID belongs to.
	Search(ctx context.Context, userID uuid.UUID, query string, offset, limit int) (Page, error)
	// AdvancedSearch runs a filtered query across every room userID belongs to.
	AdvancedSearch(ctx context.Context, userID uuid.UUID, filters Filters, offset, limit int) (Page, error)
}

// PGRepository implements Repository using PostgreSQL full-text search.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed search repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Search is AdvancedSearch with every filter but the query text left unset.
func (r *PGRepository) Search(ctx context.Context, userID uuid.UUID, query string, offset, limit int) (Page, error) {
	return r.AdvancedSearch(ctx, userID, Filters{Query: query}, offset, limit)
}

// AdvancedSearch runs filters against every room userID belongs to, excluding encrypted message bodies (which are
// opaque ciphertext and not meaningfully searchable) and soft-deleted (tombstoned) messages.
func (r *PGRepository) AdvancedSearch(ctx context.Context, userID uuid.UUID, filters Filters, offset, limit int) (Page, error) {
	limit = ClampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	var (
		conditions = []string{"rm.user_id = $1", "m.encrypted = false"}
		args       = []any{userID}
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	// Tombstoned rows keep their marker as content; they are display placeholders, not searchable messages.
	conditions = append(conditions, fmt.Sprintf("m.content <> %s", arg(message.DeletedMarker)))

	if filters.Query != "" {
		conditions = append(conditions, fmt.Sprintf(
			"to_tsvector('simple', m.content) @@ plainto_tsquery('simple', %s)", arg(filters.Query)))
	}
	if filters.RoomID != nil {
		conditions = append(conditions, fmt.Sprintf("m.room_id = %s", arg(*filters.RoomID)))
	}
	if filters.SenderID != nil {
		conditions = append(conditions, fmt.Sprintf("m.sender_id = %s", arg(*filters.SenderID)))
	}
	if filters.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("m.created_at >= %s", arg(*filters.DateFrom)))
	}
	if filters.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("m.created_at <= %s", arg(*filters.DateTo)))
	}
	if filters.FileOnly {
		conditions = append(conditions, "m.message_type IN ('file', 'image')")
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countSQL := fmt.Sprintf(`
		SELECT COUNT(DISTINCT m.id)
		FROM messages m
		JOIN room_members rm ON m.room_id = rm.room_id
		WHERE %s`, where)
	if err := r.db.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("count search results: %w", err)
	}

	limitPlaceholder := arg(limit)
	offsetPlaceholder := arg(offset)
	rowsSQL := fmt.Sprintf(`
		SELECT m.id, m.room_id, r.name, m.sender_id, u.nickname, m.content, m.message_type, m.created_at
		FROM messages m
		JOIN room_members rm ON m.room_id = rm.room_id
		JOIN rooms r ON r.id = m.room_id
		JOIN users u ON u.id = m.sender_id
		WHERE %s
		ORDER BY m.created_at DESC
		LIMIT %s OFFSET %s`, where, limitPlaceholder, offsetPlaceholder)

	rows, err := r.db.Query(ctx, rowsSQL, args...)
	if err != nil {
		return Page{}, fmt.Errorf("query search results: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var res Result
		var roomName *string
		if err := rows.Scan(&res.MessageID, &res.RoomID, &roomName, &res.SenderID, &res.SenderName,
			&res.Content, &res.MessageType, &res.CreatedAt); err != nil {
			return Page{}, fmt.Errorf("scan search result: %w", err)
		}
		if roomName != nil {
			res.RoomName = *roomName
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("iterate search results: %w", err)
	}

	return Page{Results: results, Total: total, Offset: offset, Limit: limit}, nil
}

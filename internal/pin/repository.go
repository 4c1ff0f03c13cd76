package pin

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = `id, room_id, message_id, content, pinned_by, pinned_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed pin repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func scanPin(row pgx.Row) (*Pin, error) {
	var p Pin
	if err := row.Scan(&p.ID, &p.RoomID, &p.MessageID, &p.Content, &p.PinnedBy, &p.PinnedAt); err != nil {
		return nil, fmt.Errorf("scan pin: %w", err)
	}
	return &p, nil
}

// Create inserts a new pin. Callers check Count against MaxPins before calling this, since enforcing the limit here
// would require locking the room's pin rows for every insert.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Pin, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	pin, err := scanPin(r.db.QueryRow(ctx,
		`INSERT INTO pinned_messages (room_id, message_id, content, pinned_by)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+selectColumns,
		params.RoomID, params.MessageID, params.Content, params.PinnedBy,
	))
	if err != nil {
		return nil, fmt.Errorf("insert pin: %w", err)
	}
	return pin, nil
}

// List returns every pin in a room, most recently pinned first.
func (r *PGRepository) List(ctx context.Context, roomID uuid.UUID) ([]Pin, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM pinned_messages WHERE room_id = $1 ORDER BY pinned_at DESC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query pins: %w", err)
	}
	defer rows.Close()

	var pins []Pin
	for rows.Next() {
		p, err := scanPin(rows)
		if err != nil {
			return nil, err
		}
		pins = append(pins, *p)
	}
	return pins, rows.Err()
}

// Delete removes a pin scoped to its room, so a pin id leaked from another room cannot be deleted cross-room.
func (r *PGRepository) Delete(ctx context.Context, roomID, pinID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM pinned_messages WHERE id = $1 AND room_id = $2`, pinID, roomID)
	if err != nil {
		return fmt.Errorf("delete pin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns how many pins a room currently holds.
func (r *PGRepository) Count(ctx context.Context, roomID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM pinned_messages WHERE room_id = $1`, roomID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("count pins: %w", err)
	}
	return count, nil
}

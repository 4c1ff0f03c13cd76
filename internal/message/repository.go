package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/twbeatles/intranet-messenger/internal/postgres"
)

const selectColumns = `id, room_id, sender_id, content, encrypted, message_type, file_path, file_name, reply_to,
	created_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed message repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(
		&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.Encrypted, &m.Type,
		&m.FilePath, &m.FileName, &m.ReplyTo, &m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return &m, nil
}

// Create inserts a new message. When ReplyTo is set, the referenced message must already exist in the same room
// (orphaned or cross-room reply targets are rejected up front rather than left to dangle silently).
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Message, error) {
	var msg *Message
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if params.ReplyTo != nil {
			var sameRoom bool
			err := tx.QueryRow(ctx,
				`SELECT room_id = $2 FROM messages WHERE id = $1`, *params.ReplyTo, params.RoomID,
			).Scan(&sameRoom)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrReplyNotFound
				}
				return fmt.Errorf("check reply target: %w", err)
			}
			if !sameRoom {
				return ErrReplyWrongRoom
			}
		}

		var id uuid.UUID
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate message id: %w", err)
		}

		row := tx.QueryRow(ctx,
			`INSERT INTO messages (id, room_id, sender_id, content, encrypted, message_type, file_path, file_name, reply_to)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING `+selectColumns,
			id, params.RoomID, params.SenderID, params.Content, params.Encrypted, params.Type,
			params.FilePath, params.FileName, params.ReplyTo,
		)
		msg, err = scanMessage(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetByID returns a single message by ID, tombstoned or not; callers that must exclude tombstones check msg.Content
// against DeletedMarker themselves, since the row always exists once created.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	msg, err := scanMessage(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query message by id: %w", err)
	}
	return msg, nil
}

// List returns a room's messages ordered newest first. When before is non-nil, only messages created strictly
// before it are returned (id-based cursor pagination; message ids are time-ordered UUIDv7 values).
func (r *PGRepository) List(ctx context.Context, roomID uuid.UUID, before *uuid.UUID, limit int) ([]Message, error) {
	var rows pgx.Rows
	var err error

	if before != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+selectColumns+` FROM messages
			 WHERE room_id = $1 AND id < $2
			 ORDER BY id DESC
			 LIMIT $3`, roomID, *before, limit)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+selectColumns+` FROM messages
			 WHERE room_id = $1
			 ORDER BY id DESC
			 LIMIT $2`, roomID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// SoftDelete tombstones a message: content is replaced with DeletedMarker, encrypted is cleared, and file
// references are cleared. The row is kept so reply_to chains stay valid.
func (r *PGRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE messages SET content = $2, encrypted = false, file_path = NULL, file_name = NULL
		 WHERE id = $1 AND content != $2`, id, DeletedMarker)
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the message does not exist or it is already a tombstone; disambiguate.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrAlreadyDeleted
	}
	return nil
}

// Edit updates a message's content. Tombstoned messages reject the edit with ErrAlreadyDeleted.
func (r *PGRepository) Edit(ctx context.Context, id uuid.UUID, content string) (*Message, error) {
	msg, err := scanMessage(r.db.QueryRow(ctx,
		`UPDATE messages SET content = $2 WHERE id = $1 AND content != $3
		 RETURNING `+selectColumns, id, content, DeletedMarker))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			existing, getErr := r.GetByID(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			if existing.Content == DeletedMarker {
				return nil, ErrAlreadyDeleted
			}
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("edit message: %w", err)
	}
	return msg, nil
}

// DeleteOlderThan hard-deletes every message row created before cutoff. Unlike SoftDelete this does not keep a
// tombstone: retention is an operator-configured purge, not a user-facing delete, so reply_to references into a
// purged message are allowed to dangle.
func (r *PGRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM messages WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old messages: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

package reaction

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/twbeatles/intranet-messenger/internal/postgres"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed reaction repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Toggle inserts or removes a single (message_id, user_id, emoji) row inside a transaction so the existence check
// and the mutation observe the same snapshot: a delete that affects zero rows means the reaction is absent, so it
// is inserted instead.
func (r *PGRepository) Toggle(ctx context.Context, messageID, userID uuid.UUID, emoji string) (bool, error) {
	if err := ValidateEmoji(emoji); err != nil {
		return false, err
	}

	var added bool
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
			messageID, userID, emoji)
		if err != nil {
			return fmt.Errorf("delete reaction: %w", err)
		}
		if tag.RowsAffected() > 0 {
			added = false
			return nil
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
			 ON CONFLICT (message_id, user_id, emoji) DO NOTHING`,
			messageID, userID, emoji,
		); err != nil {
			return fmt.Errorf("insert reaction: %w", err)
		}
		added = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// ForMessage returns the canonical per-emoji aggregate for a message, grouping reacting user ids via array_agg.
func (r *PGRepository) ForMessage(ctx context.Context, messageID uuid.UUID) ([]Summary, error) {
	rows, err := r.db.Query(ctx,
		`SELECT emoji, count(*), array_agg(user_id ORDER BY user_id)
		 FROM reactions
		 WHERE message_id = $1
		 GROUP BY emoji
		 ORDER BY emoji`, messageID)
	if err != nil {
		return nil, fmt.Errorf("query reactions for message: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.Emoji, &s.Count, &s.UserIDs); err != nil {
			return nil, fmt.Errorf("scan reaction summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// ForMessages aggregates reactions for a whole page of messages in a single query, so a message-history fetch does
// not pay one round trip per row.
func (r *PGRepository) ForMessages(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]Summary, error) {
	out := make(map[uuid.UUID][]Summary, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT message_id, emoji, count(*), array_agg(user_id ORDER BY user_id)
		 FROM reactions
		 WHERE message_id = ANY($1)
		 GROUP BY message_id, emoji
		 ORDER BY message_id, emoji`, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("query reactions for messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID uuid.UUID
		var s Summary
		if err := rows.Scan(&messageID, &s.Emoji, &s.Count, &s.UserIDs); err != nil {
			return nil, fmt.Errorf("scan reaction summary: %w", err)
		}
		out[messageID] = append(out[messageID], s)
	}
	return out, rows.Err()
}

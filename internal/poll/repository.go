package poll

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/twbeatles/intranet-messenger/internal/postgres"
)

const pollColumns = `id, room_id, created_by, question, multiple_choice, anonymous, closed, ends_at, created_at`
const optionColumns = `id, poll_id, option_text`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed poll repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func scanPoll(row pgx.Row) (*Poll, error) {
	var p Poll
	err := row.Scan(&p.ID, &p.RoomID, &p.CreatedBy, &p.Question, &p.MultipleChoice, &p.Anonymous, &p.Closed,
		&p.EndsAt, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan poll: %w", err)
	}
	return &p, nil
}

func scanOption(row pgx.Row) (*Option, error) {
	var o Option
	if err := row.Scan(&o.ID, &o.PollID, &o.OptionText); err != nil {
		return nil, fmt.Errorf("scan poll option: %w", err)
	}
	return &o, nil
}

// Create inserts a new poll with its options in a single transaction.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Poll, []Option, error) {
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}

	var poll *Poll
	var options []Option

	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		p, err := scanPoll(tx.QueryRow(ctx,
			`INSERT INTO polls (room_id, created_by, question, multiple_choice, anonymous, ends_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING `+pollColumns,
			params.RoomID, params.CreatedBy, params.Question, params.MultipleChoice, params.Anonymous, params.EndsAt,
		))
		if err != nil {
			return fmt.Errorf("insert poll: %w", err)
		}
		poll = p

		for _, text := range params.Options {
			opt, err := scanOption(tx.QueryRow(ctx,
				`INSERT INTO poll_options (poll_id, option_text) VALUES ($1, $2) RETURNING `+optionColumns,
				poll.ID, text,
			))
			if err != nil {
				return fmt.Errorf("insert poll option: %w", err)
			}
			options = append(options, *opt)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return poll, options, nil
}

// GetByID returns the poll matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Poll, error) {
	p, err := scanPoll(r.db.QueryRow(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query poll by id: %w", err)
	}
	return p, nil
}

// Options returns a poll's options in creation order.
func (r *PGRepository) Options(ctx context.Context, pollID uuid.UUID) ([]Option, error) {
	rows, err := r.db.Query(ctx, `SELECT `+optionColumns+` FROM poll_options WHERE poll_id = $1 ORDER BY id`, pollID)
	if err != nil {
		return nil, fmt.Errorf("query poll options: %w", err)
	}
	defer rows.Close()

	var options []Option
	for rows.Next() {
		o, err := scanOption(rows)
		if err != nil {
			return nil, err
		}
		options = append(options, *o)
	}
	return options, rows.Err()
}

// Results returns each option with its vote count and the ids of users who voted for it, aggregated in one query
// (array_agg over the join), matching the Store's "small aggregate" read shape.
func (r *PGRepository) Results(ctx context.Context, pollID uuid.UUID) ([]OptionResult, error) {
	rows, err := r.db.Query(ctx,
		`SELECT o.id, o.poll_id, o.option_text,
		        count(v.user_id) AS vote_count,
		        coalesce(array_agg(v.user_id) FILTER (WHERE v.user_id IS NOT NULL), '{}') AS voter_ids
		 FROM poll_options o
		 LEFT JOIN poll_votes v ON v.option_id = o.id
		 WHERE o.poll_id = $1
		 GROUP BY o.id, o.poll_id, o.option_text
		 ORDER BY o.id`, pollID)
	if err != nil {
		return nil, fmt.Errorf("query poll results: %w", err)
	}
	defer rows.Close()

	var results []OptionResult
	for rows.Next() {
		var res OptionResult
		if err := rows.Scan(&res.ID, &res.PollID, &res.OptionText, &res.VoteCount, &res.VoterIDs); err != nil {
			return nil, fmt.Errorf("scan poll result: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// ListForRoom returns a room's polls, newest first.
func (r *PGRepository) ListForRoom(ctx context.Context, roomID uuid.UUID) ([]Poll, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+pollColumns+` FROM polls WHERE room_id = $1 ORDER BY created_at DESC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query polls for room: %w", err)
	}
	defer rows.Close()

	var polls []Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		polls = append(polls, *p)
	}
	return polls, rows.Err()
}

// Vote casts userID's vote for optionID on pollID, inside a single transaction that validates option/poll
// consistency and closed state under lock, then (for single-choice polls) clears any prior vote by this user on
// this poll before inserting the new one.
func (r *PGRepository) Vote(ctx context.Context, pollID, optionID, userID uuid.UUID) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var multipleChoice, closed bool
		err := tx.QueryRow(ctx,
			`SELECT multiple_choice, closed FROM polls WHERE id = $1 FOR UPDATE`, pollID,
		).Scan(&multipleChoice, &closed)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock poll: %w", err)
		}
		if closed {
			return ErrClosed
		}

		var optionBelongs bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM poll_options WHERE id = $1 AND poll_id = $2)`, optionID, pollID,
		).Scan(&optionBelongs)
		if err != nil {
			return fmt.Errorf("check option scope: %w", err)
		}
		if !optionBelongs {
			return ErrOptionWrongPoll
		}

		if !multipleChoice {
			if _, err := tx.Exec(ctx,
				`DELETE FROM poll_votes WHERE poll_id = $1 AND user_id = $2`, pollID, userID,
			); err != nil {
				return fmt.Errorf("clear prior vote: %w", err)
			}
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO poll_votes (poll_id, option_id, user_id) VALUES ($1, $2, $3)
			 ON CONFLICT (poll_id, option_id, user_id) DO NOTHING`,
			pollID, optionID, userID,
		); err != nil {
			return fmt.Errorf("insert vote: %w", err)
		}
		return nil
	})
}

// Close marks a poll as closed.
func (r *PGRepository) Close(ctx context.Context, pollID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE polls SET closed = true WHERE id = $1`, pollID)
	if err != nil {
		return fmt.Errorf("close poll: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CloseExpired closes every poll whose ends_at has passed and is not already closed.
func (r *PGRepository) CloseExpired(ctx context.Context) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE polls SET closed = true WHERE closed = false AND ends_at IS NOT NULL AND ends_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("close expired polls: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

package sso

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed SSO identity repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// FindUser returns the local user linked to provider/subject.
func (r *PGRepository) FindUser(ctx context.Context, provider, subject string) (uuid.UUID, error) {
	var userID uuid.UUID
	err := r.db.QueryRow(ctx,
		`SELECT user_id FROM sso_identities WHERE provider = $1 AND subject = $2`, provider, subject,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("query sso identity: %w", err)
	}
	return userID, nil
}

// Link upserts the provider/subject -> user_id mapping.
func (r *PGRepository) Link(ctx context.Context, provider, subject string, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sso_identities (provider, subject, user_id) VALUES ($1, $2, $3)
		 ON CONFLICT (provider, subject) DO UPDATE SET user_id = EXCLUDED.user_id`,
		provider, subject, userID,
	)
	if err != nil {
		return fmt.Errorf("upsert sso identity: %w", err)
	}
	return nil
}

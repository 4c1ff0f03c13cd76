package user

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

// selectColumns lists the columns returned by queries that produce a *User. Every method that scans into a User must
// select these columns in this exact order.
const selectColumns = `id, username, nickname, profile_image, status, status_message, mfa_enabled, session_token,
	created_at`

// selectCredentialsColumns lists the columns returned by queries that produce a *Credentials. The order must match
// scanCredentials.
const selectCredentialsColumns = `id, username, password_hash, nickname, profile_image, status, status_message,
	mfa_enabled, mfa_secret_wrapped, session_token, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Username, &u.Nickname, &u.ProfileImage, &u.Status, &u.StatusMessage,
		&u.MFAEnabled, &u.SessionToken, &u.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func scanCredentials(row pgx.Row) (*Credentials, error) {
	var c Credentials
	err := row.Scan(
		&c.ID, &c.Username, &c.PasswordHash, &c.Nickname, &c.ProfileImage, &c.Status, &c.StatusMessage,
		&c.MFAEnabled, &c.MFASecretWrapped, &c.SessionToken, &c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan credentials: %w", err)
	}
	return &c, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed user repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new user. The nickname is set to the username by the insert itself; status defaults to offline
// through the schema's column default.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (uuid.UUID, error) {
	var userID uuid.UUID
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, nickname)
		 VALUES ($1, $2, $1)
		 RETURNING id`,
		params.Username, params.PasswordHash,
	).Scan(&userID)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return uuid.Nil, ErrUsernameTaken
		}
		return uuid.Nil, fmt.Errorf("insert user: %w", err)
	}
	return userID, nil
}

// GetByID returns the user matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by id: %w", err)
	}
	return u, nil
}

// GetByUsername returns credentials for the user matching the given username, used by the login path.
func (r *PGRepository) GetByUsername(ctx context.Context, username string) (*Credentials, error) {
	c, err := scanCredentials(r.db.QueryRow(ctx,
		`SELECT `+selectCredentialsColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by username: %w", err)
	}
	return c, nil
}

// GetCredentialsByID returns credentials for the given user ID, used when re-verifying the current password (change
// password, delete account).
func (r *PGRepository) GetCredentialsByID(ctx context.Context, id uuid.UUID) (*Credentials, error) {
	c, err := scanCredentials(r.db.QueryRow(ctx,
		`SELECT `+selectCredentialsColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query credentials by id: %w", err)
	}
	return c, nil
}

// ListAll returns every user ordered by username, for the directory listing endpoint.
func (r *PGRepository) ListAll(ctx context.Context) ([]*User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+selectColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("query all users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CurrentSessionToken returns the session_token currently stored on the user's row. Satisfies session.TokenLookup.
func (r *PGRepository) CurrentSessionToken(ctx context.Context, userID uuid.UUID) (string, error) {
	var token *string
	err := r.db.QueryRow(ctx, `SELECT session_token FROM users WHERE id = $1`, userID).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("query session token: %w", err)
	}
	if token == nil {
		return "", nil
	}
	return *token, nil
}

// RotateSessionToken generates and stores a new session_token for userID, invalidating any previously issued session.
// Called on login and on password change.
func (r *PGRepository) RotateSessionToken(ctx context.Context, userID uuid.UUID) (string, error) {
	token := uuid.New().String()
	tag, err := r.db.Exec(ctx, `UPDATE users SET session_token = $1 WHERE id = $2`, token, userID)
	if err != nil {
		return "", fmt.Errorf("rotate session token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrNotFound
	}
	return token, nil
}

// UpdatePasswordHash replaces the stored password hash, used both for an explicit password change and for the
// lazy-rehash-on-login flow.
func (r *PGRepository) UpdatePasswordHash(ctx context.Context, userID uuid.UUID, hash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, hash, userID)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Update applies the non-nil fields in params to the user's profile and returns the updated row.
func (r *PGRepository) Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`UPDATE users SET
			nickname       = COALESCE($2, nickname),
			profile_image  = COALESCE($3, profile_image),
			status_message = COALESCE($4, status_message)
		 WHERE id = $1
		 RETURNING `+selectColumns,
		id, params.Nickname, params.ProfileImage, params.StatusMessage,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}

// SetStatus updates the user's presence status column. Called by the realtime engine's presence-coalescing logic on
// the 0<->1 session-count transition, not on every connect/disconnect.
func (r *PGRepository) SetStatus(ctx context.Context, userID uuid.UUID, status Status) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET status = $1 WHERE id = $2`, status, userID)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EnableMFA stores the wrapped TOTP secret and the hashed recovery codes in a single transaction.
func (r *PGRepository) EnableMFA(ctx context.Context, userID uuid.UUID, wrappedSecret string, codeHashes []string) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE users SET mfa_enabled = true, mfa_secret_wrapped = $1 WHERE id = $2`,
			wrappedSecret, userID)
		if err != nil {
			return fmt.Errorf("enable mfa: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		for _, hash := range codeHashes {
			if _, err := tx.Exec(ctx,
				`INSERT INTO mfa_recovery_codes (user_id, code_hash) VALUES ($1, $2)`,
				userID, hash,
			); err != nil {
				return fmt.Errorf("insert recovery code: %w", err)
			}
		}
		return nil
	})
}

// DisableMFA clears the MFA secret and deletes any remaining recovery codes.
func (r *PGRepository) DisableMFA(ctx context.Context, userID uuid.UUID) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE users SET mfa_enabled = false, mfa_secret_wrapped = NULL WHERE id = $1`, userID)
		if err != nil {
			return fmt.Errorf("disable mfa: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM mfa_recovery_codes WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("delete recovery codes: %w", err)
		}
		return nil
	})
}

// ReplaceRecoveryCodes deletes every existing recovery code for the user and inserts the given hashes in its place.
// Used when regenerating codes for a user who already has MFA enabled, without touching the wrapped TOTP secret.
func (r *PGRepository) ReplaceRecoveryCodes(ctx context.Context, userID uuid.UUID, codeHashes []string) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM mfa_recovery_codes WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("delete recovery codes: %w", err)
		}
		for _, hash := range codeHashes {
			if _, err := tx.Exec(ctx,
				`INSERT INTO mfa_recovery_codes (user_id, code_hash) VALUES ($1, $2)`,
				userID, hash,
			); err != nil {
				return fmt.Errorf("insert recovery code: %w", err)
			}
		}
		return nil
	})
}

// GetUnusedRecoveryCodes returns the recovery codes that have not yet been consumed.
func (r *PGRepository) GetUnusedRecoveryCodes(ctx context.Context, userID uuid.UUID) ([]MFARecoveryCode, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, code_hash FROM mfa_recovery_codes WHERE user_id = $1 AND used_at IS NULL`, userID)
	if err != nil {
		return nil, fmt.Errorf("query recovery codes: %w", err)
	}
	defer rows.Close()

	var codes []MFARecoveryCode
	for rows.Next() {
		var c MFARecoveryCode
		if err := rows.Scan(&c.ID, &c.CodeHash); err != nil {
			return nil, fmt.Errorf("scan recovery code: %w", err)
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// UseRecoveryCode marks a recovery code as consumed.
func (r *PGRepository) UseRecoveryCode(ctx context.Context, codeID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE mfa_recovery_codes SET used_at = now() WHERE id = $1 AND used_at IS NULL`, codeID)
	if err != nil {
		return fmt.Errorf("use recovery code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("recovery code already used or not found")
	}
	return nil
}

// Delete removes the user row. Room memberships and messages cascade or tombstone per the schema's foreign keys; this
// method only performs the user-row deletion itself, matching the maintenance loop's narrower responsibility for
// room/message retention.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const jobColumns = `id, user_id, room_id, temp_path, final_path, file_name, file_type, file_size, status, result,
	token, created_at, updated_at`

// PGJobRepository implements JobRepository using PostgreSQL.
type PGJobRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGJobRepository creates a new PostgreSQL-backed upload scan job repository.
func NewPGJobRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGJobRepository {
	return &PGJobRepository{db: db, log: logger}
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.UserID, &j.RoomID, &j.TempPath, &j.FinalPath, &j.FileName, &j.FileType, &j.FileSize,
		&j.Status, &j.Result, &j.Token, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan upload job: %w", err)
	}
	return &j, nil
}

// CreateJob inserts a new pending scan job.
func (r *PGJobRepository) CreateJob(ctx context.Context, params CreateJobParams) (*Job, error) {
	j, err := scanJob(r.db.QueryRow(ctx,
		`INSERT INTO upload_scan_jobs (user_id, room_id, temp_path, file_name, file_type, file_size, status)
		 VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		 RETURNING `+jobColumns,
		params.UserID, params.RoomID, params.TempPath, params.FileName, params.FileType, params.FileSize,
	))
	if err != nil {
		return nil, fmt.Errorf("insert upload job: %w", err)
	}
	return j, nil
}

// GetJob returns the scan job matching the given ID.
func (r *PGJobRepository) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	j, err := scanJob(r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM upload_scan_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("query upload job: %w", err)
	}
	return j, nil
}

// MarkClean transitions a pending job to clean, recording its final path and minted token.
func (r *PGJobRepository) MarkClean(ctx context.Context, id uuid.UUID, finalPath, token string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE upload_scan_jobs SET status = 'clean', final_path = $2, token = $3, updated_at = now()
		 WHERE id = $1 AND status = 'pending'`, id, finalPath, token)
	if err != nil {
		return fmt.Errorf("mark upload job clean: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// MarkInfected transitions a pending job to infected, recording the scanner's result string.
func (r *PGJobRepository) MarkInfected(ctx context.Context, id uuid.UUID, result string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE upload_scan_jobs SET status = 'infected', result = $2, updated_at = now()
		 WHERE id = $1 AND status = 'pending'`, id, result)
	if err != nil {
		return fmt.Errorf("mark upload job infected: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// MarkError transitions a pending job to error, recording the failure reason.
func (r *PGJobRepository) MarkError(ctx context.Context, id uuid.UUID, result string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE upload_scan_jobs SET status = 'error', result = $2, updated_at = now()
		 WHERE id = $1 AND status = 'pending'`, id, result)
	if err != nil {
		return fmt.Errorf("mark upload job error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// PendingJobs returns every job still awaiting a scan result, oldest first, for worker startup recovery.
func (r *PGJobRepository) PendingJobs(ctx context.Context) ([]Job, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+` FROM upload_scan_jobs WHERE status = 'pending' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query pending upload jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

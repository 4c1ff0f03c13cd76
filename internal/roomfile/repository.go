package roomfile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = `id, room_id, message_id, file_path, file_name, file_size, file_type, uploaded_by, uploaded_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed room file repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func scanRoomFile(row pgx.Row) (*RoomFile, error) {
	var f RoomFile
	err := row.Scan(&f.ID, &f.RoomID, &f.MessageID, &f.FilePath, &f.FileName, &f.FileSize, &f.FileType,
		&f.UploadedBy, &f.UploadedAt)
	if err != nil {
		return nil, fmt.Errorf("scan room file: %w", err)
	}
	return &f, nil
}

// Create inserts a new room file catalog row.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*RoomFile, error) {
	f, err := scanRoomFile(r.db.QueryRow(ctx,
		`INSERT INTO room_files (room_id, message_id, file_path, file_name, file_size, file_type, uploaded_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+selectColumns,
		params.RoomID, params.MessageID, params.FilePath, params.FileName, params.FileSize, params.FileType,
		params.UploadedBy,
	))
	if err != nil {
		return nil, fmt.Errorf("insert room file: %w", err)
	}
	return f, nil
}

// GetByPath returns the catalog row for a given relative file path.
func (r *PGRepository) GetByPath(ctx context.Context, filePath string) (*RoomFile, error) {
	f, err := scanRoomFile(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM room_files WHERE file_path = $1`, filePath))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query room file by path: %w", err)
	}
	return f, nil
}

// ListForRoom returns a room's files, most recently uploaded first.
func (r *PGRepository) ListForRoom(ctx context.Context, roomID uuid.UUID) ([]RoomFile, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM room_files WHERE room_id = $1 ORDER BY uploaded_at DESC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query room files: %w", err)
	}
	defer rows.Close()

	var files []RoomFile
	for rows.Next() {
		f, err := scanRoomFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

// Delete removes the catalog row for filePath.
func (r *PGRepository) Delete(ctx context.Context, filePath string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM room_files WHERE file_path = $1`, filePath)
	if err != nil {
		return fmt.Errorf("delete room file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteOlderThan removes every catalog row uploaded before cutoff and returns the removed rows' file paths.
func (r *PGRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `DELETE FROM room_files WHERE uploaded_at < $1 RETURNING file_path`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete old room files: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan deleted room file path: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

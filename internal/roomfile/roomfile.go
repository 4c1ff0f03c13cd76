// Package roomfile implements RoomFile: the catalog row linking an uploaded file to the room and, usually, the
// message that references it.
package roomfile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a room file lookup finds no matching row.
var ErrNotFound = errors.New("room file not found")

// RoomFile holds the fields read from the room_files table. MessageID is nilable: per the send_message algorithm,
// the message is persisted first and the RoomFile row second, so a failure between the two steps can leave a
// visible message with no catalog entry — an accepted recoverable state, not an invariant violation.
type RoomFile struct {
	ID         uuid.UUID
	RoomID     uuid.UUID
	MessageID  *uuid.UUID
	FilePath   string
	FileName   string
	FileSize   int64
	FileType   string
	UploadedBy uuid.UUID
	UploadedAt time.Time
}

// CreateParams groups the inputs for cataloging an uploaded file.
type CreateParams struct {
	RoomID     uuid.UUID
	MessageID  *uuid.UUID
	FilePath   string
	FileName   string
	FileSize   int64
	FileType   string
	UploadedBy uuid.UUID
}

// Repository defines the data-access contract for room file operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*RoomFile, error)
	GetByPath(ctx context.Context, filePath string) (*RoomFile, error)
	ListForRoom(ctx context.Context, roomID uuid.UUID) ([]RoomFile, error)
	// Delete removes the catalog row for filePath. It does not touch the file on disk; callers orchestrate the
	// filesystem deletion separately (see the maintenance loop's retention sweep).
	Delete(ctx context.Context, filePath string) error
	// DeleteOlderThan removes every catalog row uploaded before cutoff and returns the file paths that were
	// removed, so the maintenance loop's retention sweep can unlink the corresponding disk objects itself.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Package pin implements PinnedMessage: a room's pinned-items list, each entry either referencing an existing
// message or carrying free-standing pinned content.
package pin

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the pin package.
var (
	ErrNotFound    = errors.New("pin not found")
	ErrEmptyTarget = errors.New("a pin must reference a message or carry content")
)

// MaxPins caps how many items a single room can have pinned at once, so the pin list stays a cheap fetch for the
// room info panel and the pin_updated broadcast.
const MaxPins = 50

// ErrPinLimitReached is returned when a room already holds MaxPins entries.
var ErrPinLimitReached = errors.New("room has reached its pin limit")

// Pin holds a single pinned-items row. Exactly one of MessageID or Content is expected to be set; both may be read
// back non-nil if the referenced message still exists and the pin also carries a content snapshot, but Create
// requires at least one.
type Pin struct {
	ID        uuid.UUID
	RoomID    uuid.UUID
	MessageID *uuid.UUID
	Content   *string
	PinnedBy  uuid.UUID
	PinnedAt  time.Time
}

// CreateParams groups the inputs for pinning an item.
type CreateParams struct {
	RoomID    uuid.UUID
	MessageID *uuid.UUID
	Content   *string
	PinnedBy  uuid.UUID
}

// Validate checks that a pin carries at least one of MessageID or Content.
func (p CreateParams) Validate() error {
	if p.MessageID == nil && p.Content == nil {
		return ErrEmptyTarget
	}
	return nil
}

// Repository defines the data-access contract for pinned-message operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Pin, error)
	List(ctx context.Context, roomID uuid.UUID) ([]Pin, error)
	Delete(ctx context.Context, roomID, pinID uuid.UUID) error
	Count(ctx context.Context, roomID uuid.UUID) (int, error)
}

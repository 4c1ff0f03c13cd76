// Package room implements the Room and RoomMember data model: direct/group chat channels, per-room roles, and the
// admin invariant that a room with at least one member always has at least one admin.
package room

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sentinel errors for the room package.
var (
	ErrNotFound       = errors.New("room not found")
	ErrNotMember      = errors.New("user is not a member of this room")
	ErrAlreadyMember  = errors.New("user is already a member of this room")
	ErrNameLength     = errors.New("room name must be between 1 and 80 characters")
	ErrDirectRoomSize = errors.New("direct rooms must have exactly two members")
	ErrCannotKickSelf = errors.New("admins cannot kick themselves; use leave instead")
)

// Pagination defaults, matching the member listing defaults used elsewhere in the server.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Kind is the room type: a 1:1 conversation or a multi-user group.
type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// Role is a member's standing within a room.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Room holds the fields read from the rooms table. EncryptionKeyWrapped is the room key as stored at rest — wrapped
// if a key-encryption-key is configured, plaintext base64 otherwise; callers that need the usable key go through
// cryptoutil.UnwrapRoomKey.
type Room struct {
	ID                   uuid.UUID
	Name                 *string
	Kind                 Kind
	CreatedBy            uuid.UUID
	EncryptionKeyWrapped string
	CreatedAt            time.Time
}

// Member holds a single (room_id, user_id) membership row.
type Member struct {
	RoomID             uuid.UUID
	UserID             uuid.UUID
	JoinedAt           time.Time
	LastReadMessageID  *uuid.UUID
	Pinned             bool
	Muted              bool
	Role               Role
}

// MemberWithProfile joins a membership row with the public fields of the member's user row, for room listing
// endpoints.
type MemberWithProfile struct {
	Member
	Username     string
	Nickname     string
	ProfileImage *string
}

// ValidateName checks that a non-nil room name is between 1 and 80 Unicode characters.
func ValidateName(name *string) error {
	if name == nil {
		return nil
	}
	if n := utf8.RuneCountInString(*name); n < 1 || n > 80 {
		return ErrNameLength
	}
	return nil
}

// ClampLimit constrains a requested page size to [1, MaxLimit], defaulting to DefaultLimit when non-positive.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Repository defines the data-access contract for room operations.
type Repository interface {
	CreateDirectRoom(ctx context.Context, a, b uuid.UUID, encryptionKeyWrapped string) (*Room, bool, error)
	CreateGroupRoom(ctx context.Context, createdBy uuid.UUID, name *string, encryptionKeyWrapped string) (*Room, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Room, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]Room, error)

	Rename(ctx context.Context, roomID uuid.UUID, name string) (*Room, error)

	AddMember(ctx context.Context, roomID, userID uuid.UUID) error
	// RemoveMember removes userID from roomID. If userID was the room's only admin and members remain, an arbitrary
	// remaining member is promoted to admin atomically with the removal.
	RemoveMember(ctx context.Context, roomID, userID uuid.UUID) error
	IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	IsAdmin(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	Members(ctx context.Context, roomID uuid.UUID) ([]MemberWithProfile, error)
	Admins(ctx context.Context, roomID uuid.UUID) ([]MemberWithProfile, error)
	SetAdmin(ctx context.Context, roomID, userID uuid.UUID, isAdmin bool) error

	SetPinned(ctx context.Context, roomID, userID uuid.UUID, pinned bool) error
	SetMuted(ctx context.Context, roomID, userID uuid.UUID, muted bool) error
	// AdvanceLastRead sets last_read_message_id for (roomID, userID) if newID is further along than the stored
	// value, per the read-cursor monotonicity invariant. Returns the resulting value.
	AdvanceLastRead(ctx context.Context, roomID, userID, newID uuid.UUID) (uuid.UUID, error)

	// DeleteEmptyRooms removes every room with zero remaining members and returns how many were deleted. Used by the
	// maintenance loop.
	DeleteEmptyRooms(ctx context.Context) (int, error)
}

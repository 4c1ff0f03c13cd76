// Package message implements the Message data model: chat content, tombstone delete, reply chains, and the
// unread_count computation used when listing a room's messages.
package message

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sentinel errors for the message package.
var (
	ErrNotFound       = errors.New("message not found")
	ErrContentTooLong = errors.New("message content exceeds the maximum length")
	ErrEmptyContent   = errors.New("message content must not be empty")
	ErrReplyNotFound  = errors.New("reply target message not found")
	ErrReplyWrongRoom = errors.New("reply target must be in the same room")
	ErrNotAuthor      = errors.New("you can only modify your own messages")
	ErrAlreadyDeleted = errors.New("message has already been deleted")
)

// Pagination defaults.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// MaxContentLength bounds stored content before sanitize truncation; enforced in addition to cryptoutil.Sanitize's
// own rune cap so plain-text messages get a tighter, chat-appropriate limit.
const MaxContentLength = 8000

// DeletedMarker replaces content on tombstone delete. The row itself is never removed so reply chains stay valid;
// readers treat a deleted message's body as this marker regardless of its original message_type.
const DeletedMarker = "[deleted]"

// Kind is the message's content type.
type Kind string

const (
	KindText   Kind = "text"
	KindFile   Kind = "file"
	KindImage  Kind = "image"
	KindSystem Kind = "system"
)

// Message holds the fields read from the messages table.
type Message struct {
	ID        uuid.UUID
	RoomID    uuid.UUID
	SenderID  uuid.UUID
	Content   string
	Encrypted bool
	Type      Kind
	FilePath  *string
	FileName  *string
	ReplyTo   *uuid.UUID
	CreatedAt time.Time
}

// CreateParams groups the inputs for creating a new message.
type CreateParams struct {
	RoomID    uuid.UUID
	SenderID  uuid.UUID
	Content   string
	Encrypted bool
	Type      Kind
	FilePath  *string
	FileName  *string
	ReplyTo   *uuid.UUID
}

// ValidateContent checks that content is non-empty after trimming and does not exceed MaxContentLength runes.
// Encrypted content is opaque ciphertext and skips the trim/emptiness check, since trimming would corrupt it.
func ValidateContent(content string, encrypted bool) (string, error) {
	if encrypted {
		if content == "" {
			return "", ErrEmptyContent
		}
		if utf8.RuneCountInString(content) > MaxContentLength {
			return "", ErrContentTooLong
		}
		return content, nil
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > MaxContentLength {
		return "", ErrContentTooLong
	}
	return trimmed, nil
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

// uuidLess reports whether a sorts before b under the same byte-lexicographic order Postgres uses for its uuid
// comparison operators, so in-process ordering agrees with (created_at, id) cursor queries.
func uuidLess(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// UnreadCounter precomputes a room's member read cursors once, then answers how many members have not yet read a
// given message in O(log m) per query. Build one per messages-list request; do not share across rooms.
type UnreadCounter struct {
	sorted    []uuid.UUID
	neverRead int
}

// NewUnreadCounter builds a counter from the given last_read_message_id cursors. It counts every cursor it is given;
// callers leave the message's sender out of the slice or subtract the sender from the result.
// A nil cursor (a member who has never read anything in the room) always counts as unread and is tracked separately
// from the sorted slice used for the binary search.
func NewUnreadCounter(cursors []*uuid.UUID) *UnreadCounter {
	sorted := make([]uuid.UUID, 0, len(cursors))
	neverRead := 0
	for _, c := range cursors {
		if c == nil {
			neverRead++
			continue
		}
		sorted = append(sorted, *c)
	}
	sort.Slice(sorted, func(i, j int) bool { return uuidLess(sorted[i], sorted[j]) })
	return &UnreadCounter{sorted: sorted, neverRead: neverRead}
}

// CountBefore returns the number of tracked members whose last_read_message_id is strictly less than messageID, via
// binary search over the cursors sorted at construction time.
func (c *UnreadCounter) CountBefore(messageID uuid.UUID) int {
	idx := sort.Search(len(c.sorted), func(i int) bool {
		return !uuidLess(c.sorted[i], messageID)
	})
	return c.neverRead + idx
}

// Repository defines the data-access contract for message operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Message, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	List(ctx context.Context, roomID uuid.UUID, before *uuid.UUID, limit int) ([]Message, error)
	// SoftDelete tombstones a message: content becomes DeletedMarker, encrypted is cleared, and file references are
	// cleared. The row itself is kept so reply_to references stay resolvable (displayed as "deleted").
	SoftDelete(ctx context.Context, id uuid.UUID) error
	// Edit replaces a message's content in place. Rejected once the message has been tombstoned.
	Edit(ctx context.Context, id uuid.UUID, content string) (*Message, error)
	// DeleteOlderThan hard-deletes every message created before cutoff, for the maintenance loop's retention
	// policy. It returns the number of rows removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

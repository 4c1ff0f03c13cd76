// Package reaction implements Reaction: per-message emoji reactions with toggle semantics (react again to undo).
package reaction

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Sentinel errors for the reaction package.
var (
	ErrEmptyEmoji   = errors.New("emoji must not be empty")
	ErrEmojiTooLong = errors.New("emoji exceeds the maximum length")
)

// MaxEmojiLength bounds the stored emoji string; most emoji (including ZWJ sequences) fit comfortably under this.
const MaxEmojiLength = 32

// Summary is the per-emoji aggregate returned for a message: how many users reacted with this emoji, and which
// ones, matching the Store's "small aggregate" read shape used elsewhere (poll results, reaction counts).
type Summary struct {
	Emoji   string
	Count   int
	UserIDs []uuid.UUID
}

// Repository defines the data-access contract for reaction operations.
type Repository interface {
	// Toggle inserts a (message_id, user_id, emoji) reaction if it does not already exist, or removes it if it
	// does, and reports which action was taken (added=true on insert, added=false on removal).
	Toggle(ctx context.Context, messageID, userID uuid.UUID, emoji string) (added bool, err error)
	// ForMessage returns the canonical per-emoji aggregate for a message, used to populate reaction_updated
	// broadcasts and message list responses.
	ForMessage(ctx context.Context, messageID uuid.UUID) ([]Summary, error)
	// ForMessages batches ForMessage over a page of message ids in one query, keyed by message id. Messages with no
	// reactions are absent from the map.
	ForMessages(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]Summary, error)
}

// ValidateEmoji checks that emoji is non-empty and within MaxEmojiLength runes.
func ValidateEmoji(emoji string) error {
	if emoji == "" {
		return ErrEmptyEmoji
	}
	if len([]rune(emoji)) > MaxEmojiLength {
		return ErrEmojiTooLong
	}
	return nil
}

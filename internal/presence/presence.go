// Package presence provides ephemeral presence and typing state backed by the server's StateStore. Presence keys
// expire after 120 seconds and are refreshed by each gateway heartbeat. Typing indicators use a 10-second TTL to
// deduplicate rapid keystrokes. The connection refcount used to coalesce multi-session online/offline transitions
// lives separately, directly on the StateStore's Incr/Decr counters (see internal/gateway).
package presence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/twbeatles/intranet-messenger/internal/statestore"
)

const (
	// presenceTTL is the lifetime of a presence key. Heartbeats refresh this TTL so keys expire only when the client
	// stops sending heartbeats.
	presenceTTL = 120 * time.Second

	// typingTTL is the lifetime of a typing indicator key.
	typingTTL = 10 * time.Second

	// StatusOnline indicates the user is actively connected.
	StatusOnline = "online"
	// StatusIdle indicates the user is connected but inactive.
	StatusIdle = "idle"
	// StatusDND indicates the user does not want to be disturbed.
	StatusDND = "dnd"
	// StatusInvisible makes the user appear offline to others while remaining connected.
	StatusInvisible = "invisible"
	// StatusOffline is the implicit status when no presence key exists. It is never stored.
	StatusOffline = "offline"
)

// State is one user's presence as reported to other clients.
type State struct {
	UserID uuid.UUID
	Status string
}

// Store reads and writes ephemeral presence and typing state through a statestore.Store.
type Store struct {
	store *statestore.Store
}

// NewStore creates a new presence store backed by store.
func NewStore(store *statestore.Store) *Store {
	return &Store{store: store}
}

// Set stores the user's presence status with the standard TTL.
func (s *Store) Set(ctx context.Context, userID uuid.UUID, status string) error {
	return s.store.Set(ctx, presenceKey(userID), status, presenceTTL)
}

// Get returns the user's current presence status. If the key does not exist the user is considered offline.
func (s *Store) Get(ctx context.Context, userID uuid.UUID) (string, error) {
	val, ok := s.store.Get(ctx, presenceKey(userID))
	if !ok {
		return StatusOffline, nil
	}
	return val, nil
}

// GetMany returns the visible presence state for each user. Invisible users are excluded from the result so they
// appear offline to other clients. The returned slice may be shorter than the input when users are offline or
// invisible. Each lookup is a separate Store call; the StateStore abstraction has no pipelined multi-get, so this
// trades one round trip per user for backend-agnosticism (Redis or in-memory) without exposing pipelining through
// the shared Store API.
func (s *Store) GetMany(ctx context.Context, userIDs []uuid.UUID) ([]State, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	result := make([]State, 0, len(userIDs))
	for _, id := range userIDs {
		val, ok := s.store.Get(ctx, presenceKey(id))
		if !ok || val == StatusInvisible {
			continue
		}
		result = append(result, State{UserID: id, Status: val})
	}
	return result, nil
}

// Refresh extends the TTL of an existing presence key without changing the stored status. Since the Store has no
// bare TTL-touch primitive, this reads the current value and rewrites it with a fresh TTL; a status read in between
// two concurrent refreshes for the same key is harmless since both write the same value.
func (s *Store) Refresh(ctx context.Context, userID uuid.UUID) error {
	val, ok := s.store.Get(ctx, presenceKey(userID))
	if !ok {
		return nil
	}
	return s.store.Set(ctx, presenceKey(userID), val, presenceTTL)
}

// Delete removes the user's presence key. After deletion the user is considered offline.
func (s *Store) Delete(ctx context.Context, userID uuid.UUID) error {
	s.store.Delete(ctx, presenceKey(userID))
	return nil
}

// SetTyping records that the user started typing in the given room. Returns true when the indicator was newly set
// (a TYPING_START dispatch should follow), false when it was already active (duplicate suppressed). The check and
// set are not atomic under the shared Store API; a race only risks one extra duplicate typing event, which is
// harmless for this ephemeral, best-effort signal.
func (s *Store) SetTyping(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	key := typingKey(roomID, userID)
	if _, ok := s.store.Get(ctx, key); ok {
		return false, nil
	}
	if err := s.store.Set(ctx, key, "1", typingTTL); err != nil {
		return false, err
	}
	return true, nil
}

// ClearTyping removes the typing indicator for the given user in the given room. It returns true when the key
// existed and was deleted (a TYPING_STOP dispatch should follow), false when it did not exist.
func (s *Store) ClearTyping(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	key := typingKey(roomID, userID)
	_, existed := s.store.Get(ctx, key)
	s.store.Delete(ctx, key)
	return existed, nil
}

// ValidStatus returns true for statuses a client may set via the presence_update event. StatusOffline is not valid
// because clients go offline by disconnecting (or set StatusInvisible to appear offline while staying connected).
func ValidStatus(status string) bool {
	switch status {
	case StatusOnline, StatusIdle, StatusDND, StatusInvisible:
		return true
	default:
		return false
	}
}

func presenceKey(userID uuid.UUID) string {
	return "presence:" + userID.String()
}

func typingKey(roomID, userID uuid.UUID) string {
	return "typing:" + roomID.String() + ":" + userID.String()
}

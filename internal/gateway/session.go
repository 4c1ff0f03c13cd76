// SessionStore persists a best-effort replay buffer for disconnected event-channel sessions, so a client that
// reconnects within GatewaySessionTTLSeconds can catch up on what it missed instead of falling straight back to
// paging /api/rooms/<id>/messages. The teacher's equivalent (internal/gateway/session.go in the reference server)
// holds this in a Redis list via RPush/LTrim; the shared StateStore abstraction here has no list primitive, so the
// buffer is kept as a single JSON-encoded slice under one key and updated with a read-modify-write, guarded by an
// in-process per-session mutex to keep concurrent appends from this process from clobbering each other.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/twbeatles/intranet-messenger/internal/statestore"
)

type replayEntry struct {
	Seq     int64           `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// SessionStore manages replay buffers keyed by server-generated session id.
type SessionStore struct {
	store     *statestore.Store
	ttl       time.Duration
	maxReplay int

	mu       sync.Mutex
	sessions map[string]*sync.Mutex
}

// NewSessionStore creates a SessionStore backed by store. Buffers older than ttl since their last append are no
// longer resumable; at most maxReplay frames are retained per session.
func NewSessionStore(store *statestore.Store, ttl time.Duration, maxReplay int) *SessionStore {
	return &SessionStore{
		store:     store,
		ttl:       ttl,
		maxReplay: maxReplay,
		sessions:  make(map[string]*sync.Mutex),
	}
}

func replayKey(sessionID string) string { return "gwreplay:" + sessionID }

func (s *SessionStore) lockFor(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.sessions[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.sessions[sessionID] = l
	}
	return l
}

// NewSessionID generates a server-assigned session identifier handed to the client at connect time.
func NewSessionID() string {
	return uuid.New().String()
}

// Append adds seq/payload to the session's replay buffer, trimming to the newest maxReplay entries and refreshing
// the buffer's TTL. Best-effort: a failure here never blocks delivery to the live connection, only the ability to
// resend it after a reconnect.
func (s *SessionStore) Append(ctx context.Context, sessionID string, seq int64, payload []byte) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	entries, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	entries = append(entries, replayEntry{Seq: seq, Payload: payload})
	if len(entries) > s.maxReplay {
		entries = entries[len(entries)-s.maxReplay:]
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal replay buffer: %w", err)
	}
	return s.store.Set(ctx, replayKey(sessionID), string(raw), s.ttl)
}

func (s *SessionStore) load(ctx context.Context, sessionID string) ([]replayEntry, error) {
	raw, ok := s.store.Get(ctx, replayKey(sessionID))
	if !ok {
		return nil, nil
	}
	var entries []replayEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("unmarshal replay buffer: %w", err)
	}
	return entries, nil
}

// Replay returns every buffered frame with a sequence number strictly greater than afterSeq, oldest first.
func (s *SessionStore) Replay(ctx context.Context, sessionID string, afterSeq int64) ([][]byte, error) {
	entries, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for _, e := range entries {
		if e.Seq > afterSeq {
			out = append(out, e.Payload)
		}
	}
	return out, nil
}

// Delete removes a session's replay buffer, called once a resume has consumed it.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) {
	s.store.Delete(ctx, replayKey(sessionID))
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

// Package gateway implements the persistent event channel: connection lifecycle, per-room broadcast groups,
// presence coalescing across a user's multiple live sessions, and the inbound event catalog described in the
// realtime engine component of the design. It is the direct descendant of the teacher server's own
// internal/gateway package, stripped of its Discord-style opcode handshake (Hello/Identify/Resume) in favor of
// authenticating once at the HTTP layer, before the WebSocket upgrade, and carrying the resolved identity straight
// into the connection.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/twbeatles/intranet-messenger/internal/audit"
	"github.com/twbeatles/intranet-messenger/internal/config"
	"github.com/twbeatles/intranet-messenger/internal/message"
	"github.com/twbeatles/intranet-messenger/internal/pin"
	"github.com/twbeatles/intranet-messenger/internal/poll"
	"github.com/twbeatles/intranet-messenger/internal/presence"
	"github.com/twbeatles/intranet-messenger/internal/ratelimit"
	"github.com/twbeatles/intranet-messenger/internal/reaction"
	"github.com/twbeatles/intranet-messenger/internal/room"
	"github.com/twbeatles/intranet-messenger/internal/roomfile"
	"github.com/twbeatles/intranet-messenger/internal/statestore"
	"github.com/twbeatles/intranet-messenger/internal/user"
)

type roomCacheEntry struct {
	ids       []uuid.UUID
	expiresAt time.Time
}

// Hub is the central connection registry and fan-out point for the event channel. Its connection tables are
// process-local (§5): a clustered deployment shares presence and quotas through the StateStore but does not share
// connection tables, so every server only fans out to the sessions connected to it.
type Hub struct {
	cfg      *config.Config
	store    *statestore.Store
	presence *presence.Store
	limiter  *ratelimit.Limiter
	sessions *SessionStore
	log      zerolog.Logger

	users     user.Repository
	rooms     room.Repository
	messages  message.Repository
	pins      pin.Repository
	polls     poll.Repository
	reactions reaction.Repository
	roomfiles roomfile.Repository
	audit     audit.Repository

	mu       sync.RWMutex
	bySID    map[string]*Client
	byUser   map[uuid.UUID]map[string]*Client
	roomSubs map[uuid.UUID]map[string]*Client

	roomCacheMu sync.Mutex
	roomCache   map[uuid.UUID]roomCacheEntry
}

// NewHub creates a Hub wired to every repository its event handlers touch.
func NewHub(
	cfg *config.Config,
	store *statestore.Store,
	presenceStore *presence.Store,
	limiter *ratelimit.Limiter,
	sessions *SessionStore,
	users user.Repository,
	rooms room.Repository,
	messages message.Repository,
	pins pin.Repository,
	polls poll.Repository,
	reactions reaction.Repository,
	roomfiles roomfile.Repository,
	auditRepo audit.Repository,
	logger zerolog.Logger,
) *Hub {
	return &Hub{
		cfg:       cfg,
		store:     store,
		presence:  presenceStore,
		limiter:   limiter,
		sessions:  sessions,
		users:     users,
		rooms:     rooms,
		messages:  messages,
		pins:      pins,
		polls:     polls,
		reactions: reactions,
		roomfiles: roomfiles,
		audit:     auditRepo,
		log:       logger.With().Str("component", "gateway").Logger(),
		bySID:     make(map[string]*Client),
		byUser:    make(map[uuid.UUID]map[string]*Client),
		roomSubs:  make(map[uuid.UUID]map[string]*Client),
		roomCache: make(map[uuid.UUID]roomCacheEntry),
	}
}

// ClientCount returns the number of currently connected sessions across all users.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.bySID)
}

// ServeWebSocket runs the full connection lifecycle for one already-authenticated upgrade: register, auto-join
// every room the user belongs to, then block pumping frames until the connection closes. userID and sessionToken
// come from the same session-cookie check the HTTP middleware performs (§4.G step 1); there is no separate
// in-band Identify handshake.
func (h *Hub) ServeWebSocket(conn *websocket.Conn, userID uuid.UUID, sessionToken string) {
	client := newClient(h, conn, userID, sessionToken, h.log)
	client.sessionID = NewSessionID()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := h.register(ctx, client); err != nil {
		cancel()
		client.closeWithCode(CloseMaxConnection, err.Error())
		_ = conn.Close()
		return
	}

	roomIDs, err := h.userRoomIDs(ctx, userID)
	if err != nil {
		h.log.Warn().Err(err).Stringer("user_id", userID).Msg("failed to list rooms for auto-join")
	}
	for _, roomID := range roomIDs {
		h.subscribeClientToRoom(client, roomID)
	}
	cancel()

	go client.writePump()
	client.readPump()
}

func presenceRefcountKey(userID uuid.UUID) string {
	return "gwconn:" + userID.String()
}

// register records the connection in the connection tables and, on a 0→1 presence transition for this user,
// marks them online in the Store and broadcasts user_status to every room they belong to.
func (h *Hub) register(ctx context.Context, client *Client) error {
	h.mu.Lock()
	if len(h.bySID) >= h.cfg.GatewayMaxConnections {
		h.mu.Unlock()
		return ErrMaxConnections
	}
	h.bySID[client.sessionID] = client
	if h.byUser[client.userID] == nil {
		h.byUser[client.userID] = make(map[string]*Client)
	}
	h.byUser[client.userID][client.sessionID] = client
	h.mu.Unlock()

	n, err := h.store.Incr(ctx, presenceRefcountKey(client.userID), 0)
	if err != nil {
		h.log.Warn().Err(err).Stringer("user_id", client.userID).Msg("presence refcount increment failed")
		return nil
	}
	if n == 1 {
		h.markOnline(ctx, client.userID)
	}
	return nil
}

// unregister removes the connection from every table it was part of and, on an n→0 presence transition, marks the
// user offline and broadcasts the symmetric user_status event.
func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if sessions := h.byUser[client.userID]; sessions != nil {
		delete(sessions, client.sessionID)
		if len(sessions) == 0 {
			delete(h.byUser, client.userID)
		}
	}
	delete(h.bySID, client.sessionID)
	for _, roomID := range client.subscriptionSnapshot() {
		if subs := h.roomSubs[roomID]; subs != nil {
			delete(subs, client.sessionID)
			if len(subs) == 0 {
				delete(h.roomSubs, roomID)
			}
		}
	}
	h.mu.Unlock()

	client.closeSend()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n, err := h.store.Decr(ctx, presenceRefcountKey(client.userID))
	if err != nil {
		h.log.Warn().Err(err).Stringer("user_id", client.userID).Msg("presence refcount decrement failed")
		return
	}
	if n == 0 {
		h.markOffline(ctx, client.userID)
	}
}

func (h *Hub) markOnline(ctx context.Context, userID uuid.UUID) {
	if err := h.users.SetStatus(ctx, userID, user.StatusOnline); err != nil {
		h.log.Warn().Err(err).Stringer("user_id", userID).Msg("failed to set online status")
	}
	if err := h.presence.Set(ctx, userID, presence.StatusOnline); err != nil {
		h.log.Warn().Err(err).Stringer("user_id", userID).Msg("failed to set presence")
	}
	h.broadcastUserStatus(ctx, userID, presence.StatusOnline)
}

func (h *Hub) markOffline(ctx context.Context, userID uuid.UUID) {
	if err := h.users.SetStatus(ctx, userID, user.StatusOffline); err != nil {
		h.log.Warn().Err(err).Stringer("user_id", userID).Msg("failed to set offline status")
	}
	if err := h.presence.Delete(ctx, userID); err != nil {
		h.log.Warn().Err(err).Stringer("user_id", userID).Msg("failed to clear presence")
	}
	h.broadcastUserStatus(ctx, userID, presence.StatusOffline)
}

type userStatusPayload struct {
	UserID uuid.UUID `json:"user_id"`
	Status string    `json:"status"`
}

func (h *Hub) broadcastUserStatus(ctx context.Context, userID uuid.UUID, status string) {
	roomIDs, err := h.userRoomIDs(ctx, userID)
	if err != nil {
		h.log.Warn().Err(err).Stringer("user_id", userID).Msg("failed to list rooms for presence broadcast")
		return
	}
	frame, err := encodeFrame(EventUserStatus, userStatusPayload{UserID: userID, Status: status})
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to encode user_status frame")
		return
	}
	for _, roomID := range roomIDs {
		h.broadcastToRoom(roomID, frame, "")
	}
}

// subscribeClientToRoom joins client to room_<roomID>'s broadcast group. A no-op if already subscribed.
func (h *Hub) subscribeClientToRoom(client *Client, roomID uuid.UUID) {
	if client.isSubscribed(roomID) {
		return
	}
	h.mu.Lock()
	if h.roomSubs[roomID] == nil {
		h.roomSubs[roomID] = make(map[string]*Client)
	}
	h.roomSubs[roomID][client.sessionID] = client
	h.mu.Unlock()
	client.addSubscription(roomID)
}

func (h *Hub) unsubscribeClientFromRoom(client *Client, roomID uuid.UUID) {
	h.mu.Lock()
	if subs := h.roomSubs[roomID]; subs != nil {
		delete(subs, client.sessionID)
		if len(subs) == 0 {
			delete(h.roomSubs, roomID)
		}
	}
	h.mu.Unlock()
	client.removeSubscription(roomID)
}

// broadcastToRoom fans frame out to every session subscribed to room_<roomID> except exceptSID (pass "" to
// exclude none). The connection table lock is held only long enough to copy the target handles out (§5's leaf-lock
// requirement: never hold it across the blocking enqueue/replay-append calls that follow).
func (h *Hub) broadcastToRoom(roomID uuid.UUID, frame []byte, exceptSID string) {
	h.mu.RLock()
	subs := h.roomSubs[roomID]
	targets := make([]*Client, 0, len(subs))
	for sid, c := range subs {
		if sid != exceptSID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, c := range targets {
		c.enqueue(frame)
		seq := c.seq.Add(1)
		if err := h.sessions.Append(ctx, c.sessionID, seq, frame); err != nil {
			h.log.Debug().Err(err).Str("session_id", c.sessionID).Msg("failed to append replay buffer")
		}
	}
}

// sendTo delivers frame to a single client, bypassing room fan-out; used for responses scoped to the requesting
// connection only (e.g. a validation error or joined_room acknowledgement).
func (h *Hub) sendTo(c *Client, frame []byte) {
	c.enqueue(frame)
}

// userRoomIDs returns the room ids userID belongs to, using a cache with TTL RoomListCacheTTLSeconds so a busy
// connection does not hit the Store on every auto-join or broadcast. Invalidated explicitly on membership changes.
func (h *Hub) userRoomIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	h.roomCacheMu.Lock()
	if e, ok := h.roomCache[userID]; ok && time.Now().Before(e.expiresAt) {
		ids := e.ids
		h.roomCacheMu.Unlock()
		return ids, nil
	}
	h.roomCacheMu.Unlock()

	rooms, err := h.rooms.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list rooms for user: %w", err)
	}
	ids := make([]uuid.UUID, len(rooms))
	for i, r := range rooms {
		ids[i] = r.ID
	}

	h.roomCacheMu.Lock()
	h.roomCache[userID] = roomCacheEntry{
		ids:       ids,
		expiresAt: time.Now().Add(time.Duration(h.cfg.RoomListCacheTTLSeconds) * time.Second),
	}
	h.roomCacheMu.Unlock()
	return ids, nil
}

// InvalidateUserRoomCache drops userID's cached room-id list. Called by the HTTP layer whenever a membership
// mutation (join, leave, create, kick) makes the cached list stale.
func (h *Hub) InvalidateUserRoomCache(userID uuid.UUID) {
	h.roomCacheMu.Lock()
	delete(h.roomCache, userID)
	h.roomCacheMu.Unlock()
}

// JoinUserToRoom subscribes every one of userID's live sessions to room_<roomID> and invalidates their cached room
// list. Called by the HTTP room-membership handlers after a successful invite or room creation.
func (h *Hub) JoinUserToRoom(userID, roomID uuid.UUID) {
	h.InvalidateUserRoomCache(userID)
	h.mu.RLock()
	sessions := h.byUser[userID]
	clients := make([]*Client, 0, len(sessions))
	for _, c := range sessions {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.subscribeClientToRoom(c, roomID)
	}
}

// LeaveUserFromRoom unsubscribes every one of userID's live sessions from room_<roomID> and invalidates their
// cached room list. Called by the HTTP room-membership handlers after a successful leave or kick.
func (h *Hub) LeaveUserFromRoom(userID, roomID uuid.UUID) {
	h.InvalidateUserRoomCache(userID)
	h.mu.RLock()
	sessions := h.byUser[userID]
	clients := make([]*Client, 0, len(sessions))
	for _, c := range sessions {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.unsubscribeClientFromRoom(c, roomID)
	}
}

// BroadcastRoomNameUpdated notifies a room's live subscribers of an admin rename.
func (h *Hub) BroadcastRoomNameUpdated(roomID uuid.UUID, name string) {
	frame, err := encodeFrame(EventRoomNameUpdated, struct {
		RoomID uuid.UUID `json:"room_id"`
		Name   string    `json:"name"`
	}{RoomID: roomID, Name: name})
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to encode room_name_updated frame")
		return
	}
	h.broadcastToRoom(roomID, frame, "")
}

// BroadcastRoomMembersUpdated notifies a room's live subscribers that its membership changed (invite or kick),
// so clients refresh their member list rather than infer it from presence alone.
func (h *Hub) BroadcastRoomMembersUpdated(roomID uuid.UUID) {
	frame, err := encodeFrame(EventRoomMembersUpdated, struct {
		RoomID uuid.UUID `json:"room_id"`
	}{RoomID: roomID})
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to encode room_members_updated frame")
		return
	}
	h.broadcastToRoom(roomID, frame, "")
}

// Shutdown closes every live connection. It is called once during graceful server shutdown.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.bySID))
	for _, c := range h.bySID {
		clients = append(clients, c)
	}
	h.bySID = make(map[string]*Client)
	h.byUser = make(map[uuid.UUID]map[string]*Client)
	h.roomSubs = make(map[uuid.UUID]map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.closeWithCode(websocket.CloseGoingAway, "server shutting down")
	}
	h.log.Info().Msg("gateway hub shut down")
}

// dispatch routes one inbound frame to its handler. Every event first revalidates the caller's session token
// against the stored value, so a login elsewhere or a password change drops this connection on its next frame
// instead of letting a superseded session keep acting; membership and role checks follow in the handlers.
func (h *Hub) dispatch(c *Client, name string, data json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	current, err := h.users.CurrentSessionToken(ctx, c.userID)
	if err != nil || current == "" || current != c.sessionToken {
		if err != nil {
			h.log.Warn().Err(err).Stringer("user_id", c.userID).Msg("session token revalidation failed")
		}
		c.closeWithCode(CloseSessionReplaced, "session no longer valid")
		return
	}

	switch name {
	case eventSubscribeRooms:
		h.handleSubscribeRooms(ctx, c, data)
	case eventJoinRoom:
		h.handleJoinRoom(ctx, c, data)
	case eventLeaveRoom:
		h.handleLeaveRoom(ctx, c, data)
	case eventSendMessage:
		h.handleSendMessage(ctx, c, data)
	case eventMessageRead:
		h.handleMessageRead(ctx, c, data)
	case eventTyping:
		h.handleTyping(ctx, c, data)
	case eventEditMessage:
		h.handleEditMessage(ctx, c, data)
	case eventDeleteMessage:
		h.handleDeleteMessage(ctx, c, data)
	case eventPinUpdated:
		h.handlePinUpdated(ctx, c, data)
	case eventReactionUpdate:
		h.handleReactionUpdated(ctx, c, data)
	case eventPollUpdated:
		h.handlePollUpdated(ctx, c, data)
	case eventPollCreated:
		h.handlePollCreated(ctx, c, data)
	case eventAdminUpdated:
		h.handleAdminUpdated(ctx, c, data)
	case eventProfileUpdated:
		h.handleProfileUpdated(ctx, c, data)
	default:
		c.enqueue(encodeError("unknown_event", "unrecognized event name"))
	}
}

// isMember is a small wrapper kept for readability at call sites in events.go.
func (h *Hub) isMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	return h.rooms.IsMember(ctx, roomID, userID)
}

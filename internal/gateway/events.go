package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/twbeatles/intranet-messenger/internal/audit"
	"github.com/twbeatles/intranet-messenger/internal/message"
	"github.com/twbeatles/intranet-messenger/internal/pin"
	"github.com/twbeatles/intranet-messenger/internal/poll"
	"github.com/twbeatles/intranet-messenger/internal/reaction"
	"github.com/twbeatles/intranet-messenger/internal/roomfile"
	"github.com/twbeatles/intranet-messenger/internal/upload"
)

// requireMember checks roomID membership for c's user and, on failure or error, replies with an error frame and
// reports false so the caller returns without doing anything else.
func (h *Hub) requireMember(ctx context.Context, c *Client, roomID uuid.UUID) bool {
	ok, err := h.isMember(ctx, roomID, c.userID)
	if err != nil {
		h.log.Warn().Err(err).Msg("membership check failed")
		h.sendTo(c, encodeError("internal_error", "something went wrong"))
		return false
	}
	if !ok {
		h.sendTo(c, encodeError("not_member", ErrNotMember.Error()))
		return false
	}
	return true
}

func (h *Hub) requireAdmin(ctx context.Context, c *Client, roomID uuid.UUID) bool {
	ok, err := h.rooms.IsAdmin(ctx, roomID, c.userID)
	if err != nil {
		h.log.Warn().Err(err).Msg("admin check failed")
		h.sendTo(c, encodeError("internal_error", "something went wrong"))
		return false
	}
	if !ok {
		h.sendTo(c, encodeError("not_admin", ErrNotAdmin.Error()))
		return false
	}
	return true
}

func bindFrameData(c *Client, data json.RawMessage, v any) bool {
	if len(data) == 0 {
		c.enqueue(encodeError("invalid_payload", "missing event data"))
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.enqueue(encodeError("invalid_payload", "malformed event data"))
		return false
	}
	return true
}

// --- subscribe_rooms ---

type subscribeRoomsData struct {
	RoomIDs []uuid.UUID `json:"room_ids"`
}

type joinedRoomPayload struct {
	RoomID uuid.UUID `json:"room_id"`
}

// handleSubscribeRooms joins the connection's broadcast group for every room listed that the user actually belongs
// to, silently skipping the rest. Used by a client resyncing its room list without a full reconnect.
func (h *Hub) handleSubscribeRooms(ctx context.Context, c *Client, data json.RawMessage) {
	var req subscribeRoomsData
	if !bindFrameData(c, data, &req) {
		return
	}
	for _, roomID := range req.RoomIDs {
		ok, err := h.isMember(ctx, roomID, c.userID)
		if err != nil || !ok {
			continue
		}
		h.subscribeClientToRoom(c, roomID)
		if frame, err := encodeFrame(EventJoinedRoom, joinedRoomPayload{RoomID: roomID}); err == nil {
			h.sendTo(c, frame)
		}
	}
}

// --- join_room / leave_room ---

type roomIDData struct {
	RoomID uuid.UUID `json:"room_id"`
}

// handleJoinRoom subscribes the connection to a room it is already a member of, e.g. after accepting an invite
// delivered over HTTP without a full reconnect.
func (h *Hub) handleJoinRoom(ctx context.Context, c *Client, data json.RawMessage) {
	var req roomIDData
	if !bindFrameData(c, data, &req) {
		return
	}
	if !h.requireMember(ctx, c, req.RoomID) {
		return
	}
	h.subscribeClientToRoom(c, req.RoomID)
	if frame, err := encodeFrame(EventJoinedRoom, joinedRoomPayload{RoomID: req.RoomID}); err == nil {
		h.sendTo(c, frame)
	}
}

func (h *Hub) handleLeaveRoom(ctx context.Context, c *Client, data json.RawMessage) {
	var req roomIDData
	if !bindFrameData(c, data, &req) {
		return
	}
	h.unsubscribeClientFromRoom(c, req.RoomID)
}

// --- send_message ---

type sendMessageData struct {
	RoomID      uuid.UUID  `json:"room_id"`
	Content     string     `json:"content"`
	Type        string     `json:"type"`
	Encrypted   *bool      `json:"encrypted"`
	ReplyTo     *uuid.UUID `json:"reply_to"`
	UploadToken string     `json:"upload_token"`
}

type newMessagePayload struct {
	ID          uuid.UUID  `json:"id"`
	RoomID      uuid.UUID  `json:"room_id"`
	SenderID    uuid.UUID  `json:"sender_id"`
	Content     string     `json:"content"`
	Encrypted   bool       `json:"encrypted"`
	Type        string     `json:"type"`
	ReplyTo     *uuid.UUID `json:"reply_to,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UnreadCount int        `json:"unread_count"`
}

// uploadConsumeReason maps an upload.Consume failure to a user-visible reason string, without leaking which part of
// the (token, user, room, type) tuple mismatched beyond what the uploading client already knows.
func uploadConsumeReason(err error) string {
	switch {
	case errors.Is(err, upload.ErrTokenNotFound):
		return "upload token is missing or has expired"
	case errors.Is(err, upload.ErrTokenConsumed):
		return "upload token already consumed"
	case errors.Is(err, upload.ErrTokenWrongUser):
		return "upload token was not issued to this user"
	case errors.Is(err, upload.ErrTokenWrongRoom):
		return "upload token was not issued for this room"
	case errors.Is(err, upload.ErrTokenWrongType):
		return "upload token does not match the declared message type"
	default:
		return "upload token could not be consumed"
	}
}

// handleSendMessage implements the realtime engine's send_message algorithm: membership, quota, content
// normalization, upload-token consumption for file/image messages, persistence, unread_count computation excluding
// the sender, and broadcast to the room.
func (h *Hub) handleSendMessage(ctx context.Context, c *Client, data json.RawMessage) {
	var req sendMessageData
	if !bindFrameData(c, data, &req) {
		return
	}
	if !h.requireMember(ctx, c, req.RoomID) {
		return
	}

	allowed, err := h.limiter.Allow(ctx, "socket:send_message:"+c.userID.String(), h.cfg.SocketSendMessagePerMinute, time.Minute)
	if err != nil {
		h.sendTo(c, encodeError("internal_error", "something went wrong"))
		return
	}
	if !allowed {
		h.sendTo(c, encodeError("rate_limited", ErrQuotaExceeded.Error()))
		return
	}

	kind := message.Kind(req.Type)
	if kind == "" {
		kind = message.KindText
	}

	var filePath, fileName *string
	var fileSize int64
	content := req.Content
	encrypted := true
	if req.Encrypted != nil {
		encrypted = *req.Encrypted
	}

	switch kind {
	case message.KindText:
		normalized, err := message.ValidateContent(content, encrypted)
		if err != nil {
			h.sendTo(c, encodeError("invalid_content", err.Error()))
			return
		}
		content = normalized
	case message.KindFile, message.KindImage:
		encrypted = false
		expected := upload.KindFile
		if kind == message.KindImage {
			expected = upload.KindImage
		}
		token, err := upload.Consume(ctx, h.store, req.UploadToken, c.userID, req.RoomID, expected)
		if err != nil {
			h.sendTo(c, encodeError("invalid_upload_token", uploadConsumeReason(err)))
			return
		}
		content = token.FileName
		filePath = &token.FilePath
		fileName = &token.FileName
		fileSize = token.FileSize
	default:
		h.sendTo(c, encodeError("invalid_type", "unsupported message type"))
		return
	}

	msg, err := h.messages.Create(ctx, message.CreateParams{
		RoomID:    req.RoomID,
		SenderID:  c.userID,
		Content:   content,
		Encrypted: encrypted,
		Type:      kind,
		FilePath:  filePath,
		FileName:  fileName,
		ReplyTo:   req.ReplyTo,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to create message")
		h.sendTo(c, encodeError("internal_error", "failed to send message"))
		return
	}

	if filePath != nil {
		if _, err := h.roomfiles.Create(ctx, roomfile.CreateParams{
			RoomID:     req.RoomID,
			MessageID:  &msg.ID,
			FilePath:   *filePath,
			FileName:   *fileName,
			FileSize:   fileSize,
			FileType:   string(kind),
			UploadedBy: c.userID,
		}); err != nil {
			h.log.Warn().Err(err).Stringer("message_id", msg.ID).Msg("failed to catalog uploaded file")
		}
	}

	unread := h.unreadCountExcluding(ctx, req.RoomID, msg.ID, c.userID)

	frame, err := encodeFrame(EventNewMessage, newMessagePayload{
		ID:          msg.ID,
		RoomID:      msg.RoomID,
		SenderID:    msg.SenderID,
		Content:     msg.Content,
		Encrypted:   msg.Encrypted,
		Type:        string(msg.Type),
		ReplyTo:     msg.ReplyTo,
		CreatedAt:   msg.CreatedAt,
		UnreadCount: unread,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to encode new_message frame")
		return
	}
	h.broadcastToRoom(req.RoomID, frame, "")
}

// unreadCountExcluding computes how many of roomID's members, other than excludeUserID, have not yet read
// messageID, logging and returning zero on a repository failure rather than blocking delivery of the message.
func (h *Hub) unreadCountExcluding(ctx context.Context, roomID, messageID, excludeUserID uuid.UUID) int {
	members, err := h.rooms.Members(ctx, roomID)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to list room members for unread_count")
		return 0
	}
	cursors := make([]*uuid.UUID, 0, len(members))
	for _, m := range members {
		if m.UserID == excludeUserID {
			continue
		}
		cursors = append(cursors, m.LastReadMessageID)
	}
	return message.NewUnreadCounter(cursors).CountBefore(messageID)
}

// --- message_read ---

type messageReadData struct {
	RoomID    uuid.UUID `json:"room_id"`
	MessageID uuid.UUID `json:"message_id"`
}

type readUpdatedPayload struct {
	RoomID            uuid.UUID `json:"room_id"`
	UserID            uuid.UUID `json:"user_id"`
	LastReadMessageID uuid.UUID `json:"last_read_message_id"`
}

// handleMessageRead advances the caller's read cursor and broadcasts the new position so every other connected
// member can update its own unread badge for this room.
func (h *Hub) handleMessageRead(ctx context.Context, c *Client, data json.RawMessage) {
	var req messageReadData
	if !bindFrameData(c, data, &req) {
		return
	}
	if !h.requireMember(ctx, c, req.RoomID) {
		return
	}
	cursor, err := h.rooms.AdvanceLastRead(ctx, req.RoomID, c.userID, req.MessageID)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to advance read cursor")
		h.sendTo(c, encodeError("internal_error", "failed to update read position"))
		return
	}
	frame, err := encodeFrame(EventReadUpdated, readUpdatedPayload{
		RoomID:            req.RoomID,
		UserID:            c.userID,
		LastReadMessageID: cursor,
	})
	if err != nil {
		return
	}
	h.broadcastToRoom(req.RoomID, frame, "")
}

// --- typing ---

type typingData struct {
	RoomID   uuid.UUID `json:"room_id"`
	IsTyping bool      `json:"is_typing"`
}

type userTypingPayload struct {
	RoomID   uuid.UUID `json:"room_id"`
	UserID   uuid.UUID `json:"user_id"`
	IsTyping bool      `json:"is_typing"`
}

// handleTyping broadcasts a one-shot typing indicator, quota-limited to one per second per (user, room) so a
// client cannot spam every other member by re-firing on each keystroke.
func (h *Hub) handleTyping(ctx context.Context, c *Client, data json.RawMessage) {
	var req typingData
	if !bindFrameData(c, data, &req) {
		return
	}
	if !h.requireMember(ctx, c, req.RoomID) {
		return
	}
	allowed, err := h.limiter.Allow(ctx, "typing:"+req.RoomID.String()+":"+c.userID.String(), 1, time.Second)
	if err != nil || !allowed {
		return
	}
	frame, err := encodeFrame(EventUserTyping, userTypingPayload{RoomID: req.RoomID, UserID: c.userID, IsTyping: req.IsTyping})
	if err != nil {
		return
	}
	h.broadcastToRoom(req.RoomID, frame, c.sessionID)
}

// --- edit_message ---

type editMessageData struct {
	MessageID uuid.UUID `json:"message_id"`
	Content   string    `json:"content"`
}

type messageEditedPayload struct {
	ID      uuid.UUID `json:"id"`
	RoomID  uuid.UUID `json:"room_id"`
	Content string    `json:"content"`
}

// handleEditMessage edits a message in place. Only the original sender may edit; the message must not already be
// tombstoned.
func (h *Hub) handleEditMessage(ctx context.Context, c *Client, data json.RawMessage) {
	var req editMessageData
	if !bindFrameData(c, data, &req) {
		return
	}
	existing, err := h.messages.GetByID(ctx, req.MessageID)
	if err != nil {
		h.sendTo(c, encodeError("not_found", "message not found"))
		return
	}
	if existing.SenderID != c.userID {
		h.sendTo(c, encodeError("not_author", message.ErrNotAuthor.Error()))
		return
	}
	normalized, err := message.ValidateContent(req.Content, existing.Encrypted)
	if err != nil {
		h.sendTo(c, encodeError("invalid_content", err.Error()))
		return
	}
	updated, err := h.messages.Edit(ctx, req.MessageID, normalized)
	if err != nil {
		if errors.Is(err, message.ErrAlreadyDeleted) {
			h.sendTo(c, encodeError("already_deleted", err.Error()))
			return
		}
		h.log.Warn().Err(err).Msg("failed to edit message")
		h.sendTo(c, encodeError("internal_error", "failed to edit message"))
		return
	}
	frame, err := encodeFrame(EventMessageEdited, messageEditedPayload{
		ID:      updated.ID,
		RoomID:  updated.RoomID,
		Content: updated.Content,
	})
	if err != nil {
		return
	}
	h.broadcastToRoom(updated.RoomID, frame, "")
}

// --- delete_message ---

type deleteMessageData struct {
	MessageID uuid.UUID `json:"message_id"`
}

type messageDeletedPayload struct {
	ID     uuid.UUID `json:"id"`
	RoomID uuid.UUID `json:"room_id"`
}

// handleDeleteMessage tombstones a message. The sender may delete their own message; a room admin may delete any
// message in a room they administer.
func (h *Hub) handleDeleteMessage(ctx context.Context, c *Client, data json.RawMessage) {
	var req deleteMessageData
	if !bindFrameData(c, data, &req) {
		return
	}
	existing, err := h.messages.GetByID(ctx, req.MessageID)
	if err != nil {
		h.sendTo(c, encodeError("not_found", "message not found"))
		return
	}
	if existing.SenderID != c.userID {
		isAdmin, err := h.rooms.IsAdmin(ctx, existing.RoomID, c.userID)
		if err != nil || !isAdmin {
			h.sendTo(c, encodeError("not_author", message.ErrNotAuthor.Error()))
			return
		}
	}
	if err := h.messages.SoftDelete(ctx, req.MessageID); err != nil {
		h.log.Warn().Err(err).Msg("failed to delete message")
		h.sendTo(c, encodeError("internal_error", "failed to delete message"))
		return
	}
	frame, err := encodeFrame(EventMessageDeleted, messageDeletedPayload{ID: req.MessageID, RoomID: existing.RoomID})
	if err != nil {
		return
	}
	h.broadcastToRoom(existing.RoomID, frame, "")
}

// --- pin_updated ---

type pinUpdatedData struct {
	RoomID uuid.UUID `json:"room_id"`
}

type pinUpdatedPayload struct {
	RoomID uuid.UUID `json:"room_id"`
	Pins   []pin.Pin `json:"pins"`
}

// handlePinUpdated is a quota-limited signal that the room's pin list changed. Pins themselves are mutated over the
// HTTP API; this handler only re-reads the canonical list from the store and broadcasts it, so whatever pin data the
// client attached never reaches other members.
func (h *Hub) handlePinUpdated(ctx context.Context, c *Client, data json.RawMessage) {
	var req pinUpdatedData
	if !bindFrameData(c, data, &req) {
		return
	}
	if !h.requireMember(ctx, c, req.RoomID) {
		return
	}
	allowed, err := h.limiter.Allow(ctx, "socket:pin_updated:"+c.userID.String(), h.cfg.SocketPinUpdatedPerMinute, time.Minute)
	if err != nil || !allowed {
		h.sendTo(c, encodeError("rate_limited", ErrQuotaExceeded.Error()))
		return
	}
	h.BroadcastPinUpdated(req.RoomID)
}

// --- reaction_updated ---

type reactionUpdatedData struct {
	MessageID uuid.UUID `json:"message_id"`
}

type reactionUpdatedPayload struct {
	MessageID uuid.UUID          `json:"message_id"`
	RoomID    uuid.UUID          `json:"room_id"`
	Summaries []reaction.Summary `json:"summaries"`
}

// handleReactionUpdated is a notification event: the toggle itself happens over the HTTP API, and this handler
// re-derives the message's canonical reaction summary from the store and broadcasts it, ignoring any reaction data
// the client attached. The message's own room decides where the broadcast goes, not the client's claim.
func (h *Hub) handleReactionUpdated(ctx context.Context, c *Client, data json.RawMessage) {
	var req reactionUpdatedData
	if !bindFrameData(c, data, &req) {
		return
	}
	msg, err := h.messages.GetByID(ctx, req.MessageID)
	if err != nil {
		h.sendTo(c, encodeError("not_found", "message not found"))
		return
	}
	if !h.requireMember(ctx, c, msg.RoomID) {
		return
	}
	summaries, err := h.reactions.ForMessage(ctx, req.MessageID)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to load reaction summary")
		return
	}
	frame, err := encodeFrame(EventReactionUpdated, reactionUpdatedPayload{
		MessageID: req.MessageID,
		RoomID:    msg.RoomID,
		Summaries: summaries,
	})
	if err != nil {
		return
	}
	h.broadcastToRoom(msg.RoomID, frame, "")
}

// --- poll_created / poll_updated (vote, close) ---

type pollCreatedData struct {
	PollID uuid.UUID `json:"poll_id"`
}

type pollCreatedPayload struct {
	RoomID  uuid.UUID     `json:"room_id"`
	Poll    *poll.Poll    `json:"poll"`
	Options []poll.Option `json:"options"`
}

// handlePollCreated is a notification event: the poll was created over the HTTP API, and this handler re-reads it
// from the store and broadcasts the canonical poll and its options to the poll's own room.
func (h *Hub) handlePollCreated(ctx context.Context, c *Client, data json.RawMessage) {
	var req pollCreatedData
	if !bindFrameData(c, data, &req) {
		return
	}
	p, err := h.polls.GetByID(ctx, req.PollID)
	if err != nil {
		h.sendTo(c, encodeError("not_found", "poll not found"))
		return
	}
	if !h.requireMember(ctx, c, p.RoomID) {
		return
	}
	options, err := h.polls.Options(ctx, p.ID)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to load poll options")
		return
	}
	frame, err := encodeFrame(EventPollCreated, pollCreatedPayload{RoomID: p.RoomID, Poll: p, Options: options})
	if err != nil {
		return
	}
	h.broadcastToRoom(p.RoomID, frame, "")
}

type pollUpdatedData struct {
	PollID uuid.UUID `json:"poll_id"`
}

type pollUpdatedPayload struct {
	RoomID  uuid.UUID           `json:"room_id"`
	PollID  uuid.UUID           `json:"poll_id"`
	Action  string              `json:"action,omitempty"`
	Closed  bool                `json:"closed"`
	Results []poll.OptionResult `json:"results,omitempty"`
}

// handlePollUpdated is a notification event: votes and closes happen over the HTTP API, and this handler re-derives
// the poll's canonical closed flag and results from the store and broadcasts them, ignoring any result data the
// client attached.
func (h *Hub) handlePollUpdated(ctx context.Context, c *Client, data json.RawMessage) {
	var req pollUpdatedData
	if !bindFrameData(c, data, &req) {
		return
	}
	p, err := h.polls.GetByID(ctx, req.PollID)
	if err != nil {
		h.sendTo(c, encodeError("not_found", "poll not found"))
		return
	}
	if !h.requireMember(ctx, c, p.RoomID) {
		return
	}
	results, err := h.polls.Results(ctx, req.PollID)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to load poll results")
		return
	}
	frame, err := encodeFrame(EventPollUpdated, pollUpdatedPayload{
		RoomID:  p.RoomID,
		PollID:  p.ID,
		Closed:  p.Closed,
		Results: results,
	})
	if err != nil {
		return
	}
	h.broadcastToRoom(p.RoomID, frame, "")
}

// --- admin_updated ---

type adminUpdatedData struct {
	RoomID  uuid.UUID `json:"room_id"`
	UserID  uuid.UUID `json:"user_id"`
	IsAdmin bool      `json:"is_admin"`
}

// handleAdminUpdated promotes or demotes a member from a live connection. Admin-only; the server re-applies the
// requested effect against the store and broadcasts the applied (user_id, is_admin) change via BroadcastAdminUpdated, so clients never act on the claim
// alone. Demoting the room's last admin is rejected, same as the HTTP path.
func (h *Hub) handleAdminUpdated(ctx context.Context, c *Client, data json.RawMessage) {
	var req adminUpdatedData
	if !bindFrameData(c, data, &req) {
		return
	}
	if !h.requireAdmin(ctx, c, req.RoomID) {
		return
	}

	if !req.IsAdmin {
		admins, err := h.rooms.Admins(ctx, req.RoomID)
		if err != nil {
			h.sendTo(c, encodeError("internal_error", "something went wrong"))
			return
		}
		if len(admins) <= 1 {
			h.sendTo(c, encodeError("invalid_action", "a room must keep at least one admin"))
			return
		}
	}

	if err := h.rooms.SetAdmin(ctx, req.RoomID, req.UserID, req.IsAdmin); err != nil {
		h.sendTo(c, encodeError("invalid_action", err.Error()))
		return
	}

	action := audit.AdminActionPromote
	if !req.IsAdmin {
		action = audit.AdminActionDemote
	}
	if err := h.audit.RecordAdmin(ctx, audit.RecordAdminParams{
		RoomID:       req.RoomID,
		ActorUserID:  c.userID,
		TargetUserID: &req.UserID,
		Action:       action,
	}); err != nil {
		h.log.Warn().Err(err).Msg("failed to record admin audit entry")
	}

	h.BroadcastAdminUpdated(req.RoomID, req.UserID, req.IsAdmin)
}

// --- profile_updated ---

type userProfileUpdatedPayload struct {
	UserID       uuid.UUID `json:"user_id"`
	Nickname     string    `json:"nickname"`
	ProfileImage *string   `json:"profile_image,omitempty"`
}

// handleProfileUpdated announces a profile change to every room the user belongs to. The profile itself is updated
// over HTTP; whatever nickname or image the client claims here is ignored and the broadcast carries the
// authoritative values read back from the store.
func (h *Hub) handleProfileUpdated(ctx context.Context, c *Client, _ json.RawMessage) {
	u, err := h.users.GetByID(ctx, c.userID)
	if err != nil {
		h.log.Warn().Err(err).Stringer("user_id", c.userID).Msg("failed to load user for profile broadcast")
		return
	}
	frame, err := encodeFrame(EventUserProfileUpdated, userProfileUpdatedPayload{
		UserID:       u.ID,
		Nickname:     u.Nickname,
		ProfileImage: u.ProfileImage,
	})
	if err != nil {
		return
	}
	roomIDs, err := h.userRoomIDs(ctx, c.userID)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to list rooms for profile broadcast")
		return
	}
	for _, roomID := range roomIDs {
		h.broadcastToRoom(roomID, frame, "")
	}
}

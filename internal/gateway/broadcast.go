package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/twbeatles/intranet-messenger/internal/poll"
	"github.com/twbeatles/intranet-messenger/internal/reaction"
)

// broadcastTimeout bounds the store reads these helpers do while re-deriving a canonical payload. They run outside
// any request context, so each takes its own deadline.
const broadcastTimeout = 5 * time.Second

// BroadcastPinUpdated re-reads a room's canonical pin list from the store and broadcasts it. Called after a pin
// create/delete over the HTTP API and by the socket-originated pin_updated signal, so both paths emit the same
// payload.
func (h *Hub) BroadcastPinUpdated(roomID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()
	pins, err := h.pins.List(ctx, roomID)
	if err != nil {
		h.log.Warn().Err(err).Stringer("room_id", roomID).Msg("failed to load pin list for broadcast")
		return
	}
	frame, err := encodeFrame(EventPinUpdated, pinUpdatedPayload{RoomID: roomID, Pins: pins})
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to encode pin_updated frame")
		return
	}
	h.broadcastToRoom(roomID, frame, "")
}

// BroadcastMessageEdited notifies a room's live subscribers of an edit that happened over the HTTP API.
func (h *Hub) BroadcastMessageEdited(roomID, messageID uuid.UUID, content string) {
	frame, err := encodeFrame(EventMessageEdited, messageEditedPayload{ID: messageID, RoomID: roomID, Content: content})
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to encode message_edited frame")
		return
	}
	h.broadcastToRoom(roomID, frame, "")
}

// BroadcastMessageDeleted notifies a room's live subscribers of a tombstone delete that happened over the HTTP API.
func (h *Hub) BroadcastMessageDeleted(roomID, messageID uuid.UUID) {
	frame, err := encodeFrame(EventMessageDeleted, messageDeletedPayload{ID: messageID, RoomID: roomID})
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to encode message_deleted frame")
		return
	}
	h.broadcastToRoom(roomID, frame, "")
}

// BroadcastReactionUpdated notifies a room's live subscribers of a message's current reaction summaries after a
// toggle that happened over the HTTP API.
func (h *Hub) BroadcastReactionUpdated(messageID, roomID uuid.UUID, summaries []reaction.Summary) {
	frame, err := encodeFrame(EventReactionUpdated, reactionUpdatedPayload{MessageID: messageID, RoomID: roomID, Summaries: summaries})
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to encode reaction_updated frame")
		return
	}
	h.broadcastToRoom(roomID, frame, "")
}

// BroadcastPollCreated notifies a room's live subscribers that a poll was created over the HTTP API.
func (h *Hub) BroadcastPollCreated(roomID uuid.UUID, p *poll.Poll, options []poll.Option) {
	frame, err := encodeFrame(EventPollCreated, pollCreatedPayload{RoomID: roomID, Poll: p, Options: options})
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to encode poll_created frame")
		return
	}
	h.broadcastToRoom(roomID, frame, "")
}

// BroadcastPollUpdated notifies a room's live subscribers of a vote or close that happened over the HTTP API.
func (h *Hub) BroadcastPollUpdated(roomID, pollID uuid.UUID, action string, closed bool, results []poll.OptionResult) {
	frame, err := encodeFrame(EventPollUpdated, pollUpdatedPayload{RoomID: roomID, PollID: pollID, Action: action, Closed: closed, Results: results})
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to encode poll_updated frame")
		return
	}
	h.broadcastToRoom(roomID, frame, "")
}

type adminUpdatedPayload struct {
	RoomID  uuid.UUID `json:"room_id"`
	UserID  uuid.UUID `json:"user_id"`
	IsAdmin bool      `json:"is_admin"`
}

// BroadcastAdminUpdated notifies a room's live subscribers that a member's admin role changed, whether the change
// came from the HTTP API or the socket-originated admin_updated event.
func (h *Hub) BroadcastAdminUpdated(roomID, userID uuid.UUID, isAdmin bool) {
	frame, err := encodeFrame(EventAdminUpdated, adminUpdatedPayload{RoomID: roomID, UserID: userID, IsAdmin: isAdmin})
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to encode admin_updated frame")
		return
	}
	h.broadcastToRoom(roomID, frame, "")
}

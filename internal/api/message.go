package api

import (
	"bytes"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/twbeatles/intranet-messenger/internal/audit"
	"github.com/twbeatles/intranet-messenger/internal/cryptoutil"
	"github.com/twbeatles/intranet-messenger/internal/gateway"
	"github.com/twbeatles/intranet-messenger/internal/httputil"
	"github.com/twbeatles/intranet-messenger/internal/message"
	"github.com/twbeatles/intranet-messenger/internal/reaction"
	"github.com/twbeatles/intranet-messenger/internal/room"
	"github.com/twbeatles/intranet-messenger/internal/session"
)

// MessageHandler serves room message history plus single-message edit and delete. Sending a new message stays the
// gateway's job, since it needs the live broadcast and unread accounting in one step; this handler covers the REST
// surface a client uses before and after it has a socket open.
type MessageHandler struct {
	messages  message.Repository
	rooms     room.Repository
	reactions reaction.Repository
	auditRepo audit.Repository
	hub       *gateway.Hub
	log       zerolog.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(messages message.Repository, rooms room.Repository, reactions reaction.Repository, auditRepo audit.Repository, hub *gateway.Hub, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, rooms: rooms, reactions: reactions, auditRepo: auditRepo, hub: hub, log: logger}
}

type messageModel struct {
	message.Message
	UnreadCount int                `json:"unread_count"`
	Reactions   []reaction.Summary `json:"reactions,omitempty"`
}

// List handles GET /api/rooms/<id>/messages?before_id=&limit=&include_meta=. unread_count is computed once per
// request from every member's current read cursor, then answered per message in O(log m) via
// message.UnreadCounter, so listing a page of n messages costs O(n log m) regardless of room size; a message's
// sender is subtracted from its own count when the sender's cursor placed them among the unread. include_meta
// (default on) attaches each message's reaction summary, batched in a single query for the whole page.
func (h *MessageHandler) List(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)
	roomID, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil
	}
	if isMember, err := h.rooms.IsMember(c.Context(), roomID, userID); err != nil {
		return mapDomainError(c, err)
	} else if !isMember {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You do not have access to this resource")
	}

	before, ok := optionalUUIDQuery(c, "before_id")
	if !ok {
		return nil
	}
	limit, ok := queryInt(c, "limit", message.DefaultLimit, httputil.CodeInvalidLimit, "Invalid limit")
	if !ok {
		return nil
	}

	msgs, err := h.messages.List(c.Context(), roomID, before, message.ClampLimit(limit))
	if err != nil {
		return mapDomainError(c, err)
	}

	members, err := h.rooms.Members(c.Context(), roomID)
	if err != nil {
		return mapDomainError(c, err)
	}
	cursors := make([]*uuid.UUID, 0, len(members))
	cursorByUser := make(map[uuid.UUID]*uuid.UUID, len(members))
	for _, m := range members {
		cursors = append(cursors, m.LastReadMessageID)
		cursorByUser[m.UserID] = m.LastReadMessageID
	}
	counter := message.NewUnreadCounter(cursors)

	var reactionsByMessage map[uuid.UUID][]reaction.Summary
	if includeMeta := c.Query("include_meta", "true"); includeMeta != "false" && includeMeta != "0" {
		ids := make([]uuid.UUID, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		reactionsByMessage, err = h.reactions.ForMessages(c.Context(), ids)
		if err != nil {
			return mapDomainError(c, err)
		}
	}

	models := make([]messageModel, len(msgs))
	for i, m := range msgs {
		unread := counter.CountBefore(m.ID)
		// The counter covers every member; take the sender back out when their own cursor counted them as unread.
		if cur, ok := cursorByUser[m.SenderID]; ok && (cur == nil || bytes.Compare((*cur)[:], m.ID[:]) < 0) {
			unread--
		}
		models[i] = messageModel{Message: m, UnreadCount: unread, Reactions: reactionsByMessage[m.ID]}
	}
	return httputil.Success(c, models)
}

// Get handles GET /api/messages/<id>. Membership is checked against the message's own room.
func (h *MessageHandler) Get(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)
	messageID, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil
	}

	msg, err := h.messages.GetByID(c.Context(), messageID)
	if err != nil {
		return mapDomainError(c, err)
	}
	if isMember, err := h.rooms.IsMember(c.Context(), msg.RoomID, userID); err != nil {
		return mapDomainError(c, err)
	} else if !isMember {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You do not have access to this resource")
	}
	return httputil.Success(c, msg)
}

type editMessageRequest struct {
	Content string `json:"content"`
}

// Edit handles PUT /api/messages/<id>. Only the original sender may edit.
func (h *MessageHandler) Edit(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)
	messageID, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil
	}

	msg, err := h.messages.GetByID(c.Context(), messageID)
	if err != nil {
		return mapDomainError(c, err)
	}
	if msg.SenderID != userID {
		return mapDomainError(c, message.ErrNotAuthor)
	}

	var body editMessageRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid request body")
	}
	content, err := message.ValidateContent(body.Content, msg.Encrypted)
	if err != nil {
		return mapDomainError(c, err)
	}
	if !msg.Encrypted {
		content = cryptoutil.Sanitize(content, message.MaxContentLength)
	}

	updated, err := h.messages.Edit(c.Context(), messageID, content)
	if err != nil {
		return mapDomainError(c, err)
	}
	h.hub.BroadcastMessageEdited(updated.RoomID, updated.ID, updated.Content)
	return httputil.Success(c, updated)
}

// Delete handles DELETE /api/messages/<id>. The sender or a room admin may delete; either way the message is
// tombstoned, not removed, so reply chains stay valid.
func (h *MessageHandler) Delete(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)
	messageID, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil
	}

	msg, err := h.messages.GetByID(c.Context(), messageID)
	if err != nil {
		return mapDomainError(c, err)
	}

	isAdmin := false
	if msg.SenderID != userID {
		var err error
		isAdmin, err = h.rooms.IsAdmin(c.Context(), msg.RoomID, userID)
		if err != nil {
			return mapDomainError(c, err)
		}
		if !isAdmin {
			return mapDomainError(c, message.ErrNotAuthor)
		}
	}

	if err := h.messages.SoftDelete(c.Context(), messageID); err != nil {
		return mapDomainError(c, err)
	}
	h.hub.BroadcastMessageDeleted(msg.RoomID, messageID)

	if isAdmin {
		if err := h.auditRepo.RecordAdmin(c.Context(), audit.RecordAdminParams{
			RoomID:      msg.RoomID,
			ActorUserID: userID,
			Action:      audit.AdminActionDeleteMessage,
		}); err != nil {
			h.log.Warn().Err(err).Msg("failed to record delete-message audit log")
		}
	}

	return c.SendStatus(fiber.StatusNoContent)
}

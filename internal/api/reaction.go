package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/twbeatles/intranet-messenger/internal/gateway"
	"github.com/twbeatles/intranet-messenger/internal/httputil"
	"github.com/twbeatles/intranet-messenger/internal/message"
	"github.com/twbeatles/intranet-messenger/internal/reaction"
	"github.com/twbeatles/intranet-messenger/internal/room"
	"github.com/twbeatles/intranet-messenger/internal/session"
)

// ReactionHandler serves per-message emoji reactions.
type ReactionHandler struct {
	reactions reaction.Repository
	messages  message.Repository
	rooms     room.Repository
	hub       *gateway.Hub
	log       zerolog.Logger
}

// NewReactionHandler creates a new reaction handler.
func NewReactionHandler(reactions reaction.Repository, messages message.Repository, rooms room.Repository, hub *gateway.Hub, logger zerolog.Logger) *ReactionHandler {
	return &ReactionHandler{reactions: reactions, messages: messages, rooms: rooms, hub: hub, log: logger}
}

type toggleReactionRequest struct {
	Emoji string `json:"emoji"`
}

// Toggle handles POST /api/messages/<id>/reactions. It adds the reaction if absent, removes it if present, then
// broadcasts the message's canonical per-emoji summary, matching the socket-originated reaction_updated path.
func (h *ReactionHandler) Toggle(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)
	messageID, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil
	}

	var body toggleReactionRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid request body")
	}
	if err := reaction.ValidateEmoji(body.Emoji); err != nil {
		return mapDomainError(c, err)
	}

	msg, err := h.messages.GetByID(c.Context(), messageID)
	if err != nil {
		return mapDomainError(c, err)
	}
	isMember, err := h.rooms.IsMember(c.Context(), msg.RoomID, userID)
	if err != nil {
		return mapDomainError(c, err)
	}
	if !isMember {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You do not have access to this resource")
	}

	if _, err := h.reactions.Toggle(c.Context(), messageID, userID, body.Emoji); err != nil {
		return mapDomainError(c, err)
	}

	summaries, err := h.reactions.ForMessage(c.Context(), messageID)
	if err != nil {
		return mapDomainError(c, err)
	}

	h.hub.BroadcastReactionUpdated(messageID, msg.RoomID, summaries)
	return httputil.Success(c, summaries)
}

// List handles GET /api/messages/<id>/reactions.
func (h *ReactionHandler) List(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)
	messageID, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil
	}

	msg, err := h.messages.GetByID(c.Context(), messageID)
	if err != nil {
		return mapDomainError(c, err)
	}
	isMember, err := h.rooms.IsMember(c.Context(), msg.RoomID, userID)
	if err != nil {
		return mapDomainError(c, err)
	}
	if !isMember {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You do not have access to this resource")
	}

	summaries, err := h.reactions.ForMessage(c.Context(), messageID)
	if err != nil {
		return mapDomainError(c, err)
	}
	return httputil.Success(c, summaries)
}

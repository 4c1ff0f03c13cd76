package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/twbeatles/intranet-messenger/internal/gateway"
	"github.com/twbeatles/intranet-messenger/internal/httputil"
	"github.com/twbeatles/intranet-messenger/internal/pin"
	"github.com/twbeatles/intranet-messenger/internal/room"
	"github.com/twbeatles/intranet-messenger/internal/session"
)

// PinHandler serves a room's pinned-items list.
type PinHandler struct {
	pins  pin.Repository
	rooms room.Repository
	hub   *gateway.Hub
	log   zerolog.Logger
}

// NewPinHandler creates a new pin handler.
func NewPinHandler(pins pin.Repository, rooms room.Repository, hub *gateway.Hub, logger zerolog.Logger) *PinHandler {
	return &PinHandler{pins: pins, rooms: rooms, hub: hub, log: logger}
}

type createPinRequest struct {
	MessageID *uuid.UUID `json:"message_id"`
	Content   *string    `json:"content"`
}

// Create handles POST /api/rooms/<id>/pins.
func (h *PinHandler) Create(c fiber.Ctx) error {
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

	var body createPinRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid request body")
	}

	params := pin.CreateParams{RoomID: roomID, MessageID: body.MessageID, Content: body.Content, PinnedBy: userID}
	if err := params.Validate(); err != nil {
		return mapDomainError(c, err)
	}

	count, err := h.pins.Count(c.Context(), roomID)
	if err != nil {
		return mapDomainError(c, err)
	}
	if count >= pin.MaxPins {
		return mapDomainError(c, pin.ErrPinLimitReached)
	}

	p, err := h.pins.Create(c.Context(), params)
	if err != nil {
		return mapDomainError(c, err)
	}

	h.hub.BroadcastPinUpdated(roomID)
	return httputil.SuccessStatus(c, fiber.StatusCreated, p)
}

// List handles GET /api/rooms/<id>/pins.
func (h *PinHandler) List(c fiber.Ctx) error {
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

	pins, err := h.pins.List(c.Context(), roomID)
	if err != nil {
		return mapDomainError(c, err)
	}
	return httputil.Success(c, pins)
}

// Delete handles DELETE /api/rooms/<id>/pins/<pin_id>.
func (h *PinHandler) Delete(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)
	roomID, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil
	}
	pinID, ok := parseUUIDParam(c, "pin_id")
	if !ok {
		return nil
	}
	if isMember, err := h.rooms.IsMember(c.Context(), roomID, userID); err != nil {
		return mapDomainError(c, err)
	} else if !isMember {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You do not have access to this resource")
	}

	if err := h.pins.Delete(c.Context(), roomID, pinID); err != nil {
		return mapDomainError(c, err)
	}

	h.hub.BroadcastPinUpdated(roomID)
	return c.SendStatus(fiber.StatusNoContent)
}

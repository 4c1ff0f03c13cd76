package api

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/twbeatles/intranet-messenger/internal/audit"
	"github.com/twbeatles/intranet-messenger/internal/gateway"
	"github.com/twbeatles/intranet-messenger/internal/httputil"
	"github.com/twbeatles/intranet-messenger/internal/poll"
	"github.com/twbeatles/intranet-messenger/internal/room"
	"github.com/twbeatles/intranet-messenger/internal/session"
)

// PollHandler serves room polls: creation, listing, voting, and closing.
type PollHandler struct {
	polls     poll.Repository
	rooms     room.Repository
	auditRepo audit.Repository
	hub       *gateway.Hub
	log       zerolog.Logger
}

// NewPollHandler creates a new poll handler.
func NewPollHandler(polls poll.Repository, rooms room.Repository, auditRepo audit.Repository, hub *gateway.Hub, logger zerolog.Logger) *PollHandler {
	return &PollHandler{polls: polls, rooms: rooms, auditRepo: auditRepo, hub: hub, log: logger}
}

type createPollRequest struct {
	Question       string     `json:"question"`
	Options        []string   `json:"options"`
	MultipleChoice bool       `json:"multiple_choice"`
	Anonymous      bool       `json:"anonymous"`
	EndsAt         *time.Time `json:"ends_at"`
}

// Create handles POST /api/rooms/<id>/polls.
func (h *PollHandler) Create(c fiber.Ctx) error {
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

	var body createPollRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid request body")
	}

	params := poll.CreateParams{
		RoomID:         roomID,
		CreatedBy:      userID,
		Question:       body.Question,
		Options:        body.Options,
		MultipleChoice: body.MultipleChoice,
		Anonymous:      body.Anonymous,
		EndsAt:         body.EndsAt,
	}
	if err := params.Validate(); err != nil {
		return mapDomainError(c, err)
	}

	created, options, err := h.polls.Create(c.Context(), params)
	if err != nil {
		return mapDomainError(c, err)
	}

	h.hub.BroadcastPollCreated(roomID, created, options)
	return httputil.SuccessStatus(c, fiber.StatusCreated, fiber.Map{"poll": created, "options": options})
}

// List handles GET /api/rooms/<id>/polls.
func (h *PollHandler) List(c fiber.Ctx) error {
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

	polls, err := h.polls.ListForRoom(c.Context(), roomID)
	if err != nil {
		return mapDomainError(c, err)
	}
	return httputil.Success(c, polls)
}

type voteRequest struct {
	OptionID uuid.UUID `json:"option_id"`
}

// Vote handles POST /api/polls/<id>/vote.
func (h *PollHandler) Vote(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)
	pollID, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil
	}

	p, err := h.polls.GetByID(c.Context(), pollID)
	if err != nil {
		return mapDomainError(c, err)
	}
	if isMember, err := h.rooms.IsMember(c.Context(), p.RoomID, userID); err != nil {
		return mapDomainError(c, err)
	} else if !isMember {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You do not have access to this resource")
	}

	var body voteRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid request body")
	}

	if err := h.polls.Vote(c.Context(), pollID, body.OptionID, userID); err != nil {
		return mapDomainError(c, err)
	}

	results, err := h.polls.Results(c.Context(), pollID)
	if err != nil {
		return mapDomainError(c, err)
	}

	h.hub.BroadcastPollUpdated(p.RoomID, pollID, "voted", p.Closed, results)
	return httputil.Success(c, results)
}

// Close handles POST /api/polls/<id>/close. The poll's creator or any room admin may close it early.
func (h *PollHandler) Close(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)
	pollID, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil
	}

	p, err := h.polls.GetByID(c.Context(), pollID)
	if err != nil {
		return mapDomainError(c, err)
	}
	if p.CreatedBy != userID {
		isAdmin, err := h.rooms.IsAdmin(c.Context(), p.RoomID, userID)
		if err != nil {
			return mapDomainError(c, err)
		}
		if !isAdmin {
			return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You do not have access to this resource")
		}
	}

	if err := h.polls.Close(c.Context(), pollID); err != nil {
		return mapDomainError(c, err)
	}

	results, err := h.polls.Results(c.Context(), pollID)
	if err != nil {
		return mapDomainError(c, err)
	}

	if err := h.auditRepo.RecordAdmin(c.Context(), audit.RecordAdminParams{
		RoomID:      p.RoomID,
		ActorUserID: userID,
		Action:      audit.AdminActionClosePoll,
	}); err != nil {
		h.log.Warn().Err(err).Msg("failed to record close-poll audit log")
	}

	h.hub.BroadcastPollUpdated(p.RoomID, pollID, "closed", true, results)
	return httputil.Success(c, results)
}

package api

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/twbeatles/intranet-messenger/internal/audit"
	"github.com/twbeatles/intranet-messenger/internal/cryptoutil"
	"github.com/twbeatles/intranet-messenger/internal/gateway"
	"github.com/twbeatles/intranet-messenger/internal/httputil"
	"github.com/twbeatles/intranet-messenger/internal/room"
	"github.com/twbeatles/intranet-messenger/internal/roomfile"
	"github.com/twbeatles/intranet-messenger/internal/session"
	"github.com/twbeatles/intranet-messenger/internal/user"
)

// RoomHandler serves room CRUD, membership, admin management, and the file catalog. kek is the process-level
// room-key-encryption-key (hex, may be empty), threaded through to cryptoutil.WrapRoomKey on room creation.
type RoomHandler struct {
	rooms     room.Repository
	users     user.Repository
	roomfiles roomfile.Repository
	auditRepo audit.Repository
	hub       *gateway.Hub
	kek       string
	log       zerolog.Logger
}

// NewRoomHandler creates a new room handler.
func NewRoomHandler(rooms room.Repository, users user.Repository, roomfiles roomfile.Repository, auditRepo audit.Repository, hub *gateway.Hub, kek string, logger zerolog.Logger) *RoomHandler {
	return &RoomHandler{rooms: rooms, users: users, roomfiles: roomfiles, auditRepo: auditRepo, hub: hub, kek: kek, log: logger}
}

type roomModel struct {
	ID        uuid.UUID `json:"id"`
	Name      *string   `json:"name,omitempty"`
	Kind      string    `json:"kind"`
	CreatedBy uuid.UUID `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

func toRoomModel(r *room.Room) roomModel {
	return roomModel{ID: r.ID, Name: r.Name, Kind: string(r.Kind), CreatedBy: r.CreatedBy, CreatedAt: r.CreatedAt}
}

// List handles GET /api/rooms.
func (h *RoomHandler) List(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)
	rooms, err := h.rooms.ListForUser(c.Context(), userID)
	if err != nil {
		return mapDomainError(c, err)
	}
	models := make([]roomModel, len(rooms))
	for i, r := range rooms {
		models[i] = toRoomModel(&r)
	}
	return httputil.Success(c, models)
}

type createRoomRequest struct {
	Name      *string     `json:"name"`
	MemberIDs []uuid.UUID `json:"member_ids"`
}

// Create handles POST /api/rooms. A single member id with no name creates (or returns the existing) direct room
// between the caller and that user; otherwise a group room is created with the caller as its sole initial admin and
// every other id added as a regular member.
func (h *RoomHandler) Create(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)

	var body createRoomRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid request body")
	}
	if err := room.ValidateName(body.Name); err != nil {
		return mapDomainError(c, err)
	}

	roomKey, err := cryptoutil.GenerateRoomKey()
	if err != nil {
		h.log.Error().Err(err).Msg("failed to generate room key")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
	wrapped, err := cryptoutil.WrapRoomKey(roomKey, h.kek)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to wrap room key")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}

	if body.Name == nil && len(body.MemberIDs) == 1 {
		r, _, err := h.rooms.CreateDirectRoom(c.Context(), userID, body.MemberIDs[0], wrapped)
		if err != nil {
			return mapDomainError(c, err)
		}
		h.hub.JoinUserToRoom(userID, r.ID)
		h.hub.JoinUserToRoom(body.MemberIDs[0], r.ID)
		return httputil.SuccessStatus(c, fiber.StatusCreated, toRoomModel(r))
	}

	r, err := h.rooms.CreateGroupRoom(c.Context(), userID, body.Name, wrapped)
	if err != nil {
		return mapDomainError(c, err)
	}
	h.hub.JoinUserToRoom(userID, r.ID)
	for _, memberID := range body.MemberIDs {
		if memberID == userID {
			continue
		}
		if err := h.rooms.AddMember(c.Context(), r.ID, memberID); err != nil {
			h.log.Warn().Err(err).Str("room_id", r.ID.String()).Str("user_id", memberID.String()).Msg("failed to add initial group member")
			continue
		}
		h.hub.JoinUserToRoom(memberID, r.ID)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, toRoomModel(r))
}

// Info handles GET /api/rooms/<id>/info.
func (h *RoomHandler) Info(c fiber.Ctx) error {
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

	r, err := h.rooms.GetByID(c.Context(), roomID)
	if err != nil {
		return mapDomainError(c, err)
	}
	members, err := h.rooms.Members(c.Context(), roomID)
	if err != nil {
		return mapDomainError(c, err)
	}
	return httputil.Success(c, fiber.Map{"room": toRoomModel(r), "members": members})
}

// inviteMemberRequest is the body of POST /api/rooms/<id>/members, handled by Invite.
type inviteMemberRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

func (h *RoomHandler) Invite(c fiber.Ctx) error {
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

	var body inviteMemberRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid request body")
	}
	if _, err := h.users.GetByID(c.Context(), body.UserID); err != nil {
		return mapDomainError(c, err)
	}

	if err := h.rooms.AddMember(c.Context(), roomID, body.UserID); err != nil {
		return mapDomainError(c, err)
	}

	h.hub.JoinUserToRoom(body.UserID, roomID)
	h.hub.BroadcastRoomMembersUpdated(roomID)
	return httputil.SuccessStatus(c, fiber.StatusCreated, fiber.Map{"invited": true})
}

// Leave handles POST /api/rooms/<id>/leave, idempotently: a caller who is not a member gets already_left=true rather
// than a 403, since leaving twice is a normal client retry, not an authorization violation.
func (h *RoomHandler) Leave(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)
	roomID, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil
	}

	isMember, err := h.rooms.IsMember(c.Context(), roomID, userID)
	if err != nil {
		return mapDomainError(c, err)
	}
	if !isMember {
		return httputil.Success(c, fiber.Map{"left": false, "already_left": true})
	}

	if err := h.rooms.RemoveMember(c.Context(), roomID, userID); err != nil {
		return mapDomainError(c, err)
	}

	h.hub.LeaveUserFromRoom(userID, roomID)
	h.hub.BroadcastRoomMembersUpdated(roomID)
	return httputil.Success(c, fiber.Map{"left": true, "already_left": false})
}

// Kick handles DELETE /api/rooms/<id>/members/<uid>. Admin-only; admins may not kick themselves (use leave instead),
// matching the stricter of the two inconsistent kick variants in the source material.
func (h *RoomHandler) Kick(c fiber.Ctx) error {
	actorID := session.UserIDFromContext(c)
	roomID, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil
	}
	targetID, ok := parseUUIDParam(c, "uid")
	if !ok {
		return nil
	}

	isAdmin, err := h.rooms.IsAdmin(c.Context(), roomID, actorID)
	if err != nil {
		return mapDomainError(c, err)
	}
	if !isAdmin {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You do not have access to this resource")
	}
	if targetID == actorID {
		h.recordAdmin(c, roomID, actorID, &targetID, audit.AdminActionKickRejected, nil)
		return mapDomainError(c, room.ErrCannotKickSelf)
	}

	if err := h.rooms.RemoveMember(c.Context(), roomID, targetID); err != nil {
		return mapDomainError(c, err)
	}

	h.recordAdmin(c, roomID, actorID, &targetID, audit.AdminActionKick, nil)
	h.hub.LeaveUserFromRoom(targetID, roomID)
	h.hub.BroadcastRoomMembersUpdated(roomID)
	return c.SendStatus(fiber.StatusNoContent)
}

type renameRoomRequest struct {
	Name string `json:"name"`
}

// Rename handles PUT /api/rooms/<id>/name. Admin-only.
func (h *RoomHandler) Rename(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)
	roomID, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil
	}
	if isAdmin, err := h.rooms.IsAdmin(c.Context(), roomID, userID); err != nil {
		return mapDomainError(c, err)
	} else if !isAdmin {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You do not have access to this resource")
	}

	var body renameRoomRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid request body")
	}
	if err := room.ValidateName(&body.Name); err != nil {
		return mapDomainError(c, err)
	}

	r, err := h.rooms.Rename(c.Context(), roomID, body.Name)
	if err != nil {
		return mapDomainError(c, err)
	}

	metadata, _ := json.Marshal(fiber.Map{"name": body.Name})
	h.recordAdmin(c, roomID, userID, nil, audit.AdminActionRename, metadata)
	h.hub.BroadcastRoomNameUpdated(roomID, body.Name)
	return httputil.Success(c, toRoomModel(r))
}

// PinRoom handles POST /api/rooms/<id>/pin-room: toggles whether the room is pinned to the top of the caller's own
// room list. This is per-member room_members.pinned, not a PinnedMessage.
type togglePinnedRequest struct {
	Pinned bool `json:"pinned"`
}

func (h *RoomHandler) PinRoom(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)
	roomID, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil
	}

	var body togglePinnedRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid request body")
	}
	if err := h.rooms.SetPinned(c.Context(), roomID, userID, body.Pinned); err != nil {
		return mapDomainError(c, err)
	}
	return httputil.Success(c, fiber.Map{"pinned": body.Pinned})
}

type toggleMutedRequest struct {
	Muted bool `json:"muted"`
}

// Mute handles POST /api/rooms/<id>/mute.
func (h *RoomHandler) Mute(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)
	roomID, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil
	}

	var body toggleMutedRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid request body")
	}
	if err := h.rooms.SetMuted(c.Context(), roomID, userID, body.Muted); err != nil {
		return mapDomainError(c, err)
	}
	return httputil.Success(c, fiber.Map{"muted": body.Muted})
}

// Admins handles GET /api/rooms/<id>/admins.
func (h *RoomHandler) Admins(c fiber.Ctx) error {
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

	admins, err := h.rooms.Admins(c.Context(), roomID)
	if err != nil {
		return mapDomainError(c, err)
	}
	return httputil.Success(c, admins)
}

// AdminCheck handles GET /api/rooms/<id>/admin-check.
func (h *RoomHandler) AdminCheck(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)
	roomID, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil
	}
	isAdmin, err := h.rooms.IsAdmin(c.Context(), roomID, userID)
	if err != nil {
		return mapDomainError(c, err)
	}
	return httputil.Success(c, fiber.Map{"is_admin": isAdmin})
}

type setAdminRequest struct {
	UserID  uuid.UUID `json:"user_id"`
	IsAdmin bool      `json:"is_admin"`
}

// SetAdmin handles POST /api/rooms/<id>/admins. Admin-only; demoting the room's last admin is rejected so the room
// never drops below the one-admin invariant through this path (it only drops through leave's auto-promotion).
func (h *RoomHandler) SetAdmin(c fiber.Ctx) error {
	actorID := session.UserIDFromContext(c)
	roomID, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil
	}
	if isAdmin, err := h.rooms.IsAdmin(c.Context(), roomID, actorID); err != nil {
		return mapDomainError(c, err)
	} else if !isAdmin {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You do not have access to this resource")
	}

	var body setAdminRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid request body")
	}

	if !body.IsAdmin {
		admins, err := h.rooms.Admins(c.Context(), roomID)
		if err != nil {
			return mapDomainError(c, err)
		}
		if len(admins) <= 1 {
			return httputil.Fail(c, fiber.StatusConflict, httputil.CodeConflict, "A room must keep at least one admin")
		}
	}

	if err := h.rooms.SetAdmin(c.Context(), roomID, body.UserID, body.IsAdmin); err != nil {
		return mapDomainError(c, err)
	}

	action := audit.AdminActionPromote
	if !body.IsAdmin {
		action = audit.AdminActionDemote
	}
	h.recordAdmin(c, roomID, actorID, &body.UserID, action, nil)
	h.hub.BroadcastAdminUpdated(roomID, body.UserID, body.IsAdmin)
	return httputil.Success(c, fiber.Map{"user_id": body.UserID, "is_admin": body.IsAdmin})
}

// AdminAuditLogs handles GET /api/rooms/<id>/admin-audit-logs?format=csv|json. Admin-only.
func (h *RoomHandler) AdminAuditLogs(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)
	roomID, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil
	}
	if isAdmin, err := h.rooms.IsAdmin(c.Context(), roomID, userID); err != nil {
		return mapDomainError(c, err)
	} else if !isAdmin {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You do not have access to this resource")
	}

	logs, err := h.auditRepo.AdminLogsForRoom(c.Context(), roomID)
	if err != nil {
		return mapDomainError(c, err)
	}

	if c.Query("format") == "csv" {
		c.Set(fiber.HeaderContentType, "text/csv")
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="admin-audit-log.csv"`)
		if err := audit.WriteAdminAuditCSV(c.Response().BodyWriter(), logs); err != nil {
			h.log.Error().Err(err).Msg("failed to write admin audit CSV export")
			return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
		}
		return nil
	}
	return httputil.Success(c, logs)
}

// Files handles GET /api/rooms/<id>/files.
func (h *RoomHandler) Files(c fiber.Ctx) error {
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

	files, err := h.roomfiles.ListForRoom(c.Context(), roomID)
	if err != nil {
		return mapDomainError(c, err)
	}
	return httputil.Success(c, files)
}

// DeleteFile handles DELETE /api/rooms/<id>/files/<file_id>. The uploader or a room admin may delete; this removes
// only the catalog row, matching roomfile.Repository.Delete's own contract. The file on disk is not deleted, here or
// later: the maintenance loop's retention sweep unlinks only the paths of the rows it deletes itself.
func (h *RoomHandler) DeleteFile(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)
	roomID, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil
	}
	fileID, ok := parseUUIDParam(c, "file_id")
	if !ok {
		return nil
	}

	files, err := h.roomfiles.ListForRoom(c.Context(), roomID)
	if err != nil {
		return mapDomainError(c, err)
	}
	var target *roomfile.RoomFile
	for i := range files {
		if files[i].ID == fileID {
			target = &files[i]
			break
		}
	}
	if target == nil {
		return mapDomainError(c, roomfile.ErrNotFound)
	}

	if target.UploadedBy != userID {
		isAdmin, err := h.rooms.IsAdmin(c.Context(), roomID, userID)
		if err != nil {
			return mapDomainError(c, err)
		}
		if !isAdmin {
			return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You do not have access to this resource")
		}
	}

	if err := h.roomfiles.Delete(c.Context(), target.FilePath); err != nil {
		return mapDomainError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *RoomHandler) recordAdmin(c fiber.Ctx, roomID, actorID uuid.UUID, targetID *uuid.UUID, action audit.AdminAction, metadata json.RawMessage) {
	if err := h.auditRepo.RecordAdmin(c.Context(), audit.RecordAdminParams{
		RoomID:       roomID,
		ActorUserID:  actorID,
		TargetUserID: targetID,
		Action:       action,
		Metadata:     metadata,
	}); err != nil {
		h.log.Warn().Err(err).Str("action", string(action)).Msg("failed to record admin audit log")
	}
}

package api

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/twbeatles/intranet-messenger/internal/audit"
	"github.com/twbeatles/intranet-messenger/internal/config"
	"github.com/twbeatles/intranet-messenger/internal/cryptoutil"
	"github.com/twbeatles/intranet-messenger/internal/httputil"
	"github.com/twbeatles/intranet-messenger/internal/presence"
	"github.com/twbeatles/intranet-messenger/internal/session"
	"github.com/twbeatles/intranet-messenger/internal/user"
)

// MeHandler serves the authenticated-self and directory endpoints: the current session's identity and profile,
// password change, account deletion, and the user directory.
type MeHandler struct {
	users     user.Repository
	presence  *presence.Store
	auditRepo audit.Repository
	cfg       *config.Config
	log       zerolog.Logger
}

// NewMeHandler creates a new me/users handler.
func NewMeHandler(users user.Repository, presenceStore *presence.Store, auditRepo audit.Repository, cfg *config.Config, logger zerolog.Logger) *MeHandler {
	return &MeHandler{users: users, presence: presenceStore, auditRepo: auditRepo, cfg: cfg, log: logger}
}

type meResponse struct {
	LoggedIn bool       `json:"logged_in"`
	User     *userModel `json:"user,omitempty"`
}

// Get handles GET /api/me. Unlike every other route in this package it must keep responding even without an active
// session, so it is mounted outside the RequireSession group and validates the cookie itself rather than reading the
// locals RequireSession would have set.
func (h *MeHandler) Get(c fiber.Ctx) error {
	raw := c.Cookies(session.CookieName)
	if raw == "" {
		return httputil.Success(c, meResponse{LoggedIn: false})
	}

	claims, err := session.Decode(raw, h.cfg.JWTSecret)
	if err != nil {
		return httputil.Success(c, meResponse{LoggedIn: false})
	}

	userID := claims.UserID()
	current, err := h.users.CurrentSessionToken(c.Context(), userID)
	if err != nil || current == "" || current != claims.SessionToken {
		return httputil.Success(c, meResponse{LoggedIn: false})
	}

	u, err := h.users.GetByID(c.Context(), userID)
	if err != nil {
		return httputil.Success(c, meResponse{LoggedIn: false})
	}
	return httputil.Success(c, meResponse{LoggedIn: true, User: toUserModel(u)})
}

type updateMeRequest struct {
	Nickname      *string `json:"nickname"`
	StatusMessage *string `json:"status_message"`
}

// Update handles PUT /api/me.
func (h *MeHandler) Update(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)

	var body updateMeRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid request body")
	}

	if body.Nickname != nil {
		if err := user.ValidateNickname(*body.Nickname); err != nil {
			return mapDomainError(c, err)
		}
	}
	if err := user.ValidateStatusMessage(body.StatusMessage); err != nil {
		return mapDomainError(c, err)
	}

	u, err := h.users.Update(c.Context(), userID, user.UpdateParams{
		Nickname:      body.Nickname,
		StatusMessage: body.StatusMessage,
	})
	if err != nil {
		return mapDomainError(c, err)
	}
	return httputil.Success(c, toUserModel(u))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword handles PUT /api/me/password. A successful change rotates the session token, so every other
// session for this user is invalidated; the handler re-issues the caller's own cookie with the new token.
func (h *MeHandler) ChangePassword(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)

	var body changePasswordRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid request body")
	}
	if err := user.ValidatePassword(body.NewPassword); err != nil {
		return mapDomainError(c, err)
	}

	creds, err := h.users.GetCredentialsByID(c.Context(), userID)
	if err != nil {
		return mapDomainError(c, err)
	}
	if ok, err := cryptoutil.VerifyPassword(body.CurrentPassword, creds.PasswordHash); err != nil || !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthenticated, "Incorrect password")
	}

	hash, err := cryptoutil.HashPassword(body.NewPassword,
		h.cfg.Argon2Memory, h.cfg.Argon2Iterations, h.cfg.Argon2Parallelism, h.cfg.Argon2SaltLength, h.cfg.Argon2KeyLength)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to hash new password")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
	if err := h.users.UpdatePasswordHash(c.Context(), userID, hash); err != nil {
		return mapDomainError(c, err)
	}

	sessionToken, err := h.users.RotateSessionToken(c.Context(), userID)
	if err != nil {
		return mapDomainError(c, err)
	}

	ttl := time.Duration(h.cfg.SessionTimeoutHrs) * time.Hour
	cookieValue, err := session.Encode(userID, sessionToken, h.cfg.JWTSecret, ttl)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode session cookie after password change")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
	session.SetCookie(c, cookieValue, int(ttl.Seconds()), h.cfg.UseHTTPS)

	if err := h.auditRepo.RecordAccess(c.Context(), audit.RecordAccessParams{
		UserID:    &userID,
		Action:    audit.ActionPasswordChange,
		IPAddress: c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}); err != nil {
		h.log.Warn().Err(err).Msg("failed to record password change access log")
	}

	return httputil.Success(c, fiber.Map{
		"csrf_token": session.IssueCSRFToken(sessionToken, h.cfg.ServerSecret),
	})
}

type deleteAccountRequest struct {
	Password string `json:"password"`
}

// Delete handles DELETE /api/me.
func (h *MeHandler) Delete(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)

	var body deleteAccountRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid request body")
	}

	creds, err := h.users.GetCredentialsByID(c.Context(), userID)
	if err != nil {
		return mapDomainError(c, err)
	}
	if ok, err := cryptoutil.VerifyPassword(body.Password, creds.PasswordHash); err != nil || !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthenticated, "Incorrect password")
	}

	if err := h.users.Delete(c.Context(), userID); err != nil {
		return mapDomainError(c, err)
	}

	if err := h.auditRepo.RecordAccess(c.Context(), audit.RecordAccessParams{
		UserID:    &userID,
		Action:    audit.ActionAccountDeletion,
		IPAddress: c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}); err != nil {
		h.log.Warn().Err(err).Msg("failed to record account deletion access log")
	}

	session.ClearCookie(c)
	return c.SendStatus(fiber.StatusNoContent)
}

// ListAll handles GET /api/users.
func (h *MeHandler) ListAll(c fiber.Ctx) error {
	users, err := h.users.ListAll(c.Context())
	if err != nil {
		return mapDomainError(c, err)
	}
	return httputil.Success(c, toUserModels(users))
}

type onlineUser struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// ListOnline handles GET /api/users/online.
func (h *MeHandler) ListOnline(c fiber.Ctx) error {
	users, err := h.users.ListAll(c.Context())
	if err != nil {
		return mapDomainError(c, err)
	}

	ids := make([]uuid.UUID, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	states, err := h.presence.GetMany(c.Context(), ids)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to read presence state")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}

	online := make([]onlineUser, len(states))
	for i, s := range states {
		online[i] = onlineUser{UserID: s.UserID.String(), Status: s.Status}
	}
	return httputil.Success(c, online)
}

package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/twbeatles/intranet-messenger/internal/audit"
	"github.com/twbeatles/intranet-messenger/internal/config"
	"github.com/twbeatles/intranet-messenger/internal/cryptoutil"
	"github.com/twbeatles/intranet-messenger/internal/httputil"
	"github.com/twbeatles/intranet-messenger/internal/session"
	"github.com/twbeatles/intranet-messenger/internal/statestore"
	"github.com/twbeatles/intranet-messenger/internal/user"
)

// mfaTicketTTL bounds how long a password-verified-but-not-yet-second-factored login stays pending.
const mfaTicketTTL = 5 * time.Minute

const mfaTicketKeyPrefix = "mfa_ticket:"

// AuthHandler serves the unauthenticated auth surface: register, login (including the two-phase TOTP flow), and
// logout.
type AuthHandler struct {
	users     user.Repository
	auditRepo audit.Repository
	store     *statestore.Store
	cfg       *config.Config
	log       zerolog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(users user.Repository, auditRepo audit.Repository, store *statestore.Store, cfg *config.Config, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{users: users, auditRepo: auditRepo, store: store, cfg: cfg, log: logger}
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register handles POST /api/register.
func (h *AuthHandler) Register(c fiber.Ctx) error {
	var body registerRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid request body")
	}

	if err := user.ValidateUsername(body.Username); err != nil {
		return mapDomainError(c, err)
	}
	if err := user.ValidatePassword(body.Password); err != nil {
		return mapDomainError(c, err)
	}

	hash, err := cryptoutil.HashPassword(body.Password, h.cfg.Argon2Memory, h.cfg.Argon2Iterations, h.cfg.Argon2Parallelism, h.cfg.Argon2SaltLength, h.cfg.Argon2KeyLength)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to hash password during registration")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}

	userID, err := h.users.Create(c.Context(), user.CreateParams{Username: body.Username, PasswordHash: hash})
	if err != nil {
		return mapDomainError(c, err)
	}

	h.recordAccess(c, &userID, audit.ActionRegister)

	u, err := h.users.GetByID(c.Context(), userID)
	if err != nil {
		return mapDomainError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, toUserModel(u))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Ticket   string `json:"ticket"`
	Code     string `json:"code"`
}

type loginResponse struct {
	MFARequired bool       `json:"mfa_required"`
	Ticket      string     `json:"ticket,omitempty"`
	User        *userModel `json:"user,omitempty"`
	CSRFToken   string     `json:"csrf_token,omitempty"`
}

// Login handles POST /api/login. With FEATURE_MFA_ENABLED and a user that has TOTP enabled, the first call (password
// only) returns an MFA ticket instead of a session; the client resubmits with {ticket, code} to complete login.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	var body loginRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid request body")
	}

	if body.Ticket != "" {
		return h.completeMFALogin(c, body.Ticket, body.Code)
	}

	if body.Username == "" || body.Password == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, "username and password are required")
	}

	creds, err := h.users.GetByUsername(c.Context(), body.Username)
	if err != nil {
		h.recordAccess(c, nil, audit.ActionLogin)
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthenticated, "Invalid username or password")
	}

	match, err := cryptoutil.VerifyPassword(body.Password, creds.PasswordHash)
	if err != nil || !match {
		h.recordAccess(c, &creds.ID, audit.ActionLogin)
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthenticated, "Invalid username or password")
	}

	if cryptoutil.NeedsRehash(creds.PasswordHash, h.cfg.Argon2Memory, h.cfg.Argon2Iterations, h.cfg.Argon2Parallelism, h.cfg.Argon2SaltLength, h.cfg.Argon2KeyLength) {
		if rehashed, err := cryptoutil.HashPassword(body.Password, h.cfg.Argon2Memory, h.cfg.Argon2Iterations, h.cfg.Argon2Parallelism, h.cfg.Argon2SaltLength, h.cfg.Argon2KeyLength); err == nil {
			if err := h.users.UpdatePasswordHash(c.Context(), creds.ID, rehashed); err != nil {
				h.log.Warn().Err(err).Str("user_id", creds.ID.String()).Msg("failed to rehash password with updated parameters")
			}
		}
	}

	if h.cfg.FeatureMFAEnabled && creds.MFAEnabled {
		ticket, err := h.createMFATicket(c.Context(), creds.ID)
		if err != nil {
			h.log.Error().Err(err).Msg("failed to create MFA ticket")
			return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
		}
		return httputil.Success(c, loginResponse{MFARequired: true, Ticket: ticket})
	}

	return h.issueSession(c, creds.ID)
}

// completeMFALogin consumes a pending ticket and validates the TOTP (or recovery) code before issuing a session.
func (h *AuthHandler) completeMFALogin(c fiber.Ctx, ticket, code string) error {
	userID, err := h.consumeMFATicket(c.Context(), ticket)
	if err != nil {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthenticated, "MFA ticket is invalid or has expired")
	}

	creds, err := h.users.GetCredentialsByID(c.Context(), userID)
	if err != nil {
		return mapDomainError(c, err)
	}

	ok, err := verifyMFACode(c.Context(), h.users, h.cfg, creds, code)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to verify MFA code")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthenticated, "Invalid MFA code")
	}

	return h.issueSession(c, userID)
}

// issueSession rotates the session token, signs and sets the session cookie, records the login, and returns the
// CSRF token the client must echo back on state-changing requests.
func (h *AuthHandler) issueSession(c fiber.Ctx, userID uuid.UUID) error {
	sessionToken, err := h.users.RotateSessionToken(c.Context(), userID)
	if err != nil {
		return mapDomainError(c, err)
	}

	ttl := time.Duration(h.cfg.SessionTimeoutHrs) * time.Hour
	cookieValue, err := session.Encode(userID, sessionToken, h.cfg.JWTSecret, ttl)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode session cookie")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
	session.SetCookie(c, cookieValue, int(ttl.Seconds()), h.cfg.UseHTTPS)

	if err := h.users.SetStatus(c.Context(), userID, user.StatusOnline); err != nil {
		h.log.Warn().Err(err).Str("user_id", userID.String()).Msg("failed to mark user online at login")
	}

	h.recordAccess(c, &userID, audit.ActionLogin)

	u, err := h.users.GetByID(c.Context(), userID)
	if err != nil {
		return mapDomainError(c, err)
	}

	return httputil.Success(c, loginResponse{
		User:      toUserModel(u),
		CSRFToken: session.IssueCSRFToken(sessionToken, h.cfg.ServerSecret),
	})
}

// Logout handles POST /api/logout. It is exempt from RequireSession so a stale or already-superseded cookie can
// still be cleared; when a session is present its access log entry is recorded.
func (h *AuthHandler) Logout(c fiber.Ctx) error {
	if raw := c.Cookies(session.CookieName); raw != "" {
		if claims, err := session.Decode(raw, h.cfg.JWTSecret); err == nil {
			userID := claims.UserID()
			if err := h.users.SetStatus(c.Context(), userID, user.StatusOffline); err != nil {
				h.log.Warn().Err(err).Str("user_id", userID.String()).Msg("failed to mark user offline at logout")
			}
			h.recordAccess(c, &userID, audit.ActionLogout)
		}
	}
	session.ClearCookie(c)
	return httputil.Success(c, fiber.Map{"message": "Logged out"})
}

func (h *AuthHandler) recordAccess(c fiber.Ctx, userID *uuid.UUID, action audit.AccessAction) {
	if err := h.auditRepo.RecordAccess(c.Context(), audit.RecordAccessParams{
		UserID:    userID,
		Action:    action,
		IPAddress: c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}); err != nil {
		h.log.Warn().Err(err).Str("action", string(action)).Msg("failed to record access log")
	}
}

func (h *AuthHandler) createMFATicket(ctx context.Context, userID uuid.UUID) (string, error) {
	ticket := uuid.New().String()
	if err := h.store.Set(ctx, mfaTicketKeyPrefix+ticket, userID.String(), mfaTicketTTL); err != nil {
		return "", err
	}
	return ticket, nil
}

func (h *AuthHandler) consumeMFATicket(ctx context.Context, ticket string) (uuid.UUID, error) {
	raw, ok := h.store.GetAndDelete(ctx, mfaTicketKeyPrefix+ticket)
	if !ok {
		return uuid.UUID{}, user.ErrNotFound
	}
	return uuid.Parse(raw)
}

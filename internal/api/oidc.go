package api

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/twbeatles/intranet-messenger/internal/audit"
	"github.com/twbeatles/intranet-messenger/internal/config"
	"github.com/twbeatles/intranet-messenger/internal/cryptoutil"
	"github.com/twbeatles/intranet-messenger/internal/oidc"
	"github.com/twbeatles/intranet-messenger/internal/session"
	"github.com/twbeatles/intranet-messenger/internal/sso"
	"github.com/twbeatles/intranet-messenger/internal/statestore"
	"github.com/twbeatles/intranet-messenger/internal/user"
)

// OIDCHandler serves the optional identity-bridge login redirect and its callback. endpoints and keys are resolved
// once at startup (discovery, if configured, has already run by the time requests arrive) since a provider's
// endpoints and signing keys do not change within a process lifetime worth re-fetching per request.
type OIDCHandler struct {
	cfg        *config.Config
	endpoints  oidc.Endpoints
	keys       *oidc.KeySet
	users      user.Repository
	identities sso.Repository
	auditRepo  audit.Repository
	store      *statestore.Store
	log        zerolog.Logger
}

// NewOIDCHandler creates a new OIDC handler.
func NewOIDCHandler(cfg *config.Config, endpoints oidc.Endpoints, keys *oidc.KeySet, users user.Repository, identities sso.Repository, auditRepo audit.Repository, store *statestore.Store, logger zerolog.Logger) *OIDCHandler {
	return &OIDCHandler{cfg: cfg, endpoints: endpoints, keys: keys, users: users, identities: identities, auditRepo: auditRepo, store: store, log: logger}
}

// Login handles GET /auth/oidc/login. It redirects the browser straight to the provider's authorize endpoint.
func (h *OIDCHandler) Login(c fiber.Ctx) error {
	if !h.cfg.OIDCConfigured() {
		return mapDomainError(c, oidc.ErrNotConfigured)
	}

	authorizeURL, err := oidc.BeginAuthorization(c.Context(), h.store, h.endpoints, h.cfg.OIDCClientID, h.cfg.OIDCRedirectURI, h.cfg.OIDCScope)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to begin OIDC authorization")
		return c.Redirect().Status(fiber.StatusFound).To("/")
	}
	return c.Redirect().Status(fiber.StatusFound).To(authorizeURL)
}

// Callback handles GET /auth/oidc/callback?code=&state=. On any failure it redirects home rather than surfacing
// a JSON error, since the browser arrived here via a full-page redirect from the provider, not an XHR the client
// script can inspect.
func (h *OIDCHandler) Callback(c fiber.Ctx) error {
	if !h.cfg.OIDCConfigured() {
		return c.Redirect().Status(fiber.StatusFound).To("/")
	}

	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		return c.Redirect().Status(fiber.StatusFound).To("/")
	}

	nonce, err := oidc.ConsumeState(c.Context(), h.store, state)
	if err != nil {
		h.log.Warn().Err(err).Msg("OIDC callback presented an unknown or expired state")
		return c.Redirect().Status(fiber.StatusFound).To("/")
	}

	_, idToken, err := oidc.ExchangeCode(c.Context(), h.endpoints.TokenURL, h.cfg.OIDCClientID, h.cfg.OIDCClientSecret, h.cfg.OIDCRedirectURI, code)
	if err != nil {
		h.log.Warn().Err(err).Msg("OIDC token exchange failed")
		return c.Redirect().Status(fiber.StatusFound).To("/")
	}

	claims, err := oidc.ValidateIDToken(c.Context(), h.keys, idToken, h.endpoints.Issuer, h.cfg.OIDCClientID, nonce)
	if err != nil {
		h.log.Warn().Err(err).Msg("OIDC id_token failed validation")
		return c.Redirect().Status(fiber.StatusFound).To("/")
	}

	userinfo, err := oidc.FetchUserinfo(c.Context(), h.endpoints.UserinfoURL, idToken)
	if err == nil {
		if mismatchErr := oidc.MatchUserinfoSub(claims.Subject, userinfo); mismatchErr != nil {
			h.log.Warn().Err(mismatchErr).Msg("OIDC userinfo sub mismatch")
			return c.Redirect().Status(fiber.StatusFound).To("/")
		}
	} else {
		h.log.Warn().Err(err).Msg("failed to fetch OIDC userinfo; continuing on id_token claims alone")
	}

	provider := h.cfg.OIDCProviderName
	userID, err := h.identities.FindUser(c.Context(), provider, claims.Subject)
	if err != nil {
		if userID, err = h.provisionUser(c, userinfo, claims.Subject); err != nil {
			h.log.Error().Err(err).Msg("failed to provision local user for OIDC identity")
			return c.Redirect().Status(fiber.StatusFound).To("/")
		}
		if err := h.identities.Link(c.Context(), provider, claims.Subject, userID); err != nil {
			h.log.Error().Err(err).Msg("failed to link OIDC identity")
			return c.Redirect().Status(fiber.StatusFound).To("/")
		}
	}

	if err := h.issueSession(c, userID); err != nil {
		h.log.Error().Err(err).Msg("failed to issue session after OIDC login")
		return c.Redirect().Status(fiber.StatusFound).To("/")
	}
	return c.Redirect().Status(fiber.StatusFound).To("/")
}

var nonUsernameChars = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// provisionUser creates a local account for a first-time OIDC sign-in, deriving a username candidate from the
// provider's preferred_username (falling back to the email local part) and disambiguating on collision. The
// password hash is unusable: password login stays closed for an SSO-provisioned account.
func (h *OIDCHandler) provisionUser(c fiber.Ctx, userinfo *oidc.UserinfoClaims, subject string) (uuid.UUID, error) {
	candidate := subject
	if userinfo != nil {
		if userinfo.PreferredUsername != "" {
			candidate = userinfo.PreferredUsername
		} else if userinfo.Email != "" {
			candidate = strings.SplitN(userinfo.Email, "@", 2)[0]
		}
	}
	candidate = nonUsernameChars.ReplaceAllString(candidate, "_")
	if len(candidate) > 20 {
		candidate = candidate[:20]
	}
	for len(candidate) < 3 {
		candidate += "_"
	}

	unusablePassword, err := randomHex(32)
	if err != nil {
		return uuid.Nil, err
	}
	hash, err := cryptoutil.HashPassword(unusablePassword, h.cfg.Argon2Memory, h.cfg.Argon2Iterations, h.cfg.Argon2Parallelism, h.cfg.Argon2SaltLength, h.cfg.Argon2KeyLength)
	if err != nil {
		return uuid.Nil, fmt.Errorf("hash placeholder password: %w", err)
	}

	username := candidate
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			suffix, err := randomHex(3)
			if err != nil {
				return uuid.Nil, err
			}
			username = truncateUsername(candidate, suffix)
		}
		if err := user.ValidateUsername(username); err != nil {
			continue
		}
		userID, err := h.users.Create(c.Context(), user.CreateParams{Username: username, PasswordHash: hash})
		if err == nil {
			return userID, nil
		}
		if !errors.Is(err, user.ErrUsernameTaken) {
			return uuid.Nil, err
		}
	}
	return uuid.Nil, user.ErrUsernameTaken
}

func truncateUsername(base, suffix string) string {
	maxBase := 20 - len(suffix) - 1
	if maxBase < 1 {
		maxBase = 1
	}
	if len(base) > maxBase {
		base = base[:maxBase]
	}
	return base + "_" + suffix
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random value: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// issueSession mirrors AuthHandler.issueSession, minus the password-login response shape the browser redirect
// flow here has no use for.
func (h *OIDCHandler) issueSession(c fiber.Ctx, userID uuid.UUID) error {
	sessionToken, err := h.users.RotateSessionToken(c.Context(), userID)
	if err != nil {
		return err
	}

	ttl := time.Duration(h.cfg.SessionTimeoutHrs) * time.Hour
	cookieValue, err := session.Encode(userID, sessionToken, h.cfg.JWTSecret, ttl)
	if err != nil {
		return fmt.Errorf("encode session cookie: %w", err)
	}
	session.SetCookie(c, cookieValue, int(ttl.Seconds()), h.cfg.UseHTTPS)

	if err := h.users.SetStatus(c.Context(), userID, user.StatusOnline); err != nil {
		h.log.Warn().Err(err).Str("user_id", userID.String()).Msg("failed to mark user online at OIDC login")
	}

	if err := h.auditRepo.RecordAccess(c.Context(), audit.RecordAccessParams{
		UserID:    &userID,
		Action:    audit.ActionLogin,
		IPAddress: c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}); err != nil {
		h.log.Warn().Err(err).Msg("failed to record OIDC login access log")
	}
	return nil
}

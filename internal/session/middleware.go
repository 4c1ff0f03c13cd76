package session

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/twbeatles/intranet-messenger/internal/httputil"
)

// LocalsUserID is the fiber.Ctx Locals key under which RequireSession stores the authenticated user's ID.
const LocalsUserID = "session_user_id"

// LocalsSessionToken is the fiber.Ctx Locals key under which RequireSession stores the session token presented in the
// cookie, for handlers (password change, logout) that need to rotate or compare it.
const LocalsSessionToken = "session_token"

// TokenLookup resolves the session_token currently stored on a user's row. Satisfied by the user repository.
type TokenLookup interface {
	CurrentSessionToken(ctx context.Context, userID uuid.UUID) (string, error)
}

// Config configures the RequireSession middleware.
type Config struct {
	Secret string
	Lookup TokenLookup
}

// RequireSession returns Fiber middleware enforcing the single-active-session policy: the cookie must decode, and its
// embedded session_token must match the value currently stored on the user's row. A mismatch means a later login (or
// a password change) superseded this session, so the request is rejected and the stale cookie cleared.
func RequireSession(cfg Config) fiber.Handler {
	return func(c fiber.Ctx) error {
		raw := c.Cookies(CookieName)
		if raw == "" {
			return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthenticated, "No active session")
		}

		claims, err := Decode(raw, cfg.Secret)
		if err != nil {
			clearCookie(c)
			if errors.Is(err, jwt.ErrTokenExpired) {
				return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthenticated, "Session expired")
			}
			return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthenticated, "Invalid session")
		}

		current, err := cfg.Lookup.CurrentSessionToken(c.Context(), claims.UserID())
		if err != nil {
			clearCookie(c)
			return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthenticated, "Invalid session")
		}

		if current == "" || current != claims.SessionToken {
			clearCookie(c)
			return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthenticated, "Session superseded by a newer login")
		}

		c.Locals(LocalsUserID, claims.UserID())
		c.Locals(LocalsSessionToken, claims.SessionToken)
		return c.Next()
	}
}

// SetCookie writes the signed session cookie. secure should be true iff the server is running behind TLS.
func SetCookie(c fiber.Ctx, value string, maxAgeSeconds int, secure bool) {
	c.Cookie(&fiber.Cookie{
		Name:     CookieName,
		Value:    value,
		MaxAge:   maxAgeSeconds,
		HTTPOnly: true,
		Secure:   secure,
		SameSite: "Lax",
		Path:     "/",
	})
}

func clearCookie(c fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     CookieName,
		Value:    "",
		MaxAge:   -1,
		HTTPOnly: true,
		SameSite: "Lax",
		Path:     "/",
	})
}

// ClearCookie removes the session cookie, used on logout.
func ClearCookie(c fiber.Ctx) {
	clearCookie(c)
}

// UserIDFromContext extracts the authenticated user ID stored by RequireSession. Panics if called outside a route
// protected by RequireSession, since that is a programming error, not a runtime condition.
func UserIDFromContext(c fiber.Ctx) uuid.UUID {
	return c.Locals(LocalsUserID).(uuid.UUID)
}

// SessionTokenFromContext extracts the session token presented in the current request's cookie.
func SessionTokenFromContext(c fiber.Ctx) string {
	return c.Locals(LocalsSessionToken).(string)
}

// IsExemptPath reports whether path matches one of the allowlisted endpoints that do not require an active session:
// login, register, logout, public config, auth-provider discovery, OIDC callbacks, and static assets. GET /api/me is
// deliberately NOT exempt here even though it tolerates a missing session: it is mounted outside the RequireSession
// group entirely (see cmd/messenger) and decodes its own cookie, since it must keep working for a logged-out client
// without ever 401ing.
func IsExemptPath(path string) bool {
	exempt := []string{
		"/api/login",
		"/api/register",
		"/api/logout",
		"/api/config",
		"/api/auth/providers",
		"/auth/oidc/",
		"/static/",
	}
	for _, prefix := range exempt {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

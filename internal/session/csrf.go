package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/twbeatles/intranet-messenger/internal/httputil"
)

// CSRFHeader is the header a client must echo back the issued CSRF token in on state-changing requests.
const CSRFHeader = "X-CSRF-Token"

// methodsRequiringCSRF are the state-changing HTTP methods that must carry a valid CSRF token, per the external
// interface contract. GET/HEAD/OPTIONS never require one.
var methodsRequiringCSRF = map[string]bool{
	fiber.MethodPost:   true,
	fiber.MethodPut:    true,
	fiber.MethodPatch:  true,
	fiber.MethodDelete: true,
}

// IssueCSRFToken derives a CSRF token bound to the given session token, so a token issued for one session cannot be
// replayed against another. The token is an HMAC-SHA256 of the session token under the server secret, hex-encoded.
func IssueCSRFToken(sessionToken, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(sessionToken))
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateCSRFToken reports whether token was issued for sessionToken under secret, using a constant-time comparison.
func ValidateCSRFToken(token, sessionToken, secret string) bool {
	if token == "" {
		return false
	}
	want := IssueCSRFToken(sessionToken, secret)
	return hmac.Equal([]byte(token), []byte(want))
}

// RequireCSRF returns Fiber middleware that validates the CSRF header on state-changing requests. It must run after
// RequireSession, since it needs the session token stored in Locals to recompute the expected token. Paths in
// IsExemptPath never require CSRF either, since they are exempt from the session check that would make a token
// available in the first place.
func RequireCSRF(secret string) fiber.Handler {
	return func(c fiber.Ctx) error {
		if !methodsRequiringCSRF[c.Method()] || IsExemptPath(strings.TrimRight(c.Path(), "/")) {
			return c.Next()
		}

		sessionToken := SessionTokenFromContext(c)
		presented := c.Get(CSRFHeader)

		if !ValidateCSRFToken(presented, sessionToken, secret) {
			return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeCSRFInvalid, "Missing or invalid CSRF token")
		}
		return c.Next()
	}
}

// Package session implements the server-side session layer: an opaque signed cookie binding a user to the
// session_token stored on their User row, single-active-session enforcement, and CSRF token issuance/validation for
// state-changing HTTP calls.
package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CookieName is the name of the cookie carrying the signed session value.
const CookieName = "session"

// Claims is the payload embedded in the session cookie. SessionToken is compared against the current value stored on
// the user's row on every authenticated request; a mismatch means the session has been superseded by a later login or
// a password change and must be rejected (single-active-session policy).
type Claims struct {
	jwt.RegisteredClaims
	SessionToken string `json:"sid"`
}

// Encode signs a session cookie value binding userID to sessionToken, valid for ttl.
func Encode(userID uuid.UUID, sessionToken, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("session secret must not be empty")
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		SessionToken: sessionToken,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign session cookie: %w", err)
	}
	return signed, nil
}

// Decode parses and validates a session cookie value, returning the embedded claims.
func Decode(value, secret string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid session cookie")
	}

	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, fmt.Errorf("invalid session subject: %w", err)
	}

	return claims, nil
}

// UserID returns the user ID encoded in the claims. Decode already validated that Subject parses as a UUID.
func (c *Claims) UserID() uuid.UUID {
	id, _ := uuid.Parse(c.Subject)
	return id
}

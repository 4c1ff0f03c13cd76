package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

type fakeLookup struct {
	tokens map[uuid.UUID]string
}

func (f *fakeLookup) CurrentSessionToken(_ context.Context, userID uuid.UUID) (string, error) {
	token, ok := f.tokens[userID]
	if !ok {
		return "", errors.New("user not found")
	}
	return token, nil
}

const testSecret = "test-secret"

func newTestApp(lookup TokenLookup) *fiber.App {
	app := fiber.New()
	app.Use(RequireSession(Config{Secret: testSecret, Lookup: lookup}))
	app.Get("/test", func(c fiber.Ctx) error {
		return c.SendString(UserIDFromContext(c).String())
	})
	return app
}

func TestRequireSession_noCookie(t *testing.T) {
	t.Parallel()
	app := newTestApp(&fakeLookup{tokens: map[uuid.UUID]string{}})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
}

func TestRequireSession_valid(t *testing.T) {
	t.Parallel()
	userID := uuid.New()
	lookup := &fakeLookup{tokens: map[uuid.UUID]string{userID: "current-token"}}
	app := newTestApp(lookup)

	value, err := Encode(userID, "current-token", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: value})
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
}

func TestRequireSession_staleTokenRejected(t *testing.T) {
	t.Parallel()
	userID := uuid.New()
	// The stored token has since been rotated by a newer login.
	lookup := &fakeLookup{tokens: map[uuid.UUID]string{userID: "new-token"}}
	app := newTestApp(lookup)

	value, err := Encode(userID, "stale-token", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: value})
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
}

func TestRequireSession_unknownUserRejected(t *testing.T) {
	t.Parallel()
	lookup := &fakeLookup{tokens: map[uuid.UUID]string{}}
	app := newTestApp(lookup)

	value, err := Encode(uuid.New(), "token", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: value})
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
}

func TestIsExemptPath(t *testing.T) {
	t.Parallel()
	cases := []struct {
		path string
		want bool
	}{
		{"/api/login", true},
		{"/api/register", true},
		{"/api/logout", true},
		{"/api/config", true},
		{"/api/auth/providers", true},
		{"/auth/oidc/callback", true},
		{"/static/app.js", true},
		{"/api/rooms", false},
		{"/api/me", false},
	}
	for _, tc := range cases {
		if got := IsExemptPath(tc.path); got != tc.want {
			t.Errorf("IsExemptPath(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

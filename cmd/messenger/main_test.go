package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/twbeatles/intranet-messenger/internal/httputil"
)

// TestUnknownRouteReturns404 verifies that requests to undefined paths receive a 404 JSON response. Fiber v3 treats
// app.Use() middleware as a route match, so without the catch-all handler at the end of registerRoutes the router
// would answer unmatched paths with 200 and an empty body.
func TestUnknownRouteReturns404(t *testing.T) {
	t.Parallel()

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			code := httputil.CodeInternal
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
				message = fe.Message
				code = fiberStatusToCode(fe.Code)
			}
			return httputil.Fail(c, status, code, message)
		},
	})

	// Register middleware so the router has app.Use() handlers matching every path, reproducing the condition that
	// makes Fiber v3 treat unmatched requests as handled.
	app.Use(func(c fiber.Ctx) error {
		return c.Next()
	})

	app.Get("/known", func(c fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	// Catch-all: mirrors the handler at the end of registerRoutes.
	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})

	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown path", "/no-such-route", fiber.StatusNotFound},
		{"favicon", "/favicon.ico", fiber.StatusNotFound},
		{"known path", "/known", fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}

			if tt.want == fiber.StatusNotFound {
				body, err := io.ReadAll(resp.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				var env struct {
					Code string `json:"code"`
				}
				if err := json.Unmarshal(body, &env); err != nil {
					t.Fatalf("unmarshal error response: %v", err)
				}
				if env.Code != string(httputil.CodeNotFound) {
					t.Errorf("code = %q, want %q", env.Code, httputil.CodeNotFound)
				}
			}
		})
	}
}

func TestFiberStatusToCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		want   httputil.Code
	}{
		{"not found", fiber.StatusNotFound, httputil.CodeNotFound},
		{"method not allowed", fiber.StatusMethodNotAllowed, httputil.CodeValidation},
		{"too many requests", fiber.StatusTooManyRequests, httputil.CodeRateLimited},
		{"request entity too large", fiber.StatusRequestEntityTooLarge, httputil.CodePayloadTooLarge},
		{"generic 4xx falls back to validation error", fiber.StatusConflict, httputil.CodeValidation},
		{"another 4xx", fiber.StatusGone, httputil.CodeValidation},
		{"5xx falls back to internal error", fiber.StatusInternalServerError, httputil.CodeInternal},
		{"502 falls back to internal error", fiber.StatusBadGateway, httputil.CodeInternal},
		{"unknown status falls back to internal error", 600, httputil.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := fiberStatusToCode(tt.status)
			if got != tt.want {
				t.Errorf("fiberStatusToCode(%d) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

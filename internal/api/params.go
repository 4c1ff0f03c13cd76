package api

import (
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/twbeatles/intranet-messenger/internal/httputil"
)

// parseUUIDParam parses the named path parameter as a UUID, writing a 400 response and returning ok=false on
// failure so callers can return immediately.
func parseUUIDParam(c fiber.Ctx, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		_ = httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidID, "Invalid "+name)
		return uuid.UUID{}, false
	}
	return id, true
}

// queryInt parses a query parameter as an integer, falling back to def when absent. ok is false and a 400 response
// has already been written when the value is present but not a valid integer.
func queryInt(c fiber.Ctx, name string, def int, code httputil.Code, message string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		_ = httputil.Fail(c, fiber.StatusBadRequest, code, message)
		return 0, false
	}
	return n, true
}

// optionalUUIDQuery parses a non-empty query parameter as a UUID pointer, or returns nil when the query parameter is
// absent.
func optionalUUIDQuery(c fiber.Ctx, name string) (*uuid.UUID, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		_ = httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidID, "Invalid "+name)
		return nil, false
	}
	return &id, true
}

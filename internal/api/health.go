package api

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/twbeatles/intranet-messenger/internal/httputil"
	"github.com/twbeatles/intranet-messenger/internal/statestore"
)

// DBPinger is the slice of the connection pool the health check needs. Satisfied by *pgxpool.Pool.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the unauthenticated liveness/readiness endpoint.
type HealthHandler struct {
	db    DBPinger
	store *statestore.Store
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db DBPinger, store *statestore.Store) *HealthHandler {
	return &HealthHandler{db: db, store: store}
}

// Check handles GET /healthz. It reports the database and state-store backend status without requiring a session,
// since orchestrators probing liveness have no cookie to present.
func (h *HealthHandler) Check(c fiber.Ctx) error {
	status := fiber.Map{
		"status":        "ok",
		"redis_enabled": h.store.RedisEnabled(),
	}

	if err := h.db.Ping(c.Context()); err != nil {
		status["status"] = "degraded"
		status["database"] = "unreachable"
		return httputil.Raw(c, fiber.StatusServiceUnavailable, status)
	}
	status["database"] = "ok"
	return httputil.Raw(c, fiber.StatusOK, status)
}

package api

import (
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/twbeatles/intranet-messenger/internal/gateway"
	"github.com/twbeatles/intranet-messenger/internal/session"
)

// GatewayHandler serves the WebSocket upgrade endpoint for the realtime gateway. The route this is mounted on must
// run session.RequireSession first, since the user id and session token it reads out of Locals are what lets the
// Hub attribute frames to a session and fan out presence correctly.
type GatewayHandler struct {
	hub *gateway.Hub
}

// NewGatewayHandler creates a new gateway handler.
func NewGatewayHandler(hub *gateway.Hub) *GatewayHandler {
	return &GatewayHandler{hub: hub}
}

// Upgrade handles GET /api/gateway.
func (h *GatewayHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	userID := session.UserIDFromContext(c)
	sessionToken := session.SessionTokenFromContext(c)

	return websocket.New(func(conn *websocket.Conn) {
		h.hub.ServeWebSocket(conn.Conn, userID, sessionToken)
	})(c)
}

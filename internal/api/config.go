package api

import (
	"github.com/gofiber/fiber/v3"

	"github.com/twbeatles/intranet-messenger/internal/config"
	"github.com/twbeatles/intranet-messenger/internal/httputil"
)

// ConfigHandler serves the public, environment-derived configuration snapshot and OIDC provider discovery. Unlike
// the teacher's server.Repository-backed config, nothing here is mutable at runtime: every field is read straight
// off the process's config.Config.
type ConfigHandler struct {
	cfg *config.Config
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// Get handles GET /api/config (unauthenticated). Only fields safe to hand to an unauthenticated client are
// included; secrets and internal tuning knobs never leave the process.
func (h *ConfigHandler) Get(c fiber.Ctx) error {
	return httputil.Success(c, fiber.Map{
		"max_content_length":  h.cfg.MaxContentLength,
		"session_timeout_hrs": h.cfg.SessionTimeoutHrs,
		"mfa_enabled":         h.cfg.FeatureMFAEnabled,
		"oidc_enabled":        h.cfg.OIDCConfigured(),
	})
}

// Providers handles GET /api/auth/providers (unauthenticated). It reports whether OIDC single sign-on is available
// and, if so, under what display name, so the client can decide whether to show an SSO button.
func (h *ConfigHandler) Providers(c fiber.Ctx) error {
	if !h.cfg.OIDCConfigured() {
		return httputil.Success(c, fiber.Map{"oidc": false})
	}
	return httputil.Success(c, fiber.Map{
		"oidc":          true,
		"provider_name": h.cfg.OIDCProviderName,
	})
}

package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/teams-ticket-relay/internal/config"
	"github.com/spec-kit/teams-ticket-relay/internal/graph"
	"github.com/spec-kit/teams-ticket-relay/internal/observability"
	"github.com/spec-kit/teams-ticket-relay/internal/repository"
)

// DiagnosticsHandler reports masked configuration and runtime counters.
type DiagnosticsHandler struct {
	cfg        *config.Config
	metrics    *observability.Metrics
	tracked    repository.TrackedMessageRepository
	handshakes *graph.HandshakeTracker
}

// NewDiagnosticsHandler constructs handler.
func NewDiagnosticsHandler(cfg *config.Config, metrics *observability.Metrics, tracked repository.TrackedMessageRepository, handshakes *graph.HandshakeTracker) *DiagnosticsHandler {
	return &DiagnosticsHandler{cfg: cfg, metrics: metrics, tracked: tracked, handshakes: handshakes}
}

// Config GET /diagnostics/config.
func (h *DiagnosticsHandler) Config(c *fiber.Ctx) error {
	cfg := h.cfg
	return c.JSON(fiber.Map{"data": fiber.Map{
		"app": fiber.Map{
			"name":    cfg.App.Name,
			"env":     cfg.App.Env,
			"version": cfg.App.Version,
		},
		"graph": fiber.Map{
			"client_id":     mask(cfg.Graph.ClientID),
			"client_secret": mask(cfg.Graph.ClientSecret),
			"tenant_id":     mask(cfg.Graph.TenantID),
			"base_url":      cfg.Graph.BaseURL,
		},
		"notion": fiber.Map{
			"api_token":   mask(cfg.Notion.APIToken),
			"database_id": mask(cfg.Notion.DatabaseID),
			"version":     cfg.Notion.Version,
		},
		"approval": fiber.Map{
			"allowed_users": len(cfg.Approval.AllowedUsers),
			"reaction":      cfg.Approval.Reaction,
		},
		"webhook": fiber.Map{
			"notification_url": cfg.Webhook.NotificationURL,
			"client_state":     mask(cfg.Webhook.ClientState),
			"async":            cfg.Webhook.AsyncProcessing,
		},
		"subscription": fiber.Map{
			"default_resource":        cfg.Subscription.DefaultResource,
			"default_expiration_days": cfg.Subscription.DefaultExpirationDays,
			"auto_renew":              cfg.Subscription.AutoRenew,
			"check_interval_seconds":  cfg.Subscription.CheckInterval().Seconds(),
		},
		"poller": fiber.Map{
			"interval_seconds":  cfg.Poller.Interval().Seconds(),
			"retention_seconds": cfg.Poller.Retention().Seconds(),
		},
		"redis_enabled": cfg.Redis.Enabled(),
		"auth_enabled":  cfg.Auth.JWTSecret != "",
	}})
}

// Metrics GET /diagnostics/metrics.
func (h *DiagnosticsHandler) Metrics(c *fiber.Ctx) error {
	tracked, err := h.tracked.Count(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"metrics":            h.metrics.Snapshot(),
		"tracked_messages":   tracked,
		"pending_handshakes": h.handshakes.Len(),
	}})
}

// mask keeps the first and last two characters of longer secrets.
func mask(val string) string {
	switch {
	case val == "":
		return ""
	case len(val) <= 8:
		return "****"
	default:
		return val[:2] + "****" + val[len(val)-2:]
	}
}

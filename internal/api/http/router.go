package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/teams-ticket-relay/internal/api/http/handlers"
	"github.com/spec-kit/teams-ticket-relay/internal/auth"
	"github.com/spec-kit/teams-ticket-relay/internal/domain"
	"github.com/spec-kit/teams-ticket-relay/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Validation     *handlers.ValidationHandler
	Webhook        *handlers.WebhookHandler
	Subscriptions  *handlers.SubscriptionHandler
	Health         *handlers.HealthHandler
	KeepAlive      *handlers.KeepAliveHandler
	Diagnostics    *handlers.DiagnosticsHandler
	AuthMiddleware *auth.AuthMiddleware

	Logger         *zap.Logger
	Metrics        *observability.Metrics
	RequestTimeout time.Duration
}

// NewApp builds the fiber app with the validation paths ahead of every other middleware.
func NewApp(name string, cfg RouteConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               name,
		DisableStartupMessage: true,
	})

	// Handshake routes first: Graph gives the whole exchange two seconds.
	app.All("/graph/validate", cfg.Validation.GraphValidate)
	app.Use("/webhook", cfg.Validation.Middleware())

	RegisterMiddlewares(app, cfg.Logger, cfg.Metrics, cfg.RequestTimeout)
	RegisterRoutes(app, cfg)
	return app
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/", cfg.Health.Root)
	app.Get("/health", cfg.Health.Health)
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	webhook := app.Group("/webhook")
	webhook.Get("/validation", cfg.Webhook.Validation)
	webhook.Get("/lifecycle/validation", cfg.Webhook.Validation)
	webhook.Post("/notification", cfg.Webhook.Notification)
	webhook.Post("/lifecycle", cfg.Webhook.Lifecycle)
	app.Get("/webhook", cfg.Webhook.Root)
	app.Post("/webhook", cfg.Webhook.Root)

	app.Get("/pre-validation/test", cfg.Validation.PreValidationTest)
	app.Post("/pre-validation/test", cfg.Validation.PreValidationTest)

	keepAlive := app.Group("/keep-alive")
	keepAlive.Get("/ping", cfg.KeepAlive.Ping)
	keepAlive.Get("/warmup", cfg.KeepAlive.Warmup)
	keepAlive.Get("/status", cfg.KeepAlive.Status)

	admin := []fiber.Handler{cfg.AuthMiddleware.Handle, auth.RequireRole(domain.RoleAdmin)}

	subs := app.Group("/subscription", admin...)
	subs.Get("/list", cfg.Subscriptions.List)
	subs.Post("/create", cfg.Subscriptions.Create)
	subs.Post("/renew-all", cfg.Subscriptions.RenewAll)
	subs.Post("/renew/:id", cfg.Subscriptions.Renew)
	subs.Delete("/delete/:id", cfg.Subscriptions.Delete)
	subs.Post("/monitor/start", cfg.Subscriptions.StartMonitor)
	subs.Post("/monitor/stop", cfg.Subscriptions.StopMonitor)
	subs.Get("/monitor/status", cfg.Subscriptions.MonitorStatus)

	diagnostics := app.Group("/diagnostics", admin...)
	diagnostics.Get("/config", cfg.Diagnostics.Config)
	diagnostics.Get("/metrics", cfg.Diagnostics.Metrics)
}

package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/teams-ticket-relay/internal/api/dto"
	"github.com/spec-kit/teams-ticket-relay/internal/graph"
)

// TokenSource exposes the Graph token cache.
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
	TokenStatus() graph.TokenStatus
}

// StorePinger checks ticket store connectivity.
type StorePinger interface {
	Me(ctx context.Context) error
}

// KeepAliveHandler keeps outbound connections and tokens warm.
type KeepAliveHandler struct {
	tokens TokenSource
	store  StorePinger
	logger *zap.Logger
}

// NewKeepAliveHandler constructs handler.
func NewKeepAliveHandler(tokens TokenSource, store StorePinger, logger *zap.Logger) *KeepAliveHandler {
	return &KeepAliveHandler{tokens: tokens, store: store, logger: logger.Named("keep_alive")}
}

// Ping GET /keep-alive/ping.
func (h *KeepAliveHandler) Ping(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "message": "service is warm"})
}

// Warmup GET /keep-alive/warmup acquires a Graph token and pings the ticket store.
// With ?refresh=true the cached token is discarded and a new one is fetched.
func (h *KeepAliveHandler) Warmup(c *fiber.Ctx) error {
	ctx := c.UserContext()
	started := time.Now()
	refresh := c.QueryBool("refresh", false)
	resp := dto.WarmupResponse{Status: "ready", Services: make(map[string]dto.ServiceWarmup, 2)}

	resp.Services["graph"] = h.warm("graph", func() error {
		if refresh {
			_, err := h.tokens.RefreshToken(ctx)
			return err
		}
		_, err := h.tokens.GetToken(ctx)
		return err
	})
	resp.Services["notion"] = h.warm("notion", func() error {
		return h.store.Me(ctx)
	})
	for _, svc := range resp.Services {
		if svc.Status != "ready" {
			resp.Status = "degraded"
		}
	}
	resp.TotalElapsed = millis(time.Since(started))
	return c.JSON(resp)
}

// Status GET /keep-alive/status.
func (h *KeepAliveHandler) Status(c *fiber.Ctx) error {
	status := h.tokens.TokenStatus()
	graphStatus := dto.TokenStatusResponse{TokenAvailable: status.Available}
	if status.Available {
		secs := int64(status.ExpiresIn.Seconds())
		graphStatus.ExpiresInSeconds = &secs
	}
	return c.JSON(fiber.Map{
		"status":   "checked",
		"services": fiber.Map{"graph": graphStatus},
	})
}

func (h *KeepAliveHandler) warm(name string, fn func() error) dto.ServiceWarmup {
	started := time.Now()
	err := fn()
	result := dto.ServiceWarmup{Status: "ready", ElapsedMs: millis(time.Since(started))}
	if err != nil {
		result.Status = "error"
		result.Error = err.Error()
		h.logger.Warn("warmup failed", zap.String("service", name), zap.Error(err))
		return result
	}
	h.logger.Info("warmup complete", zap.String("service", name), zap.Float64("elapsed_ms", result.ElapsedMs))
	return result
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

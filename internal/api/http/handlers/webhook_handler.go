package handlers

import (
	"bytes"
	"context"
	"sync"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/teams-ticket-relay/internal/domain"
	"github.com/spec-kit/teams-ticket-relay/internal/observability"
	"github.com/spec-kit/teams-ticket-relay/internal/service"
)

// BatchProcessor handles change notifications.
type BatchProcessor interface {
	HandleBatch(ctx context.Context, batch domain.NotificationBatch) []service.Outcome
}

// LifecycleProcessor handles subscription lifecycle events.
type LifecycleProcessor interface {
	HandleLifecycle(ctx context.Context, n domain.ChangeNotification)
}

// WebhookHandler receives Graph callbacks. It always acknowledges: Graph treats
// error statuses as delivery failures and eventually drops the subscription.
type WebhookHandler struct {
	processor BatchProcessor
	lifecycle LifecycleProcessor
	async     bool
	base      context.Context
	metrics   *observability.Metrics
	logger    *zap.Logger
	inflight  sync.WaitGroup
}

// NewWebhookHandler constructs handler. Async batches run under base, not the request context.
func NewWebhookHandler(base context.Context, processor BatchProcessor, lifecycle LifecycleProcessor, async bool, metrics *observability.Metrics, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		lifecycle: lifecycle,
		async:     async,
		base:      base,
		metrics:   metrics,
		logger:    logger.Named("webhook"),
	}
}

// Root GET|POST /webhook.
func (h *WebhookHandler) Root(c *fiber.Ctx) error {
	if token, ok := ValidationToken(c.Request().URI().QueryString()); ok {
		return sendToken(c, token)
	}
	return c.SendStatus(fiber.StatusNotFound)
}

// Validation GET /webhook/validation and /webhook/lifecycle/validation.
func (h *WebhookHandler) Validation(c *fiber.Ctx) error {
	if token, ok := ValidationToken(c.Request().URI().QueryString()); ok {
		return sendToken(c, token)
	}
	return c.Status(fiber.StatusBadRequest).SendString("missing validationToken")
}

// Notification POST /webhook/notification.
func (h *WebhookHandler) Notification(c *fiber.Ctx) error {
	if token, ok := ValidationToken(c.Request().URI().QueryString()); ok {
		return sendToken(c, token)
	}
	batch, ok := h.decode(c, "notification")
	if !ok {
		return accepted(c)
	}

	changes := domain.NotificationBatch{Value: make([]domain.ChangeNotification, 0, len(batch.Value))}
	lifecycle := make([]domain.ChangeNotification, 0)
	for _, n := range batch.Value {
		if n.LifecycleEvent != "" {
			lifecycle = append(lifecycle, n)
			continue
		}
		changes.Value = append(changes.Value, n)
	}
	h.metrics.Add("webhook.notifications", int64(len(changes.Value)))

	h.run(c.UserContext(), func(ctx context.Context) {
		for _, n := range lifecycle {
			h.lifecycle.HandleLifecycle(ctx, n)
		}
		if len(changes.Value) > 0 {
			h.processor.HandleBatch(ctx, changes)
		}
	})
	return accepted(c)
}

// Lifecycle POST /webhook/lifecycle.
func (h *WebhookHandler) Lifecycle(c *fiber.Ctx) error {
	if token, ok := ValidationToken(c.Request().URI().QueryString()); ok {
		return sendToken(c, token)
	}
	batch, ok := h.decode(c, "lifecycle")
	if !ok {
		return accepted(c)
	}
	h.metrics.Add("webhook.lifecycle", int64(len(batch.Value)))

	h.run(c.UserContext(), func(ctx context.Context) {
		for _, n := range batch.Value {
			h.lifecycle.HandleLifecycle(ctx, n)
		}
	})
	return accepted(c)
}

// Wait blocks until in-flight batches finish or ctx is done.
func (h *WebhookHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *WebhookHandler) decode(c *fiber.Ctx, kind string) (domain.NotificationBatch, bool) {
	var batch domain.NotificationBatch
	body := c.Body()
	if len(bytes.TrimSpace(body)) == 0 {
		h.logger.Debug("empty body acknowledged", zap.String("kind", kind))
		return batch, false
	}
	if err := c.App().Config().JSONDecoder(body, &batch); err != nil {
		h.metrics.Incr("webhook.parse_errors")
		h.logger.Warn("unparseable body acknowledged",
			zap.String("kind", kind),
			zap.String("request_id", observability.RequestID(c)),
			zap.Int("bytes", len(body)),
			zap.Error(err))
		return batch, false
	}
	return batch, len(batch.Value) > 0
}

func (h *WebhookHandler) run(reqCtx context.Context, work func(context.Context)) {
	if !h.async {
		work(reqCtx)
		return
	}
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("notification batch panicked", zap.Any("panic", r))
			}
		}()
		work(h.base)
	}()
}

func sendToken(c *fiber.Ctx, token string) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(fiber.StatusOK).SendString(token)
}

func accepted(c *fiber.Ctx) error {
	return c.Status(fiber.StatusAccepted).SendString("OK")
}

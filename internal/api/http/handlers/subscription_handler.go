package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/teams-ticket-relay/internal/api/dto"
	"github.com/spec-kit/teams-ticket-relay/internal/domain"
	"github.com/spec-kit/teams-ticket-relay/internal/service"
	"github.com/spec-kit/teams-ticket-relay/internal/worker"
	apperrors "github.com/spec-kit/teams-ticket-relay/pkg/util/errorutil"
)

// SubscriptionManager is the management surface of the subscription service.
type SubscriptionManager interface {
	List(ctx context.Context) ([]domain.Subscription, error)
	Create(ctx context.Context, in service.CreateSubscriptionInput) (*domain.Subscription, error)
	Renew(ctx context.Context, id string, days *float64) (*domain.Subscription, error)
	Delete(ctx context.Context, id string) error
	RenewAll(ctx context.Context, days *float64) (service.RenewalSummary, error)
}

// MonitorController starts and stops the renewal loop.
type MonitorController interface {
	Start(interval time.Duration) (worker.MonitorStatus, bool)
	Stop() (worker.MonitorStatus, bool)
	Status() worker.MonitorStatus
}

// SubscriptionHandler exposes subscription management endpoints.
type SubscriptionHandler struct {
	service SubscriptionManager
	monitor MonitorController
	now     func() time.Time
}

// NewSubscriptionHandler constructs handler.
func NewSubscriptionHandler(subscriptions SubscriptionManager, monitor MonitorController) *SubscriptionHandler {
	return &SubscriptionHandler{service: subscriptions, monitor: monitor, now: time.Now}
}

// List GET /subscription/list.
func (h *SubscriptionHandler) List(c *fiber.Ctx) error {
	subs, err := h.service.List(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data": dto.NewSubscriptionSummaries(subs, h.now()),
		"meta": fiber.Map{"count": len(subs)},
	})
}

// Create POST /subscription/create.
func (h *SubscriptionHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Resource) == "" {
		return apperrors.NewValidationError("resource required", nil)
	}

	sub, err := h.service.Create(c.UserContext(), service.CreateSubscriptionInput{
		Resource:       req.Resource,
		ChangeTypes:    req.ChangeTypes,
		ExpirationDays: req.ExpirationDays,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewSubscriptionSummary(*sub, h.now())})
}

// Renew POST /subscription/renew/:id.
func (h *SubscriptionHandler) Renew(c *fiber.Ctx) error {
	var req dto.RenewSubscriptionRequest
	if err := parseOptionalBody(c, &req); err != nil {
		return err
	}
	sub, err := h.service.Renew(c.UserContext(), c.Params("id"), req.ExpirationDays)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewSubscriptionSummary(*sub, h.now())})
}

// Delete DELETE /subscription/delete/:id.
func (h *SubscriptionHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.service.Delete(c.UserContext(), id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "deleted": true}})
}

// RenewAll POST /subscription/renew-all.
func (h *SubscriptionHandler) RenewAll(c *fiber.Ctx) error {
	var req dto.RenewSubscriptionRequest
	if err := parseOptionalBody(c, &req); err != nil {
		return err
	}
	summary, err := h.service.RenewAll(c.UserContext(), req.ExpirationDays)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": summary})
}

// StartMonitor POST /subscription/monitor/start.
func (h *SubscriptionHandler) StartMonitor(c *fiber.Ctx) error {
	var req dto.MonitorStartRequest
	if err := parseOptionalBody(c, &req); err != nil {
		return err
	}
	var interval time.Duration
	if req.CheckInterval != nil {
		if *req.CheckInterval <= 0 {
			return apperrors.NewValidationError("check_interval must be positive", nil)
		}
		interval = time.Duration(*req.CheckInterval) * time.Second
	}

	status, started := h.monitor.Start(interval)
	message := "renewal monitor started"
	if !started {
		message = "renewal monitor already running"
	}
	return c.JSON(fiber.Map{"data": status, "message": message})
}

// StopMonitor POST /subscription/monitor/stop.
func (h *SubscriptionHandler) StopMonitor(c *fiber.Ctx) error {
	status, stopped := h.monitor.Stop()
	message := "renewal monitor stopped"
	if !stopped {
		message = "renewal monitor not running"
	}
	return c.JSON(fiber.Map{"data": status, "message": message})
}

// MonitorStatus GET /subscription/monitor/status.
func (h *SubscriptionHandler) MonitorStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.monitor.Status()})
}

// parseOptionalBody treats an empty body as an empty request.
func parseOptionalBody(c *fiber.Ctx, out any) error {
	if len(strings.TrimSpace(string(c.Body()))) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return nil
}

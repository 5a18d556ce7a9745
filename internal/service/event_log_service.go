package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/teams-ticket-relay/internal/config"
	"github.com/spec-kit/teams-ticket-relay/internal/events"
	"github.com/spec-kit/teams-ticket-relay/internal/observability"
)

const eventWebhookTimeout = 5 * time.Second

// EventLogService records relay events and forwards them to an optional webhook.
type EventLogService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	cfg        config.NotificationConfig
	http       *http.Client
}

// NewEventLogService creates the service.
func NewEventLogService(dispatcher events.Dispatcher, logger *zap.Logger, metrics *observability.Metrics, cfg config.NotificationConfig, httpClient *http.Client) *EventLogService {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: eventWebhookTimeout}
	}
	return &EventLogService{
		dispatcher: dispatcher,
		logger:     logger.Named("events"),
		metrics:    metrics,
		cfg:        cfg,
		http:       httpClient,
	}
}

// RegisterHandlers subscribes to every relay event.
func (n *EventLogService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range events.AllEventTypes {
		n.dispatcher.Subscribe(eventType, n.handle)
	}
}

func (n *EventLogService) handle(ctx context.Context, event events.Event) error {
	n.metrics.Incr("events." + string(event.Type))
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("subject", event.Subject),
		zap.Any("payload", event.Payload),
	}
	switch event.Type {
	case events.EventTicketFailed, events.EventSubscriptionRenewalFailed, events.EventSubscriptionRemoved, events.EventNotificationsMissed:
		n.logger.Warn("relay event", fields...)
	default:
		n.logger.Info("relay event", fields...)
	}
	return n.forward(ctx, event)
}

func (n *EventLogService) forward(ctx context.Context, event events.Event) error {
	url := strings.TrimSpace(n.cfg.WebhookURL)
	if url == "" {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, eventWebhookTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build event webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		n.logger.Warn("event webhook failed", zap.String("event_id", event.ID), zap.Error(err))
		n.metrics.Incr("events.webhook_failed")
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.logger.Warn("event webhook rejected", zap.String("event_id", event.ID), zap.Int("status", resp.StatusCode))
		n.metrics.Incr("events.webhook_failed")
		return fmt.Errorf("event webhook returned %d", resp.StatusCode)
	}
	return nil
}

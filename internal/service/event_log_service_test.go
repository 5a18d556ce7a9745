package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/spec-kit/teams-ticket-relay/internal/config"
	"github.com/spec-kit/teams-ticket-relay/internal/events"
	"github.com/spec-kit/teams-ticket-relay/internal/observability"
)

func TestEventLogForwardsToWebhook(t *testing.T) {
	received := make(chan events.Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev events.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode: %v", err)
		}
		received <- ev
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	dispatcher := events.NewInMemoryDispatcher()
	metrics := observability.NewMetrics()
	NewEventLogService(dispatcher, zap.NewNop(), metrics, config.NotificationConfig{WebhookURL: srv.URL}, srv.Client()).RegisterHandlers()

	ev := events.NewEvent(events.EventTicketCreated, "M1", events.TicketPayload{MessageID: "M1", PageID: "page-1"})
	if err := dispatcher.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got := <-received
	if got.ID != ev.ID || got.Type != events.EventTicketCreated {
		t.Fatalf("unexpected forwarded event %+v", got)
	}
	if metrics.Counter("events.ticket_created") != 1 {
		t.Fatal("expected event counter")
	}
}

func TestEventLogReportsWebhookRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dispatcher := events.NewInMemoryDispatcher()
	metrics := observability.NewMetrics()
	NewEventLogService(dispatcher, zap.NewNop(), metrics, config.NotificationConfig{WebhookURL: srv.URL}, srv.Client()).RegisterHandlers()

	err := dispatcher.Publish(context.Background(), events.NewEvent(events.EventSubscriptionRemoved, "sub-1", events.SubscriptionPayload{SubscriptionID: "sub-1"}))
	if err == nil {
		t.Fatal("expected rejection to surface from publish")
	}
	if metrics.Counter("events.webhook_failed") != 1 {
		t.Fatal("expected failure counter")
	}
}

func TestEventLogWithoutWebhookOnlyLogs(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	NewEventLogService(dispatcher, zap.NewNop(), nil, config.NotificationConfig{}, nil).RegisterHandlers()
	if err := dispatcher.Publish(context.Background(), events.NewEvent(events.EventTicketDuplicate, "M2", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

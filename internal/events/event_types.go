package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated               EventType = "ticket_created"
	EventTicketDuplicate             EventType = "ticket_duplicate"
	EventTicketFailed                EventType = "ticket_failed"
	EventApprovalRejected            EventType = "approval_rejected"
	EventSubscriptionCreated         EventType = "subscription_created"
	EventSubscriptionRenewed         EventType = "subscription_renewed"
	EventSubscriptionRenewalFailed   EventType = "subscription_renewal_failed"
	EventSubscriptionRemoved         EventType = "subscription_removed"
	EventSubscriptionReauthorization EventType = "subscription_reauthorization_required"
	EventNotificationsMissed         EventType = "notifications_missed"
)

// AllEventTypes lists every type in publication order of importance.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketDuplicate,
	EventTicketFailed,
	EventApprovalRejected,
	EventSubscriptionCreated,
	EventSubscriptionRenewed,
	EventSubscriptionRenewalFailed,
	EventSubscriptionRemoved,
	EventSubscriptionReauthorization,
	EventNotificationsMissed,
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Subject   string      `json:"subject"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// NewEvent stamps an event with an id and the current time.
func NewEvent(eventType EventType, subject string, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Subject:   subject,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// TicketPayload describes a ticket decision for a channel message.
type TicketPayload struct {
	TeamID    string `json:"team_id"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	PageID    string `json:"page_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Approver  string `json:"approver,omitempty"`
	Source    string `json:"source"`
	Reason    string `json:"reason,omitempty"`
}

// SubscriptionPayload describes a subscription lifecycle change.
type SubscriptionPayload struct {
	SubscriptionID string     `json:"subscription_id"`
	Resource       string     `json:"resource,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

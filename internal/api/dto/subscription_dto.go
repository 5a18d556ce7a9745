package dto

import (
	"time"

	"github.com/spec-kit/teams-ticket-relay/internal/domain"
)

// CreateSubscriptionRequest payload.
type CreateSubscriptionRequest struct {
	Resource       string   `json:"resource"`
	ChangeTypes    []string `json:"change_types"`
	ExpirationDays *float64 `json:"expiration_days"`
}

// RenewSubscriptionRequest is used by renew and renew-all. An empty body means the default lifetime.
type RenewSubscriptionRequest struct {
	ExpirationDays *float64 `json:"expiration_days"`
}

// MonitorStartRequest optionally overrides the check interval in seconds.
type MonitorStartRequest struct {
	CheckInterval *int `json:"check_interval"`
}

// SubscriptionSummary response.
type SubscriptionSummary struct {
	ID                       string    `json:"id"`
	Resource                 string    `json:"resource"`
	ChangeTypes              []string  `json:"change_types"`
	NotificationURL          string    `json:"notification_url"`
	LifecycleNotificationURL string    `json:"lifecycle_notification_url,omitempty"`
	ExpirationDateTime       time.Time `json:"expiration_date_time"`
	ExpiresInSeconds         int64     `json:"expires_in_seconds"`
	TeamsMessages            bool      `json:"teams_messages"`
}

// NewSubscriptionSummary maps a Graph subscription relative to now.
func NewSubscriptionSummary(sub domain.Subscription, now time.Time) SubscriptionSummary {
	return SubscriptionSummary{
		ID:                       sub.ID,
		Resource:                 sub.Resource,
		ChangeTypes:              sub.ChangeTypes(),
		NotificationURL:          sub.NotificationURL,
		LifecycleNotificationURL: sub.LifecycleNotificationURL,
		ExpirationDateTime:       sub.ExpirationDateTime,
		ExpiresInSeconds:         int64(sub.ExpirationDateTime.Sub(now).Seconds()),
		TeamsMessages:            sub.IsTeamsMessages(),
	}
}

// NewSubscriptionSummaries maps a list.
func NewSubscriptionSummaries(subs []domain.Subscription, now time.Time) []SubscriptionSummary {
	out := make([]SubscriptionSummary, 0, len(subs))
	for _, sub := range subs {
		out = append(out, NewSubscriptionSummary(sub, now))
	}
	return out
}

package domain

import (
	"strings"
	"time"
)

// Change types Graph understands.
const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)

const (
	// TeamsMessageMaxLifetime is Graph's ceiling for channel-message subscriptions.
	TeamsMessageMaxLifetime = time.Hour
	// DefaultMaxLifetime caps every other resource.
	DefaultMaxLifetime = 72 * time.Hour
	// LifecycleURLThreshold is the lifetime above which non-Teams subscriptions get a lifecycle URL.
	LifecycleURLThreshold = time.Hour
)

// Subscription is a Graph watch registration as returned by the subscriptions API.
type Subscription struct {
	ID                       string    `json:"id"`
	Resource                 string    `json:"resource"`
	ChangeType               string    `json:"changeType"`
	NotificationURL          string    `json:"notificationUrl"`
	LifecycleNotificationURL string    `json:"lifecycleNotificationUrl,omitempty"`
	ExpirationDateTime       time.Time `json:"expirationDateTime"`
	ClientState              string    `json:"clientState,omitempty"`
	ApplicationID            string    `json:"applicationId,omitempty"`
	CreatorID                string    `json:"creatorId,omitempty"`
}

// ChangeTypes splits the comma-joined change type field.
func (s Subscription) ChangeTypes() []string {
	return SplitChangeTypes(s.ChangeType)
}

// IsTeamsMessages reports whether the subscription watches Teams channel messages.
func (s Subscription) IsTeamsMessages() bool {
	return IsTeamsMessageResource(s.Resource)
}

// MaxLifetime returns the longest expiration Graph accepts for the subscription's resource.
func (s Subscription) MaxLifetime() time.Duration {
	return MaxLifetimeFor(s.Resource)
}

// SubscriptionRequest is the wire payload for creating a subscription.
type SubscriptionRequest struct {
	Resource                 string `json:"resource"`
	ChangeType               string `json:"changeType"`
	NotificationURL          string `json:"notificationUrl"`
	LifecycleNotificationURL string `json:"lifecycleNotificationUrl,omitempty"`
	ExpirationDateTime       string `json:"expirationDateTime"`
	ClientState              string `json:"clientState"`

	// Adjustments lists the rules applied while normalizing; never sent to Graph.
	Adjustments []string `json:"-"`
}

// SubscriptionRenewal is the wire payload for extending a subscription.
type SubscriptionRenewal struct {
	ExpirationDateTime string `json:"expirationDateTime"`
}

// IsTeamsMessageResource detects the Teams channel-message resource class.
func IsTeamsMessageResource(resource string) bool {
	if !strings.HasPrefix(resource, "/") {
		resource = "/" + resource
	}
	return strings.HasPrefix(resource, "/teams/") && strings.Contains(resource, "/messages")
}

// MaxLifetimeFor returns the per-resource-class maximum subscription lifetime.
func MaxLifetimeFor(resource string) time.Duration {
	if IsTeamsMessageResource(resource) {
		return TeamsMessageMaxLifetime
	}
	return DefaultMaxLifetime
}

// SplitChangeTypes parses "created,updated" into its parts.
func SplitChangeTypes(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

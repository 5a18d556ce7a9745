package domain

import (
	"regexp"
	"strings"
	"time"
)

// Lifecycle event names Graph sends to the lifecycle URL.
const (
	LifecycleSubscriptionRemoved     = "subscriptionRemoved"
	LifecycleReauthorizationRequired = "reauthorizationRequired"
	LifecycleMissed                  = "missed"
)

// NotificationBatch is the body Graph POSTs to the notification and lifecycle URLs.
type NotificationBatch struct {
	Value            []ChangeNotification `json:"value"`
	ValidationTokens []string             `json:"validationTokens,omitempty"`
}

// ChangeNotification is one entry in a batch.
type ChangeNotification struct {
	ChangeType                     string        `json:"changeType"`
	LifecycleEvent                 string        `json:"lifecycleEvent,omitempty"`
	ClientState                    string        `json:"clientState,omitempty"`
	Resource                       string        `json:"resource"`
	ResourceData                   *ResourceData `json:"resourceData,omitempty"`
	SubscriptionExpirationDateTime *time.Time    `json:"subscriptionExpirationDateTime,omitempty"`
	SubscriptionID                 string        `json:"subscriptionId"`
	TenantID                       string        `json:"tenantId,omitempty"`
}

// ResourceData carries the odata identity of the changed entity.
type ResourceData struct {
	ID        string `json:"id,omitempty"`
	ODataID   string `json:"@odata.id,omitempty"`
	ODataEtag string `json:"@odata.etag,omitempty"`
	ODataType string `json:"@odata.type,omitempty"`
}

// IsMessageChange reports whether the resource string points at a channel message.
func (n ChangeNotification) IsMessageChange() bool {
	return strings.Contains(n.Resource, "/messages") || strings.Contains(n.Resource, "messages(")
}

// LifecycleKind returns the lifecycle event name, whichever field Graph used.
func (n ChangeNotification) LifecycleKind() string {
	if n.LifecycleEvent != "" {
		return n.LifecycleEvent
	}
	return n.ChangeType
}

// MessageKey identifies a channel message.
type MessageKey struct {
	TeamID    string
	ChannelID string
	MessageID string
}

func (k MessageKey) String() string {
	return k.TeamID + "|" + k.ChannelID + "|" + k.MessageID
}

// ParseMessageKey reverses MessageKey.String.
func ParseMessageKey(raw string) (MessageKey, bool) {
	parts := strings.Split(raw, "|")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return MessageKey{}, false
	}
	return MessageKey{TeamID: parts[0], ChannelID: parts[1], MessageID: parts[2]}, true
}

// resourcePatterns are tried in order; each yields team, channel and message ids.
var resourcePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/teams/([^/]+)/channels/([^/]+)/messages/([^/?]+)`),
	regexp.MustCompile(`(?i)teams\s*\(\s*'([^']+)'\s*\)\s*/channels\s*\(\s*'([^']+)'\s*\)\s*/messages\s*\(\s*'([^']+)'\s*\)`),
}

// ResolveMessageKey parses either the slash-path or the parenthesized-id encoding.
func ResolveMessageKey(resource string) (MessageKey, bool) {
	for _, pattern := range resourcePatterns {
		if m := pattern.FindStringSubmatch(resource); m != nil {
			return MessageKey{TeamID: m[1], ChannelID: m[2], MessageID: m[3]}, true
		}
	}
	return MessageKey{}, false
}

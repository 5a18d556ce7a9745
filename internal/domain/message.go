package domain

import (
	"strings"
	"time"
)

// ChatMessage is a Teams channel message with its reactions expanded.
type ChatMessage struct {
	ID                   string              `json:"id"`
	MessageType          string              `json:"messageType,omitempty"`
	CreatedDateTime      *time.Time          `json:"createdDateTime,omitempty"`
	LastModifiedDateTime *time.Time          `json:"lastModifiedDateTime,omitempty"`
	Subject              string              `json:"subject,omitempty"`
	Body                 *MessageBody        `json:"body,omitempty"`
	From                 *IdentitySet        `json:"from,omitempty"`
	ChannelIdentity      *ChannelIdentity    `json:"channelIdentity,omitempty"`
	Attachments          []MessageAttachment `json:"attachments,omitempty"`
	Reactions            []MessageReaction   `json:"reactions,omitempty"`
}

// MessageBody holds the raw content.
type MessageBody struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
}

// Identity is a Graph user or application reference.
type Identity struct {
	ID               string `json:"id,omitempty"`
	DisplayName      string `json:"displayName,omitempty"`
	UserIdentityType string `json:"userIdentityType,omitempty"`
}

// IdentitySet wraps the identity variants Graph can attach.
type IdentitySet struct {
	ID           string    `json:"id,omitempty"`
	User         *Identity `json:"user,omitempty"`
	UserIdentity *Identity `json:"userIdentity,omitempty"`
	Application  *Identity `json:"application,omitempty"`
}

// UserID returns the best available user id.
func (s *IdentitySet) UserID() string {
	if s == nil {
		return ""
	}
	if s.User != nil && s.User.ID != "" {
		return s.User.ID
	}
	if s.UserIdentity != nil && s.UserIdentity.ID != "" {
		return s.UserIdentity.ID
	}
	return s.ID
}

// ChannelIdentity locates a message.
type ChannelIdentity struct {
	TeamID    string `json:"teamId,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
}

// MessageAttachment is a file or card attached to a message.
type MessageAttachment struct {
	ID          string `json:"id"`
	ContentURL  string `json:"contentUrl,omitempty"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// MessageReaction is one reaction on a message.
type MessageReaction struct {
	ReactionType    string       `json:"reactionType"`
	DisplayName     string       `json:"displayName,omitempty"`
	CreatedDateTime *time.Time   `json:"createdDateTime,omitempty"`
	User            *IdentitySet `json:"user,omitempty"`
}

// ReactionsOf returns reactions matching the marker, in message order.
func (m *ChatMessage) ReactionsOf(marker string) []MessageReaction {
	marker = strings.TrimSpace(marker)
	out := make([]MessageReaction, 0)
	for _, r := range m.Reactions {
		if strings.EqualFold(strings.TrimSpace(r.ReactionType), marker) {
			out = append(out, r)
		}
	}
	return out
}

// AttachmentURLs lists content URLs that are present.
func (m *ChatMessage) AttachmentURLs() []string {
	urls := make([]string, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		if a.ContentURL != "" {
			urls = append(urls, a.ContentURL)
		}
	}
	return urls
}

// User is the subset of a Graph user we need.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName,omitempty"`
	Mail              string `json:"mail,omitempty"`
	UserPrincipalName string `json:"userPrincipalName,omitempty"`
}

// Email returns mail, falling back to the UPN.
func (u *User) Email() string {
	if u == nil {
		return ""
	}
	if u.Mail != "" {
		return u.Mail
	}
	return u.UserPrincipalName
}

// Channel is the subset of a Graph channel we need.
type Channel struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

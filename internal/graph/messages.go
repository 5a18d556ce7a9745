package graph

import (
	"context"
	"net/http"
	"net/url"

	"github.com/spec-kit/teams-ticket-relay/internal/domain"
)

// GetMessage fetches a channel message with its reactions.
func (c *Client) GetMessage(ctx context.Context, key domain.MessageKey) (*domain.ChatMessage, error) {
	path := "teams/" + url.PathEscape(key.TeamID) +
		"/channels/" + url.PathEscape(key.ChannelID) +
		"/messages/" + url.PathEscape(key.MessageID)

	var msg domain.ChatMessage
	if err := c.do(ctx, http.MethodGet, path, "$expand=reactions", nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetChannelInfo fetches a channel's display name.
func (c *Client) GetChannelInfo(ctx context.Context, teamID, channelID string) (*domain.Channel, error) {
	path := "teams/" + url.PathEscape(teamID) + "/channels/" + url.PathEscape(channelID)

	var ch domain.Channel
	if err := c.do(ctx, http.MethodGet, path, "", nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// GetUserInfo fetches a directory user.
func (c *Client) GetUserInfo(ctx context.Context, userID string) (*domain.User, error) {
	var user domain.User
	if err := c.do(ctx, http.MethodGet, "users/"+url.PathEscape(userID), "$select=id,displayName,mail,userPrincipalName", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

package graph

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/teams-ticket-relay/internal/domain"
)

type subscriptionPage struct {
	Value    []domain.Subscription `json:"value"`
	NextLink string                `json:"@odata.nextLink,omitempty"`
}

// CreateSubscription normalizes in and registers the subscription with Graph.
func (c *Client) CreateSubscription(ctx context.Context, in NormalizeInput) (*domain.Subscription, error) {
	req, err := Normalize(in, c.now())
	if err != nil {
		return nil, err
	}
	for _, adj := range req.Adjustments {
		c.logger.Info("subscription request adjusted", zap.String("resource", req.Resource), zap.String("rule", adj))
	}

	var sub domain.Subscription
	if err := c.do(ctx, http.MethodPost, "subscriptions", "", req, &sub); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Kind == KindValidationTimeout {
			c.handshakes.Record(apiErr.RequestID, req.Resource)
		}
		return nil, err
	}
	c.logger.Info("subscription created",
		zap.String("subscription_id", sub.ID),
		zap.String("resource", sub.Resource),
		zap.Time("expires_at", sub.ExpirationDateTime),
	)
	return &sub, nil
}

// CreateSubscriptionWithRetry retries creation with capped exponential backoff while Graph
// reports a validation timeout. The token is refreshed before every retry after the first.
func (c *Client) CreateSubscriptionWithRetry(ctx context.Context, in NormalizeInput) (*domain.Subscription, error) {
	attempt := 0
	operation := func() (*domain.Subscription, error) {
		attempt++
		if attempt > 1 {
			if _, err := c.tokens.Refresh(ctx); err != nil {
				c.logger.Warn("token refresh before retry failed", zap.Int("attempt", attempt), zap.Error(err))
			}
		}
		sub, err := c.CreateSubscription(ctx, in)
		if err == nil {
			return sub, nil
		}
		if IsValidationTimeout(err) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	policy := &backoff.ExponentialBackOff{
		InitialInterval:     c.retry.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.retry.MaxDelay,
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.retry.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn("subscription validation timed out, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}),
	)
}

// RenewSubscription PATCHes a new expiration onto an existing subscription.
func (c *Client) RenewSubscription(ctx context.Context, id string, expiration time.Time) (*domain.Subscription, error) {
	var sub domain.Subscription
	body := domain.SubscriptionRenewal{ExpirationDateTime: FormatExpiration(expiration)}
	if err := c.do(ctx, http.MethodPatch, "subscriptions/"+url.PathEscape(id), "", body, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetSubscription fetches one subscription.
func (c *Client) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	var sub domain.Subscription
	if err := c.do(ctx, http.MethodGet, "subscriptions/"+url.PathEscape(id), "", nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// DeleteSubscription removes a subscription. A missing id surfaces as a NotFound APIError.
func (c *Client) DeleteSubscription(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "subscriptions/"+url.PathEscape(id), "", nil, nil)
}

// ListSubscriptions returns every subscription owned by the app, following nextLink pages.
func (c *Client) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	subs := make([]domain.Subscription, 0)
	path := "subscriptions"
	for path != "" {
		var page subscriptionPage
		if err := c.do(ctx, http.MethodGet, path, "", nil, &page); err != nil {
			return nil, err
		}
		subs = append(subs, page.Value...)
		path = page.NextLink
	}
	return subs, nil
}

package service

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/teams-ticket-relay/internal/domain"
	"github.com/spec-kit/teams-ticket-relay/internal/events"
	"github.com/spec-kit/teams-ticket-relay/internal/graph"
	"github.com/spec-kit/teams-ticket-relay/internal/observability"
	apperrors "github.com/spec-kit/teams-ticket-relay/pkg/util/errorutil"
)

const (
	// DefaultExpirationDays applies when a management request omits expiration_days.
	DefaultExpirationDays = 3.0
	// RenewalThreshold is how close to expiry the monitor renews a subscription.
	RenewalThreshold = 10 * time.Minute

	minCreateLifetime = 30*time.Minute + 30*time.Second
	day               = 24 * time.Hour
)

// SubscriptionClient is the part of the Graph client subscription management needs.
type SubscriptionClient interface {
	CreateSubscriptionWithRetry(ctx context.Context, in graph.NormalizeInput) (*domain.Subscription, error)
	RenewSubscription(ctx context.Context, id string, expiration time.Time) (*domain.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	ListSubscriptions(ctx context.Context) ([]domain.Subscription, error)
	EnsureWarmToken(ctx context.Context) error
}

// SubscriptionSettings holds the public callback base and defaults.
type SubscriptionSettings struct {
	BaseURL               string
	ClientState           string
	DefaultResource       string
	DefaultExpirationDays float64
}

// CreateSubscriptionInput is a management create request.
type CreateSubscriptionInput struct {
	Resource       string
	ChangeTypes    []string
	ExpirationDays *float64
}

// RenewalSummary reports one renewal pass.
type RenewalSummary struct {
	Total      int      `json:"total"`
	Renewed    int      `json:"renewed"`
	Failed     int      `json:"failed"`
	Skipped    int      `json:"skipped"`
	RenewedIDs []string `json:"renewed_ids"`
	FailedIDs  []string `json:"failed_ids"`
}

// SubscriptionService manages Graph subscriptions and their lifecycle events.
type SubscriptionService struct {
	graph      SubscriptionClient
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	settings   SubscriptionSettings
	now        func() time.Time
}

// NewSubscriptionService constructs the service.
func NewSubscriptionService(client SubscriptionClient, dispatcher events.Dispatcher, metrics *observability.Metrics, logger *zap.Logger, settings SubscriptionSettings) *SubscriptionService {
	settings.BaseURL = strings.TrimRight(settings.BaseURL, "/")
	return &SubscriptionService{
		graph:      client,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger.Named("subscriptions"),
		settings:   settings,
		now:        time.Now,
	}
}

// NotificationURL is the dedicated validation route Graph posts changes to.
func (s *SubscriptionService) NotificationURL() string {
	return s.settings.BaseURL + "/graph/validate"
}

// LifecycleURL is the lifecycle callback route.
func (s *SubscriptionService) LifecycleURL() string {
	return s.settings.BaseURL + "/webhook/lifecycle"
}

// Create registers a subscription, retrying while Graph times out on the handshake.
func (s *SubscriptionService) Create(ctx context.Context, in CreateSubscriptionInput) (*domain.Subscription, error) {
	resource := strings.TrimSpace(in.Resource)
	if resource == "" {
		return nil, apperrors.NewValidationError("resource is required", nil)
	}
	days := DefaultExpirationDays
	if in.ExpirationDays != nil {
		days = *in.ExpirationDays
	}
	if days <= 0 {
		return nil, apperrors.NewValidationError("expiration_days must be positive", nil)
	}
	changeTypes := in.ChangeTypes
	if len(changeTypes) == 0 {
		changeTypes = []string{domain.ChangeCreated, domain.ChangeUpdated}
	}

	now := s.now().UTC()
	expiration := now.Add(time.Duration(days * float64(day)))
	if floor := now.Add(minCreateLifetime); expiration.Before(floor) {
		expiration = floor
	}

	lifecycleURL := ""
	if domain.IsTeamsMessageResource(resource) || expiration.Sub(now) > domain.LifecycleURLThreshold {
		lifecycleURL = s.LifecycleURL()
	}

	if err := s.graph.EnsureWarmToken(ctx); err != nil {
		s.logger.Warn("token warm-up before subscription create failed", zap.Error(err))
	}

	sub, err := s.graph.CreateSubscriptionWithRetry(ctx, graph.NormalizeInput{
		Resource:                 resource,
		ChangeTypes:              changeTypes,
		NotificationURL:          s.NotificationURL(),
		LifecycleNotificationURL: lifecycleURL,
		Expiration:               &expiration,
		ClientState:              s.settings.ClientState,
	})
	if err != nil {
		s.metrics.Incr("subscriptions.create_failed")
		return nil, mapGraphError(err, "subscription")
	}
	s.metrics.Incr("subscriptions.created")
	s.publish(ctx, events.EventSubscriptionCreated, sub, "")
	return sub, nil
}

// List returns every subscription.
func (s *SubscriptionService) List(ctx context.Context) ([]domain.Subscription, error) {
	subs, err := s.graph.ListSubscriptions(ctx)
	if err != nil {
		return nil, mapGraphError(err, "subscriptions")
	}
	return subs, nil
}

// Renew extends one subscription by days, capped to its resource's maximum lifetime.
func (s *SubscriptionService) Renew(ctx context.Context, id string, days *float64) (*domain.Subscription, error) {
	current, err := s.graph.GetSubscription(ctx, id)
	if err != nil {
		return nil, mapGraphError(err, "subscription")
	}
	return s.renew(ctx, *current, s.requestedExpiration(days))
}

// Delete removes a subscription.
func (s *SubscriptionService) Delete(ctx context.Context, id string) error {
	if err := s.graph.DeleteSubscription(ctx, id); err != nil {
		return mapGraphError(err, "subscription")
	}
	s.logger.Info("subscription deleted", zap.String("subscription_id", id))
	return nil
}

// RenewAll extends every subscription, capping each to its maximum lifetime.
func (s *SubscriptionService) RenewAll(ctx context.Context, days *float64) (RenewalSummary, error) {
	subs, err := s.graph.ListSubscriptions(ctx)
	if err != nil {
		return RenewalSummary{}, mapGraphError(err, "subscriptions")
	}
	summary := newSummary(len(subs))
	requested := s.requestedExpiration(days)
	for _, sub := range subs {
		if _, err := s.renew(ctx, sub, requested); err != nil {
			summary.fail(sub.ID)
			continue
		}
		summary.ok(sub.ID)
	}
	return summary, nil
}

// RenewExpiring renews subscriptions within threshold of expiry: Teams message
// subscriptions by one hour, others by three days. Per-item failures are counted.
func (s *SubscriptionService) RenewExpiring(ctx context.Context, threshold time.Duration) (RenewalSummary, error) {
	subs, err := s.graph.ListSubscriptions(ctx)
	if err != nil {
		return RenewalSummary{}, err
	}
	now := s.now().UTC()
	summary := newSummary(len(subs))
	for _, sub := range subs {
		if sub.ExpirationDateTime.Sub(now) > threshold {
			summary.Skipped++
			continue
		}
		if _, err := s.renew(ctx, sub, now.Add(renewalExtension(sub))); err != nil {
			summary.fail(sub.ID)
			continue
		}
		summary.ok(sub.ID)
	}
	return summary, nil
}

// HandleLifecycle reacts to subscription-level events from the lifecycle URL.
func (s *SubscriptionService) HandleLifecycle(ctx context.Context, n domain.ChangeNotification) {
	if n.ClientState != "" && subtle.ConstantTimeCompare([]byte(n.ClientState), []byte(s.settings.ClientState)) != 1 {
		s.logger.Warn("client state mismatch on lifecycle event", zap.String("subscription_id", n.SubscriptionID))
		return
	}
	kind := n.LifecycleKind()
	s.metrics.Incr("lifecycle." + kind)
	fields := []zap.Field{
		zap.String("subscription_id", n.SubscriptionID),
		zap.String("event", kind),
		zap.String("resource", n.Resource),
	}

	switch kind {
	case domain.LifecycleReauthorizationRequired:
		s.logger.Info("reauthorization required, renewing subscription", fields...)
		s.publishLifecycle(ctx, events.EventSubscriptionReauthorization, n)
		sub := domain.Subscription{ID: n.SubscriptionID, Resource: n.Resource}
		if current, err := s.graph.GetSubscription(ctx, n.SubscriptionID); err == nil {
			sub = *current
		}
		if _, err := s.renew(ctx, sub, s.now().UTC().Add(renewalExtension(sub))); err != nil {
			s.logger.Error("renewal after reauthorization failed", append(fields, zap.Error(err))...)
		}
	case domain.LifecycleSubscriptionRemoved:
		s.logger.Warn("subscription removed by graph", fields...)
		s.publishLifecycle(ctx, events.EventSubscriptionRemoved, n)
	case domain.LifecycleMissed:
		s.logger.Warn("graph reports missed notifications", fields...)
		s.publishLifecycle(ctx, events.EventNotificationsMissed, n)
	default:
		s.logger.Info("lifecycle event ignored", fields...)
	}
}

// EnsureDefault creates the configured default subscription when none exists for its resource.
func (s *SubscriptionService) EnsureDefault(ctx context.Context) (*domain.Subscription, error) {
	resource := strings.TrimSpace(s.settings.DefaultResource)
	if resource == "" {
		return nil, nil
	}
	subs, err := s.graph.ListSubscriptions(ctx)
	if err != nil {
		return nil, mapGraphError(err, "subscriptions")
	}
	want := "/" + strings.TrimPrefix(resource, "/")
	for i := range subs {
		if strings.EqualFold("/"+strings.TrimPrefix(subs[i].Resource, "/"), want) {
			s.logger.Info("default subscription present", zap.String("subscription_id", subs[i].ID))
			return &subs[i], nil
		}
	}
	days := s.settings.DefaultExpirationDays
	var daysPtr *float64
	if days > 0 {
		daysPtr = &days
	}
	return s.Create(ctx, CreateSubscriptionInput{Resource: resource, ExpirationDays: daysPtr})
}

func (s *SubscriptionService) renew(ctx context.Context, sub domain.Subscription, requested time.Time) (*domain.Subscription, error) {
	now := s.now().UTC()
	expiration := graph.CapExpiration(sub.Resource, requested, now)
	if expiration.Before(requested) {
		s.logger.Info("renewal expiration capped",
			zap.String("subscription_id", sub.ID),
			zap.Time("requested", requested),
			zap.Time("capped", expiration),
		)
	}

	renewed, err := s.graph.RenewSubscription(ctx, sub.ID, expiration)
	if err != nil {
		s.metrics.Incr("subscriptions.renew_failed")
		s.logger.Error("subscription renewal failed", zap.String("subscription_id", sub.ID), zap.Error(err))
		s.publish(ctx, events.EventSubscriptionRenewalFailed, &sub, err.Error())
		return nil, mapGraphError(err, "subscription")
	}
	s.metrics.Incr("subscriptions.renewed")
	if renewed.Resource == "" {
		renewed.Resource = sub.Resource
	}
	s.publish(ctx, events.EventSubscriptionRenewed, renewed, "")
	return renewed, nil
}

func (s *SubscriptionService) requestedExpiration(days *float64) time.Time {
	d := DefaultExpirationDays
	if days != nil && *days > 0 {
		d = *days
	}
	return s.now().UTC().Add(time.Duration(d * float64(day)))
}

func renewalExtension(sub domain.Subscription) time.Duration {
	if sub.IsTeamsMessages() {
		return domain.TeamsMessageMaxLifetime
	}
	return domain.DefaultMaxLifetime
}

func (s *SubscriptionService) publish(ctx context.Context, eventType events.EventType, sub *domain.Subscription, reason string) {
	if s.dispatcher == nil || sub == nil {
		return
	}
	expires := sub.ExpirationDateTime
	payload := events.SubscriptionPayload{SubscriptionID: sub.ID, Resource: sub.Resource, Reason: reason}
	if !expires.IsZero() {
		payload.ExpiresAt = &expires
	}
	_ = s.dispatcher.Publish(ctx, events.NewEvent(eventType, sub.ID, payload))
}

func (s *SubscriptionService) publishLifecycle(ctx context.Context, eventType events.EventType, n domain.ChangeNotification) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.NewEvent(eventType, n.SubscriptionID, events.SubscriptionPayload{
		SubscriptionID: n.SubscriptionID,
		Resource:       n.Resource,
		ExpiresAt:      n.SubscriptionExpirationDateTime,
		Reason:         n.LifecycleKind(),
	}))
}

func newSummary(total int) RenewalSummary {
	return RenewalSummary{Total: total, RenewedIDs: []string{}, FailedIDs: []string{}}
}

func (r *RenewalSummary) ok(id string) {
	r.Renewed++
	r.RenewedIDs = append(r.RenewedIDs, id)
}

func (r *RenewalSummary) fail(id string) {
	r.Failed++
	r.FailedIDs = append(r.FailedIDs, id)
}

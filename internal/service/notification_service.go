package service

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/teams-ticket-relay/internal/domain"
	"github.com/spec-kit/teams-ticket-relay/internal/events"
	"github.com/spec-kit/teams-ticket-relay/internal/observability"
	"github.com/spec-kit/teams-ticket-relay/internal/repository"
)

// MessageReader is the part of the Graph client the processor needs.
type MessageReader interface {
	GetMessage(ctx context.Context, key domain.MessageKey) (*domain.ChatMessage, error)
	GetUserInfo(ctx context.Context, userID string) (*domain.User, error)
	GetChannelInfo(ctx context.Context, teamID, channelID string) (*domain.Channel, error)
}

// TicketStore creates tickets keyed by message id.
type TicketStore interface {
	CreateTicket(ctx context.Context, t domain.Ticket) (domain.TicketResult, error)
}

// Outcome is the processor's decision for one notification or poll.
type Outcome string

const (
	OutcomeIgnored      Outcome = "ignored"
	OutcomeRejected     Outcome = "rejected"
	OutcomePending      Outcome = "pending"
	OutcomeUnauthorized Outcome = "unauthorized"
	OutcomeCreated      Outcome = "created"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeFailed       Outcome = "failed"
)

// Where an approval check originated.
const (
	SourceNotification = "notification"
	SourcePoller       = "poller"
)

// ProcessorConfig carries approval policy.
type ProcessorConfig struct {
	ClientState      string
	ApprovalReaction string
	AllowedUsers     []string
	DefaultStatus    string
	Source           string
	ClaimTTL         time.Duration
}

// NotificationService turns Graph change notifications into tickets once an allowed
// user reacts with the approval marker.
type NotificationService struct {
	graph      MessageReader
	store      TicketStore
	tracked    repository.TrackedMessageRepository
	claims     repository.TicketClaimRepository
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	cfg        ProcessorConfig
	allowed    map[string]struct{}
	now        func() time.Time
}

// NewNotificationService wires the processor.
func NewNotificationService(
	graph MessageReader,
	store TicketStore,
	tracked repository.TrackedMessageRepository,
	claims repository.TicketClaimRepository,
	dispatcher events.Dispatcher,
	metrics *observability.Metrics,
	logger *zap.Logger,
	cfg ProcessorConfig,
) *NotificationService {
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 10 * time.Minute
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedUsers))
	for _, user := range cfg.AllowedUsers {
		if user = strings.ToLower(strings.TrimSpace(user)); user != "" {
			allowed[user] = struct{}{}
		}
	}
	return &NotificationService{
		graph:      graph,
		store:      store,
		tracked:    tracked,
		claims:     claims,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger.Named("processor"),
		cfg:        cfg,
		allowed:    allowed,
		now:        time.Now,
	}
}

// HandleBatch processes each notification in order; one failure never stops the rest.
func (s *NotificationService) HandleBatch(ctx context.Context, batch domain.NotificationBatch) []Outcome {
	outcomes := make([]Outcome, 0, len(batch.Value))
	for i, n := range batch.Value {
		outcome, err := s.HandleNotification(ctx, n)
		if err != nil {
			s.logger.Error("notification processing failed",
				zap.Int("index", i),
				zap.String("resource", n.Resource),
				zap.String("subscription_id", n.SubscriptionID),
				zap.Error(err),
			)
		}
		s.metrics.Incr("notifications." + string(outcome))
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// HandleNotification runs the per-item state machine.
func (s *NotificationService) HandleNotification(ctx context.Context, n domain.ChangeNotification) (Outcome, error) {
	if !s.clientStateAccepted(n.ClientState) {
		s.logger.Warn("client state mismatch, discarding notification",
			zap.String("subscription_id", n.SubscriptionID))
		return OutcomeRejected, nil
	}

	key, ok := domain.ResolveMessageKey(n.Resource)
	if !ok {
		s.logger.Warn("unrecognized resource, discarding notification", zap.String("resource", n.Resource))
		return OutcomeIgnored, nil
	}
	if n.ChangeType != domain.ChangeCreated && n.ChangeType != domain.ChangeUpdated {
		return OutcomeIgnored, nil
	}
	if !n.IsMessageChange() {
		return OutcomeIgnored, nil
	}

	msg, err := s.graph.GetMessage(ctx, key)
	if err != nil {
		return OutcomeFailed, err
	}
	return s.evaluate(ctx, key, msg, SourceNotification)
}

// CheckTracked re-fetches a tracked message and applies the approval steps.
func (s *NotificationService) CheckTracked(ctx context.Context, key domain.MessageKey) (Outcome, error) {
	msg, err := s.graph.GetMessage(ctx, key)
	if err != nil {
		return OutcomeFailed, err
	}
	return s.evaluate(ctx, key, msg, SourcePoller)
}

// IsTracked reports whether a message is awaiting approval.
func (s *NotificationService) IsTracked(ctx context.Context, key domain.MessageKey) bool {
	ok, err := s.tracked.Contains(ctx, key)
	return err == nil && ok
}

type identity struct {
	id    string
	email string
	name  string
}

func (p identity) label() string {
	if p.email != "" {
		return p.email
	}
	return p.id
}

func (s *NotificationService) evaluate(ctx context.Context, key domain.MessageKey, msg *domain.ChatMessage, source string) (Outcome, error) {
	reactions := msg.ReactionsOf(s.cfg.ApprovalReaction)
	if len(reactions) == 0 {
		if source == SourceNotification {
			s.track(ctx, key)
		}
		return OutcomePending, nil
	}

	approver, reaction, ok := s.findApprover(ctx, reactions)
	if !ok {
		s.logger.Info("approval reaction from user not in allowed list",
			zap.String("message_id", key.MessageID),
			zap.String("user", approver.label()),
		)
		if source == SourceNotification {
			s.track(ctx, key)
		}
		s.publish(ctx, events.EventApprovalRejected, key, events.TicketPayload{
			TeamID: key.TeamID, ChannelID: key.ChannelID, MessageID: key.MessageID,
			Approver: approver.label(), Source: source,
		})
		return OutcomeUnauthorized, nil
	}

	ticket := s.buildTicket(ctx, key, msg, approver, reaction)

	claimed, err := s.claims.Claim(ctx, key.MessageID, s.cfg.ClaimTTL)
	if err != nil {
		s.logger.Warn("ticket claim unavailable, relying on store existence check",
			zap.String("message_id", key.MessageID), zap.Error(err))
		claimed = true
	}
	if !claimed {
		// The claim holder owns the tracked entry: it untracks on success and re-tracks on failure.
		s.logger.Info("ticket creation already in progress or done", zap.String("message_id", key.MessageID))
		s.publish(ctx, events.EventTicketDuplicate, key, s.ticketPayload(key, ticket, "", source))
		return OutcomeDuplicate, nil
	}

	result, err := s.store.CreateTicket(ctx, ticket)
	if err != nil || result.Outcome == domain.TicketFailed {
		if relErr := s.claims.Release(ctx, key.MessageID); relErr != nil {
			s.logger.Warn("release ticket claim failed", zap.String("message_id", key.MessageID), zap.Error(relErr))
		}
		if !s.IsTracked(ctx, key) {
			s.track(ctx, key)
		}
		payload := s.ticketPayload(key, ticket, "", source)
		payload.Reason = result.Reason
		s.publish(ctx, events.EventTicketFailed, key, payload)
		return OutcomeFailed, err
	}

	s.untrack(ctx, key)
	if result.Outcome == domain.TicketAlreadyExists {
		s.publish(ctx, events.EventTicketDuplicate, key, s.ticketPayload(key, ticket, result.PageID, source))
		return OutcomeDuplicate, nil
	}
	s.logger.Info("ticket created",
		zap.String("message_id", key.MessageID),
		zap.String("page_id", result.PageID),
		zap.String("approver", approver.label()),
		zap.String("source", source),
	)
	s.publish(ctx, events.EventTicketCreated, key, s.ticketPayload(key, ticket, result.PageID, source))
	return OutcomeCreated, nil
}

// findApprover returns the first marker reaction whose user is allowed. When none is,
// the last resolved identity is returned for logging.
func (s *NotificationService) findApprover(ctx context.Context, reactions []domain.MessageReaction) (identity, domain.MessageReaction, bool) {
	var last identity
	seen := make(map[string]bool, len(reactions))
	for _, r := range reactions {
		userID := r.User.UserID()
		if userID == "" || seen[userID] {
			continue
		}
		seen[userID] = true
		person := s.resolveUser(ctx, userID)
		if s.isAllowed(person) {
			return person, r, true
		}
		last = person
	}
	return last, domain.MessageReaction{}, false
}

func (s *NotificationService) isAllowed(p identity) bool {
	for _, candidate := range []string{p.email, p.id} {
		if candidate == "" {
			continue
		}
		if _, ok := s.allowed[strings.ToLower(candidate)]; ok {
			return true
		}
	}
	return false
}

// resolveUser looks up a directory user; failures fall back to the raw id.
func (s *NotificationService) resolveUser(ctx context.Context, userID string) identity {
	p := identity{id: userID, email: userID}
	if userID == "" {
		return p
	}
	user, err := s.graph.GetUserInfo(ctx, userID)
	if err != nil {
		s.logger.Warn("user lookup failed, using raw id", zap.String("user_id", userID), zap.Error(err))
		return p
	}
	if email := user.Email(); email != "" {
		p.email = email
	}
	p.name = user.DisplayName
	return p
}

func (s *NotificationService) channelName(ctx context.Context, key domain.MessageKey) string {
	ch, err := s.graph.GetChannelInfo(ctx, key.TeamID, key.ChannelID)
	if err != nil || ch.DisplayName == "" {
		if err != nil {
			s.logger.Warn("channel lookup failed, using raw id", zap.String("channel_id", key.ChannelID), zap.Error(err))
		}
		return key.ChannelID
	}
	return ch.DisplayName
}

func (s *NotificationService) buildTicket(ctx context.Context, key domain.MessageKey, msg *domain.ChatMessage, approver identity, reaction domain.MessageReaction) domain.Ticket {
	var requester identity
	if authorID := msg.From.UserID(); authorID != "" {
		requester = s.resolveUser(ctx, authorID)
	}

	text := ""
	if msg.Body != nil {
		text = MessageText(msg.Body.ContentType, msg.Body.Content)
	}

	approvedAt := s.now().UTC()
	switch {
	case reaction.CreatedDateTime != nil:
		approvedAt = reaction.CreatedDateTime.UTC()
	case msg.LastModifiedDateTime != nil:
		approvedAt = msg.LastModifiedDateTime.UTC()
	}

	return domain.Ticket{
		Title:          DeriveTitle(msg.Subject, text),
		Description:    text,
		RequesterEmail: requester.email,
		RequesterName:  requester.name,
		ExternalKey:    key.MessageID,
		Channel:        s.channelName(ctx, key),
		AttachmentURLs: msg.AttachmentURLs(),
		ApproverEmail:  approver.email,
		ApproverName:   approver.name,
		ApprovedAt:     approvedAt,
		Source:         s.cfg.Source,
		Status:         s.cfg.DefaultStatus,
		LastSyncedAt:   s.now().UTC(),
	}
}

func (s *NotificationService) ticketPayload(key domain.MessageKey, t domain.Ticket, pageID, source string) events.TicketPayload {
	return events.TicketPayload{
		TeamID:    key.TeamID,
		ChannelID: key.ChannelID,
		MessageID: key.MessageID,
		PageID:    pageID,
		Title:     t.Title,
		Approver:  t.ApproverEmail,
		Source:    source,
	}
}

// clientStateAccepted lets items without a client state through; a present one must match.
func (s *NotificationService) clientStateAccepted(got string) bool {
	if got == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.ClientState)) == 1
}

func (s *NotificationService) track(ctx context.Context, key domain.MessageKey) {
	if err := s.tracked.Track(ctx, key, s.now()); err != nil {
		s.logger.Warn("track message failed", zap.String("message_id", key.MessageID), zap.Error(err))
	}
}

func (s *NotificationService) untrack(ctx context.Context, key domain.MessageKey) {
	if err := s.tracked.Remove(ctx, key); err != nil {
		s.logger.Warn("untrack message failed", zap.String("message_id", key.MessageID), zap.Error(err))
	}
}

func (s *NotificationService) publish(ctx context.Context, eventType events.EventType, key domain.MessageKey, payload events.TicketPayload) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, events.NewEvent(eventType, key.MessageID, payload)); err != nil {
		s.logger.Debug("event handlers reported errors", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}

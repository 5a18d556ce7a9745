package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/teams-ticket-relay/internal/domain"
	"github.com/spec-kit/teams-ticket-relay/internal/events"
	"github.com/spec-kit/teams-ticket-relay/internal/observability"
	"github.com/spec-kit/teams-ticket-relay/internal/repository"
)

const testMarker = "🎫"

type fakeGraph struct {
	mu         sync.Mutex
	messages   map[string]*domain.ChatMessage
	users      map[string]*domain.User
	channels   map[string]string
	fetchErr   error
	fetchCount int
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		messages: make(map[string]*domain.ChatMessage),
		users: map[string]*domain.User{
			"u-alice": {ID: "u-alice", DisplayName: "Alice", Mail: "Alice@Example.com"},
			"u-bob":   {ID: "u-bob", DisplayName: "Bob", UserPrincipalName: "bob@example.com"},
			"u-eve":   {ID: "u-eve", DisplayName: "Eve", Mail: "eve@example.com"},
		},
		channels: map[string]string{"C1": "Help Desk"},
	}
}

func (f *fakeGraph) setMessage(key domain.MessageKey, msg *domain.ChatMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[key.String()] = msg
}

func (f *fakeGraph) GetMessage(_ context.Context, key domain.MessageKey) (*domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCount++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	msg, ok := f.messages[key.String()]
	if !ok {
		return nil, errors.New("not found")
	}
	copied := *msg
	return &copied, nil
}

func (f *fakeGraph) GetUserInfo(_ context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, errors.New("user not found")
}

func (f *fakeGraph) GetChannelInfo(_ context.Context, _, channelID string) (*domain.Channel, error) {
	if name, ok := f.channels[channelID]; ok {
		return &domain.Channel{ID: channelID, DisplayName: name}, nil
	}
	return nil, errors.New("channel not found")
}

// fakeStore mimics the ticket store's existence check with a small delay to widen races.
type fakeStore struct {
	mu      sync.Mutex
	tickets map[string]domain.Ticket
	fail    error
	delay   time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{tickets: make(map[string]domain.Ticket)}
}

func (s *fakeStore) CreateTicket(_ context.Context, t domain.Ticket) (domain.TicketResult, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return domain.TicketResult{Outcome: domain.TicketFailed, Reason: s.fail.Error()}, s.fail
	}
	if _, ok := s.tickets[t.ExternalKey]; ok {
		return domain.TicketResult{Outcome: domain.TicketAlreadyExists, PageID: "page-" + t.ExternalKey}, nil
	}
	s.tickets[t.ExternalKey] = t
	return domain.TicketResult{Outcome: domain.TicketCreated, PageID: "page-" + t.ExternalKey}, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}

func (s *fakeStore) get(key string) domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickets[key]
}

type processorFixture struct {
	svc      *NotificationService
	graph    *fakeGraph
	store    *fakeStore
	tracked  repository.TrackedMessageRepository
	metrics  *observability.Metrics
	received []events.Event
	mu       sync.Mutex
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	f := &processorFixture{
		graph:   newFakeGraph(),
		store:   newFakeStore(),
		tracked: repository.NewMemoryTrackedMessageRepository(),
		metrics: observability.NewMetrics(),
	}
	dispatcher := events.NewInMemoryDispatcher()
	for _, et := range events.AllEventTypes {
		dispatcher.Subscribe(et, func(_ context.Context, e events.Event) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.received = append(f.received, e)
			return nil
		})
	}
	f.svc = NewNotificationService(f.graph, f.store, f.tracked, repository.NewMemoryTicketClaimRepository(),
		dispatcher, f.metrics, zap.NewNop(), ProcessorConfig{
			ClientState:      "shared-secret",
			ApprovalReaction: testMarker,
			AllowedUsers:     []string{" alice@example.com ", "BOB@example.com"},
			DefaultStatus:    "New",
			Source:           "Teams",
		})
	return f
}

func (f *processorFixture) eventCount(t events.EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.received {
		if e.Type == t {
			n++
		}
	}
	return n
}

var key1 = domain.MessageKey{TeamID: "T1", ChannelID: "C1", MessageID: "M1"}

func created(resource string) domain.ChangeNotification {
	return domain.ChangeNotification{
		ChangeType:     domain.ChangeCreated,
		ClientState:    "shared-secret",
		Resource:       resource,
		SubscriptionID: "sub-1",
	}
}

func baseMessage() *domain.ChatMessage {
	modified := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	return &domain.ChatMessage{
		ID:                   "M1",
		LastModifiedDateTime: &modified,
		Body:                 &domain.MessageBody{ContentType: "html", Content: "<p>VPN is down</p><p>since <b>9am</b> &amp; counting</p>"},
		From:                 &domain.IdentitySet{User: &domain.Identity{ID: "u-eve"}},
		Attachments:          []domain.MessageAttachment{{ID: "a1", ContentURL: "https://files.example.com/log.txt"}},
	}
}

func withReaction(msg *domain.ChatMessage, reactionType, userID string) *domain.ChatMessage {
	at := time.Date(2025, 3, 14, 9, 5, 0, 0, time.UTC)
	msg.Reactions = append(msg.Reactions, domain.MessageReaction{
		ReactionType:    reactionType,
		CreatedDateTime: &at,
		User:            &domain.IdentitySet{User: &domain.Identity{ID: userID}},
	})
	return msg
}

func TestPendingMessageIsTrackedThenApprovedByPoll(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	f.graph.setMessage(key1, baseMessage())

	outcomes := f.svc.HandleBatch(ctx, domain.NotificationBatch{Value: []domain.ChangeNotification{
		created("teams('T1')/channels('C1')/messages('M1')"),
	}})
	if len(outcomes) != 1 || outcomes[0] != OutcomePending {
		t.Fatalf("expected pending, got %v", outcomes)
	}
	if f.store.count() != 0 {
		t.Fatal("no ticket expected before approval")
	}
	if !f.svc.IsTracked(ctx, key1) {
		t.Fatal("expected message to be tracked")
	}

	f.graph.setMessage(key1, withReaction(baseMessage(), testMarker, "u-alice"))
	outcome, err := f.svc.CheckTracked(ctx, key1)
	if err != nil {
		t.Fatalf("check tracked: %v", err)
	}
	if outcome != OutcomeCreated {
		t.Fatalf("expected created, got %s", outcome)
	}
	if f.store.count() != 1 {
		t.Fatalf("expected exactly one ticket, got %d", f.store.count())
	}
	if f.svc.IsTracked(ctx, key1) {
		t.Fatal("expected tracked entry to be removed")
	}

	ticket := f.store.get("M1")
	if ticket.Title != "VPN is down" {
		t.Fatalf("unexpected title %q", ticket.Title)
	}
	if ticket.Description != "VPN is down\nsince 9am & counting" {
		t.Fatalf("unexpected description %q", ticket.Description)
	}
	if ticket.Channel != "Help Desk" || ticket.ApproverEmail != "Alice@Example.com" || ticket.RequesterEmail != "eve@example.com" {
		t.Fatalf("unexpected identities %+v", ticket)
	}
	if !ticket.ApprovedAt.Equal(time.Date(2025, 3, 14, 9, 5, 0, 0, time.UTC)) {
		t.Fatalf("expected reaction time as approval time, got %s", ticket.ApprovedAt)
	}
	if len(ticket.AttachmentURLs) != 1 {
		t.Fatalf("expected attachment url, got %v", ticket.AttachmentURLs)
	}
	if f.eventCount(events.EventTicketCreated) != 1 {
		t.Fatal("expected ticket_created event")
	}
}

func TestUnauthorizedApproverCreatesNoTicket(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	f.graph.setMessage(key1, withReaction(baseMessage(), testMarker, "u-eve"))

	outcome, err := f.svc.HandleNotification(ctx, created("/teams/T1/channels/C1/messages/M1"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome != OutcomeUnauthorized {
		t.Fatalf("expected unauthorized, got %s", outcome)
	}
	if f.store.count() != 0 {
		t.Fatal("no ticket expected for unauthorized approver")
	}
	if !f.svc.IsTracked(ctx, key1) {
		t.Fatal("expected message to stay tracked for a later allowed approver")
	}
	if f.eventCount(events.EventApprovalRejected) != 1 {
		t.Fatal("expected approval_rejected event")
	}
}

func TestUnknownUserFallsBackToRawID(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	f.svc.allowed["raw-id-7"] = struct{}{}
	f.graph.setMessage(key1, withReaction(baseMessage(), testMarker, "raw-id-7"))

	outcome, err := f.svc.HandleNotification(ctx, created("/teams/T1/channels/C1/messages/M1"))
	if err != nil || outcome != OutcomeCreated {
		t.Fatalf("expected created, got %s %v", outcome, err)
	}
	if got := f.store.get("M1").ApproverEmail; got != "raw-id-7" {
		t.Fatalf("expected raw id fallback, got %q", got)
	}
}

func TestAllowedApproverAmongSeveralReactions(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	msg := withReaction(baseMessage(), "like", "u-alice")
	msg = withReaction(msg, testMarker, "u-eve")
	msg = withReaction(msg, testMarker, "u-bob")
	f.graph.setMessage(key1, msg)

	outcome, _ := f.svc.HandleNotification(ctx, created("/teams/T1/channels/C1/messages/M1"))
	if outcome != OutcomeCreated {
		t.Fatalf("expected created, got %s", outcome)
	}
	if got := f.store.get("M1").ApproverEmail; got != "bob@example.com" {
		t.Fatalf("expected bob as approver, got %q", got)
	}
}

func TestConcurrentDeliveriesCreateOneTicket(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	f.store.delay = 20 * time.Millisecond
	f.graph.setMessage(key1, withReaction(baseMessage(), testMarker, "u-alice"))

	var wg sync.WaitGroup
	results := make([]Outcome, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = f.svc.HandleNotification(ctx, created("/teams/T1/channels/C1/messages/M1"))
		}(i)
	}
	wg.Wait()

	if f.store.count() != 1 {
		t.Fatalf("expected exactly one ticket, got %d", f.store.count())
	}
	createdN, dupN := 0, 0
	for _, o := range results {
		switch o {
		case OutcomeCreated:
			createdN++
		case OutcomeDuplicate:
			dupN++
		}
	}
	if createdN != 1 || dupN != 1 {
		t.Fatalf("expected one created and one duplicate, got %v", results)
	}
}

func TestRepeatedDeliveryAfterClaimExpiryIsDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	f.svc.claims = repository.NewMemoryTicketClaimRepository()
	f.svc.cfg.ClaimTTL = time.Nanosecond
	f.graph.setMessage(key1, withReaction(baseMessage(), testMarker, "u-alice"))

	first, _ := f.svc.HandleNotification(ctx, created("/teams/T1/channels/C1/messages/M1"))
	time.Sleep(time.Millisecond)
	second, _ := f.svc.HandleNotification(ctx, created("/teams/T1/channels/C1/messages/M1"))
	if first != OutcomeCreated || second != OutcomeDuplicate {
		t.Fatalf("expected created then duplicate, got %s then %s", first, second)
	}
	if f.store.count() != 1 {
		t.Fatalf("expected one ticket, got %d", f.store.count())
	}
}

func TestStoreFailureRetracksAndReleasesClaim(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	f.store.fail = errors.New("notion unavailable")
	f.graph.setMessage(key1, withReaction(baseMessage(), testMarker, "u-alice"))

	outcome, err := f.svc.HandleNotification(ctx, created("/teams/T1/channels/C1/messages/M1"))
	if err == nil || outcome != OutcomeFailed {
		t.Fatalf("expected failure, got %s %v", outcome, err)
	}
	if !f.svc.IsTracked(ctx, key1) {
		t.Fatal("expected message to be tracked for retry")
	}

	f.store.fail = nil
	outcome, err = f.svc.CheckTracked(ctx, key1)
	if err != nil || outcome != OutcomeCreated {
		t.Fatalf("expected retry to create, got %s %v", outcome, err)
	}
}

func TestBatchIsolatesFailuresAndFilters(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	f.graph.setMessage(key1, withReaction(baseMessage(), testMarker, "u-alice"))

	spoofed := created("/teams/T1/channels/C1/messages/M1")
	spoofed.ClientState = "wrong"
	deleted := created("/teams/T1/channels/C1/messages/M1")
	deleted.ChangeType = domain.ChangeDeleted
	missing := created("/teams/T1/channels/C1/messages/MISSING")

	key2 := domain.MessageKey{TeamID: "T1", ChannelID: "C1", MessageID: "M2"}
	second := withReaction(baseMessage(), testMarker, "u-bob")
	second.ID = "M2"
	f.graph.setMessage(key2, second)
	stateless := created("/teams/T1/channels/C1/messages/M2")
	stateless.ClientState = ""

	outcomes := f.svc.HandleBatch(ctx, domain.NotificationBatch{Value: []domain.ChangeNotification{
		spoofed,
		created("/users/u1/events/e1"),
		deleted,
		missing,
		created("/teams/T1/channels/C1/messages/M1"),
		stateless,
	}})
	want := []Outcome{OutcomeRejected, OutcomeIgnored, OutcomeIgnored, OutcomeFailed, OutcomeCreated, OutcomeCreated}
	if len(outcomes) != len(want) {
		t.Fatalf("unexpected outcomes %v", outcomes)
	}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Fatalf("outcome %d: want %s, got %s (all %v)", i, want[i], outcomes[i], outcomes)
		}
	}
	if f.metrics.Counter("notifications.created") != 2 {
		t.Fatal("expected created counter")
	}
	if f.store.count() != 2 {
		t.Fatalf("expected tickets for M1 and M2, got %d", f.store.count())
	}
}

func TestLostClaimLeavesTrackedEntryToHolder(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	f.graph.setMessage(key1, withReaction(baseMessage(), testMarker, "u-alice"))
	_ = f.tracked.Track(ctx, key1, time.Now())
	if ok, _ := f.svc.claims.Claim(ctx, key1.MessageID, time.Minute); !ok {
		t.Fatal("expected to take the claim first")
	}

	outcome, err := f.svc.HandleNotification(ctx, created("/teams/T1/channels/C1/messages/M1"))
	if err != nil || outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s %v", outcome, err)
	}
	if !f.svc.IsTracked(ctx, key1) {
		t.Fatal("losing a claim must not drop the message from the pending set")
	}
	if f.store.count() != 0 {
		t.Fatalf("expected no ticket from the losing caller, got %d", f.store.count())
	}
}

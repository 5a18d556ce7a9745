package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/teams-ticket-relay/internal/domain"
	"github.com/spec-kit/teams-ticket-relay/internal/observability"
	"github.com/spec-kit/teams-ticket-relay/internal/repository"
	"github.com/spec-kit/teams-ticket-relay/internal/service"
)

type fakeChecker struct {
	mu       sync.Mutex
	calls    []domain.MessageKey
	outcomes map[string]service.Outcome
	errs     map[string]error
	tracked  repository.TrackedMessageRepository
}

func (f *fakeChecker) CheckTracked(ctx context.Context, key domain.MessageKey) (service.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	if err := f.errs[key.MessageID]; err != nil {
		return service.OutcomeFailed, err
	}
	outcome := f.outcomes[key.MessageID]
	if outcome == service.OutcomeCreated {
		_ = f.tracked.Remove(ctx, key)
	}
	return outcome, nil
}

func msgKey(id string) domain.MessageKey {
	return domain.MessageKey{TeamID: "T", ChannelID: "C", MessageID: id}
}

func TestPollOnceDropsExpiredAndIsolatesErrors(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	tracked := repository.NewMemoryTrackedMessageRepository()
	_ = tracked.Track(ctx, msgKey("old"), now.Add(-6*time.Minute))
	_ = tracked.Track(ctx, msgKey("broken"), now.Add(-2*time.Minute))
	_ = tracked.Track(ctx, msgKey("approved"), now.Add(-time.Minute))
	_ = tracked.Track(ctx, msgKey("waiting"), now.Add(-30*time.Second))

	checker := &fakeChecker{
		outcomes: map[string]service.Outcome{"approved": service.OutcomeCreated, "waiting": service.OutcomePending},
		errs:     map[string]error{"broken": errors.New("graph unavailable")},
		tracked:  tracked,
	}
	metrics := observability.NewMetrics()
	poller := NewReactionPoller(checker, tracked, time.Hour, 5*time.Minute, metrics, zap.NewNop())
	poller.now = func() time.Time { return now }

	summary := poller.PollOnce(ctx)
	if summary.Expired != 1 || summary.Checked != 3 || summary.Failed != 1 || summary.Created != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	for _, call := range checker.calls {
		if call.MessageID == "old" {
			t.Fatal("expired message must not be re-fetched")
		}
	}
	if ok, _ := tracked.Contains(ctx, msgKey("old")); ok {
		t.Fatal("expected expired message to be dropped")
	}
	if ok, _ := tracked.Contains(ctx, msgKey("approved")); ok {
		t.Fatal("expected approved message to be removed")
	}
	if ok, _ := tracked.Contains(ctx, msgKey("waiting")); !ok {
		t.Fatal("expected pending message to stay tracked")
	}
	if metrics.Counter("poller.expired") != 1 {
		t.Fatal("expected expired counter")
	}
}

func TestReactionPollerStops(t *testing.T) {
	tracked := repository.NewMemoryTrackedMessageRepository()
	poller := NewReactionPoller(&fakeChecker{tracked: tracked}, tracked, 5*time.Millisecond, time.Minute, nil, zap.NewNop())

	go poller.Run(context.Background())
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		poller.Stop()
		poller.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestReactionPollerDefaultsZeroDurations(t *testing.T) {
	tracked := repository.NewMemoryTrackedMessageRepository()
	poller := NewReactionPoller(&fakeChecker{tracked: tracked}, tracked, 0, 0, nil, zap.NewNop())
	if poller.interval != DefaultPollInterval || poller.retention != DefaultPollRetention {
		t.Fatalf("expected defaults, got interval %s retention %s", poller.interval, poller.retention)
	}

	go poller.Run(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller built with zero interval did not stop")
	}
}

type fakeRenewer struct {
	calls atomic.Int32
	err   error
	block bool
}

func (f *fakeRenewer) RenewExpiring(ctx context.Context, threshold time.Duration) (service.RenewalSummary, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return service.RenewalSummary{}, ctx.Err()
	}
	if f.err != nil {
		return service.RenewalSummary{}, f.err
	}
	return service.RenewalSummary{Total: 2, Renewed: 1, Skipped: 1}, nil
}

func TestRenewalMonitorStartStopAreIdempotent(t *testing.T) {
	renewer := &fakeRenewer{}
	monitor := NewRenewalMonitor(context.Background(), renewer, time.Hour, 0, zap.NewNop())

	if _, stopped := monitor.Stop(); stopped {
		t.Fatal("stop on idle monitor must be a no-op")
	}
	status, started := monitor.Start(10 * time.Millisecond)
	if !started || !status.Running {
		t.Fatalf("expected running monitor, got %+v", status)
	}
	if _, again := monitor.Start(0); again {
		t.Fatal("second start must be a no-op")
	}

	deadline := time.Now().Add(time.Second)
	for renewer.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if renewer.calls.Load() < 2 {
		t.Fatalf("expected repeated checks, got %d", renewer.calls.Load())
	}

	status, stopped := monitor.Stop()
	if !stopped || status.Running {
		t.Fatalf("expected stopped monitor, got %+v", status)
	}
	if status.LastCheck == nil || status.LastSummary == nil || status.LastSummary.Renewed != 1 {
		t.Fatalf("expected recorded summary, got %+v", status)
	}
	if status.Threshold != int(service.RenewalThreshold.Seconds()) {
		t.Fatalf("unexpected threshold %d", status.Threshold)
	}
}

func TestRenewalMonitorDefaultsZeroInterval(t *testing.T) {
	monitor := NewRenewalMonitor(context.Background(), &fakeRenewer{}, 0, 0, zap.NewNop())
	if got := monitor.Status().CheckInterval; got != int(DefaultRenewalInterval.Seconds()) {
		t.Fatalf("expected default interval, got %ds", got)
	}

	status, started := monitor.Start(0)
	if !started || !status.Running {
		t.Fatalf("expected running monitor, got %+v", status)
	}
	if status, stopped := monitor.Stop(); !stopped || status.Running {
		t.Fatalf("expected stopped monitor, got %+v", status)
	}
}

func TestRenewalMonitorSurvivesFailures(t *testing.T) {
	renewer := &fakeRenewer{err: errors.New("list failed")}
	monitor := NewRenewalMonitor(context.Background(), renewer, 5*time.Millisecond, 0, zap.NewNop())
	monitor.Start(0)
	defer monitor.Stop()

	deadline := time.Now().Add(time.Second)
	for renewer.calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if renewer.calls.Load() < 3 {
		t.Fatalf("expected loop to keep ticking after failures, got %d calls", renewer.calls.Load())
	}
	if status := monitor.Status(); !status.Running || status.LastError == "" {
		t.Fatalf("expected running monitor with last error, got %+v", status)
	}
}

func TestRenewalMonitorStopCancelsInFlightCheck(t *testing.T) {
	renewer := &fakeRenewer{block: true}
	monitor := NewRenewalMonitor(context.Background(), renewer, time.Hour, 0, zap.NewNop())
	monitor.Start(0)

	deadline := time.Now().Add(time.Second)
	for renewer.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	done := make(chan struct{})
	go func() {
		monitor.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop waited on an in-flight renewal")
	}
}

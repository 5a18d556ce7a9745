package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/teams-ticket-relay/internal/domain"
	"github.com/spec-kit/teams-ticket-relay/internal/observability"
	"github.com/spec-kit/teams-ticket-relay/internal/repository"
	"github.com/spec-kit/teams-ticket-relay/internal/service"
)

// Poller defaults used when the caller passes a non-positive duration.
const (
	DefaultPollInterval  = 30 * time.Second
	DefaultPollRetention = 5 * time.Minute
)

// ApprovalChecker re-evaluates a tracked message.
type ApprovalChecker interface {
	CheckTracked(ctx context.Context, key domain.MessageKey) (service.Outcome, error)
}

// PollSummary reports one poll tick.
type PollSummary struct {
	Checked int
	Expired int
	Created int
	Failed  int
}

// ReactionPoller re-fetches recently seen messages because Graph sends no change
// notification when a reaction is added.
type ReactionPoller struct {
	checker   ApprovalChecker
	tracked   repository.TrackedMessageRepository
	interval  time.Duration
	retention time.Duration
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time

	stopOnce  sync.Once
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewReactionPoller creates a poller.
func NewReactionPoller(checker ApprovalChecker, tracked repository.TrackedMessageRepository, interval, retention time.Duration, metrics *observability.Metrics, logger *zap.Logger) *ReactionPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if retention <= 0 {
		retention = DefaultPollRetention
	}
	return &ReactionPoller{
		checker:   checker,
		tracked:   tracked,
		interval:  interval,
		retention: retention,
		metrics:   metrics,
		logger:    logger.Named("reaction_poller"),
		now:       time.Now,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled or Stop is called.
func (p *ReactionPoller) Run(ctx context.Context) {
	defer close(p.stoppedCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("reaction poller started",
		zap.Duration("interval", p.interval),
		zap.Duration("retention", p.retention))

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			p.logger.Info("reaction poller stopping")
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// Stop signals the loop and waits for it to exit.
func (p *ReactionPoller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.stoppedCh
}

// PollOnce checks every tracked message once. Per-message errors are logged.
func (p *ReactionPoller) PollOnce(ctx context.Context) PollSummary {
	var summary PollSummary
	snapshot, err := p.tracked.Snapshot(ctx)
	if err != nil {
		p.logger.Error("snapshot tracked messages failed", zap.Error(err))
		return summary
	}
	if len(snapshot) == 0 {
		return summary
	}
	p.logger.Debug("polling tracked messages", zap.Int("count", len(snapshot)))

	now := p.now()
	for _, msg := range snapshot {
		if ctx.Err() != nil {
			return summary
		}
		if now.Sub(msg.FirstSeen) > p.retention {
			if err := p.tracked.Remove(ctx, msg.Key); err != nil {
				p.logger.Warn("drop expired message failed", zap.String("message_id", msg.Key.MessageID), zap.Error(err))
			}
			summary.Expired++
			continue
		}

		summary.Checked++
		outcome, err := p.checker.CheckTracked(ctx, msg.Key)
		if err != nil {
			summary.Failed++
			p.logger.Warn("poll message failed",
				zap.String("message_id", msg.Key.MessageID),
				zap.String("outcome", string(outcome)),
				zap.Error(err))
			continue
		}
		if outcome == service.OutcomeCreated {
			summary.Created++
		}
	}

	p.metrics.Add("poller.checked", int64(summary.Checked))
	p.metrics.Add("poller.expired", int64(summary.Expired))
	p.metrics.Add("poller.failed", int64(summary.Failed))
	return summary
}

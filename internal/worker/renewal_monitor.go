package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/teams-ticket-relay/internal/service"
)

// DefaultRenewalInterval is used when the monitor is built without a positive interval.
const DefaultRenewalInterval = 5 * time.Minute

// Renewer renews subscriptions close to expiry.
type Renewer interface {
	RenewExpiring(ctx context.Context, threshold time.Duration) (service.RenewalSummary, error)
}

// MonitorStatus describes the renewal loop.
type MonitorStatus struct {
	Running       bool                    `json:"running"`
	CheckInterval int                     `json:"check_interval"`
	Threshold     int                     `json:"threshold_seconds"`
	LastCheck     *time.Time              `json:"last_check"`
	LastSummary   *service.RenewalSummary `json:"last_summary,omitempty"`
	LastError     string                  `json:"last_error,omitempty"`
}

// RenewalMonitor periodically renews expiring subscriptions. Start and Stop are idempotent.
type RenewalMonitor struct {
	renewer   Renewer
	threshold time.Duration
	logger    *zap.Logger
	base      context.Context

	mu          sync.Mutex
	interval    time.Duration
	cancel      context.CancelFunc
	done        chan struct{}
	lastCheck   *time.Time
	lastSummary *service.RenewalSummary
	lastError   string
}

// NewRenewalMonitor creates a stopped monitor. Loops started later derive from base.
func NewRenewalMonitor(base context.Context, renewer Renewer, interval, threshold time.Duration, logger *zap.Logger) *RenewalMonitor {
	if interval <= 0 {
		interval = DefaultRenewalInterval
	}
	if threshold <= 0 {
		threshold = service.RenewalThreshold
	}
	return &RenewalMonitor{
		renewer:   renewer,
		threshold: threshold,
		logger:    logger.Named("renewal_monitor"),
		base:      base,
		interval:  interval,
	}
}

// Start launches the loop. When interval is positive it replaces the configured one.
// It reports false when the loop was already running.
func (m *RenewalMonitor) Start(interval time.Duration) (MonitorStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return m.statusLocked(), false
	}
	if interval > 0 {
		m.interval = interval
	}

	ctx, cancel := context.WithCancel(m.base)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.interval, m.done)

	m.logger.Info("renewal monitor started", zap.Duration("interval", m.interval), zap.Duration("threshold", m.threshold))
	return m.statusLocked(), true
}

// Stop cancels the loop, including any in-flight renewal, and waits for it to exit.
// It reports false when the loop was not running.
func (m *RenewalMonitor) Stop() (MonitorStatus, bool) {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return m.Status(), false
	}
	cancel()
	<-done
	m.logger.Info("renewal monitor stopped")
	return m.Status(), true
}

// Status returns the current state.
func (m *RenewalMonitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// CheckNow runs one renewal pass and records its result.
func (m *RenewalMonitor) CheckNow(ctx context.Context) (service.RenewalSummary, error) {
	summary, err := m.renewer.RenewExpiring(ctx, m.threshold)
	now := time.Now().UTC()

	m.mu.Lock()
	m.lastCheck = &now
	if err != nil {
		m.lastError = err.Error()
	} else {
		m.lastError = ""
		m.lastSummary = &summary
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("renewal check failed", zap.Error(err))
		return summary, err
	}
	m.logger.Info("renewal check complete",
		zap.Int("total", summary.Total),
		zap.Int("renewed", summary.Renewed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped))
	return summary, nil
}

func (m *RenewalMonitor) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *RenewalMonitor) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("renewal check panicked", zap.Any("panic", r))
		}
	}()
	if ctx.Err() != nil {
		return
	}
	_, _ = m.CheckNow(ctx)
}

func (m *RenewalMonitor) statusLocked() MonitorStatus {
	return MonitorStatus{
		Running:       m.cancel != nil,
		CheckInterval: int(m.interval.Seconds()),
		Threshold:     int(m.threshold.Seconds()),
		LastCheck:     m.lastCheck,
		LastSummary:   m.lastSummary,
		LastError:     m.lastError,
	}
}

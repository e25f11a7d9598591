package safety

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Conxian/conxian-nexus/internal/alert"
	"github.com/Conxian/conxian-nexus/internal/domain/model"
	"github.com/Conxian/conxian-nexus/internal/metrics"
)

const (
	// DefaultDriftThreshold is the hard-height drift above which the
	// node enters safety mode.
	DefaultDriftThreshold = 2
	// DefaultRecoverySamples is how many consecutive in-threshold
	// samples are required before leaving safety mode.
	DefaultRecoverySamples = 3

	defaultHeartbeatInterval = 10 * time.Second
	defaultQueryTimeout      = 5 * time.Second
	defaultFailureThreshold  = 3
	sampleHistorySize        = 64
)

// HeightSource is the tracker's height read surface.
type HeightSource interface {
	HeightSnapshot() model.HeightSnapshot
}

// RemoteHeight queries the authoritative chain height.
type RemoteHeight interface {
	TipHeight(ctx context.Context) (int64, error)
}

// StatusPublisher broadcasts safety transitions to external consumers.
type StatusPublisher interface {
	PublishSafetyStatus(ctx context.Context, status model.SafetyStatus, drift int64) error
}

// decide is the transition rule as a pure function: given the current
// status, the recovery streak so far and a fresh drift sample, it
// returns the next status and streak. Entering safety mode requires a
// single out-of-threshold sample; leaving it requires recoverySamples
// consecutive in-threshold ones so a lone good sample cannot flap the
// node back to normal.
func decide(status model.SafetyStatus, streak int, drift, threshold int64, recoverySamples int) (model.SafetyStatus, int) {
	if status == model.SafetyStatusNormal {
		if drift > threshold {
			return model.SafetyStatusSafety, 0
		}
		return model.SafetyStatusNormal, 0
	}

	if drift > threshold {
		return model.SafetyStatusSafety, 0
	}
	streak++
	if streak >= recoverySamples {
		return model.SafetyStatusNormal, 0
	}
	return model.SafetyStatusSafety, streak
}

// Monitor compares the tracked hard height against the remote chain on
// a heartbeat and drives the process-wide safety state machine. It is
// the single writer of the safety status; everything else only reads.
type Monitor struct {
	local     HeightSource
	remote    RemoteHeight
	publisher StatusPublisher
	alerter   alert.Alerter
	logger    *slog.Logger
	nowFn     func() time.Time

	interval         time.Duration
	queryTimeout     time.Duration
	threshold        int64
	recoverySamples  int
	failureThreshold int

	mu             sync.RWMutex
	status         model.SafetyStatus
	streak         int
	lastTransition time.Time
	lastDrift      int64
	driftKnown     bool
	failures       int
	samples        []model.DriftSample
}

type Option func(*Monitor)

func WithHeartbeatInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithQueryTimeout bounds each remote height query so a hung remote
// cannot stall the heartbeat loop.
func WithQueryTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.queryTimeout = d
		}
	}
}

func WithDriftThreshold(blocks int64) Option {
	return func(m *Monitor) {
		if blocks > 0 {
			m.threshold = blocks
		}
	}
}

// WithRecoverySamples sets how many consecutive in-threshold samples
// are required to leave safety mode.
func WithRecoverySamples(k int) Option {
	return func(m *Monitor) {
		if k > 0 {
			m.recoverySamples = k
		}
	}
}

// WithStatusPublisher broadcasts every transition over the publisher.
func WithStatusPublisher(p StatusPublisher) Option {
	return func(m *Monitor) { m.publisher = p }
}

// WithAlerter pages operators on transitions and degraded health.
func WithAlerter(a alert.Alerter) Option {
	return func(m *Monitor) { m.alerter = a }
}

func WithMonitorLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l.With("component", "safety_monitor") }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.nowFn = now }
}

func New(local HeightSource, remote RemoteHeight, opts ...Option) *Monitor {
	m := &Monitor{
		local:            local,
		remote:           remote,
		logger:           slog.Default().With("component", "safety_monitor"),
		nowFn:            time.Now,
		interval:         defaultHeartbeatInterval,
		queryTimeout:     defaultQueryTimeout,
		threshold:        DefaultDriftThreshold,
		recoverySamples:  DefaultRecoverySamples,
		failureThreshold: defaultFailureThreshold,
		status:           model.SafetyStatusNormal,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run heartbeats until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("safety monitor started",
		"interval", m.interval,
		"drift_threshold", m.threshold,
		"recovery_samples", m.recoverySamples,
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Sample(ctx)

		select {
		case <-ctx.Done():
			m.logger.Info("safety monitor stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sample takes one drift sample and applies the transition rule. When the
// remote height query fails, drift is unknown: no sample is recorded
// and the status does not change.
func (m *Monitor) Sample(ctx context.Context) {
	queryCtx, cancel := context.WithTimeout(ctx, m.queryTimeout)
	remote, err := m.remote.TipHeight(queryCtx)
	cancel()

	if err != nil {
		m.recordFailure(ctx, err)
		return
	}

	local := m.local.HeightSnapshot().Hard
	drift := remote - local
	now := m.nowFn().UTC()

	m.mu.Lock()
	m.failures = 0
	m.lastDrift = drift
	m.driftKnown = true
	m.samples = append(m.samples, model.DriftSample{
		LocalHardHeight: local,
		RemoteHeight:    remote,
		Drift:           drift,
		SampledAt:       now,
	})
	if len(m.samples) > sampleHistorySize {
		m.samples = m.samples[len(m.samples)-sampleHistorySize:]
	}

	prev := m.status
	m.status, m.streak = decide(prev, m.streak, drift, m.threshold, m.recoverySamples)
	next := m.status
	if next != prev {
		m.lastTransition = now
	}
	m.mu.Unlock()

	metrics.DriftSamplesTotal.Inc()
	metrics.DriftBlocks.Set(float64(drift))

	if next != prev {
		m.onTransition(ctx, prev, next, drift)
	}
}

func (m *Monitor) recordFailure(ctx context.Context, err error) {
	m.mu.Lock()
	m.failures++
	m.driftKnown = false
	failures := m.failures
	m.mu.Unlock()

	metrics.HeartbeatFailuresTotal.Inc()
	m.logger.Warn("remote height query failed, drift unknown",
		"error", err,
		"consecutive_failures", failures,
	)

	if failures == m.failureThreshold && m.alerter != nil {
		sendErr := m.alerter.Send(ctx, alert.Alert{
			Type:    alert.AlertTypeDegraded,
			Source:  "drift-monitor",
			Title:   "remote height unreachable",
			Message: "heartbeat cannot compute drift",
			Fields:  map[string]string{"consecutive_failures": fmt.Sprintf("%d", failures)},
		})
		if sendErr != nil {
			m.logger.Warn("degraded alert failed", "error", sendErr)
		}
	}
}

func (m *Monitor) onTransition(ctx context.Context, prev, next model.SafetyStatus, drift int64) {
	direction := "exit"
	active := 0.0
	if next == model.SafetyStatusSafety {
		direction = "enter"
		active = 1.0
	}
	metrics.SafetyTransitionsTotal.WithLabelValues(direction).Inc()
	metrics.SafetyModeActive.Set(active)

	m.logger.Warn("safety status transition",
		"from", prev.String(),
		"to", next.String(),
		"drift", drift,
	)

	if m.publisher != nil {
		if err := m.publisher.PublishSafetyStatus(ctx, next, drift); err != nil {
			m.logger.Warn("safety status broadcast failed", "error", err)
		}
	}

	if m.alerter != nil {
		a := alert.Alert{
			Type:    alert.AlertTypeSafetyMode,
			Source:  "drift-monitor",
			Title:   "safety mode entered",
			Message: "hard-height drift exceeded threshold",
			Fields: map[string]string{
				"drift":     fmt.Sprintf("%d", drift),
				"threshold": fmt.Sprintf("%d", m.threshold),
			},
		}
		if next == model.SafetyStatusNormal {
			a.Type = alert.AlertTypeRecovery
			a.Title = "safety mode cleared"
			a.Message = "drift back within threshold"
		}
		if err := m.alerter.Send(ctx, a); err != nil {
			m.logger.Warn("transition alert failed", "error", err)
		}
	}
}

// Status returns the current safety status.
func (m *Monitor) Status() model.SafetyStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// DirectWithdrawalEnabled reports whether the fallback direct
// withdrawal capability is available. It is enabled only in safety
// mode.
func (m *Monitor) DirectWithdrawalEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status == model.SafetyStatusSafety
}

// Drift returns the last computed drift. The second return is false
// when drift is currently unknown because the remote is unreachable.
func (m *Monitor) Drift() (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastDrift, m.driftKnown
}

// Degraded reports whether the remote height query has failed enough
// consecutive times to consider health degraded. Distinct from safety
// mode: an unreachable remote is unknown drift, not excessive drift.
func (m *Monitor) Degraded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failures >= m.failureThreshold
}

// LastTransition returns when the status last changed; zero if never.
func (m *Monitor) LastTransition() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastTransition
}

// RecentSamples returns a copy of the retained drift samples, oldest
// first.
func (m *Monitor) RecentSamples() []model.DriftSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.DriftSample, len(m.samples))
	copy(out, m.samples)
	return out
}

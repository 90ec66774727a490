package monitoring

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/pma-monitor/internal/adapters/feed"
	"github.com/frostdev-ops/pma-monitor/internal/adapters/sources"
	"github.com/frostdev-ops/pma-monitor/internal/core/alerts"
	"github.com/frostdev-ops/pma-monitor/internal/core/audit"
	"github.com/frostdev-ops/pma-monitor/internal/core/automation"
	"github.com/frostdev-ops/pma-monitor/internal/core/metrics"
	"github.com/frostdev-ops/pma-monitor/internal/core/notifications"
	"github.com/frostdev-ops/pma-monitor/internal/core/workflow"
)

// Threshold clear policies
const (
	ClearManual = "manual"
	ClearAuto   = "auto"
)

// LoopOptions configures the monitoring loop
type LoopOptions struct {
	TickInterval            time.Duration
	DecisionInterval        time.Duration
	SourceTimeout           time.Duration
	ClearPolicy             string
	PredictionMinConfidence float64
	PersistSnapshots        bool
	SnapshotRetention       time.Duration
	MaxPendingEvents        int
}

func (o *LoopOptions) applyDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = 5 * time.Second
	}
	if o.DecisionInterval <= 0 {
		o.DecisionInterval = 60 * time.Second
	}
	if o.SourceTimeout <= 0 {
		o.SourceTimeout = 4 * time.Second
	}
	if o.ClearPolicy == "" {
		o.ClearPolicy = ClearManual
	}
	if o.PredictionMinConfidence <= 0 {
		o.PredictionMinConfidence = 0.7
	}
	if o.MaxPendingEvents <= 0 {
		o.MaxPendingEvents = 1000
	}
}

// Loop drives metric refresh, threshold checks and feed polling on one
// schedule and decision-rule processing on another. A tick that fires while
// the previous one is still in flight is skipped.
type Loop struct {
	opts      LoopOptions
	logger    *logrus.Logger
	registry  *metrics.Registry
	alerts    *alerts.Manager
	router    *notifications.Router
	processor *automation.Processor
	workflows *workflow.Engine
	provider  sources.Provider
	feed      feed.Feed
	exporter  *metrics.Exporter
	recorder  *audit.Recorder

	busy     int32
	deciding int32
	ticks    uint64
	skipped  uint64

	mu       sync.RWMutex
	cron     *cron.Cron
	running  bool
	lastTick time.Time
	pending  []automation.Event
	now      func() time.Time
}

// Running reports whether the schedules are active
func (l *Loop) Running() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}

// LastUpdate returns the completion time of the most recent tick
func (l *Loop) LastUpdate() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastTick
}

// PendingEvents returns the number of events waiting for the decision tick
func (l *Loop) PendingEvents() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pending)
}

// Counters returns completed and skipped tick counts
func (l *Loop) Counters() (ticks, skipped uint64) {
	return atomic.LoadUint64(&l.ticks), atomic.LoadUint64(&l.skipped)
}

// Start schedules the monitoring and decision ticks
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return fmt.Errorf("monitoring loop is already running")
	}

	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", l.opts.TickInterval), func() {
		l.Tick(context.Background())
	}); err != nil {
		return fmt.Errorf("failed to schedule monitoring tick: %w", err)
	}
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", l.opts.DecisionInterval), func() {
		l.DecisionTick(context.Background())
	}); err != nil {
		return fmt.Errorf("failed to schedule decision tick: %w", err)
	}

	c.Start()
	l.cron = c
	l.running = true

	l.logger.WithFields(logrus.Fields{
		"tick_interval":     l.opts.TickInterval.String(),
		"decision_interval": l.opts.DecisionInterval.String(),
		"clear_policy":      l.opts.ClearPolicy,
	}).Info("Monitoring loop started")
	return nil
}

// Stop cancels the schedules. The returned context is done once any
// in-flight tick has finished.
func (l *Loop) Stop() context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	l.running = false
	l.logger.Info("Monitoring loop stopping")
	return l.cron.Stop()
}

// Tick runs one monitoring pass. It returns false without doing anything
// when another tick is still running.
func (l *Loop) Tick(ctx context.Context) bool {
	if !atomic.CompareAndSwapInt32(&l.busy, 0, 1) {
		atomic.AddUint64(&l.skipped, 1)
		l.exporter.RecordSkippedTick()
		l.logger.Debug("Monitoring tick skipped, previous tick still running")
		return false
	}
	defer atomic.StoreInt32(&l.busy, 0)

	start := time.Now()
	l.guard("monitoring tick", func() { l.tick(ctx) })

	atomic.AddUint64(&l.ticks, 1)
	l.exporter.ObserveTick(time.Since(start))
	l.mu.Lock()
	l.lastTick = l.clock()
	l.mu.Unlock()
	return true
}

// DecisionTick feeds buffered events to the rule processor and to
// event-triggered workflows. Overlapping calls are skipped.
func (l *Loop) DecisionTick(ctx context.Context) bool {
	if !atomic.CompareAndSwapInt32(&l.deciding, 0, 1) {
		l.logger.Debug("Decision tick skipped, previous tick still running")
		return false
	}
	defer atomic.StoreInt32(&l.deciding, 0)

	l.guard("decision tick", func() { l.decide(ctx) })
	return true
}

func (l *Loop) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Errorf("Recovered from panic in %s", name)
		}
	}()
	fn()
}

func (l *Loop) clock() time.Time {
	if l.now == nil {
		return time.Now()
	}
	return l.now()
}

func (l *Loop) tick(ctx context.Context) {
	updated := l.refreshMetrics(ctx)
	l.checkThresholds(updated)
	l.pollFeed(ctx)

	if expired := l.alerts.SweepExpired(); len(expired) > 0 {
		l.logger.WithField("count", len(expired)).Info("Alerts expired")
	}

	for _, a := range l.alerts.DrainPending() {
		l.exporter.RecordAlert(string(a.Severity), string(a.Type))
		res := l.router.Dispatch(ctx, a)
		if res.Failed > 0 {
			l.logger.WithFields(logrus.Fields{
				"alert_id": a.ID,
				"failed":   res.Failed,
			}).Warn("Alert notification failed on some channels")
		}
	}
	l.exporter.SetOpenAlerts(l.alerts.OpenCount())

	if l.opts.PersistSnapshots && l.recorder != nil && len(updated) > 0 {
		l.recorder.RecordSnapshots(updated, l.clock())
	}
}

// refreshMetrics reads every registered metric from the provider. A failed
// read leaves the previous value in place.
func (l *Loop) refreshMetrics(ctx context.Context) []metrics.Metric {
	if l.provider == nil {
		return nil
	}

	var updated []metrics.Metric
	for _, id := range l.registry.IDs() {
		readCtx, cancel := context.WithTimeout(ctx, l.opts.SourceTimeout)
		value, err := l.provider.Value(readCtx, id)
		cancel()

		if err != nil {
			if !errors.Is(err, sources.ErrUnsupported) {
				l.logger.WithError(err).WithField("metric", id).Warn("Metric source unavailable, keeping previous value")
			}
			continue
		}

		m, ok := l.registry.Update(id, value)
		if !ok {
			continue
		}
		l.exporter.ObserveMetric(m)
		updated = append(updated, m)
	}
	return updated
}

// checkThresholds raises alerts from the snapshot taken by this tick
func (l *Loop) checkThresholds(snapshot []metrics.Metric) {
	for _, m := range snapshot {
		// Never sampled; the zero value would breach below-direction thresholds
		if m.UpdatedAt.IsZero() {
			continue
		}
		breach, ok := metrics.Evaluate(m)
		if !ok {
			if l.opts.ClearPolicy == ClearAuto && m.Threshold != nil {
				if l.alerts.ResolveOpenFor(m.ID, alerts.TypeThreshold, "system", fmt.Sprintf("%s back within thresholds at %g", m.ID, m.Value)) {
					l.logger.WithField("metric", m.ID).Info("Threshold alert cleared")
				}
			}
			continue
		}

		alert, created := l.alerts.Raise(thresholdCandidate(m, breach))
		if !created {
			continue
		}

		l.enqueue(automation.ThresholdEvent{
			Upstream: automation.Upstream{
				EntityType:  "metric",
				EntityID:    m.ID,
				Severity:    string(breach.Level),
				Score:       1,
				Description: alert.Description,
				Timestamp:   m.UpdatedAt,
			},
			Metric:    m.ID,
			Value:     breach.Value,
			Threshold: breach.Threshold,
			Level:     string(breach.Level),
			Trend:     string(breach.Trend),
		})
	}
}

func thresholdCandidate(m metrics.Metric, b metrics.Breach) alerts.Candidate {
	severity := alerts.SeverityWarning
	if b.Level == metrics.LevelCritical {
		severity = alerts.SeverityCritical
	}

	name := m.Name
	if name == "" {
		name = m.ID
	}
	comparison := "above"
	if b.Direction == metrics.DirectionBelow {
		comparison = "below"
	}

	return alerts.Candidate{
		Severity:    severity,
		Type:        alerts.TypeThreshold,
		Title:       fmt.Sprintf("%s %s threshold", name, b.Level),
		Description: fmt.Sprintf("%s is %g%s, %s the %s threshold of %g", name, b.Value, m.Unit, comparison, b.Level, b.Threshold),
		Source: alerts.Source{
			Component:  "monitoring",
			EntityType: "metric",
			EntityID:   m.ID,
		},
		Context: alerts.Context{
			CurrentValue: alerts.Float(b.Value),
			Threshold:    alerts.Float(b.Threshold),
			Trend:        string(b.Trend),
		},
		Actionable: true,
	}
}

// pollFeed drains the upstream feed, raising alerts and buffering the events
// for the next decision tick
func (l *Loop) pollFeed(ctx context.Context) {
	if l.feed == nil {
		return
	}

	readCtx, cancel := context.WithTimeout(ctx, l.opts.SourceTimeout)
	list, err := l.feed.Fetch(readCtx)
	cancel()
	if err != nil {
		l.logger.WithError(err).Warn("Prediction feed unavailable")
		return
	}

	for _, evt := range list {
		if c, ok := l.feedCandidate(evt); ok {
			l.alerts.Raise(c)
		}
		l.enqueue(evt)
	}
}

func (l *Loop) feedCandidate(evt automation.Event) (alerts.Candidate, bool) {
	switch e := evt.(type) {
	case automation.AnomalyEvent:
		title := fmt.Sprintf("Anomaly detected on %s", e.EntityID)
		if e.AnomalyType != "" {
			title = fmt.Sprintf("%s anomaly on %s", strings.ReplaceAll(e.AnomalyType, "_", " "), e.EntityID)
		}
		c := upstreamCandidate(e.Upstream, alerts.TypeAnomaly, "anomaly_detection", title)
		if e.Metric != "" {
			c.Context.CurrentValue = alerts.Float(e.Value)
			c.Context.RelatedEntities = []string{e.Metric}
		}
		return c, true

	case automation.PredictionEvent:
		if e.Score < l.opts.PredictionMinConfidence {
			return alerts.Candidate{}, false
		}
		title := fmt.Sprintf("Predicted %s for %s", e.Outcome, e.EntityID)
		if e.Outcome == "" {
			title = fmt.Sprintf("Prediction for %s", e.EntityID)
		}
		return upstreamCandidate(e.Upstream, alerts.TypePrediction, "prediction", title), true

	case automation.CorrelationEvent:
		c := upstreamCandidate(e.Upstream, alerts.TypeCorrelation, "correlation", fmt.Sprintf("Correlated change across %d entities", len(e.Entities)))
		c.Context.AffectedEntities = append([]string(nil), e.Entities...)
		return c, true
	}
	return alerts.Candidate{}, false
}

func upstreamCandidate(u automation.Upstream, t alerts.Type, component, title string) alerts.Candidate {
	return alerts.Candidate{
		Severity:    alerts.SeverityFromLevel(u.Severity),
		Type:        t,
		Title:       title,
		Description: u.Description,
		Source: alerts.Source{
			Component:  component,
			EntityType: u.EntityType,
			EntityID:   u.EntityID,
		},
		Context: alerts.Context{
			Confidence: alerts.Float(u.Score),
		},
		Actionable: len(u.Recommendations) > 0,
		AutoResolution: alerts.AutoResolution{
			Actions: append([]string(nil), u.Recommendations...),
		},
	}
}

// enqueue buffers an event for the decision tick, dropping the oldest when
// the backlog is full
func (l *Loop) enqueue(evt automation.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) >= l.opts.MaxPendingEvents {
		l.pending = l.pending[1:]
		l.logger.Warn("Decision backlog full, dropping oldest event")
	}
	l.pending = append(l.pending, evt)
}

func (l *Loop) decide(ctx context.Context) {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	if l.processor != nil {
		if n := l.processor.ExpireApprovals(); n > 0 {
			l.logger.WithField("count", n).Info("Decision approvals expired")
		}
	}

	fired, started := 0, 0
	for _, evt := range batch {
		if l.processor != nil {
			fired += len(l.processor.Process(ctx, evt))
		}
		if l.workflows != nil {
			started += len(l.workflows.Trigger(ctx, evt))
		}
	}

	if removed := l.alerts.Cleanup(); removed > 0 {
		l.logger.WithField("count", removed).Debug("Old alerts removed")
	}
	if l.recorder != nil && l.opts.SnapshotRetention > 0 {
		l.recorder.PruneSnapshots(l.clock().Add(-l.opts.SnapshotRetention))
	}

	if len(batch) > 0 {
		l.logger.WithFields(logrus.Fields{
			"events":    len(batch),
			"fired":     fired,
			"workflows": started,
		}).Info("Decision tick processed events")
	}
}

// Package monitoring assembles the metric registry, alert manager, decision
// engine, workflow engine and notification router into one service and drives
// them from the monitoring loop.
package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/pma-monitor/internal/adapters/feed"
	"github.com/frostdev-ops/pma-monitor/internal/adapters/sources"
	"github.com/frostdev-ops/pma-monitor/internal/config"
	"github.com/frostdev-ops/pma-monitor/internal/core/alerts"
	"github.com/frostdev-ops/pma-monitor/internal/core/audit"
	"github.com/frostdev-ops/pma-monitor/internal/core/automation"
	"github.com/frostdev-ops/pma-monitor/internal/core/events"
	"github.com/frostdev-ops/pma-monitor/internal/core/metrics"
	"github.com/frostdev-ops/pma-monitor/internal/core/notifications"
	"github.com/frostdev-ops/pma-monitor/internal/core/workflow"
)

// SenderFactory builds the transport for a notification channel
type SenderFactory func(notifications.Channel) (notifications.Sender, error)

// Deps are the collaborators the engine is built from. Config and Logger are
// required; everything else is optional.
type Deps struct {
	Config    *config.Config
	Logger    *logrus.Logger
	Bus       *events.Bus
	Provider  sources.Provider
	Feed      feed.Feed
	Exporter  *metrics.Exporter
	Recorder  *audit.Recorder
	Senders   SenderFactory
	Metrics   []metrics.Metric
	Rules     []automation.Rule
	Workflows []workflow.Workflow
}

// Status is the engine's health summary
type Status struct {
	Running                bool       `json:"running"`
	MetricCount            int        `json:"metric_count"`
	OpenAlertCount         int        `json:"open_alert_count"`
	EnabledChannelCount    int        `json:"enabled_channel_count"`
	LastUpdate             *time.Time `json:"last_update,omitempty"`
	Ticks                  uint64     `json:"ticks"`
	SkippedTicks           uint64     `json:"skipped_ticks"`
	PendingDecisions       int        `json:"pending_decisions"`
	PendingAutoResolutions int        `json:"pending_auto_resolutions"`
}

// Engine is the service object that owns every registry
type Engine struct {
	cfg    *config.Config
	logger *logrus.Logger

	bus       *events.Bus
	registry  *metrics.Registry
	alerts    *alerts.Manager
	router    *notifications.Router
	rules     *automation.Engine
	executor  *automation.Executor
	processor *automation.Processor
	workflows *workflow.Engine
	scheduler *workflow.Scheduler
	loop      *Loop
	recorder  *audit.Recorder
	auditSubs []events.Subscription
}

// NewEngine wires the components together. Metrics are registered first,
// then notification channels, then rules, then workflows.
func NewEngine(deps Deps) (*Engine, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("monitoring engine requires a config")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("monitoring engine requires a logger")
	}
	cfg := deps.Config
	logger := deps.Logger

	bus := deps.Bus
	if bus == nil {
		bus = events.NewBus(logger)
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		bus:      bus,
		recorder: deps.Recorder,
	}

	// Metrics
	e.registry = metrics.NewRegistry(metrics.RegistryOptions{
		HistoryCap:   cfg.Monitoring.HistoryCap,
		TrendEpsilon: cfg.Monitoring.TrendEpsilon,
	}, bus, logger)
	list := deps.Metrics
	if list == nil {
		list = metrics.DefaultMetrics()
	}
	for _, m := range list {
		if !e.registry.Register(m) {
			logger.WithField("metric", m.ID).Warn("Duplicate metric ignored")
		}
	}

	// Channels
	e.router = notifications.NewRouter(notifications.Options{
		HistorySize:    cfg.Notifications.HistorySize,
		BatchInterval:  cfg.Notifications.BatchInterval,
		DigestSchedule: cfg.Notifications.DigestSchedule,
	}, logger)
	for _, cc := range cfg.Notifications.Channels {
		if err := e.addChannel(cc, deps.Senders); err != nil {
			return nil, err
		}
	}

	e.alerts = alerts.NewManager(alerts.Options{
		DedupWindow:           cfg.Alerts.DedupWindow,
		AutoResolveDelay:      cfg.Alerts.AutoResolveDelay,
		AutoResolveConfidence: cfg.Alerts.AutoResolveConfidence,
		DefaultTTL:            cfg.Alerts.DefaultTTL,
		Retention:             cfg.Alerts.Retention,
		MaxAlerts:             cfg.Alerts.MaxAlerts,
	}, bus, logger)
	e.alerts.SetResolutionCheck(e.stillBreached)

	// Rules
	e.executor = automation.NewExecutor(cfg.Automation.ActionTimeout, bus, logger)
	e.executor.SetNotifier(e.router)
	e.rules = automation.NewEngine(logger)
	for _, r := range deps.Rules {
		if err := e.rules.AddRule(r); err != nil {
			return nil, fmt.Errorf("failed to register rule %s: %w", r.ID, err)
		}
	}
	e.processor = automation.NewProcessor(e.rules, e.executor, automation.ProcessorOptions{
		ApprovalTimeout: cfg.Automation.ApprovalTimeout,
	}, bus, logger)

	// Workflows
	e.workflows = workflow.NewEngine(e.executor, workflow.Options{
		ApprovalTimeout: cfg.Automation.ApprovalTimeout,
	}, bus, logger)
	e.workflows.SetNotifier(e.router)
	e.executor.SetWorkflowStarter(e.workflows)
	e.processor.SetApprovalRouter(e.workflows)
	for _, w := range deps.Workflows {
		if err := e.workflows.Register(w); err != nil {
			return nil, fmt.Errorf("failed to register workflow %s: %w", w.ID, err)
		}
	}
	e.scheduler = workflow.NewScheduler(e.workflows, cfg.Automation.ScheduleTimezone, logger)

	if deps.Exporter != nil {
		e.router.SetObserver(deps.Exporter)
		e.processor.SetObserver(deps.Exporter)
		e.workflows.SetObserver(deps.Exporter)
	}
	if deps.Recorder != nil {
		e.processor.SetRecorder(deps.Recorder)
		e.workflows.SetRecorder(deps.Recorder)
		e.auditSubs = deps.Recorder.AttachBus(bus)
	}

	opts := LoopOptions{
		TickInterval:            cfg.Monitoring.TickInterval,
		DecisionInterval:        cfg.Monitoring.DecisionInterval,
		SourceTimeout:           cfg.Monitoring.TickTimeout,
		ClearPolicy:             cfg.Monitoring.ThresholdClearPolicy,
		PredictionMinConfidence: cfg.Alerts.PredictionMinConfidence,
		PersistSnapshots:        cfg.Monitoring.PersistSnapshots,
		SnapshotRetention:       cfg.Alerts.Retention,
	}
	opts.applyDefaults()

	e.loop = &Loop{
		opts:     opts,
		logger:   logger,
		registry: e.registry,
		alerts:   e.alerts,
		router:   e.router,
		provider: deps.Provider,
		feed:     deps.Feed,
		exporter: deps.Exporter,
		recorder: deps.Recorder,
	}
	if cfg.Automation.Enabled {
		e.loop.processor = e.processor
		e.loop.workflows = e.workflows
	}

	logger.WithFields(logrus.Fields{
		"metrics":   e.registry.Count(),
		"channels":  len(e.router.Channels()),
		"rules":     len(e.rules.Rules()),
		"workflows": len(e.workflows.Workflows()),
	}).Info("Monitoring engine initialized")

	return e, nil
}

func (e *Engine) addChannel(cc config.ChannelConfig, factory SenderFactory) error {
	ch, err := notifications.ChannelFromConfig(cc)
	if err != nil {
		return err
	}
	if factory == nil {
		return fmt.Errorf("channel %s: no transport factory configured", ch.ID)
	}
	sender, err := factory(ch)
	if err != nil {
		return fmt.Errorf("channel %s: %w", ch.ID, err)
	}
	return e.router.AddChannel(ch, sender)
}

// stillBreached vetoes auto-resolution of a threshold alert whose metric is
// still outside its bounds
func (e *Engine) stillBreached(a alerts.Alert) bool {
	if a.Type != alerts.TypeThreshold {
		return true
	}
	m, ok := e.registry.Get(a.Source.EntityID)
	if !ok {
		return true
	}
	_, breached := metrics.Evaluate(m)
	return !breached
}

// Start begins the monitoring loop, notification flushes and workflow
// schedules
func (e *Engine) Start() error {
	if err := e.router.Start(); err != nil {
		return err
	}
	if e.cfg.Automation.Enabled {
		if err := e.scheduler.Sync(); err != nil {
			return fmt.Errorf("failed to schedule workflows: %w", err)
		}
		if err := e.scheduler.Start(); err != nil {
			return err
		}
	}
	if !e.cfg.Monitoring.Enabled {
		e.logger.Info("Monitoring loop is disabled")
		return nil
	}
	return e.loop.Start()
}

// Stop halts the schedules, waits for the in-flight tick, flushes queued
// notifications and cancels running workflows
func (e *Engine) Stop(ctx context.Context) error {
	var err error
	select {
	case <-e.loop.Stop().Done():
	case <-ctx.Done():
		err = fmt.Errorf("timed out waiting for monitoring tick: %w", ctx.Err())
	}

	e.scheduler.Stop()
	e.router.Stop(ctx)
	e.workflows.Close()
	e.alerts.Close()
	for _, sub := range e.auditSubs {
		e.bus.Unsubscribe(sub)
	}
	e.logger.Info("Monitoring engine stopped")
	return err
}

// Loop exposes the tick driver
func (e *Engine) Loop() *Loop {
	return e.loop
}

// Bus exposes the event bus
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// GetMetrics returns a snapshot of every metric
func (e *Engine) GetMetrics() []metrics.Metric {
	return e.registry.List()
}

// GetMetric returns one metric
func (e *Engine) GetMetric(id string) (metrics.Metric, bool) {
	return e.registry.Get(id)
}

// GetAlerts returns every retained alert, newest first
func (e *Engine) GetAlerts() []alerts.Alert {
	return e.alerts.List()
}

// GetAlert returns one alert
func (e *Engine) GetAlert(id string) (alerts.Alert, bool) {
	return e.alerts.Get(id)
}

// GetMonitoringStatus summarises the engine state
func (e *Engine) GetMonitoringStatus() Status {
	ticks, skipped := e.loop.Counters()
	s := Status{
		Running:                e.loop.Running(),
		MetricCount:            e.registry.Count(),
		OpenAlertCount:         e.alerts.OpenCount(),
		EnabledChannelCount:    e.router.EnabledCount(),
		Ticks:                  ticks,
		SkippedTicks:           skipped,
		PendingDecisions:       e.loop.PendingEvents(),
		PendingAutoResolutions: e.alerts.PendingAutoResolutions(),
	}
	if last := e.loop.LastUpdate(); !last.IsZero() {
		s.LastUpdate = &last
	}
	return s
}

// AcknowledgeAlert acknowledges an open alert
func (e *Engine) AcknowledgeAlert(id, userID, reason string) bool {
	return e.alerts.Acknowledge(id, userID, reason)
}

// ResolveAlert resolves an open alert
func (e *Engine) ResolveAlert(id, userID, text string) bool {
	return e.alerts.Resolve(id, userID, text)
}

// Subscribe registers a handler for a bus topic
func (e *Engine) Subscribe(topic string, handler events.Handler) events.Subscription {
	return e.bus.Subscribe(topic, handler)
}

// Unsubscribe removes a handler registered with Subscribe
func (e *Engine) Unsubscribe(sub events.Subscription) bool {
	return e.bus.Unsubscribe(sub)
}

// GetAutomationStats summarises rule executions
func (e *Engine) GetAutomationStats() automation.AutomationStats {
	return e.processor.Stats()
}

// Rules returns the registered decision rules
func (e *Engine) Rules() []automation.Rule {
	return e.rules.Rules()
}

// SetRuleEnabled turns a rule on or off
func (e *Engine) SetRuleEnabled(id string, enabled bool) error {
	return e.rules.SetEnabled(id, enabled)
}

// Executions returns recent decision executions, newest first
func (e *Engine) Executions(limit int) []automation.Execution {
	return e.processor.Executions(limit)
}

// Execution returns one decision execution
func (e *Engine) Execution(id string) (automation.Execution, bool) {
	return e.processor.Execution(id)
}

// ApproveExecution releases a rule-level approval gate
func (e *Engine) ApproveExecution(ctx context.Context, id, approver string) (automation.Execution, error) {
	return e.processor.Approve(ctx, id, approver)
}

// RejectExecution closes a rule-level approval gate without running it
func (e *Engine) RejectExecution(id, approver, reason string) (automation.Execution, error) {
	return e.processor.Reject(id, approver, reason)
}

// Workflows returns the registered workflows
func (e *Engine) Workflows() []workflow.Workflow {
	return e.workflows.Workflows()
}

// WorkflowInstances returns recent workflow runs, newest first
func (e *Engine) WorkflowInstances(limit int) []workflow.Instance {
	return e.workflows.Instances(limit)
}

// WorkflowInstance returns one workflow run
func (e *Engine) WorkflowInstance(id string) (workflow.Instance, bool) {
	return e.workflows.Instance(id)
}

// RunWorkflow starts a workflow by hand and returns the instance id
func (e *Engine) RunWorkflow(ctx context.Context, id, startedBy string, vars map[string]interface{}) (string, error) {
	return e.workflows.Start(ctx, id, automation.ManualEvent{By: startedBy, At: time.Now()}, vars)
}

// SetWorkflowStatus changes a workflow's status and reschedules
func (e *Engine) SetWorkflowStatus(id string, status workflow.Status) error {
	if err := e.workflows.SetStatus(id, status); err != nil {
		return err
	}
	if e.cfg.Automation.Enabled {
		return e.scheduler.Sync()
	}
	return nil
}

// ApproveWorkflow approves the step a workflow run is waiting on
func (e *Engine) ApproveWorkflow(instanceID, approver, reason string) error {
	return e.workflows.Approve(instanceID, approver, reason)
}

// RejectWorkflow rejects the step a workflow run is waiting on
func (e *Engine) RejectWorkflow(instanceID, approver, reason string) error {
	return e.workflows.Reject(instanceID, approver, reason)
}

// Channels returns the notification channels
func (e *Engine) Channels() []notifications.Channel {
	return e.router.Channels()
}

// SetChannelEnabled turns a notification channel on or off
func (e *Engine) SetChannelEnabled(id string, enabled bool) error {
	return e.router.SetEnabled(id, enabled)
}

// Deliveries returns recent notification attempts, newest first
func (e *Engine) Deliveries(limit int) []notifications.Delivery {
	return e.router.History(limit)
}

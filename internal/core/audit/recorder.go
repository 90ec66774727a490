// Package audit writes engine history to the persistence collaborator
// without blocking the callers that produce it.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/pma-monitor/internal/core/alerts"
	"github.com/frostdev-ops/pma-monitor/internal/core/automation"
	"github.com/frostdev-ops/pma-monitor/internal/core/events"
	"github.com/frostdev-ops/pma-monitor/internal/core/metrics"
	"github.com/frostdev-ops/pma-monitor/internal/core/workflow"
	"github.com/frostdev-ops/pma-monitor/internal/database/models"
	"github.com/frostdev-ops/pma-monitor/internal/database/repositories"
)

type job struct {
	kind string
	id   string
	run  func(ctx context.Context) error
}

// Stats reports the recorder's counters
type Stats struct {
	Queued  int    `json:"queued"`
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

// Recorder queues writes and performs them on a single worker. Enqueueing
// never blocks: a full queue drops the record and logs it.
type Recorder struct {
	repo         repositories.AuditRepository
	logger       *logrus.Logger
	queue        chan job
	writeTimeout time.Duration

	startOnce sync.Once
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}

	written uint64
	failed  uint64
	dropped uint64
}

// NewRecorder creates a recorder with room for capacity pending writes
func NewRecorder(repo repositories.AuditRepository, capacity int, logger *logrus.Logger) *Recorder {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Recorder{
		repo:         repo,
		logger:       logger,
		queue:        make(chan job, capacity),
		writeTimeout: 5 * time.Second,
		done:         make(chan struct{}),
	}
}

// Start launches the writer
func (r *Recorder) Start() {
	r.startOnce.Do(func() {
		go r.worker()
	})
}

// Close stops accepting records and waits for queued writes until ctx ends
func (r *Recorder) Close(ctx context.Context) error {
	r.Start()
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit queue not drained: %w", ctx.Err())
	}
}

func (r *Recorder) worker() {
	defer close(r.done)

	for j := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		err := j.run(ctx)
		cancel()

		if err != nil {
			atomic.AddUint64(&r.failed, 1)
			r.logger.WithError(err).WithFields(logrus.Fields{
				"record": j.kind,
				"id":     j.id,
			}).Warn("Failed to write audit record")
			continue
		}
		atomic.AddUint64(&r.written, 1)
	}
}

func (r *Recorder) enqueue(j job) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		atomic.AddUint64(&r.dropped, 1)
		return
	}

	select {
	case r.queue <- j:
	default:
		atomic.AddUint64(&r.dropped, 1)
		r.logger.WithFields(logrus.Fields{
			"record": j.kind,
			"id":     j.id,
		}).Warn("Audit queue full, record dropped")
	}
}

// Stats returns current counters
func (r *Recorder) Stats() Stats {
	return Stats{
		Queued:  len(r.queue),
		Written: atomic.LoadUint64(&r.written),
		Failed:  atomic.LoadUint64(&r.failed),
		Dropped: atomic.LoadUint64(&r.dropped),
	}
}

// RecordAlert stores the current state of an alert
func (r *Recorder) RecordAlert(a alerts.Alert) {
	payload, err := json.Marshal(a)
	if err != nil {
		r.logger.WithError(err).WithField("alert_id", a.ID).Warn("Failed to encode alert")
		return
	}
	rec := &models.AlertRecord{
		ID:        a.ID,
		Severity:  string(a.Severity),
		Type:      string(a.Type),
		Title:     a.Title,
		Component: a.Source.Component,
		EntityID:  a.Source.EntityID,
		Status:    string(a.Status()),
		Payload:   string(payload),
		CreatedAt: a.CreatedAt.UTC(),
		UpdatedAt: a.UpdatedAt.UTC(),
	}
	r.enqueue(job{kind: "alert", id: a.ID, run: func(ctx context.Context) error {
		return r.repo.SaveAlert(ctx, rec)
	}})
}

// RecordExecution implements automation.ExecutionRecorder
func (r *Recorder) RecordExecution(x automation.Execution) {
	payload, err := json.Marshal(x)
	if err != nil {
		r.logger.WithError(err).WithField("execution_id", x.ID).Warn("Failed to encode execution")
		return
	}
	updated := x.TriggeredAt
	if x.CompletedAt != nil {
		updated = *x.CompletedAt
	}
	rec := &models.ExecutionRecord{
		ID:            x.ID,
		RuleID:        x.RuleID,
		Outcome:       string(x.Outcome),
		OverallImpact: x.Impact.Overall,
		Payload:       string(payload),
		TriggeredAt:   x.TriggeredAt.UTC(),
		UpdatedAt:     updated.UTC(),
	}
	r.enqueue(job{kind: "execution", id: x.ID, run: func(ctx context.Context) error {
		return r.repo.SaveExecution(ctx, rec)
	}})
}

// RecordWorkflowRun implements workflow.RunRecorder
func (r *Recorder) RecordWorkflowRun(inst workflow.Instance) {
	payload, err := json.Marshal(inst)
	if err != nil {
		r.logger.WithError(err).WithField("instance_id", inst.ID).Warn("Failed to encode workflow run")
		return
	}
	rec := &models.WorkflowRunRecord{
		ID:         inst.ID,
		WorkflowID: inst.WorkflowID,
		Status:     string(inst.Status),
		Error:      inst.Error,
		Payload:    string(payload),
		StartedAt:  inst.StartedAt.UTC(),
	}
	if inst.CompletedAt != nil {
		rec.CompletedAt = sql.NullTime{Time: inst.CompletedAt.UTC(), Valid: true}
	}
	r.enqueue(job{kind: "workflow_run", id: inst.ID, run: func(ctx context.Context) error {
		return r.repo.SaveWorkflowRun(ctx, rec)
	}})
}

// RecordSnapshots stores one tick's metric values
func (r *Recorder) RecordSnapshots(list []metrics.Metric, at time.Time) {
	if len(list) == 0 {
		return
	}
	snapshots := make([]models.MetricSnapshot, 0, len(list))
	for _, m := range list {
		snapshots = append(snapshots, models.MetricSnapshot{MetricID: m.ID, Value: m.Value, RecordedAt: at.UTC()})
	}
	r.enqueue(job{kind: "metric_snapshots", id: at.UTC().Format(time.RFC3339), run: func(ctx context.Context) error {
		return r.repo.SaveMetricSnapshots(ctx, snapshots)
	}})
}

// PruneSnapshots removes samples older than the retention
func (r *Recorder) PruneSnapshots(before time.Time) {
	r.enqueue(job{kind: "metric_prune", id: before.UTC().Format(time.RFC3339), run: func(ctx context.Context) error {
		n, err := r.repo.DeleteSnapshotsBefore(ctx, before.UTC())
		if err == nil && n > 0 {
			r.logger.WithField("deleted", n).Debug("Pruned metric snapshots")
		}
		return err
	}})
}

// AttachBus records every alert state change published on the bus
func (r *Recorder) AttachBus(bus *events.Bus) []events.Subscription {
	topics := []string{
		events.TopicAlertCreated,
		events.TopicAlertUpdated,
		events.TopicAlertAcknowledged,
		events.TopicAlertResolved,
		events.TopicAlertExpired,
	}

	subs := make([]events.Subscription, 0, len(topics))
	for _, topic := range topics {
		subs = append(subs, bus.Subscribe(topic, func(e events.Event) error {
			a, ok := e.Payload.(alerts.Alert)
			if !ok {
				return fmt.Errorf("unexpected payload %T on %s", e.Payload, e.Topic)
			}
			r.RecordAlert(a)
			return nil
		}))
	}
	return subs
}

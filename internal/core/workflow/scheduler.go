package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/pma-monitor/internal/core/automation"
)

// ScheduledWorkflow is a cron entry for a schedule-triggered workflow
type ScheduledWorkflow struct {
	WorkflowID string       `json:"workflow_id"`
	Schedule   string       `json:"schedule"`
	EntryID    cron.EntryID `json:"-"`
	NextRun    time.Time    `json:"next_run"`
	LastRun    *time.Time   `json:"last_run,omitempty"`
	RunCount   int64        `json:"run_count"`
}

// Scheduler starts schedule-triggered workflows
type Scheduler struct {
	cron     *cron.Cron
	engine   *Engine
	timezone *time.Location
	logger   *logrus.Logger

	mu      sync.RWMutex
	entries map[string]*ScheduledWorkflow
	running bool
}

// NewScheduler creates a scheduler in the given timezone. An empty or invalid
// timezone falls back to UTC.
func NewScheduler(engine *Engine, timezone string, logger *logrus.Logger) *Scheduler {
	loc := time.UTC
	if timezone != "" {
		tz, err := time.LoadLocation(timezone)
		if err != nil {
			logger.WithError(err).Warnf("Invalid timezone %s, using UTC", timezone)
		} else {
			loc = tz
		}
	}

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(scheduleParser),
			cron.WithChain(
				cron.SkipIfStillRunning(cron.DefaultLogger),
				cron.Recover(cron.DefaultLogger),
			),
		),
		engine:   engine,
		timezone: loc,
		logger:   logger,
		entries:  make(map[string]*ScheduledWorkflow),
	}
}

// Sync schedules every active schedule-triggered workflow and removes entries
// for workflows that are no longer active
func (s *Scheduler) Sync() error {
	workflows := s.engine.Workflows()

	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]Workflow)
	for _, w := range workflows {
		if w.Trigger.Type == TriggerSchedule && w.Status == StatusActive {
			wanted[w.ID] = w
		}
	}

	for id, sw := range s.entries {
		if w, ok := wanted[id]; !ok || w.Trigger.Schedule != sw.Schedule {
			s.cron.Remove(sw.EntryID)
			delete(s.entries, id)
			s.logger.WithField("workflow_id", id).Info("Workflow unscheduled")
		}
	}

	for id, w := range wanted {
		if _, ok := s.entries[id]; ok {
			continue
		}
		sw := &ScheduledWorkflow{WorkflowID: id, Schedule: w.Trigger.Schedule}
		entryID, err := s.cron.AddFunc(w.Trigger.Schedule, func() { s.fire(sw) })
		if err != nil {
			return fmt.Errorf("failed to schedule workflow %s: %w", id, err)
		}
		sw.EntryID = entryID
		sw.NextRun = s.cron.Entry(entryID).Next
		s.entries[id] = sw

		s.logger.WithFields(logrus.Fields{
			"workflow_id": id,
			"schedule":    w.Trigger.Schedule,
			"next_run":    sw.NextRun,
		}).Info("Workflow scheduled")
	}
	return nil
}

func (s *Scheduler) fire(sw *ScheduledWorkflow) {
	now := time.Now().In(s.timezone)

	s.mu.Lock()
	sw.LastRun = &now
	sw.RunCount++
	sw.NextRun = s.cron.Entry(sw.EntryID).Next
	s.mu.Unlock()

	id, err := s.engine.Start(context.Background(), sw.WorkflowID, automation.TimeEvent{At: now}, nil)
	if err != nil {
		s.logger.WithError(err).WithField("workflow_id", sw.WorkflowID).Warn("Scheduled workflow did not start")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"workflow_id": sw.WorkflowID,
		"instance_id": id,
	}).Debug("Scheduled workflow started")
}

// Start starts the cron scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("Workflow scheduler started")
	return nil
}

// Stop stops the scheduler and waits for running jobs to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn("Timeout waiting for scheduled workflows to start")
	}
	s.logger.Info("Workflow scheduler stopped")
}

// Entries returns the scheduled workflows
func (s *Scheduler) Entries() []ScheduledWorkflow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ScheduledWorkflow, 0, len(s.entries))
	for _, sw := range s.entries {
		entry := *sw
		if sw.LastRun != nil {
			t := *sw.LastRun
			entry.LastRun = &t
		}
		out = append(out, entry)
	}
	return out
}

package automation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "github.com/frostdev-ops/pma-monitor/pkg/errors"
)

// ExecutionRecorder persists execution records. It must not block.
type ExecutionRecorder interface {
	RecordExecution(Execution)
}

// OutcomeObserver counts finished executions
type OutcomeObserver interface {
	RecordExecution(outcome string)
}

// ApprovalRequest hands a manual-approval action to the workflow engine. Done
// is called exactly once with the action's final result.
type ApprovalRequest struct {
	ExecutionID string
	RuleID      string
	Action      ApprovalAction
	Event       Event
	Approvers   []string
	Done        func(ActionResult)
}

// ApprovalRouter suspends manual-approval actions until a human decides
type ApprovalRouter interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (string, error)
}

// ProcessorOptions configures the processor
type ProcessorOptions struct {
	ApprovalTimeout time.Duration
	MaxExecutions   int
}

type trackedExecution struct {
	exec      *Execution
	event     Event
	finalized bool
}

// Processor fires matching rules and keeps the execution records
type Processor struct {
	engine    *Engine
	executor  *Executor
	logger    *logrus.Logger
	publisher Publisher
	opts      ProcessorOptions
	now       func() time.Time

	mu         sync.RWMutex
	executions map[string]*trackedExecution
	order      []string
	totals     executionTotals
	recorder   ExecutionRecorder
	observer   OutcomeObserver
	approvals  ApprovalRouter
}

// executionTotals survive eviction of old executions
type executionTotals struct {
	started   int
	finished  int
	succeeded int
	impact    float64
}

// NewProcessor creates a processor over an engine and executor
func NewProcessor(engine *Engine, executor *Executor, opts ProcessorOptions, publisher Publisher, logger *logrus.Logger) *Processor {
	if opts.ApprovalTimeout <= 0 {
		opts.ApprovalTimeout = time.Hour
	}
	if opts.MaxExecutions <= 0 {
		opts.MaxExecutions = 1000
	}

	return &Processor{
		engine:     engine,
		executor:   executor,
		logger:     logger,
		publisher:  publisher,
		opts:       opts,
		now:        time.Now,
		executions: make(map[string]*trackedExecution),
	}
}

// SetRecorder installs the persistence collaborator
func (p *Processor) SetRecorder(r ExecutionRecorder) {
	p.mu.Lock()
	p.recorder = r
	p.mu.Unlock()
}

// SetObserver installs an outcome counter
func (p *Processor) SetObserver(o OutcomeObserver) {
	p.mu.Lock()
	p.observer = o
	p.mu.Unlock()
}

// SetApprovalRouter installs the component that gates manual-approval actions
func (p *Processor) SetApprovalRouter(r ApprovalRouter) {
	p.mu.Lock()
	p.approvals = r
	p.mu.Unlock()
}

// SetClock overrides the time source
func (p *Processor) SetClock(now func() time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

// Process evaluates the event and fires every matching rule in priority order
func (p *Processor) Process(ctx context.Context, event Event) []Execution {
	matches := p.engine.Evaluate(event)
	if len(matches) == 0 {
		return nil
	}

	out := make([]Execution, 0, len(matches))
	for _, m := range matches {
		id := p.begin(m, event)

		if m.Rule.ApprovalRequired {
			p.logger.WithFields(logrus.Fields{
				"execution_id": id,
				"rule_id":      m.Rule.ID,
			}).Info("Decision execution awaiting approval")
			p.record(id)
		} else {
			p.run(ctx, id, m.Rule, event)
		}

		if exec, ok := p.Execution(id); ok {
			out = append(out, exec)
		}
	}
	return out
}

func (p *Processor) begin(m Match, event Event) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	exec := &Execution{
		ID:                uuid.New().String(),
		RuleID:            m.Rule.ID,
		RuleName:          m.Rule.Name,
		TriggeredAt:       p.now(),
		TriggerSource:     sourceFor(event),
		Event:             Summarize(event),
		MatchedConditions: append([]Condition(nil), m.Conditions...),
		Results:           make([]ActionResult, len(m.Rule.Actions)),
		Outcome:           OutcomePending,
		ApprovalRequired:  m.Rule.ApprovalRequired,
		AwaitingApproval:  m.Rule.ApprovalRequired,
		Approvals:         []Approval{},
	}
	for i, spec := range m.Rule.Actions {
		exec.Results[i] = ActionResult{
			Type:            spec.Type,
			AutomationLevel: spec.AutomationLevel,
			Pending:         true,
			Message:         "Not yet attempted",
		}
	}

	p.executions[exec.ID] = &trackedExecution{exec: exec, event: event}
	p.order = append(p.order, exec.ID)
	p.totals.started++
	p.evict()
	return exec.ID
}

// run attempts every action of the rule in order and finalizes the execution
// once no result is pending
func (p *Processor) run(ctx context.Context, id string, rule Rule, event Event) {
	for i, spec := range rule.Actions {
		var result ActionResult
		switch a := NewAction(spec).(type) {
		case Runnable:
			result = p.executor.Execute(ctx, a, event)
		case ApprovalAction:
			result = p.requestApproval(ctx, id, i, rule, a, event)
		}
		p.setResult(id, i, result)
	}
	p.finalize(id)
}

func (p *Processor) requestApproval(ctx context.Context, id string, index int, rule Rule, action ApprovalAction, event Event) ActionResult {
	spec := action.Spec()
	result := ActionResult{
		Type:            spec.Type,
		AutomationLevel: spec.AutomationLevel,
		StartedAt:       p.now(),
	}

	p.mu.RLock()
	router := p.approvals
	p.mu.RUnlock()

	if router == nil {
		result.Message = "Manual approval required but no approval workflow is available"
		return result
	}

	instanceID, err := router.RequestApproval(ctx, ApprovalRequest{
		ExecutionID: id,
		RuleID:      rule.ID,
		Action:      action,
		Event:       event,
		Approvers:   append([]string(nil), rule.Approvers...),
		Done: func(final ActionResult) {
			p.setResult(id, index, final)
			p.finalize(id)
		},
	})
	if err != nil {
		result.Message = "Failed to request approval: " + err.Error()
		return result
	}

	result.Pending = true
	result.Reference = instanceID
	result.Message = "Awaiting approval"
	return result
}

// setResult never replaces a final result with a pending one, so a decision
// that arrives before the request returns is kept
func (p *Processor) setResult(id string, index int, result ActionResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.executions[id]
	if !ok || t.finalized || index < 0 || index >= len(t.exec.Results) {
		return
	}
	current := t.exec.Results[index]
	if result.Pending && !current.Pending {
		return
	}
	t.exec.Results[index] = result
}

func (p *Processor) finalize(id string) {
	p.mu.Lock()
	t, ok := p.executions[id]
	if !ok || t.finalized {
		p.mu.Unlock()
		return
	}

	outcome, impact := Aggregate(t.exec.Results)
	t.exec.Outcome = outcome
	t.exec.Impact = impact
	if outcome == OutcomePending {
		p.mu.Unlock()
		p.record(id)
		return
	}

	now := p.now()
	t.finalized = true
	t.exec.CompletedAt = &now
	p.totals.finished++
	p.totals.impact += impact.Overall
	if outcome == OutcomeSuccess {
		p.totals.succeeded++
	}
	t.exec.Rollback = rollbackFor(t.exec.Results, outcome, now)
	snapshot := t.exec.clone()
	observer := p.observer
	p.mu.Unlock()

	if err := p.engine.appendHistory(snapshot.RuleID, HistoryEntry{
		ExecutionID: snapshot.ID,
		Outcome:     snapshot.Outcome,
		Impact:      snapshot.Impact.Overall,
		At:          now,
	}); err != nil {
		p.logger.WithError(err).WithField("execution_id", snapshot.ID).Warn("Failed to append rule history")
	}

	p.logger.WithFields(logrus.Fields{
		"execution_id": snapshot.ID,
		"rule_id":      snapshot.RuleID,
		"outcome":      snapshot.Outcome,
		"impact":       snapshot.Impact.Overall,
	}).Info("Decision execution finished")

	p.record(id)
	if observer != nil {
		observer.RecordExecution(string(snapshot.Outcome))
	}
	if p.publisher != nil {
		p.publisher.Publish("decision:executed", snapshot)
	}
}

// rollbackFor lists the actions that succeeded in a failed firing. Nothing is
// recorded for other outcomes.
func rollbackFor(results []ActionResult, outcome Outcome, at time.Time) *Rollback {
	if outcome != OutcomeFailure {
		return nil
	}
	var actions []ActionType
	for _, r := range results {
		if r.Success {
			actions = append(actions, r.Type)
		}
	}
	if len(actions) == 0 {
		return nil
	}
	return &Rollback{Actions: actions, Reason: "execution failed", At: at}
}

func (p *Processor) record(id string) {
	p.mu.RLock()
	t, ok := p.executions[id]
	recorder := p.recorder
	var snapshot Execution
	if ok {
		snapshot = t.exec.clone()
	}
	p.mu.RUnlock()

	if ok && recorder != nil {
		recorder.RecordExecution(snapshot)
	}
}

// Approve records an approval on an execution gated by its rule and runs its
// actions
func (p *Processor) Approve(ctx context.Context, id, approver string) (Execution, error) {
	p.mu.Lock()
	t, ok := p.executions[id]
	if !ok {
		p.mu.Unlock()
		return Execution{}, apperrors.Detailf(apperrors.ErrNotFound, "execution %s not found", id)
	}
	if !t.exec.AwaitingApproval {
		p.mu.Unlock()
		return Execution{}, apperrors.Detailf(apperrors.ErrConflict, "execution %s is not awaiting approval", id)
	}

	rule, ok := p.engine.Rule(t.exec.RuleID)
	if !ok {
		p.mu.Unlock()
		return Execution{}, apperrors.Detailf(apperrors.ErrNotFound, "rule %s not found", t.exec.RuleID)
	}
	if !rule.CanApprove(approver) {
		p.mu.Unlock()
		return Execution{}, apperrors.Detailf(apperrors.ErrForbidden, "%s may not approve rule %s", approver, rule.ID)
	}

	t.exec.AwaitingApproval = false
	t.exec.Approvals = append(t.exec.Approvals, Approval{
		Approver: approver,
		Decision: DecisionApproved,
		At:       p.now(),
	})
	event := t.event
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"execution_id": id,
		"approver":     approver,
	}).Info("Decision execution approved")

	p.run(ctx, id, rule, event)

	exec, _ := p.Execution(id)
	return exec, nil
}

// Reject closes an execution gated by its rule without running any action
func (p *Processor) Reject(id, approver, reason string) (Execution, error) {
	p.mu.Lock()
	t, ok := p.executions[id]
	if !ok {
		p.mu.Unlock()
		return Execution{}, apperrors.Detailf(apperrors.ErrNotFound, "execution %s not found", id)
	}
	if !t.exec.AwaitingApproval {
		p.mu.Unlock()
		return Execution{}, apperrors.Detailf(apperrors.ErrConflict, "execution %s is not awaiting approval", id)
	}
	if approver != "system" {
		if rule, ok := p.engine.Rule(t.exec.RuleID); ok && !rule.CanApprove(approver) {
			p.mu.Unlock()
			return Execution{}, apperrors.Detailf(apperrors.ErrForbidden, "%s may not reject rule %s", approver, rule.ID)
		}
	}

	t.exec.AwaitingApproval = false
	t.exec.Approvals = append(t.exec.Approvals, Approval{
		Approver: approver,
		Decision: DecisionRejected,
		Reason:   reason,
		At:       p.now(),
	})
	for i := range t.exec.Results {
		t.exec.Results[i].Pending = false
		t.exec.Results[i].Message = "Rejected by " + approver
	}
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"execution_id": id,
		"approver":     approver,
		"reason":       reason,
	}).Info("Decision execution rejected")

	p.finalize(id)
	exec, _ := p.Execution(id)
	return exec, nil
}

// ExpireApprovals rejects gated executions that waited longer than the
// approval timeout
func (p *Processor) ExpireApprovals() int {
	p.mu.RLock()
	cutoff := p.now().Add(-p.opts.ApprovalTimeout)
	var expired []string
	for _, id := range p.order {
		t := p.executions[id]
		if t != nil && t.exec.AwaitingApproval && t.exec.TriggeredAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	p.mu.RUnlock()

	for _, id := range expired {
		if _, err := p.Reject(id, "system", "approval timed out"); err != nil {
			p.logger.WithError(err).WithField("execution_id", id).Debug("Approval expiry skipped")
		}
	}
	return len(expired)
}

// Execution returns a snapshot of one execution
func (p *Processor) Execution(id string) (Execution, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	t, ok := p.executions[id]
	if !ok {
		return Execution{}, false
	}
	return t.exec.clone(), true
}

// Executions returns up to limit executions, newest first. limit <= 0 returns all.
func (p *Processor) Executions(limit int) []Execution {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Execution, 0, len(p.order))
	for i := len(p.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if t, ok := p.executions[p.order[i]]; ok {
			out = append(out, t.exec.clone())
		}
	}
	return out
}

// AwaitingApproval returns executions gated on a rule-level approval
func (p *Processor) AwaitingApproval() []Execution {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []Execution
	for _, id := range p.order {
		if t := p.executions[id]; t != nil && t.exec.AwaitingApproval {
			out = append(out, t.exec.clone())
		}
	}
	return out
}

// evict drops the oldest finalized executions above the cap. Must be called
// with the lock held.
func (p *Processor) evict() {
	if len(p.order) <= p.opts.MaxExecutions {
		return
	}

	keep := p.order[:0:0]
	excess := len(p.order) - p.opts.MaxExecutions
	for _, id := range p.order {
		if excess > 0 && p.executions[id].finalized {
			delete(p.executions, id)
			excess--
			continue
		}
		keep = append(keep, id)
	}
	p.order = keep
}

// Stats summarises rules and executions
func (p *Processor) Stats() AutomationStats {
	rules := p.engine.Rules()
	executions := p.Executions(0)
	p.mu.RLock()
	totals := p.totals
	p.mu.RUnlock()

	stats := AutomationStats{
		TotalRules:       len(rules),
		TotalExecutions:  totals.started,
		RecentExecutions: []Execution{},
	}
	for _, r := range rules {
		if r.Enabled {
			stats.ActiveRules++
		}
	}
	if totals.finished > 0 {
		stats.SuccessRate = float64(totals.succeeded) / float64(totals.finished)
		stats.AverageImpact = totals.impact / float64(totals.finished)
	}

	type acc struct {
		name      string
		finished  int
		succeeded int
		impact    float64
	}
	perRule := make(map[string]*acc)

	// Per-rule figures cover the retained executions
	for _, x := range executions {
		a := perRule[x.RuleID]
		if a == nil {
			a = &acc{name: x.RuleName}
			perRule[x.RuleID] = a
		}
		if x.Outcome == OutcomePending {
			continue
		}
		a.finished++
		a.impact += x.Impact.Overall
		if x.Outcome == OutcomeSuccess {
			a.succeeded++
		}
	}

	for id, a := range perRule {
		if a.finished == 0 {
			continue
		}
		stats.TopPerformingRules = append(stats.TopPerformingRules, RulePerformance{
			RuleID:        id,
			Name:          a.name,
			Executions:    a.finished,
			SuccessRate:   float64(a.succeeded) / float64(a.finished),
			AverageImpact: a.impact / float64(a.finished),
		})
	}
	sort.Slice(stats.TopPerformingRules, func(i, j int) bool {
		a, b := stats.TopPerformingRules[i], stats.TopPerformingRules[j]
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		if a.AverageImpact != b.AverageImpact {
			return a.AverageImpact > b.AverageImpact
		}
		return a.RuleID < b.RuleID
	})
	if len(stats.TopPerformingRules) > 5 {
		stats.TopPerformingRules = stats.TopPerformingRules[:5]
	}

	if len(executions) > 10 {
		executions = executions[:10]
	}
	stats.RecentExecutions = append(stats.RecentExecutions, executions...)

	return stats
}

// AutomationStats is the summary exposed to dashboards
type AutomationStats struct {
	TotalRules         int               `json:"total_rules"`
	ActiveRules        int               `json:"active_rules"`
	TotalExecutions    int               `json:"total_executions"`
	SuccessRate        float64           `json:"success_rate"`
	AverageImpact      float64           `json:"average_impact"`
	TopPerformingRules []RulePerformance `json:"top_performing_rules"`
	RecentExecutions   []Execution       `json:"recent_executions"`
}

// RulePerformance summarises one rule's executions
type RulePerformance struct {
	RuleID        string  `json:"rule_id"`
	Name          string  `json:"name"`
	Executions    int     `json:"executions"`
	SuccessRate   float64 `json:"success_rate"`
	AverageImpact float64 `json:"average_impact"`
}

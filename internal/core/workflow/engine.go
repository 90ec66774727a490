package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/pma-monitor/internal/core/automation"
	"github.com/frostdev-ops/pma-monitor/internal/core/events"
	apperrors "github.com/frostdev-ops/pma-monitor/pkg/errors"
)

// RunRecorder persists finished runs. It must not block.
type RunRecorder interface {
	RecordWorkflowRun(Instance)
}

// RunObserver counts finished runs
type RunObserver interface {
	RecordWorkflowRun(workflowID, status string)
}

// Options configures the engine
type Options struct {
	ApprovalTimeout time.Duration
	MaxInstances    int
}

type entry struct {
	workflow  Workflow
	graph     *graph
	successes int
	totalTime time.Duration
}

type run struct {
	inst      *Instance
	graph     *graph
	event     automation.Event
	adhoc     bool
	decisions chan automation.Approval
	done      chan struct{}
	onFinish  func(Instance)
}

// Engine registers workflows and interprets their runs
type Engine struct {
	executor  *automation.Executor
	publisher automation.Publisher
	logger    *logrus.Logger
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	now       func() time.Time
	notifier  automation.Notifier
	recorder  RunRecorder
	observer  RunObserver
	workflows map[string]*entry
	order     []string
	runs      map[string]*run
	runOrder  []string
}

// NewEngine creates a workflow engine. Action steps run through executor.
func NewEngine(executor *automation.Executor, opts Options, publisher automation.Publisher, logger *logrus.Logger) *Engine {
	if opts.ApprovalTimeout <= 0 {
		opts.ApprovalTimeout = time.Hour
	}
	if opts.MaxInstances <= 0 {
		opts.MaxInstances = 500
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		executor:  executor,
		publisher: publisher,
		logger:    logger,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
		workflows: make(map[string]*entry),
		runs:      make(map[string]*run),
	}
}

// SetNotifier wires notification steps to the notification router
func (e *Engine) SetNotifier(n automation.Notifier) {
	e.mu.Lock()
	e.notifier = n
	e.mu.Unlock()
}

// SetRecorder installs the persistence collaborator
func (e *Engine) SetRecorder(r RunRecorder) {
	e.mu.Lock()
	e.recorder = r
	e.mu.Unlock()
}

// SetObserver installs a run counter
func (e *Engine) SetObserver(o RunObserver) {
	e.mu.Lock()
	e.observer = o
	e.mu.Unlock()
}

// SetClock overrides the time source
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

func (e *Engine) clock() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.now()
}

// Register validates and adds a workflow. An empty status means active.
func (e *Engine) Register(w Workflow) error {
	if w.Status == "" {
		w.Status = StatusActive
	}
	if !ValidStatus(w.Status) {
		return apperrors.Detailf(apperrors.ErrBadRequest, "workflow %s: unknown status %q", w.ID, w.Status)
	}

	g, err := compile(w)
	if err != nil {
		return apperrors.Detailf(apperrors.ErrBadRequest, "%v", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.workflows[w.ID]; exists {
		return apperrors.Detailf(apperrors.ErrConflict, "workflow %s already registered", w.ID)
	}
	w.Metrics = Metrics{}
	e.workflows[w.ID] = &entry{workflow: w.clone(), graph: g}
	e.order = append(e.order, w.ID)

	e.logger.WithFields(logrus.Fields{
		"workflow_id": w.ID,
		"trigger":     w.Trigger.Type,
		"steps":       len(w.Steps),
	}).Info("Workflow registered")
	return nil
}

// Workflow returns a snapshot of one workflow
func (e *Engine) Workflow(id string) (Workflow, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ent, ok := e.workflows[id]
	if !ok {
		return Workflow{}, false
	}
	return ent.workflow.clone(), true
}

// Workflows returns snapshots in registration order
func (e *Engine) Workflows() []Workflow {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Workflow, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.workflows[id].workflow.clone())
	}
	return out
}

// SetStatus changes whether a workflow may start
func (e *Engine) SetStatus(id string, status Status) error {
	if !ValidStatus(status) {
		return apperrors.Detailf(apperrors.ErrBadRequest, "unknown workflow status %q", status)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.workflows[id]
	if !ok {
		return apperrors.Detailf(apperrors.ErrNotFound, "workflow %s not found", id)
	}
	ent.workflow.Status = status
	e.logger.WithFields(logrus.Fields{"workflow_id": id, "status": status}).Info("Workflow status changed")
	return nil
}

// Match returns the active workflows whose trigger accepts the event
func (e *Engine) Match(event automation.Event) []Workflow {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Workflow
	for _, id := range e.order {
		ent := e.workflows[id]
		if ent.workflow.Status == StatusActive && triggerMatches(ent.workflow.Trigger, event) {
			out = append(out, ent.workflow.clone())
		}
	}
	return out
}

func triggerMatches(t Trigger, event automation.Event) bool {
	if event == nil {
		return false
	}

	switch t.Type {
	case TriggerPrediction:
		if event.Kind() != automation.KindPrediction {
			return false
		}
	case TriggerAnomaly:
		if event.Kind() != automation.KindAnomaly {
			return false
		}
	case TriggerThreshold:
		if event.Kind() != automation.KindThreshold {
			return false
		}
	case TriggerEvent:
		if event.Kind() == automation.KindTime {
			return false
		}
	default:
		return false
	}

	for _, c := range t.Conditions {
		if c.Applies(event) && !c.Evaluate(event) {
			return false
		}
	}
	return true
}

// Trigger starts every matching workflow and returns the instance ids
func (e *Engine) Trigger(ctx context.Context, event automation.Event) []string {
	var ids []string
	for _, w := range e.Match(event) {
		id, err := e.Start(ctx, w.ID, event, nil)
		if err != nil {
			e.logger.WithError(err).WithField("workflow_id", w.ID).Warn("Failed to start triggered workflow")
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Run executes a workflow and blocks until the run terminates
func (e *Engine) Run(ctx context.Context, workflowID string, trigger automation.Event, vars map[string]interface{}) (Instance, error) {
	r, err := e.newRun(workflowID, trigger, vars)
	if err != nil {
		return Instance{}, err
	}
	e.execute(ctx, r)
	inst, _ := e.Instance(r.inst.ID)
	return inst, nil
}

// Start launches a workflow in the background and returns the instance id.
// The run outlives ctx and is cancelled only by Close.
func (e *Engine) Start(ctx context.Context, workflowID string, trigger automation.Event, vars map[string]interface{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r, err := e.newRun(workflowID, trigger, vars)
	if err != nil {
		return "", err
	}
	e.launch(r)
	return r.inst.ID, nil
}

func (e *Engine) launch(r *run) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(e.ctx, r)
	}()
}

func (e *Engine) newRun(workflowID string, trigger automation.Event, vars map[string]interface{}) (*run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.workflows[workflowID]
	if !ok {
		return nil, apperrors.Detailf(apperrors.ErrNotFound, "workflow %s not found", workflowID)
	}
	if ent.workflow.Status != StatusActive {
		return nil, apperrors.Detailf(apperrors.ErrConflict, "workflow %s is %s", workflowID, ent.workflow.Status)
	}

	r := e.track(&Instance{
		WorkflowID:   workflowID,
		WorkflowName: ent.workflow.Name,
		Trigger:      automation.Summarize(trigger),
		Variables:    copyVars(vars),
	}, ent.graph, trigger)
	return r, nil
}

// track registers a new run. Must be called with the lock held.
func (e *Engine) track(inst *Instance, g *graph, trigger automation.Event) *run {
	inst.ID = uuid.New().String()
	inst.Status = InstancePending
	inst.StartedAt = e.now()
	inst.Steps = []StepResult{}

	r := &run{
		inst:      inst,
		graph:     g,
		event:     trigger,
		decisions: make(chan automation.Approval, 1),
		done:      make(chan struct{}),
	}
	e.runs[inst.ID] = r
	e.runOrder = append(e.runOrder, inst.ID)
	e.evictRuns()
	return r
}

// execute walks the step graph until a step has no edge for its result
func (e *Engine) execute(ctx context.Context, r *run) {
	n := r.graph.start
	for n != nil {
		if err := ctx.Err(); err != nil {
			e.terminate(r, InstanceAborted, "cancelled: "+err.Error())
			return
		}

		e.mu.Lock()
		r.inst.Status = InstanceRunning
		r.inst.CurrentStep = n.step.ID
		e.mu.Unlock()

		result := e.runStep(ctx, r, n)

		e.mu.Lock()
		r.inst.Steps = append(r.inst.Steps, result)
		e.mu.Unlock()

		e.logger.WithFields(logrus.Fields{
			"instance_id": r.inst.ID,
			"workflow_id": r.inst.WorkflowID,
			"step_id":     n.step.ID,
			"success":     result.Success,
		}).Debug("Workflow step finished")

		if result.Success {
			if n.success == nil {
				e.terminate(r, InstanceCompleted, "")
				return
			}
			n = n.success
			continue
		}
		if n.failure == nil {
			e.terminate(r, InstanceAborted, fmt.Sprintf("step %s failed: %s", n.step.ID, result.Message))
			return
		}
		n = n.failure
	}
}

func (e *Engine) terminate(r *run, status InstanceStatus, reason string) {
	e.mu.Lock()
	now := e.now()
	r.inst.Status = status
	r.inst.CurrentStep = ""
	r.inst.Approval = nil
	r.inst.Error = reason
	r.inst.CompletedAt = &now

	if ent, ok := e.workflows[r.inst.WorkflowID]; ok && !r.adhoc {
		m := &ent.workflow.Metrics
		m.TotalExecutions++
		if status == InstanceCompleted {
			ent.successes++
		}
		ent.totalTime += now.Sub(r.inst.StartedAt)
		m.SuccessRate = float64(ent.successes) / float64(m.TotalExecutions)
		m.AverageExecutionTime = ent.totalTime / time.Duration(m.TotalExecutions)
		last := now
		m.LastExecution = &last
	}

	snapshot := r.inst.clone()
	recorder := e.recorder
	observer := e.observer
	onFinish := r.onFinish
	e.mu.Unlock()

	close(r.done)

	fields := logrus.Fields{
		"instance_id": snapshot.ID,
		"workflow_id": snapshot.WorkflowID,
		"status":      status,
		"steps":       len(snapshot.Steps),
	}
	topic := events.TopicWorkflowCompleted
	if status == InstanceAborted {
		topic = events.TopicWorkflowAborted
		e.logger.WithFields(fields).WithField("reason", reason).Warn("Workflow aborted")
	} else {
		e.logger.WithFields(fields).Info("Workflow completed")
	}

	if recorder != nil {
		recorder.RecordWorkflowRun(snapshot)
	}
	if observer != nil && !r.adhoc {
		observer.RecordWorkflowRun(snapshot.WorkflowID, string(status))
	}
	if e.publisher != nil {
		e.publisher.Publish(topic, snapshot)
	}
	if onFinish != nil {
		onFinish(snapshot)
	}
}

// Approve records an approval for a run suspended on an approval step
func (e *Engine) Approve(instanceID, approver, reason string) error {
	return e.decide(instanceID, automation.Approval{
		Approver: approver,
		Decision: automation.DecisionApproved,
		Reason:   reason,
	})
}

// Reject records a rejection for a run suspended on an approval step
func (e *Engine) Reject(instanceID, approver, reason string) error {
	return e.decide(instanceID, automation.Approval{
		Approver: approver,
		Decision: automation.DecisionRejected,
		Reason:   reason,
	})
}

func (e *Engine) decide(instanceID string, approval automation.Approval) error {
	if approval.Approver == "" {
		return apperrors.Detailf(apperrors.ErrBadRequest, "approver is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.runs[instanceID]
	if !ok {
		return apperrors.Detailf(apperrors.ErrNotFound, "workflow instance %s not found", instanceID)
	}
	pending := r.inst.Approval
	if pending == nil {
		return apperrors.Detailf(apperrors.ErrConflict, "workflow instance %s is not awaiting approval", instanceID)
	}
	if !eligible(pending.Approvers, approval.Approver) {
		return apperrors.Detailf(apperrors.ErrForbidden, "%s may not decide step %s", approval.Approver, pending.StepID)
	}

	approval.At = e.now()
	r.inst.Approval = nil
	r.inst.Approvals = append(r.inst.Approvals, approval)
	r.decisions <- approval
	return nil
}

func eligible(approvers []string, approver string) bool {
	if len(approvers) == 0 {
		return true
	}
	for _, a := range approvers {
		if a == approver {
			return true
		}
	}
	return false
}

// RequestApproval suspends a manual-approval action of a decision rule in a
// single-step approval run. Once decided, the approved action is executed and
// req.Done receives its result.
func (e *Engine) RequestApproval(ctx context.Context, req automation.ApprovalRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Done == nil {
		return "", fmt.Errorf("approval request for execution %s has no completion callback", req.ExecutionID)
	}

	spec := req.Action.Spec()
	step := Step{
		ID:     "approve-" + string(spec.Type),
		Name:   fmt.Sprintf("Approve %s for rule %s", spec.Type, req.RuleID),
		Type:   StepAction,
		Action: &spec,
	}
	n := &node{step: step, action: spec, approvers: append([]string(nil), req.Approvers...)}
	g := &graph{start: n, nodes: map[string]*node{step.ID: n}}

	e.mu.Lock()
	r := e.track(&Instance{
		WorkflowID:   "approval:" + req.RuleID,
		WorkflowName: step.Name,
		Trigger:      automation.Summarize(req.Event),
		Variables:    map[string]interface{}{"execution_id": req.ExecutionID, "rule_id": req.RuleID},
	}, g, req.Event)
	r.adhoc = true
	r.onFinish = func(inst Instance) {
		req.Done(actionOutcome(inst, spec))
	}
	e.mu.Unlock()

	e.launch(r)
	return r.inst.ID, nil
}

func actionOutcome(inst Instance, spec automation.ActionSpec) automation.ActionResult {
	for i := len(inst.Steps) - 1; i >= 0; i-- {
		if inst.Steps[i].Action != nil {
			return *inst.Steps[i].Action
		}
	}
	result := automation.ActionResult{
		Type:            spec.Type,
		AutomationLevel: spec.AutomationLevel,
		StartedAt:       inst.StartedAt,
		Message:         inst.Error,
	}
	if n := len(inst.Steps); n > 0 {
		result.Message = inst.Steps[n-1].Message
	}
	return result
}

// Instance returns a snapshot of one run
func (e *Engine) Instance(id string) (Instance, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.runs[id]
	if !ok {
		return Instance{}, false
	}
	return r.inst.clone(), true
}

// Instances returns up to limit runs, newest first. limit <= 0 returns all.
func (e *Engine) Instances(limit int) []Instance {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Instance, 0, len(e.runOrder))
	for i := len(e.runOrder) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if r, ok := e.runs[e.runOrder[i]]; ok {
			out = append(out, r.inst.clone())
		}
	}
	return out
}

// Wait blocks until the run terminates or ctx is done
func (e *Engine) Wait(ctx context.Context, id string) (Instance, error) {
	e.mu.RLock()
	r, ok := e.runs[id]
	e.mu.RUnlock()
	if !ok {
		return Instance{}, apperrors.Detailf(apperrors.ErrNotFound, "workflow instance %s not found", id)
	}

	select {
	case <-r.done:
		inst, _ := e.Instance(id)
		return inst, nil
	case <-ctx.Done():
		return Instance{}, ctx.Err()
	}
}

// Close cancels running instances and waits for them to terminate
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// evictRuns drops the oldest finished runs above the cap. Must be called with
// the lock held.
func (e *Engine) evictRuns() {
	if len(e.runOrder) <= e.opts.MaxInstances {
		return
	}

	excess := len(e.runOrder) - e.opts.MaxInstances
	keep := e.runOrder[:0:0]
	for _, id := range e.runOrder {
		if excess > 0 && e.runs[id].inst.Status.Terminal() {
			delete(e.runs, id)
			excess--
			continue
		}
		keep = append(keep, id)
	}
	e.runOrder = keep
}

func copyVars(vars map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}

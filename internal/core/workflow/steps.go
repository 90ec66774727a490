package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/pma-monitor/internal/core/automation"
)

func (e *Engine) runStep(ctx context.Context, r *run, n *node) StepResult {
	result := StepResult{
		StepID:    n.step.ID,
		Type:      n.step.Type,
		StartedAt: e.clock(),
	}

	var ok bool
	var msg string
	switch n.step.Type {
	case StepCondition:
		ok, msg = e.runCondition(r, n)
	case StepAction:
		var action *automation.ActionResult
		ok, msg, action = e.runAction(ctx, r, n)
		result.Action = action
	case StepApproval:
		approval := e.awaitApproval(ctx, r, n)
		ok = approval.Decision == automation.DecisionApproved
		msg = describeApproval(approval)
	case StepNotification:
		ok, msg = e.runNotification(ctx, r, n)
	case StepDelay:
		ok, msg = e.runDelay(ctx, r, n)
	default:
		msg = fmt.Sprintf("unknown step type %s", n.step.Type)
	}

	result.Success = ok
	result.Message = msg
	result.CompletedAt = e.clock()
	return result
}

// runCondition compares a workflow variable, or a field of the triggering
// event, against the step's value
func (e *Engine) runCondition(r *run, n *node) (bool, string) {
	field := stringParam(n.step.Parameters, "field")
	op := automation.Operator(stringParam(n.step.Parameters, "operator"))
	expected := n.step.Parameters["value"]

	e.mu.RLock()
	actual, ok := r.inst.Variables[field]
	e.mu.RUnlock()
	if !ok && r.event != nil {
		actual, ok = r.event.Field(automation.Field(field))
	}
	if !ok {
		return false, fmt.Sprintf("%s is not available", field)
	}

	held := automation.Compare(op, actual, expected)
	return held, fmt.Sprintf("%s %s %v: %t", field, op, expected, held)
}

func (e *Engine) runAction(ctx context.Context, r *run, n *node) (bool, string, *automation.ActionResult) {
	if e.executor == nil {
		return false, "no action executor configured", nil
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	var runnable automation.Runnable
	switch a := automation.NewAction(n.action).(type) {
	case automation.Runnable:
		runnable = a
	case automation.ApprovalAction:
		approval := e.awaitApproval(ctx, r, n)
		approved, err := a.Approve(approval)
		if err != nil {
			return false, describeApproval(approval), nil
		}
		runnable = approved
	}

	res := e.executor.Execute(ctx, runnable, r.event)
	return res.Success, res.Message, &res
}

// awaitApproval suspends the run until a decision is recorded, the step
// timeout elapses or ctx is cancelled. Timeouts and cancellation count as
// rejection.
func (e *Engine) awaitApproval(ctx context.Context, r *run, n *node) automation.Approval {
	timeout := n.timeout
	if timeout <= 0 {
		timeout = e.opts.ApprovalTimeout
	}

	e.mu.Lock()
	r.inst.Status = InstanceWaitingApproval
	r.inst.Approval = &PendingApproval{
		StepID:    n.step.ID,
		Approvers: append([]string(nil), n.approvers...),
		Deadline:  e.now().Add(timeout),
	}
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"instance_id": r.inst.ID,
		"workflow_id": r.inst.WorkflowID,
		"step_id":     n.step.ID,
		"approvers":   n.approvers,
	}).Info("Workflow waiting for approval")

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case approval := <-r.decisions:
		return approval
	case <-timer.C:
		return e.closeApproval(r, "approval timed out")
	case <-ctx.Done():
		return e.closeApproval(r, "cancelled")
	}
}

// closeApproval records a system rejection unless a decision raced in first
func (e *Engine) closeApproval(r *run, reason string) automation.Approval {
	e.mu.Lock()
	if r.inst.Approval == nil {
		e.mu.Unlock()
		return <-r.decisions
	}

	approval := automation.Approval{
		Approver: "system",
		Decision: automation.DecisionRejected,
		Reason:   reason,
		At:       e.now(),
	}
	r.inst.Approval = nil
	r.inst.Approvals = append(r.inst.Approvals, approval)
	e.mu.Unlock()
	return approval
}

func describeApproval(a automation.Approval) string {
	verb := "Approved"
	if a.Decision != automation.DecisionApproved {
		verb = "Rejected"
	}
	if a.Reason != "" {
		return fmt.Sprintf("%s by %s: %s", verb, a.Approver, a.Reason)
	}
	return fmt.Sprintf("%s by %s", verb, a.Approver)
}

func (e *Engine) runNotification(ctx context.Context, r *run, n *node) (bool, string) {
	e.mu.RLock()
	notifier := e.notifier
	vars := copyVars(r.inst.Variables)
	name := r.inst.WorkflowName
	e.mu.RUnlock()

	title := expand(stringParam(n.step.Parameters, "title"), vars)
	if title == "" {
		title = name
	}
	body := expand(stringParam(n.step.Parameters, "message"), vars)
	severity := stringParam(n.step.Parameters, "severity")
	if severity == "" {
		severity = "info"
	}

	if notifier == nil {
		return true, "Notification recorded: " + title
	}

	attempted, delivered := notifier.Broadcast(ctx, stringsParam(n.step.Parameters, "channels"), severity, title, body)
	if attempted > 0 && delivered == 0 {
		return false, fmt.Sprintf("notification failed on all %d channels", attempted)
	}
	return true, fmt.Sprintf("Notification delivered to %d of %d channels", delivered, attempted)
}

func (e *Engine) runDelay(ctx context.Context, r *run, n *node) (bool, string) {
	e.mu.Lock()
	r.inst.Status = InstanceWaiting
	e.mu.Unlock()

	timer := time.NewTimer(n.timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true, fmt.Sprintf("Waited %s", n.timeout)
	case <-ctx.Done():
		return false, "delay cancelled"
	}
}

// expand replaces {{name}} placeholders with workflow variables
func expand(s string, vars map[string]interface{}) string {
	if s == "" || !strings.Contains(s, "{{") {
		return s
	}
	for k, v := range vars {
		s = strings.ReplaceAll(s, "{{"+k+"}}", fmt.Sprint(v))
	}
	return s
}

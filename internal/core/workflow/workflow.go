package workflow

import (
	"time"

	"github.com/frostdev-ops/pma-monitor/internal/core/automation"
)

// TriggerType says what starts a workflow
type TriggerType string

const (
	TriggerPrediction TriggerType = "prediction"
	TriggerAnomaly    TriggerType = "anomaly"
	TriggerThreshold  TriggerType = "threshold"
	TriggerSchedule   TriggerType = "schedule"
	TriggerManual     TriggerType = "manual"
	// TriggerEvent matches any upstream event that satisfies the conditions
	TriggerEvent TriggerType = "event"
)

// Trigger describes when a workflow starts on its own
type Trigger struct {
	Type       TriggerType            `json:"type" yaml:"type"`
	Conditions []automation.Condition `json:"conditions,omitempty" yaml:"conditions"`
	Schedule   string                 `json:"schedule,omitempty" yaml:"schedule"`
}

// StepType selects how a step is interpreted
type StepType string

const (
	StepCondition    StepType = "condition"
	StepAction       StepType = "action"
	StepApproval     StepType = "approval"
	StepNotification StepType = "notification"
	StepDelay        StepType = "delay"
)

// Step is one node of a workflow. OnSuccess and OnFailure name the next step;
// an empty OnSuccess completes the run and an empty OnFailure aborts it.
type Step struct {
	ID         string                 `json:"id" yaml:"id"`
	Name       string                 `json:"name,omitempty" yaml:"name"`
	Type       StepType               `json:"type" yaml:"type"`
	Parameters map[string]interface{} `json:"parameters,omitempty" yaml:"parameters"`
	Action     *automation.ActionSpec `json:"action,omitempty" yaml:"action"`
	OnSuccess  string                 `json:"on_success,omitempty" yaml:"on_success"`
	OnFailure  string                 `json:"on_failure,omitempty" yaml:"on_failure"`
	Timeout    string                 `json:"timeout,omitempty" yaml:"timeout"`
}

// Status is the operator-controlled state of a workflow
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusDisabled Status = "disabled"
)

// ValidStatus reports whether s is a known workflow status
func ValidStatus(s Status) bool {
	return s == StatusActive || s == StatusPaused || s == StatusDisabled
}

// Metrics summarise finished runs of a workflow
type Metrics struct {
	TotalExecutions      int           `json:"total_executions"`
	SuccessRate          float64       `json:"success_rate"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
	LastExecution        *time.Time    `json:"last_execution,omitempty"`
}

// Workflow is a registered automation workflow. Steps[0] is the entry step.
type Workflow struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description"`
	Trigger     Trigger `json:"trigger" yaml:"trigger"`
	Steps       []Step  `json:"steps" yaml:"steps"`
	Status      Status  `json:"status" yaml:"status"`
	Metrics     Metrics `json:"metrics" yaml:"-"`
}

func (w Workflow) clone() Workflow {
	out := w
	out.Trigger.Conditions = append([]automation.Condition(nil), w.Trigger.Conditions...)
	out.Steps = make([]Step, len(w.Steps))
	for i, s := range w.Steps {
		out.Steps[i] = s
		if s.Parameters != nil {
			out.Steps[i].Parameters = make(map[string]interface{}, len(s.Parameters))
			for k, v := range s.Parameters {
				out.Steps[i].Parameters[k] = v
			}
		}
		if s.Action != nil {
			a := *s.Action
			out.Steps[i].Action = &a
		}
	}
	if w.Metrics.LastExecution != nil {
		t := *w.Metrics.LastExecution
		out.Metrics.LastExecution = &t
	}
	return out
}

// InstanceStatus is the state of one run
type InstanceStatus string

const (
	InstancePending         InstanceStatus = "pending"
	InstanceRunning         InstanceStatus = "running"
	InstanceWaitingApproval InstanceStatus = "waiting_approval"
	InstanceWaiting         InstanceStatus = "waiting"
	InstanceCompleted       InstanceStatus = "completed"
	InstanceAborted         InstanceStatus = "aborted"
)

// Terminal reports whether the run has finished
func (s InstanceStatus) Terminal() bool {
	return s == InstanceCompleted || s == InstanceAborted
}

// StepResult records one executed step
type StepResult struct {
	StepID      string                   `json:"step_id"`
	Type        StepType                 `json:"type"`
	Success     bool                     `json:"success"`
	Message     string                   `json:"message"`
	Action      *automation.ActionResult `json:"action,omitempty"`
	StartedAt   time.Time                `json:"started_at"`
	CompletedAt time.Time                `json:"completed_at"`
}

// PendingApproval describes the decision a suspended run waits for
type PendingApproval struct {
	StepID    string    `json:"step_id"`
	Approvers []string  `json:"approvers,omitempty"`
	Deadline  time.Time `json:"deadline"`
}

// Instance is one run of a workflow
type Instance struct {
	ID           string                 `json:"id"`
	WorkflowID   string                 `json:"workflow_id"`
	WorkflowName string                 `json:"workflow_name"`
	Status       InstanceStatus         `json:"status"`
	CurrentStep  string                 `json:"current_step,omitempty"`
	Trigger      automation.Summary     `json:"trigger"`
	Variables    map[string]interface{} `json:"variables,omitempty"`
	Steps        []StepResult           `json:"steps"`
	Approval     *PendingApproval       `json:"approval,omitempty"`
	Approvals    []automation.Approval  `json:"approvals,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

func (i *Instance) clone() Instance {
	out := *i
	out.Steps = make([]StepResult, len(i.Steps))
	for n, s := range i.Steps {
		out.Steps[n] = s
		if s.Action != nil {
			a := *s.Action
			out.Steps[n].Action = &a
		}
	}
	out.Approvals = append([]automation.Approval(nil), i.Approvals...)
	if i.Variables != nil {
		out.Variables = make(map[string]interface{}, len(i.Variables))
		for k, v := range i.Variables {
			out.Variables[k] = v
		}
	}
	if i.Approval != nil {
		a := *i.Approval
		a.Approvers = append([]string(nil), i.Approval.Approvers...)
		out.Approval = &a
	}
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

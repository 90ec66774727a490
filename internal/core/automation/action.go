package automation

import (
	"fmt"
	"time"
)

// ActionType selects the handler that performs an action
type ActionType string

const (
	ActionNotification       ActionType = "notification"
	ActionEscalation         ActionType = "escalation"
	ActionResourceAllocation ActionType = "resource_allocation"
	ActionWorkflowTrigger    ActionType = "workflow_trigger"
	ActionPreventiveMeasure  ActionType = "preventive_measure"
)

// ValidActionType reports whether t is a known action type
func ValidActionType(t ActionType) bool {
	switch t {
	case ActionNotification, ActionEscalation, ActionResourceAllocation, ActionWorkflowTrigger, ActionPreventiveMeasure:
		return true
	}
	return false
}

// AutomationLevel says whether an action may run without a human
type AutomationLevel string

const (
	LevelFullyAutomated AutomationLevel = "fully_automated"
	LevelSemiAutomated  AutomationLevel = "semi_automated"
	LevelManualApproval AutomationLevel = "manual_approval"
)

// ActionSpec is the declarative form of an action inside a rule or workflow
type ActionSpec struct {
	Type            ActionType             `json:"type" yaml:"type"`
	Parameters      map[string]interface{} `json:"parameters,omitempty" yaml:"parameters"`
	AutomationLevel AutomationLevel        `json:"automation_level" yaml:"automation_level"`
	MaxImpact       float64                `json:"max_impact" yaml:"max_impact"`
	Rollbackable    bool                   `json:"rollbackable" yaml:"rollbackable"`
}

// Validate checks the action definition
func (s ActionSpec) Validate() error {
	if !ValidActionType(s.Type) {
		return fmt.Errorf("unknown action type %q", s.Type)
	}
	switch s.AutomationLevel {
	case LevelFullyAutomated, LevelSemiAutomated, LevelManualApproval:
	default:
		return fmt.Errorf("unknown automation level %q", s.AutomationLevel)
	}
	if s.MaxImpact < 0 || s.MaxImpact > 1 {
		return fmt.Errorf("max_impact must be within [0,1]")
	}
	return nil
}

func (s ActionSpec) clone() ActionSpec {
	out := s
	if s.Parameters != nil {
		out.Parameters = make(map[string]interface{}, len(s.Parameters))
		for k, v := range s.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}

// Action is either an AutomatedAction or an ApprovalAction
type Action interface {
	Spec() ActionSpec
	action()
}

// Runnable is an action the executor is allowed to perform. Only
// AutomatedAction and ApprovedAction implement it.
type Runnable interface {
	Action
	runnable()
}

// AutomatedAction may run without human approval
type AutomatedAction struct {
	spec ActionSpec
}

func (a AutomatedAction) Spec() ActionSpec { return a.spec.clone() }
func (AutomatedAction) action()            {}
func (AutomatedAction) runnable()          {}

// ApprovalAction requires an approval before it can run
type ApprovalAction struct {
	spec ActionSpec
}

func (a ApprovalAction) Spec() ActionSpec { return a.spec.clone() }
func (ApprovalAction) action()            {}

// Approve turns the action into something the executor accepts
func (a ApprovalAction) Approve(approval Approval) (ApprovedAction, error) {
	if approval.Approver == "" {
		return ApprovedAction{}, fmt.Errorf("approval requires an approver")
	}
	if approval.Decision != DecisionApproved {
		return ApprovedAction{}, fmt.Errorf("action was %s by %s", approval.Decision, approval.Approver)
	}
	return ApprovedAction{spec: a.spec, approval: approval}, nil
}

// ApprovedAction is an ApprovalAction carrying its approval
type ApprovedAction struct {
	spec     ActionSpec
	approval Approval
}

func (a ApprovedAction) Spec() ActionSpec   { return a.spec.clone() }
func (a ApprovedAction) Approval() Approval { return a.approval }
func (ApprovedAction) action()              {}
func (ApprovedAction) runnable()            {}

// NewAction classifies a spec by its automation level
func NewAction(spec ActionSpec) Action {
	spec = spec.clone()
	if spec.AutomationLevel == LevelManualApproval {
		return ApprovalAction{spec: spec}
	}
	if spec.AutomationLevel == "" {
		spec.AutomationLevel = LevelSemiAutomated
	}
	return AutomatedAction{spec: spec}
}

// Decision is the verdict recorded by an approver
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Approval records one approver's decision
type Approval struct {
	Approver string    `json:"approver"`
	Decision Decision  `json:"decision"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// ActionResult is the outcome of one attempted action
type ActionResult struct {
	Type            ActionType      `json:"type"`
	AutomationLevel AutomationLevel `json:"automation_level"`
	Success         bool            `json:"success"`
	Pending         bool            `json:"pending,omitempty"`
	Message         string          `json:"message"`
	Impact          float64         `json:"impact"`
	Reference       string          `json:"reference,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	Duration        time.Duration   `json:"duration"`
}

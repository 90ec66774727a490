package automation

import (
	"fmt"
	"time"
)

// Rule maps a set of conditions to a set of actions
type Rule struct {
	ID               string       `json:"id" yaml:"id"`
	Name             string       `json:"name" yaml:"name"`
	Description      string       `json:"description" yaml:"description"`
	Conditions       []Condition  `json:"conditions" yaml:"conditions"`
	Actions          []ActionSpec `json:"actions" yaml:"actions"`
	Priority         int          `json:"priority" yaml:"priority"`
	Enabled          bool         `json:"enabled" yaml:"enabled"`
	ApprovalRequired bool         `json:"approval_required" yaml:"approval_required"`
	Approvers        []string     `json:"approvers,omitempty" yaml:"approvers"`

	// History is append-only and never pruned by the engine
	History []HistoryEntry `json:"history" yaml:"-"`
}

// HistoryEntry records one firing of a rule
type HistoryEntry struct {
	ExecutionID string    `json:"execution_id"`
	Outcome     Outcome   `json:"outcome"`
	Impact      float64   `json:"impact"`
	At          time.Time `json:"at"`
}

// RuleValidationError represents a validation error for one rule field
type RuleValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// RuleValidationResult contains validation results
type RuleValidationResult struct {
	Valid  bool                  `json:"valid"`
	Errors []RuleValidationError `json:"errors,omitempty"`
}

// Error joins the validation errors
func (r *RuleValidationResult) Error() string {
	if len(r.Errors) == 0 {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", r.Errors[0].Field, r.Errors[0].Message)
	if len(r.Errors) > 1 {
		msg += fmt.Sprintf(" (and %d more)", len(r.Errors)-1)
	}
	return msg
}

// Validate performs validation of the rule definition
func (r *Rule) Validate() *RuleValidationResult {
	result := &RuleValidationResult{Valid: true, Errors: []RuleValidationError{}}

	if r.ID == "" {
		result.Errors = append(result.Errors, RuleValidationError{Field: "id", Message: "Rule ID is required"})
	}
	if r.Name == "" {
		result.Errors = append(result.Errors, RuleValidationError{Field: "name", Message: "Rule name is required"})
	}
	if r.Priority < 1 || r.Priority > 10 {
		result.Errors = append(result.Errors, RuleValidationError{
			Field:   "priority",
			Message: fmt.Sprintf("Priority must be between 1 and 10, got %d", r.Priority),
		})
	}
	if len(r.Conditions) == 0 {
		result.Errors = append(result.Errors, RuleValidationError{Field: "conditions", Message: "At least one condition is required"})
	}
	for i, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			result.Errors = append(result.Errors, RuleValidationError{
				Field:   fmt.Sprintf("conditions[%d]", i),
				Message: err.Error(),
			})
		}
	}
	if len(r.Actions) == 0 {
		result.Errors = append(result.Errors, RuleValidationError{Field: "actions", Message: "At least one action is required"})
	}
	for i, a := range r.Actions {
		if err := a.Validate(); err != nil {
			result.Errors = append(result.Errors, RuleValidationError{
				Field:   fmt.Sprintf("actions[%d]", i),
				Message: err.Error(),
			})
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// CanApprove reports whether approver is eligible for this rule's gate
func (r *Rule) CanApprove(approver string) bool {
	if approver == "" {
		return false
	}
	if len(r.Approvers) == 0 {
		return true
	}
	for _, a := range r.Approvers {
		if a == approver {
			return true
		}
	}
	return false
}

func (r *Rule) clone() Rule {
	out := *r
	out.Conditions = append([]Condition(nil), r.Conditions...)
	out.Actions = make([]ActionSpec, len(r.Actions))
	for i, a := range r.Actions {
		out.Actions[i] = a.clone()
	}
	out.Approvers = append([]string(nil), r.Approvers...)
	out.History = append([]HistoryEntry(nil), r.History...)
	return out
}

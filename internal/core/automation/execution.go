package automation

import "time"

// Outcome is the overall result of a rule firing
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
	OutcomePending Outcome = "pending"
)

// TriggerSource says what caused a rule to fire
type TriggerSource string

const (
	SourceSystem     TriggerSource = "system"
	SourceUser       TriggerSource = "user"
	SourcePrediction TriggerSource = "prediction"
	SourceAnomaly    TriggerSource = "anomaly"
)

func sourceFor(e Event) TriggerSource {
	if e == nil {
		return SourceSystem
	}
	switch e.Kind() {
	case KindPrediction:
		return SourcePrediction
	case KindAnomaly:
		return SourceAnomaly
	case KindManual:
		return SourceUser
	default:
		return SourceSystem
	}
}

// Impact aggregates action impacts into a signed score
type Impact struct {
	Positive float64 `json:"positive"`
	Negative float64 `json:"negative"`
	Overall  float64 `json:"overall"`
}

// Rollback records that reversible actions of a failed execution were undone
type Rollback struct {
	Actions []ActionType `json:"actions"`
	Reason  string       `json:"reason"`
	At      time.Time    `json:"at"`
}

// Execution is the record of one rule firing
type Execution struct {
	ID                string         `json:"id"`
	RuleID            string         `json:"rule_id"`
	RuleName          string         `json:"rule_name"`
	TriggeredAt       time.Time      `json:"triggered_at"`
	TriggerSource     TriggerSource  `json:"trigger_source"`
	Event             Summary        `json:"event"`
	MatchedConditions []Condition    `json:"matched_conditions"`
	Results           []ActionResult `json:"results"`
	Outcome           Outcome        `json:"outcome"`
	Impact            Impact         `json:"impact"`
	ApprovalRequired  bool           `json:"approval_required"`
	AwaitingApproval  bool           `json:"awaiting_approval"`
	Approvals         []Approval     `json:"approvals"`
	Rollback          *Rollback      `json:"rollback,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
}

func (x *Execution) clone() Execution {
	out := *x
	out.MatchedConditions = append([]Condition(nil), x.MatchedConditions...)
	out.Results = append([]ActionResult(nil), x.Results...)
	out.Approvals = append([]Approval(nil), x.Approvals...)
	if x.Rollback != nil {
		rb := *x.Rollback
		rb.Actions = append([]ActionType(nil), x.Rollback.Actions...)
		out.Rollback = &rb
	}
	if x.CompletedAt != nil {
		at := *x.CompletedAt
		out.CompletedAt = &at
	}
	return out
}

// Aggregate derives the outcome and impact of a set of action results.
// Any pending result keeps the outcome pending. Otherwise all successes give
// success, all failures give failure, and a mix gives partial only when every
// failed action was fully automated.
func Aggregate(results []ActionResult) (Outcome, Impact) {
	if len(results) == 0 {
		return OutcomeFailure, Impact{}
	}

	var succeeded, failed int
	var impactSum float64
	failuresAutomated := true

	for _, r := range results {
		if r.Pending {
			return OutcomePending, Impact{}
		}
		if r.Success {
			succeeded++
			impactSum += r.Impact
			continue
		}
		failed++
		if r.AutomationLevel != LevelFullyAutomated {
			failuresAutomated = false
		}
	}

	var impact Impact
	if succeeded > 0 {
		impact.Positive = impactSum / float64(succeeded)
		impact.Overall = impact.Positive - impact.Negative
	}

	switch {
	case failed == 0:
		return OutcomeSuccess, impact
	case succeeded == 0:
		return OutcomeFailure, impact
	case failuresAutomated:
		return OutcomePartial, impact
	default:
		return OutcomeFailure, impact
	}
}

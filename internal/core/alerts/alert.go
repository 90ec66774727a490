package alerts

import (
	"strings"
	"time"
)

// Severity represents the severity level of an alert
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// Rank orders severities from least to most severe
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	case SeverityEmergency:
		return 4
	default:
		return 0
	}
}

// SeverityFromLevel maps an upstream low/medium/high/critical level onto an
// alert severity
func SeverityFromLevel(level string) Severity {
	switch strings.ToLower(level) {
	case "medium":
		return SeverityWarning
	case "high":
		return SeverityCritical
	case "critical":
		return SeverityEmergency
	default:
		return SeverityInfo
	}
}

// Type says what raised the alert
type Type string

const (
	TypeThreshold   Type = "threshold"
	TypeAnomaly     Type = "anomaly"
	TypePrediction  Type = "prediction"
	TypeCorrelation Type = "correlation"
	TypeSystem      Type = "system"
)

// Status is derived from the acknowledgement, resolution and expiry state
type Status string

const (
	StatusOpen         Status = "open"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusExpired      Status = "expired"
)

// Source identifies the component and entity an alert is about
type Source struct {
	Component  string `json:"component"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// Context carries the values that triggered the alert
type Context struct {
	CurrentValue     *float64 `json:"current_value,omitempty"`
	Threshold        *float64 `json:"threshold,omitempty"`
	Trend            string   `json:"trend,omitempty"`
	Confidence       *float64 `json:"confidence,omitempty"`
	RelatedEntities  []string `json:"related_entities,omitempty"`
	AffectedEntities []string `json:"affected_entities,omitempty"`
}

// AutoResolution describes whether the alert may close on its own
type AutoResolution struct {
	Possible         bool     `json:"possible"`
	Confidence       float64  `json:"confidence"`
	EstimatedMinutes int      `json:"estimated_minutes,omitempty"`
	Actions          []string `json:"actions,omitempty"`
}

type Acknowledgement struct {
	Acknowledged bool       `json:"acknowledged"`
	By           string     `json:"by,omitempty"`
	At           *time.Time `json:"at,omitempty"`
	Reason       string     `json:"reason,omitempty"`
}

type Resolution struct {
	Resolved      bool       `json:"resolved"`
	By            string     `json:"by,omitempty"`
	At            *time.Time `json:"at,omitempty"`
	Text          string     `json:"text,omitempty"`
	Automatic     bool       `json:"automatic,omitempty"`
	Effectiveness *float64   `json:"effectiveness,omitempty"`
}

// Alert is a stateful record raised by a threshold breach or an upstream event
type Alert struct {
	ID              string          `json:"id"`
	Severity        Severity        `json:"severity"`
	Type            Type            `json:"type"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Source          Source          `json:"source"`
	Context         Context         `json:"context"`
	Actionable      bool            `json:"actionable"`
	AutoResolution  AutoResolution  `json:"auto_resolution"`
	Acknowledgement Acknowledgement `json:"acknowledgement"`
	Resolution      Resolution      `json:"resolution"`
	Occurrences     int             `json:"occurrences"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	Expired         bool            `json:"expired"`
}

// Status returns the lifecycle state of the alert
func (a *Alert) Status() Status {
	switch {
	case a.Resolution.Resolved:
		return StatusResolved
	case a.Expired:
		return StatusExpired
	case a.Acknowledgement.Acknowledged:
		return StatusAcknowledged
	default:
		return StatusOpen
	}
}

// IsOpen reports whether the alert is neither resolved nor expired
func (a *Alert) IsOpen() bool {
	return !a.Resolution.Resolved && !a.Expired
}

func (a *Alert) clone() Alert {
	out := *a
	out.Context.CurrentValue = copyFloat(a.Context.CurrentValue)
	out.Context.Threshold = copyFloat(a.Context.Threshold)
	out.Context.Confidence = copyFloat(a.Context.Confidence)
	out.Context.RelatedEntities = append([]string(nil), a.Context.RelatedEntities...)
	out.Context.AffectedEntities = append([]string(nil), a.Context.AffectedEntities...)
	out.AutoResolution.Actions = append([]string(nil), a.AutoResolution.Actions...)
	out.Acknowledgement.At = copyTime(a.Acknowledgement.At)
	out.Resolution.At = copyTime(a.Resolution.At)
	out.Resolution.Effectiveness = copyFloat(a.Resolution.Effectiveness)
	out.ExpiresAt = copyTime(a.ExpiresAt)
	return out
}

// Candidate is the input to Manager.Raise
type Candidate struct {
	Severity       Severity
	Type           Type
	Title          string
	Description    string
	Source         Source
	Context        Context
	Actionable     bool
	AutoResolution AutoResolution
	// TTL overrides the manager's default expiry. Zero uses the default.
	TTL time.Duration
}

// Float returns a pointer to v, for populating Context
func Float(v float64) *float64 {
	return &v
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

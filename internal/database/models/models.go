package models

import (
	"database/sql"
	"time"
)

// AlertRecord is the persisted form of an alert. Payload holds the full
// alert as JSON.
type AlertRecord struct {
	ID        string    `json:"id" db:"id"`
	Severity  string    `json:"severity" db:"severity"`
	Type      string    `json:"type" db:"type"`
	Title     string    `json:"title" db:"title"`
	Component string    `json:"source_component" db:"source_component"`
	EntityID  string    `json:"entity_id" db:"entity_id"`
	Status    string    `json:"status" db:"status"`
	Payload   string    `json:"payload" db:"payload"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ExecutionRecord is the persisted form of a decision execution
type ExecutionRecord struct {
	ID            string    `json:"id" db:"id"`
	RuleID        string    `json:"rule_id" db:"rule_id"`
	Outcome       string    `json:"outcome" db:"outcome"`
	OverallImpact float64   `json:"overall_impact" db:"overall_impact"`
	Payload       string    `json:"payload" db:"payload"`
	TriggeredAt   time.Time `json:"triggered_at" db:"triggered_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// WorkflowRunRecord is the persisted form of a finished workflow instance
type WorkflowRunRecord struct {
	ID          string       `json:"id" db:"id"`
	WorkflowID  string       `json:"workflow_id" db:"workflow_id"`
	Status      string       `json:"status" db:"status"`
	Error       string       `json:"error" db:"error"`
	Payload     string       `json:"payload" db:"payload"`
	StartedAt   time.Time    `json:"started_at" db:"started_at"`
	CompletedAt sql.NullTime `json:"completed_at" db:"completed_at"`
}

// MetricSnapshot is one sampled metric value
type MetricSnapshot struct {
	ID         int64     `json:"id" db:"id"`
	MetricID   string    `json:"metric_id" db:"metric_id"`
	Value      float64   `json:"value" db:"value"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}

// AlertFilter narrows ListAlerts. Empty fields match everything.
type AlertFilter struct {
	Status   string
	Severity string
	EntityID string
	Limit    int
}

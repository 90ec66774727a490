package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/frostdev-ops/pma-monitor/internal/database/models"
	"github.com/frostdev-ops/pma-monitor/internal/database/repositories"
)

const defaultListLimit = 100

// AuditRepository implements repositories.AuditRepository
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) repositories.AuditRepository {
	return &AuditRepository{db: db}
}

// SaveAlert inserts an alert or replaces the stored state of an existing one
func (r *AuditRepository) SaveAlert(ctx context.Context, alert *models.AlertRecord) error {
	query := `
		INSERT INTO alerts (
			id, severity, type, title, source_component, entity_id,
			status, payload, created_at, updated_at
		) VALUES (
			:id, :severity, :type, :title, :source_component, :entity_id,
			:status, :payload, :created_at, :updated_at
		)
		ON CONFLICT(id) DO UPDATE SET
			severity = excluded.severity,
			title = excluded.title,
			status = excluded.status,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`

	if _, err := r.db.NamedExecContext(ctx, query, alert); err != nil {
		return fmt.Errorf("failed to save alert %s: %w", alert.ID, err)
	}
	return nil
}

// SaveExecution inserts or updates a decision execution
func (r *AuditRepository) SaveExecution(ctx context.Context, exec *models.ExecutionRecord) error {
	query := `
		INSERT INTO decision_executions (
			id, rule_id, outcome, overall_impact, payload, triggered_at, updated_at
		) VALUES (
			:id, :rule_id, :outcome, :overall_impact, :payload, :triggered_at, :updated_at
		)
		ON CONFLICT(id) DO UPDATE SET
			outcome = excluded.outcome,
			overall_impact = excluded.overall_impact,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`

	if _, err := r.db.NamedExecContext(ctx, query, exec); err != nil {
		return fmt.Errorf("failed to save execution %s: %w", exec.ID, err)
	}
	return nil
}

// SaveWorkflowRun stores a workflow instance
func (r *AuditRepository) SaveWorkflowRun(ctx context.Context, run *models.WorkflowRunRecord) error {
	query := `
		INSERT INTO workflow_runs (
			id, workflow_id, status, error, payload, started_at, completed_at
		) VALUES (
			:id, :workflow_id, :status, :error, :payload, :started_at, :completed_at
		)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			payload = excluded.payload,
			completed_at = excluded.completed_at
	`

	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("failed to save workflow run %s: %w", run.ID, err)
	}
	return nil
}

// SaveMetricSnapshots writes one tick's samples in a single transaction
func (r *AuditRepository) SaveMetricSnapshots(ctx context.Context, snapshots []models.MetricSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO metric_snapshots (metric_id, value, recorded_at)
		VALUES (:metric_id, :value, :recorded_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for i := range snapshots {
		if _, err := stmt.ExecContext(ctx, &snapshots[i]); err != nil {
			return fmt.Errorf("failed to save snapshot for %s: %w", snapshots[i].MetricID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshots: %w", err)
	}
	return nil
}

// ListAlerts returns stored alerts, newest first
func (r *AuditRepository) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]*models.AlertRecord, error) {
	var where []string
	var args []interface{}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}

	query := `
		SELECT id, severity, type, title, source_component, entity_id,
		       status, payload, created_at, updated_at
		FROM alerts
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limitOrDefault(filter.Limit))

	var alerts []*models.AlertRecord
	if err := r.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

// ListExecutions returns executions, newest first. An empty ruleID lists all.
func (r *AuditRepository) ListExecutions(ctx context.Context, ruleID string, limit int) ([]*models.ExecutionRecord, error) {
	query := `
		SELECT id, rule_id, outcome, overall_impact, payload, triggered_at, updated_at
		FROM decision_executions
		WHERE (? = '' OR rule_id = ?)
		ORDER BY triggered_at DESC
		LIMIT ?
	`

	var execs []*models.ExecutionRecord
	if err := r.db.SelectContext(ctx, &execs, query, ruleID, ruleID, limitOrDefault(limit)); err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return execs, nil
}

// ListWorkflowRuns returns runs, newest first. An empty workflowID lists all.
func (r *AuditRepository) ListWorkflowRuns(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowRunRecord, error) {
	query := `
		SELECT id, workflow_id, status, error, payload, started_at, completed_at
		FROM workflow_runs
		WHERE (? = '' OR workflow_id = ?)
		ORDER BY started_at DESC
		LIMIT ?
	`

	var runs []*models.WorkflowRunRecord
	if err := r.db.SelectContext(ctx, &runs, query, workflowID, workflowID, limitOrDefault(limit)); err != nil {
		return nil, fmt.Errorf("failed to list workflow runs: %w", err)
	}
	return runs, nil
}

// MetricHistory returns samples recorded at or after since, oldest first
func (r *AuditRepository) MetricHistory(ctx context.Context, metricID string, since time.Time, limit int) ([]*models.MetricSnapshot, error) {
	query := `
		SELECT id, metric_id, value, recorded_at FROM (
			SELECT id, metric_id, value, recorded_at
			FROM metric_snapshots
			WHERE metric_id = ? AND recorded_at >= ?
			ORDER BY recorded_at DESC, id DESC
			LIMIT ?
		) ORDER BY recorded_at ASC, id ASC
	`

	var snapshots []*models.MetricSnapshot
	if err := r.db.SelectContext(ctx, &snapshots, query, metricID, since, limitOrDefault(limit)); err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", metricID, err)
	}
	return snapshots, nil
}

// DeleteSnapshotsBefore prunes old samples
func (r *AuditRepository) DeleteSnapshotsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM metric_snapshots WHERE recorded_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune metric snapshots: %w", err)
	}
	return result.RowsAffected()
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

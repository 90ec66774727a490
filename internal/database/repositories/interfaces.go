package repositories

import (
	"context"
	"time"

	"github.com/frostdev-ops/pma-monitor/internal/database/models"
)

// AuditRepository stores the engine's alert, execution, workflow and metric
// history
type AuditRepository interface {
	SaveAlert(ctx context.Context, alert *models.AlertRecord) error
	SaveExecution(ctx context.Context, exec *models.ExecutionRecord) error
	SaveWorkflowRun(ctx context.Context, run *models.WorkflowRunRecord) error
	SaveMetricSnapshots(ctx context.Context, snapshots []models.MetricSnapshot) error

	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]*models.AlertRecord, error)
	ListExecutions(ctx context.Context, ruleID string, limit int) ([]*models.ExecutionRecord, error)
	ListWorkflowRuns(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowRunRecord, error)
	MetricHistory(ctx context.Context, metricID string, since time.Time, limit int) ([]*models.MetricSnapshot, error)
	DeleteSnapshotsBefore(ctx context.Context, before time.Time) (int64, error)
}

package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostdev-ops/pma-monitor/internal/config"
	"github.com/frostdev-ops/pma-monitor/internal/database"
	"github.com/frostdev-ops/pma-monitor/internal/database/models"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.Initialize(config.DatabaseConfig{Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { db.Close() })
	return db
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestAuditRepository_SaveAlertUpserts(t *testing.T) {
	repo := NewAuditRepository(setupTestDB(t))
	ctx := context.Background()

	alert := &models.AlertRecord{
		ID: "a-1", Severity: "warning", Type: "threshold", Title: "CPU high",
		Component: "monitoring", EntityID: "cpu_usage", Status: "open",
		Payload: `{"id":"a-1"}`, CreatedAt: base, UpdatedAt: base,
	}
	require.NoError(t, repo.SaveAlert(ctx, alert))

	alert.Status = "resolved"
	alert.UpdatedAt = base.Add(time.Minute)
	require.NoError(t, repo.SaveAlert(ctx, alert))

	require.NoError(t, repo.SaveAlert(ctx, &models.AlertRecord{
		ID: "a-2", Severity: "critical", Type: "anomaly", Title: "Velocity spike",
		EntityID: "issue_velocity", Status: "open", Payload: "{}",
		CreatedAt: base.Add(time.Hour), UpdatedAt: base.Add(time.Hour),
	}))

	all, err := repo.ListAlerts(ctx, models.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a-2", all[0].ID, "newest first")
	assert.Equal(t, "resolved", all[1].Status)
	assert.True(t, base.Add(time.Minute).Equal(all[1].UpdatedAt))

	open, err := repo.ListAlerts(ctx, models.AlertFilter{Status: "open"})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "issue_velocity", open[0].EntityID)

	bySeverity, err := repo.ListAlerts(ctx, models.AlertFilter{Severity: "warning", EntityID: "cpu_usage", Limit: 5})
	require.NoError(t, err)
	assert.Len(t, bySeverity, 1)
}

func TestAuditRepository_Executions(t *testing.T) {
	repo := NewAuditRepository(setupTestDB(t))
	ctx := context.Background()

	exec := &models.ExecutionRecord{ID: "x-1", RuleID: "r-1", Outcome: "pending", Payload: "{}", TriggeredAt: base, UpdatedAt: base}
	require.NoError(t, repo.SaveExecution(ctx, exec))

	exec.Outcome = "success"
	exec.OverallImpact = 0.4
	require.NoError(t, repo.SaveExecution(ctx, exec))
	require.NoError(t, repo.SaveExecution(ctx, &models.ExecutionRecord{
		ID: "x-2", RuleID: "r-2", Outcome: "failure", Payload: "{}", TriggeredAt: base.Add(time.Second), UpdatedAt: base,
	}))

	all, err := repo.ListExecutions(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "x-2", all[0].ID)

	forRule, err := repo.ListExecutions(ctx, "r-1", 10)
	require.NoError(t, err)
	require.Len(t, forRule, 1)
	assert.Equal(t, "success", forRule[0].Outcome)
	assert.Equal(t, 0.4, forRule[0].OverallImpact)
}

func TestAuditRepository_WorkflowRuns(t *testing.T) {
	repo := NewAuditRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.SaveWorkflowRun(ctx, &models.WorkflowRunRecord{
		ID: "i-1", WorkflowID: "wf", Status: "completed", Payload: "{}",
		StartedAt: base, CompletedAt: sql.NullTime{Time: base.Add(time.Minute), Valid: true},
	}))
	require.NoError(t, repo.SaveWorkflowRun(ctx, &models.WorkflowRunRecord{
		ID: "i-2", WorkflowID: "other", Status: "aborted", Error: "step s1 failed", Payload: "{}", StartedAt: base,
	}))

	runs, err := repo.ListWorkflowRuns(ctx, "wf", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].CompletedAt.Valid)

	runs, err = repo.ListWorkflowRuns(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestAuditRepository_MetricHistory(t *testing.T) {
	repo := NewAuditRepository(setupTestDB(t))
	ctx := context.Background()

	var batch []models.MetricSnapshot
	for i := 0; i < 5; i++ {
		batch = append(batch, models.MetricSnapshot{MetricID: "cpu_usage", Value: float64(10 * i), RecordedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	batch = append(batch, models.MetricSnapshot{MetricID: "disk_usage", Value: 50, RecordedAt: base})
	require.NoError(t, repo.SaveMetricSnapshots(ctx, batch))
	require.NoError(t, repo.SaveMetricSnapshots(ctx, nil))

	history, err := repo.MetricHistory(ctx, "cpu_usage", base.Add(time.Minute), 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []float64{20, 30, 40}, []float64{history[0].Value, history[1].Value, history[2].Value})

	deleted, err := repo.DeleteSnapshotsBefore(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	history, err = repo.MetricHistory(ctx, "cpu_usage", time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestMigrate_IsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, database.Migrate(db))
}

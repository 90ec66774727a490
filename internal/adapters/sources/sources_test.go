package sources

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostdev-ops/pma-monitor/internal/adapters/breaker"
	"github.com/frostdev-ops/pma-monitor/internal/config"
)

func TestMulti_RoutesByMetric(t *testing.T) {
	business := NewStaticProvider()
	business.Set("issue_velocity", 9.2)
	fallback := NewStaticProvider()
	fallback.Set("active_users", 12)

	m := NewMulti(fallback)
	m.Add(business)

	v, err := m.Value(context.Background(), "issue_velocity")
	require.NoError(t, err)
	assert.Equal(t, 9.2, v)

	v, err = m.Value(context.Background(), "active_users")
	require.NoError(t, err)
	assert.Equal(t, 12.0, v)

	_, err = NewMulti(nil).Value(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, []string{"issue_velocity"}, m.Metrics())
}

func TestStaticProvider_FailUntilSet(t *testing.T) {
	p := NewStaticProvider()
	p.Set("error_rate", 1)
	p.Fail("error_rate", errors.New("upstream down"))

	_, err := p.Value(context.Background(), "error_rate")
	assert.EqualError(t, err, "upstream down")

	p.Set("error_rate", 2)
	v, err := p.Value(context.Background(), "error_rate")
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
}

func TestSystemProvider_Dispatch(t *testing.T) {
	p := NewSystemProvider("")
	p.cpuPercent = func(context.Context) (float64, error) { return 42, nil }
	p.memPercent = func(context.Context) (float64, error) { return 61, nil }
	p.diskPercent = func(_ context.Context, path string) (float64, error) {
		assert.Equal(t, "/", path)
		return 77, nil
	}

	for id, want := range map[string]float64{MetricCPUUsage: 42, MetricMemoryUsage: 61, MetricDiskUsage: 77} {
		v, err := p.Value(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, v, id)
	}

	_, err := p.Value(context.Background(), "open_issues")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSystemProvider_ReadsHost(t *testing.T) {
	v, err := NewSystemProvider("/").Value(context.Background(), MetricMemoryUsage)
	require.NoError(t, err)
	assert.True(t, v > 0 && v <= 100, "got %v", v)
}

func TestSQLProvider(t *testing.T) {
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE issues (id INTEGER PRIMARY KEY, status TEXT, closed_at INTEGER)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO issues (status) VALUES ('open'), ('open'), ('closed')`)
	require.NoError(t, err)

	p := NewSQLProvider(db, map[string]string{
		"open_issues": `SELECT COUNT(*) FROM issues WHERE status = 'open'`,
		"nothing":     `SELECT MAX(closed_at) FROM issues`,
		"broken":      `SELECT FROM`,
	})

	v, err := p.Value(context.Background(), "open_issues")
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	_, err = p.Value(context.Background(), "nothing")
	assert.ErrorContains(t, err, "NULL")

	_, err = p.Value(context.Background(), "broken")
	assert.Error(t, err)

	_, err = p.Value(context.Background(), "active_users")
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, []string{"broken", "nothing", "open_issues"}, p.Metrics())
}

func TestBreakerProvider(t *testing.T) {
	logger, _ := test.NewNullLogger()
	inner := NewStaticProvider()
	inner.Fail("error_rate", errors.New("timeout"))

	cfg := config.BreakerConfig{MinRequests: 2, FailureRatio: 1, Timeout: time.Minute}

	// unsupported metrics never trip the breaker
	quiet := WithBreaker("quiet", inner, cfg, logger)
	for i := 0; i < 5; i++ {
		_, err := quiet.Value(context.Background(), "unknown")
		assert.ErrorIs(t, err, ErrUnsupported)
	}
	assert.Equal(t, "closed", quiet.State())

	b := WithBreaker("business", inner, cfg, logger)

	_, _ = b.Value(context.Background(), "error_rate")
	_, _ = b.Value(context.Background(), "error_rate")
	assert.Equal(t, "open", b.State())

	inner.Set("error_rate", 0.5)
	_, err := b.Value(context.Background(), "error_rate")
	assert.True(t, breaker.IsOpen(err))
}

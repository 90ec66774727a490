package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostdev-ops/pma-monitor/internal/adapters/feed"
	"github.com/frostdev-ops/pma-monitor/internal/adapters/sources"
	"github.com/frostdev-ops/pma-monitor/internal/api/handlers"
	"github.com/frostdev-ops/pma-monitor/internal/config"
	"github.com/frostdev-ops/pma-monitor/internal/core/metrics"
	"github.com/frostdev-ops/pma-monitor/internal/core/monitoring"
	"github.com/frostdev-ops/pma-monitor/internal/core/notifications"
	"github.com/frostdev-ops/pma-monitor/pkg/logger"
)

const testSecret = "test-secret"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Meta    map[string]any  `json:"meta"`
}

type server struct {
	router   *gin.Engine
	engine   *monitoring.Engine
	provider *sources.StaticProvider
	feed     *feed.Queue
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Mode: "test"},
		Auth:   config.AuthConfig{JWTSecret: testSecret},
		Monitoring: config.MonitoringConfig{
			Enabled:              true,
			TickInterval:         time.Second,
			DecisionInterval:     time.Minute,
			TickTimeout:          time.Second,
			HistoryCap:           10,
			ThresholdClearPolicy: monitoring.ClearManual,
		},
		Alerts: config.AlertsConfig{
			DedupWindow:             5 * time.Minute,
			AutoResolveDelay:        time.Hour,
			AutoResolveConfidence:   0.8,
			DefaultTTL:              24 * time.Hour,
			Retention:               time.Hour,
			MaxAlerts:               100,
			PredictionMinConfidence: 0.7,
		},
		Automation: config.AutomationConfig{
			Enabled:         true,
			ActionTimeout:   time.Second,
			ApprovalTimeout: time.Minute,
		},
	}
}

func newServer(t *testing.T, cfg *config.Config) *server {
	t.Helper()
	bl := logger.New(logger.Options{Level: "error", Output: io.Discard})

	reg := prometheus.NewRegistry()
	exporter := metrics.NewExporter(reg, "pma")

	s := &server{
		provider: sources.NewStaticProvider(),
		feed:     feed.NewQueue(100, bl.Logger),
	}
	engine, err := monitoring.NewEngine(monitoring.Deps{
		Config:   cfg,
		Logger:   bl.Logger,
		Provider: s.provider,
		Feed:     s.feed,
		Exporter: exporter,
		Senders: func(notifications.Channel) (notifications.Sender, error) {
			return notifications.SenderFunc(func(context.Context, notifications.Notification) error { return nil }), nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { engine.Stop(context.Background()) })
	s.engine = engine

	h := handlers.NewHandlers(cfg, engine, s.feed, nil, nil, bl.Logger)
	s.router = NewRouter(cfg, h, bl, exporter, reg)
	return s
}

func (s *server) do(t *testing.T, method, path, body, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func signedToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func raiseVelocityAlert(t *testing.T, s *server) string {
	t.Helper()
	s.provider.Set("issue_velocity", 9.2)
	require.True(t, s.engine.Loop().Tick(context.Background()))

	_, env := s.do(t, http.MethodGet, "/api/v1/alerts?severity=critical", "", "")
	var list []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "open", list[0]["status"])
	return list[0]["id"].(string)
}

func TestHealth(t *testing.T) {
	cfg := testConfig()
	s := newServer(t, cfg)

	w, _ := s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "loop not started")

	cfg.Monitoring.Enabled = false
	w, _ = s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"service":"pma-monitor"`)
}

func TestMetricsEndpoints(t *testing.T) {
	s := newServer(t, testConfig())

	w, env := s.do(t, http.MethodGet, "/api/v1/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(len(metrics.DefaultMetrics())), env.Meta["count"])

	w, _ = s.do(t, http.MethodGet, "/api/v1/metrics/issue_velocity", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/metrics/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Metric not found", env.Error)

	w, _ = s.do(t, http.MethodGet, "/api/v1/metrics/issue_velocity/history", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "no audit repository")
}

func TestAlertLifecycle(t *testing.T) {
	s := newServer(t, testConfig())
	id := raiseVelocityAlert(t, s)

	w, env := s.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", `{"user_id":"bob","reason":"looking"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, env.Meta["changed"])
	var alert map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &alert))
	assert.Equal(t, "acknowledged", alert["status"])
	assert.Equal(t, "bob", alert["acknowledgement"].(map[string]any)["by"])

	_, env = s.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", "", "")
	assert.Equal(t, false, env.Meta["changed"], "second acknowledge is a no-op")

	w, env = s.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/resolve", `{"resolution":"scaled up"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &alert))
	assert.Equal(t, "resolved", alert["status"])
	assert.Equal(t, "anonymous", alert["resolution"].(map[string]any)["by"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/alerts/missing/resolve", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/alerts/"+id, "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	_, env = s.do(t, http.MethodGet, "/api/v1/monitoring/status", "", "")
	var status map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, float64(0), status["status"].(map[string]any)["open_alert_count"])
}

func TestAuthGuardsMutations(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Enabled = true
	s := newServer(t, cfg)
	id := raiseVelocityAlert(t, s)

	w, _ := s.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/resolve", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/resolve", "", "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env := s.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/resolve", `{"user_id":"mallory"}`, signedToken(t, "alice"))
	require.Equal(t, http.StatusOK, w.Code)
	var alert map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &alert))
	assert.Equal(t, "alice", alert["resolution"].(map[string]any)["by"], "token wins over body")

	w, _ = s.do(t, http.MethodGet, "/api/v1/alerts", "", "")
	assert.Equal(t, http.StatusOK, w.Code, "reads stay public")
}

func TestAutomationEndpoints(t *testing.T) {
	s := newServer(t, testConfig())

	_, env := s.do(t, http.MethodGet, "/api/v1/automation/stats", "", "")
	var stats map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, float64(3), stats["total_rules"])

	w, _ := s.do(t, http.MethodPut, "/api/v1/automation/rules/critical-anomaly-notify/enabled", `{"enabled":false}`, "")
	assert.Equal(t, http.StatusOK, w.Code)
	_, env = s.do(t, http.MethodGet, "/api/v1/automation/stats", "", "")
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, float64(2), stats["active_rules"])

	w, _ = s.do(t, http.MethodPut, "/api/v1/automation/rules/nope/enabled", `{"enabled":true}`, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodPut, "/api/v1/automation/rules/critical-anomaly-notify/enabled", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = s.do(t, http.MethodPost, "/api/v1/automation/executions/nope/approve", `{"user_id":"ops"}`, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "execution nope not found", env.Error)

	w, _ = s.do(t, http.MethodGet, "/api/v1/automation/executions", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWorkflowEndpoints(t *testing.T) {
	s := newServer(t, testConfig())

	w, _ := s.do(t, http.MethodPost, "/api/v1/workflows/nope/run", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodPut, "/api/v1/workflows/nope/status", `{"status":"paused"}`, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/workflows/instances/nope/approve", `{"user_id":"ops"}`, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env := s.do(t, http.MethodGet, "/api/v1/workflows", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), env.Meta["count"])
}

func TestFeedIngestion(t *testing.T) {
	s := newServer(t, testConfig())

	body := `[{"entity_type":"project","entity_id":"p-1","severity":"critical","confidence":0.95,"description":"velocity spike","anomaly_type":"spike","metric":"issue_velocity","value":14,"deviation":3.2}]`
	w, _ := s.do(t, http.MethodPost, "/api/v1/feed/anomalies", body, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, s.feed.Len())

	w, env := s.do(t, http.MethodPost, "/api/v1/feed/predictions", `[{"entity_id":"p-1","confidence":1.5}]`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "confidence must be between 0 and 1", env.Error)

	w, _ = s.do(t, http.MethodPost, "/api/v1/feed/correlations", `{"entity_id":"p-1"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/feed/predictions", `[]`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.True(t, s.engine.Loop().Tick(context.Background()))
	_, env = s.do(t, http.MethodGet, "/api/v1/alerts?type=anomaly", "", "")
	assert.Equal(t, float64(1), env.Meta["count"])
}

func TestNotificationEndpoints(t *testing.T) {
	cfg := testConfig()
	cfg.Notifications.Channels = []config.ChannelConfig{{ID: "ops", Transport: "capture", Enabled: true, Filters: []config.FilterConfig{{}}}}
	s := newServer(t, cfg)

	_, env := s.do(t, http.MethodGet, "/api/v1/notifications/channels", "", "")
	assert.Equal(t, float64(1), env.Meta["count"])

	w, _ := s.do(t, http.MethodPut, "/api/v1/notifications/channels/ops/enabled", `{"enabled":false}`, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, s.engine.GetMonitoringStatus().EnabledChannelCount)

	w, _ = s.do(t, http.MethodPut, "/api/v1/notifications/channels/nope/enabled", `{"enabled":false}`, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPrometheusAndNotFound(t *testing.T) {
	s := newServer(t, testConfig())
	s.do(t, http.MethodGet, "/api/v1/metrics", "", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pma_http_requests_total")

	w, env := s.do(t, http.MethodGet, "/api/v1/alert", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)
	assert.True(t, bytes.Contains(w.Body.Bytes(), []byte("/api/v1/alerts")))
}

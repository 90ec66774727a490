package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostdev-ops/pma-monitor/internal/config"
	"github.com/frostdev-ops/pma-monitor/internal/core/alerts"
	apperrors "github.com/frostdev-ops/pma-monitor/pkg/errors"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (s *recordingSender) Send(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type deliveryCounter struct {
	ok, failed int
}

func (d *deliveryCounter) RecordNotification(_ string, success bool) {
	if success {
		d.ok++
	} else {
		d.failed++
	}
}

var catchAll = []Filter{{}}

func newTestRouter() *Router {
	logger, _ := test.NewNullLogger()
	r := NewRouter(Options{HistorySize: 10}, logger)
	r.SetClock(func() time.Time { return time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC) })
	return r
}

func testAlert(severity alerts.Severity, alertType alerts.Type, component string) alerts.Alert {
	return alerts.Alert{
		ID:       "a-1",
		Severity: severity,
		Type:     alertType,
		Title:    "CPU usage is critical",
		Source:   alerts.Source{Component: component, EntityID: "cpu_usage"},
	}
}

func TestFilter_Matches(t *testing.T) {
	at := time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)
	alert := testAlert(alerts.SeverityCritical, alerts.TypeThreshold, "monitoring")

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter matches all", Filter{}, true},
		{"severity listed", Filter{Severities: []string{"warning", "critical"}}, true},
		{"severity missing", Filter{Severities: []string{"info"}}, false},
		{"all criteria", Filter{Severities: []string{"critical"}, Types: []string{"threshold"}, Sources: []string{"monitoring"}}, true},
		{"source missing", Filter{Severities: []string{"critical"}, Sources: []string{"feed"}}, false},
		{"inside window", Filter{Window: &Window{StartHour: 9, EndHour: 17}}, true},
		{"outside window", Filter{Window: &Window{StartHour: 18, EndHour: 22}}, false},
		{"wrapping window", Filter{Window: &Window{StartHour: 22, EndHour: 15}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(alert, at))
		})
	}
}

func TestRouter_DispatchIsolatesChannelFailures(t *testing.T) {
	r := newTestRouter()
	counter := &deliveryCounter{}
	r.SetObserver(counter)

	broken := &recordingSender{err: errors.New("smtp down")}
	panicking := SenderFunc(func(context.Context, Notification) error { panic("boom") })
	healthy := &recordingSender{}

	require.NoError(t, r.AddChannel(Channel{ID: "email", Enabled: true, Filters: catchAll}, broken))
	require.NoError(t, r.AddChannel(Channel{ID: "pager", Enabled: true, Filters: catchAll}, panicking))
	require.NoError(t, r.AddChannel(Channel{ID: "slack", Enabled: true, Filters: catchAll}, healthy))

	res := r.Dispatch(context.Background(), testAlert(alerts.SeverityCritical, alerts.TypeThreshold, "monitoring"))

	assert.Equal(t, 3, res.Matched)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 1, healthy.count())
	assert.Equal(t, 1, counter.ok)
	assert.Equal(t, 2, counter.failed)

	history := r.History(0)
	require.Len(t, history, 3)
	assert.Equal(t, "slack", history[0].ChannelID)
	assert.Contains(t, history[1].Error, "panicked")
}

func TestRouter_DispatchRespectsFiltersAndEnabled(t *testing.T) {
	r := newTestRouter()
	critical := &recordingSender{}
	everything := &recordingSender{}
	disabled := &recordingSender{}

	require.NoError(t, r.AddChannel(Channel{
		ID: "oncall", Enabled: true,
		Filters: []Filter{{Severities: []string{"critical", "emergency"}}},
	}, critical))
	require.NoError(t, r.AddChannel(Channel{ID: "all", Enabled: true, Filters: catchAll}, everything))
	require.NoError(t, r.AddChannel(Channel{ID: "off", Enabled: false}, disabled))

	r.Dispatch(context.Background(), testAlert(alerts.SeverityWarning, alerts.TypeThreshold, "monitoring"))
	r.Dispatch(context.Background(), testAlert(alerts.SeverityEmergency, alerts.TypeAnomaly, "feed"))

	assert.Equal(t, 1, critical.count())
	assert.Equal(t, 2, everything.count())
	assert.Zero(t, disabled.count())
	assert.Equal(t, 2, r.EnabledCount())
}

func TestRouter_ChannelWithoutFiltersReceivesNoAlerts(t *testing.T) {
	r := newTestRouter()
	unfiltered := &recordingSender{}
	require.NoError(t, r.AddChannel(Channel{ID: "quiet", Enabled: true}, unfiltered))

	res := r.Dispatch(context.Background(), testAlert(alerts.SeverityInfo, alerts.TypeSystem, "monitoring"))
	assert.Zero(t, res.Matched)
	assert.Zero(t, res.Delivered)
	assert.Zero(t, unfiltered.count())

	attempted, delivered := r.Broadcast(context.Background(), nil, "info", "workflow finished", "")
	assert.Equal(t, 1, attempted, "broadcasts ignore alert filters")
	assert.Equal(t, 1, delivered)
}

func TestRouter_BatchedAndDigestFlush(t *testing.T) {
	r := newTestRouter()
	sender := &recordingSender{}
	require.NoError(t, r.AddChannel(Channel{
		ID: "team", Enabled: true,
		Filters: []Filter{
			{Severities: []string{"info", "warning"}, Frequency: FrequencyDigest},
			{Severities: []string{"warning", "critical"}, Frequency: FrequencyBatched},
		},
	}, sender))

	res := r.Dispatch(context.Background(), testAlert(alerts.SeverityWarning, alerts.TypeThreshold, "monitoring"))
	assert.Equal(t, 1, res.Queued, "most immediate matching frequency wins")
	r.Dispatch(context.Background(), testAlert(alerts.SeverityCritical, alerts.TypeThreshold, "monitoring"))
	r.Dispatch(context.Background(), testAlert(alerts.SeverityInfo, alerts.TypeSystem, "monitoring"))

	assert.Zero(t, sender.count())
	assert.Equal(t, 2, r.Queued(FrequencyBatched))
	assert.Equal(t, 1, r.Queued(FrequencyDigest))

	assert.Equal(t, 1, r.Flush(context.Background(), FrequencyBatched))
	require.Equal(t, 1, sender.count())
	batch := sender.sent[0]
	assert.Equal(t, "critical", batch.Severity)
	assert.Len(t, batch.Items, 2)
	assert.Contains(t, batch.Title, "2 alerts")

	assert.Equal(t, 1, r.Flush(context.Background(), FrequencyDigest))
	assert.Zero(t, r.Flush(context.Background(), FrequencyDigest), "queue is drained")
}

func TestRouter_RateLimit(t *testing.T) {
	r := newTestRouter()
	sender := &recordingSender{}
	require.NoError(t, r.AddChannel(Channel{ID: "chat", Enabled: true, RateLimit: 0.001, Burst: 1}, sender))

	attempted, delivered := r.Broadcast(context.Background(), nil, "info", "first", "")
	assert.Equal(t, 1, attempted)
	assert.Equal(t, 1, delivered)

	attempted, delivered = r.Broadcast(context.Background(), nil, "info", "second", "")
	assert.Equal(t, 1, attempted)
	assert.Zero(t, delivered)
	assert.Equal(t, 1, sender.count())
}

func TestRouter_NotifySelectsChannels(t *testing.T) {
	r := newTestRouter()
	a := &recordingSender{}
	b := &recordingSender{}
	require.NoError(t, r.AddChannel(Channel{ID: "a", Enabled: true}, a))
	require.NoError(t, r.AddChannel(Channel{ID: "b", Enabled: true}, b))

	attempted, delivered := r.Notify(context.Background(), []string{"b", "missing"}, Notification{Title: "hello"})
	assert.Equal(t, 1, attempted)
	assert.Equal(t, 1, delivered)
	assert.Zero(t, a.count())
	assert.False(t, b.sent[0].Timestamp.IsZero())
}

func TestRouter_AddChannelValidation(t *testing.T) {
	r := newTestRouter()

	assert.ErrorIs(t, r.AddChannel(Channel{}, &recordingSender{}), apperrors.ErrBadRequest)
	assert.ErrorIs(t, r.AddChannel(Channel{ID: "x"}, nil), apperrors.ErrBadRequest)
	require.NoError(t, r.AddChannel(Channel{ID: "x"}, &recordingSender{}))
	assert.ErrorIs(t, r.AddChannel(Channel{ID: "x"}, &recordingSender{}), apperrors.ErrConflict)
	assert.ErrorIs(t, r.SetEnabled("nope", true), apperrors.ErrNotFound)
}

func TestChannelFromConfig(t *testing.T) {
	start, end := 9, 17
	ch, err := ChannelFromConfig(config.ChannelConfig{
		ID:        "ops",
		Transport: "slack",
		Enabled:   true,
		Filters: []config.FilterConfig{
			{Severities: []string{"critical"}, StartHour: &start, EndHour: &end},
			{Types: []string{"anomaly"}, Frequency: "digest"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "ops", ch.Name)
	require.Len(t, ch.Filters, 2)
	assert.Equal(t, FrequencyImmediate, ch.Filters[0].Frequency)
	assert.Equal(t, &Window{StartHour: 9, EndHour: 17}, ch.Filters[0].Window)
	assert.Equal(t, FrequencyDigest, ch.Filters[1].Frequency)

	_, err = ChannelFromConfig(config.ChannelConfig{
		ID:      "bad",
		Filters: []config.FilterConfig{{StartHour: &start}},
	})
	assert.Error(t, err)
}

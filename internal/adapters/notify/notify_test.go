package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostdev-ops/pma-monitor/internal/adapters/breaker"
	"github.com/frostdev-ops/pma-monitor/internal/config"
	"github.com/frostdev-ops/pma-monitor/internal/core/notifications"
	apperrors "github.com/frostdev-ops/pma-monitor/pkg/errors"
)

func fastRetry() *apperrors.RetryPolicy {
	return &apperrors.RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
}

func testDeps() Deps {
	logger, _ := test.NewNullLogger()
	return Deps{
		Logger:  logger,
		Breaker: config.BreakerConfig{MinRequests: 2, FailureRatio: 1, Timeout: time.Minute},
		Retry:   fastRetry(),
	}
}

func sample() notifications.Notification {
	return notifications.Notification{
		Severity:  "critical",
		Title:     "CPU usage is critical",
		Body:      "cpu_usage reached 95",
		AlertID:   "a-1",
		AlertType: "threshold",
		Source:    "monitoring",
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestWebhookSender_PostsJSON(t *testing.T) {
	var got WebhookPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender, err := Build(notifications.Channel{
		ID:        "ops-hook",
		Transport: "webhook",
		Settings: map[string]interface{}{
			"url":     srv.URL,
			"headers": map[string]interface{}{"Authorization": "Bearer token"},
		},
	}, testDeps())
	require.NoError(t, err)

	require.NoError(t, sender.Send(context.Background(), sample()))
	assert.Equal(t, "ops-hook", got.Channel)
	assert.Equal(t, "a-1", got.Notification.AlertID)
	assert.Equal(t, "Bearer token", auth)
}

func TestWebhookSender_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	deps := testDeps()
	deps.Breaker.MinRequests = 10
	sender, err := Build(notifications.Channel{ID: "hook", Transport: "webhook", Settings: map[string]interface{}{"url": srv.URL}}, deps)
	require.NoError(t, err)

	require.NoError(t, sender.Send(context.Background(), sample()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWebhookSender_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sender, err := Build(notifications.Channel{ID: "hook", Transport: "webhook", Settings: map[string]interface{}{"url": srv.URL}}, testDeps())
	require.NoError(t, err)

	err = sender.Send(context.Background(), sample())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWebhookSender_BreakerOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	sender, err := Build(notifications.Channel{ID: "hook", Transport: "webhook", Settings: map[string]interface{}{"url": srv.URL}}, testDeps())
	require.NoError(t, err)

	assert.Error(t, sender.Send(context.Background(), sample()))
	assert.Error(t, sender.Send(context.Background(), sample()))

	err = sender.Send(context.Background(), sample())
	assert.True(t, breaker.IsOpen(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSlackSender_ColoursBySeverity(t *testing.T) {
	var got SlackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	sender, err := Build(notifications.Channel{
		ID:        "slack",
		Transport: "slack",
		Settings:  map[string]interface{}{"webhook_url": srv.URL, "channel": "#ops"},
	}, testDeps())
	require.NoError(t, err)

	n := sample()
	n.Items = []notifications.Notification{{Severity: "warning", Title: "disk", Body: "80%"}}
	require.NoError(t, sender.Send(context.Background(), n))

	assert.Equal(t, "#ops", got.Channel)
	require.Len(t, got.Attachments, 2)
	assert.Equal(t, "#dc3545", got.Attachments[0].Color)
	assert.Equal(t, "#ffc107", got.Attachments[1].Color)
	assert.Equal(t, "Severity", got.Attachments[0].Fields[0].Title)
}

func TestEmailSender_ComposesMessage(t *testing.T) {
	sender := NewEmailSender(EmailConfig{
		Host: "smtp.example.com", Port: 2525, Username: "bot", Password: "secret",
		From: "monitor@example.com", To: []string{"ops@example.com", "lead@example.com"},
	})

	var addr string
	var msg []byte
	var to []string
	sender.sendMail = func(a string, _ smtp.Auth, _ string, rcpt []string, m []byte) error {
		addr, to, msg = a, rcpt, m
		return nil
	}

	n := sample()
	n.Title = "CPU\r\nBcc: evil@example.com"
	require.NoError(t, sender.Send(context.Background(), n))

	assert.Equal(t, "smtp.example.com:2525", addr)
	assert.Len(t, to, 2)
	assert.Contains(t, string(msg), "Subject: [CRITICAL] CPU  Bcc: evil@example.com\r\n")
	assert.Contains(t, string(msg), "cpu_usage reached 95")
	assert.Contains(t, string(msg), "Alert: a-1")
}

func TestRedisSender_ReportsPublishFailure(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer client.Close()

	err := NewRedisSender(client, "").Send(context.Background(), sample())
	require.Error(t, err)
	assert.Contains(t, err.Error(), defaultRedisChannel)
}

func TestBuild_Validation(t *testing.T) {
	deps := testDeps()

	tests := []struct {
		name    string
		channel notifications.Channel
	}{
		{"webhook without url", notifications.Channel{ID: "a", Transport: "webhook"}},
		{"slack without url", notifications.Channel{ID: "b", Transport: "slack"}},
		{"email without recipients", notifications.Channel{ID: "c", Transport: "email", Settings: map[string]interface{}{"host": "h", "from": "f"}}},
		{"redis without client", notifications.Channel{ID: "d", Transport: "redis"}},
		{"websocket without hub", notifications.Channel{ID: "e", Transport: "websocket"}},
		{"unknown transport", notifications.Channel{ID: "f", Transport: "pager"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.channel, deps)
			assert.Error(t, err)
		})
	}

	sender, err := Build(notifications.Channel{ID: "log", Transport: "LOG"}, deps)
	require.NoError(t, err)
	assert.NoError(t, sender.Send(context.Background(), sample()))

	sender, err = Build(notifications.Channel{ID: "mail", Transport: "email", Settings: map[string]interface{}{
		"host": "smtp", "from": "f@x", "to": "a@x, b@x", "port": 25,
	}}, Deps{SMTPPassword: "env-secret"})
	require.NoError(t, err)
	email := sender.(*EmailSender)
	assert.Equal(t, []string{"a@x", "b@x"}, email.cfg.To)
	assert.Equal(t, 25, email.cfg.Port)
	assert.Equal(t, "env-secret", email.cfg.Password)
}

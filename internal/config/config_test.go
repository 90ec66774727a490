package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "server:\n  port: 8080\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Monitoring.TickInterval)
	assert.Equal(t, time.Minute, cfg.Monitoring.DecisionInterval)
	assert.Equal(t, 5*time.Minute, cfg.Alerts.DedupWindow)
	assert.Equal(t, 30*time.Second, cfg.Alerts.AutoResolveDelay)
	assert.Equal(t, 0.8, cfg.Alerts.AutoResolveConfidence)
	assert.Equal(t, "manual", cfg.Monitoring.ThresholdClearPolicy)
}

func TestLoadFile_Channels(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
notifications:
  channels:
    - id: ops-slack
      transport: slack
      enabled: true
      settings:
        webhook_url: https://hooks.example.com/x
      filters:
        - severities: [critical, emergency]
          types: [threshold]
          sources: [threshold_monitor]
          frequency: immediate
`))
	require.NoError(t, err)
	require.Len(t, cfg.Notifications.Channels, 1)

	ch := cfg.Notifications.Channels[0]
	assert.Equal(t, "slack", ch.Transport)
	assert.Equal(t, "https://hooks.example.com/x", ch.Settings["webhook_url"])
	require.Len(t, ch.Filters, 1)
	assert.Equal(t, []string{"critical", "emergency"}, ch.Filters[0].Severities)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad clear policy", "monitoring:\n  threshold_clear_policy: sometimes\n"},
		{"auth without secret", "auth:\n  enabled: true\n"},
		{"decision faster than tick", "monitoring:\n  tick_interval: 10s\n  decision_interval: 5s\n"},
		{"bad frequency", "notifications:\n  channels:\n    - id: a\n      transport: log\n      filters:\n        - frequency: hourly\n"},
		{"duplicate channel", "notifications:\n  channels:\n    - id: a\n      transport: log\n    - id: a\n      transport: log\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_SecretsFromEnv(t *testing.T) {
	t.Setenv("SMTP_PASSWORD", "mail-secret")
	t.Setenv("JWT_SECRET", "jwt-secret")

	cfg, err := LoadFile(writeConfig(t, "auth:\n  enabled: true\n"))
	require.NoError(t, err)
	assert.Equal(t, "mail-secret", cfg.Notifications.SMTPPassword)
	assert.Equal(t, "jwt-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
}

// Package notify contains the transports notification channels deliver through.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/pma-monitor/internal/config"
	"github.com/frostdev-ops/pma-monitor/internal/core/notifications"
	"github.com/frostdev-ops/pma-monitor/internal/websocket"
	apperrors "github.com/frostdev-ops/pma-monitor/pkg/errors"
)

// Transport kinds accepted in channel configuration
const (
	TransportWebhook   = "webhook"
	TransportSlack     = "slack"
	TransportEmail     = "email"
	TransportRedis     = "redis"
	TransportWebSocket = "websocket"
	TransportLog       = "log"
)

// Deps are the shared clients transports may need
type Deps struct {
	Logger  *logrus.Logger
	Breaker config.BreakerConfig
	Retry   *apperrors.RetryPolicy
	Redis   *redis.Client
	Hub     *websocket.Hub
	// SMTPPassword is used when an email channel does not carry its own
	SMTPPassword string
}

// Build creates the sender for a channel
func Build(ch notifications.Channel, deps Deps) (notifications.Sender, error) {
	settings := ch.Settings

	switch strings.ToLower(ch.Transport) {
	case TransportWebhook:
		url := setting(settings, "url")
		if url == "" {
			return nil, fmt.Errorf("channel %s: webhook url is required", ch.ID)
		}
		return NewWebhookSender(ch.ID, url, headers(settings), newPoster(ch.ID, settings, deps)), nil

	case TransportSlack:
		url := setting(settings, "webhook_url")
		if url == "" {
			return nil, fmt.Errorf("channel %s: slack webhook_url is required", ch.ID)
		}
		return NewSlackSender(url, setting(settings, "channel"), newPoster(ch.ID, settings, deps)), nil

	case TransportEmail:
		cfg := EmailConfig{
			Host:     setting(settings, "host"),
			Port:     intSetting(settings, "port", 587),
			Username: setting(settings, "username"),
			Password: setting(settings, "password"),
			From:     setting(settings, "from"),
			To:       listSetting(settings, "to"),
		}
		if cfg.Password == "" {
			cfg.Password = deps.SMTPPassword
		}
		if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
			return nil, fmt.Errorf("channel %s: email host, from and to are required", ch.ID)
		}
		return NewEmailSender(cfg), nil

	case TransportRedis:
		if deps.Redis == nil {
			return nil, fmt.Errorf("channel %s: redis transport needs redis.url", ch.ID)
		}
		return NewRedisSender(deps.Redis, setting(settings, "channel")), nil

	case TransportWebSocket:
		if deps.Hub == nil {
			return nil, fmt.Errorf("channel %s: websocket transport needs the websocket hub", ch.ID)
		}
		return NewHubSender(ch.ID, deps.Hub), nil

	case TransportLog:
		return NewLogSender(ch.ID, deps.Logger), nil
	}

	return nil, fmt.Errorf("channel %s: unknown transport %q", ch.ID, ch.Transport)
}

func newPoster(channelID string, settings map[string]interface{}, deps Deps) *poster {
	timeout := 10 * time.Second
	if d, err := time.ParseDuration(setting(settings, "timeout")); err == nil && d > 0 {
		timeout = d
	}
	return newPosterWith(channelID, timeout, deps.Breaker, deps.Retry, deps.Logger)
}

func setting(settings map[string]interface{}, key string) string {
	if v, ok := settings[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func intSetting(settings map[string]interface{}, key string, def int) int {
	switch v := settings[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

func listSetting(settings map[string]interface{}, key string) []string {
	switch v := settings[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func headers(settings map[string]interface{}) map[string]string {
	raw, ok := settings["headers"].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprint(v)
	}
	return out
}

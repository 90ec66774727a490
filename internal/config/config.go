package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	WebSocket     WebSocketConfig     `mapstructure:"websocket"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
	Alerts        AlertsConfig        `mapstructure:"alerts"`
	Automation    AutomationConfig    `mapstructure:"automation"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Sources       SourcesConfig       `mapstructure:"sources"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	Mode            string        `mapstructure:"mode"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type WebSocketConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	SendBufferSize int  `mapstructure:"send_buffer_size"`
}

// MonitoringConfig controls the sampling loop and metric registry
type MonitoringConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	TickInterval         time.Duration `mapstructure:"tick_interval"`
	DecisionInterval     time.Duration `mapstructure:"decision_interval"`
	TickTimeout          time.Duration `mapstructure:"tick_timeout"`
	HistoryCap           int           `mapstructure:"history_cap"`
	TrendEpsilon         float64       `mapstructure:"trend_epsilon"`
	ThresholdClearPolicy string        `mapstructure:"threshold_clear_policy"`
	PersistSnapshots     bool          `mapstructure:"persist_snapshots"`
}

// AlertsConfig controls the alert lifecycle
type AlertsConfig struct {
	DedupWindow             time.Duration `mapstructure:"dedup_window"`
	AutoResolveDelay        time.Duration `mapstructure:"auto_resolve_delay"`
	AutoResolveConfidence   float64       `mapstructure:"auto_resolve_confidence"`
	DefaultTTL              time.Duration `mapstructure:"default_ttl"`
	Retention               time.Duration `mapstructure:"retention"`
	MaxAlerts               int           `mapstructure:"max_alerts"`
	PredictionMinConfidence float64       `mapstructure:"prediction_min_confidence"`
}

// AutomationConfig controls decision rules and workflows
type AutomationConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	RulesFile        string        `mapstructure:"rules_file"`
	WorkflowsFile    string        `mapstructure:"workflows_file"`
	ActionTimeout    time.Duration `mapstructure:"action_timeout"`
	ApprovalTimeout  time.Duration `mapstructure:"approval_timeout"`
	ScheduleTimezone string        `mapstructure:"schedule_timezone"`
}

// NotificationsConfig lists delivery channels
type NotificationsConfig struct {
	BatchInterval  time.Duration   `mapstructure:"batch_interval"`
	DigestSchedule string          `mapstructure:"digest_schedule"`
	HistorySize    int             `mapstructure:"history_size"`
	SMTPPassword   string          `mapstructure:"smtp_password"`
	Channels       []ChannelConfig `mapstructure:"channels"`
}

// ChannelConfig describes one notification channel
type ChannelConfig struct {
	ID        string                 `mapstructure:"id"`
	Name      string                 `mapstructure:"name"`
	Transport string                 `mapstructure:"transport"`
	Enabled   bool                   `mapstructure:"enabled"`
	Settings  map[string]interface{} `mapstructure:"settings"`
	RateLimit float64                `mapstructure:"rate_limit"`
	Burst     int                    `mapstructure:"burst"`
	Filters   []FilterConfig         `mapstructure:"filters"`
}

// FilterConfig selects which alerts a channel receives
type FilterConfig struct {
	Severities []string `mapstructure:"severities"`
	Types      []string `mapstructure:"types"`
	Sources    []string `mapstructure:"sources"`
	StartHour  *int     `mapstructure:"start_hour"`
	EndHour    *int     `mapstructure:"end_hour"`
	Frequency  string   `mapstructure:"frequency"`
}

// SourcesConfig controls where metric values come from
type SourcesConfig struct {
	System  bool              `mapstructure:"system"`
	Queries map[string]string `mapstructure:"queries"`
	Breaker BreakerConfig     `mapstructure:"breaker"`
}

// BreakerConfig mirrors gobreaker.Settings
type BreakerConfig struct {
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// Load reads configuration from config.yaml in ./configs or the working
// directory, overlaid by environment variables.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from an explicit path. An empty path searches
// the default locations.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix("PMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.path", "DATABASE_PATH")
	v.BindEnv("logging.level", "LOG_LEVEL")
	v.BindEnv("redis.url", "REDIS_URL")
	v.BindEnv("notifications.smtp_password", "SMTP_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Validate checks the configuration for values the engine cannot run with
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required when auth is enabled")
	}
	if c.Monitoring.TickInterval <= 0 {
		errs = append(errs, "monitoring.tick_interval must be positive")
	}
	if c.Monitoring.DecisionInterval < c.Monitoring.TickInterval {
		errs = append(errs, "monitoring.decision_interval must not be shorter than tick_interval")
	}
	if c.Monitoring.HistoryCap < 3 {
		errs = append(errs, "monitoring.history_cap must be at least 3 to compute trends")
	}
	switch c.Monitoring.ThresholdClearPolicy {
	case "manual", "auto":
	default:
		errs = append(errs, fmt.Sprintf("monitoring.threshold_clear_policy must be manual or auto, got %q", c.Monitoring.ThresholdClearPolicy))
	}
	if c.Alerts.DedupWindow <= 0 {
		errs = append(errs, "alerts.dedup_window must be positive")
	}
	if c.Alerts.AutoResolveConfidence < 0 || c.Alerts.AutoResolveConfidence > 1 {
		errs = append(errs, "alerts.auto_resolve_confidence must be within [0,1]")
	}

	seen := make(map[string]bool)
	for i, ch := range c.Notifications.Channels {
		if ch.ID == "" {
			errs = append(errs, fmt.Sprintf("notifications.channels[%d].id is required", i))
			continue
		}
		if seen[ch.ID] {
			errs = append(errs, fmt.Sprintf("notifications.channels[%d].id %q is duplicated", i, ch.ID))
		}
		seen[ch.ID] = true
		if ch.Transport == "" {
			errs = append(errs, fmt.Sprintf("notifications.channels[%d].transport is required", i))
		}
		for j, f := range ch.Filters {
			switch f.Frequency {
			case "", "immediate", "batched", "digest":
			default:
				errs = append(errs, fmt.Sprintf("notifications.channels[%d].filters[%d].frequency %q is invalid", i, j, f.Frequency))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.mode", "development")
	v.SetDefault("server.rate_limit", 100)
	v.SetDefault("server.rate_burst", 200)
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.path", "./data/monitor.db")
	v.SetDefault("database.max_connections", 4)
	v.SetDefault("database.auto_migrate", true)

	// Auth defaults
	v.SetDefault("auth.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// WebSocket defaults
	v.SetDefault("websocket.enabled", true)
	v.SetDefault("websocket.send_buffer_size", 256)

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.tick_interval", "5s")
	v.SetDefault("monitoring.decision_interval", "60s")
	v.SetDefault("monitoring.tick_timeout", "4s")
	v.SetDefault("monitoring.history_cap", 100)
	v.SetDefault("monitoring.trend_epsilon", 0.1)
	v.SetDefault("monitoring.threshold_clear_policy", "manual")
	v.SetDefault("monitoring.persist_snapshots", true)

	// Alert defaults
	v.SetDefault("alerts.dedup_window", "5m")
	v.SetDefault("alerts.auto_resolve_delay", "30s")
	v.SetDefault("alerts.auto_resolve_confidence", 0.8)
	v.SetDefault("alerts.default_ttl", "24h")
	v.SetDefault("alerts.retention", "168h")
	v.SetDefault("alerts.max_alerts", 5000)
	v.SetDefault("alerts.prediction_min_confidence", 0.7)

	// Automation defaults
	v.SetDefault("automation.enabled", true)
	v.SetDefault("automation.action_timeout", "30s")
	v.SetDefault("automation.approval_timeout", "1h")
	v.SetDefault("automation.schedule_timezone", "UTC")

	// Notification defaults
	v.SetDefault("notifications.batch_interval", "5m")
	v.SetDefault("notifications.digest_schedule", "0 0 8 * * *")
	v.SetDefault("notifications.history_size", 500)

	// Source defaults
	v.SetDefault("sources.system", true)
	v.SetDefault("sources.breaker.max_requests", 1)
	v.SetDefault("sources.breaker.interval", "1m")
	v.SetDefault("sources.breaker.timeout", "30s")
	v.SetDefault("sources.breaker.min_requests", 3)
	v.SetDefault("sources.breaker.failure_ratio", 0.6)
}

// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sitewarden/sitewarden/internal/logging"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    logging.Config   `mapstructure:"logging"`
	Pool       PoolConfig       `mapstructure:"pool"`
	Navigation NavigationConfig `mapstructure:"navigation"`
	Audits     AuditsConfig     `mapstructure:"audits"`
	Probe      ProbeConfig      `mapstructure:"probe"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Reports    ReportsConfig    `mapstructure:"reports"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Suggest    SuggestConfig    `mapstructure:"suggest"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// PoolConfig governs the browser session pool.
type PoolConfig struct {
	MaxSessions         int    `mapstructure:"max_sessions"`
	MaxSessionAgeSec    int    `mapstructure:"max_session_age_seconds"`
	SweepIntervalSec    int    `mapstructure:"sweep_interval_seconds"`
	ChromePath          string `mapstructure:"chrome_path"`
	UserAgent           string `mapstructure:"user_agent"`
	RemoteDebuggingBase int    `mapstructure:"remote_debugging_base_port"`
}

// NavigationConfig budgets the page-load strategies.
type NavigationConfig struct {
	NetworkIdleTimeoutSec int `mapstructure:"network_idle_timeout_seconds"`
	DOMReadyTimeoutSec    int `mapstructure:"dom_ready_timeout_seconds"`
	LoadEventTimeoutSec   int `mapstructure:"load_event_timeout_seconds"`
	SettleDelayMs         int `mapstructure:"settle_delay_ms"`
}

// AuditsConfig configures the audit pipeline.
type AuditsConfig struct {
	AxeSourcePath     string `mapstructure:"axe_source_path"`
	ActionSettleMs    int    `mapstructure:"action_settle_ms"`
	LighthousePath    string `mapstructure:"lighthouse_path"`
	LighthouseTimeout int    `mapstructure:"lighthouse_timeout_seconds"`
}

// ProbeConfig governs the browserless reachability checker.
type ProbeConfig struct {
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// RateLimitConfig shapes the per-client sliding window.
type RateLimitConfig struct {
	WindowMinutes    int `mapstructure:"window_minutes"`
	MaxRequests      int `mapstructure:"max_requests"`
	SweepIntervalMin int `mapstructure:"sweep_interval_minutes"`
}

// ReportsConfig bounds the report store.
type ReportsConfig struct {
	MaxAgeHours      int    `mapstructure:"max_age_hours"`
	MaxEntries       int    `mapstructure:"max_entries"`
	SweepIntervalMin int    `mapstructure:"sweep_interval_minutes"`
	PostgresDSN      string `mapstructure:"postgres_dsn"`
	PostgresTable    string `mapstructure:"postgres_table"`
}

// ArchiveConfig selects the completed-scan blob archive backend.
type ArchiveConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// NotifyConfig holds metadata for scan-completed event publishing.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// SuggestConfig configures the external suggestion generator client.
type SuggestConfig struct {
	Endpoint       string  `mapstructure:"endpoint"`
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	RequestsPerSec float64 `mapstructure:"requests_per_second"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEWARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("pool.max_sessions", 5)
	v.SetDefault("pool.max_session_age_seconds", 120)
	v.SetDefault("pool.sweep_interval_seconds", 15)
	v.SetDefault("pool.user_agent", "sitewarden/0.1")
	v.SetDefault("pool.remote_debugging_base_port", 9222)
	v.SetDefault("navigation.network_idle_timeout_seconds", 45)
	v.SetDefault("navigation.dom_ready_timeout_seconds", 30)
	v.SetDefault("navigation.load_event_timeout_seconds", 20)
	v.SetDefault("navigation.settle_delay_ms", 2000)
	v.SetDefault("audits.axe_source_path", "assets/axe.min.js")
	v.SetDefault("audits.action_settle_ms", 1000)
	v.SetDefault("audits.lighthouse_path", "lighthouse")
	v.SetDefault("audits.lighthouse_timeout_seconds", 90)
	v.SetDefault("probe.request_timeout_seconds", 30)
	v.SetDefault("ratelimit.window_minutes", 15)
	v.SetDefault("ratelimit.max_requests", 50)
	v.SetDefault("ratelimit.sweep_interval_minutes", 30)
	v.SetDefault("reports.max_age_hours", 24)
	v.SetDefault("reports.max_entries", 1000)
	v.SetDefault("reports.sweep_interval_minutes", 10)
	v.SetDefault("reports.postgres_table", "reports")
	v.SetDefault("archive.prefix", "scans")
	// No endpoint default: the suggest client derives the full
	// generateContent URL from the model when the endpoint is empty.
	v.SetDefault("suggest.model", "gemini-2.0-flash")
	v.SetDefault("suggest.requests_per_second", 1.0)
	v.SetDefault("suggest.timeout_seconds", 30)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Pool.MaxSessions <= 0 {
		return fmt.Errorf("pool.max_sessions must be > 0")
	}
	if c.Pool.MaxSessionAgeSec <= 0 {
		return fmt.Errorf("pool.max_session_age_seconds must be > 0")
	}
	if c.Navigation.NetworkIdleTimeoutSec <= 0 ||
		c.Navigation.DOMReadyTimeoutSec <= 0 ||
		c.Navigation.LoadEventTimeoutSec <= 0 {
		return fmt.Errorf("navigation timeouts must be > 0")
	}
	if c.Probe.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("probe.request_timeout_seconds must be > 0")
	}
	if c.RateLimit.WindowMinutes <= 0 || c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("ratelimit.window_minutes and ratelimit.max_requests must be > 0")
	}
	if c.Reports.MaxEntries <= 0 {
		return fmt.Errorf("reports.max_entries must be > 0")
	}
	if c.Notify.TopicName != "" && c.Notify.ProjectID == "" {
		return fmt.Errorf("notify.project_id must be set when notify.topic_name is set")
	}
	return nil
}

// RequestTimeout converts the server timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

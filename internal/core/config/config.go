package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level application config.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Broker     BrokerConfig     `koanf:"broker"`
	Jobs       JobsConfig       `koanf:"jobs"`
	Payloads   PayloadsConfig   `koanf:"payloads"`
	Alerting   AlertingConfig   `koanf:"alerting"`
	Enrichment EnrichmentConfig `koanf:"enrichment"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	Type         string `koanf:"type"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
	Enabled      bool   `koanf:"enabled"` // false runs the in-memory profile
}

type BrokerConfig struct {
	PartitionCapacity int    `koanf:"partition_capacity"`
	MaxAttempts       int    `koanf:"max_attempts"`
	InitialBackoff    string `koanf:"initial_backoff"`
	MaxBackoff        string `koanf:"max_backoff"`
	DedupeSize        int    `koanf:"dedupe_size"`
}

type JobsConfig struct {
	ConfigDir string   `koanf:"config_dir"`
	AutoStart []string `koanf:"auto_start"` // job names submitted at boot
}

type PayloadsConfig struct {
	ConfigDir string `koanf:"config_dir"`
}

type AlertingConfig struct {
	RiskScore      float64 `koanf:"risk_score"`
	RiskTrend      float64 `koanf:"risk_trend"`
	ScoreDrop      float64 `koanf:"score_drop"`
	EngagementDrop float64 `koanf:"engagement_drop"`
	DedupWindow    string  `koanf:"dedup_window"`
}

type EnrichmentConfig struct {
	Timeout string `koanf:"timeout"`
}

func (c BrokerConfig) ParsedInitialBackoff() time.Duration {
	d, err := time.ParseDuration(c.InitialBackoff)
	if err != nil {
		return 100 * time.Millisecond
	}
	return d
}

func (c BrokerConfig) ParsedMaxBackoff() time.Duration {
	d, err := time.ParseDuration(c.MaxBackoff)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

func (c AlertingConfig) ParsedDedupWindow() time.Duration {
	d, err := time.ParseDuration(c.DedupWindow)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}

func (c EnrichmentConfig) ParsedTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if c.Database.Enabled {
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required when database.enabled")
		}
		if c.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be > 0")
		}
		if c.Database.MaxIdleConns <= 0 {
			return fmt.Errorf("database.max_idle_conns must be > 0")
		}
		if c.Database.Type != "" && c.Database.Type != "postgres" {
			return fmt.Errorf("unsupported database.type %q", c.Database.Type)
		}
	}

	if c.Broker.PartitionCapacity <= 0 {
		return fmt.Errorf("broker.partition_capacity must be > 0")
	}
	if c.Broker.MaxAttempts <= 0 {
		return fmt.Errorf("broker.max_attempts must be > 0")
	}
	if c.Broker.DedupeSize <= 0 {
		return fmt.Errorf("broker.dedupe_size must be > 0")
	}
	if _, err := time.ParseDuration(c.Broker.InitialBackoff); err != nil {
		return fmt.Errorf("invalid broker.initial_backoff %q: %w", c.Broker.InitialBackoff, err)
	}
	if _, err := time.ParseDuration(c.Broker.MaxBackoff); err != nil {
		return fmt.Errorf("invalid broker.max_backoff %q: %w", c.Broker.MaxBackoff, err)
	}

	if strings.TrimSpace(c.Jobs.ConfigDir) == "" {
		return fmt.Errorf("jobs.config_dir is required")
	}
	if strings.TrimSpace(c.Payloads.ConfigDir) == "" {
		return fmt.Errorf("payloads.config_dir is required")
	}

	if c.Alerting.RiskScore <= 0 || c.Alerting.RiskScore > 1 {
		return fmt.Errorf("alerting.risk_score must be in (0, 1]")
	}
	if c.Alerting.RiskTrend <= 0 {
		return fmt.Errorf("alerting.risk_trend must be > 0")
	}
	if c.Alerting.ScoreDrop >= 0 {
		return fmt.Errorf("alerting.score_drop must be negative")
	}
	if c.Alerting.EngagementDrop <= 0 {
		return fmt.Errorf("alerting.engagement_drop must be > 0")
	}
	if _, err := time.ParseDuration(c.Alerting.DedupWindow); err != nil {
		return fmt.Errorf("invalid alerting.dedup_window %q: %w", c.Alerting.DedupWindow, err)
	}

	if _, err := time.ParseDuration(c.Enrichment.Timeout); err != nil {
		return fmt.Errorf("invalid enrichment.timeout %q: %w", c.Enrichment.Timeout, err)
	}

	return nil
}

// Load parses config from file + env and validates it. Env vars use the
// MLSTREAM_ prefix with __ as the section separator, e.g.
// MLSTREAM_SERVER__PORT=9090.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":               8080,
		"server.host":               "0.0.0.0",
		"server.max_body_size_mb":   1,
		"server.mode":               "release",
		"database.type":             "postgres",
		"database.dsn":              "",
		"database.max_open_conns":   25,
		"database.max_idle_conns":   25,
		"database.auto_migrate":     true,
		"database.enabled":          false,
		"broker.partition_capacity": 100000,
		"broker.max_attempts":       8,
		"broker.initial_backoff":    "100ms",
		"broker.max_backoff":        "5s",
		"broker.dedupe_size":        50000,
		"jobs.config_dir":           "./config/jobs",
		"jobs.auto_start":           []string{},
		"payloads.config_dir":       "./config/payloads",
		"alerting.risk_score":       0.7,
		"alerting.risk_trend":       0.2,
		"alerting.score_drop":       -5.0,
		"alerting.engagement_drop":  10.0,
		"alerting.dedup_window":     "15m",
		"enrichment.timeout":        "2s",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("MLSTREAM_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "MLSTREAM_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mlstream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "0.0.0.0", cfg.Server.Host)
	require.Equal(t, "release", cfg.Server.Mode)
	require.False(t, cfg.Database.Enabled)
	require.Equal(t, 100000, cfg.Broker.PartitionCapacity)
	require.Equal(t, 8, cfg.Broker.MaxAttempts)
	require.Equal(t, 100*time.Millisecond, cfg.Broker.ParsedInitialBackoff())
	require.Equal(t, 5*time.Second, cfg.Broker.ParsedMaxBackoff())
	require.Equal(t, "./config/jobs", cfg.Jobs.ConfigDir)
	require.InDelta(t, 0.7, cfg.Alerting.RiskScore, 1e-9)
	require.InDelta(t, -5.0, cfg.Alerting.ScoreDrop, 1e-9)
	require.Equal(t, 15*time.Minute, cfg.Alerting.ParsedDedupWindow())
	require.Equal(t, 2*time.Second, cfg.Enrichment.ParsedTimeout())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  mode: debug
broker:
  partition_capacity: 500
  dedupe_size: 100
jobs:
  config_dir: /etc/mlstream/jobs
  auto_start: [daily-score-window, risk-monitor]
alerting:
  risk_score: 0.8
enrichment:
  timeout: 500ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.Mode)
	require.Equal(t, 500, cfg.Broker.PartitionCapacity)
	require.Equal(t, 100, cfg.Broker.DedupeSize)
	require.Equal(t, "/etc/mlstream/jobs", cfg.Jobs.ConfigDir)
	require.Equal(t, []string{"daily-score-window", "risk-monitor"}, cfg.Jobs.AutoStart)
	require.InDelta(t, 0.8, cfg.Alerting.RiskScore, 1e-9)
	require.Equal(t, 500*time.Millisecond, cfg.Enrichment.ParsedTimeout())

	// Untouched sections keep their defaults.
	require.Equal(t, "0.0.0.0", cfg.Server.Host)
	require.Equal(t, 8, cfg.Broker.MaxAttempts)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")

	t.Setenv("MLSTREAM_SERVER__PORT", "7070")
	t.Setenv("MLSTREAM_DATABASE__ENABLED", "true")
	t.Setenv("MLSTREAM_DATABASE__DSN", "postgres://localhost/mlstream?sslmode=disable")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.True(t, cfg.Database.Enabled)
	require.Equal(t, "postgres://localhost/mlstream?sslmode=disable", cfg.Database.DSN)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "bad port", yaml: "server:\n  port: 70000\n"},
		{name: "bad mode", yaml: "server:\n  mode: verbose\n"},
		{name: "db enabled without dsn", yaml: "database:\n  enabled: true\n"},
		{name: "unsupported db type", yaml: "database:\n  enabled: true\n  dsn: x\n  type: mysql\n"},
		{name: "zero partition capacity", yaml: "broker:\n  partition_capacity: 0\n"},
		{name: "bad backoff", yaml: "broker:\n  initial_backoff: fast\n"},
		{name: "empty jobs dir", yaml: "jobs:\n  config_dir: \"\"\n"},
		{name: "risk score above one", yaml: "alerting:\n  risk_score: 1.5\n"},
		{name: "positive score drop", yaml: "alerting:\n  score_drop: 5\n"},
		{name: "bad dedup window", yaml: "alerting:\n  dedup_window: fortnight\n"},
		{name: "bad enrichment timeout", yaml: "enrichment:\n  timeout: whenever\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			require.Error(t, err)
		})
	}
}

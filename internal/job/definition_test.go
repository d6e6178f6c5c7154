package job

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/alerting"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/core/window"
)

func writeJobFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const fullJobYAML = `
name: daily-score-window
parallelism: 8
sources:
  - sse-scores-stream
window:
  strategy: tumbling
  size: 1d
  lateness: 1h
field: sse_score
alert_rule: score_drop
max_restarts: 5
checkpoint:
  interval: 1m
  timeout: 2m
  min_pause: 15s
  max_concurrent: 2
  retain_on_cancel: false
`

func TestLoadDefinition(t *testing.T) {
	dir := t.TempDir()
	writeJobFile(t, dir, "daily.yaml", fullJobYAML)

	repo, err := NewDefinitionRepository(dir)
	require.NoError(t, err)

	def, err := repo.Get("daily-score-window")
	require.NoError(t, err)
	require.Equal(t, 8, def.Parallelism)
	require.Equal(t, []string{"sse-scores-stream"}, def.Sources)
	require.Equal(t, window.TypeTumbling, def.Window.Type)
	require.Equal(t, 24*time.Hour, def.Window.Size)
	require.Equal(t, time.Hour, def.Lateness)
	require.Equal(t, "sse_score", def.Field)
	require.Equal(t, alerting.RuleScoreDrop, def.AlertRule)
	require.Equal(t, 5, def.MaxRestarts)
	require.Equal(t, time.Minute, def.Checkpoint.Interval)
	require.Equal(t, 2*time.Minute, def.Checkpoint.Timeout)
	require.Equal(t, 15*time.Second, def.Checkpoint.MinPause)
	require.Equal(t, 2, def.Checkpoint.MaxConcurrent)
	require.False(t, def.Checkpoint.RetainOnCancel)
	require.Len(t, def.Fingerprint, 64)
}

func TestLoadDefinitionDefaults(t *testing.T) {
	dir := t.TempDir()
	writeJobFile(t, dir, "minimal.yaml", `
name: minimal
sources: [user-behavior-stream]
window:
  strategy: session
  gap: 30m
`)

	repo, err := NewDefinitionRepository(dir)
	require.NoError(t, err)

	def, err := repo.Get("minimal")
	require.NoError(t, err)
	require.Equal(t, defaultParallelism, def.Parallelism)
	require.Equal(t, defaultMaxRestarts, def.MaxRestarts)
	require.Equal(t, defaultLateness, def.Lateness)
	require.Empty(t, def.Field, "no field means event counting")
	require.Equal(t, alerting.RuleNone, def.AlertRule)
	require.Equal(t, 30*time.Minute, def.Window.Gap)
	require.True(t, def.Checkpoint.RetainOnCancel)
	require.Equal(t, time.Minute, def.Checkpoint.Interval)
}

func TestLoadDefinitionErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "no sources", yaml: "name: j\nwindow: {strategy: tumbling, size: 1h}\n"},
		{name: "negative parallelism", yaml: "name: j\nparallelism: -2\nsources: [t]\nwindow: {strategy: tumbling, size: 1h}\n"},
		{name: "unknown strategy", yaml: "name: j\nsources: [t]\nwindow: {strategy: hopping, size: 1h}\n"},
		{name: "sliding without slide", yaml: "name: j\nsources: [t]\nwindow: {strategy: sliding, size: 1h}\n"},
		{name: "bad size", yaml: "name: j\nsources: [t]\nwindow: {strategy: tumbling, size: fortnight}\n"},
		{name: "unknown alert rule", yaml: "name: j\nsources: [t]\nwindow: {strategy: tumbling, size: 1h}\nalert_rule: panic\n"},
		{name: "bad checkpoint interval", yaml: "name: j\nsources: [t]\nwindow: {strategy: tumbling, size: 1h}\ncheckpoint: {interval: soon}\n"},
		{name: "not yaml", yaml: "{{{"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeJobFile(t, dir, "bad.yaml", tc.yaml)
			_, err := NewDefinitionRepository(dir)
			require.Error(t, err)
		})
	}
}

func TestLoadDefinitionDuplicateName(t *testing.T) {
	dir := t.TempDir()
	def := "name: same\nsources: [t]\nwindow: {strategy: tumbling, size: 1h}\n"
	writeJobFile(t, dir, "a.yaml", def)
	writeJobFile(t, dir, "b.yaml", def)

	_, err := NewDefinitionRepository(dir)
	require.ErrorContains(t, err, "duplicate")
}

func TestLoadDefinitionSkipsNonYAML(t *testing.T) {
	dir := t.TempDir()
	writeJobFile(t, dir, "job.yaml", "name: real\nsources: [t]\nwindow: {strategy: tumbling, size: 1h}\n")
	writeJobFile(t, dir, "README.md", "not a job")
	writeJobFile(t, dir, "empty.yaml", "# placeholder\n")

	repo, err := NewDefinitionRepository(dir)
	require.NoError(t, err)
	require.Len(t, repo.List(), 1)
}

func TestMissingDirectoryIsEmptyRepo(t *testing.T) {
	repo, err := NewDefinitionRepository(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	require.Empty(t, repo.List())

	_, err = repo.Get("anything")
	require.Error(t, err)
}

func TestFingerprintTracksContent(t *testing.T) {
	dirA := t.TempDir()
	writeJobFile(t, dirA, "j.yaml", "name: j\nsources: [t]\nwindow: {strategy: tumbling, size: 1h}\n")
	repoA, err := NewDefinitionRepository(dirA)
	require.NoError(t, err)

	dirB := t.TempDir()
	writeJobFile(t, dirB, "j.yaml", "name: j\nsources: [t]\nwindow: {strategy: tumbling, size: 2h}\n")
	repoB, err := NewDefinitionRepository(dirB)
	require.NoError(t, err)

	a, err := repoA.Get("j")
	require.NoError(t, err)
	b, err := repoB.Get("j")
	require.NoError(t, err)
	require.NotEqual(t, a.Fingerprint, b.Fingerprint)
}

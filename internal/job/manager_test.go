package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/alerting"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/broker"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/checkpoint"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/core/stats"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/sink"
)

const managerJobYAML = `
name: stream-job
parallelism: 2
sources: [scores]
window:
  strategy: tumbling
  size: 1m
  lateness: 0s
field: score
checkpoint:
  interval: 1h
`

func newTestManager(t *testing.T, yaml string) (*Manager, *broker.Log, *sink.MemoryFeatureStore, *checkpoint.MemoryStore) {
	t.Helper()
	dir := t.TempDir()
	writeJobFile(t, dir, "job.yaml", yaml)
	defs, err := NewDefinitionRepository(dir)
	require.NoError(t, err)

	l := broker.NewLog([]string{"scores"}, 10000)
	t.Cleanup(l.Close)
	features := sink.NewMemoryFeatureStore()
	store := checkpoint.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	alerts := alerting.NewManager(alerting.DefaultThresholds())

	return NewManager(defs, l, nil, time.Second, alerts, features, store), l, features, store
}

func waitForStatus(t *testing.T, m *Manager, name string, want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		j, err := m.Status(name)
		return err == nil && j.Status == want
	}, 3*time.Second, 10*time.Millisecond, "job %s never reached %s", name, want)
}

func TestManagerSubmitUnknownJob(t *testing.T) {
	m, _, _, _ := newTestManager(t, managerJobYAML)
	_, err := m.Submit("no-such-job")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestManagerSubmitDuplicate(t *testing.T) {
	m, _, _, _ := newTestManager(t, managerJobYAML)
	defer m.Shutdown(context.Background())

	_, err := m.Submit("stream-job")
	require.NoError(t, err)
	waitForStatus(t, m, "stream-job", StatusRunning)

	_, err = m.Submit("stream-job")
	require.ErrorIs(t, err, ErrJobExists)
}

func TestManagerStopGraceful(t *testing.T) {
	m, l, features, store := newTestManager(t, managerJobYAML)

	_, err := m.Submit("stream-job")
	require.NoError(t, err)
	waitForStatus(t, m, "stream-job", StatusRunning)

	appendScore(t, l, "startup-1", runnerBase, 10)
	appendScore(t, l, "startup-1", runnerBase.Add(2*time.Minute), 20)
	require.Eventually(t, func() bool { return features.Len() == 1 },
		3*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Stop(context.Background(), "stream-job", false))

	j, err := m.Status("stream-job")
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, j.Status)

	// Graceful stop leaves the final checkpoint behind by default.
	snap, err := store.Load(context.Background(), "stream-job")
	require.NoError(t, err)
	require.NotEmpty(t, snap.Cursors)

	require.ErrorIs(t, m.Stop(context.Background(), "stream-job", false), ErrBadState)
}

func TestManagerStopDropsCheckpointWhenConfigured(t *testing.T) {
	m, _, _, store := newTestManager(t, managerJobYAML+"  retain_on_cancel: false\n")

	_, err := m.Submit("stream-job")
	require.NoError(t, err)
	waitForStatus(t, m, "stream-job", StatusRunning)

	require.NoError(t, m.Stop(context.Background(), "stream-job", false))
	_, err = store.Load(context.Background(), "stream-job")
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestManagerResubmitTerminalJob(t *testing.T) {
	m, _, _, _ := newTestManager(t, managerJobYAML)
	defer m.Shutdown(context.Background())

	_, err := m.Submit("stream-job")
	require.NoError(t, err)
	waitForStatus(t, m, "stream-job", StatusRunning)
	require.NoError(t, m.Stop(context.Background(), "stream-job", false))

	_, err = m.Submit("stream-job")
	require.NoError(t, err, "a canceled job can be submitted again")
	waitForStatus(t, m, "stream-job", StatusRunning)
}

func TestManagerSuspendResume(t *testing.T) {
	m, l, features, _ := newTestManager(t, managerJobYAML)
	defer m.Shutdown(context.Background())

	_, err := m.Submit("stream-job")
	require.NoError(t, err)
	waitForStatus(t, m, "stream-job", StatusRunning)

	appendScore(t, l, "startup-2", runnerBase, 10)
	appendScore(t, l, "startup-2", runnerBase.Add(30*time.Second), 20)

	require.NoError(t, m.Suspend("stream-job"))
	j, err := m.Status("stream-job")
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, j.Status)
	require.ErrorIs(t, m.Suspend("stream-job"), ErrBadState)
	require.Zero(t, features.Len(), "window still open across the suspension")

	require.NoError(t, m.Resume("stream-job"))
	waitForStatus(t, m, "stream-job", StatusRunning)

	// The closing event arrives after resume; buffered values must have
	// survived the suspension through the retained checkpoint.
	appendScore(t, l, "startup-2", runnerBase.Add(2*time.Minute), 30)
	require.Eventually(t, func() bool { return features.Len() == 1 },
		3*time.Second, 10*time.Millisecond)

	got := features.Get(stats.Key{
		JobName:     "stream-job",
		SubjectID:   "startup-2",
		WindowStart: runnerBase,
		WindowEnd:   runnerBase.Add(time.Minute),
	})
	require.NotNil(t, got)
	require.Equal(t, int64(2), got.Summary.Count)

	require.ErrorIs(t, m.Resume("stream-job"), ErrBadState)
}

func TestManagerOperatorRestart(t *testing.T) {
	m, _, _, _ := newTestManager(t, managerJobYAML)
	defer m.Shutdown(context.Background())

	_, err := m.Submit("stream-job")
	require.NoError(t, err)
	waitForStatus(t, m, "stream-job", StatusRunning)

	require.NoError(t, m.Restart("stream-job"))
	waitForStatus(t, m, "stream-job", StatusRunning)

	j, err := m.Status("stream-job")
	require.NoError(t, err)
	require.Zero(t, j.Restarts, "operator restarts do not consume the fault budget")
}

func TestManagerFaultRestartBudget(t *testing.T) {
	m, l, _, _ := newTestManager(t, managerJobYAML+"max_restarts: 1\n")

	_, err := m.Submit("stream-job")
	require.NoError(t, err)
	waitForStatus(t, m, "stream-job", StatusRunning)

	// Closing the log makes every fetch fail: a recoverable fault that
	// keeps recurring until the restart budget runs out.
	l.Close()
	waitForStatus(t, m, "stream-job", StatusFailed)

	j, err := m.Status("stream-job")
	require.NoError(t, err)
	require.Equal(t, 1, j.Restarts)
	require.NotEmpty(t, j.LastError)

	require.ErrorIs(t, m.Stop(context.Background(), "stream-job", false), ErrBadState)
}

func TestManagerListAndDefinitions(t *testing.T) {
	m, _, _, _ := newTestManager(t, managerJobYAML)
	defer m.Shutdown(context.Background())

	require.Empty(t, m.List())
	require.Len(t, m.Definitions(), 1)

	_, err := m.Submit("stream-job")
	require.NoError(t, err)

	jobs := m.List()
	require.Len(t, jobs, 1)
	require.Equal(t, "stream-job", jobs[0].Name)

	_, err = m.Status("missing")
	require.ErrorIs(t, err, ErrJobNotFound)
}

package checkpoint

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubSource struct {
	builds int32
	err    error
	delay  time.Duration
}

func (s *stubSource) BuildSnapshot(ctx context.Context) (*Snapshot, error) {
	atomic.AddInt32(&s.builds, 1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &Snapshot{
		Cursors:     []Cursor{{Topic: "t", Partition: 0, Offset: 1}},
		WindowState: map[int][]byte{0: []byte("{}")},
	}, nil
}

func fastConfig() Config {
	return Config{
		Interval:       10 * time.Millisecond,
		Timeout:        time.Second,
		MinPause:       0,
		MaxConcurrent:  1,
		RetainOnCancel: true,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantError bool
	}{
		{name: "defaults valid", mutate: func(c *Config) {}},
		{name: "zero interval", mutate: func(c *Config) { c.Interval = 0 }, wantError: true},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }, wantError: true},
		{name: "negative min pause", mutate: func(c *Config) { c.MinPause = -time.Second }, wantError: true},
		{name: "zero max concurrent", mutate: func(c *Config) { c.MaxConcurrent = 0 }, wantError: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantError {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCheckpointNowVersionsIncrease(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	m := NewManager("job-v", store, fastConfig(), &stubSource{})
	ctx := context.Background()

	require.NoError(t, m.CheckpointNow(ctx))
	require.NoError(t, m.CheckpointNow(ctx))
	require.NoError(t, m.CheckpointNow(ctx))

	snap, err := store.Load(ctx, "job-v")
	require.NoError(t, err)
	require.Equal(t, int64(3), snap.Version)
	require.Equal(t, "job-v", snap.JobName)
	require.False(t, snap.TakenAt.IsZero())
}

func TestCheckpointMinPauseSkips(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	cfg := fastConfig()
	cfg.MinPause = time.Hour
	src := &stubSource{}
	m := NewManager("job-p", store, cfg, src)
	ctx := context.Background()

	require.NoError(t, m.CheckpointNow(ctx))
	require.NoError(t, m.CheckpointNow(ctx), "inside min pause the attempt is skipped, not failed")
	require.Equal(t, int32(1), atomic.LoadInt32(&src.builds))

	snap, err := store.Load(ctx, "job-p")
	require.NoError(t, err)
	require.Equal(t, int64(1), snap.Version)
}

func TestCheckpointBuildFailure(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	m := NewManager("job-f", store, fastConfig(), &stubSource{err: errors.New("worker locked up")})

	require.Error(t, m.CheckpointNow(context.Background()))
	_, err := store.Load(context.Background(), "job-f")
	require.ErrorIs(t, err, ErrNotFound, "a failed attempt writes nothing")
}

func TestCheckpointTimeout(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	cfg := fastConfig()
	cfg.Timeout = 20 * time.Millisecond
	m := NewManager("job-t", store, cfg, &stubSource{delay: 500 * time.Millisecond})

	start := time.Now()
	err := m.CheckpointNow(context.Background())
	require.Error(t, err)
	require.Less(t, time.Since(start), 300*time.Millisecond)
}

func TestRunTakesFinalCheckpointOnCancel(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	cfg := fastConfig()
	cfg.Interval = time.Hour // only the final checkpoint can fire
	m := NewManager("job-final", store, cfg, &stubSource{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop after cancel")
	}

	snap, err := store.Load(context.Background(), "job-final")
	require.NoError(t, err)
	require.Equal(t, int64(1), snap.Version)
}

func TestRestoreSeedsVersion(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Snapshot{JobName: "job-r", Version: 7}))

	m := NewManager("job-r", store, fastConfig(), &stubSource{})
	snap, err := m.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(7), snap.Version)

	require.NoError(t, m.CheckpointNow(ctx))
	latest, err := store.Load(ctx, "job-r")
	require.NoError(t, err)
	require.Equal(t, int64(8), latest.Version, "versions continue past the restored one")
}

func TestRestoreColdStart(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	m := NewManager("job-cold", store, fastConfig(), &stubSource{})

	_, err := m.Restore(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOnCancelHonorsRetention(t *testing.T) {
	ctx := context.Background()

	retain := fastConfig()
	store := NewMemoryStore()
	defer store.Close()
	m := NewManager("job-keep", store, retain, &stubSource{})
	require.NoError(t, m.CheckpointNow(ctx))
	require.NoError(t, m.OnCancel(ctx))
	_, err := store.Load(ctx, "job-keep")
	require.NoError(t, err)

	drop := fastConfig()
	drop.RetainOnCancel = false
	m = NewManager("job-drop", store, drop, &stubSource{})
	require.NoError(t, m.CheckpointNow(ctx))
	require.NoError(t, m.OnCancel(ctx))
	_, err = store.Load(ctx, "job-drop")
	require.ErrorIs(t, err, ErrNotFound)
}

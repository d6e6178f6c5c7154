package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/metrics"
)

// Config governs one job's checkpoint cadence.
type Config struct {
	Interval       time.Duration `json:"interval"`
	Timeout        time.Duration `json:"timeout"`
	MinPause       time.Duration `json:"min_pause"`
	MaxConcurrent  int           `json:"max_concurrent"`
	RetainOnCancel bool          `json:"retain_on_cancel"`
}

// Validate reports malformed checkpoint configuration, fatal at job
// submission.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("checkpoint interval must be positive, got %v", c.Interval)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("checkpoint timeout must be positive, got %v", c.Timeout)
	}
	if c.MinPause < 0 {
		return fmt.Errorf("checkpoint min_pause must be >= 0, got %v", c.MinPause)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("checkpoint max_concurrent must be >= 1, got %d", c.MaxConcurrent)
	}
	return nil
}

// DefaultConfig is the tunable baseline; per-job definitions override it.
func DefaultConfig() Config {
	return Config{
		Interval:       time.Minute,
		Timeout:        5 * time.Minute,
		MinPause:       30 * time.Second,
		MaxConcurrent:  1,
		RetainOnCancel: true,
	}
}

// Source produces the state to snapshot. The job runner implements this;
// the snapshot must be consistent at the moment of the call.
type Source interface {
	BuildSnapshot(ctx context.Context) (*Snapshot, error)
}

// Manager writes one job's checkpoints on a timer. It is the single writer
// for that job's checkpoint row.
type Manager struct {
	jobName string
	store   Store
	cfg     Config
	source  Source

	sem chan struct{} // bounds in-flight checkpoints at cfg.MaxConcurrent

	mu       sync.Mutex
	version  int64
	lastDone time.Time
}

// NewManager creates a checkpoint manager for one job.
func NewManager(jobName string, store Store, cfg Config, source Source) *Manager {
	return &Manager{
		jobName: jobName,
		store:   store,
		cfg:     cfg,
		source:  source,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Run checkpoints on the configured interval until ctx is cancelled, then
// takes a final checkpoint so a graceful stop never loses closed windows.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	slog.Info("[Checkpoint] Manager started",
		"job", m.jobName,
		"interval", m.cfg.Interval,
		"timeout", m.cfg.Timeout,
		"min_pause", m.cfg.MinPause,
		"max_concurrent", m.cfg.MaxConcurrent)

	for {
		select {
		case <-ticker.C:
			if err := m.CheckpointNow(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("[Checkpoint] Periodic checkpoint failed", "job", m.jobName, "error", err)
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
			if err := m.checkpointOnce(shutdownCtx, true); err != nil {
				slog.Error("[Checkpoint] Final checkpoint failed", "job", m.jobName, "error", err)
			}
			cancel()
			slog.Info("[Checkpoint] Manager stopped", "job", m.jobName)
			return
		}
	}
}

// CheckpointNow takes one checkpoint, honoring MinPause spacing and the
// MaxConcurrent bound. An attempt exceeding Timeout is aborted and counted
// as failed; the store's versioned upsert means nothing half-written survives.
func (m *Manager) CheckpointNow(ctx context.Context) error {
	return m.checkpointOnce(ctx, false)
}

func (m *Manager) checkpointOnce(ctx context.Context, final bool) error {
	m.mu.Lock()
	if !final && !m.lastDone.IsZero() && time.Since(m.lastDone) < m.cfg.MinPause {
		m.mu.Unlock()
		return nil // spaced out; next tick will retry
	}
	m.mu.Unlock()

	select {
	case m.sem <- struct{}{}:
	default:
		return nil // MaxConcurrent in flight already
	}
	defer func() { <-m.sem }()

	attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	start := time.Now()
	snap, err := m.source.BuildSnapshot(attemptCtx)
	if err != nil {
		metrics.CheckpointFailed(m.jobName)
		return fmt.Errorf("build snapshot: %w", err)
	}
	snap.JobName = m.jobName
	snap.TakenAt = start.UTC()

	m.mu.Lock()
	m.version++
	snap.Version = m.version
	m.mu.Unlock()

	if err := m.store.Save(attemptCtx, snap); err != nil {
		metrics.CheckpointFailed(m.jobName)
		return fmt.Errorf("save snapshot v%d: %w", snap.Version, err)
	}

	m.mu.Lock()
	m.lastDone = time.Now()
	m.mu.Unlock()

	metrics.CheckpointCompleted(m.jobName, time.Since(start))
	slog.Debug("[Checkpoint] Checkpoint complete",
		"job", m.jobName, "version", snap.Version, "duration", time.Since(start))
	return nil
}

// Restore loads the job's last good snapshot and seeds the version counter
// so later checkpoints keep increasing. ErrNotFound means a cold start.
func (m *Manager) Restore(ctx context.Context) (*Snapshot, error) {
	snap, err := m.store.Load(ctx, m.jobName)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if snap.Version > m.version {
		m.version = snap.Version
	}
	m.mu.Unlock()
	return snap, nil
}

// OnCancel disposes of checkpoint state after an explicit job stop,
// honoring RetainOnCancel (pause/resume keeps it; teardown deletes it).
func (m *Manager) OnCancel(ctx context.Context) error {
	if m.cfg.RetainOnCancel {
		return nil
	}
	return m.store.Delete(ctx, m.jobName)
}

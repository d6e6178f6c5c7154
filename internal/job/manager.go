package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/alerting"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/broker"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/checkpoint"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/enrich"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/metrics"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/sink"
)

var (
	// ErrJobNotFound indicates no job with the given name was submitted.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists indicates a non-terminal job with the name already runs.
	ErrJobExists = errors.New("job already exists")

	// ErrBadState indicates the operation is illegal in the job's state.
	ErrBadState = errors.New("operation not allowed in current job state")
)

// hardStopWait bounds how long a forced stop waits for workers before
// abandoning them. The not-yet-checkpointed tail is a known, logged gap.
const hardStopWait = 3 * time.Second

// managed pairs a job with its live processing resources. cancel and done
// are replaced on every (re)launch.
type managed struct {
	job    *Job
	runner *Runner
	cpMgr  *checkpoint.Manager
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns job lifecycles: submit, stop, restart, suspend, resume.
type Manager struct {
	defs          *DefinitionRepository
	log           *broker.Log
	predictor     enrich.Predictor
	enrichTimeout time.Duration
	alerts        *alerting.Manager
	features      sink.FeatureStore
	store         checkpoint.Store

	mu   sync.Mutex
	jobs map[string]*managed
}

// NewManager wires the manager to its collaborators. It starts no jobs.
func NewManager(
	defs *DefinitionRepository,
	log *broker.Log,
	predictor enrich.Predictor,
	enrichTimeout time.Duration,
	alerts *alerting.Manager,
	features sink.FeatureStore,
	store checkpoint.Store,
) *Manager {
	return &Manager{
		defs:          defs,
		log:           log,
		predictor:     predictor,
		enrichTimeout: enrichTimeout,
		alerts:        alerts,
		features:      features,
		store:         store,
		jobs:          make(map[string]*managed),
	}
}

// Submit starts the named pipeline from its loaded definition. The job name
// is the job ID. Resubmitting a terminal job replaces it.
func (m *Manager) Submit(name string) (*Job, error) {
	def, err := m.defs.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.jobs[name]; ok && !existing.job.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobExists, name, existing.job.Status)
	}

	now := time.Now().UTC()
	mg := &managed{
		job: &Job{
			Name:        name,
			Status:      StatusCreated,
			Definition:  *def,
			SubmittedAt: now,
			UpdatedAt:   now,
		},
	}
	m.jobs[name] = mg
	m.launch(mg)
	return mg.job, nil
}

// launch spawns the supervision loop. Caller holds m.mu.
func (m *Manager) launch(mg *managed) {
	ctx, cancel := context.WithCancel(context.Background())
	mg.cancel = cancel
	mg.done = make(chan struct{})
	go m.supervise(ctx, mg)
}

// supervise runs the job until cancellation or terminal failure, restarting
// on recoverable faults within the definition's restart budget.
func (m *Manager) supervise(ctx context.Context, mg *managed) {
	defer close(mg.done)
	def := mg.job.Definition

	for {
		enricher := enrich.New(m.predictor, m.enrichTimeout, def.Name)
		runner := NewRunner(def, m.log, enricher, m.alerts, m.features)
		cpMgr := checkpoint.NewManager(def.Name, m.store, def.Checkpoint, runner)

		if snap, err := cpMgr.Restore(ctx); err == nil {
			if err := runner.RestoreFrom(snap); err != nil {
				slog.Warn("[JobManager] Checkpoint unusable, cold starting",
					"job", def.Name, "error", err)
			}
		} else if !errors.Is(err, checkpoint.ErrNotFound) {
			slog.Warn("[JobManager] Checkpoint restore failed, cold starting",
				"job", def.Name, "error", err)
		}

		m.mu.Lock()
		mg.runner = runner
		mg.cpMgr = cpMgr
		if err := mg.job.transition(StatusRunning); err != nil {
			m.mu.Unlock()
			slog.Error("[JobManager] Cannot enter RUNNING", "job", def.Name, "error", err)
			return
		}
		m.mu.Unlock()

		metrics.JobStarted(def.Name)
		slog.Info("[JobManager] Job running",
			"job", def.Name, "parallelism", def.Parallelism, "restarts", mg.job.Restarts)

		cpCtx, cpCancel := context.WithCancel(context.Background())
		cpDone := make(chan struct{})
		go func() {
			cpMgr.Run(cpCtx)
			close(cpDone)
		}()

		runErr := runner.Run(ctx)

		cpCancel() // takes the final checkpoint before returning
		<-cpDone
		metrics.JobStopped(def.Name)

		if ctx.Err() != nil {
			return // stop, suspend, or restart path owns the status
		}

		m.mu.Lock()
		mg.job.LastError = runErr.Error()
		if err := mg.job.transition(StatusFailing); err != nil {
			m.mu.Unlock()
			return
		}
		if mg.job.Restarts >= def.MaxRestarts {
			_ = mg.job.transition(StatusFailed)
			m.mu.Unlock()
			slog.Error("[JobManager] Restart budget exhausted, job failed",
				"job", def.Name, "restarts", mg.job.Restarts, "error", runErr)
			return
		}
		_ = mg.job.transition(StatusRestarting)
		mg.job.Restarts++
		restarts := mg.job.Restarts
		m.mu.Unlock()

		metrics.JobRestarted(def.Name)
		slog.Warn("[JobManager] Job restarting after fault",
			"job", def.Name, "attempt", restarts, "error", runErr)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(restarts) * time.Second):
		}
	}
}

// Stop cancels the job. Cooperative by default: workers drain their fetched
// batch and the final checkpoint lands before CANCELED. force abandons the
// workers after a short wait, accepting loss of the not-yet-checkpointed
// tail.
func (m *Manager) Stop(ctx context.Context, name string, force bool) error {
	m.mu.Lock()
	mg, ok := m.jobs[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if err := mg.job.transition(StatusCancelling); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBadState, mg.job.Status)
	}
	cancel, done, cpMgr := mg.cancel, mg.done, mg.cpMgr
	m.mu.Unlock()

	cancel()
	if force {
		select {
		case <-done:
		case <-time.After(hardStopWait):
			slog.Error("[JobManager] Hard stop abandoned workers, recent windows since last checkpoint are lost",
				"job", name, "waited", hardStopWait)
		}
	} else {
		<-done
	}

	if cpMgr != nil {
		if err := cpMgr.OnCancel(ctx); err != nil {
			slog.Warn("[JobManager] Checkpoint cleanup failed", "job", name, "error", err)
		}
	}

	m.mu.Lock()
	err := mg.job.transition(StatusCanceled)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	slog.Info("[JobManager] Job canceled", "job", name, "force", force)
	return nil
}

// Restart drains and relaunches the job, resuming from its last checkpoint.
// Operator restarts do not consume the fault restart budget.
func (m *Manager) Restart(name string) error {
	m.mu.Lock()
	mg, ok := m.jobs[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if err := mg.job.transition(StatusFailing); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBadState, mg.job.Status)
	}
	mg.job.LastError = ""
	cancel, done := mg.cancel, mg.done
	m.mu.Unlock()

	cancel()
	<-done

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := mg.job.transition(StatusRestarting); err != nil {
		return err
	}
	metrics.JobRestarted(name)
	m.launch(mg)
	slog.Info("[JobManager] Job restarted by operator", "job", name)
	return nil
}

// Suspend pauses processing while retaining checkpoint state. Used for
// planned maintenance.
func (m *Manager) Suspend(name string) error {
	m.mu.Lock()
	mg, ok := m.jobs[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if err := mg.job.transition(StatusSuspended); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBadState, mg.job.Status)
	}
	cancel, done := mg.cancel, mg.done
	m.mu.Unlock()

	cancel()
	<-done
	slog.Info("[JobManager] Job suspended", "job", name)
	return nil
}

// Resume relaunches a suspended job from its retained checkpoint.
func (m *Manager) Resume(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mg, ok := m.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if mg.job.Status != StatusSuspended {
		return fmt.Errorf("%w: %s", ErrBadState, mg.job.Status)
	}
	m.launch(mg)
	slog.Info("[JobManager] Job resumed", "job", name)
	return nil
}

// Status returns a copy of the job's current state.
func (m *Manager) Status(name string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mg, ok := m.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	j := *mg.job
	return &j, nil
}

// List returns copies of all submitted jobs.
func (m *Manager) List() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, mg := range m.jobs {
		j := *mg.job
		out = append(out, &j)
	}
	return out
}

// Definitions exposes the loaded pipeline definitions for the ops API.
func (m *Manager) Definitions() []Definition {
	return m.defs.List()
}

// Shutdown stops every non-terminal job cooperatively.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	names := make([]string, 0, len(m.jobs))
	for name, mg := range m.jobs {
		if !mg.job.Status.Terminal() {
			names = append(names, name)
		}
	}
	m.mu.Unlock()

	for _, name := range names {
		if err := m.Stop(ctx, name, false); err != nil && !errors.Is(err, ErrBadState) {
			slog.Warn("[JobManager] Shutdown stop failed", "job", name, "error", err)
		}
	}
}

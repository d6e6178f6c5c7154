package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/alerting"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/broker"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/checkpoint"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/core/partition"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/core/stats"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/core/window"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/enrich"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/metrics"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/sink"
)

const (
	fetchMax      = 256
	pollInterval  = 100 * time.Millisecond
	flushInterval = time.Second
)

type cursorKey struct {
	topic string
	part  int
}

// worker owns a disjoint range of partitions. Its window state and cursors
// are guarded by mu only because the checkpoint manager snapshots them from
// another goroutine; event processing itself is single-threaded per worker,
// which is what gives strict per-subject ordering.
type worker struct {
	index  int
	lo, hi int

	mu      sync.Mutex
	state   *window.State
	cursors map[cursorKey]int64
}

// Runner drives one job: parallelism workers, each consuming its partition
// range from every source topic, feeding windows through aggregation,
// enrichment, alerting, and the feature store.
type Runner struct {
	def      Definition
	log      *broker.Log
	enricher *enrich.Enricher
	alerts   *alerting.Manager
	features sink.FeatureStore

	workers []*worker
}

// NewRunner builds a runner with cold window state. Call RestoreFrom before
// Run to resume from a checkpoint.
func NewRunner(def Definition, log *broker.Log, enricher *enrich.Enricher, alerts *alerting.Manager, features sink.FeatureStore) *Runner {
	workers := make([]*worker, def.Parallelism)
	for i := range workers {
		lo, hi := partition.Range(i, def.Parallelism)
		workers[i] = &worker{
			index:   i,
			lo:      lo,
			hi:      hi,
			state:   window.NewState(def.Window, def.Lateness),
			cursors: make(map[cursorKey]int64),
		}
	}
	return &Runner{
		def:      def,
		log:      log,
		enricher: enricher,
		alerts:   alerts,
		features: features,
		workers:  workers,
	}
}

// BuildSnapshot implements checkpoint.Source. Each worker is locked just
// long enough to serialize its state, so the snapshot is consistent per
// worker and cursors never run ahead of captured window state.
func (r *Runner) BuildSnapshot(ctx context.Context) (*checkpoint.Snapshot, error) {
	snap := &checkpoint.Snapshot{
		WindowState: make(map[int][]byte, len(r.workers)),
	}
	for _, w := range r.workers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w.mu.Lock()
		stateBytes, err := w.state.Snapshot()
		if err != nil {
			w.mu.Unlock()
			return nil, fmt.Errorf("worker %d: %w", w.index, err)
		}
		snap.WindowState[w.index] = stateBytes
		for key, offset := range w.cursors {
			snap.Cursors = append(snap.Cursors, checkpoint.Cursor{
				Topic:     key.topic,
				Partition: key.part,
				Offset:    offset,
			})
		}
		w.mu.Unlock()
	}
	return snap, nil
}

// RestoreFrom seeds cursors and window state from a checkpoint. Window state
// is keyed by worker index, so a parallelism change invalidates the snapshot.
func (r *Runner) RestoreFrom(snap *checkpoint.Snapshot) error {
	if len(snap.WindowState) != 0 && len(snap.WindowState) != len(r.workers) {
		return fmt.Errorf("checkpoint has %d workers, job configured with %d",
			len(snap.WindowState), len(r.workers))
	}
	for _, w := range r.workers {
		if stateBytes, ok := snap.WindowState[w.index]; ok {
			if err := w.state.Restore(stateBytes); err != nil {
				return fmt.Errorf("worker %d: %w", w.index, err)
			}
		}
	}
	for _, c := range snap.Cursors {
		for _, w := range r.workers {
			if c.Partition >= w.lo && c.Partition < w.hi {
				w.cursors[cursorKey{topic: c.Topic, part: c.Partition}] = c.Offset
				break
			}
		}
	}
	slog.Info("[Runner] Restored from checkpoint",
		"job", r.def.Name, "version", snap.Version, "cursors", len(snap.Cursors))
	return nil
}

// Run processes until ctx is cancelled. Cancellation is cooperative: each
// worker finishes the batch it already fetched before exiting, so buffered
// windows reach the final checkpoint. A worker error stops the whole job
// and is reported to the manager as a recoverable fault.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		w := w
		g.Go(func() error { return r.runWorker(ctx, w) })
	}
	return g.Wait()
}

func (r *Runner) runWorker(ctx context.Context, w *worker) error {
	flush := time.NewTicker(flushInterval)
	defer flush.Stop()

	slog.Info("[Runner] Worker started",
		"job", r.def.Name, "worker", w.index, "partitions", fmt.Sprintf("[%d,%d)", w.lo, w.hi))

	for {
		processed, err := r.pollOnce(ctx, w)
		if err != nil {
			return fmt.Errorf("worker %d: %w", w.index, err)
		}

		if !processed {
			select {
			case <-ctx.Done():
				return nil
			case <-flush.C:
				if err := r.flushIdle(ctx, w); err != nil {
					return fmt.Errorf("worker %d: flush: %w", w.index, err)
				}
			case <-time.After(pollInterval):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-flush.C:
			if err := r.flushIdle(ctx, w); err != nil {
				return fmt.Errorf("worker %d: flush: %w", w.index, err)
			}
		default:
		}
	}
}

// pollOnce fetches one batch from each partition the worker owns and runs
// every record through the pipeline. The cursor advances only after the
// whole batch is processed, so a crash replays at-least-once from the last
// checkpoint and the idempotent sink upsert absorbs the re-emissions.
func (r *Runner) pollOnce(ctx context.Context, w *worker) (bool, error) {
	processed := false
	for _, topic := range r.def.Sources {
		for part := w.lo; part < w.hi; part++ {
			key := cursorKey{topic: topic, part: part}

			w.mu.Lock()
			from := w.cursors[key]
			w.mu.Unlock()

			records, err := r.log.Fetch(ctx, topic, part, from, fetchMax)
			if err != nil {
				return processed, fmt.Errorf("fetch %s/%d: %w", topic, part, err)
			}
			if len(records) == 0 {
				continue
			}
			processed = true

			for _, rec := range records {
				if err := r.process(ctx, w, rec); err != nil {
					return processed, err
				}
			}

			w.mu.Lock()
			w.cursors[key] = records[len(records)-1].Offset + 1
			w.mu.Unlock()
		}
	}
	return processed, nil
}

func (r *Runner) process(ctx context.Context, w *worker, rec broker.Record) error {
	env := rec.Envelope
	value := stats.ExtractDecimal(env.Payload, r.def.Field)

	w.mu.Lock()
	emissions, drop := w.state.Add(env.SubjectID, env.EventID, env.OccurredAt, value)
	w.mu.Unlock()

	if drop != nil {
		metrics.LateEventDropped(r.def.Name)
		slog.Warn("[Runner] Late event dropped",
			"job", r.def.Name,
			"subject", drop.SubjectID,
			"event_id", drop.EventID,
			"occurred_at", drop.OccurredAt,
			"reason", drop.Reason)
	}

	for i := range emissions {
		if err := r.emit(ctx, &emissions[i]); err != nil {
			return err
		}
	}
	return nil
}

// flushIdle advances event time from the wall clock so windows for idle
// streams still close once their span (or session gap) elapses. Only a
// caught-up worker advances: while a backlog is replaying the watermark
// stays event-time driven, so old windows recompute instead of being
// dropped beyond grace. The lateness margin keeps an event appended just
// before the tick inside its grace period.
func (r *Runner) flushIdle(ctx context.Context, w *worker) error {
	ok, err := r.caughtUp(w)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	w.mu.Lock()
	emissions := w.state.AdvanceWatermark(time.Now().UTC().Add(-r.def.Lateness))
	w.mu.Unlock()

	for i := range emissions {
		if err := r.emit(ctx, &emissions[i]); err != nil {
			return err
		}
	}
	return nil
}

// caughtUp reports whether the worker's cursors are at the head of every
// partition it owns.
func (r *Runner) caughtUp(w *worker) (bool, error) {
	for _, topic := range r.def.Sources {
		for part := w.lo; part < w.hi; part++ {
			head, err := r.log.HighWatermark(topic, part)
			if err != nil {
				return false, fmt.Errorf("high watermark %s/%d: %w", topic, part, err)
			}
			w.mu.Lock()
			cur := w.cursors[cursorKey{topic: topic, part: part}]
			w.mu.Unlock()
			if cur < head {
				return false, nil
			}
		}
	}
	return true, nil
}

// emit runs one closed (or recomputed) window through aggregation,
// enrichment, alerting, and the feature store. The sink write blocks:
// bounded correctness over latency.
func (r *Runner) emit(ctx context.Context, em *window.Emission) error {
	result := &stats.Result{
		JobName:     r.def.Name,
		SubjectID:   em.SubjectID,
		WindowStart: em.Span.Start,
		WindowEnd:   em.Span.End,
		Summary:     stats.Summarize(em.Values),
	}

	result = r.enricher.Enrich(ctx, result)

	// A session merge that changed the span withdraws the old spans' rows
	// first, so one logical session never holds more than one row.
	for _, s := range em.Superseded {
		if err := r.features.Remove(ctx, r.def.Name, em.SubjectID, s.Start, s.End); err != nil {
			return fmt.Errorf("feature remove %s [%s, %s): %w",
				em.SubjectID, s.Start, s.End, err)
		}
	}

	if r.def.AlertRule != "" {
		if alert := r.alerts.Evaluate(result, r.def.AlertRule); alert != nil {
			r.alerts.Dispatch(ctx, alert)
		}
	}

	if err := r.features.Upsert(ctx, result); err != nil {
		return fmt.Errorf("feature upsert %s [%s, %s): %w",
			em.SubjectID, em.Span.Start, em.Span.End, err)
	}

	metrics.WindowClosed(r.def.Name)
	if em.Recomputed {
		slog.Debug("[Runner] Window recomputed",
			"job", r.def.Name, "subject", em.SubjectID,
			"window_start", em.Span.Start, "window_end", em.Span.End)
	}
	return nil
}

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/bursarynetwork007/auxeira-backend-sub004/internal/api/v1"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/metrics"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/routing"
)

var (
	// ErrDuplicate is returned when an event ID was already published.
	// Republishing is not an error condition downstream (the first publish
	// already committed) but the caller is told so it can stop retrying.
	ErrDuplicate = errors.New("event already published")

	// ErrPublishUnavailable is returned after the retry budget is exhausted.
	// The at-least-once obligation shifts back to the caller.
	ErrPublishUnavailable = errors.New("publish unavailable after retries")
)

// PublisherConfig bounds the publisher's retry and dedup behavior.
type PublisherConfig struct {
	MaxAttempts    int           // total tries per record, including the first
	InitialBackoff time.Duration // doubled per retry
	MaxBackoff     time.Duration
	DedupeSize     int // bounded idempotency window (event IDs)
}

// DefaultPublisherConfig mirrors the retry posture of the upstream producer:
// small initial backoff, bounded attempts.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		MaxAttempts:    8,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		DedupeSize:     50000,
	}
}

func (c PublisherConfig) normalized() PublisherConfig {
	n := c
	if n.MaxAttempts <= 0 {
		n.MaxAttempts = 8
	}
	if n.InitialBackoff <= 0 {
		n.InitialBackoff = 100 * time.Millisecond
	}
	if n.MaxBackoff < n.InitialBackoff {
		n.MaxBackoff = 5 * time.Second
	}
	return n
}

// Ack reports where an envelope was committed.
type Ack struct {
	EventID   string
	Topic     string
	Offset    int64
	Duplicate bool
}

// Publisher routes envelopes through the static topic table and appends them
// to the log, with idempotency per event ID and bounded exponential-backoff
// retry on transient log errors.
//
// Ordering: Publish is synchronous and appends under the subject's partition
// lock, so for a fixed subject the broker sees envelopes in call order.
type Publisher struct {
	log    *Log
	router *routing.Router
	cfg    PublisherConfig
	dedupe *deduper
}

// NewPublisher wires a publisher to a log and routing table.
func NewPublisher(log *Log, router *routing.Router, cfg PublisherConfig) *Publisher {
	cfg = cfg.normalized()
	return &Publisher{
		log:    log,
		router: router,
		cfg:    cfg,
		dedupe: newDeduper(cfg.DedupeSize),
	}
}

// Publish commits one envelope to its primary topic and fans out the derived
// feature record to the side topic, if the kind has one. Republishing an
// already-seen event ID returns an Ack with Duplicate=true and ErrDuplicate,
// without a second logical effect downstream.
func (p *Publisher) Publish(ctx context.Context, env *v1.Envelope) (Ack, error) {
	if err := env.Validate(); err != nil {
		return Ack{}, err
	}
	route, err := p.router.Route(env.Kind)
	if err != nil {
		// Taxonomy/table drift: fatal configuration error, not per-event.
		return Ack{}, err
	}

	if p.dedupe.seenAndRecord(env.EventID) {
		metrics.PublishDuplicate()
		return Ack{EventID: env.EventID, Topic: route.Primary, Duplicate: true}, ErrDuplicate
	}

	off, err := p.appendWithRetry(ctx, route.Primary, env)
	if err != nil {
		p.dedupe.unrecord(env.EventID)
		return Ack{}, err
	}
	metrics.Published(string(env.Kind))

	// Feature fan-out is derived, best-effort at-least-once: its envelope has
	// its own event ID and the feature store upserts by key.
	for _, side := range route.Sides {
		feat := routing.FeatureEnvelope(env)
		if feat == nil {
			continue
		}
		if _, err := p.appendWithRetry(ctx, side, feat); err != nil {
			slog.Warn("[Publisher] Feature fan-out failed",
				"event_id", env.EventID, "subject_id", env.SubjectID, "topic", side, "error", err)
		}
	}

	return Ack{EventID: env.EventID, Topic: route.Primary, Offset: off}, nil
}

// PublishBatch publishes envelopes in order and returns one ack per input.
// A duplicate does not abort the batch; the first hard failure does, and the
// caller owns the unpublished remainder.
func (p *Publisher) PublishBatch(ctx context.Context, envs []*v1.Envelope) ([]Ack, error) {
	acks := make([]Ack, 0, len(envs))
	for _, env := range envs {
		ack, err := p.Publish(ctx, env)
		if err != nil && !errors.Is(err, ErrDuplicate) {
			return acks, fmt.Errorf("batch publish at %q: %w", env.EventID, err)
		}
		acks = append(acks, ack)
	}
	return acks, nil
}

func (p *Publisher) appendWithRetry(ctx context.Context, topic string, env *v1.Envelope) (int64, error) {
	backoff := p.cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		off, err := p.log.Append(topic, env)
		if err == nil {
			return off, nil
		}
		if !errors.Is(err, ErrPartitionFull) {
			return 0, err // unknown topic / closed log: not retryable
		}
		lastErr = err
		metrics.PublishRetry()
		slog.Warn("[Publisher] Append failed, backing off",
			"topic", topic, "event_id", env.EventID, "attempt", attempt, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > p.cfg.MaxBackoff {
			backoff = p.cfg.MaxBackoff
		}
	}
	return 0, fmt.Errorf("%w: %v", ErrPublishUnavailable, lastErr)
}

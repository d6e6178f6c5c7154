// Package broker provides the in-process partitioned event log and the
// idempotent publisher that feeds it.
//
// The log gives the same contract the pipeline would consume from an
// external broker: per-topic partitions keyed by subject, append-only
// records with monotonic offsets, and cursor-based reads for at-least-once
// consumption and replay.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	v1 "github.com/bursarynetwork007/auxeira-backend-sub004/internal/api/v1"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/core/partition"
)

var (
	// ErrUnknownTopic is returned for reads/writes against an undeclared topic.
	ErrUnknownTopic = errors.New("unknown topic")

	// ErrPartitionFull is a transient error: the partition's bounded buffer
	// is at capacity. Publishers retry with backoff.
	ErrPartitionFull = errors.New("partition at capacity")

	// ErrClosed is returned after the log has been shut down.
	ErrClosed = errors.New("log closed")
)

// Record is one committed entry in a topic partition.
type Record struct {
	Offset     int64
	Envelope   *v1.Envelope
	AppendedAt time.Time
}

// topicLog holds the partitions of one topic.
type topicLog struct {
	partitions []*partitionLog
}

type partitionLog struct {
	mu      sync.Mutex
	records []Record
	base    int64 // offset of records[0]; grows as old records are trimmed
	next    int64
}

// Log is the in-process partitioned event log. Topics are statically
// declared at construction; creating topics per event is a configuration
// error, not a supported path.
type Log struct {
	mu       sync.RWMutex
	topics   map[string]*topicLog
	capacity int // bounded per-partition buffer
	closed   bool
}

// NewLog declares topics and allocates their partitions. capacity bounds
// each partition's in-memory buffer; zero or negative selects the default.
func NewLog(topics []string, capacity int) *Log {
	if capacity <= 0 {
		capacity = 100000
	}
	l := &Log{topics: make(map[string]*topicLog, len(topics)), capacity: capacity}
	for _, t := range topics {
		tl := &topicLog{partitions: make([]*partitionLog, partition.Count)}
		for i := range tl.partitions {
			tl.partitions[i] = &partitionLog{}
		}
		l.topics[t] = tl
	}
	return l
}

// Append commits an envelope to the partition owned by its subject and
// returns the assigned offset. Appends for one subject are serialized under
// the partition lock, so publish-call order is commit order.
func (l *Log) Append(topic string, env *v1.Envelope) (int64, error) {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return 0, ErrClosed
	}
	tl, ok := l.topics[topic]
	l.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}

	p := tl.partitions[partition.For(env.SubjectID)]
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.records) >= l.capacity {
		return 0, ErrPartitionFull
	}
	off := p.next
	p.records = append(p.records, Record{Offset: off, Envelope: env, AppendedAt: time.Now().UTC()})
	p.next++
	return off, nil
}

// Fetch reads up to max records from a topic partition starting at offset
// from (inclusive). Returns an empty slice when the cursor is at the head;
// consumers poll. from=0 means "from the beginning".
func (l *Log) Fetch(ctx context.Context, topic string, part int, from int64, max int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil, ErrClosed
	}
	tl, ok := l.topics[topic]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	if part < 0 || part >= partition.Count {
		return nil, fmt.Errorf("partition %d out of range", part)
	}

	p := tl.partitions[part]
	p.mu.Lock()
	defer p.mu.Unlock()
	if from < p.base {
		from = p.base
	}
	idx := int(from - p.base)
	if idx >= len(p.records) {
		return nil, nil
	}
	end := idx + max
	if end > len(p.records) {
		end = len(p.records)
	}
	out := make([]Record, end-idx)
	copy(out, p.records[idx:end])
	return out, nil
}

// HighWatermark returns the next offset to be assigned in a topic partition.
func (l *Log) HighWatermark(topic string, part int) (int64, error) {
	l.mu.RLock()
	tl, ok := l.topics[topic]
	l.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	p := tl.partitions[part]
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next, nil
}

// Trim discards records below offset in a topic partition. Callers trim only
// below the lowest checkpointed cursor, so replay after recovery stays possible.
func (l *Log) Trim(topic string, part int, below int64) error {
	l.mu.RLock()
	tl, ok := l.topics[topic]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	p := tl.partitions[part]
	p.mu.Lock()
	defer p.mu.Unlock()
	if below <= p.base {
		return nil
	}
	if below > p.next {
		below = p.next
	}
	p.records = p.records[int(below-p.base):]
	p.base = below
	return nil
}

// Topics returns the declared topic names.
func (l *Log) Topics() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.topics))
	for t := range l.topics {
		out = append(out, t)
	}
	return out
}

// Close stops the log. Subsequent appends and fetches fail with ErrClosed.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

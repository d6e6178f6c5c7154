package sink

import (
	"context"
	"sync"
	"time"

	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/alerting"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/core/stats"
)

// FeatureStore receives window results. Upsert must be idempotent on the
// (job, subject, window) key: recomputed late windows overwrite in place.
// Remove withdraws a window whose span was superseded by a session merge,
// so one logical session never leaves more than one row.
type FeatureStore interface {
	Upsert(ctx context.Context, result *stats.Result) error
	Remove(ctx context.Context, jobName, subjectID string, windowStart, windowEnd time.Time) error
}

// MemoryFeatureStore keeps results keyed by window identity. Used by tests
// and by the broker-only deployment profile.
type MemoryFeatureStore struct {
	mu      sync.RWMutex
	results map[stats.Key]*stats.Result
	upserts int
}

func NewMemoryFeatureStore() *MemoryFeatureStore {
	return &MemoryFeatureStore{results: make(map[stats.Key]*stats.Result)}
}

func (s *MemoryFeatureStore) Upsert(_ context.Context, result *stats.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.ResultKey()] = result
	s.upserts++
	return nil
}

func (s *MemoryFeatureStore) Remove(_ context.Context, jobName, subjectID string, windowStart, windowEnd time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, stats.Key{JobName: jobName, SubjectID: subjectID, WindowStart: windowStart, WindowEnd: windowEnd})
	return nil
}

// Get returns the stored result for a window key, or nil.
func (s *MemoryFeatureStore) Get(key stats.Key) *stats.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.results[key]
}

// Len reports distinct windows stored; Upserts counts total writes including
// overwrites, so tests can tell a recompute from a fresh emission.
func (s *MemoryFeatureStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

func (s *MemoryFeatureStore) Upserts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upserts
}

// MemoryAlertSink records delivered alerts in order.
type MemoryAlertSink struct {
	mu     sync.RWMutex
	alerts []*alerting.Alert
}

func NewMemoryAlertSink() *MemoryAlertSink {
	return &MemoryAlertSink{}
}

func (s *MemoryAlertSink) Deliver(_ context.Context, alert *alerting.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *MemoryAlertSink) Delivered() []*alerting.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*alerting.Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

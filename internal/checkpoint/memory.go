package checkpoint

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory checkpoint store for tests and single-process
// development runs. Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte // jobName -> encoded snapshot
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, snap *Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.data[snap.JobName] = data
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, jobName string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	data, ok := m.data[jobName]
	if !ok {
		return nil, ErrNotFound
	}
	return DecodeSnapshot(data)
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	out := make([]Info, 0, len(m.data))
	for job, data := range m.data {
		snap, err := DecodeSnapshot(data)
		if err != nil {
			return nil, err
		}
		out = append(out, Info{JobName: job, Version: snap.Version, TakenAt: snap.TakenAt, Size: int64(len(data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobName < out[j].JobName })
	return out, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, jobName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.data, jobName)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

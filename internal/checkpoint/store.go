// Package checkpoint persists per-job processing progress so a restarted
// job resumes from its last good snapshot instead of reprocessing
// already-closed windows.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates no checkpoint exists for the job.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)

// Cursor is one worker's consumption position in a topic partition.
type Cursor struct {
	Topic     string `json:"topic"`
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"` // next offset to consume
}

// Snapshot is a versioned snapshot of a job's windowing/consumption state.
// WindowState is the serialized keyed window state per worker index.
type Snapshot struct {
	JobName     string         `json:"job_name"`
	Version     int64          `json:"version"` // monotonically increasing per job
	Cursors     []Cursor       `json:"cursors"`
	WindowState map[int][]byte `json:"window_state"`
	TakenAt     time.Time      `json:"taken_at"`
}

// Encode serializes the snapshot for storage.
func (s *Snapshot) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return data, nil
}

// DecodeSnapshot deserializes a stored snapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &s, nil
}

// Info is snapshot metadata without the state payload.
type Info struct {
	JobName string
	Version int64
	TakenAt time.Time
	Size    int64
}

// Store persists job checkpoints. Implementations must be safe for
// concurrent use; per job there is exactly one writer (the checkpoint
// manager) at a time; two concurrent writers for one job is a
// configuration bug, not a race to tolerate.
type Store interface {
	// Save durably stores a snapshot, replacing the job's previous one.
	Save(ctx context.Context, snap *Snapshot) error

	// Load returns the job's last good snapshot, or ErrNotFound.
	Load(ctx context.Context, jobName string) (*Snapshot, error)

	// List returns metadata for all stored checkpoints.
	List(ctx context.Context) ([]Info, error)

	// Delete removes the job's checkpoint. Nil if none exists.
	Delete(ctx context.Context, jobName string) error

	// Close releases resources.
	Close() error
}

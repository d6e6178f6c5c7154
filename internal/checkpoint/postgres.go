package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq" // register postgres driver
)

const (
	querySaveCheckpoint = `
		INSERT INTO job_checkpoints (job_name, version, snapshot, taken_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_name)
		DO UPDATE SET version = EXCLUDED.version,
		              snapshot = EXCLUDED.snapshot,
		              taken_at = EXCLUDED.taken_at
		WHERE job_checkpoints.version < EXCLUDED.version`

	queryLoadCheckpoint = `
		SELECT snapshot FROM job_checkpoints WHERE job_name = $1`

	queryListCheckpoints = `
		SELECT job_name, version, taken_at, octet_length(snapshot)
		FROM job_checkpoints ORDER BY job_name`

	queryDeleteCheckpoint = `
		DELETE FROM job_checkpoints WHERE job_name = $1`
)

// PostgresStore implements Store on a shared *sql.DB.
//
// Save is a single versioned upsert: a checkpoint either replaces the
// previous row atomically or does nothing, so an aborted attempt can never
// leave a half-written snapshot behind.
type PostgresStore struct {
	db         *sql.DB
	stmtSave   *sql.Stmt
	stmtLoad   *sql.Stmt
	stmtList   *sql.Stmt
	stmtDelete *sql.Stmt
}

// NewPostgresStore prepares statements against db. The job_checkpoints
// table must exist, so run migrations first.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	var err error
	if s.stmtSave, err = db.Prepare(querySaveCheckpoint); err != nil {
		return nil, fmt.Errorf("prepare save checkpoint: %w", err)
	}
	if s.stmtLoad, err = db.Prepare(queryLoadCheckpoint); err != nil {
		s.stmtSave.Close()
		return nil, fmt.Errorf("prepare load checkpoint: %w", err)
	}
	if s.stmtList, err = db.Prepare(queryListCheckpoints); err != nil {
		s.stmtSave.Close()
		s.stmtLoad.Close()
		return nil, fmt.Errorf("prepare list checkpoints: %w", err)
	}
	if s.stmtDelete, err = db.Prepare(queryDeleteCheckpoint); err != nil {
		s.stmtSave.Close()
		s.stmtLoad.Close()
		s.stmtList.Close()
		return nil, fmt.Errorf("prepare delete checkpoint: %w", err)
	}
	return s, nil
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return err
	}
	if _, err := s.stmtSave.ExecContext(ctx, snap.JobName, snap.Version, data, snap.TakenAt); err != nil {
		return fmt.Errorf("save checkpoint for %q: %w", snap.JobName, err)
	}
	return nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, jobName string) (*Snapshot, error) {
	var data []byte
	err := s.stmtLoad.QueryRowContext(ctx, jobName).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint for %q: %w", jobName, err)
	}
	return DecodeSnapshot(data)
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context) ([]Info, error) {
	rows, err := s.stmtList.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.JobName, &info.Version, &info.TakenAt, &info.Size); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, jobName string) error {
	if _, err := s.stmtDelete.ExecContext(ctx, jobName); err != nil {
		return fmt.Errorf("delete checkpoint for %q: %w", jobName, err)
	}
	return nil
}

// Close releases prepared statements. The shared *sql.DB is owned by the caller.
func (s *PostgresStore) Close() error {
	s.stmtSave.Close()
	s.stmtLoad.Close()
	s.stmtList.Close()
	s.stmtDelete.Close()
	return nil
}

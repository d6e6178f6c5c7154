package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/alerting"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/core/stats"
)

const (
	queryUpsertFeatureRow = `
		INSERT INTO feature_store (
			job_name, subject_id, window_start, window_end,
			event_count, value_sum, value_avg, value_min, value_max,
			value_stddev, percentiles, predictions, enrich_failed, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (job_name, subject_id, window_start, window_end)
		DO UPDATE SET
			event_count   = EXCLUDED.event_count,
			value_sum     = EXCLUDED.value_sum,
			value_avg     = EXCLUDED.value_avg,
			value_min     = EXCLUDED.value_min,
			value_max     = EXCLUDED.value_max,
			value_stddev  = EXCLUDED.value_stddev,
			percentiles   = EXCLUDED.percentiles,
			predictions   = EXCLUDED.predictions,
			enrich_failed = EXCLUDED.enrich_failed,
			updated_at    = NOW()
	`

	queryDeleteFeatureRow = `
		DELETE FROM feature_store
		WHERE job_name = $1 AND subject_id = $2 AND window_start = $3 AND window_end = $4
	`

	queryInsertAlertRow = `
		INSERT INTO alerts (
			alert_id, subject_id, alert_type, severity, message, data, raised_at, occurrences
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (alert_id) DO UPDATE SET
			data        = EXCLUDED.data,
			occurrences = EXCLUDED.occurrences
	`
)

// PostgresFeatureStore implements FeatureStore on PostgreSQL. The upsert is
// keyed on window identity, so recomputed late windows overwrite in place.
type PostgresFeatureStore struct {
	db         *sql.DB
	upsertStmt *sql.Stmt
	deleteStmt *sql.Stmt
}

// NewPostgresFeatureStore prepares statements against a shared connection.
// The caller owns db.
func NewPostgresFeatureStore(ctx context.Context, db *sql.DB) (*PostgresFeatureStore, error) {
	upsertStmt, err := db.PrepareContext(ctx, queryUpsertFeatureRow)
	if err != nil {
		return nil, fmt.Errorf("feature store: prepare upsert: %w", err)
	}
	deleteStmt, err := db.PrepareContext(ctx, queryDeleteFeatureRow)
	if err != nil {
		return nil, fmt.Errorf("feature store: prepare delete: %w", err)
	}
	return &PostgresFeatureStore{db: db, upsertStmt: upsertStmt, deleteStmt: deleteStmt}, nil
}

func (s *PostgresFeatureStore) Upsert(ctx context.Context, result *stats.Result) error {
	percentilesJSON, err := json.Marshal(result.Summary.Percentiles)
	if err != nil {
		return fmt.Errorf("feature store: marshal percentiles: %w", err)
	}

	var predictionsJSON []byte // nil predictions stay SQL NULL
	if result.Predictions != nil {
		predictionsJSON, err = json.Marshal(result.Predictions)
		if err != nil {
			return fmt.Errorf("feature store: marshal predictions: %w", err)
		}
	}

	if _, err := s.upsertStmt.ExecContext(ctx,
		result.JobName,
		result.SubjectID,
		result.WindowStart,
		result.WindowEnd,
		result.Summary.Count,
		result.Summary.Sum,
		result.Summary.Avg,
		result.Summary.Min,
		result.Summary.Max,
		result.Summary.StdDev,
		percentilesJSON,
		predictionsJSON,
		result.EnrichFailed,
	); err != nil {
		return fmt.Errorf("feature store: upsert %s/%s [%s, %s): %w",
			result.JobName, result.SubjectID, result.WindowStart, result.WindowEnd, err)
	}
	return nil
}

// Remove deletes a window row superseded by a session merge. Deleting an
// absent row is a no-op, so replays stay idempotent.
func (s *PostgresFeatureStore) Remove(ctx context.Context, jobName, subjectID string, windowStart, windowEnd time.Time) error {
	if _, err := s.deleteStmt.ExecContext(ctx, jobName, subjectID, windowStart, windowEnd); err != nil {
		return fmt.Errorf("feature store: delete %s/%s [%s, %s): %w",
			jobName, subjectID, windowStart, windowEnd, err)
	}
	return nil
}

// Close releases prepared statements. Does not close the shared db.
func (s *PostgresFeatureStore) Close() error {
	if err := s.upsertStmt.Close(); err != nil {
		return err
	}
	return s.deleteStmt.Close()
}

// PostgresAlertSink persists delivered alerts. Suppressed repeats re-deliver
// the surviving alert, so the conflict clause refreshes data and occurrences.
type PostgresAlertSink struct {
	db         *sql.DB
	insertStmt *sql.Stmt
}

func NewPostgresAlertSink(ctx context.Context, db *sql.DB) (*PostgresAlertSink, error) {
	insertStmt, err := db.PrepareContext(ctx, queryInsertAlertRow)
	if err != nil {
		return nil, fmt.Errorf("alert sink: prepare insert: %w", err)
	}
	return &PostgresAlertSink{db: db, insertStmt: insertStmt}, nil
}

func (s *PostgresAlertSink) Deliver(ctx context.Context, alert *alerting.Alert) error {
	dataJSON, err := json.Marshal(alert.Data)
	if err != nil {
		return fmt.Errorf("alert sink: marshal data: %w", err)
	}
	if _, err := s.insertStmt.ExecContext(ctx,
		alert.AlertID,
		alert.SubjectID,
		string(alert.AlertType),
		string(alert.Severity),
		alert.Message,
		dataJSON,
		alert.RaisedAt,
		alert.Occurrences,
	); err != nil {
		return fmt.Errorf("alert sink: insert %s: %w", alert.AlertID, err)
	}
	return nil
}

func (s *PostgresAlertSink) Close() error {
	return s.insertStmt.Close()
}

package checkpoint

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectPrepare(regexp.QuoteMeta(querySaveCheckpoint))
	mock.ExpectPrepare(regexp.QuoteMeta(queryLoadCheckpoint))
	mock.ExpectPrepare(regexp.QuoteMeta(queryListCheckpoints))
	mock.ExpectPrepare(regexp.QuoteMeta(queryDeleteCheckpoint))

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
		db.Close()
	})
	return store, mock
}

func TestPostgresStoreSave(t *testing.T) {
	store, mock := newMockStore(t)

	snap := testSnapshot("daily-score-window", 3)
	data, err := snap.Encode()
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(querySaveCheckpoint)).
		WithArgs("daily-score-window", int64(3), data, snap.TakenAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Save(context.Background(), snap))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreStaleVersionIsNoop(t *testing.T) {
	store, mock := newMockStore(t)

	snap := testSnapshot("daily-score-window", 2)
	data, err := snap.Encode()
	require.NoError(t, err)

	// The guarded upsert matches zero rows when the stored version is newer.
	mock.ExpectExec(regexp.QuoteMeta(querySaveCheckpoint)).
		WithArgs("daily-score-window", int64(2), data, snap.TakenAt).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Save(context.Background(), snap))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreLoad(t *testing.T) {
	store, mock := newMockStore(t)

	snap := testSnapshot("engagement-trend", 9)
	data, err := snap.Encode()
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(queryLoadCheckpoint)).
		WithArgs("engagement-trend").
		WillReturnRows(sqlmock.NewRows([]string{"snapshot"}).AddRow(data))

	got, err := store.Load(context.Background(), "engagement-trend")
	require.NoError(t, err)
	require.Equal(t, snap, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreLoadNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(queryLoadCheckpoint)).
		WithArgs("missing-job").
		WillReturnRows(sqlmock.NewRows([]string{"snapshot"}))

	_, err := store.Load(context.Background(), "missing-job")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreList(t *testing.T) {
	store, mock := newMockStore(t)

	takenAt := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(queryListCheckpoints)).
		WillReturnRows(sqlmock.NewRows([]string{"job_name", "version", "taken_at", "octet_length"}).
			AddRow("job-a", int64(4), takenAt, int64(120)).
			AddRow("job-b", int64(1), takenAt, int64(64)))

	infos, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	require.Equal(t, Info{JobName: "job-a", Version: 4, TakenAt: takenAt, Size: 120}, infos[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreDelete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(queryDeleteCheckpoint)).
		WithArgs("job-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), "job-a"))
	require.NoError(t, mock.ExpectationsWereMet())
}

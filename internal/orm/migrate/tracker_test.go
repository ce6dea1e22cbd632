package migrate

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockTracker(t *testing.T) (*Tracker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewTracker(db), mock
}

func TestTracker_Initialize(t *testing.T) {
	tracker, mock := newMockTracker(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS odm_migration_operations").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, tracker.Initialize(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTracker_RecordOperation(t *testing.T) {
	ctx := context.Background()
	tracker, mock := newMockTracker(t)
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	op := &Operation{ID: "op-1", StartedAt: started, State: StateStreaming}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO odm_migration_operations (id, started_at, state) VALUES ($1, $2, $3)")).
		WithArgs("op-1", started, "streaming").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO odm_migration_logs")).
		WithArgs("op-1", "videos@0.12.0", "videos", "0.12.0", int64(9), true, nil, started).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE odm_migration_operations SET completed_at = $1, state = $2 WHERE id = $3")).
		WithArgs(started, "completed", "op-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, tracker.Begin(ctx, op))
	require.NoError(t, tracker.RecordLog(ctx, "op-1", Log{
		MigrationID:    "videos@0.12.0",
		Collection:     "videos",
		MinimumVersion: "0.12.0",
		Migrated:       9,
		Succeeded:      true,
		CompletedAt:    started,
	}))
	op.State = StateCompleted
	op.CompletedAt = started
	require.NoError(t, tracker.Complete(ctx, op))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTracker_CompleteUnknownOperation(t *testing.T) {
	tracker, mock := newMockTracker(t)
	mock.ExpectExec("UPDATE odm_migration_operations").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := tracker.Complete(context.Background(), &Operation{ID: "missing", State: StateCompleted})
	assert.ErrorContains(t, err, "migration operation missing not found")
}

func TestTracker_Last(t *testing.T) {
	tracker, mock := newMockTracker(t)
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	done := started.Add(time.Minute)

	mock.ExpectQuery("SELECT id, started_at, completed_at, state FROM odm_migration_operations").
		WillReturnRows(sqlmock.NewRows([]string{"id", "started_at", "completed_at", "state"}).
			AddRow("op-1", started, done, "aborted"))
	mock.ExpectQuery("SELECT migration_id, collection, minimum_version, migrated, succeeded, error, completed_at FROM odm_migration_logs").
		WithArgs("op-1").
		WillReturnRows(sqlmock.NewRows([]string{"migration_id", "collection", "minimum_version", "migrated", "succeeded", "error", "completed_at"}).
			AddRow("videos@0.12.0", "videos", "0.12.0", int64(9), true, nil, done).
			AddRow("users@0.3.0", "users", "0.3.0", int64(3), false, "context canceled", done))

	op, err := tracker.Last(context.Background())
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, "op-1", op.ID)
	assert.Equal(t, StateAborted, op.State)
	assert.Equal(t, done, op.CompletedAt)
	require.Len(t, op.Logs, 2)
	assert.Equal(t, "", op.Logs[0].Error)
	assert.Equal(t, "context canceled", op.Logs[1].Error)
	assert.Equal(t, int64(12), op.Migrated())
	assert.False(t, op.Succeeded())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTracker_LastEmpty(t *testing.T) {
	tracker, mock := newMockTracker(t)
	mock.ExpectQuery("SELECT id, started_at, completed_at, state FROM odm_migration_operations").
		WillReturnRows(sqlmock.NewRows([]string{"id", "started_at", "completed_at", "state"}))

	op, err := tracker.Last(context.Background())
	require.NoError(t, err)
	assert.Nil(t, op)
}

package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Operation is one run over every migration of a context
type Operation struct {
	ID          string
	StartedAt   time.Time
	CompletedAt time.Time
	State       State
	Logs        []Log
}

// Succeeded reports whether the operation completed and every migration succeeded
func (o *Operation) Succeeded() bool {
	if o.State != StateCompleted {
		return false
	}
	for _, l := range o.Logs {
		if !l.Succeeded {
			return false
		}
	}
	return true
}

// Migrated returns the documents migrated across every log
func (o *Operation) Migrated() int64 {
	var n int64
	for _, l := range o.Logs {
		n += l.Migrated
	}
	return n
}

// Log is the outcome of one migration inside an operation
type Log struct {
	MigrationID    string
	Collection     string
	MinimumVersion string
	Migrated       int64
	Succeeded      bool
	Error          string
	CompletedAt    time.Time
}

// Recorder persists migration operations
type Recorder interface {
	Begin(ctx context.Context, op *Operation) error
	RecordLog(ctx context.Context, operationID string, l Log) error
	Complete(ctx context.Context, op *Operation) error
	// Last returns the most recent operation, or nil when none was recorded
	Last(ctx context.Context) (*Operation, error)
}

// Tracker records migration operations in a SQL database (postgres placeholders)
type Tracker struct {
	db *sql.DB
}

// NewTracker creates a new migration tracker
func NewTracker(db *sql.DB) *Tracker {
	return &Tracker{db: db}
}

// Initialize ensures the tracking tables exist
func (t *Tracker) Initialize(ctx context.Context) error {
	query := `
CREATE TABLE IF NOT EXISTS odm_migration_operations (
	id VARCHAR(36) PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	state VARCHAR(32) NOT NULL
);

CREATE TABLE IF NOT EXISTS odm_migration_logs (
	operation_id VARCHAR(36) NOT NULL REFERENCES odm_migration_operations(id),
	migration_id VARCHAR(255) NOT NULL,
	collection VARCHAR(255) NOT NULL,
	minimum_version VARCHAR(32) NOT NULL,
	migrated BIGINT NOT NULL,
	succeeded BOOLEAN NOT NULL,
	error TEXT,
	completed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_odm_migration_operations_started_at
ON odm_migration_operations(started_at);
`
	if _, err := t.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to initialize migration tables: %w", err)
	}
	return nil
}

// Begin implements Recorder
func (t *Tracker) Begin(ctx context.Context, op *Operation) error {
	query := "INSERT INTO odm_migration_operations (id, started_at, state) VALUES ($1, $2, $3)"
	if _, err := t.db.ExecContext(ctx, query, op.ID, op.StartedAt, op.State.String()); err != nil {
		return fmt.Errorf("failed to record migration operation: %w", err)
	}
	return nil
}

// RecordLog implements Recorder
func (t *Tracker) RecordLog(ctx context.Context, operationID string, l Log) error {
	query := `
INSERT INTO odm_migration_logs (operation_id, migration_id, collection, minimum_version, migrated, succeeded, error, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`
	var errText sql.NullString
	if l.Error != "" {
		errText = sql.NullString{String: l.Error, Valid: true}
	}
	_, err := t.db.ExecContext(ctx, query, operationID, l.MigrationID, l.Collection, l.MinimumVersion,
		l.Migrated, l.Succeeded, errText, l.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to record migration log: %w", err)
	}
	return nil
}

// Complete implements Recorder
func (t *Tracker) Complete(ctx context.Context, op *Operation) error {
	query := "UPDATE odm_migration_operations SET completed_at = $1, state = $2 WHERE id = $3"
	result, err := t.db.ExecContext(ctx, query, op.CompletedAt, op.State.String(), op.ID)
	if err != nil {
		return fmt.Errorf("failed to complete migration operation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("migration operation %s not found", op.ID)
	}
	return nil
}

// Last implements Recorder
func (t *Tracker) Last(ctx context.Context) (*Operation, error) {
	query := `
SELECT id, started_at, completed_at, state
FROM odm_migration_operations
ORDER BY started_at DESC
LIMIT 1
`
	op := &Operation{}
	var completed sql.NullTime
	var state string
	err := t.db.QueryRowContext(ctx, query).Scan(&op.ID, &op.StartedAt, &completed, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last migration operation: %w", err)
	}
	if completed.Valid {
		op.CompletedAt = completed.Time
	}
	op.State = parseState(state)

	rows, err := t.db.QueryContext(ctx, `
SELECT migration_id, collection, minimum_version, migrated, succeeded, error, completed_at
FROM odm_migration_logs
WHERE operation_id = $1
ORDER BY completed_at ASC
`, op.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query migration logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l Log
		var errText sql.NullString
		if err := rows.Scan(&l.MigrationID, &l.Collection, &l.MinimumVersion, &l.Migrated, &l.Succeeded, &errText, &l.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration log: %w", err)
		}
		if errText.Valid {
			l.Error = errText.String
		}
		op.Logs = append(op.Logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migration logs: %w", err)
	}
	return op, nil
}

func parseState(s string) State {
	for _, st := range []State{StateNotStarted, StateStreaming, StateCompleted, StateAborted} {
		if st.String() == s {
			return st
		}
	}
	return StateNotStarted
}

// MemoryRecorder keeps operations in process
type MemoryRecorder struct {
	mu  sync.Mutex
	ops []*Operation
}

// NewMemoryRecorder creates an empty recorder
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Begin implements Recorder
func (r *MemoryRecorder) Begin(_ context.Context, op *Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, &Operation{ID: op.ID, StartedAt: op.StartedAt, State: op.State})
	return nil
}

// RecordLog implements Recorder
func (r *MemoryRecorder) RecordLog(_ context.Context, operationID string, l Log) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op := r.find(operationID)
	if op == nil {
		return fmt.Errorf("migration operation %s not found", operationID)
	}
	op.Logs = append(op.Logs, l)
	return nil
}

// Complete implements Recorder
func (r *MemoryRecorder) Complete(_ context.Context, op *Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.find(op.ID)
	if stored == nil {
		return fmt.Errorf("migration operation %s not found", op.ID)
	}
	stored.State = op.State
	stored.CompletedAt = op.CompletedAt
	return nil
}

// Last implements Recorder
func (r *MemoryRecorder) Last(context.Context) (*Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ops) == 0 {
		return nil, nil
	}
	last := *r.ops[len(r.ops)-1]
	last.Logs = append([]Log(nil), last.Logs...)
	return &last, nil
}

func (r *MemoryRecorder) find(id string) *Operation {
	for _, op := range r.ops {
		if op.ID == id {
			return op
		}
	}
	return nil
}

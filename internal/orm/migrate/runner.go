package migrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner executes every migration of a context as one recorded operation.
// Migrations of distinct collections run concurrently, up to the configured limit.
type Runner struct {
	recorder    Recorder
	logger      *zap.Logger
	concurrency int

	mu         sync.Mutex
	migrations []*DocumentMigration
	running    bool
}

// NewRunner creates a new migration runner. concurrency below one runs migrations
// one at a time.
func NewRunner(recorder Recorder, logger *zap.Logger, concurrency int) *Runner {
	if recorder == nil {
		recorder = NewMemoryRecorder()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{recorder: recorder, logger: logger, concurrency: concurrency}
}

// Add registers migrations. Two migrations of the same collection are rejected.
func (r *Runner) Add(migrations ...*DocumentMigration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range migrations {
		for _, existing := range r.migrations {
			if existing.SourceCollection == m.SourceCollection {
				return fmt.Errorf("collection %s already has migration %s", m.SourceCollection, existing.ID)
			}
		}
		r.migrations = append(r.migrations, m)
	}
	return nil
}

// Migrations returns the registered migrations
func (r *Runner) Migrations() []*DocumentMigration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*DocumentMigration, len(r.migrations))
	copy(out, r.migrations)
	return out
}

// RunProgressFunc reports the progress of one migration of an operation
type RunProgressFunc func(migrationID string, migrated int64)

// MigrateAll runs every registered migration and records the operation.
// Failures of distinct migrations do not stop each other; the returned error joins
// them. Cancelling ctx aborts the migrations still streaming.
func (r *Runner) MigrateAll(ctx context.Context, callbackEvery int, progress RunProgressFunc) (*Operation, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, errors.New("a migration operation is already running")
	}
	r.running = true
	migrations := make([]*DocumentMigration, len(r.migrations))
	copy(migrations, r.migrations)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	op := &Operation{ID: uuid.NewString(), StartedAt: time.Now().UTC(), State: StateStreaming}
	if err := r.recorder.Begin(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to begin migration operation: %w", err)
	}
	logger := r.logger.With(zap.String("operation", op.ID))
	logger.Info("migration operation started", zap.Int("migrations", len(migrations)))

	var (
		logMu sync.Mutex
		errs  []error
	)
	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)

	for _, m := range migrations {
		m := m
		g.Go(func() error {
			var cb ProgressFunc
			if progress != nil {
				cb = func(n int64) { progress(m.ID, n) }
			}
			res, err := m.Migrate(ctx, callbackEvery, cb)

			l := Log{
				MigrationID:    m.ID,
				Collection:     m.SourceCollection,
				MinimumVersion: m.MinimumVersion.String(),
				Migrated:       res.Migrated,
				Succeeded:      res.Succeeded,
				CompletedAt:    time.Now().UTC(),
			}
			if err != nil {
				l.Error = err.Error()
			}

			logMu.Lock()
			defer logMu.Unlock()
			op.Logs = append(op.Logs, l)
			if err != nil {
				errs = append(errs, fmt.Errorf("migration %s: %w", m.ID, err))
			}
			if recErr := r.recorder.RecordLog(context.WithoutCancel(ctx), op.ID, l); recErr != nil {
				errs = append(errs, recErr)
			}
			return nil
		})
	}
	_ = g.Wait()

	op.CompletedAt = time.Now().UTC()
	op.State = StateCompleted
	if ctx.Err() != nil || len(errs) > 0 {
		op.State = StateAborted
	}
	if err := r.recorder.Complete(context.WithoutCancel(ctx), op); err != nil {
		errs = append(errs, fmt.Errorf("failed to complete migration operation: %w", err))
	}

	logger.Info("migration operation finished",
		zap.Stringer("state", op.State),
		zap.Int64("migrated", op.Migrated()),
		zap.Duration("took", op.CompletedAt.Sub(op.StartedAt)))

	return op, errors.Join(errs...)
}

// Status returns the last recorded operation, or nil when none ran yet
func (r *Runner) Status(ctx context.Context) (*Operation, error) {
	op, err := r.recorder.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get migration status: %w", err)
	}
	return op, nil
}

// Summary returns a human-readable summary
func (o *Operation) Summary() string {
	failed := 0
	for _, l := range o.Logs {
		if !l.Succeeded {
			failed++
		}
	}
	return fmt.Sprintf("Operation %s %s: %d migrations (%d failed), %d documents migrated",
		o.ID, o.State, len(o.Logs), failed, o.Migrated())
}

// Package migrate rewrites stored documents whose schema version is below the
// minimum a collection requires, and records every migration operation.
package migrate

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/odm/internal/metrics"
	"github.com/conduit-lang/odm/internal/orm/model"
	"github.com/conduit-lang/odm/internal/orm/odmerr"
	"github.com/conduit-lang/odm/internal/orm/repository"
	"github.com/conduit-lang/odm/internal/orm/semver"
)

// DefaultVersionElement is the document element storing the schema version
const DefaultVersionElement = "_v"

// State of a migration run
type State int32

const (
	StateNotStarted State = iota
	StateStreaming
	StateCompleted
	StateAborted
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Descriptor identifies one migratable collection and the version floor its
// documents must meet
type Descriptor struct {
	ID               string
	SourceCollection string
	MinimumVersion   semver.Version
}

// Result is produced once per run
type Result struct {
	ID        string
	State     State
	Succeeded bool
	Migrated  int64
	Err       error
}

// ProgressFunc is called with the number of documents migrated so far
type ProgressFunc func(migrated int64)

// Rewriter turns a stored document into its current-schema representation in place
type Rewriter func(doc model.Document) error

// DocumentMigration streams the documents of a collection below the minimum version
// and replaces each with its rewritten form. Runs process documents sequentially;
// a DocumentMigration can run again once a run finishes.
type DocumentMigration struct {
	Descriptor

	repo    repository.Repository
	element string
	rewrite Rewriter
	logger  *zap.Logger
	metrics *metrics.Metrics

	state atomic.Int32
}

// Option configures a DocumentMigration
type Option func(*DocumentMigration)

// WithVersionElement sets the element holding the version (default "_v")
func WithVersionElement(element string) Option {
	return func(m *DocumentMigration) { m.element = element }
}

// WithRewriter sets how documents are brought to the current schema. Without one
// documents are replaced as read.
func WithRewriter(fn Rewriter) Option {
	return func(m *DocumentMigration) { m.rewrite = fn }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *DocumentMigration) { m.logger = logger }
}

// WithMetrics records every run in m
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *DocumentMigration) { m.metrics = mt }
}

// NewDocumentMigration creates the migration of repo described by d
func NewDocumentMigration(d Descriptor, repo repository.Repository, opts ...Option) *DocumentMigration {
	m := &DocumentMigration{
		Descriptor: d,
		repo:       repo,
		element:    DefaultVersionElement,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ID == "" {
		m.ID = d.SourceCollection + "@" + d.MinimumVersion.String()
	}
	m.logger = m.logger.With(zap.String("migration", m.ID), zap.String("collection", d.SourceCollection))
	return m
}

// State returns the state of the current or last run
func (m *DocumentMigration) State() State { return State(m.state.Load()) }

// Migrate runs the migration. callbackEvery documents, counted from zero, progress
// is called before the next document is replaced; zero disables it and a negative
// value is an argument error.
//
// When ctx is cancelled between documents the run stops and returns its partial
// count with an Aborted result and the context error. A failed replace aborts the
// run with a Migration error; the result keeps the documents already migrated.
func (m *DocumentMigration) Migrate(ctx context.Context, callbackEvery int, progress ProgressFunc) (Result, error) {
	const op = "Migrate"
	res := Result{ID: m.ID, State: StateNotStarted}

	if callbackEvery < 0 {
		res.Err = odmerr.Argument(op, "callbackEvery must not be negative, got %d", callbackEvery)
		return res, res.Err
	}
	for {
		prev := m.state.Load()
		if State(prev) == StateStreaming {
			res.Err = odmerr.InvalidState(op, "migration %s is already running", m.ID)
			return res, res.Err
		}
		if m.state.CompareAndSwap(prev, int32(StateStreaming)) {
			break
		}
	}

	start := time.Now()
	res.State = StateStreaming
	res = m.stream(ctx, callbackEvery, progress, res)

	m.state.Store(int32(res.State))
	m.metrics.ObserveMigration(m.SourceCollection, res.State.String(), res.Migrated, time.Since(start))

	fields := []zap.Field{
		zap.Int64("migrated", res.Migrated),
		zap.Stringer("state", res.State),
		zap.Duration("took", time.Since(start)),
	}
	if res.Err != nil {
		m.logger.Warn("migration stopped", append(fields, zap.Error(res.Err))...)
	} else {
		m.logger.Info("migration completed", fields...)
	}
	return res, res.Err
}

func (m *DocumentMigration) stream(ctx context.Context, every int, progress ProgressFunc, res Result) Result {
	const op = "Migrate"
	abort := func(err error) Result {
		res.State = StateAborted
		res.Err = err
		return res
	}

	if err := ctx.Err(); err != nil {
		return abort(err)
	}

	f := VersionFilter(m.element, m.MinimumVersion)
	m.logger.Debug("streaming documents", zap.Stringer("filter", f))

	cur, err := m.repo.Find(ctx, f, repository.FindOptions{NoCursorTimeout: true})
	if err != nil {
		if ctx.Err() != nil {
			return abort(ctx.Err())
		}
		return abort(odmerr.Migration(op, err, "opening cursor on %s", m.SourceCollection))
	}
	defer func() {
		if err := cur.Close(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("failed to close cursor", zap.Error(err))
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		if !cur.Next(ctx) {
			break
		}
		doc := cur.Document()

		if every > 0 && progress != nil && res.Migrated%int64(every) == 0 {
			progress(res.Migrated)
		}

		id, ok := doc.ID()
		if !ok {
			return abort(odmerr.Migration(op, errors.New("document has no identity"), "reading %s", m.SourceCollection))
		}
		if m.rewrite != nil {
			if err := m.rewrite(doc); err != nil {
				return abort(odmerr.Migration(op, err, "rewriting document %v of %s", id, m.SourceCollection))
			}
		}
		if _, err := m.repo.ReplaceOne(ctx, id, doc, repository.ReplaceOptions{}); err != nil {
			if ctx.Err() != nil {
				return abort(ctx.Err())
			}
			return abort(odmerr.Migration(op, err, "replacing document %v of %s", id, m.SourceCollection))
		}
		res.Migrated++
	}

	if err := ctx.Err(); err != nil {
		return abort(err)
	}
	if err := cur.Err(); err != nil {
		return abort(odmerr.Migration(op, err, "streaming %s", m.SourceCollection))
	}

	res.State = StateCompleted
	res.Succeeded = true
	return res
}

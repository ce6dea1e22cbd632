// Package dbcontext assembles the registries, repositories, migrations and the
// dependency maintainer of one database into a Context.
//
// A Context is configured once at startup and then frozen:
//
//	c, _ := dbcontext.New(opts, dbcontext.WithLogger(logger), dbcontext.WithTaskRunner(pool))
//	c.RegisterRepository(users)
//	c.RegisterModelSchema(userType, semver.MustParse("0.2.0"), configureUser)
//	c.AddMigration("users", semver.MustParse("0.2.0"))
//	c.Freeze()
package dbcontext

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/conduit-lang/odm/internal/metrics"
	"github.com/conduit-lang/odm/internal/orm/discriminator"
	"github.com/conduit-lang/odm/internal/orm/maintenance"
	"github.com/conduit-lang/odm/internal/orm/migrate"
	"github.com/conduit-lang/odm/internal/orm/model"
	"github.com/conduit-lang/odm/internal/orm/odmerr"
	"github.com/conduit-lang/odm/internal/orm/repository"
	"github.com/conduit-lang/odm/internal/orm/schema"
	"github.com/conduit-lang/odm/internal/orm/semver"
	"github.com/conduit-lang/odm/internal/tasks"
)

// Context owns everything one database needs
type Context struct {
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics

	discriminators *discriminator.Registry
	schemas        *schema.Registry
	repositories   *repository.Registry
	maintainer     *maintenance.Maintainer
	runner         tasks.Runner
	recorder       migrate.Recorder

	mu         sync.Mutex
	frozen     atomic.Bool
	migrations []migrate.Descriptor
	migrator   *migrate.Runner
}

// Option configures the collaborators of a Context
type Option func(*Context)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Context) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records migration metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Context) { c.metrics = m }
}

// WithTaskRunner sets the runner receiving dependency update jobs
func WithTaskRunner(r tasks.Runner) Option {
	return func(c *Context) { c.runner = r }
}

// WithRecorder sets where migration operations are recorded
func WithRecorder(r migrate.Recorder) Option {
	return func(c *Context) { c.recorder = r }
}

// New creates a context in its configuration phase. The migration operation schema
// is registered right away.
func New(opts Options, options ...Option) (*Context, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	discriminators := discriminator.NewRegistry()
	c := &Context{
		opts:           opts,
		logger:         zap.NewNop(),
		discriminators: discriminators,
		schemas:        schema.NewRegistry(discriminators),
		repositories:   repository.NewRegistry(),
		maintainer:     maintenance.New(),
	}
	for _, o := range options {
		o(c)
	}
	c.logger = c.logger.With(zap.String("db_context", opts.Name))

	if _, err := c.schemas.RegisterMigrationLogSchema(migrate.OperationType, migrate.OperationSchemaVersion, migrate.ConfigureOperationSchema); err != nil {
		return nil, err
	}
	return c, nil
}

// Options returns the validated options
func (c *Context) Options() Options { return c.opts }

// Name returns the context name
func (c *Context) Name() string { return c.opts.Name }

// Logger returns the context logger
func (c *Context) Logger() *zap.Logger { return c.logger }

// Discriminators returns the discriminator registry
func (c *Context) Discriminators() *discriminator.Registry { return c.discriminators }

// Schemas returns the schema registry
func (c *Context) Schemas() *schema.Registry { return c.schemas }

// Repositories returns the repository registry
func (c *Context) Repositories() *repository.Registry { return c.repositories }

// Maintainer returns the dependency maintainer
func (c *Context) Maintainer() *maintenance.Maintainer { return c.maintainer }

// IsFrozen returns true once Freeze succeeded
func (c *Context) IsFrozen() bool { return c.frozen.Load() }

func (c *Context) configuring(op string) error {
	if c.frozen.Load() {
		return odmerr.InvalidState(op, "context %s is frozen", c.opts.Name)
	}
	return nil
}

// RegisterRepository adds a repository
func (c *Context) RegisterRepository(repo repository.Repository) error {
	if err := c.configuring("RegisterRepository"); err != nil {
		return err
	}
	return c.repositories.Register(repo)
}

// RegisterModelSchema registers a schema version of t
func (c *Context) RegisterModelSchema(t *model.Type, version semver.Version, configure func(*schema.Builder)) (*schema.Descriptor, error) {
	if err := c.configuring("RegisterModelSchema"); err != nil {
		return nil, err
	}
	return c.schemas.RegisterModelSchema(t, version, configure)
}

// AddDiscriminatorConvention sets the discriminator convention of t and its descendants
func (c *Context) AddDiscriminatorConvention(t *model.Type, conv discriminator.Convention) error {
	return c.discriminators.AddDiscriminatorConvention(t, conv)
}

// AddMigration declares that documents of collection older than minimum are
// rewritten by MigrateAll. The repository must be registered by Freeze.
func (c *Context) AddMigration(collection string, minimum semver.Version) error {
	const op = "AddMigration"
	if err := c.configuring(op); err != nil {
		return err
	}
	if collection == "" {
		return odmerr.Argument(op, "collection is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.migrations {
		if d.SourceCollection == collection {
			return odmerr.Configuration(op, "collection %s already migrates to %s", collection, d.MinimumVersion)
		}
	}
	c.migrations = append(c.migrations, migrate.Descriptor{SourceCollection: collection, MinimumVersion: minimum})
	return nil
}

// Freeze ends the configuration phase: the registries become read-only, the
// dependency maintainer is initialized and the migrations are built.
func (c *Context) Freeze() error {
	const op = "Freeze"

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen.Load() {
		return odmerr.InvalidState(op, "context %s is already frozen", c.opts.Name)
	}

	if graph := c.schemas.DependencyGraph(); graph != nil {
		if cycles := graph.DetectCycles(); len(cycles) > 0 {
			c.logger.Warn("summary dependency cycles detected", zap.Int("cycles", len(cycles)))
		}
	}

	recorder := c.recorder
	if recorder == nil {
		recorder = migrate.NewMemoryRecorder()
		if repo, err := c.repositories.ByName(c.opts.MigrationLogCollection); err == nil {
			recorder = migrate.NewDocumentRecorder(repo, c.opts.ElementName)
		}
	}

	migrator := migrate.NewRunner(recorder, c.logger, c.opts.MigrationConcurrency)
	for _, d := range c.migrations {
		m, err := c.documentMigration(d)
		if err != nil {
			return err
		}
		if err := migrator.Add(m); err != nil {
			return odmerr.Configuration(op, "%v", err)
		}
	}

	if c.runner == nil {
		c.runner = discardRunner{logger: c.logger}
	}
	if err := c.maintainer.Initialize(maintenance.Dependencies{
		DbContext:    c.opts.Name,
		Schemas:      c.schemas,
		Repositories: c.repositories,
		Runner:       c.runner,
		Logger:       c.logger,
	}); err != nil {
		return err
	}

	c.discriminators.Freeze()
	c.schemas.Freeze()
	c.migrator = migrator
	c.frozen.Store(true)

	c.logger.Info("db context frozen",
		zap.Int("schemas", len(c.schemas.ActiveSchemas())),
		zap.Int("repositories", len(c.repositories.All())),
		zap.Int("migrations", len(c.migrations)))
	return nil
}

func (c *Context) documentMigration(d migrate.Descriptor) (*migrate.DocumentMigration, error) {
	repo, err := c.repositories.ByName(d.SourceCollection)
	if err != nil {
		return nil, err
	}
	rewrite := migrate.SchemaRewriter(c.schemas, repo.ModelType(), c.opts.ElementName, c.opts.WriteInDocuments)
	return migrate.NewDocumentMigration(d, repo,
		migrate.WithVersionElement(c.opts.ElementName),
		migrate.WithRewriter(rewrite),
		migrate.WithLogger(c.logger),
		migrate.WithMetrics(c.metrics)), nil
}

// Migrator returns the migration runner of a frozen context
func (c *Context) Migrator() (*migrate.Runner, error) {
	if !c.frozen.Load() {
		return nil, odmerr.InvalidState("Migrator", "context %s is not frozen", c.opts.Name)
	}
	return c.migrator, nil
}

// MigrateAll runs every declared migration as one recorded operation
func (c *Context) MigrateAll(ctx context.Context, callbackEvery int, progress migrate.RunProgressFunc) (*migrate.Operation, error) {
	m, err := c.Migrator()
	if err != nil {
		return nil, err
	}
	return m.MigrateAll(ctx, callbackEvery, progress)
}

// discardRunner drops dependency update jobs of contexts configured without a runner
type discardRunner struct {
	logger *zap.Logger
}

func (r discardRunner) Enqueue(_ context.Context, kind string, _ []byte) error {
	r.logger.Warn("no task runner configured, dropping job", zap.String("kind", kind))
	return nil
}

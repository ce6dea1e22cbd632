package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"github.com/conduit-lang/odm/internal/cli/config"
	"github.com/conduit-lang/odm/internal/metrics"
	"github.com/conduit-lang/odm/internal/orm/dbcontext"
	"github.com/conduit-lang/odm/internal/orm/migrate"
	"github.com/conduit-lang/odm/internal/orm/model"
	"github.com/conduit-lang/odm/internal/orm/repository"
	"github.com/conduit-lang/odm/internal/orm/repository/mongorepo"
	"github.com/conduit-lang/odm/internal/orm/schema"
	"github.com/conduit-lang/odm/internal/orm/semver"
	"github.com/conduit-lang/odm/internal/tasks"
)

const connectTimeout = 10 * time.Second

// Backend opens the repositories of one document database
type Backend interface {
	Repository(name string, t *model.Type) repository.Repository
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// BackendFunc connects the Backend described by cfg
type BackendFunc func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Backend, error)

// OpenDBFunc opens the SQL database recording migration operations
type OpenDBFunc func(ctx context.Context, url string) (*sql.DB, error)

// SetupFunc registers an application's repositories, schemas and migrations on a
// context that is still being configured. Every collection named in the migrations
// section of the configuration must have a repository once it returns.
type SetupFunc func(a *App) error

// App is everything a command needs once the db context is frozen
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Backend  Backend
	Context  *dbcontext.Context

	closers []func(context.Context) error
}

// Close releases the connections opened for the app
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// runnerFunc builds the runner receiving dependency update jobs
type runnerFunc func(ctx context.Context, a *App) (tasks.Runner, error)

// bootstrap loads the configuration, connects the backend and freezes a db context.
// Dependency update jobs are dropped when newRunner is nil.
func (c *cli) bootstrap(ctx context.Context, newRunner runnerFunc) (app *App, err error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}

	app = &App{Config: cfg, Logger: logger, Registry: reg, Metrics: m}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
		}
	}()

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	backend, err := c.opts.Backend(connectCtx, cfg, logger)
	if err != nil {
		return app, err
	}
	app.Backend = backend
	app.onClose(backend.Close)

	dbOpts, err := cfg.DbContextOptions()
	if err != nil {
		return app, err
	}

	options := []dbcontext.Option{dbcontext.WithLogger(logger), dbcontext.WithMetrics(m)}
	if newRunner != nil {
		runner, err := newRunner(connectCtx, app)
		if err != nil {
			return app, err
		}
		options = append(options, dbcontext.WithTaskRunner(runner))
	}
	if url := cfg.Tracker.DatabaseURL; url != "" {
		db, err := c.opts.OpenDB(connectCtx, url)
		if err != nil {
			return app, err
		}
		app.onClose(func(context.Context) error { return db.Close() })

		tracker := migrate.NewTracker(db)
		if err := tracker.Initialize(connectCtx); err != nil {
			return app, err
		}
		options = append(options, dbcontext.WithRecorder(tracker))
	}

	dc, err := dbcontext.New(dbOpts, options...)
	if err != nil {
		return app, err
	}
	app.Context = dc

	if err := dc.RegisterRepository(backend.Repository(dbOpts.MigrationLogCollection, migrate.OperationType)); err != nil {
		return app, err
	}
	if err := c.opts.Setup(app); err != nil {
		return app, fmt.Errorf("setup failed: %w", err)
	}
	for _, mc := range cfg.Migrations {
		if err := dc.AddMigration(mc.Collection, semver.MustParse(mc.MinimumVersion)); err != nil {
			return app, err
		}
	}
	if err := dc.Freeze(); err != nil {
		return app, err
	}
	return app, nil
}

// RegisterConfiguredCollections is the SetupFunc of applications without their own
// model: every collection of the migrations section gets a repository and a schema
// holding only its identity at the minimum version, so migrating stamps that version.
func RegisterConfiguredCollections(a *App) error {
	for _, mc := range a.Config.Migrations {
		if _, err := a.Context.Repositories().ByName(mc.Collection); err == nil {
			continue
		}

		t := model.NewType(mc.Collection, nil)
		if err := a.Context.RegisterRepository(a.Backend.Repository(mc.Collection, t)); err != nil {
			return err
		}
		version := semver.MustParse(mc.MinimumVersion)
		if _, err := a.Context.RegisterModelSchema(t, version, func(b *schema.Builder) {
			b.ID(model.IDElement, t.Field("ID"))
		}); err != nil {
			return err
		}
	}
	return nil
}

type mongoBackend struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// MongoBackend connects to the database of the mongo section
func MongoBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Backend, error) {
	client, err := mongorepo.Connect(ctx, cfg.Mongo.URI)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to MongoDB", zap.String("database", cfg.Mongo.Database))
	return &mongoBackend{client: client, db: client.Database(cfg.Mongo.Database), logger: logger}, nil
}

func (b *mongoBackend) Repository(name string, t *model.Type) repository.Repository {
	return mongorepo.New(b.db.Collection(name), t, b.logger)
}

func (b *mongoBackend) Ping(ctx context.Context) error { return b.client.Ping(ctx, nil) }

func (b *mongoBackend) Close(ctx context.Context) error { return b.client.Disconnect(ctx) }

// OpenPostgres opens url with the pgx driver and pings it
func OpenPostgres(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open tracker database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to tracker database: %w", err)
	}
	return db, nil
}

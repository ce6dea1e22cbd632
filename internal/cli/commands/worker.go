package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conduit-lang/odm/internal/admin"
	"github.com/conduit-lang/odm/internal/cli/ui"
	"github.com/conduit-lang/odm/internal/tasks"
)

func (c *cli) newWorkerCommand() *cobra.Command {
	var (
		listen    string
		workers   int
		profiling bool
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process dependency update jobs from the redis queue",
		Long: `Process the dependency update jobs saved entities enqueue on the redis
task queue, refreshing the summaries other documents embed of them.

The worker serves /healthz and /metrics on worker.listen while it runs.
Jobs failing after every attempt are moved to the dead letter list <redis.key>:dead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			handlers := tasks.NewHandlers()
			var queue *tasks.RedisQueue

			app, err := c.bootstrap(ctx, func(ctx context.Context, a *App) (tasks.Runner, error) {
				rc := a.Config.Redis
				client, err := tasks.DialRedis(ctx, tasks.RedisConfig{
					Addr:     rc.Addr,
					Password: rc.Password,
					DB:       rc.DB,
					Key:      rc.Key,
				})
				if err != nil {
					return nil, err
				}
				a.onClose(func(context.Context) error { return client.Close() })
				queue = tasks.NewRedisQueue(client, rc.Key, handlers, a.Logger, a.Metrics)
				return queue, nil
			})
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			app.Context.Maintainer().Register(handlers)

			if listen == "" {
				listen = app.Config.Worker.Listen
			}
			if workers <= 0 {
				workers = app.Config.Worker.Concurrency
			}

			router := admin.NewRouter(admin.RouterConfig{
				Gatherer:  app.Registry,
				Profiling: profiling,
				Logger:    app.Logger,
				Checks: map[string]admin.Check{
					"redis": func(ctx context.Context) error {
						_, err := queue.Len(ctx)
						return err
					},
					"store": app.Backend.Ping,
				},
			})
			srv, err := admin.NewServer(admin.DefaultConfig(listen), router, app.Logger)
			if err != nil {
				return err
			}
			if err := srv.Listen(); err != nil {
				return err
			}

			ui.Success(cmd.OutOrStdout(), c.noColor, "Worker for %s listening on %s (%d workers, kinds: %v)",
				app.Context.Name(), srv.Addr(), workers, handlers.Kinds())

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Serve(gctx) })
			g.Go(func() error { return queue.Run(gctx, workers) })

			err = g.Wait()
			app.Logger.Info("worker stopped", zap.Error(err))
			return err
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "admin listen address (default: worker.listen)")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent jobs (default: worker.concurrency)")
	cmd.Flags().BoolVar(&profiling, "profiling", false, "serve pprof profiles under /debug/pprof")
	return cmd
}

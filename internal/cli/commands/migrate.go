package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/odm/internal/cli/ui"
	"github.com/conduit-lang/odm/internal/orm/migrate"
)

func (c *cli) newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Document migration commands",
		Long: `Run and inspect document migrations.

A migration rewrites every document of a collection whose schema version is below
the migration's minimum version. Migrations are declared in the migrations section
of odm.yaml or registered by the application.`,
	}

	cmd.AddCommand(c.newMigrateRunCommand())
	cmd.AddCommand(c.newMigrateStatusCommand())
	return cmd
}

func (c *cli) newMigrateRunCommand() *cobra.Command {
	var (
		yes   bool
		every int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every declared migration",
		Long: `Run every declared migration as one recorded operation.

Migrations of distinct collections run concurrently up to
context.migration_concurrency. Interrupting the command aborts the migrations
still running; documents already rewritten stay migrated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if every < 0 {
				return fmt.Errorf("--every must not be negative, got %d", every)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := c.bootstrap(ctx, nil)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			migrator, err := app.Context.Migrator()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			migrations := migrator.Migrations()
			if len(migrations) == 0 {
				ui.Warning(out, c.noColor, "No migrations declared")
				return nil
			}

			table := ui.NewTable(out, c.noColor, "MIGRATION", "COLLECTION", "MINIMUM")
			for _, m := range migrations {
				table.AddRow(m.ID, m.SourceCollection, m.MinimumVersion.String())
			}
			table.Render()
			fmt.Fprintln(out)

			if !yes {
				confirmed := false
				prompt := &survey.Confirm{
					Message: fmt.Sprintf("Migrate %d collections of %s?", len(migrations), app.Context.Name()),
				}
				if err := survey.AskOne(prompt, &confirmed); err != nil {
					return err
				}
				if !confirmed {
					ui.Warning(out, c.noColor, "Migration cancelled")
					return nil
				}
			}

			var progress migrate.RunProgressFunc
			if every > 0 {
				progress = ui.NewProgress(out, c.noColor).Report
			}

			op, err := app.Context.MigrateAll(ctx, every, progress)
			if op != nil {
				fmt.Fprintln(out)
				renderOperation(out, c.noColor, op)
			}
			if err != nil {
				ui.Failure(out, c.noColor, "Migration failed")
				return fmt.Errorf("migration failed: %w", err)
			}

			ui.Success(out, c.noColor, "%s", op.Summary())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.Flags().IntVar(&every, "every", 1000, "report progress every N documents (0 disables)")
	return cmd
}

func (c *cli) newMigrateStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last migration operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := c.bootstrap(ctx, nil)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			migrator, err := app.Context.Migrator()
			if err != nil {
				return err
			}
			op, err := migrator.Status(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if op == nil {
				ui.Warning(out, c.noColor, "No migration operation recorded")
				return nil
			}
			renderOperation(out, c.noColor, op)
			return nil
		},
	}
}

func renderOperation(w io.Writer, noColor bool, op *migrate.Operation) {
	completed := "-"
	if !op.CompletedAt.IsZero() {
		completed = op.CompletedAt.Format(time.RFC3339)
	}
	ui.KeyValue(w, noColor,
		[2]string{"Operation", op.ID},
		[2]string{"State", op.State.String()},
		[2]string{"Started", op.StartedAt.Format(time.RFC3339)},
		[2]string{"Completed", completed},
	)
	fmt.Fprintln(w)

	table := ui.NewTable(w, noColor, "MIGRATION", "COLLECTION", "MINIMUM", "MIGRATED", "STATUS", "ERROR")
	for _, l := range op.Logs {
		status := "succeeded"
		if !l.Succeeded {
			status = "failed"
		}
		table.AddRow(l.MigrationID, l.Collection, l.MinimumVersion, strconv.FormatInt(l.Migrated, 10), status, l.Error)
	}
	table.Render()
}

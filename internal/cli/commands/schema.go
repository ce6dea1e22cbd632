package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/odm/internal/cli/ui"
)

func (c *cli) newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect the registered schemas",
	}
	cmd.AddCommand(c.newSchemaListCommand())
	cmd.AddCommand(c.newSchemaDepsCommand())
	return cmd
}

func (c *cli) newSchemaListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the active schema of every registered type",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.bootstrap(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			active := app.Context.Schemas().ActiveSchemas()
			sort.Slice(active, func(i, j int) bool { return active[i].ID() < active[j].ID() })

			table := ui.NewTable(cmd.OutOrStdout(), c.noColor, "SCHEMA", "KIND", "VERSION", "DISCRIMINATOR", "SUMMARIES")
			for _, d := range active {
				table.AddRow(d.ID(), d.Kind().String(), d.Version().String(), d.Discriminator(), fmt.Sprint(len(d.Summaries())))
			}
			table.Render()
			return nil
		},
	}
}

func (c *cli) newSchemaDepsCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Show which types embed summaries of which",
		Long: `Show the summary dependency graph: for every type, the types embedding a
summary of it and the member paths a dependency update job rewrites.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.bootstrap(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			report := app.Context.Schemas().DependencyGraph().Report()

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Fprint(out, report.String())
			if report.HasCycles {
				ui.Warning(out, c.noColor, "%d summary cycles: saving an entity of a cyclic type can update itself", len(report.Cycles))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

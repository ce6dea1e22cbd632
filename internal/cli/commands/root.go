// Package commands implements the odm command line: running and inspecting document
// migrations, and the worker that keeps embedded summaries up to date.
package commands

import (
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// Options wires the application into the command line
type Options struct {
	// Setup registers the application model (default: RegisterConfiguredCollections)
	Setup SetupFunc

	// Backend connects the document database (default: MongoBackend)
	Backend BackendFunc

	// OpenDB opens the migration tracker database (default: OpenPostgres)
	OpenDB OpenDBFunc
}

type cli struct {
	opts       Options
	configPath string
	noColor    bool
}

// NewRootCommand creates the root command
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Setup == nil {
		opts.Setup = RegisterConfiguredCollections
	}
	if opts.Backend == nil {
		opts.Backend = MongoBackend
	}
	if opts.OpenDB == nil {
		opts.OpenDB = OpenPostgres
	}
	c := &cli{opts: opts}

	rootCmd := &cobra.Command{
		Use:   "odm",
		Short: "Document mapper migrations and summary maintenance",
		Long: color.CyanString(`odm - schema versioned document mapping

odm keeps the documents of a database in step with their schemas:
  • Versioned schemas with upgrade steps
  • Collection migrations recorded as operations
  • Embedded summaries refreshed from the referenced entities`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if c.noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default: ./odm.yaml)")
	rootCmd.PersistentFlags().BoolVar(&c.noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(c.newMigrateCommand())
	rootCmd.AddCommand(c.newWorkerCommand())
	rootCmd.AddCommand(c.newSchemaCommand())

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			out := cmd.OutOrStdout()
			titleColor := color.New(color.FgCyan, color.Bold)

			titleColor.Fprint(out, "odm version: ")
			fmt.Fprintln(out, Version)
			titleColor.Fprint(out, "Git commit: ")
			fmt.Fprintln(out, GitCommit)
			titleColor.Fprint(out, "Build date: ")
			fmt.Fprintln(out, BuildDate)
			titleColor.Fprint(out, "Go version: ")
			fmt.Fprintln(out, goVer)
		},
	}
}

// Execute runs the root command
func Execute(opts Options) error {
	rootCmd := NewRootCommand(opts)
	if err := rootCmd.Execute(); err != nil {
		errorColor := color.New(color.FgRed, color.Bold)
		errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}

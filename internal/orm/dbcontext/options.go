package dbcontext

import (
	"github.com/conduit-lang/odm/internal/orm/migrate"
	"github.com/conduit-lang/odm/internal/orm/odmerr"
	"github.com/conduit-lang/odm/internal/orm/semver"
)

// DefaultMigrationLogCollection stores the context's migration operations
const DefaultMigrationLogCollection = "_migrations"

// Options configures a Context
type Options struct {
	// Name identifies the context in dependency update jobs
	Name string `mapstructure:"name"`

	// CurrentVersion is stamped on documents of types without a registered schema
	CurrentVersion semver.Version `mapstructure:"current_version"`

	// ElementName is the document element holding the schema version
	ElementName string `mapstructure:"element_name"`

	// WriteInDocuments stamps the schema version on every written document
	WriteInDocuments bool `mapstructure:"write_in_documents"`

	// MigrationConcurrency bounds how many collections migrate at once
	MigrationConcurrency int `mapstructure:"migration_concurrency"`

	// MigrationLogCollection is the repository recording migration operations when
	// one is registered under that name
	MigrationLogCollection string `mapstructure:"migration_log_collection"`
}

// DefaultOptions returns the default options
func DefaultOptions() Options {
	return Options{
		Name:                   "default",
		CurrentVersion:         semver.MustNew(1, 0, 0),
		ElementName:            migrate.DefaultVersionElement,
		MigrationConcurrency:   1,
		MigrationLogCollection: DefaultMigrationLogCollection,
	}
}

// Validate checks the options and fills in defaults for empty fields
func (o *Options) Validate() error {
	d := DefaultOptions()
	if o.Name == "" {
		return odmerr.Configuration("Options", "context name is empty")
	}
	if o.CurrentVersion.IsZero() {
		o.CurrentVersion = d.CurrentVersion
	}
	if o.ElementName == "" {
		o.ElementName = d.ElementName
	}
	if o.MigrationConcurrency < 0 {
		return odmerr.Configuration("Options", "migration concurrency must not be negative, got %d", o.MigrationConcurrency)
	}
	if o.MigrationConcurrency == 0 {
		o.MigrationConcurrency = d.MigrationConcurrency
	}
	if o.MigrationLogCollection == "" {
		o.MigrationLogCollection = d.MigrationLogCollection
	}
	return nil
}

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/conduit-lang/odm/internal/orm/dbcontext"
	"github.com/conduit-lang/odm/internal/orm/semver"
)

// EnvPrefix prefixes environment overrides, e.g. ODM_MONGO_URI
const EnvPrefix = "ODM"

// Config represents the odm configuration
type Config struct {
	Context    ContextConfig     `mapstructure:"context"`
	Mongo      MongoConfig       `mapstructure:"mongo"`
	Tracker    TrackerConfig     `mapstructure:"tracker"`
	Redis      RedisConfig       `mapstructure:"redis"`
	Worker     WorkerConfig      `mapstructure:"worker"`
	Log        LogConfig         `mapstructure:"log"`
	Migrations []MigrationConfig `mapstructure:"migrations"`
}

// ContextConfig maps to dbcontext.Options
type ContextConfig struct {
	Name                   string `mapstructure:"name"`
	CurrentVersion         string `mapstructure:"current_version"`
	ElementName            string `mapstructure:"element_name"`
	WriteInDocuments       bool   `mapstructure:"write_in_documents"`
	MigrationConcurrency   int    `mapstructure:"migration_concurrency"`
	MigrationLogCollection string `mapstructure:"migration_log_collection"`
}

// MongoConfig represents the document store connection
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// TrackerConfig selects a postgres database recording migration operations.
// Operations are stored in the migration log collection when DatabaseURL is empty.
type TrackerConfig struct {
	DatabaseURL string `mapstructure:"database_url"`
}

// RedisConfig represents the task queue connection
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// WorkerConfig represents the background worker
type WorkerConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	Listen      string `mapstructure:"listen"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// MigrationConfig declares that a collection is migrated to a minimum version
type MigrationConfig struct {
	Collection     string `mapstructure:"collection"`
	MinimumVersion string `mapstructure:"minimum_version"`
}

// Load loads the configuration from path, or from odm.yml / odm.yaml in the working
// directory when path is empty. ODM_* environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	d := dbcontext.DefaultOptions()
	v.SetDefault("context.name", d.Name)
	v.SetDefault("context.current_version", d.CurrentVersion.String())
	v.SetDefault("context.element_name", d.ElementName)
	v.SetDefault("context.write_in_documents", true)
	v.SetDefault("context.migration_concurrency", d.MigrationConcurrency)
	v.SetDefault("context.migration_log_collection", d.MigrationLogCollection)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "odm")
	v.SetDefault("tracker.database_url", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "odm:tasks")
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.listen", ":9090")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("odm")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DbContextOptions converts the context section
func (c *Config) DbContextOptions() (dbcontext.Options, error) {
	version, err := semver.Parse(c.Context.CurrentVersion)
	if err != nil {
		return dbcontext.Options{}, fmt.Errorf("context.current_version: %w", err)
	}
	opts := dbcontext.Options{
		Name:                   c.Context.Name,
		CurrentVersion:         version,
		ElementName:            c.Context.ElementName,
		WriteInDocuments:       c.Context.WriteInDocuments,
		MigrationConcurrency:   c.Context.MigrationConcurrency,
		MigrationLogCollection: c.Context.MigrationLogCollection,
	}
	if err := opts.Validate(); err != nil {
		return dbcontext.Options{}, err
	}
	return opts, nil
}

// Logger builds the process logger
func (c *Config) Logger() (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Context.Name == "" {
		return fmt.Errorf("context.name must not be empty")
	}
	if _, err := semver.Parse(cfg.Context.CurrentVersion); err != nil {
		return fmt.Errorf("context.current_version: %w", err)
	}
	if cfg.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1, got: %d", cfg.Worker.Concurrency)
	}

	seen := make(map[string]bool)
	for i, m := range cfg.Migrations {
		if m.Collection == "" {
			return fmt.Errorf("migrations[%d].collection must not be empty", i)
		}
		if seen[m.Collection] {
			return fmt.Errorf("collection %s is migrated twice", m.Collection)
		}
		seen[m.Collection] = true
		if _, err := semver.Parse(m.MinimumVersion); err != nil {
			return fmt.Errorf("migrations[%d].minimum_version: %w", i, err)
		}
	}
	return nil
}

package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tuannm99/novadb/postgres"
	"github.com/tuannm99/novadb/sqlite"
	"xorkevin.dev/kerrors"
)

// EnvPrefix prefixes the environment variables that override the file,
// e.g. NOVADB_DSN or NOVADB_SQLITE_WORKER.
const EnvPrefix = "NOVADB"

const (
	DriverPostgres = "postgres"
	DriverSqlite   = "sqlite"
)

var (
	// ErrInvalidConfig is returned when the configuration cannot be used
	ErrInvalidConfig errInvalidConfig
)

type errInvalidConfig struct{}

func (e errInvalidConfig) Error() string {
	return "Invalid configuration"
}

type Config struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Debug  bool   `mapstructure:"debug"`

	Postgres struct {
		ApplicationName        string        `mapstructure:"application_name"`
		ConnectTimeout         time.Duration `mapstructure:"connect_timeout"`
		StatementCacheCapacity int           `mapstructure:"statement_cache_capacity"`
	} `mapstructure:"postgres"`

	Sqlite struct {
		Worker                 string `mapstructure:"worker"`
		StatementCacheCapacity int    `mapstructure:"statement_cache_capacity"`
	} `mapstructure:"sqlite"`
}

// keys are registered with defaults so that AutomaticEnv sees them during
// Unmarshal.
var defaults = map[string]any{
	"driver":                            DriverSqlite,
	"dsn":                               "",
	"debug":                             false,
	"postgres.application_name":         "novadb",
	"postgres.connect_timeout":          10 * time.Second,
	"postgres.statement_cache_capacity": 0,
	"sqlite.worker":                     "",
	"sqlite.statement_cache_capacity":   0,
}

// Load reads the YAML file at path, when path is not empty, and applies
// NOVADB_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, kerrors.WithMsg(err, fmt.Sprintf("Failed to read config %s", path))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, kerrors.WithKind(err, ErrInvalidConfig, "Failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Driver {
	case DriverPostgres:
		if c.DSN == "" {
			return kerrors.WithKind(nil, ErrInvalidConfig, "A postgres dsn is required")
		}
	case DriverSqlite:
	default:
		return kerrors.WithKind(nil, ErrInvalidConfig, fmt.Sprintf("Unknown driver %q", c.Driver))
	}
	if _, err := sqlite.ParseWorkerStrategy(c.Sqlite.Worker); err != nil {
		return kerrors.WithKind(err, ErrInvalidConfig, "Invalid sqlite worker")
	}
	return nil
}

// PostgresOptions parses the dsn and applies the postgres section on top.
func (c *Config) PostgresOptions(log *slog.Logger) (postgres.Options, error) {
	opts, err := postgres.ParseURL(c.DSN)
	if err != nil {
		return postgres.Options{}, kerrors.WithKind(err, ErrInvalidConfig, "Invalid postgres dsn")
	}
	if opts.ApplicationName == "" {
		opts.ApplicationName = c.Postgres.ApplicationName
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = c.Postgres.ConnectTimeout
	}
	if c.Postgres.StatementCacheCapacity != 0 {
		opts.StatementCacheCapacity = c.Postgres.StatementCacheCapacity
	}
	opts.Logger = log
	return opts, nil
}

// SqliteOptions parses the dsn and applies the sqlite section on top. An
// empty dsn opens a private temporary database.
func (c *Config) SqliteOptions(log *slog.Logger) (sqlite.Options, error) {
	opts, err := sqlite.ParseURL(c.DSN)
	if err != nil {
		return sqlite.Options{}, kerrors.WithKind(err, ErrInvalidConfig, "Invalid sqlite dsn")
	}
	if c.Sqlite.Worker != "" {
		if opts.Worker, err = sqlite.ParseWorkerStrategy(c.Sqlite.Worker); err != nil {
			return sqlite.Options{}, kerrors.WithKind(err, ErrInvalidConfig, "Invalid sqlite worker")
		}
	}
	if c.Sqlite.StatementCacheCapacity != 0 {
		opts.StatementCacheCapacity = c.Sqlite.StatementCacheCapacity
	}
	opts.Logger = log
	return opts, nil
}

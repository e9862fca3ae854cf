package knex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/sam-lord/knex/driver"
	"github.com/sam-lord/knex/pool"
	"github.com/sam-lord/knex/runner"
)

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	// Min is the floor kept by the idle reaper.
	Min int
	// Max caps live connections. Default: 10.
	Max int

	IdleTimeout         time.Duration
	AcquireTimeout      time.Duration
	CreateTimeout       time.Duration
	DestroyTimeout      time.Duration
	CreateRetryInterval time.Duration

	// PropagateCreateError surfaces the first create failure instead
	// of retrying until the acquire timeout.
	PropagateCreateError bool

	// AfterCreate runs once per fresh connection before first use.
	AfterCreate func(ctx context.Context, conn *pool.Connection) error
}

// LogConfig customizes the client's logging sinks.
type LogConfig struct {
	Warn            func(msg string)
	Error           func(msg string)
	Debug           func(msg string)
	Deprecate       func(old, replacement string)
	InspectionDepth int
	EnableColors    bool
}

// Config contains all client configuration options.
type Config struct {
	// Client is the dialect name (required): pg, mysql, sqlite,
	// mssql, oracle, redshift, cockroachdb or an alias.
	Client string

	// Connection is the DSN / connection URL for the dialect's
	// driver.
	Connection string

	// ConnectionProvider resolves the DSN asynchronously; used when
	// Connection is empty.
	ConnectionProvider func(ctx context.Context) (string, error)

	// Adapter overrides the database/sql-backed default, letting
	// callers plug a custom driver implementation.
	Adapter driver.Adapter

	Pool PoolConfig

	// UseNullAsDefault binds NULL for columns missing from a
	// multi-row insert (SQLite-leaning dialects do this implicitly).
	UseNullAsDefault bool

	// SearchPath sets default schemas; the first entry qualifies
	// unqualified table references.
	SearchPath []string

	// WrapIdentifier overrides the dialect's identifier quoting.
	WrapIdentifier func(segment string) string

	// PostProcessResponse is the user row post-processor.
	PostProcessResponse runner.PostProcess

	// AsyncStackTraces captures a creation stack per builder and
	// attaches it to execution errors.
	AsyncStackTraces bool

	// AcquireConnectionTimeout overrides Pool.AcquireTimeout.
	AcquireConnectionTimeout time.Duration

	Log LogConfig

	// CompileSQLOnError includes the rendered SQL in error messages.
	// Default: true.
	CompileSQLOnError *bool

	// Debug enables query debug logging.
	Debug bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	yes := true
	return Config{
		Pool: PoolConfig{
			Min:            2,
			Max:            10,
			IdleTimeout:    30 * time.Minute,
			AcquireTimeout: 60 * time.Second,
			CreateTimeout:  30 * time.Second,
		},
		CompileSQLOnError: &yes,
	}
}

// Option is a function that configures the client.
type Option func(*Config)

// WithConnection sets the DSN.
func WithConnection(dsn string) Option {
	return func(c *Config) { c.Connection = dsn }
}

// WithPool sets the pool bounds.
func WithPool(min, max int) Option {
	return func(c *Config) {
		c.Pool.Min = min
		c.Pool.Max = max
	}
}

// WithDebug enables query debug logging.
func WithDebug() Option {
	return func(c *Config) { c.Debug = true }
}

// WithSearchPath sets the default schemas.
func WithSearchPath(schemas ...string) Option {
	return func(c *Config) { c.SearchPath = schemas }
}

func (c *Config) validate() error {
	if c.Client == "" {
		return fmt.Errorf("%w: client is required", ErrConfig)
	}
	if c.Pool.Min < 0 || c.Pool.Max < 0 {
		return fmt.Errorf("%w: pool bounds must be non-negative", ErrConfig)
	}
	if c.Pool.Max > 0 && c.Pool.Min > c.Pool.Max {
		return fmt.Errorf("%w: pool min %d exceeds max %d", ErrConfig, c.Pool.Min, c.Pool.Max)
	}
	if c.Connection == "" && c.ConnectionProvider == nil && c.Adapter == nil {
		return fmt.Errorf("%w: connection is required", ErrConfig)
	}
	return nil
}

// LoadConfig reads a knexfile (knexfile.yaml/json/toml) from path or,
// when path is empty, from the working directory, ~/.config/knex or
// the home directory, after loading a .env file from the working
// directory when present. Environment variables referenced in the
// connection value are expanded from the process environment.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("knexfile")
	if path != "" {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			v.SetConfigFile(path)
		} else {
			v.AddConfigPath(path)
		}
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "knex"))
			v.AddConfigPath(home)
		}
	}
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	cfg := DefaultConfig()
	cfg.Client = v.GetString("client")
	cfg.Connection = os.ExpandEnv(v.GetString("connection"))
	cfg.Debug = v.GetBool("debug")
	cfg.UseNullAsDefault = v.GetBool("useNullAsDefault")
	cfg.SearchPath = v.GetStringSlice("searchPath")
	if v.IsSet("pool.min") {
		cfg.Pool.Min = v.GetInt("pool.min")
	}
	if v.IsSet("pool.max") {
		cfg.Pool.Max = v.GetInt("pool.max")
	}
	if v.IsSet("pool.idleTimeoutMs") {
		cfg.Pool.IdleTimeout = time.Duration(v.GetInt("pool.idleTimeoutMs")) * time.Millisecond
	}
	if v.IsSet("pool.acquireTimeoutMs") {
		cfg.Pool.AcquireTimeout = time.Duration(v.GetInt("pool.acquireTimeoutMs")) * time.Millisecond
	}
	if v.IsSet("pool.createTimeoutMs") {
		cfg.Pool.CreateTimeout = time.Duration(v.GetInt("pool.createTimeoutMs")) * time.Millisecond
	}
	if v.IsSet("pool.propagateCreateError") {
		cfg.Pool.PropagateCreateError = v.GetBool("pool.propagateCreateError")
	}
	if v.IsSet("compileSqlOnError") {
		b := v.GetBool("compileSqlOnError")
		cfg.CompileSQLOnError = &b
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

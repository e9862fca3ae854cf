package knex

import (
	"context"
	"fmt"
	runtimedebug "runtime/debug"
	"time"

	"github.com/sam-lord/knex/dialect"
	"github.com/sam-lord/knex/driver"
	"github.com/sam-lord/knex/internal/debug"
	"github.com/sam-lord/knex/pool"
	"github.com/sam-lord/knex/query/ast"
	"github.com/sam-lord/knex/query/builder"
	"github.com/sam-lord/knex/query/compiler"
	"github.com/sam-lord/knex/runner"
)

// Client is the query-builder factory and execution runtime for one
// database. Independent chains built from the same client run
// concurrently, serialized only at the connection level.
type Client struct {
	cfg     Config
	d       *dialect.Dialect
	adapter driver.Adapter
	pool    *pool.Pool
	run     *runner.Runner
	events  *Emitter
}

// New constructs a client: resolves the dialect, opens the driver
// adapter and starts the connection pool. Unknown dialect names and
// invalid pool bounds fail fast.
func New(cfg Config, opts ...Option) (*Client, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	d, err := dialect.Get(cfg.Client)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	debug.Init(cfg.Debug, cfg.Log.EnableColors)

	adapter := cfg.Adapter
	if adapter == nil {
		dsn := cfg.Connection
		if dsn == "" && cfg.ConnectionProvider != nil {
			dsn, err = cfg.ConnectionProvider(context.Background())
			if err != nil {
				return nil, fmt.Errorf("%w: connection provider: %v", ErrConfig, err)
			}
		}
		adapter, err = driver.NewSQLAdapter(d, dsn)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}

	c := &Client{cfg: cfg, d: d, adapter: adapter, events: &Emitter{}}

	acquireTimeout := cfg.Pool.AcquireTimeout
	if cfg.AcquireConnectionTimeout > 0 {
		acquireTimeout = cfg.AcquireConnectionTimeout
	}
	c.pool = pool.New(pool.Config{
		Min:                  cfg.Pool.Min,
		Max:                  cfg.Pool.Max,
		IdleTimeout:          cfg.Pool.IdleTimeout,
		AcquireTimeout:       acquireTimeout,
		CreateTimeout:        cfg.Pool.CreateTimeout,
		DestroyTimeout:       cfg.Pool.DestroyTimeout,
		CreateRetryInterval:  cfg.Pool.CreateRetryInterval,
		PropagateCreateError: cfg.Pool.PropagateCreateError,
		Create: func(ctx context.Context) (interface{}, error) {
			return adapter.AcquireRawConnection(ctx)
		},
		Destroy: func(raw interface{}) error {
			return adapter.DestroyRawConnection(raw)
		},
		Validate: func(ctx context.Context, raw interface{}) bool {
			return adapter.ValidateConnection(ctx, raw)
		},
		AfterCreate: cfg.Pool.AfterCreate,
	})

	compileOnError := cfg.CompileSQLOnError == nil || *cfg.CompileSQLOnError
	c.run = runner.New(adapter, d, runner.Events{
		Query: func(p runner.Payload) {
			if cfg.Log.Debug != nil {
				cfg.Log.Debug(p.SQL)
			} else {
				debug.Debug("query", "uid", p.UID, "txid", p.TxID, "sql", p.SQL, "bindings", p.Bindings, "method", p.Method)
			}
			c.events.emitQuery(p)
		},
		Response: func(p runner.Payload, r *driver.Result) {
			c.events.emitResponse(p, r)
		},
		Error: func(p runner.Payload, err error) {
			if cfg.Log.Error != nil {
				cfg.Log.Error(err.Error())
			} else {
				debug.Error("query-error", "uid", p.UID, "sql", p.SQL, "err", err)
			}
			c.events.emitError(p, err)
		},
	}, runner.Options{
		PostProcess:       cfg.PostProcessResponse,
		CompileSQLOnError: compileOnError,
	})

	c.events.emitStart()
	return c, nil
}

// Dialect returns the resolved dialect.
func (c *Client) Dialect() *dialect.Dialect {
	return c.d
}

// Events exposes the lifecycle event emitter.
func (c *Client) Events() *Emitter {
	return c.events
}

// Stats returns a snapshot of the connection pool.
func (c *Client) Stats() pool.Stats {
	return c.pool.Stats()
}

// compilerOptions derives the per-builder compile options.
func (c *Client) compilerOptions() compiler.Options {
	return compiler.Options{
		WrapIdentifier:   c.cfg.WrapIdentifier,
		UseNullAsDefault: c.cfg.UseNullAsDefault,
	}
}

// Table starts a builder chain against the given table.
func (c *Client) Table(name string) *builder.Builder {
	b := builder.New(name, c.d, c.compilerOptions(), &clientExec{c})
	if len(c.cfg.SearchPath) > 0 {
		b.WithSchema(c.cfg.SearchPath[0])
	}
	if c.cfg.AsyncStackTraces {
		b.WithCreationStack(runtimedebug.Stack())
	}
	return b
}

// Raw starts a raw query chain; "?" marks placeholders, `\?` a
// literal question mark.
func (c *Client) Raw(sql string, bindings ...interface{}) *builder.Builder {
	b := builder.New("", c.d, c.compilerOptions(), &clientExec{c})
	q := b.Query()
	q.Method = ast.MethodRaw
	q.RawSQL = builder.Raw(sql, bindings...)
	if c.cfg.AsyncStackTraces {
		b.WithCreationStack(runtimedebug.Stack())
	}
	return b
}

// Ping validates a pooled connection.
func (c *Client) Ping(ctx context.Context) error {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	ok := c.adapter.ValidateConnection(ctx, conn.Raw)
	if !ok {
		c.pool.Destroy(conn)
		return fmt.Errorf("%w: validation failed", ErrConnection)
	}
	c.pool.Release(conn)
	return nil
}

// Destroy tears the client down: the pool first, then the adapter.
func (c *Client) Destroy() error {
	c.pool.Close()
	if closer, ok := c.adapter.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// clientExec runs free-standing chains through the pool.
type clientExec struct {
	c *Client
}

func (e *clientExec) Run(ctx context.Context, compiled *compiler.Compiled, timeout time.Duration, cancelOnTimeout bool) (*runner.Response, error) {
	return e.c.run.Run(ctx, compiled, &poolSource{pool: e.c.pool}, timeout, cancelOnTimeout)
}

func (e *clientExec) Stream(ctx context.Context, compiled *compiler.Compiled, sink func(driver.Row) error) error {
	return e.c.run.Stream(ctx, compiled, &poolSource{pool: e.c.pool}, sink)
}

// poolSource acquires one connection per execution and returns it on
// release; connection-kind failures destroy it instead.
type poolSource struct {
	pool *pool.Pool
}

func (s *poolSource) Conn(ctx context.Context) (*pool.Connection, func(error), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	release := func(execErr error) {
		if execErr != nil && runner.IsConnection(execErr) {
			s.pool.Destroy(conn)
			return
		}
		s.pool.Release(conn)
	}
	return conn, release, nil
}

func (s *poolSource) TxID() string { return "" }

package knex

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sam-lord/knex/driver"
	"github.com/sam-lord/knex/pool"
	"github.com/sam-lord/knex/query/ast"
	"github.com/sam-lord/knex/query/builder"
	"github.com/sam-lord/knex/query/compiler"
	"github.com/sam-lord/knex/runner"
)

// TxState tracks the transaction state machine.
type TxState string

const (
	TxOpen       TxState = "open"
	TxCommitted  TxState = "committed"
	TxRolledBack TxState = "rolled-back"
)

// TxOptions configure a transaction.
type TxOptions struct {
	// IsolationLevel is issued with BEGIN ("read committed",
	// "repeatable read", "serializable", ...).
	IsolationLevel string

	// ReadOnly marks the transaction read-only where supported.
	ReadOnly bool

	// DoNotRejectOnRollback makes a manual rollback inside a scope
	// resolve the scope instead of failing it.
	DoNotRejectOnRollback bool
}

// TxOption mutates TxOptions.
type TxOption func(*TxOptions)

// WithIsolation sets the isolation level.
func WithIsolation(level string) TxOption {
	return func(o *TxOptions) { o.IsolationLevel = level }
}

// WithReadOnly marks the transaction read-only.
func WithReadOnly() TxOption {
	return func(o *TxOptions) { o.ReadOnly = true }
}

// WithDoNotRejectOnRollback resolves rather than rejects a scope
// whose transaction was rolled back without an error.
func WithDoNotRejectOnRollback() TxOption {
	return func(o *TxOptions) { o.DoNotRejectOnRollback = true }
}

// Tx is a transaction pinned to one connection. It is a builder root
// like the client; chains built from it run on the pinned connection
// and observe the transaction's isolation. No concurrent sibling may
// borrow the connection.
type Tx struct {
	client *Client
	conn   *pool.Connection
	id     string
	opts   TxOptions

	mu         sync.Mutex
	state      TxState
	savepoints []string
	spCounter  int
}

// BeginTx opens a caller-managed transaction (the transaction
// provider API): the caller must Commit or Rollback.
func (c *Client) BeginTx(ctx context.Context, opts ...TxOption) (*Tx, error) {
	var o TxOptions
	for _, opt := range opts {
		opt(&o)
	}
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransaction, err)
	}
	if err := c.adapter.BeginTransaction(ctx, conn.Raw, driver.TxConfig{
		IsolationLevel: o.IsolationLevel,
		ReadOnly:       o.ReadOnly,
	}); err != nil {
		c.pool.Destroy(conn)
		return nil, fmt.Errorf("%w: begin: %v", ErrTransaction, err)
	}
	tx := &Tx{client: c, conn: conn, id: uuid.NewString(), opts: o, state: TxOpen}
	conn.TxID = tx.id
	return tx, nil
}

// Transaction runs scope inside a transaction: commit on a nil
// return, rollback on error or panic.
func (c *Client) Transaction(ctx context.Context, scope func(tx *Tx) error, opts ...TxOption) error {
	tx, err := c.BeginTx(ctx, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()
	if err := scope(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	tx.mu.Lock()
	state := tx.state
	tx.mu.Unlock()
	switch state {
	case TxOpen:
		return tx.Commit(ctx)
	case TxRolledBack:
		if tx.opts.DoNotRejectOnRollback {
			return nil
		}
		return fmt.Errorf("%w: transaction was rolled back", ErrTransaction)
	}
	return nil
}

// ID returns the transaction id carried in event payloads.
func (tx *Tx) ID() string { return tx.id }

// State returns the current state.
func (tx *Tx) State() TxState {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// Commit commits and returns the connection to the pool.
func (tx *Tx) Commit(ctx context.Context) error {
	tx.mu.Lock()
	if tx.state != TxOpen {
		tx.mu.Unlock()
		return fmt.Errorf("%w: commit on %s transaction", ErrTransaction, tx.state)
	}
	tx.state = TxCommitted
	tx.mu.Unlock()

	err := tx.client.adapter.Commit(ctx, tx.conn.Raw)
	tx.unpin(err)
	if err != nil {
		return fmt.Errorf("%w: commit: %v", ErrTransaction, err)
	}
	return nil
}

// Rollback rolls back and returns the connection to the pool.
func (tx *Tx) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	if tx.state != TxOpen {
		tx.mu.Unlock()
		return fmt.Errorf("%w: rollback on %s transaction", ErrTransaction, tx.state)
	}
	tx.state = TxRolledBack
	tx.mu.Unlock()

	err := tx.client.adapter.Rollback(ctx, tx.conn.Raw)
	tx.unpin(err)
	if err != nil {
		return fmt.Errorf("%w: rollback: %v", ErrTransaction, err)
	}
	return nil
}

// unpin releases the pinned connection; failed finalization destroys
// it rather than returning a connection in an unknown state.
func (tx *Tx) unpin(err error) {
	tx.conn.TxID = ""
	tx.conn.Depth = 0
	if err != nil {
		tx.client.pool.Destroy(tx.conn)
		return
	}
	tx.client.pool.Release(tx.conn)
}

// Savepoint creates a named savepoint; the name is returned for
// RollbackTo / ReleaseSavepoint.
func (tx *Tx) Savepoint(ctx context.Context) (string, error) {
	tx.mu.Lock()
	if tx.state != TxOpen {
		tx.mu.Unlock()
		return "", fmt.Errorf("%w: savepoint on %s transaction", ErrTransaction, tx.state)
	}
	tx.spCounter++
	name := fmt.Sprintf("sp_%d", tx.spCounter)
	tx.savepoints = append(tx.savepoints, name)
	tx.conn.Depth++
	tx.mu.Unlock()

	if err := tx.client.adapter.Savepoint(ctx, tx.conn.Raw, name); err != nil {
		tx.popSavepoint(name)
		return "", fmt.Errorf("%w: savepoint: %v", ErrTransaction, err)
	}
	return name, nil
}

// RollbackTo reverts to a savepoint; only the nested work since the
// savepoint is undone.
func (tx *Tx) RollbackTo(ctx context.Context, name string) error {
	if err := tx.requireOpen("rollback to savepoint"); err != nil {
		return err
	}
	if err := tx.client.adapter.RollbackToSavepoint(ctx, tx.conn.Raw, name); err != nil {
		return fmt.Errorf("%w: rollback to savepoint: %v", ErrTransaction, err)
	}
	tx.popSavepoint(name)
	return nil
}

// ReleaseSavepoint releases a savepoint, keeping its work.
func (tx *Tx) ReleaseSavepoint(ctx context.Context, name string) error {
	if err := tx.requireOpen("release savepoint"); err != nil {
		return err
	}
	if err := tx.client.adapter.ReleaseSavepoint(ctx, tx.conn.Raw, name); err != nil {
		return fmt.Errorf("%w: release savepoint: %v", ErrTransaction, err)
	}
	tx.popSavepoint(name)
	return nil
}

// Transaction nests a scope as a savepoint: released on success,
// rolled back to on failure.
func (tx *Tx) Transaction(ctx context.Context, scope func(tx *Tx) error) error {
	name, err := tx.Savepoint(ctx)
	if err != nil {
		return err
	}
	if err := scope(tx); err != nil {
		if rbErr := tx.RollbackTo(ctx, name); rbErr != nil {
			return rbErr
		}
		return err
	}
	return tx.ReleaseSavepoint(ctx, name)
}

func (tx *Tx) requireOpen(op string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != TxOpen {
		return fmt.Errorf("%w: %s on %s transaction", ErrTransaction, op, tx.state)
	}
	return nil
}

func (tx *Tx) popSavepoint(name string) {
	tx.mu.Lock()
	for i := len(tx.savepoints) - 1; i >= 0; i-- {
		if tx.savepoints[i] == name {
			tx.savepoints = tx.savepoints[:i]
			if tx.conn.Depth > i {
				tx.conn.Depth = i
			}
			break
		}
	}
	tx.mu.Unlock()
}

// Table starts a builder chain bound to the transaction's pinned
// connection.
func (tx *Tx) Table(name string) *builder.Builder {
	b := builder.New(name, tx.client.d, tx.client.compilerOptions(), &txExec{tx})
	if len(tx.client.cfg.SearchPath) > 0 {
		b.WithSchema(tx.client.cfg.SearchPath[0])
	}
	return b
}

// Raw starts a raw query chain bound to the transaction.
func (tx *Tx) Raw(sql string, bindings ...interface{}) *builder.Builder {
	b := builder.New("", tx.client.d, tx.client.compilerOptions(), &txExec{tx})
	q := b.Query()
	q.Method = ast.MethodRaw
	q.RawSQL = builder.Raw(sql, bindings...)
	return b
}

// txExec runs transaction-bound chains on the pinned connection.
type txExec struct {
	tx *Tx
}

func (e *txExec) Run(ctx context.Context, compiled *compiler.Compiled, timeout time.Duration, cancelOnTimeout bool) (*runner.Response, error) {
	return e.tx.client.run.Run(ctx, compiled, &txSource{tx: e.tx}, timeout, cancelOnTimeout)
}

func (e *txExec) Stream(ctx context.Context, compiled *compiler.Compiled, sink func(driver.Row) error) error {
	return e.tx.client.run.Stream(ctx, compiled, &txSource{tx: e.tx}, sink)
}

// txSource hands out the pinned connection; release is a no-op since
// the transaction owns the connection until commit or rollback. A
// connection-kind failure poisons the transaction.
type txSource struct {
	tx *Tx
}

func (s *txSource) Conn(ctx context.Context) (*pool.Connection, func(error), error) {
	s.tx.mu.Lock()
	if s.tx.state != TxOpen {
		state := s.tx.state
		s.tx.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: query on %s transaction", ErrTransaction, state)
	}
	s.tx.mu.Unlock()
	release := func(execErr error) {
		if execErr != nil && runner.IsConnection(execErr) {
			s.tx.mu.Lock()
			poisoned := s.tx.state == TxOpen
			s.tx.state = TxRolledBack
			s.tx.mu.Unlock()
			if poisoned {
				// the server-side transaction is gone with the
				// connection; drop it rather than pool it
				s.tx.conn.TxID = ""
				s.tx.conn.Depth = 0
				s.tx.client.pool.Destroy(s.tx.conn)
			}
		}
	}
	return s.tx.conn, release, nil
}

func (s *txSource) TxID() string { return s.tx.id }

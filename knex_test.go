package knex_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	knex "github.com/sam-lord/knex"
	"github.com/sam-lord/knex/driver"
	"github.com/sam-lord/knex/query/compiler"
)

// memAdapter is an in-memory driver.Adapter recording every call, so
// client and transaction behavior is observable without a database.
type memAdapter struct {
	mu         sync.Mutex
	conns      int
	statements []string
	execErr    error
	result     driver.Result
}

type memConn struct {
	id   int
	inTx bool
}

func (m *memAdapter) log(s string) {
	m.mu.Lock()
	m.statements = append(m.statements, s)
	m.mu.Unlock()
}

func (m *memAdapter) Statements() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statements...)
}

func (m *memAdapter) AcquireRawConnection(ctx context.Context) (driver.Conn, error) {
	m.mu.Lock()
	m.conns++
	id := m.conns
	m.mu.Unlock()
	return &memConn{id: id}, nil
}

func (m *memAdapter) DestroyRawConnection(conn driver.Conn) error { return nil }

func (m *memAdapter) ValidateConnection(ctx context.Context, conn driver.Conn) bool { return true }

func (m *memAdapter) Execute(ctx context.Context, conn driver.Conn, q *compiler.Compiled) (*driver.Result, error) {
	m.log(q.SQL)
	if m.execErr != nil {
		return nil, m.execErr
	}
	res := m.result
	res.Context = q.Context
	return &res, nil
}

func (m *memAdapter) Stream(ctx context.Context, conn driver.Conn, q *compiler.Compiled, sink func(driver.Row) error) error {
	m.log(q.SQL)
	for _, row := range m.result.Rows {
		if err := sink(row); err != nil {
			return err
		}
	}
	return nil
}

func (m *memAdapter) BeginTransaction(ctx context.Context, conn driver.Conn, cfg driver.TxConfig) error {
	c := conn.(*memConn)
	if c.inTx {
		return errors.New("nested begin")
	}
	c.inTx = true
	stmt := "BEGIN"
	if cfg.IsolationLevel != "" {
		stmt += " isolation " + cfg.IsolationLevel
	}
	if cfg.ReadOnly {
		stmt += " read only"
	}
	m.log(stmt)
	return nil
}

func (m *memAdapter) Commit(ctx context.Context, conn driver.Conn) error {
	conn.(*memConn).inTx = false
	m.log("COMMIT")
	return nil
}

func (m *memAdapter) Rollback(ctx context.Context, conn driver.Conn) error {
	conn.(*memConn).inTx = false
	m.log("ROLLBACK")
	return nil
}

func (m *memAdapter) Savepoint(ctx context.Context, conn driver.Conn, name string) error {
	m.log("SAVEPOINT " + name)
	return nil
}

func (m *memAdapter) ReleaseSavepoint(ctx context.Context, conn driver.Conn, name string) error {
	m.log("RELEASE " + name)
	return nil
}

func (m *memAdapter) RollbackToSavepoint(ctx context.Context, conn driver.Conn, name string) error {
	m.log("ROLLBACK TO " + name)
	return nil
}

func (m *memAdapter) PositionBindings(sql string) string { return sql }

func (m *memAdapter) PrepBindings(values []interface{}) []interface{} { return values }

func newClient(t *testing.T, adapter *memAdapter) *knex.Client {
	t.Helper()
	cfg := knex.DefaultConfig()
	cfg.Client = "pg"
	cfg.Adapter = adapter
	cfg.Pool.Max = 4
	client, err := knex.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Destroy() })
	return client
}

func TestNewUnknownClientFailsFast(t *testing.T) {
	cfg := knex.DefaultConfig()
	cfg.Client = "dbase"
	cfg.Connection = "x"
	_, err := knex.New(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, knex.ErrConfig)
}

func TestNewRequiresClientAndConnection(t *testing.T) {
	_, err := knex.New(knex.Config{})
	assert.ErrorIs(t, err, knex.ErrConfig)

	cfg := knex.DefaultConfig()
	cfg.Client = "pg"
	_, err = knex.New(cfg)
	assert.ErrorIs(t, err, knex.ErrConfig)
}

func TestInvalidPoolBounds(t *testing.T) {
	cfg := knex.DefaultConfig()
	cfg.Client = "pg"
	cfg.Connection = "x"
	cfg.Pool.Min = 9
	cfg.Pool.Max = 2
	_, err := knex.New(cfg)
	assert.ErrorIs(t, err, knex.ErrConfig)
}

func TestTableChainExecutes(t *testing.T) {
	adapter := &memAdapter{result: driver.Result{Rows: []driver.Row{{"name": "a"}}}}
	client := newClient(t, adapter)

	rows, err := client.Table("users").Where("id", 1).Select("name").Rows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{`select "name" from "users" where "id" = $1`}, adapter.Statements())
}

func TestRawChainExecutes(t *testing.T) {
	adapter := &memAdapter{result: driver.Result{Affected: 2}}
	client := newClient(t, adapter)

	res, err := client.Raw("update t set a = ? where b = ?", 1, 2).Exec(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Affected)
	assert.Equal(t, []string{"update t set a = $1 where b = $2"}, adapter.Statements())
}

func TestQueryEventsEmitted(t *testing.T) {
	adapter := &memAdapter{}
	client := newClient(t, adapter)

	var events []string
	client.Events().OnQuery(func(p knex.QueryPayload) {
		events = append(events, "query:"+p.SQL)
		assert.NotEmpty(t, p.UID)
	})
	client.Events().OnQueryResponse(func(p knex.QueryPayload, r *driver.Result) {
		events = append(events, "response")
	})

	_, err := client.Table("t").Rows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{`query:select * from "t"`, "response"}, events)
}

func TestConnectionsReturnToBaseline(t *testing.T) {
	adapter := &memAdapter{}
	client := newClient(t, adapter)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = client.Table("t").Rows(ctx)
		}()
	}
	wg.Wait()

	stats := client.Stats()
	assert.Zero(t, stats.InUse)
	assert.Zero(t, stats.Waiters)
	assert.LessOrEqual(t, stats.Open, 4)
}

func TestTransactionScopeCommits(t *testing.T) {
	adapter := &memAdapter{}
	client := newClient(t, adapter)

	err := client.Transaction(context.Background(), func(tx *knex.Tx) error {
		_, err := tx.Table("t").Insert(map[string]interface{}{"a": 1}).Exec(context.Background())
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"BEGIN", `insert into "t" ("a") values ($1)`, "COMMIT"}, adapter.Statements())
}

func TestTransactionScopeRollsBackOnError(t *testing.T) {
	adapter := &memAdapter{}
	client := newClient(t, adapter)

	boom := errors.New("boom")
	err := client.Transaction(context.Background(), func(tx *knex.Tx) error {
		if _, err := tx.Table("t").Insert(map[string]interface{}{"a": 1}).Exec(context.Background()); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	// exactly one BEGIN, one INSERT, one ROLLBACK; nothing else
	assert.Equal(t, []string{"BEGIN", `insert into "t" ("a") values ($1)`, "ROLLBACK"}, adapter.Statements())
}

func TestTransactionRefusesAfterClose(t *testing.T) {
	adapter := &memAdapter{}
	client := newClient(t, adapter)

	ctx := context.Background()
	tx, err := client.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	_, err = tx.Table("t").Insert(map[string]interface{}{"a": 1}).Exec(ctx)
	assert.ErrorIs(t, err, knex.ErrTransaction)

	err = tx.Commit(ctx)
	assert.ErrorIs(t, err, knex.ErrTransaction)
	err = tx.Rollback(ctx)
	assert.ErrorIs(t, err, knex.ErrTransaction)
}

func TestTransactionIsolationAndReadOnly(t *testing.T) {
	adapter := &memAdapter{}
	client := newClient(t, adapter)

	err := client.Transaction(context.Background(), func(tx *knex.Tx) error { return nil },
		knex.WithIsolation("serializable"), knex.WithReadOnly())
	require.NoError(t, err)
	assert.Equal(t, []string{"BEGIN isolation serializable read only", "COMMIT"}, adapter.Statements())
}

func TestNestedTransactionUsesSavepoints(t *testing.T) {
	adapter := &memAdapter{}
	client := newClient(t, adapter)

	ctx := context.Background()
	err := client.Transaction(ctx, func(tx *knex.Tx) error {
		inner := tx.Transaction(ctx, func(tx *knex.Tx) error {
			return errors.New("undo inner")
		})
		assert.Error(t, inner)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"BEGIN", "SAVEPOINT sp_1", "ROLLBACK TO sp_1", "COMMIT"}, adapter.Statements())
}

func TestManualRollbackWithDoNotReject(t *testing.T) {
	adapter := &memAdapter{}
	client := newClient(t, adapter)

	ctx := context.Background()
	err := client.Transaction(ctx, func(tx *knex.Tx) error {
		return tx.Rollback(ctx)
	}, knex.WithDoNotRejectOnRollback())
	require.NoError(t, err)

	err = client.Transaction(ctx, func(tx *knex.Tx) error {
		return tx.Rollback(ctx)
	})
	assert.ErrorIs(t, err, knex.ErrTransaction)
}

func TestTransactionPinsOneConnection(t *testing.T) {
	adapter := &memAdapter{}
	client := newClient(t, adapter)

	ctx := context.Background()
	err := client.Transaction(ctx, func(tx *knex.Tx) error {
		for i := 0; i < 3; i++ {
			if _, err := tx.Raw(fmt.Sprintf("select %d", i)).Exec(ctx); err != nil {
				return err
			}
		}
		// the pinned connection is not available to the pool
		assert.Equal(t, 1, client.Stats().InUse)
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, client.Stats().InUse)
}

func TestStreamThroughClient(t *testing.T) {
	adapter := &memAdapter{result: driver.Result{Rows: []driver.Row{{"n": 1}, {"n": 2}}}}
	client := newClient(t, adapter)

	var got []interface{}
	err := client.Table("t").Stream(context.Background(), func(row driver.Row) error {
		got = append(got, row["n"])
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2}, got)
}

func TestTimeoutSurfacesTimeoutError(t *testing.T) {
	adapter := &memAdapter{}
	client := newClient(t, adapter)

	slow := &slowAdapter{memAdapter: adapter, delay: 200 * time.Millisecond}
	cfg := knex.DefaultConfig()
	cfg.Client = "pg"
	cfg.Adapter = slow
	c2, err := knex.New(cfg)
	require.NoError(t, err)
	defer c2.Destroy()

	_, err = c2.Table("t").Timeout(20 * time.Millisecond).Rows(context.Background())
	require.Error(t, err)
	assert.True(t, knex.IsTimeout(err))
	_ = client
}

type slowAdapter struct {
	*memAdapter
	delay time.Duration
}

func (s *slowAdapter) Execute(ctx context.Context, conn driver.Conn, q *compiler.Compiled) (*driver.Result, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.memAdapter.Execute(ctx, conn, q)
}

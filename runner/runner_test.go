package runner_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sam-lord/knex/dialect"
	"github.com/sam-lord/knex/driver"
	"github.com/sam-lord/knex/pool"
	"github.com/sam-lord/knex/query/ast"
	"github.com/sam-lord/knex/query/compiler"
	"github.com/sam-lord/knex/runner"
)

// fakeAdapter records executions and plays back canned results.
type fakeAdapter struct {
	driver.Adapter // panic on unimplemented calls

	mu       sync.Mutex
	executed []string
	result   *driver.Result
	err      error
	delay    time.Duration
	rows     []driver.Row
}

func (f *fakeAdapter) Execute(ctx context.Context, conn driver.Conn, q *compiler.Compiled) (*driver.Result, error) {
	f.mu.Lock()
	f.executed = append(f.executed, q.SQL)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		res := *f.result
		res.Context = q.Context
		return &res, nil
	}
	return &driver.Result{Context: q.Context}, nil
}

func (f *fakeAdapter) Stream(ctx context.Context, conn driver.Conn, q *compiler.Compiled, sink func(driver.Row) error) error {
	for _, row := range f.rows {
		if err := sink(row); err != nil {
			return err
		}
	}
	return nil
}

// fakeSource hands out a fixed connection.
type fakeSource struct {
	conn     *pool.Connection
	txid     string
	released bool
	relErr   error
}

func (s *fakeSource) Conn(ctx context.Context) (*pool.Connection, func(error), error) {
	return s.conn, func(err error) {
		s.released = true
		s.relErr = err
	}, nil
}

func (s *fakeSource) TxID() string { return s.txid }

func newRunner(a driver.Adapter, events runner.Events, opts runner.Options) *runner.Runner {
	return runner.New(a, dialect.SQLite, events, opts)
}

func compiled(method ast.Method, sql string) *compiler.Compiled {
	return &compiler.Compiled{SQL: sql, Method: method}
}

func src() *fakeSource {
	return &fakeSource{conn: &pool.Connection{UID: "u-1"}}
}

func TestRunEmitsEventsAndReleases(t *testing.T) {
	adapter := &fakeAdapter{result: &driver.Result{Rows: []driver.Row{{"a": 1}}}}
	var queried, responded bool
	events := runner.Events{
		Query: func(p runner.Payload) {
			queried = true
			assert.Equal(t, "u-1", p.UID)
			assert.Equal(t, "select 1", p.SQL)
		},
		Response: func(p runner.Payload, r *driver.Result) { responded = true },
	}
	r := newRunner(adapter, events, runner.Options{})
	source := src()

	resp, err := r.Run(context.Background(), compiled(ast.MethodSelect, "select 1"), source, 0, false)
	require.NoError(t, err)
	assert.Len(t, resp.Result.Rows, 1)
	assert.True(t, queried)
	assert.True(t, responded)
	assert.True(t, source.released)
	assert.NoError(t, source.relErr)
}

func TestRunNormalizesErrorAndEmits(t *testing.T) {
	adapter := &fakeAdapter{err: sqlite3.Error{Code: sqlite3.ErrConstraint}}
	var emitted error
	events := runner.Events{Error: func(p runner.Payload, err error) { emitted = err }}
	r := newRunner(adapter, events, runner.Options{CompileSQLOnError: true})
	source := src()

	_, err := r.Run(context.Background(), compiled(ast.MethodInsert, "insert into t"), source, 0, false)
	require.Error(t, err)
	assert.True(t, runner.IsConstraint(err))
	assert.Contains(t, err.Error(), "insert into t")
	assert.Equal(t, err, emitted)
	assert.True(t, source.released)
	assert.Error(t, source.relErr)
}

func TestRunHidesSQLWhenConfigured(t *testing.T) {
	adapter := &fakeAdapter{err: errors.New("boom")}
	r := newRunner(adapter, runner.Events{}, runner.Options{CompileSQLOnError: false})

	_, err := r.Run(context.Background(), compiled(ast.MethodSelect, "select secret"), src(), 0, false)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "select secret")
}

func TestFirstShaping(t *testing.T) {
	adapter := &fakeAdapter{result: &driver.Result{Rows: []driver.Row{{"a": 1}, {"a": 2}}}}
	r := newRunner(adapter, runner.Events{}, runner.Options{})

	resp, err := r.Run(context.Background(), compiled(ast.MethodFirst, "select"), src(), 0, false)
	require.NoError(t, err)
	assert.Equal(t, driver.Row{"a": 1}, resp.First)

	adapter.result = &driver.Result{}
	resp, err = r.Run(context.Background(), compiled(ast.MethodFirst, "select"), src(), 0, false)
	require.NoError(t, err)
	assert.Nil(t, resp.First)
}

func TestPluckShaping(t *testing.T) {
	adapter := &fakeAdapter{result: &driver.Result{Rows: []driver.Row{{"id": 1}, {"id": 2}}}}
	r := newRunner(adapter, runner.Events{}, runner.Options{})

	c := compiled(ast.MethodPluck, "select")
	c.PluckColumn = "id"
	resp, err := r.Run(context.Background(), c, src(), 0, false)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2}, resp.Plucked)
}

func TestInsertFabricatesReturning(t *testing.T) {
	adapter := &fakeAdapter{result: &driver.Result{Affected: 1, LastInsertID: 7, HasLastInsertID: true}}
	r := newRunner(adapter, runner.Events{}, runner.Options{})

	c := compiled(ast.MethodInsert, "insert")
	c.Returning = []string{"id"}
	resp, err := r.Run(context.Background(), c, src(), 0, false)
	require.NoError(t, err)
	assert.Equal(t, []driver.Row{{"id": int64(7)}}, resp.Result.Rows)
	assert.Equal(t, []interface{}{int64(7)}, resp.Plucked)
}

func TestPostProcessHookApplied(t *testing.T) {
	adapter := &fakeAdapter{result: &driver.Result{Rows: []driver.Row{{"a": 1}}}}
	hook := func(result *driver.Result, queryContext interface{}) *driver.Result {
		for _, row := range result.Rows {
			row["seen"] = queryContext
		}
		return result
	}
	r := newRunner(adapter, runner.Events{}, runner.Options{PostProcess: hook})

	c := compiled(ast.MethodSelect, "select")
	c.Context = "ctx-7"
	resp, err := r.Run(context.Background(), c, src(), 0, false)
	require.NoError(t, err)
	assert.Equal(t, "ctx-7", resp.Result.Rows[0]["seen"])
}

func TestTimeoutWithoutCancelSurfacesAndFinishes(t *testing.T) {
	adapter := &fakeAdapter{delay: 150 * time.Millisecond}
	r := newRunner(adapter, runner.Events{}, runner.Options{})
	source := src()

	start := time.Now()
	_, err := r.Run(context.Background(), compiled(ast.MethodSelect, "slow"), source, 30*time.Millisecond, false)
	require.Error(t, err)
	assert.True(t, runner.IsTimeout(err))
	assert.Less(t, time.Since(start), 120*time.Millisecond)

	// the in-flight execution keeps going and releases afterwards
	assert.Eventually(t, func() bool { return source.released }, time.Second, 10*time.Millisecond)
}

func TestTimeoutWithCancelCancelsContext(t *testing.T) {
	adapter := &fakeAdapter{delay: time.Second}
	r := newRunner(adapter, runner.Events{}, runner.Options{})

	start := time.Now()
	_, err := r.Run(context.Background(), compiled(ast.MethodSelect, "slow"), src(), 30*time.Millisecond, true)
	require.Error(t, err)
	assert.True(t, runner.IsTimeout(err) || runner.IsCancelled(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestStreamForwardsRowsAndBackPressure(t *testing.T) {
	adapter := &fakeAdapter{rows: []driver.Row{{"n": 1}, {"n": 2}, {"n": 3}}}
	r := newRunner(adapter, runner.Events{}, runner.Options{})

	var seen []interface{}
	err := r.Stream(context.Background(), compiled(ast.MethodSelect, "select"), src(), func(row driver.Row) error {
		seen = append(seen, row["n"])
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2, 3}, seen)
}

func TestStreamSinkErrorStops(t *testing.T) {
	adapter := &fakeAdapter{rows: []driver.Row{{"n": 1}, {"n": 2}, {"n": 3}}}
	r := newRunner(adapter, runner.Events{}, runner.Options{})

	count := 0
	err := r.Stream(context.Background(), compiled(ast.MethodSelect, "select"), src(), func(row driver.Row) error {
		count++
		if count == 2 {
			return errors.New("sink full")
		}
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, runner.ErrStream)
	assert.Equal(t, 2, count)
}

package driver_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sam-lord/knex/dialect"
	"github.com/sam-lord/knex/driver"
	"github.com/sam-lord/knex/query/ast"
	"github.com/sam-lord/knex/query/compiler"
)

func newAdapter(t *testing.T, d *dialect.Dialect) (*driver.SQLAdapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return driver.NewSQLAdapterWithDB(d, db), mock
}

func acquire(t *testing.T, a *driver.SQLAdapter) driver.Conn {
	t.Helper()
	conn, err := a.AcquireRawConnection(context.Background())
	require.NoError(t, err)
	return conn
}

func TestExecuteSelectCollectsRows(t *testing.T) {
	a, mock := newAdapter(t, dialect.SQLite)
	mock.ExpectQuery("select \\* from t").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(1, "a").AddRow(2, "b"))

	conn := acquire(t, a)
	res, err := a.Execute(context.Background(), conn, &compiler.Compiled{
		SQL: "select * from t", Method: ast.MethodSelect,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "b", res.Rows[1]["name"])
	require.NoError(t, a.DestroyRawConnection(conn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteDMLReportsAffectedAndLastInsertID(t *testing.T) {
	a, mock := newAdapter(t, dialect.SQLite)
	mock.ExpectExec("insert into t").
		WillReturnResult(sqlmock.NewResult(42, 1))

	conn := acquire(t, a)
	res, err := a.Execute(context.Background(), conn, &compiler.Compiled{
		SQL: "insert into t (a) values (?)", Bindings: []interface{}{1},
		Method: ast.MethodInsert, Returning: []string{"id"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Affected)
	assert.True(t, res.HasLastInsertID)
	assert.Equal(t, int64(42), res.LastInsertID)
	require.NoError(t, a.DestroyRawConnection(conn))
}

func TestExecuteReturningUsesQueryPath(t *testing.T) {
	a, mock := newAdapter(t, dialect.Postgres)
	mock.ExpectQuery("insert into t").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	conn := acquire(t, a)
	res, err := a.Execute(context.Background(), conn, &compiler.Compiled{
		SQL: "insert into t (a) values ($1) returning id", Bindings: []interface{}{1},
		Method: ast.MethodInsert, Returning: []string{"id"},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.NoError(t, a.DestroyRawConnection(conn))
}

func TestRawHeuristicQueriesSelects(t *testing.T) {
	a, mock := newAdapter(t, dialect.SQLite)
	mock.ExpectQuery("select 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("delete from t").WillReturnResult(sqlmock.NewResult(0, 3))

	conn := acquire(t, a)
	res, err := a.Execute(context.Background(), conn, &compiler.Compiled{SQL: "select 1", Method: ast.MethodRaw})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 1)

	res, err = a.Execute(context.Background(), conn, &compiler.Compiled{SQL: "delete from t", Method: ast.MethodRaw})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Affected)
	require.NoError(t, a.DestroyRawConnection(conn))
}

func TestTransactionLifecycle(t *testing.T) {
	a, mock := newAdapter(t, dialect.SQLite)
	mock.ExpectBegin()
	mock.ExpectExec("insert into t").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`savepoint "sp_1"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`rollback to savepoint "sp_1"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ctx := context.Background()
	conn := acquire(t, a)
	require.NoError(t, a.BeginTransaction(ctx, conn, driver.TxConfig{}))

	_, err := a.Execute(ctx, conn, &compiler.Compiled{SQL: "insert into t (a) values (?)", Bindings: []interface{}{1}, Method: ast.MethodInsert})
	require.NoError(t, err)

	require.NoError(t, a.Savepoint(ctx, conn, "sp_1"))
	require.NoError(t, a.RollbackToSavepoint(ctx, conn, "sp_1"))
	require.NoError(t, a.Commit(ctx, conn))
	require.NoError(t, a.DestroyRawConnection(conn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitWithoutBegin(t *testing.T) {
	a, _ := newAdapter(t, dialect.SQLite)
	conn := acquire(t, a)
	err := a.Commit(context.Background(), conn)
	assert.Error(t, err)
	require.NoError(t, a.DestroyRawConnection(conn))
}

func TestPositionBindings(t *testing.T) {
	a, _ := newAdapter(t, dialect.Postgres)
	assert.Equal(t,
		`select * from t where a = $1 and b = '?' and c = $2`,
		a.PositionBindings(`select * from t where a = ? and b = '\?' and c = ?`))

	m, _ := newAdapter(t, dialect.MySQL)
	assert.Equal(t,
		"select ? and '?'",
		m.PositionBindings(`select ? and '\?'`))
}

func TestPrepBindings(t *testing.T) {
	lite, _ := newAdapter(t, dialect.SQLite)
	out := lite.PrepBindings([]interface{}{true, false, "x", 3})
	assert.Equal(t, []interface{}{int64(1), int64(0), "x", 3}, out)

	pg, _ := newAdapter(t, dialect.Postgres)
	out = pg.PrepBindings([]interface{}{true})
	assert.Equal(t, []interface{}{true}, out)
}

func TestStreamForwardsRows(t *testing.T) {
	a, mock := newAdapter(t, dialect.SQLite)
	mock.ExpectQuery("select \\* from t").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1).AddRow(2))

	conn := acquire(t, a)
	var got []interface{}
	err := a.Stream(context.Background(), conn, &compiler.Compiled{SQL: "select * from t", Method: ast.MethodSelect},
		func(row driver.Row) error {
			got = append(got, row["n"])
			return nil
		})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	require.NoError(t, a.DestroyRawConnection(conn))
}

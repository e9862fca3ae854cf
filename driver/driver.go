// Package driver defines the thin adapter contract the core consumes
// a database driver through, plus the database/sql-backed adapter
// used for the linked drivers (lib/pq, go-sql-driver/mysql,
// mattn/go-sqlite3).
package driver

import (
	"context"

	"github.com/sam-lord/knex/query/compiler"
)

// Row is one result row keyed by column name.
type Row = map[string]interface{}

// Result is what an execution returns: a rowset, an affected count,
// or both, depending on the compiled method.
type Result struct {
	Columns  []string
	Rows     []Row
	Affected int64

	LastInsertID    int64
	HasLastInsertID bool

	// Context carries the compiled query's opaque context through to
	// post-processing.
	Context interface{}
}

// Conn is an opaque connection handle owned by the adapter that
// created it.
type Conn interface{}

// TxConfig carries transaction options to BeginTransaction.
type TxConfig struct {
	IsolationLevel string
	ReadOnly       bool
}

// Adapter is the driver contract. The pool owns connection lifetime;
// the runner owns execution; both go through this interface only.
type Adapter interface {
	AcquireRawConnection(ctx context.Context) (Conn, error)
	DestroyRawConnection(conn Conn) error
	ValidateConnection(ctx context.Context, conn Conn) bool

	Execute(ctx context.Context, conn Conn, q *compiler.Compiled) (*Result, error)
	Stream(ctx context.Context, conn Conn, q *compiler.Compiled, sink func(Row) error) error

	BeginTransaction(ctx context.Context, conn Conn, cfg TxConfig) error
	Commit(ctx context.Context, conn Conn) error
	Rollback(ctx context.Context, conn Conn) error
	Savepoint(ctx context.Context, conn Conn, name string) error
	ReleaseSavepoint(ctx context.Context, conn Conn, name string) error
	RollbackToSavepoint(ctx context.Context, conn Conn, name string) error

	// PositionBindings rewrites "?" placeholders in externally
	// supplied SQL into the dialect's style.
	PositionBindings(sql string) string

	// PrepBindings coerces typed values to driver-native form.
	PrepBindings(values []interface{}) []interface{}
}

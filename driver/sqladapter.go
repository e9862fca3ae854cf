package driver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sam-lord/knex/dialect"
	"github.com/sam-lord/knex/query/ast"
	"github.com/sam-lord/knex/query/compiler"
)

// SQLAdapter implements Adapter over database/sql. Bounding and
// reuse are the pool's job; the adapter hands out dedicated
// connections and never shares one.
type SQLAdapter struct {
	db *sql.DB
	d  *dialect.Dialect
}

// NewSQLAdapter opens the dialect's database/sql driver against the
// given DSN. Dialects without a linked driver are rejected.
func NewSQLAdapter(d *dialect.Dialect, dsn string) (*SQLAdapter, error) {
	if d.DriverName == "" {
		return nil, fmt.Errorf("dialect %q has no linked database/sql driver", d.Name)
	}
	db, err := sql.Open(d.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.DriverName, err)
	}
	// the pool above this adapter does all bounding
	db.SetMaxOpenConns(0)
	db.SetMaxIdleConns(0)
	return &SQLAdapter{db: db, d: d}, nil
}

// NewSQLAdapterWithDB wraps an already-open database handle; the
// caller keeps ownership of its pooling settings.
func NewSQLAdapterWithDB(d *dialect.Dialect, db *sql.DB) *SQLAdapter {
	return &SQLAdapter{db: db, d: d}
}

// Dialect returns the dialect the adapter executes for.
func (a *SQLAdapter) Dialect() *dialect.Dialect {
	return a.d
}

// Close releases the underlying database handle.
func (a *SQLAdapter) Close() error {
	return a.db.Close()
}

// sqlConn pins one dedicated connection and, when a transaction is
// open, its *sql.Tx.
type sqlConn struct {
	conn *sql.Conn
	tx   *sql.Tx
}

// queryer is the common subset of *sql.Conn and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (c *sqlConn) runner() queryer {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

func asSQLConn(conn Conn) (*sqlConn, error) {
	c, ok := conn.(*sqlConn)
	if !ok {
		return nil, fmt.Errorf("foreign connection handle %T", conn)
	}
	return c, nil
}

// AcquireRawConnection opens a dedicated connection.
func (a *SQLAdapter) AcquireRawConnection(ctx context.Context) (Conn, error) {
	c, err := a.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &sqlConn{conn: c}, nil
}

// DestroyRawConnection closes the connection.
func (a *SQLAdapter) DestroyRawConnection(conn Conn) error {
	c, err := asSQLConn(conn)
	if err != nil {
		return err
	}
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	return c.conn.Close()
}

// ValidateConnection runs the dialect's validation statement, or
// pings when none is configured.
func (a *SQLAdapter) ValidateConnection(ctx context.Context, conn Conn) bool {
	c, err := asSQLConn(conn)
	if err != nil {
		return false
	}
	if a.d.ValidateStmt == "" {
		return c.conn.PingContext(ctx) == nil
	}
	_, err = c.conn.ExecContext(ctx, a.d.ValidateStmt)
	return err == nil
}

// Execute runs a compiled query and shapes the result per method.
func (a *SQLAdapter) Execute(ctx context.Context, conn Conn, q *compiler.Compiled) (*Result, error) {
	c, err := asSQLConn(conn)
	if err != nil {
		return nil, err
	}
	args := a.PrepBindings(q.Bindings)
	if wantsRows(a.d, q) {
		rows, err := c.runner().QueryContext(ctx, q.SQL, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return collectRows(rows, q.Context)
	}
	res, err := c.runner().ExecContext(ctx, q.SQL, args...)
	if err != nil {
		return nil, err
	}
	out := &Result{Context: q.Context}
	if n, err := res.RowsAffected(); err == nil {
		out.Affected = n
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		out.LastInsertID = id
		out.HasLastInsertID = true
	}
	return out, nil
}

// Stream runs a compiled query forwarding rows one at a time. A sink
// error stops the iteration and surfaces.
func (a *SQLAdapter) Stream(ctx context.Context, conn Conn, q *compiler.Compiled, sink func(Row) error) error {
	c, err := asSQLConn(conn)
	if err != nil {
		return err
	}
	rows, err := c.runner().QueryContext(ctx, q.SQL, a.PrepBindings(q.Bindings)...)
	if err != nil {
		return err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	for rows.Next() {
		row, err := scanRow(rows, cols)
		if err != nil {
			return err
		}
		if err := sink(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

// wantsRows decides between QueryContext and ExecContext.
func wantsRows(d *dialect.Dialect, q *compiler.Compiled) bool {
	switch q.Method {
	case ast.MethodSelect, ast.MethodFirst, ast.MethodPluck:
		return true
	case ast.MethodInsert, ast.MethodUpdate, ast.MethodDelete:
		return len(q.Returning) > 0 && d.Features.SupportsReturning
	case ast.MethodRaw:
		head := strings.ToLower(strings.Fields(strings.TrimSpace(q.SQL) + " x")[0])
		switch head {
		case "select", "with", "values", "show", "pragma", "explain":
			return true
		}
		return false
	}
	return false
}

func collectRows(rows *sql.Rows, context interface{}) (*Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := &Result{Columns: cols, Context: context}
	for rows.Next() {
		row, err := scanRow(rows, cols)
		if err != nil {
			return nil, err
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanRow(rows *sql.Rows, cols []string) (Row, error) {
	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(Row, len(cols))
	for i, col := range cols {
		row[col] = values[i]
	}
	return row, nil
}

// BeginTransaction opens a transaction pinned to the connection.
func (a *SQLAdapter) BeginTransaction(ctx context.Context, conn Conn, cfg TxConfig) error {
	c, err := asSQLConn(conn)
	if err != nil {
		return err
	}
	if c.tx != nil {
		return fmt.Errorf("connection already holds a transaction")
	}
	opts := &sql.TxOptions{ReadOnly: cfg.ReadOnly, Isolation: isolationLevel(cfg.IsolationLevel)}
	tx, err := c.conn.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

// Commit commits the pinned transaction.
func (a *SQLAdapter) Commit(ctx context.Context, conn Conn) error {
	c, err := asSQLConn(conn)
	if err != nil {
		return err
	}
	if c.tx == nil {
		return fmt.Errorf("no open transaction")
	}
	err = c.tx.Commit()
	c.tx = nil
	return err
}

// Rollback rolls back the pinned transaction.
func (a *SQLAdapter) Rollback(ctx context.Context, conn Conn) error {
	c, err := asSQLConn(conn)
	if err != nil {
		return err
	}
	if c.tx == nil {
		return fmt.Errorf("no open transaction")
	}
	err = c.tx.Rollback()
	c.tx = nil
	return err
}

// Savepoint creates a named savepoint inside the open transaction.
func (a *SQLAdapter) Savepoint(ctx context.Context, conn Conn, name string) error {
	return a.savepointStmt(ctx, conn, "savepoint", name)
}

// ReleaseSavepoint releases a named savepoint.
func (a *SQLAdapter) ReleaseSavepoint(ctx context.Context, conn Conn, name string) error {
	return a.savepointStmt(ctx, conn, "release savepoint", name)
}

// RollbackToSavepoint reverts to a named savepoint.
func (a *SQLAdapter) RollbackToSavepoint(ctx context.Context, conn Conn, name string) error {
	return a.savepointStmt(ctx, conn, "rollback to savepoint", name)
}

func (a *SQLAdapter) savepointStmt(ctx context.Context, conn Conn, verb, name string) error {
	c, err := asSQLConn(conn)
	if err != nil {
		return err
	}
	if c.tx == nil {
		return fmt.Errorf("no open transaction")
	}
	_, err = c.tx.ExecContext(ctx, verb+" "+a.d.Quote(name))
	return err
}

// PositionBindings rewrites "?" markers in externally supplied SQL
// into the dialect's placeholder style; `\?` stays a literal.
func (a *SQLAdapter) PositionBindings(sqlText string) string {
	if a.d.Placeholder == dialect.PlaceholderQuestion {
		return strings.ReplaceAll(sqlText, `\?`, "?")
	}
	var out strings.Builder
	n := 0
	for i := 0; i < len(sqlText); i++ {
		ch := sqlText[i]
		if ch == '\\' && i+1 < len(sqlText) && sqlText[i+1] == '?' {
			out.WriteByte('?')
			i++
			continue
		}
		if ch == '?' {
			n++
			out.WriteString(a.d.Placeholder.Render(n))
			continue
		}
		out.WriteByte(ch)
	}
	return out.String()
}

// PrepBindings coerces bound values to driver-native form: booleans
// become 0/1 on backends without a boolean type, timestamps pass
// through for the driver's own encoding.
func (a *SQLAdapter) PrepBindings(values []interface{}) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		switch val := v.(type) {
		case bool:
			if a.d.BoolAsInt {
				if val {
					out[i] = int64(1)
				} else {
					out[i] = int64(0)
				}
				continue
			}
			out[i] = val
		case time.Time:
			out[i] = val
		default:
			out[i] = v
		}
	}
	return out
}

func isolationLevel(name string) sql.IsolationLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "read uncommitted":
		return sql.LevelReadUncommitted
	case "read committed":
		return sql.LevelReadCommitted
	case "repeatable read":
		return sql.LevelRepeatableRead
	case "snapshot":
		return sql.LevelSnapshot
	case "serializable":
		return sql.LevelSerializable
	case "linearizable":
		return sql.LevelLinearizable
	default:
		return sql.LevelDefault
	}
}

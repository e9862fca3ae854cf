package builder

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sam-lord/knex/driver"
	"github.com/sam-lord/knex/query/ast"
	"github.com/sam-lord/knex/query/compiler"
	"github.com/sam-lord/knex/runner"
)

// ErrNotExecutable is returned by executing terminals on a
// compile-only builder.
var ErrNotExecutable = errors.New("builder has no attached executor")

// Executor runs compiled queries; the client and the transaction
// handle both implement it.
type Executor interface {
	Run(ctx context.Context, c *compiler.Compiled, timeout time.Duration, cancelOnTimeout bool) (*runner.Response, error)
	Stream(ctx context.Context, c *compiler.Compiled, sink func(driver.Row) error) error
}

// ToSQL compiles the query without executing. Compilation is pure
// over the AST: calling it twice yields equal results, and later
// chained calls never mutate an already returned value.
func (b *Builder) ToSQL() (*compiler.Compiled, error) {
	if b.err != nil {
		return nil, b.err
	}
	return compiler.Compile(b.q, b.d, b.opts)
}

// ToString renders the query with bindings literalized for debug
// output. Never send the result to a database.
func (b *Builder) ToString() (string, error) {
	c, err := b.ToSQL()
	if err != nil {
		return "", err
	}
	sql := c.SQL
	for i, v := range c.Bindings {
		ph := b.d.Placeholder.Render(i + 1)
		sql = strings.Replace(sql, ph, b.d.EscapeValue(v), 1)
	}
	return sql, nil
}

// Rows compiles and executes, returning the full rowset.
func (b *Builder) Rows(ctx context.Context) ([]driver.Row, error) {
	resp, err := b.runCompiled(ctx, b.q)
	if err != nil {
		return nil, err
	}
	return resp.Result.Rows, nil
}

// Exec compiles and executes, returning the raw driver result. Use
// it for DML chains where the affected count matters.
func (b *Builder) Exec(ctx context.Context) (*driver.Result, error) {
	resp, err := b.runCompiled(ctx, b.q)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// First executes with limit 1 and unwraps to a single row; a nil row
// marks absence. The builder itself is left untouched.
func (b *Builder) First(ctx context.Context) (driver.Row, error) {
	q := b.q.Clone()
	q.Method = ast.MethodFirst
	if q.Limit == nil {
		one := 1
		q.Limit = &one
	}
	resp, err := b.runCompiled(ctx, q)
	if err != nil {
		return nil, err
	}
	return resp.First, nil
}

// Pluck projects a single column and unwraps to a flat value list.
// The builder itself is left untouched.
func (b *Builder) Pluck(ctx context.Context, column string) ([]interface{}, error) {
	q := b.q.Clone()
	q.Method = ast.MethodPluck
	q.PluckColumn = column
	q.Columns = []ast.Column{{Kind: ast.ColumnRef, Name: column}}
	resp, err := b.runCompiled(ctx, q)
	if err != nil {
		return nil, err
	}
	return resp.Plucked, nil
}

// Stream executes and forwards rows into sink one at a time. The
// sequence is lazy, finite and non-restartable; returning an error
// from the sink (or cancelling ctx) stops it.
func (b *Builder) Stream(ctx context.Context, sink func(driver.Row) error) error {
	if b.err != nil {
		return b.err
	}
	if b.exec == nil {
		return ErrNotExecutable
	}
	c, err := compiler.Compile(b.q, b.d, b.opts)
	if err != nil {
		return err
	}
	return b.exec.Stream(ctx, c, sink)
}

func (b *Builder) runCompiled(ctx context.Context, q *ast.Query) (*runner.Response, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.exec == nil {
		return nil, ErrNotExecutable
	}
	c, err := compiler.Compile(q, b.d, b.opts)
	if err != nil {
		return nil, err
	}
	resp, err := b.exec.Run(ctx, c, b.timeout, b.cancelOnTimeout)
	if err != nil && b.stack != "" {
		var qe *runner.QueryError
		if errors.As(err, &qe) {
			qe.Stack = b.stack
		}
	}
	return resp, err
}

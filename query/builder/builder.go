// Package builder provides the fluent query builder API.
//
// A Builder assembles an AST one chained call at a time; terminal
// operations hand the AST to the compiler and, when an executor is
// attached, to the runner.
package builder

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sam-lord/knex/dialect"
	"github.com/sam-lord/knex/query/ast"
	"github.com/sam-lord/knex/query/compiler"
)

// Builder assembles one query. Builders are cheap to clone and stay
// mutable after compilation; every compiled query is an independent
// value snapshot.
type Builder struct {
	q    *ast.Query
	d    *dialect.Dialect
	opts compiler.Options
	exec Executor

	timeout         time.Duration
	cancelOnTimeout bool

	// stack is the creation stack captured when async stack traces
	// are enabled; attached to execution errors.
	stack string

	// err records the first invalid chained call; terminals surface
	// it instead of compiling.
	err error
}

// WithCreationStack attaches a creation stack trace, surfaced on
// execution errors.
func (b *Builder) WithCreationStack(stack []byte) *Builder {
	b.stack = string(stack)
	return b
}

// New returns a builder against the given table. The dialect decides
// quoting and placeholders at compile time; exec may be nil for a
// compile-only builder.
func New(table string, d *dialect.Dialect, opts compiler.Options, exec Executor) *Builder {
	return &Builder{q: ast.New(table), d: d, opts: opts, exec: exec}
}

// Raw wraps an opaque SQL fragment with bindings for use anywhere a
// column, table or predicate is accepted. `?` marks a placeholder,
// `\?` a literal question mark.
func Raw(sql string, bindings ...interface{}) *ast.Raw {
	return &ast.Raw{SQL: sql, Bindings: bindings}
}

// Query exposes the underlying AST node.
func (b *Builder) Query() *ast.Query {
	return b.q
}

// Dialect returns the dialect the builder compiles for.
func (b *Builder) Dialect() *dialect.Dialect {
	return b.d
}

// Clone returns a deep copy sharing no mutable state with b.
func (b *Builder) Clone() *Builder {
	c := *b
	c.q = b.q.Clone()
	return &c
}

func (b *Builder) fail(format string, args ...interface{}) *Builder {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
	return b
}

// child returns a fresh builder for nested callback clauses.
func (b *Builder) child() *Builder {
	return New("", b.d, b.opts, b.exec)
}

// From sets (or replaces) the principal table. Accepts a table name
// string ("users", "users as u"), a sub-builder, or a raw fragment.
func (b *Builder) From(target interface{}) *Builder {
	b.q.Table, b.q.TableSub, b.q.TableRaw = "", nil, nil
	switch t := target.(type) {
	case string:
		b.q.Table = t
	case *Builder:
		b.q.TableSub = t.q
	case *ast.Query:
		b.q.TableSub = t
	case *ast.Raw:
		b.q.TableRaw = t
	default:
		return b.fail("from: unsupported target %T", target)
	}
	return b
}

// Into is DML-flavored From.
func (b *Builder) Into(table string) *Builder {
	return b.From(table)
}

// As aliases the principal table.
func (b *Builder) As(alias string) *Builder {
	b.q.TableAlias = alias
	return b
}

// WithSchema sets the default schema for unqualified table
// references within this query only.
func (b *Builder) WithSchema(schema string) *Builder {
	b.q.Schema = schema
	return b
}

// Select sets projection entries. Accepts column name strings
// ("name", "t.name", "name as n", "*"), alias maps {alias: source},
// raw fragments and sub-builders.
func (b *Builder) Select(cols ...interface{}) *Builder {
	return b.Column(cols...)
}

// Column appends projection entries; see Select.
func (b *Builder) Column(cols ...interface{}) *Builder {
	for _, col := range cols {
		switch v := col.(type) {
		case string:
			if v == "*" {
				b.q.Columns = append(b.q.Columns, ast.Column{Kind: ast.ColumnWildcard})
				continue
			}
			b.q.Columns = append(b.q.Columns, ast.Column{Kind: ast.ColumnRef, Name: v})
		case *ast.Raw:
			b.q.Columns = append(b.q.Columns, ast.Column{Kind: ast.ColumnRaw, Raw: v})
		case *Builder:
			b.q.Columns = append(b.q.Columns, ast.Column{Kind: ast.ColumnSubquery, Sub: v.q})
		case *ast.Query:
			b.q.Columns = append(b.q.Columns, ast.Column{Kind: ast.ColumnSubquery, Sub: v})
		case map[string]string:
			for _, alias := range sortedStringKeys(v) {
				b.q.Columns = append(b.q.Columns, ast.Column{Kind: ast.ColumnRef, Name: v[alias], Alias: alias})
			}
		case map[string]interface{}:
			for _, alias := range sortedKeys(v) {
				switch src := v[alias].(type) {
				case string:
					b.q.Columns = append(b.q.Columns, ast.Column{Kind: ast.ColumnRef, Name: src, Alias: alias})
				case *ast.Raw:
					b.q.Columns = append(b.q.Columns, ast.Column{Kind: ast.ColumnRaw, Raw: src, Alias: alias})
				case *Builder:
					b.q.Columns = append(b.q.Columns, ast.Column{Kind: ast.ColumnSubquery, Sub: src.q, Alias: alias})
				default:
					return b.fail("select: unsupported aliased source %T", src)
				}
			}
		default:
			return b.fail("select: unsupported column %T", col)
		}
	}
	return b
}

// Distinct marks the projection DISTINCT.
func (b *Builder) Distinct() *Builder {
	b.q.Distinct = true
	return b
}

// DistinctOn adds a DISTINCT ON column list (PostgreSQL family).
func (b *Builder) DistinctOn(cols ...string) *Builder {
	b.q.DistinctOn = append(b.q.DistinctOn, cols...)
	return b
}

// GroupBy appends GROUP BY columns.
func (b *Builder) GroupBy(cols ...string) *Builder {
	for _, col := range cols {
		b.q.Groups = append(b.q.Groups, ast.Group{Column: col})
	}
	return b
}

// GroupByRaw appends a raw GROUP BY entry.
func (b *Builder) GroupByRaw(sql string, bindings ...interface{}) *Builder {
	b.q.Groups = append(b.q.Groups, ast.Group{Raw: Raw(sql, bindings...)})
	return b
}

// OrderBy appends an ORDER BY entry. Direction defaults to asc;
// nulls placement is optional ("first" or "last").
func (b *Builder) OrderBy(column string, direction ...string) *Builder {
	o := ast.Order{Column: column, Direction: ast.Asc}
	if len(direction) > 0 && direction[0] != "" {
		dir := strings.ToLower(direction[0])
		if dir != ast.Asc && dir != ast.Desc {
			return b.fail("orderBy: invalid direction %q", direction[0])
		}
		o.Direction = dir
	}
	if len(direction) > 1 {
		nulls := strings.ToLower(direction[1])
		if nulls != ast.NullsFirst && nulls != ast.NullsLast {
			return b.fail("orderBy: invalid nulls placement %q", direction[1])
		}
		o.Nulls = nulls
	}
	b.q.Orders = append(b.q.Orders, o)
	return b
}

// OrderByRaw appends a raw ORDER BY entry.
func (b *Builder) OrderByRaw(sql string, bindings ...interface{}) *Builder {
	b.q.Orders = append(b.q.Orders, ast.Order{Raw: Raw(sql, bindings...)})
	return b
}

// Limit caps the row count. An optional trailing true inlines the
// number as a literal instead of binding it.
func (b *Builder) Limit(n int, skipBinding ...bool) *Builder {
	b.q.Limit = &n
	b.q.LimitSkipBinding = len(skipBinding) > 0 && skipBinding[0]
	return b
}

// Offset skips rows. An optional trailing true inlines the number.
func (b *Builder) Offset(n int, skipBinding ...bool) *Builder {
	b.q.Offset = &n
	b.q.OffsetSkipBinding = len(skipBinding) > 0 && skipBinding[0]
	return b
}

// ForUpdate requests FOR UPDATE row locks.
func (b *Builder) ForUpdate() *Builder {
	b.q.Lock = ast.LockForUpdate
	return b
}

// ForShare requests FOR SHARE row locks.
func (b *Builder) ForShare() *Builder {
	b.q.Lock = ast.LockForShare
	return b
}

// ForNoKeyUpdate requests FOR NO KEY UPDATE row locks.
func (b *Builder) ForNoKeyUpdate() *Builder {
	b.q.Lock = ast.LockNoKeyUpdate
	return b
}

// ForKeyShare requests FOR KEY SHARE row locks.
func (b *Builder) ForKeyShare() *Builder {
	b.q.Lock = ast.LockKeyShare
	return b
}

// SkipLocked appends SKIP LOCKED to the lock clause.
func (b *Builder) SkipLocked() *Builder {
	b.q.SkipLocked = true
	return b
}

// NoWait appends NOWAIT to the lock clause.
func (b *Builder) NoWait() *Builder {
	b.q.NoWait = true
	return b
}

// Timeout bounds the chain's execution. Without cancel the runner
// stops waiting and the statement finishes server-side; with cancel
// the in-flight statement is cancelled where the dialect can.
func (b *Builder) Timeout(d time.Duration, cancel ...bool) *Builder {
	b.timeout = d
	b.cancelOnTimeout = len(cancel) > 0 && cancel[0]
	if b.cancelOnTimeout && !b.d.CanCancel {
		return b.fail("timeout: dialect %q cannot cancel statements", b.d.Name)
	}
	return b
}

// Clear resets the named clause slot: select, where, group, order,
// having, counters, limit, offset, with, union.
func (b *Builder) Clear(slot string) *Builder {
	switch strings.ToLower(slot) {
	case "select", "columns":
		b.q.Columns = nil
		b.q.Distinct = false
		b.q.DistinctOn = nil
	case "where":
		b.q.Wheres = nil
	case "group":
		b.q.Groups = nil
	case "order":
		b.q.Orders = nil
	case "having":
		b.q.Havings = nil
	case "counters":
		cols := b.q.Columns[:0]
		for _, col := range b.q.Columns {
			if col.Kind != ast.ColumnAggregate {
				cols = append(cols, col)
			}
		}
		b.q.Columns = cols
	case "limit":
		b.q.Limit = nil
	case "offset":
		b.q.Offset = nil
	case "with":
		b.q.CTEs = nil
	case "union":
		b.q.SetOps = nil
	default:
		return b.fail("clear: unknown slot %q", slot)
	}
	return b
}

// ClearSelect resets the projection slot.
func (b *Builder) ClearSelect() *Builder { return b.Clear("select") }

// ClearWhere resets the predicate slot.
func (b *Builder) ClearWhere() *Builder { return b.Clear("where") }

// ClearGroup resets the GROUP BY slot.
func (b *Builder) ClearGroup() *Builder { return b.Clear("group") }

// ClearOrder resets the ORDER BY slot.
func (b *Builder) ClearOrder() *Builder { return b.Clear("order") }

// ClearHaving resets the HAVING slot.
func (b *Builder) ClearHaving() *Builder { return b.Clear("having") }

// ClearCounters removes aggregate projections.
func (b *Builder) ClearCounters() *Builder { return b.Clear("counters") }

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStringKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// toQuery converts sub-query shaped values.
func toQuery(v interface{}) (*ast.Query, bool) {
	switch q := v.(type) {
	case *Builder:
		return q.q, true
	case *ast.Query:
		return q, true
	}
	return nil, false
}

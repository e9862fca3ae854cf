// Package compiler serializes a query AST into dialect-specific SQL
// text plus an ordered binding list.
//
// Clauses are emitted in canonical order regardless of the order
// builder methods were called: WITH, SELECT/DML, FROM, JOIN, WHERE,
// GROUP BY, HAVING, set operations, ORDER BY, LIMIT, OFFSET, row
// locks, RETURNING.
package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sam-lord/knex/dialect"
	"github.com/sam-lord/knex/query/ast"
)

// Compiled is the immutable result of a compilation. Bindings holds
// one value per placeholder in SQL, in emission order.
type Compiled struct {
	SQL         string
	Bindings    []interface{}
	Method      ast.Method
	Returning   []string
	PluckColumn string
	Context     interface{}
}

// Options tune a single compilation.
type Options struct {
	// WrapIdentifier overrides the dialect's identifier quoting.
	WrapIdentifier func(segment string) string

	// UseNullAsDefault binds NULL for columns missing from a
	// multi-row insert instead of emitting DEFAULT.
	UseNullAsDefault bool

	// Context is carried through to the compiled query and the
	// runner's post-processing hook, opaque to the compiler.
	Context interface{}
}

// Compile renders q for d. Same AST, same dialect, same options:
// byte-equal SQL and an equal binding list.
func Compile(q *ast.Query, d *dialect.Dialect, opts Options) (*Compiled, error) {
	if q == nil {
		return nil, fmt.Errorf("compile: %w", ErrNoQuery)
	}
	c := &compilation{q: q, d: d, opts: opts}
	if err := c.run(); err != nil {
		return nil, err
	}
	method := q.Method
	return &Compiled{
		SQL:         c.sql.String(),
		Bindings:    c.bindings,
		Method:      method,
		Returning:   append([]string(nil), q.Returning...),
		PluckColumn: q.PluckColumn,
		Context:     opts.Context,
	}, nil
}

type compilation struct {
	q        *ast.Query
	d        *dialect.Dialect
	opts     Options
	sql      strings.Builder
	bindings []interface{}
	n        int
}

func (c *compilation) run() error {
	switch c.q.Method {
	case ast.MethodRaw:
		if c.q.RawSQL == nil {
			return fmt.Errorf("compile: %w", ErrNoQuery)
		}
		c.raw(c.q.RawSQL)
		return nil
	case ast.MethodInsert:
		return c.insert(c.q)
	case ast.MethodUpdate:
		return c.update(c.q)
	case ast.MethodDelete:
		return c.del(c.q)
	case ast.MethodTruncate:
		return c.truncate(c.q)
	default:
		return c.selectQuery(c.q)
	}
}

// write appends literal SQL text.
func (c *compilation) write(s string) {
	c.sql.WriteString(s)
}

// bind registers a binding and appends its placeholder.
func (c *compilation) bind(v interface{}) {
	c.n++
	c.bindings = append(c.bindings, v)
	c.write(c.d.Placeholder.Render(c.n))
}

// quote applies the identifier quoting in effect to one segment.
// Wildcards pass through unquoted.
func (c *compilation) quote(segment string) string {
	if segment == "*" {
		return segment
	}
	if c.opts.WrapIdentifier != nil {
		return c.opts.WrapIdentifier(segment)
	}
	return c.d.Quote(segment)
}

// ident quotes a possibly dotted reference segment by segment, so
// "a.b.c" becomes three independently quoted parts.
func (c *compilation) ident(ref string) string {
	parts := strings.Split(ref, ".")
	for i, p := range parts {
		parts[i] = c.quote(p)
	}
	return strings.Join(parts, ".")
}

// splitAlias recognizes the "name as alias" string form.
func splitAlias(ref string) (string, string) {
	lower := strings.ToLower(ref)
	if i := strings.Index(lower, " as "); i >= 0 {
		return strings.TrimSpace(ref[:i]), strings.TrimSpace(ref[i+4:])
	}
	return ref, ""
}

// table renders the principal or a join table reference, applying
// the query-level default schema to unqualified names.
func (c *compilation) table(name, alias string) string {
	base, inline := splitAlias(name)
	if alias == "" {
		alias = inline
	}
	if c.q.Schema != "" && !strings.Contains(base, ".") {
		base = c.q.Schema + "." + base
	}
	out := c.ident(base)
	if alias != "" {
		out += " as " + c.quote(alias)
	}
	return out
}

// raw splices a fragment, consuming one binding per unescaped "?"
// and rewriting placeholders into the dialect's style. Exhausted
// bindings leave the marker in place.
func (c *compilation) raw(r *ast.Raw) {
	sql := r.SQL
	next := 0
	var out strings.Builder
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if ch == '\\' && i+1 < len(sql) && sql[i+1] == '?' {
			out.WriteByte('?')
			i++
			continue
		}
		if ch != '?' {
			out.WriteByte(ch)
			continue
		}
		if next >= len(r.Bindings) {
			out.WriteByte('?')
			continue
		}
		v := r.Bindings[next]
		next++
		switch b := v.(type) {
		case *ast.Raw:
			// flush, recurse, continue scanning
			c.write(out.String())
			out.Reset()
			c.raw(b)
		case *ast.Query:
			c.write(out.String())
			out.Reset()
			c.write("(")
			sub := &compilation{q: b, d: c.d, opts: c.opts, n: c.n}
			sub.bindings = c.bindings
			if err := sub.run(); err == nil {
				c.write(sub.sql.String())
				c.bindings = sub.bindings
				c.n = sub.n
			}
			c.write(")")
		default:
			c.n++
			c.bindings = append(c.bindings, v)
			out.WriteString(c.d.Placeholder.Render(c.n))
		}
	}
	c.write(out.String())
}

// subquery compiles a nested query in-line, sharing the placeholder
// counter and binding list.
func (c *compilation) subquery(q *ast.Query) error {
	sub := &compilation{q: q, d: c.d, opts: c.opts, n: c.n}
	sub.bindings = c.bindings
	if err := sub.run(); err != nil {
		return err
	}
	c.write(sub.sql.String())
	c.bindings = sub.bindings
	c.n = sub.n
	return nil
}

func (c *compilation) selectQuery(q *ast.Query) error {
	if err := c.with(q); err != nil {
		return err
	}
	c.write("select ")
	if q.Distinct {
		c.write("distinct ")
	}
	if len(q.DistinctOn) > 0 {
		if !c.d.Features.SupportsDistinctOn {
			return unsupported("distinct on")
		}
		cols := make([]string, len(q.DistinctOn))
		for i, col := range q.DistinctOn {
			cols[i] = c.ident(col)
		}
		c.write("distinct on (" + strings.Join(cols, ", ") + ") ")
	}
	if c.d.Limit == dialect.TopStyle && q.Limit != nil && q.Offset == nil {
		if *q.Limit < 0 {
			return fmt.Errorf("compile: %w", ErrInvalidLimit)
		}
		c.write(fmt.Sprintf("top (%d) ", *q.Limit))
	}
	if err := c.columns(q); err != nil {
		return err
	}
	if err := c.from(q); err != nil {
		return err
	}
	if err := c.joins(q); err != nil {
		return err
	}
	if err := c.conds(q.Wheres, " where "); err != nil {
		return err
	}
	if err := c.groupBy(q); err != nil {
		return err
	}
	if err := c.conds(q.Havings, " having "); err != nil {
		return err
	}
	if err := c.setOps(q); err != nil {
		return err
	}
	if err := c.orderBy(q); err != nil {
		return err
	}
	if err := c.limitOffset(q); err != nil {
		return err
	}
	if err := c.locks(q); err != nil {
		return err
	}
	return nil
}

func (c *compilation) with(q *ast.Query) error {
	if len(q.CTEs) == 0 {
		return nil
	}
	if !c.d.Features.SupportsCTE {
		return unsupported("common table expressions")
	}
	recursive := false
	for _, cte := range q.CTEs {
		if cte.Recursive {
			recursive = true
		}
	}
	if recursive && !c.d.Features.SupportsRecursiveCTE {
		return unsupported("recursive common table expressions")
	}
	c.write("with ")
	if recursive {
		c.write("recursive ")
	}
	for i, cte := range q.CTEs {
		if i > 0 {
			c.write(", ")
		}
		c.write(c.quote(cte.Name))
		if len(cte.Columns) > 0 {
			cols := make([]string, len(cte.Columns))
			for j, col := range cte.Columns {
				cols[j] = c.quote(col)
			}
			c.write("(" + strings.Join(cols, ", ") + ")")
		}
		c.write(" as ")
		if cte.Materialized != nil {
			if !c.d.Features.SupportsMaterializedCTE {
				return unsupported("materialized common table expressions")
			}
			if *cte.Materialized {
				c.write("materialized ")
			} else {
				c.write("not materialized ")
			}
		}
		c.write("(")
		if cte.Raw != nil {
			c.raw(cte.Raw)
		} else if cte.Body != nil {
			if err := c.subquery(cte.Body); err != nil {
				return err
			}
		}
		c.write(")")
	}
	c.write(" ")
	return nil
}

func (c *compilation) columns(q *ast.Query) error {
	if len(q.Columns) == 0 {
		c.write("*")
		return nil
	}
	for i, col := range q.Columns {
		if i > 0 {
			c.write(", ")
		}
		if err := c.oneColumn(col); err != nil {
			return err
		}
	}
	return nil
}

func (c *compilation) oneColumn(col ast.Column) error {
	switch col.Kind {
	case ast.ColumnWildcard:
		c.write("*")
	case ast.ColumnRaw:
		c.raw(col.Raw)
		if col.Alias != "" {
			c.write(" as " + c.quote(col.Alias))
		}
	case ast.ColumnSubquery:
		c.write("(")
		if err := c.subquery(col.Sub); err != nil {
			return err
		}
		c.write(")")
		if col.Alias != "" {
			c.write(" as " + c.quote(col.Alias))
		}
	case ast.ColumnAggregate:
		if err := c.aggregate(col); err != nil {
			return err
		}
	default:
		name, inline := splitAlias(col.Name)
		alias := col.Alias
		if alias == "" {
			alias = inline
		}
		c.write(c.ident(name))
		if alias != "" {
			c.write(" as " + c.quote(alias))
		}
	}
	return nil
}

// aggregate renders count/sum/avg/min/max with optional distinct.
// Multi-column distinct follows the backend: MySQL takes the list
// as-is, PostgreSQL takes a row value, everything else concatenates.
func (c *compilation) aggregate(col ast.Column) error {
	args := col.Args
	if len(args) == 0 && col.Name != "" {
		args = []string{col.Name}
	}
	if len(args) == 0 {
		args = []string{"*"}
	}
	rendered := make([]string, len(args))
	for i, a := range args {
		rendered[i] = c.ident(a)
	}
	c.write(col.Function + "(")
	if col.Distinct {
		c.write("distinct ")
		if len(rendered) > 1 {
			switch c.d.Name {
			case "pg", "cockroachdb":
				c.write("(" + strings.Join(rendered, ", ") + ")")
			case "mysql":
				c.write(strings.Join(rendered, ", "))
			default:
				c.write(strings.Join(rendered, " || "))
			}
		} else {
			c.write(rendered[0])
		}
	} else {
		c.write(strings.Join(rendered, ", "))
	}
	c.write(")")
	if col.Alias != "" {
		c.write(" as " + c.quote(col.Alias))
	}
	return nil
}

func (c *compilation) from(q *ast.Query) error {
	switch {
	case q.TableRaw != nil:
		c.write(" from ")
		c.raw(q.TableRaw)
	case q.TableSub != nil:
		c.write(" from (")
		if err := c.subquery(q.TableSub); err != nil {
			return err
		}
		c.write(")")
		if q.TableAlias != "" {
			c.write(" as " + c.quote(q.TableAlias))
		}
	case q.Table != "":
		c.write(" from " + c.table(q.Table, q.TableAlias))
	}
	return nil
}

func (c *compilation) joins(q *ast.Query) error {
	for _, j := range q.Joins {
		c.write(" " + string(j.Kind) + " join ")
		switch {
		case j.Raw != nil:
			c.raw(j.Raw)
		case j.Sub != nil:
			c.write("(")
			if err := c.subquery(j.Sub); err != nil {
				return err
			}
			c.write(")")
			if j.Alias != "" {
				c.write(" as " + c.quote(j.Alias))
			}
		default:
			c.write(c.table(j.Table, j.Alias))
		}
		if j.Kind == ast.JoinCross {
			continue
		}
		if len(j.On) == 1 && j.On[0].Kind == ast.CondUsing {
			cols := make([]string, len(j.On[0].Columns))
			for i, col := range j.On[0].Columns {
				cols[i] = c.quote(col)
			}
			c.write(" using (" + strings.Join(cols, ", ") + ")")
			continue
		}
		if len(j.On) > 0 {
			c.write(" on ")
			if err := c.condList(j.On); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *compilation) groupBy(q *ast.Query) error {
	if len(q.Groups) == 0 {
		return nil
	}
	c.write(" group by ")
	for i, g := range q.Groups {
		if i > 0 {
			c.write(", ")
		}
		if g.Raw != nil {
			c.raw(g.Raw)
		} else {
			c.write(c.ident(g.Column))
		}
	}
	return nil
}

func (c *compilation) setOps(q *ast.Query) error {
	for _, op := range q.SetOps {
		c.write(" " + string(op.Kind) + " ")
		if op.Wrap {
			c.write("(")
		}
		if op.Raw != nil {
			c.raw(op.Raw)
		} else if op.Body != nil {
			if err := c.subquery(op.Body); err != nil {
				return err
			}
		}
		if op.Wrap {
			c.write(")")
		}
	}
	return nil
}

func (c *compilation) orderBy(q *ast.Query) error {
	if len(q.Orders) == 0 {
		return nil
	}
	c.write(" order by ")
	for i, o := range q.Orders {
		if i > 0 {
			c.write(", ")
		}
		if o.Raw != nil {
			c.raw(o.Raw)
			continue
		}
		c.write(c.ident(o.Column))
		dir := o.Direction
		if dir == "" {
			dir = ast.Asc
		}
		c.write(" " + dir)
		switch o.Nulls {
		case ast.NullsFirst:
			c.write(" nulls first")
		case ast.NullsLast:
			c.write(" nulls last")
		}
	}
	return nil
}

func (c *compilation) limitOffset(q *ast.Query) error {
	if q.Limit != nil && *q.Limit < 0 {
		return fmt.Errorf("compile: %w", ErrInvalidLimit)
	}
	if q.Offset != nil && *q.Offset < 0 {
		return fmt.Errorf("compile: %w", ErrInvalidOffset)
	}
	switch c.d.Limit {
	case dialect.TopStyle:
		// limit-only handled as TOP in the select head
		if q.Offset == nil {
			return nil
		}
		c.write(" offset ")
		c.numeric(*q.Offset, q.OffsetSkipBinding)
		c.write(" rows")
		if q.Limit != nil {
			c.write(" fetch next ")
			c.numeric(*q.Limit, q.LimitSkipBinding)
			c.write(" rows only")
		}
	case dialect.FetchOffset:
		if q.Limit == nil && q.Offset == nil {
			return nil
		}
		offset := 0
		skip := q.OffsetSkipBinding
		if q.Offset != nil {
			offset = *q.Offset
		} else {
			// implicit zero offset reads better inlined
			skip = true
		}
		c.write(" offset ")
		c.numeric(offset, skip)
		c.write(" rows")
		if q.Limit != nil {
			c.write(" fetch next ")
			c.numeric(*q.Limit, q.LimitSkipBinding)
			c.write(" rows only")
		}
	default:
		if q.Limit != nil {
			c.write(" limit ")
			c.numeric(*q.Limit, q.LimitSkipBinding)
		} else if q.Offset != nil && c.d.RequiresLimitForOffset {
			c.write(" limit 18446744073709551615")
		}
		if q.Offset != nil {
			c.write(" offset ")
			c.numeric(*q.Offset, q.OffsetSkipBinding)
		}
	}
	return nil
}

// numeric emits a bound or inlined non-negative integer.
func (c *compilation) numeric(n int, skipBinding bool) {
	if skipBinding {
		c.write(fmt.Sprintf("%d", n))
		return
	}
	c.bind(n)
}

func (c *compilation) locks(q *ast.Query) error {
	if q.Lock == ast.LockNone {
		return nil
	}
	if !c.d.Features.SupportsForUpdateOfTables && !c.d.Features.SupportsSkipLocked {
		return unsupported(string(q.Lock))
	}
	switch q.Lock {
	case ast.LockNoKeyUpdate, ast.LockKeyShare:
		if !c.d.Features.SupportsForUpdateOfTables {
			return unsupported(string(q.Lock))
		}
	}
	c.write(" " + string(q.Lock))
	if q.SkipLocked {
		if !c.d.Features.SupportsSkipLocked {
			return unsupported("skip locked")
		}
		c.write(" skip locked")
	}
	if q.NoWait {
		c.write(" nowait")
	}
	return nil
}

// returning emits the RETURNING clause when the dialect supports it;
// otherwise the clause is dropped and the runner fabricates the
// response from affected rows / last insert id.
func (c *compilation) returning(q *ast.Query) {
	if len(q.Returning) == 0 || !c.d.Features.SupportsReturning {
		return
	}
	cols := make([]string, len(q.Returning))
	for i, col := range q.Returning {
		if col == "*" {
			cols[i] = "*"
			continue
		}
		cols[i] = c.ident(col)
	}
	c.write(" returning " + strings.Join(cols, ", "))
}

// sortedKeys returns map keys in deterministic order.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

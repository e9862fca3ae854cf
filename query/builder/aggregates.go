package builder

import (
	"strings"

	"github.com/sam-lord/knex/query/ast"
)

// aggregate appends one aggregate projection. Arguments accept the
// "column as alias" string form.
func (b *Builder) aggregate(fn string, distinct bool, cols []string) *Builder {
	col := ast.Column{Kind: ast.ColumnAggregate, Function: fn, Distinct: distinct}
	for _, c := range cols {
		name, alias := splitAggAlias(c)
		col.Args = append(col.Args, name)
		if alias != "" {
			col.Alias = alias
		}
	}
	b.q.Columns = append(b.q.Columns, col)
	return b
}

func splitAggAlias(ref string) (string, string) {
	lower := strings.ToLower(ref)
	if i := strings.Index(lower, " as "); i >= 0 {
		return strings.TrimSpace(ref[:i]), strings.TrimSpace(ref[i+4:])
	}
	return ref, ""
}

// Count appends count(column) or count(*) without arguments.
func (b *Builder) Count(cols ...string) *Builder {
	if len(cols) == 0 {
		cols = []string{"*"}
	}
	return b.aggregate("count", false, cols)
}

// CountDistinct appends count(distinct columns).
func (b *Builder) CountDistinct(cols ...string) *Builder {
	return b.aggregate("count", true, cols)
}

// Min appends min(column).
func (b *Builder) Min(cols ...string) *Builder {
	return b.aggregate("min", false, cols)
}

// Max appends max(column).
func (b *Builder) Max(cols ...string) *Builder {
	return b.aggregate("max", false, cols)
}

// Sum appends sum(column).
func (b *Builder) Sum(cols ...string) *Builder {
	return b.aggregate("sum", false, cols)
}

// SumDistinct appends sum(distinct column).
func (b *Builder) SumDistinct(cols ...string) *Builder {
	return b.aggregate("sum", true, cols)
}

// Avg appends avg(column).
func (b *Builder) Avg(cols ...string) *Builder {
	return b.aggregate("avg", false, cols)
}

// AvgDistinct appends avg(distinct column).
func (b *Builder) AvgDistinct(cols ...string) *Builder {
	return b.aggregate("avg", true, cols)
}

package builder

import (
	"github.com/sam-lord/knex/query/ast"
)

// With attaches a common table expression. The body is a
// sub-builder, a callback, or a raw fragment; optional trailing
// strings name the CTE's column list.
func (b *Builder) With(alias string, body interface{}, columns ...string) *Builder {
	return b.addCTE(alias, body, columns, false, nil)
}

// WithRecursive attaches a recursive CTE.
func (b *Builder) WithRecursive(alias string, body interface{}, columns ...string) *Builder {
	return b.addCTE(alias, body, columns, true, nil)
}

// WithMaterialized attaches a CTE with a MATERIALIZED hint.
func (b *Builder) WithMaterialized(alias string, body interface{}, columns ...string) *Builder {
	m := true
	return b.addCTE(alias, body, columns, false, &m)
}

// WithNotMaterialized attaches a CTE with a NOT MATERIALIZED hint.
func (b *Builder) WithNotMaterialized(alias string, body interface{}, columns ...string) *Builder {
	m := false
	return b.addCTE(alias, body, columns, false, &m)
}

// WithRaw attaches a CTE whose body is a verbatim fragment.
func (b *Builder) WithRaw(alias, sql string, bindings ...interface{}) *Builder {
	return b.addCTE(alias, Raw(sql, bindings...), nil, false, nil)
}

func (b *Builder) addCTE(alias string, body interface{}, columns []string, recursive bool, materialized *bool) *Builder {
	cte := ast.CTE{Name: alias, Columns: columns, Recursive: recursive, Materialized: materialized}
	switch v := body.(type) {
	case *ast.Raw:
		cte.Raw = v
	case func(*Builder):
		child := b.child()
		v(child)
		if child.err != nil {
			return b.fail("%v", child.err)
		}
		cte.Body = child.q
	default:
		q, ok := toQuery(body)
		if !ok {
			return b.fail("with: unsupported body %T", body)
		}
		cte.Body = q
	}
	b.q.CTEs = append(b.q.CTEs, cte)
	return b
}

// Union appends UNION operands: sub-builders, callbacks or raw
// fragments. A bool operand sets the wrap flag, parenthesizing every
// operand of this call.
func (b *Builder) Union(operands ...interface{}) *Builder {
	return b.addSetOp(ast.SetUnion, operands)
}

// UnionAll appends UNION ALL operands.
func (b *Builder) UnionAll(operands ...interface{}) *Builder {
	return b.addSetOp(ast.SetUnionAll, operands)
}

// Intersect appends INTERSECT operands.
func (b *Builder) Intersect(operands ...interface{}) *Builder {
	return b.addSetOp(ast.SetIntersect, operands)
}

// Except appends EXCEPT operands.
func (b *Builder) Except(operands ...interface{}) *Builder {
	return b.addSetOp(ast.SetExcept, operands)
}

func (b *Builder) addSetOp(kind ast.SetOpKind, operands []interface{}) *Builder {
	wrap := false
	var ops []ast.SetOp
	for _, operand := range operands {
		switch v := operand.(type) {
		case bool:
			wrap = v
		case *ast.Raw:
			ops = append(ops, ast.SetOp{Kind: kind, Raw: v})
		case func(*Builder):
			child := b.child()
			v(child)
			if child.err != nil {
				return b.fail("%v", child.err)
			}
			ops = append(ops, ast.SetOp{Kind: kind, Body: child.q})
		default:
			q, ok := toQuery(operand)
			if !ok {
				return b.fail("%s: unsupported operand %T", kind, operand)
			}
			ops = append(ops, ast.SetOp{Kind: kind, Body: q})
		}
	}
	for i := range ops {
		ops[i].Wrap = wrap
	}
	b.q.SetOps = append(b.q.SetOps, ops...)
	return b
}

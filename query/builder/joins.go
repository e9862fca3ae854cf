package builder

import (
	"github.com/sam-lord/knex/query/ast"
)

// JoinClause builds the ON tree of one join through a callback.
type JoinClause struct {
	b  *Builder
	on []ast.Cond
}

// Join appends an inner join. The target is a table name string, a
// sub-builder, or a raw fragment. Conditions:
//
//	Join("b", "a.id", "b.a_id")             a.id = b.a_id
//	Join("b", "a.id", "=", "b.a_id")        explicit operator
//	Join("b", map[string]string{...})       multi-column equality
//	Join("b", func(j *JoinClause) { ... })  ON clause tree
func (b *Builder) Join(target interface{}, args ...interface{}) *Builder {
	return b.addJoin(ast.JoinInner, target, args)
}

// InnerJoin is Join spelled out.
func (b *Builder) InnerJoin(target interface{}, args ...interface{}) *Builder {
	return b.addJoin(ast.JoinInner, target, args)
}

// LeftJoin appends a left join.
func (b *Builder) LeftJoin(target interface{}, args ...interface{}) *Builder {
	return b.addJoin(ast.JoinLeft, target, args)
}

// RightJoin appends a right join.
func (b *Builder) RightJoin(target interface{}, args ...interface{}) *Builder {
	return b.addJoin(ast.JoinRight, target, args)
}

// FullOuterJoin appends a full outer join.
func (b *Builder) FullOuterJoin(target interface{}, args ...interface{}) *Builder {
	return b.addJoin(ast.JoinFull, target, args)
}

// CrossJoin appends a cross join; no ON clause is emitted.
func (b *Builder) CrossJoin(target interface{}) *Builder {
	return b.addJoin(ast.JoinCross, target, nil)
}

func (b *Builder) addJoin(kind ast.JoinKind, target interface{}, args []interface{}) *Builder {
	j := ast.Join{Kind: kind}
	switch t := target.(type) {
	case string:
		j.Table = t
	case *Builder:
		j.Sub = t.q
	case *ast.Query:
		j.Sub = t
	case *ast.Raw:
		j.Raw = t
	default:
		return b.fail("join: unsupported target %T", target)
	}

	switch len(args) {
	case 0:
		if kind != ast.JoinCross {
			return b.fail("join: missing condition")
		}
	case 1:
		switch v := args[0].(type) {
		case map[string]string:
			for _, col := range sortedStringKeys(v) {
				j.On = append(j.On, ast.Cond{Kind: ast.CondColumn, Bool: "and", Column: col, Op: "=", Target: v[col]})
			}
		case func(*JoinClause):
			jc := &JoinClause{b: b}
			v(jc)
			j.On = jc.on
		case *ast.Raw:
			j.On = append(j.On, ast.Cond{Kind: ast.CondRaw, Bool: "and", Raw: v})
		default:
			return b.fail("join: unsupported condition %T", args[0])
		}
	case 2:
		col1, ok := args[0].(string)
		col2, ok2 := args[1].(string)
		if !ok || !ok2 {
			return b.fail("join: column pair must be strings")
		}
		j.On = append(j.On, ast.Cond{Kind: ast.CondColumn, Bool: "and", Column: col1, Op: "=", Target: col2})
	case 3:
		col1, ok := args[0].(string)
		op, ok2 := args[1].(string)
		col2, ok3 := args[2].(string)
		if !ok || !ok2 || !ok3 {
			return b.fail("join: condition triple must be strings")
		}
		j.On = append(j.On, ast.Cond{Kind: ast.CondColumn, Bool: "and", Column: col1, Op: op, Target: col2})
	default:
		return b.fail("join: too many arguments")
	}

	b.q.Joins = append(b.q.Joins, j)
	return b
}

// On adds a column comparison joined with AND: (col1, col2) or
// (col1, op, col2), or a callback for a nested group.
func (j *JoinClause) On(args ...interface{}) *JoinClause {
	return j.add("and", args)
}

// AndOn is On spelled out.
func (j *JoinClause) AndOn(args ...interface{}) *JoinClause {
	return j.add("and", args)
}

// OrOn adds a column comparison joined with OR.
func (j *JoinClause) OrOn(args ...interface{}) *JoinClause {
	return j.add("or", args)
}

func (j *JoinClause) add(boolOp string, args []interface{}) *JoinClause {
	switch len(args) {
	case 1:
		if fn, ok := args[0].(func(*JoinClause)); ok {
			nested := &JoinClause{b: j.b}
			fn(nested)
			j.on = append(j.on, ast.Cond{Kind: ast.CondGroup, Bool: boolOp, Group: nested.on})
			return j
		}
		if raw, ok := args[0].(*ast.Raw); ok {
			j.on = append(j.on, ast.Cond{Kind: ast.CondRaw, Bool: boolOp, Raw: raw})
			return j
		}
	case 2:
		col1, ok := args[0].(string)
		col2, ok2 := args[1].(string)
		if ok && ok2 {
			j.on = append(j.on, ast.Cond{Kind: ast.CondColumn, Bool: boolOp, Column: col1, Op: "=", Target: col2})
			return j
		}
	case 3:
		col1, ok := args[0].(string)
		op, ok2 := args[1].(string)
		col2, ok3 := args[2].(string)
		if ok && ok2 && ok3 {
			j.on = append(j.on, ast.Cond{Kind: ast.CondColumn, Bool: boolOp, Column: col1, Op: op, Target: col2})
			return j
		}
	}
	j.b.fail("on: unsupported argument combination")
	return j
}

// OnIn adds column IN (values) to the ON tree.
func (j *JoinClause) OnIn(column string, values interface{}) *JoinClause {
	cond := ast.Cond{Kind: ast.CondIn, Bool: "and", Column: column}
	switch v := values.(type) {
	case []interface{}:
		cond.Values = v
	case *Builder:
		cond.Sub = v.q
	case *ast.Raw:
		cond.Raw = v
	default:
		vals, ok := toInterfaceSlice(values)
		if !ok {
			j.b.fail("onIn: unsupported values %T", values)
			return j
		}
		cond.Values = vals
	}
	j.on = append(j.on, cond)
	return j
}

// OnBetween adds column BETWEEN lo AND hi to the ON tree.
func (j *JoinClause) OnBetween(column string, lo, hi interface{}) *JoinClause {
	j.on = append(j.on, ast.Cond{Kind: ast.CondBetween, Bool: "and", Column: column, Values: []interface{}{lo, hi}})
	return j
}

// OnExists adds EXISTS (sub-query) to the ON tree.
func (j *JoinClause) OnExists(sub interface{}) *JoinClause {
	q, ok := toQuery(sub)
	if !ok {
		j.b.fail("onExists: unsupported sub-query %T", sub)
		return j
	}
	j.on = append(j.on, ast.Cond{Kind: ast.CondExists, Bool: "and", Sub: q})
	return j
}

// OnNull adds column IS NULL to the ON tree.
func (j *JoinClause) OnNull(column string) *JoinClause {
	j.on = append(j.on, ast.Cond{Kind: ast.CondNull, Bool: "and", Column: column})
	return j
}

// OnNotNull adds column IS NOT NULL to the ON tree.
func (j *JoinClause) OnNotNull(column string) *JoinClause {
	j.on = append(j.on, ast.Cond{Kind: ast.CondNull, Bool: "and", Not: true, Column: column})
	return j
}

// OnVal compares a column against a bound value rather than another
// column.
func (j *JoinClause) OnVal(column, op string, value interface{}) *JoinClause {
	j.on = append(j.on, ast.Cond{Kind: ast.CondVal, Bool: "and", Column: column, Op: op, Value: value})
	return j
}

// OrOnVal is OnVal joined with OR.
func (j *JoinClause) OrOnVal(column, op string, value interface{}) *JoinClause {
	j.on = append(j.on, ast.Cond{Kind: ast.CondVal, Bool: "or", Column: column, Op: op, Value: value})
	return j
}

// Using replaces the ON tree with USING (columns).
func (j *JoinClause) Using(columns ...string) *JoinClause {
	j.on = []ast.Cond{{Kind: ast.CondUsing, Bool: "and", Columns: columns}}
	return j
}

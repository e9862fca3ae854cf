package builder

import (
	"github.com/sam-lord/knex/query/ast"
)

// Where appends a predicate joined with AND. Accepted forms:
//
//	Where("id", 1)                      column = value
//	Where("age", ">", 21)               column op value
//	Where(map[string]interface{}{...})  equality conjunction
//	Where(func(b *Builder) { ... })     parenthesized group
//	Where(Raw("lower(name) = ?", x))    raw predicate
//
// Values may be sub-builders or raw fragments.
func (b *Builder) Where(args ...interface{}) *Builder {
	return b.addWhere(&b.q.Wheres, "and", false, args)
}

// WhereNot appends a negated predicate joined with AND.
func (b *Builder) WhereNot(args ...interface{}) *Builder {
	return b.addWhere(&b.q.Wheres, "and", true, args)
}

// OrWhere appends a predicate joined with OR.
func (b *Builder) OrWhere(args ...interface{}) *Builder {
	return b.addWhere(&b.q.Wheres, "or", false, args)
}

// OrWhereNot appends a negated predicate joined with OR.
func (b *Builder) OrWhereNot(args ...interface{}) *Builder {
	return b.addWhere(&b.q.Wheres, "or", true, args)
}

func (b *Builder) addWhere(slot *[]ast.Cond, boolOp string, not bool, args []interface{}) *Builder {
	cond, err := b.makeCond(boolOp, not, args)
	if err != nil {
		return b.fail("%v", err)
	}
	*slot = append(*slot, cond)
	return b
}

func (b *Builder) makeCond(boolOp string, not bool, args []interface{}) (ast.Cond, error) {
	switch len(args) {
	case 1:
		switch v := args[0].(type) {
		case map[string]interface{}:
			group := make([]ast.Cond, 0, len(v))
			for _, col := range sortedKeys(v) {
				group = append(group, ast.Cond{Kind: ast.CondBasic, Bool: "and", Column: col, Op: "=", Value: v[col]})
			}
			return ast.Cond{Kind: ast.CondGroup, Bool: boolOp, Not: not, Group: group}, nil
		case func(*Builder):
			child := b.child()
			v(child)
			if child.err != nil {
				return ast.Cond{}, child.err
			}
			return ast.Cond{Kind: ast.CondGroup, Bool: boolOp, Not: not, Group: child.q.Wheres}, nil
		case *ast.Raw:
			return ast.Cond{Kind: ast.CondRaw, Bool: boolOp, Not: not, Raw: v}, nil
		case *Builder:
			return ast.Cond{Kind: ast.CondGroup, Bool: boolOp, Not: not, Group: v.q.Wheres}, nil
		}
		return ast.Cond{}, errArgs("where", args)
	case 2:
		col, ok := args[0].(string)
		if !ok {
			return ast.Cond{}, errArgs("where", args)
		}
		return ast.Cond{Kind: ast.CondBasic, Bool: boolOp, Not: not, Column: col, Op: "=", Value: wrapValue(args[1])}, nil
	case 3:
		col, ok := args[0].(string)
		op, ok2 := args[1].(string)
		if !ok || !ok2 {
			return ast.Cond{}, errArgs("where", args)
		}
		return ast.Cond{Kind: ast.CondBasic, Bool: boolOp, Not: not, Column: col, Op: op, Value: wrapValue(args[2])}, nil
	}
	return ast.Cond{}, errArgs("where", args)
}

// wrapValue lets sub-builders ride in value position.
func wrapValue(v interface{}) interface{} {
	if sub, ok := v.(*Builder); ok {
		return sub.q
	}
	return v
}

// WhereIn appends column IN (values | sub-query | raw).
func (b *Builder) WhereIn(column string, values interface{}) *Builder {
	return b.addIn(&b.q.Wheres, "and", false, column, values)
}

// WhereNotIn appends column NOT IN (...).
func (b *Builder) WhereNotIn(column string, values interface{}) *Builder {
	return b.addIn(&b.q.Wheres, "and", true, column, values)
}

// OrWhereIn appends an OR-joined IN predicate.
func (b *Builder) OrWhereIn(column string, values interface{}) *Builder {
	return b.addIn(&b.q.Wheres, "or", false, column, values)
}

// OrWhereNotIn appends an OR-joined NOT IN predicate.
func (b *Builder) OrWhereNotIn(column string, values interface{}) *Builder {
	return b.addIn(&b.q.Wheres, "or", true, column, values)
}

func (b *Builder) addIn(slot *[]ast.Cond, boolOp string, not bool, column string, values interface{}) *Builder {
	cond := ast.Cond{Kind: ast.CondIn, Bool: boolOp, Not: not, Column: column}
	switch v := values.(type) {
	case []interface{}:
		cond.Values = v
	case *ast.Raw:
		cond.Raw = v
	case *Builder:
		cond.Sub = v.q
	case *ast.Query:
		cond.Sub = v
	default:
		vals, ok := toInterfaceSlice(values)
		if !ok {
			return b.fail("whereIn: unsupported values %T", values)
		}
		cond.Values = vals
	}
	*slot = append(*slot, cond)
	return b
}

// WhereBetween appends column BETWEEN lo AND hi.
func (b *Builder) WhereBetween(column string, lo, hi interface{}) *Builder {
	b.q.Wheres = append(b.q.Wheres, ast.Cond{Kind: ast.CondBetween, Bool: "and", Column: column, Values: []interface{}{lo, hi}})
	return b
}

// WhereNotBetween appends column NOT BETWEEN lo AND hi.
func (b *Builder) WhereNotBetween(column string, lo, hi interface{}) *Builder {
	b.q.Wheres = append(b.q.Wheres, ast.Cond{Kind: ast.CondBetween, Bool: "and", Not: true, Column: column, Values: []interface{}{lo, hi}})
	return b
}

// OrWhereBetween appends an OR-joined BETWEEN predicate.
func (b *Builder) OrWhereBetween(column string, lo, hi interface{}) *Builder {
	b.q.Wheres = append(b.q.Wheres, ast.Cond{Kind: ast.CondBetween, Bool: "or", Column: column, Values: []interface{}{lo, hi}})
	return b
}

// WhereNull appends column IS NULL.
func (b *Builder) WhereNull(column string) *Builder {
	b.q.Wheres = append(b.q.Wheres, ast.Cond{Kind: ast.CondNull, Bool: "and", Column: column})
	return b
}

// WhereNotNull appends column IS NOT NULL.
func (b *Builder) WhereNotNull(column string) *Builder {
	b.q.Wheres = append(b.q.Wheres, ast.Cond{Kind: ast.CondNull, Bool: "and", Not: true, Column: column})
	return b
}

// OrWhereNull appends an OR-joined IS NULL predicate.
func (b *Builder) OrWhereNull(column string) *Builder {
	b.q.Wheres = append(b.q.Wheres, ast.Cond{Kind: ast.CondNull, Bool: "or", Column: column})
	return b
}

// OrWhereNotNull appends an OR-joined IS NOT NULL predicate.
func (b *Builder) OrWhereNotNull(column string) *Builder {
	b.q.Wheres = append(b.q.Wheres, ast.Cond{Kind: ast.CondNull, Bool: "or", Not: true, Column: column})
	return b
}

// WhereExists appends EXISTS (sub-query).
func (b *Builder) WhereExists(sub interface{}) *Builder {
	return b.addExists("and", false, sub)
}

// WhereNotExists appends NOT EXISTS (sub-query).
func (b *Builder) WhereNotExists(sub interface{}) *Builder {
	return b.addExists("and", true, sub)
}

// OrWhereExists appends an OR-joined EXISTS predicate.
func (b *Builder) OrWhereExists(sub interface{}) *Builder {
	return b.addExists("or", false, sub)
}

func (b *Builder) addExists(boolOp string, not bool, sub interface{}) *Builder {
	cond := ast.Cond{Kind: ast.CondExists, Bool: boolOp, Not: not}
	switch v := sub.(type) {
	case *ast.Raw:
		cond.Raw = v
	case func(*Builder):
		child := b.child()
		v(child)
		if child.err != nil {
			return b.fail("%v", child.err)
		}
		cond.Sub = child.q
	default:
		q, ok := toQuery(sub)
		if !ok {
			return b.fail("whereExists: unsupported sub-query %T", sub)
		}
		cond.Sub = q
	}
	b.q.Wheres = append(b.q.Wheres, cond)
	return b
}

// WhereLike appends column LIKE pattern.
func (b *Builder) WhereLike(column string, pattern interface{}) *Builder {
	return b.Where(column, "like", pattern)
}

// WhereILike appends a case-insensitive LIKE; backends without ILIKE
// get a lower()-wrapped rewrite at compile time.
func (b *Builder) WhereILike(column string, pattern interface{}) *Builder {
	return b.Where(column, "ilike", pattern)
}

// WhereRaw appends a verbatim predicate fragment.
func (b *Builder) WhereRaw(sql string, bindings ...interface{}) *Builder {
	b.q.Wheres = append(b.q.Wheres, ast.Cond{Kind: ast.CondRaw, Bool: "and", Raw: Raw(sql, bindings...)})
	return b
}

// OrWhereRaw appends an OR-joined verbatim predicate fragment.
func (b *Builder) OrWhereRaw(sql string, bindings ...interface{}) *Builder {
	b.q.Wheres = append(b.q.Wheres, ast.Cond{Kind: ast.CondRaw, Bool: "or", Raw: Raw(sql, bindings...)})
	return b
}

// WhereJSONPath compares the value at a JSON path with a bound value.
func (b *Builder) WhereJSONPath(column, path, op string, value interface{}) *Builder {
	b.q.Wheres = append(b.q.Wheres, ast.Cond{Kind: ast.CondJSONPath, Bool: "and", Column: column, Path: path, Op: op, Value: value})
	return b
}

// WhereJSONObject compares a JSON column against a whole document.
// Equality is expressed as mutual containment, which is insensitive
// to key order the way document equality should be.
func (b *Builder) WhereJSONObject(column string, value interface{}) *Builder {
	b.q.Wheres = append(b.q.Wheres, ast.Cond{
		Kind: ast.CondJSONSub, Bool: "and", Column: column,
		Superset: true, JSONValue: value,
	})
	b.q.Wheres = append(b.q.Wheres, ast.Cond{
		Kind: ast.CondJSONSub, Bool: "and", Column: column,
		Superset: false, JSONValue: value,
	})
	return b
}

// WhereJSONSupersetOf asserts the column document contains value.
func (b *Builder) WhereJSONSupersetOf(column string, value interface{}) *Builder {
	b.q.Wheres = append(b.q.Wheres, ast.Cond{Kind: ast.CondJSONSub, Bool: "and", Column: column, Superset: true, JSONValue: value})
	return b
}

// WhereJSONSubsetOf asserts the column document is contained in value.
func (b *Builder) WhereJSONSubsetOf(column string, value interface{}) *Builder {
	b.q.Wheres = append(b.q.Wheres, ast.Cond{Kind: ast.CondJSONSub, Bool: "and", Column: column, Superset: false, JSONValue: value})
	return b
}

// Having appends a HAVING predicate; forms mirror Where.
func (b *Builder) Having(args ...interface{}) *Builder {
	return b.addWhere(&b.q.Havings, "and", false, args)
}

// OrHaving appends an OR-joined HAVING predicate.
func (b *Builder) OrHaving(args ...interface{}) *Builder {
	return b.addWhere(&b.q.Havings, "or", false, args)
}

// HavingNot appends a negated HAVING predicate.
func (b *Builder) HavingNot(args ...interface{}) *Builder {
	return b.addWhere(&b.q.Havings, "and", true, args)
}

// HavingIn appends a HAVING column IN (...) predicate.
func (b *Builder) HavingIn(column string, values interface{}) *Builder {
	return b.addIn(&b.q.Havings, "and", false, column, values)
}

// HavingNotIn appends a HAVING column NOT IN (...) predicate.
func (b *Builder) HavingNotIn(column string, values interface{}) *Builder {
	return b.addIn(&b.q.Havings, "and", true, column, values)
}

// HavingNull appends HAVING column IS NULL.
func (b *Builder) HavingNull(column string) *Builder {
	b.q.Havings = append(b.q.Havings, ast.Cond{Kind: ast.CondNull, Bool: "and", Column: column})
	return b
}

// HavingBetween appends HAVING column BETWEEN lo AND hi.
func (b *Builder) HavingBetween(column string, lo, hi interface{}) *Builder {
	b.q.Havings = append(b.q.Havings, ast.Cond{Kind: ast.CondBetween, Bool: "and", Column: column, Values: []interface{}{lo, hi}})
	return b
}

// HavingRaw appends a verbatim HAVING fragment.
func (b *Builder) HavingRaw(sql string, bindings ...interface{}) *Builder {
	b.q.Havings = append(b.q.Havings, ast.Cond{Kind: ast.CondRaw, Bool: "and", Raw: Raw(sql, bindings...)})
	return b
}

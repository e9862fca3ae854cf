package compiler

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sam-lord/knex/query/ast"
)

// knownOps is the closed operator set the compiler recognizes.
// Anything else is emitted verbatim as the caller's responsibility.
var knownOps = map[string]bool{
	"=": true, ">": true, ">=": true, "<": true, "<=": true,
	"<>": true, "!=": true, "like": true, "ilike": true,
	"in": true, "not in": true, "between": true, "is": true, "is not": true,
}

// conds emits a predicate slot with its leading keyword, or nothing
// when the slot is empty.
func (c *compilation) conds(list []ast.Cond, keyword string) error {
	if len(list) == 0 {
		return nil
	}
	c.write(keyword)
	return c.condList(list)
}

// condList serializes a predicate sequence. The outermost AND level
// is unwrapped; explicit groups are parenthesized.
func (c *compilation) condList(list []ast.Cond) error {
	for i, cond := range list {
		if i > 0 {
			if cond.Bool == "or" {
				c.write(" or ")
			} else {
				c.write(" and ")
			}
		}
		if err := c.cond(cond); err != nil {
			return err
		}
	}
	return nil
}

func (c *compilation) cond(cond ast.Cond) error {
	switch cond.Kind {
	case ast.CondBasic:
		return c.condBasic(cond)
	case ast.CondColumn:
		op := cond.Op
		if op == "" {
			op = "="
		}
		if cond.Not {
			c.write("not ")
		}
		c.write(c.ident(cond.Column) + " " + op + " " + c.ident(cond.Target))
	case ast.CondVal:
		op := cond.Op
		if op == "" {
			op = "="
		}
		c.write(c.ident(cond.Column) + " " + op + " ")
		c.bind(cond.Value)
	case ast.CondIn:
		return c.condIn(cond)
	case ast.CondBetween:
		c.write(c.ident(cond.Column))
		if cond.Not {
			c.write(" not")
		}
		c.write(" between ")
		c.bind(cond.Values[0])
		c.write(" and ")
		c.bind(cond.Values[1])
	case ast.CondNull:
		c.write(c.ident(cond.Column) + " is ")
		if cond.Not {
			c.write("not ")
		}
		c.write("null")
	case ast.CondExists:
		if cond.Not {
			c.write("not ")
		}
		c.write("exists (")
		if cond.Raw != nil {
			c.raw(cond.Raw)
		} else if err := c.subquery(cond.Sub); err != nil {
			return err
		}
		c.write(")")
	case ast.CondRaw:
		if cond.Not {
			c.write("not (")
			c.raw(cond.Raw)
			c.write(")")
			return nil
		}
		c.raw(cond.Raw)
	case ast.CondGroup:
		if len(cond.Group) == 0 {
			c.write("1 = 1")
			return nil
		}
		if cond.Not {
			c.write("not ")
		}
		c.write("(")
		if err := c.condList(cond.Group); err != nil {
			return err
		}
		c.write(")")
	case ast.CondJSONPath:
		return c.condJSONPath(cond)
	case ast.CondJSONSub:
		return c.condJSONSub(cond)
	default:
		return fmt.Errorf("compile: unknown condition kind %q", cond.Kind)
	}
	return nil
}

func (c *compilation) condBasic(cond ast.Cond) error {
	op := strings.ToLower(strings.TrimSpace(cond.Op))
	if op == "" {
		op = "="
	}
	if !knownOps[op] {
		// verbatim, caller's responsibility
		op = strings.TrimSpace(cond.Op)
	}
	if op == "ilike" && !c.d.Features.SupportsILike {
		return c.condLowerLike(cond)
	}
	if cond.Not {
		c.write("not ")
	}
	c.write(c.ident(cond.Column) + " " + op + " ")
	switch v := cond.Value.(type) {
	case *ast.Query:
		c.write("(")
		if err := c.subquery(v); err != nil {
			return err
		}
		c.write(")")
	case *ast.Raw:
		c.raw(v)
	default:
		c.bind(v)
	}
	return nil
}

// condLowerLike rewrites ILIKE for backends without it.
func (c *compilation) condLowerLike(cond ast.Cond) error {
	if cond.Not {
		c.write("not ")
	}
	c.write("lower(" + c.ident(cond.Column) + ") like lower(")
	c.bind(cond.Value)
	c.write(")")
	return nil
}

func (c *compilation) condIn(cond ast.Cond) error {
	if cond.Sub == nil && cond.Raw == nil && len(cond.Values) == 0 {
		// empty list: never matches (or always, when negated)
		if cond.Not {
			c.write("1 = 1")
		} else {
			c.write("1 = 0")
		}
		return nil
	}
	c.write(c.ident(cond.Column))
	if cond.Not {
		c.write(" not in (")
	} else {
		c.write(" in (")
	}
	switch {
	case cond.Sub != nil:
		if err := c.subquery(cond.Sub); err != nil {
			return err
		}
	case cond.Raw != nil:
		c.raw(cond.Raw)
	default:
		for i, v := range cond.Values {
			if i > 0 {
				c.write(", ")
			}
			c.bind(v)
		}
	}
	c.write(")")
	return nil
}

func (c *compilation) condJSONPath(cond ast.Cond) error {
	if !c.d.Features.SupportsJSONPath {
		return unsupported("json path predicates")
	}
	op := cond.Op
	if op == "" {
		op = "="
	}
	col := c.ident(cond.Column)
	switch c.d.Name {
	case "pg", "cockroachdb":
		c.write("jsonb_path_query_first(" + col + ", ")
		c.bind(cond.Path)
		c.write("::jsonpath) #>> '{}' " + op + " ")
		c.bind(cond.Value)
	case "mysql":
		c.write("json_unquote(json_extract(" + col + ", ")
		c.bind(cond.Path)
		c.write(")) " + op + " ")
		c.bind(cond.Value)
	default:
		c.write("json_extract(" + col + ", ")
		c.bind(cond.Path)
		c.write(") " + op + " ")
		c.bind(cond.Value)
	}
	return nil
}

func (c *compilation) condJSONSub(cond ast.Cond) error {
	doc, err := json.Marshal(cond.JSONValue)
	if err != nil {
		return fmt.Errorf("compile: marshal json predicate: %w", err)
	}
	col := c.ident(cond.Column)
	switch c.d.Name {
	case "pg", "cockroachdb":
		if cond.Superset {
			c.write(col + " @> ")
		} else {
			c.write(col + " <@ ")
		}
		c.bind(string(doc))
	case "mysql":
		if cond.Superset {
			c.write("json_contains(" + col + ", ")
			c.bind(string(doc))
			c.write(")")
		} else {
			c.write("json_contains(")
			c.bind(string(doc))
			c.write(", " + col + ")")
		}
	default:
		return unsupported("json containment predicates")
	}
	return nil
}

package compiler

import (
	"sort"
	"strings"

	"github.com/sam-lord/knex/dialect"
	"github.com/sam-lord/knex/query/ast"
)

// insertColumns derives the sorted union of columns across all rows,
// so ragged multi-row inserts emit a stable column list.
func insertColumns(rows []map[string]interface{}) []string {
	seen := map[string]bool{}
	var cols []string
	for _, row := range rows {
		for col := range row {
			if !seen[col] {
				seen[col] = true
				cols = append(cols, col)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

func (c *compilation) insert(q *ast.Query) error {
	if err := c.with(q); err != nil {
		return err
	}
	ignoreViaPrefix := q.Conflict != nil && q.Conflict.Ignore && c.d.Name == "mysql"
	switch {
	case q.Replace && c.d.Name == "mysql":
		c.write("replace into ")
	case q.Replace && c.d.Name == "sqlite":
		c.write("insert or replace into ")
	case q.Replace && q.Conflict == nil:
		return unsupported("upsert without conflict target")
	case ignoreViaPrefix:
		c.write("insert ignore into ")
	default:
		c.write("insert into ")
	}
	c.write(c.table(q.Table, ""))

	cols := insertColumns(q.InsertRows)
	if len(cols) == 0 {
		c.write(" default values")
		c.returning(q)
		return nil
	}

	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = c.quote(col)
	}
	c.write(" (" + strings.Join(quoted, ", ") + ") values ")

	for i, row := range q.InsertRows {
		if i > 0 {
			c.write(", ")
		}
		c.write("(")
		for j, col := range cols {
			if j > 0 {
				c.write(", ")
			}
			v, present := row[col]
			if !present {
				if c.opts.UseNullAsDefault || c.d.Features.InsertsUndefinedAsNull {
					c.bind(nil)
				} else {
					c.write("default")
				}
				continue
			}
			switch val := v.(type) {
			case *ast.Raw:
				c.raw(val)
			case *ast.Query:
				c.write("(")
				if err := c.subquery(val); err != nil {
					return err
				}
				c.write(")")
			default:
				c.bind(v)
			}
		}
		c.write(")")
	}

	if q.Conflict != nil && !ignoreViaPrefix {
		if err := c.onConflict(q, cols); err != nil {
			return err
		}
	}
	c.returning(q)
	return nil
}

func (c *compilation) onConflict(q *ast.Query, insertCols []string) error {
	oc := q.Conflict
	if c.d.Name == "mysql" {
		// merge path; ignore is handled by the insert prefix
		if !oc.Merge {
			return nil
		}
		cols := oc.MergeColumns
		if len(cols) == 0 {
			cols = insertCols
		}
		parts := make([]string, len(cols))
		for i, col := range cols {
			parts[i] = c.quote(col) + " = values(" + c.quote(col) + ")"
		}
		c.write(" on duplicate key update " + strings.Join(parts, ", "))
		return nil
	}
	if !c.d.Features.SupportsOnConflict {
		return unsupported("on conflict")
	}
	c.write(" on conflict")
	if len(oc.Columns) > 0 {
		cols := make([]string, len(oc.Columns))
		for i, col := range oc.Columns {
			cols[i] = c.quote(col)
		}
		c.write(" (" + strings.Join(cols, ", ") + ")")
	}
	if oc.Ignore {
		c.write(" do nothing")
		return nil
	}
	cols := oc.MergeColumns
	if len(cols) == 0 {
		cols = insertCols
	}
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = c.quote(col) + " = excluded." + c.quote(col)
	}
	c.write(" do update set " + strings.Join(parts, ", "))
	return nil
}

func (c *compilation) update(q *ast.Query) error {
	if err := c.with(q); err != nil {
		return err
	}
	c.write("update " + c.table(q.Table, q.TableAlias) + " set ")
	for i, col := range sortedKeys(q.UpdateSet) {
		if i > 0 {
			c.write(", ")
		}
		c.write(c.quote(col) + " = ")
		switch v := q.UpdateSet[col].(type) {
		case *ast.Raw:
			c.raw(v)
		case *ast.Query:
			c.write("(")
			if err := c.subquery(v); err != nil {
				return err
			}
			c.write(")")
		default:
			c.bind(v)
		}
	}
	if err := c.conds(q.Wheres, " where "); err != nil {
		return err
	}
	if err := c.orderBy(q); err != nil {
		return err
	}
	if q.Limit != nil && c.d.Limit == dialect.LimitOffset {
		c.write(" limit ")
		c.numeric(*q.Limit, q.LimitSkipBinding)
	}
	c.returning(q)
	return nil
}

func (c *compilation) del(q *ast.Query) error {
	if err := c.with(q); err != nil {
		return err
	}
	c.write("delete from " + c.table(q.Table, q.TableAlias))
	if err := c.conds(q.Wheres, " where "); err != nil {
		return err
	}
	c.returning(q)
	return nil
}

func (c *compilation) truncate(q *ast.Query) error {
	if c.d.Name == "sqlite" {
		// sqlite has no TRUNCATE statement
		c.write("delete from " + c.table(q.Table, ""))
		return nil
	}
	c.write("truncate " + c.table(q.Table, ""))
	return nil
}

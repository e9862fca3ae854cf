package builder

import (
	"github.com/sam-lord/knex/query/ast"
)

// Insert turns the query into an INSERT. Data accepts a column map,
// a slice of column maps (multi-row VALUES), or a struct read
// through `db` tags. Optional trailing columns form the RETURNING
// list.
func (b *Builder) Insert(data interface{}, returning ...string) *Builder {
	rows, err := toRows(data)
	if err != nil {
		return b.fail("insert: %v", err)
	}
	b.q.Method = ast.MethodInsert
	b.q.InsertRows = rows
	if len(returning) > 0 {
		b.q.Returning = returning
	}
	return b
}

// Upsert inserts rows, replacing on key conflict. Backends without a
// REPLACE form need an OnConflict target chained on.
func (b *Builder) Upsert(data interface{}, returning ...string) *Builder {
	b.Insert(data, returning...)
	b.q.Replace = true
	return b
}

// Update turns the query into an UPDATE. Forms:
//
//	Update(map[string]interface{}{...})
//	Update("name", "Alice")
//	Update(struct{...})
func (b *Builder) Update(args ...interface{}) *Builder {
	b.q.Method = ast.MethodUpdate
	if b.q.UpdateSet == nil {
		b.q.UpdateSet = map[string]interface{}{}
	}
	switch len(args) {
	case 1:
		row, err := toRowMap(args[0])
		if err != nil {
			return b.fail("update: %v", err)
		}
		for col, v := range row {
			b.q.UpdateSet[col] = v
		}
	case 2:
		col, ok := args[0].(string)
		if !ok {
			return b.fail("update: column must be a string")
		}
		b.q.UpdateSet[col] = wrapValue(args[1])
	default:
		return b.fail("update: unsupported argument combination")
	}
	return b
}

// Delete turns the query into a DELETE. Optional trailing columns
// form the RETURNING list.
func (b *Builder) Delete(returning ...string) *Builder {
	b.q.Method = ast.MethodDelete
	if len(returning) > 0 {
		b.q.Returning = returning
	}
	return b
}

// Truncate turns the query into a TRUNCATE (emulated as an
// unfiltered DELETE on SQLite).
func (b *Builder) Truncate() *Builder {
	b.q.Method = ast.MethodTruncate
	return b
}

// Returning sets the RETURNING column list; "*" returns whole rows.
// Dialects without RETURNING drop the clause and the runner
// fabricates the response.
func (b *Builder) Returning(cols ...string) *Builder {
	b.q.Returning = cols
	return b
}

// ConflictBuilder finishes an OnConflict chain.
type ConflictBuilder struct {
	b *Builder
}

// OnConflict names the conflict target columns for the insert.
func (b *Builder) OnConflict(cols ...string) *ConflictBuilder {
	b.q.Conflict = &ast.OnConflict{Columns: cols}
	return &ConflictBuilder{b: b}
}

// Ignore drops conflicting rows silently.
func (cb *ConflictBuilder) Ignore() *Builder {
	cb.b.q.Conflict.Ignore = true
	return cb.b
}

// Merge updates conflicting rows from the inserted values; an
// optional column list limits the merged columns.
func (cb *ConflictBuilder) Merge(cols ...string) *Builder {
	cb.b.q.Conflict.Merge = true
	cb.b.q.Conflict.MergeColumns = cols
	return cb.b
}

func toRows(data interface{}) ([]map[string]interface{}, error) {
	switch v := data.(type) {
	case []map[string]interface{}:
		return v, nil
	case map[string]interface{}:
		return []map[string]interface{}{v}, nil
	case []interface{}:
		rows := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			row, err := toRowMap(item)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
		return rows, nil
	default:
		row, err := toRowMap(data)
		if err != nil {
			return nil, err
		}
		return []map[string]interface{}{row}, nil
	}
}

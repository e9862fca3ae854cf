// Package ast defines the query AST (Abstract Syntax Tree).
//
// A Query is a tagged record identifying its kind plus clause slots.
// Every slot is an ordered sequence so the compiler can preserve the
// caller's within-clause ordering while emitting clauses in canonical
// order.
package ast

// Method identifies the kind of statement a query compiles to.
type Method string

const (
	MethodSelect   Method = "select"
	MethodInsert   Method = "insert"
	MethodUpdate   Method = "update"
	MethodDelete   Method = "del"
	MethodRaw      Method = "raw"
	MethodTruncate Method = "truncate"
	MethodFirst    Method = "first"
	MethodPluck    Method = "pluck"
)

// Raw is an opaque SQL fragment with positional bindings. The
// compiler splices the SQL verbatim after placeholder repositioning
// and concatenates the bindings. `?` marks a placeholder, `\?` is a
// literal question mark.
type Raw struct {
	SQL      string
	Bindings []interface{}
}

// ColumnKind tags the variants a projection entry can take.
type ColumnKind string

const (
	ColumnRef       ColumnKind = "ref"
	ColumnWildcard  ColumnKind = "wildcard"
	ColumnRaw       ColumnKind = "raw"
	ColumnSubquery  ColumnKind = "subquery"
	ColumnAggregate ColumnKind = "aggregate"
)

// Column is a projection entry.
type Column struct {
	Kind  ColumnKind
	Name  string // dotted reference for ColumnRef, argument for ColumnAggregate
	Alias string
	Raw   *Raw
	Sub   *Query

	// Aggregate fields.
	Function string // count, sum, avg, min, max
	Distinct bool
	Args     []string // multi-column aggregate arguments
}

// CondKind tags the variants a predicate entry can take.
type CondKind string

const (
	CondBasic    CondKind = "basic"    // column op value
	CondColumn   CondKind = "column"   // column op column (join ON)
	CondIn       CondKind = "in"       // column in (values | subquery)
	CondBetween  CondKind = "between"  // column between lo and hi
	CondNull     CondKind = "null"     // column is null
	CondExists   CondKind = "exists"   // exists (subquery)
	CondRaw      CondKind = "raw"      // verbatim fragment
	CondGroup    CondKind = "group"    // parenthesized sub-tree
	CondJSONPath CondKind = "jsonpath" // json extraction op value
	CondJSONSub  CondKind = "jsonsub"  // json containment
	CondUsing    CondKind = "using"    // join USING (cols)
	CondVal      CondKind = "val"      // literal op value (join onVal)
)

// Cond is one node of a predicate tree. Bool is the connective that
// joins the node to its predecessor within the same slot ("and" or
// "or"); the first node's connective is ignored.
type Cond struct {
	Kind CondKind
	Bool string
	Not  bool

	Column string
	Op     string
	Value  interface{}

	// CondColumn target, CondBetween bounds, CondIn list.
	Target string
	Values []interface{}

	// Sub-tree payloads.
	Sub     *Query
	Raw     *Raw
	Group   []Cond
	Columns []string // CondUsing

	// JSON payloads.
	Path      string
	Superset  bool
	JSONValue interface{}
}

// JoinKind enumerates the supported join types.
type JoinKind string

const (
	JoinInner JoinKind = "inner"
	JoinLeft  JoinKind = "left"
	JoinRight JoinKind = "right"
	JoinFull  JoinKind = "full outer"
	JoinCross JoinKind = "cross"
)

// Join renders between FROM and WHERE. Exactly one of Table, Sub and
// Raw identifies the join target.
type Join struct {
	Kind  JoinKind
	Table string
	Alias string
	Sub   *Query
	Raw   *Raw
	On    []Cond
}

// Group is a GROUP BY entry.
type Group struct {
	Column string
	Raw    *Raw
}

// Order directions and null placement.
const (
	Asc        = "asc"
	Desc       = "desc"
	NullsFirst = "first"
	NullsLast  = "last"
)

// Order is an ORDER BY entry.
type Order struct {
	Column    string
	Raw       *Raw
	Direction string
	Nulls     string // "", "first" or "last"
}

// CTE is a common table expression attached to the query's WITH list.
type CTE struct {
	Name         string
	Columns      []string
	Body         *Query
	Raw          *Raw
	Recursive    bool
	Materialized *bool // nil = no hint
}

// SetOpKind enumerates the union-family operators.
type SetOpKind string

const (
	SetUnion     SetOpKind = "union"
	SetUnionAll  SetOpKind = "union all"
	SetIntersect SetOpKind = "intersect"
	SetExcept    SetOpKind = "except"
)

// SetOp is a union-family operand appended after the main query.
type SetOp struct {
	Kind SetOpKind
	Body *Query
	Raw  *Raw
	Wrap bool
}

// OnConflict describes insert conflict handling.
type OnConflict struct {
	Columns []string
	Ignore  bool
	Merge   bool
	// MergeColumns limits the merged columns; empty merges every
	// inserted column.
	MergeColumns []string
}

// Lock flags for row locking clauses.
type Lock string

const (
	LockNone        Lock = ""
	LockForUpdate   Lock = "for update"
	LockForShare    Lock = "for share"
	LockNoKeyUpdate Lock = "for no key update"
	LockKeyShare    Lock = "for key share"
)

// Query is the root AST node. Slots hold clause entries in the order
// the builder appended them; the compiler emits slots in canonical
// clause order regardless.
type Query struct {
	Method Method

	Schema     string
	Table      string
	TableAlias string
	TableSub   *Query
	TableRaw   *Raw

	CTEs       []CTE
	Distinct   bool
	DistinctOn []string
	Columns    []Column
	Joins      []Join
	Wheres     []Cond
	Groups     []Group
	Havings    []Cond
	Orders     []Order
	SetOps     []SetOp

	Limit             *int
	Offset            *int
	LimitSkipBinding  bool
	OffsetSkipBinding bool

	// DML payloads. InsertRows keeps one map per row; the compiler
	// derives a sorted column list across all rows. Replace marks an
	// upsert rendered as REPLACE / INSERT OR REPLACE where the
	// backend has one.
	InsertRows []map[string]interface{}
	Replace    bool
	UpdateSet  map[string]interface{}
	Returning  []string
	Conflict   *OnConflict

	Lock       Lock
	SkipLocked bool
	NoWait     bool

	// RawSQL is set for MethodRaw queries; all other slots are
	// ignored when it is present.
	RawSQL *Raw

	// PluckColumn records the column a pluck terminal unwraps.
	PluckColumn string
}

// New returns an empty select query against the given table.
func New(table string) *Query {
	return &Query{Method: MethodSelect, Table: table}
}

// Clone returns a deep copy sharing no mutable state with q.
func (q *Query) Clone() *Query {
	if q == nil {
		return nil
	}
	c := *q
	c.TableSub = q.TableSub.Clone()
	c.TableRaw = q.TableRaw.cloneRaw()
	c.CTEs = cloneCTEs(q.CTEs)
	c.DistinctOn = cloneStrings(q.DistinctOn)
	c.Columns = cloneColumns(q.Columns)
	c.Joins = cloneJoins(q.Joins)
	c.Wheres = cloneConds(q.Wheres)
	c.Groups = cloneGroups(q.Groups)
	c.Havings = cloneConds(q.Havings)
	c.Orders = cloneOrders(q.Orders)
	c.SetOps = cloneSetOps(q.SetOps)
	if q.Limit != nil {
		n := *q.Limit
		c.Limit = &n
	}
	if q.Offset != nil {
		n := *q.Offset
		c.Offset = &n
	}
	c.InsertRows = cloneRows(q.InsertRows)
	c.UpdateSet = cloneMap(q.UpdateSet)
	c.Returning = cloneStrings(q.Returning)
	if q.Conflict != nil {
		oc := *q.Conflict
		oc.Columns = cloneStrings(q.Conflict.Columns)
		oc.MergeColumns = cloneStrings(q.Conflict.MergeColumns)
		c.Conflict = &oc
	}
	c.RawSQL = q.RawSQL.cloneRaw()
	return &c
}

func (r *Raw) cloneRaw() *Raw {
	if r == nil {
		return nil
	}
	c := *r
	c.Bindings = append([]interface{}(nil), r.Bindings...)
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func cloneRows(rows []map[string]interface{}) []map[string]interface{} {
	if rows == nil {
		return nil
	}
	c := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		c[i] = cloneMap(r)
	}
	return c
}

func cloneColumns(cols []Column) []Column {
	if cols == nil {
		return nil
	}
	c := make([]Column, len(cols))
	for i, col := range cols {
		c[i] = col
		c[i].Raw = col.Raw.cloneRaw()
		c[i].Sub = col.Sub.Clone()
		c[i].Args = cloneStrings(col.Args)
	}
	return c
}

func cloneConds(conds []Cond) []Cond {
	if conds == nil {
		return nil
	}
	c := make([]Cond, len(conds))
	for i, cond := range conds {
		c[i] = cond
		c[i].Values = append([]interface{}(nil), cond.Values...)
		c[i].Sub = cond.Sub.Clone()
		c[i].Raw = cond.Raw.cloneRaw()
		c[i].Group = cloneConds(cond.Group)
		c[i].Columns = cloneStrings(cond.Columns)
		switch v := cond.Value.(type) {
		case *Query:
			c[i].Value = v.Clone()
		case *Raw:
			c[i].Value = v.cloneRaw()
		}
	}
	return c
}

func cloneJoins(joins []Join) []Join {
	if joins == nil {
		return nil
	}
	c := make([]Join, len(joins))
	for i, j := range joins {
		c[i] = j
		c[i].Sub = j.Sub.Clone()
		c[i].Raw = j.Raw.cloneRaw()
		c[i].On = cloneConds(j.On)
	}
	return c
}

func cloneGroups(groups []Group) []Group {
	if groups == nil {
		return nil
	}
	c := make([]Group, len(groups))
	for i, g := range groups {
		c[i] = g
		c[i].Raw = g.Raw.cloneRaw()
	}
	return c
}

func cloneOrders(orders []Order) []Order {
	if orders == nil {
		return nil
	}
	c := make([]Order, len(orders))
	for i, o := range orders {
		c[i] = o
		c[i].Raw = o.Raw.cloneRaw()
	}
	return c
}

func cloneCTEs(ctes []CTE) []CTE {
	if ctes == nil {
		return nil
	}
	c := make([]CTE, len(ctes))
	for i, cte := range ctes {
		c[i] = cte
		c[i].Columns = cloneStrings(cte.Columns)
		c[i].Body = cte.Body.Clone()
		c[i].Raw = cte.Raw.cloneRaw()
		if cte.Materialized != nil {
			m := *cte.Materialized
			c[i].Materialized = &m
		}
	}
	return c
}

func cloneSetOps(ops []SetOp) []SetOp {
	if ops == nil {
		return nil
	}
	c := make([]SetOp, len(ops))
	for i, op := range ops {
		c[i] = op
		c[i].Body = op.Body.Clone()
		c[i].Raw = op.Raw.cloneRaw()
	}
	return c
}

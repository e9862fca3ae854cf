package builder_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sam-lord/knex/dialect"
	"github.com/sam-lord/knex/query/builder"
	"github.com/sam-lord/knex/query/compiler"
)

func qb(table string) *builder.Builder {
	return builder.New(table, dialect.Postgres, compiler.Options{}, nil)
}

func sqlOf(t *testing.T, b *builder.Builder) string {
	t.Helper()
	c, err := b.ToSQL()
	require.NoError(t, err)
	return c.SQL
}

func TestCloneSharesNothing(t *testing.T) {
	orig := qb("t").Where("a", 1)
	clone := orig.Clone().Where("b", 2).Select("x")

	assert.Equal(t, `select * from "t" where "a" = $1`, sqlOf(t, orig))
	assert.Equal(t, `select "x" from "t" where "a" = $1 and "b" = $2`, sqlOf(t, clone))
}

func TestCloneDeepCopiesNestedState(t *testing.T) {
	sub := qb("inner").Where("x", 1)
	orig := qb("t").WhereIn("id", sub)
	clone := orig.Clone()
	sub.Where("y", 2)

	// the clone snapshotted the sub-query before the late mutation
	assert.NotContains(t, sqlOf(t, clone), `"y"`)
	assert.Contains(t, sqlOf(t, orig), `"y"`)
}

func TestToSQLTwiceEqual(t *testing.T) {
	b := qb("t").Where("a", 1).OrderBy("b", "desc").Limit(3)
	first, err := b.ToSQL()
	require.NoError(t, err)
	second, err := b.ToSQL()
	require.NoError(t, err)
	assert.Equal(t, first.SQL, second.SQL)
	assert.Equal(t, first.Bindings, second.Bindings)
}

func TestCompiledSnapshotSurvivesLaterChaining(t *testing.T) {
	b := qb("t").Where("a", 1)
	first, err := b.ToSQL()
	require.NoError(t, err)
	snapshot := first.SQL

	b.Where("b", 2).OrderBy("c")
	assert.Equal(t, snapshot, first.SQL)
	assert.NotEqual(t, snapshot, sqlOf(t, b))
}

func TestAndCommutativityUpToReordering(t *testing.T) {
	ab := sqlOf(t, qb("t").Where("a", 1).Where("b", 2))
	ba := sqlOf(t, qb("t").Where("b", 2).Where("a", 1))

	// same conjuncts, order reflects call order
	assert.Equal(t, `select * from "t" where "a" = $1 and "b" = $2`, ab)
	assert.Equal(t, `select * from "t" where "b" = $1 and "a" = $2`, ba)
	norm := func(s string) []string {
		s = strings.TrimPrefix(s, `select * from "t" where `)
		parts := strings.Split(s, " and ")
		for i := range parts {
			parts[i] = strings.Split(parts[i], " = ")[0]
		}
		return parts
	}
	assert.ElementsMatch(t, norm(ab), norm(ba))
}

func TestClearAndRebuildEqualsDirectBuild(t *testing.T) {
	direct := qb("t").Where("a", 1).OrderBy("b")
	rebuilt := qb("t").Where("junk", 0).OrderBy("junk").
		ClearWhere().ClearOrder().
		Where("a", 1).OrderBy("b")

	assert.Equal(t, sqlOf(t, direct), sqlOf(t, rebuilt))
}

func TestClearSlots(t *testing.T) {
	b := qb("t").Select("a").Count().GroupBy("a").Having("n", ">", 1).
		OrderBy("a").Limit(1).Offset(2)

	b.ClearCounters()
	assert.NotContains(t, sqlOf(t, b), "count")

	b.ClearSelect().ClearGroup().ClearHaving().ClearOrder().Clear("limit").Clear("offset")
	assert.Equal(t, `select * from "t"`, sqlOf(t, b))
}

func TestClearUnknownSlotFails(t *testing.T) {
	_, err := qb("t").Clear("bogus").ToSQL()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown slot")
}

func TestInvalidArgumentsSurfaceAtTerminal(t *testing.T) {
	_, err := qb("t").Where(42).ToSQL()
	require.Error(t, err)

	_, err = qb("t").OrderBy("a", "sideways").ToSQL()
	require.Error(t, err)

	_, err = qb("t").Join("b").ToSQL()
	require.Error(t, err)
}

func TestFromReplacesTarget(t *testing.T) {
	b := qb("one").From("two").From("three")
	assert.Equal(t, `select * from "three"`, sqlOf(t, b))
}

func TestTimeoutCancelRejectedWhenDialectCannot(t *testing.T) {
	b := builder.New("t", dialect.SQLite, compiler.Options{}, nil).Timeout(time.Second, true)
	_, err := b.ToSQL()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot cancel")
}

func TestTypedSliceWhereIn(t *testing.T) {
	c, err := qb("t").WhereIn("id", []int{1, 2}).ToSQL()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2}, c.Bindings)
}

func TestInsertStructWithTags(t *testing.T) {
	type user struct {
		Name  string `db:"name"`
		Email string `db:"email"`
		Skip  string `db:"-"`
	}
	c, err := qb("users").Insert(user{Name: "a", Email: "b", Skip: "x"}).ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `insert into "users" ("email", "name") values ($1, $2)`, c.SQL)
	assert.Equal(t, []interface{}{"b", "a"}, c.Bindings)
}

func TestExecutingTerminalWithoutExecutor(t *testing.T) {
	_, err := qb("t").Rows(context.Background())
	assert.ErrorIs(t, err, builder.ErrNotExecutable)
}

func TestToStringLiteralizesBindings(t *testing.T) {
	s, err := qb("t").Where("a", 1).Where("b", "x'y").ToString()
	require.NoError(t, err)
	assert.Equal(t, `select * from "t" where "a" = 1 and "b" = 'x''y'`, s)
}

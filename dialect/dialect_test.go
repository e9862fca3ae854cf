package dialect_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sam-lord/knex/dialect"
)

func TestRegistryResolvesAliases(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"pg", "pg"},
		{"postgres", "pg"},
		{"postgresql", "pg"},
		{"mysql", "mysql"},
		{"mysql2", "mysql"},
		{"sqlite", "sqlite"},
		{"better-sqlite", "sqlite"},
		{"node-sqlite", "sqlite"},
		{"mssql", "mssql"},
		{"oracle", "oracle"},
		{"redshift", "redshift"},
		{"cockroachdb", "cockroachdb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := dialect.Get(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Name)
		})
	}
}

func TestRegistryUnknownName(t *testing.T) {
	_, err := dialect.Get("dbase")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown dialect "dbase"`)
}

func TestQuoting(t *testing.T) {
	assert.Equal(t, `"users"`, dialect.Postgres.Quote("users"))
	assert.Equal(t, "`users`", dialect.MySQL.Quote("users"))
	assert.Equal(t, "[users]", dialect.MSSQL.Quote("users"))
	assert.Equal(t, "*", dialect.Postgres.Quote("*"))

	// embedded quote characters are doubled
	assert.Equal(t, `"a""b"`, dialect.Postgres.Quote(`a"b`))
	assert.Equal(t, "[a]]b]", dialect.MSSQL.Quote("a]b"))
}

func TestPlaceholderStyles(t *testing.T) {
	assert.Equal(t, "?", dialect.MySQL.Placeholder.Render(3))
	assert.Equal(t, "$3", dialect.Postgres.Placeholder.Render(3))
	assert.Equal(t, "@p3", dialect.MSSQL.Placeholder.Render(3))
	assert.Equal(t, ":3", dialect.Oracle.Placeholder.Render(3))
}

func TestColumnTypesClosedSet(t *testing.T) {
	types := []string{
		"increments", "bigIncrements", "integer", "tinyint", "smallint",
		"mediumint", "bigInteger", "text", "string", "float", "double",
		"decimal", "boolean", "date", "dateTime", "datetime", "time",
		"timestamp", "geometry", "geography", "point", "binary", "enum",
		"json", "jsonb", "uuid",
	}
	dialects := []*dialect.Dialect{
		dialect.Postgres, dialect.MySQL, dialect.SQLite,
		dialect.MSSQL, dialect.Oracle, dialect.Redshift,
	}
	for _, d := range dialects {
		for _, typ := range types {
			decl, err := d.ColumnType(typ)
			require.NoError(t, err, "%s/%s", d.Name, typ)
			assert.NotEmpty(t, decl)
		}
		_, err := d.ColumnType("varchar2000")
		assert.Error(t, err)
	}
}

func TestParameterizedColumnTypes(t *testing.T) {
	got, err := dialect.Postgres.ColumnType("string", 40)
	require.NoError(t, err)
	assert.Equal(t, "varchar(40)", got)

	got, err = dialect.MySQL.ColumnType("decimal", 10, 4)
	require.NoError(t, err)
	assert.Equal(t, "decimal(10, 4)", got)

	got, err = dialect.MySQL.ColumnType("enum", "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "enum('a', 'b')", got)

	got, err = dialect.Postgres.ColumnType("decimal")
	require.NoError(t, err)
	assert.Equal(t, "decimal(8, 2)", got)
}

func TestEscapeValue(t *testing.T) {
	d := dialect.Postgres
	assert.Equal(t, "NULL", d.EscapeValue(nil))
	assert.Equal(t, "true", d.EscapeValue(true))
	assert.Equal(t, "'o''brien'", d.EscapeValue("o'brien"))
	assert.Equal(t, "42", d.EscapeValue(42))

	ts := time.Date(2021, 3, 4, 5, 6, 7, 0, time.FixedZone("x", 3600))
	assert.Equal(t, "'2021-03-04 04:06:07.000000+00:00'", d.EscapeValue(ts))

	// backends without booleans literalize as 0/1
	assert.Equal(t, "1", dialect.MySQL.EscapeValue(true))
	assert.Equal(t, "0", dialect.SQLite.EscapeValue(false))
}

func TestClassifyPostgresErrors(t *testing.T) {
	tests := []struct {
		code string
		want dialect.ErrorKind
	}{
		{"23505", dialect.KindConstraint},
		{"23503", dialect.KindConstraint},
		{"23502", dialect.KindConstraint},
		{"23514", dialect.KindConstraint},
		{"42601", dialect.KindSyntax},
		{"08006", dialect.KindConnection},
		{"57014", dialect.KindCancelled},
		{"55P03", dialect.KindTimeout},
		{"22012", dialect.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := &pq.Error{Code: pq.ErrorCode(tt.code)}
			assert.Equal(t, tt.want, dialect.Postgres.Classify(err))
		})
	}
}

func TestClassifyMySQLErrors(t *testing.T) {
	tests := []struct {
		number uint16
		want   dialect.ErrorKind
	}{
		{1062, dialect.KindConstraint},
		{1452, dialect.KindConstraint},
		{1048, dialect.KindConstraint},
		{3819, dialect.KindConstraint},
		{1064, dialect.KindSyntax},
		{1205, dialect.KindTimeout},
		{1317, dialect.KindCancelled},
		{2006, dialect.KindConnection},
		{1146, dialect.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.number), func(t *testing.T) {
			err := &mysql.MySQLError{Number: tt.number, Message: "x"}
			assert.Equal(t, tt.want, dialect.MySQL.Classify(err))
		})
	}
}

func TestClassifySQLiteErrors(t *testing.T) {
	assert.Equal(t, dialect.KindConstraint,
		dialect.SQLite.Classify(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.Equal(t, dialect.KindTimeout,
		dialect.SQLite.Classify(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.Equal(t, dialect.KindCancelled,
		dialect.SQLite.Classify(sqlite3.Error{Code: sqlite3.ErrInterrupt}))
}

func TestClassifyCommonContextErrors(t *testing.T) {
	for _, d := range []*dialect.Dialect{dialect.Postgres, dialect.MySQL, dialect.SQLite, dialect.MSSQL} {
		assert.Equal(t, dialect.KindTimeout, d.Classify(context.DeadlineExceeded), d.Name)
		assert.Equal(t, dialect.KindCancelled, d.Classify(context.Canceled), d.Name)
	}
}

func TestErrorHookWins(t *testing.T) {
	d := *dialect.MSSQL
	d.ErrorHook = func(err error) dialect.ErrorKind {
		if errors.Is(err, errTeapot) {
			return dialect.KindConstraint
		}
		return dialect.KindUnknown
	}
	assert.Equal(t, dialect.KindConstraint, d.Classify(errTeapot))
	assert.Equal(t, dialect.KindSyntax, d.Classify(errors.New("incorrect syntax near 'form'")))
}

var errTeapot = errors.New("teapot")

package dialect

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

func init() {
	Register(Postgres, "pg", "postgres", "postgresql")
	Register(Redshift, "redshift")
	Register(CockroachDB, "cockroachdb")
}

// Postgres is the PostgreSQL dialect.
var Postgres = &Dialect{
	Name:        "pg",
	DriverName:  "postgres",
	Placeholder: PlaceholderDollar,
	Limit:       LimitOffset,
	Features: Features{
		SupportsReturning:         true,
		SupportsCTE:               true,
		SupportsRecursiveCTE:      true,
		SupportsMaterializedCTE:   true,
		SupportsJSONPath:          true,
		SupportsOnConflict:        true,
		SupportsUpdateFrom:        true,
		SupportsForUpdateOfTables: true,
		SupportsSkipLocked:        true,
		SupportsDistinctOn:        true,
		SupportsILike:             true,
		SupportsBoolean:           true,
	},
	Quote:         quoteWith(`"`, `"`),
	ColumnType:    postgresColumnType,
	EscapeValue:   escapeValue,
	ClassifyError: classifyPostgresError,
	ValidateStmt:  "select 1",
	CanCancel:     true,
}

// Redshift speaks the PostgreSQL wire protocol but lacks most of the
// modern feature set.
var Redshift = &Dialect{
	Name:        "redshift",
	DriverName:  "postgres",
	Placeholder: PlaceholderDollar,
	Limit:       LimitOffset,
	Features: Features{
		SupportsCTE:          true,
		SupportsRecursiveCTE: true,
		SupportsILike:        true,
		SupportsBoolean:      true,
	},
	Quote:         quoteWith(`"`, `"`),
	ColumnType:    redshiftColumnType,
	EscapeValue:   escapeValue,
	ClassifyError: classifyPostgresError,
	ValidateStmt:  "select 1",
	CanCancel:     true,
}

// CockroachDB tracks the PostgreSQL dialect with a few gaps.
var CockroachDB = &Dialect{
	Name:        "cockroachdb",
	DriverName:  "postgres",
	Placeholder: PlaceholderDollar,
	Limit:       LimitOffset,
	Features: Features{
		SupportsReturning:         true,
		SupportsCTE:               true,
		SupportsRecursiveCTE:      true,
		SupportsJSONPath:          true,
		SupportsOnConflict:        true,
		SupportsUpdateFrom:        true,
		SupportsForUpdateOfTables: true,
		SupportsSkipLocked:        true,
		SupportsDistinctOn:        true,
		SupportsILike:             true,
		SupportsBoolean:           true,
	},
	Quote:         quoteWith(`"`, `"`),
	ColumnType:    postgresColumnType,
	EscapeValue:   escapeValue,
	ClassifyError: classifyPostgresError,
	ValidateStmt:  "select 1",
	CanCancel:     true,
}

func postgresColumnType(name string, args ...interface{}) (string, error) {
	switch name {
	case "increments":
		return "serial primary key", nil
	case "bigIncrements":
		return "bigserial primary key", nil
	case "integer", "mediumint":
		return "integer", nil
	case "tinyint", "smallint":
		return "smallint", nil
	case "bigInteger":
		return "bigint", nil
	case "text":
		return "text", nil
	case "string":
		return fmt.Sprintf("varchar(%d)", sizeArg(args, 255)), nil
	case "float":
		return "real", nil
	case "double":
		return "double precision", nil
	case "decimal":
		p, s := precisionArgs(args)
		return fmt.Sprintf("decimal(%d, %d)", p, s), nil
	case "boolean":
		return "boolean", nil
	case "date":
		return "date", nil
	case "dateTime", "datetime", "timestamp":
		return "timestamptz", nil
	case "time":
		return "time", nil
	case "geometry":
		return "geometry", nil
	case "geography":
		return "geography", nil
	case "point":
		return "point", nil
	case "binary":
		return "bytea", nil
	case "enum":
		return "text", nil
	case "json":
		return "json", nil
	case "jsonb":
		return "jsonb", nil
	case "uuid":
		return "uuid", nil
	}
	return "", unknownType("pg", name)
}

func redshiftColumnType(name string, args ...interface{}) (string, error) {
	switch name {
	case "increments":
		return "integer identity(1,1) primary key not null", nil
	case "bigIncrements":
		return "bigint identity(1,1) primary key not null", nil
	case "json", "jsonb":
		return "varchar(max)", nil
	case "text":
		return "varchar(max)", nil
	case "binary":
		return "varchar(max)", nil
	case "uuid":
		return "char(36)", nil
	}
	return postgresColumnType(name, args...)
}

// classifyPostgresError maps lib/pq error codes onto the canonical
// kinds. Class 23 covers every constraint family; 57014 is the
// server's statement-cancel code.
func classifyPostgresError(err error) ErrorKind {
	if k := classifyCommon(err); k != KindUnknown {
		return k
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return KindUnknown
	}
	switch pqErr.Code {
	case "57014":
		return KindCancelled
	case "55P03":
		return KindTimeout
	}
	switch pqErr.Code.Class() {
	case "23":
		return KindConstraint
	case "42":
		return KindSyntax
	case "08":
		return KindConnection
	case "57":
		return KindConnection
	}
	return KindUnknown
}

package dialect

import (
	"errors"
	"fmt"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
)

func init() {
	Register(SQLite, "sqlite", "sqlite3", "better-sqlite", "node-sqlite")
}

// SQLite is the SQLite dialect, shared by the better-sqlite and
// node-sqlite registry aliases.
var SQLite = &Dialect{
	Name:        "sqlite",
	DriverName:  "sqlite3",
	Placeholder: PlaceholderQuestion,
	Limit:       LimitOffset,
	Features: Features{
		SupportsCTE:             true,
		SupportsRecursiveCTE:    true,
		SupportsMaterializedCTE: true,
		SupportsJSONPath:        true,
		SupportsOnConflict:      true,
		SupportsUpdateFrom:      true,
		InsertsUndefinedAsNull:  true,
	},
	Quote:         quoteWith(`"`, `"`),
	ColumnType:    sqliteColumnType,
	EscapeValue:   escapeValueBoolAsInt,
	ClassifyError: classifySQLiteError,
	BoolAsInt:     true,
	ValidateStmt:  "select 1",
}

func sqliteColumnType(name string, args ...interface{}) (string, error) {
	switch name {
	case "increments", "bigIncrements":
		return "integer not null primary key autoincrement", nil
	case "integer", "mediumint":
		return "integer", nil
	case "tinyint":
		return "tinyint", nil
	case "smallint":
		return "smallint", nil
	case "bigInteger":
		return "bigint", nil
	case "text":
		return "text", nil
	case "string":
		return fmt.Sprintf("varchar(%d)", sizeArg(args, 255)), nil
	case "float", "double":
		return "float", nil
	case "decimal":
		p, s := precisionArgs(args)
		return fmt.Sprintf("decimal(%d, %d)", p, s), nil
	case "boolean":
		return "boolean", nil
	case "date":
		return "date", nil
	case "dateTime", "datetime", "timestamp":
		return "datetime", nil
	case "time":
		return "time", nil
	case "geometry", "geography", "point":
		return "blob", nil
	case "binary":
		return "blob", nil
	case "enum":
		return "text", nil
	case "json", "jsonb":
		return "json", nil
	case "uuid":
		return "char(36)", nil
	}
	return "", unknownType("sqlite", name)
}

// classifySQLiteError maps mattn/go-sqlite3 result codes onto the
// canonical kinds.
func classifySQLiteError(err error) ErrorKind {
	if k := classifyCommon(err); k != KindUnknown {
		return k
	}
	var sqErr sqlite3.Error
	if !errors.As(err, &sqErr) {
		return KindUnknown
	}
	switch sqErr.Code {
	case sqlite3.ErrConstraint:
		return KindConstraint
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return KindTimeout
	case sqlite3.ErrInterrupt:
		return KindCancelled
	case sqlite3.ErrCantOpen, sqlite3.ErrNotADB, sqlite3.ErrAuth, sqlite3.ErrPerm:
		return KindConnection
	case sqlite3.ErrError:
		if strings.Contains(err.Error(), "syntax error") {
			return KindSyntax
		}
	}
	return KindUnknown
}

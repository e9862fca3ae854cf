package dialect

import (
	"fmt"
	"strings"
)

func init() {
	Register(MSSQL, "mssql")
}

// MSSQL is the SQL Server dialect. The module links no SQL Server
// driver, so error classification relies on the ErrorHook plus a
// message-based fallback.
var MSSQL = &Dialect{
	Name:        "mssql",
	Placeholder: PlaceholderAt,
	Limit:       TopStyle,
	Features: Features{
		SupportsCTE:          true,
		SupportsRecursiveCTE: true,
		SupportsJSONPath:     true,
	},
	Quote:         quoteBracket,
	ColumnType:    mssqlColumnType,
	EscapeValue:   escapeValueBoolAsInt,
	ClassifyError: classifyByMessage,
	BoolAsInt:     true,
	ValidateStmt:  "select 1",
}

// quoteBracket quotes a segment in square brackets, doubling any
// closing bracket inside.
func quoteBracket(segment string) string {
	if segment == "*" {
		return segment
	}
	return "[" + strings.ReplaceAll(segment, "]", "]]") + "]"
}

func mssqlColumnType(name string, args ...interface{}) (string, error) {
	switch name {
	case "increments":
		return "int identity(1,1) not null primary key", nil
	case "bigIncrements":
		return "bigint identity(1,1) not null primary key", nil
	case "integer", "mediumint":
		return "int", nil
	case "tinyint":
		return "tinyint", nil
	case "smallint":
		return "smallint", nil
	case "bigInteger":
		return "bigint", nil
	case "text":
		return "nvarchar(max)", nil
	case "string":
		return fmt.Sprintf("nvarchar(%d)", sizeArg(args, 255)), nil
	case "float":
		return "float", nil
	case "double":
		return "float", nil
	case "decimal":
		p, s := precisionArgs(args)
		return fmt.Sprintf("decimal(%d, %d)", p, s), nil
	case "boolean":
		return "bit", nil
	case "date":
		return "date", nil
	case "dateTime", "datetime", "timestamp":
		return "datetime2", nil
	case "time":
		return "time", nil
	case "geometry":
		return "geometry", nil
	case "geography":
		return "geography", nil
	case "point":
		return "geometry", nil
	case "binary":
		return fmt.Sprintf("varbinary(%d)", sizeArg(args, 255)), nil
	case "enum":
		return "nvarchar(100)", nil
	case "json", "jsonb":
		return "nvarchar(max)", nil
	case "uuid":
		return "uniqueidentifier", nil
	}
	return "", unknownType("mssql", name)
}

// classifyByMessage is a best-effort classifier for backends whose
// driver the module does not link.
func classifyByMessage(err error) ErrorKind {
	if k := classifyCommon(err); k != KindUnknown {
		return k
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "constraint") || strings.Contains(msg, "duplicate key"):
		return KindConstraint
	case strings.Contains(msg, "syntax"):
		return KindSyntax
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network"):
		return KindConnection
	case strings.Contains(msg, "timeout"):
		return KindTimeout
	}
	return KindUnknown
}

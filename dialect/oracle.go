package dialect

import "fmt"

func init() {
	Register(Oracle, "oracle", "oracledb")
}

// Oracle is the Oracle dialect. No Oracle driver is linked; error
// classification goes through the ErrorHook with a message fallback.
var Oracle = &Dialect{
	Name:        "oracle",
	Placeholder: PlaceholderColon,
	Limit:       FetchOffset,
	Features: Features{
		SupportsReturning:    true,
		SupportsCTE:          true,
		SupportsRecursiveCTE: true,
		SupportsJSONPath:     true,
		SupportsSkipLocked:   true,
	},
	Quote:         quoteWith(`"`, `"`),
	ColumnType:    oracleColumnType,
	EscapeValue:   escapeValueBoolAsInt,
	ClassifyError: classifyByMessage,
	BoolAsInt:     true,
	ValidateStmt:  "select 1 from dual",
}

func oracleColumnType(name string, args ...interface{}) (string, error) {
	switch name {
	case "increments":
		return "number(10, 0) generated by default on null as identity primary key", nil
	case "bigIncrements":
		return "number(20, 0) generated by default on null as identity primary key", nil
	case "integer", "mediumint":
		return "number(10, 0)", nil
	case "tinyint":
		return "number(3, 0)", nil
	case "smallint":
		return "number(5, 0)", nil
	case "bigInteger":
		return "number(20, 0)", nil
	case "text":
		return "clob", nil
	case "string":
		return fmt.Sprintf("varchar2(%d)", sizeArg(args, 255)), nil
	case "float":
		return "binary_float", nil
	case "double":
		return "binary_double", nil
	case "decimal":
		p, s := precisionArgs(args)
		return fmt.Sprintf("number(%d, %d)", p, s), nil
	case "boolean":
		return "number(1, 0)", nil
	case "date":
		return "date", nil
	case "dateTime", "datetime", "timestamp":
		return "timestamp with local time zone", nil
	case "time":
		return "timestamp with local time zone", nil
	case "geometry", "geography", "point":
		return "sdo_geometry", nil
	case "binary":
		return fmt.Sprintf("raw(%d)", sizeArg(args, 255)), nil
	case "enum":
		return "varchar2(100)", nil
	case "json", "jsonb":
		return "clob", nil
	case "uuid":
		return "char(36)", nil
	}
	return "", unknownType("oracle", name)
}

package dialect

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

func init() {
	Register(MySQL, "mysql", "mysql2")
}

// MySQL is the MySQL/MariaDB dialect.
var MySQL = &Dialect{
	Name:        "mysql",
	DriverName:  "mysql",
	Placeholder: PlaceholderQuestion,
	Limit:       LimitOffset,
	Features: Features{
		SupportsCTE:          true,
		SupportsRecursiveCTE: true,
		SupportsJSONPath:     true,
		SupportsSkipLocked:   true,
	},
	Quote:                  quoteWith("`", "`"),
	ColumnType:             mysqlColumnType,
	EscapeValue:            escapeValueBoolAsInt,
	ClassifyError:          classifyMySQLError,
	BoolAsInt:              true,
	RequiresLimitForOffset: true,
	ValidateStmt:           "select 1",
	CanCancel:              true,
}

func mysqlColumnType(name string, args ...interface{}) (string, error) {
	switch name {
	case "increments":
		return "int unsigned not null auto_increment primary key", nil
	case "bigIncrements":
		return "bigint unsigned not null auto_increment primary key", nil
	case "integer":
		return "int", nil
	case "tinyint":
		return "tinyint", nil
	case "smallint":
		return "smallint", nil
	case "mediumint":
		return "mediumint", nil
	case "bigInteger":
		return "bigint", nil
	case "text":
		return "text", nil
	case "string":
		return fmt.Sprintf("varchar(%d)", sizeArg(args, 255)), nil
	case "float":
		return "float(8, 2)", nil
	case "double":
		return "double(8, 2)", nil
	case "decimal":
		p, s := precisionArgs(args)
		return fmt.Sprintf("decimal(%d, %d)", p, s), nil
	case "boolean":
		return "boolean", nil
	case "date":
		return "date", nil
	case "dateTime", "datetime":
		return "datetime", nil
	case "time":
		return "time", nil
	case "timestamp":
		return "timestamp", nil
	case "geometry":
		return "geometry", nil
	case "geography":
		return "geometry", nil
	case "point":
		return "point", nil
	case "binary":
		return fmt.Sprintf("varbinary(%d)", sizeArg(args, 255)), nil
	case "enum":
		return fmt.Sprintf("enum(%s)", enumValues(args)), nil
	case "json", "jsonb":
		return "json", nil
	case "uuid":
		return "char(36)", nil
	}
	return "", unknownType("mysql", name)
}

// classifyMySQLError maps go-sql-driver error numbers onto the
// canonical kinds.
func classifyMySQLError(err error) ErrorKind {
	if k := classifyCommon(err); k != KindUnknown {
		return k
	}
	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, mysql.ErrBusyBuffer) {
		return KindConnection
	}
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return KindUnknown
	}
	switch myErr.Number {
	case 1048, 1062, 1216, 1217, 1451, 1452, 3819:
		return KindConstraint
	case 1064, 1149:
		return KindSyntax
	case 1205:
		return KindTimeout
	case 1317:
		return KindCancelled
	case 1040, 1042, 1043, 1129, 1130, 2002, 2003, 2006, 2013:
		return KindConnection
	}
	return KindUnknown
}

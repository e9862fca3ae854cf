package dialect

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"
)

// escapeValue literalizes a value for debug output. Timestamps are
// rendered in UTC with an explicit offset so the intended instant
// survives copy-paste.
func escapeValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "true"
		}
		return "false"
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case []byte:
		return fmt.Sprintf("X'%x'", val)
	case time.Time:
		return "'" + val.UTC().Format("2006-01-02 15:04:05.000000+00:00") + "'"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case float32, float64:
		return fmt.Sprintf("%v", val)
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", val), "'", "''") + "'"
	}
}

// escapeValueBoolAsInt is escapeValue for backends without booleans.
func escapeValueBoolAsInt(v interface{}) string {
	if b, ok := v.(bool); ok {
		if b {
			return "1"
		}
		return "0"
	}
	return escapeValue(v)
}

// classifyCommon handles the driver-independent cases every
// classifier shares: context expiry and bad connections.
func classifyCommon(err error) ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, driver.ErrBadConn):
		return KindConnection
	}
	return KindUnknown
}

// sizeArg reads an integer size argument with a default.
func sizeArg(args []interface{}, def int) int {
	if len(args) > 0 {
		if n, ok := args[0].(int); ok && n > 0 {
			return n
		}
	}
	return def
}

// precisionArgs reads decimal (precision, scale) with defaults.
func precisionArgs(args []interface{}) (int, int) {
	p, s := 8, 2
	if len(args) > 0 {
		if n, ok := args[0].(int); ok && n > 0 {
			p = n
		}
	}
	if len(args) > 1 {
		if n, ok := args[1].(int); ok && n >= 0 {
			s = n
		}
	}
	return p, s
}

// enumValues renders the quoted value list of an enum declaration.
func enumValues(args []interface{}) string {
	vals := make([]string, len(args))
	for i, a := range args {
		vals[i] = "'" + strings.ReplaceAll(fmt.Sprintf("%v", a), "'", "''") + "'"
	}
	return strings.Join(vals, ", ")
}

func unknownType(dialect, name string) error {
	return fmt.Errorf("%s: unknown column type %q", dialect, name)
}

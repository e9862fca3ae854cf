package builder

import (
	"fmt"
	"reflect"
)

func errArgs(method string, args []interface{}) error {
	return fmt.Errorf("%s: unsupported argument combination (%d args)", method, len(args))
}

// toInterfaceSlice widens typed slices ([]int, []string, ...) into
// []interface{} for binding lists.
func toInterfaceSlice(v interface{}) ([]interface{}, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// toRowMap converts an insert/update payload into a column map.
// Structs are read through their `db` tags, falling back to the field
// name with its first letter lowercased; nil pointer fields become
// NULL, and a nil row pointer is an error.
func toRowMap(v interface{}) (map[string]interface{}, error) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, fmt.Errorf("nil row value")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("unsupported row type %T", v)
	}
	row := make(map[string]interface{})
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if f.PkgPath != "" {
			continue
		}
		name := f.Tag.Get("db")
		if name == "-" {
			continue
		}
		if name == "" {
			name = lowerFirst(f.Name)
		}
		fv := rv.Field(i)
		if fv.Kind() == reflect.Ptr && fv.IsNil() {
			row[name] = nil
			continue
		}
		for fv.Kind() == reflect.Ptr {
			fv = fv.Elem()
		}
		row[name] = fv.Interface()
	}
	return row, nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}

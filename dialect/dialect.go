// Package dialect captures backend-specific SQL behavior as value
// objects: identifier quoting, placeholder style, feature gating,
// column type mapping and driver error classification.
package dialect

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// PlaceholderStyle selects how bound parameters appear in SQL text.
type PlaceholderStyle string

const (
	// PlaceholderQuestion emits "?" for every binding.
	PlaceholderQuestion PlaceholderStyle = "question"
	// PlaceholderDollar emits "$1", "$2", ...
	PlaceholderDollar PlaceholderStyle = "dollar"
	// PlaceholderAt emits "@p1", "@p2", ...
	PlaceholderAt PlaceholderStyle = "at"
	// PlaceholderColon emits ":1", ":2", ...
	PlaceholderColon PlaceholderStyle = "colon"
)

// Render returns the placeholder text for the n-th binding (1-based).
func (s PlaceholderStyle) Render(n int) string {
	switch s {
	case PlaceholderDollar:
		return fmt.Sprintf("$%d", n)
	case PlaceholderAt:
		return fmt.Sprintf("@p%d", n)
	case PlaceholderColon:
		return fmt.Sprintf(":%d", n)
	default:
		return "?"
	}
}

// LimitStyle selects how row limiting is expressed.
type LimitStyle string

const (
	// LimitOffset emits LIMIT n OFFSET m.
	LimitOffset LimitStyle = "limit"
	// FetchOffset emits OFFSET m ROWS FETCH NEXT n ROWS ONLY.
	FetchOffset LimitStyle = "fetch"
	// TopStyle emits TOP (n) after SELECT when no offset is present.
	TopStyle LimitStyle = "top"
)

// Features gates clause emission per backend.
type Features struct {
	SupportsReturning         bool
	SupportsCTE               bool
	SupportsRecursiveCTE      bool
	SupportsMaterializedCTE   bool
	SupportsJSONPath          bool
	SupportsOnConflict        bool
	SupportsUpdateFrom        bool
	SupportsForUpdateOfTables bool
	SupportsSkipLocked        bool
	SupportsDistinctOn        bool
	SupportsILike             bool
	SupportsBoolean           bool
	InsertsUndefinedAsNull    bool
}

// ErrorKind is the canonical classification of a driver error.
type ErrorKind string

const (
	KindUnknown    ErrorKind = "unknown"
	KindSyntax     ErrorKind = "syntax"
	KindConstraint ErrorKind = "constraint"
	KindConnection ErrorKind = "connection"
	KindTimeout    ErrorKind = "timeout"
	KindCancelled  ErrorKind = "cancelled"
)

// Dialect is a value object encapsulating all backend-specific
// behaviors. Instances are registered at init time and never mutated
// afterwards.
type Dialect struct {
	// Name is the canonical registry name.
	Name string

	// DriverName is the database/sql driver this dialect executes
	// through ("" when the module does not link one).
	DriverName string

	Placeholder PlaceholderStyle
	Limit       LimitStyle
	Features    Features

	// Quote wraps one identifier segment in the backend's quoting.
	Quote func(segment string) string

	// ColumnType maps a logical column type to the backend's
	// declaration string.
	ColumnType func(name string, args ...interface{}) (string, error)

	// EscapeValue literalizes a value for debug formatting only.
	EscapeValue func(v interface{}) string

	// ClassifyError maps a driver error to a canonical kind.
	ClassifyError func(err error) ErrorKind

	// ErrorHook, when set, runs before ClassifyError; a non-unknown
	// result wins. Lets applications normalize codes for backends
	// whose driver the module does not link (oracle, mssql).
	ErrorHook func(err error) ErrorKind

	// BoolAsInt marks backends without a boolean type; the driver
	// adapter coerces bound booleans to 0/1.
	BoolAsInt bool

	// RequiresLimitForOffset marks backends that reject OFFSET
	// without a LIMIT; the compiler inlines a max-row limit.
	RequiresLimitForOffset bool

	// ValidateStmt is the cheap statement used to validate pooled
	// connections ("" pings through the driver instead).
	ValidateStmt string

	// CanCancel reports whether in-flight statements can be
	// cancelled server-side through the driver.
	CanCancel bool
}

// Classify runs the error hook, then the built-in classifier.
func (d *Dialect) Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if d.ErrorHook != nil {
		if k := d.ErrorHook(err); k != KindUnknown {
			return k
		}
	}
	if d.ClassifyError != nil {
		return d.ClassifyError(err)
	}
	return KindUnknown
}

var (
	mu       sync.RWMutex
	registry = map[string]*Dialect{}
	resolved bool
)

// Register adds a dialect under one or more names. It is intended for
// init-time use; registering after the first Get panics.
func Register(d *Dialect, names ...string) {
	mu.Lock()
	defer mu.Unlock()
	if resolved {
		panic("dialect: registry is frozen after first use")
	}
	for _, name := range names {
		registry[name] = d
	}
}

// Get resolves a dialect by registry name. Unknown names return an
// error listing the registered names.
func Get(name string) (*Dialect, error) {
	mu.Lock()
	defer mu.Unlock()
	resolved = true
	if d, ok := registry[strings.ToLower(name)]; ok {
		return d, nil
	}
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return nil, fmt.Errorf("unknown dialect %q (registered: %s)", name, strings.Join(names, ", "))
}

// Names returns the registered dialect names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// quoteWith builds a Quote function for simple open/close quoting.
// The closing character is doubled inside the segment.
func quoteWith(open, end string) func(string) string {
	return func(segment string) string {
		if segment == "*" {
			return segment
		}
		return open + strings.ReplaceAll(segment, end, end+end) + end
	}
}

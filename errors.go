// Package knex is a dialect-aware SQL query builder and execution
// runtime: queries are composed as a chain of structured fragments,
// compiled into dialect-specific SQL plus bound parameters, and
// dispatched through a pooled connection to a database driver.
package knex

import (
	"errors"

	"github.com/sam-lord/knex/runner"
)

// ErrConfig is returned for an invalid client name, invalid pool
// configuration or unknown option.
var ErrConfig = errors.New("invalid configuration")

// Canonical execution error kinds, re-exported from the runner so
// callers match them with errors.Is against any returned error.
var (
	ErrConnection  = runner.ErrConnection
	ErrTimeout     = runner.ErrTimeout
	ErrCancelled   = runner.ErrCancelled
	ErrSyntax      = runner.ErrSyntax
	ErrConstraint  = runner.ErrConstraint
	ErrTransaction = runner.ErrTransaction
	ErrStream      = runner.ErrStream
	ErrUnsupported = runner.ErrUnsupported
)

// QueryError decorates a normalized execution error with the query
// that caused it.
type QueryError = runner.QueryError

// IsTimeout reports whether err is a timeout of any origin.
func IsTimeout(err error) bool { return runner.IsTimeout(err) }

// IsConstraint reports whether err is a normalized constraint
// violation.
func IsConstraint(err error) bool { return runner.IsConstraint(err) }

// IsCancelled reports whether err is a cancellation.
func IsCancelled(err error) bool { return runner.IsCancelled(err) }

// IsConnection reports whether err is a connection-kind error.
func IsConnection(err error) bool { return runner.IsConnection(err) }

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool { return errors.Is(err, ErrConfig) }

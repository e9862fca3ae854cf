package runner

import (
	"errors"
	"fmt"

	"github.com/sam-lord/knex/dialect"
	"github.com/sam-lord/knex/query/ast"
	"github.com/sam-lord/knex/query/compiler"
)

// Canonical error kinds surfaced by query execution.
var (
	// ErrConnection covers acquire failures, create timeouts and
	// validation failures.
	ErrConnection = errors.New("connection error")

	// ErrTimeout covers acquire and query timeouts.
	ErrTimeout = errors.New("operation timeout")

	// ErrCancelled is returned when a statement was cancelled.
	ErrCancelled = errors.New("operation cancelled")

	// ErrSyntax is returned when the backend rejected the SQL.
	ErrSyntax = errors.New("sql syntax error")

	// ErrConstraint normalizes NOT NULL, UNIQUE, FK and CHECK
	// violations.
	ErrConstraint = errors.New("constraint violation")

	// ErrTransaction covers begin/commit/rollback failures and
	// operations on a closed transaction.
	ErrTransaction = errors.New("transaction error")

	// ErrStream is returned when a stream sink failed or closed
	// early.
	ErrStream = errors.New("stream error")

	// ErrUnsupported is returned when the dialect cannot express a
	// requested feature. It is the compiler's sentinel, shared so a
	// single errors.Is check covers compile- and run-time surfaces.
	ErrUnsupported = compiler.ErrUnsupported
)

// QueryError decorates a normalized execution error with the query
// that caused it.
type QueryError struct {
	Kind    error
	Cause   error
	SQL     string
	Method  ast.Method
	UID     string
	TxID    string
	HideSQL bool

	// Stack is the builder creation stack, attached when async
	// stack traces are enabled.
	Stack string
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.HideSQL || e.SQL == "" {
		return fmt.Sprintf("%s: %v", e.Method, e.Cause)
	}
	return fmt.Sprintf("%s: %v (sql: %s)", e.Method, e.Cause, e.SQL)
}

// Unwrap returns the underlying driver error.
func (e *QueryError) Unwrap() error {
	return e.Cause
}

// Is matches both the canonical kind and the cause chain.
func (e *QueryError) Is(target error) bool {
	return errors.Is(e.Kind, target) || errors.Is(e.Cause, target)
}

// kindError maps a dialect classification onto a sentinel.
func kindError(k dialect.ErrorKind) error {
	switch k {
	case dialect.KindSyntax:
		return ErrSyntax
	case dialect.KindConstraint:
		return ErrConstraint
	case dialect.KindConnection:
		return ErrConnection
	case dialect.KindTimeout:
		return ErrTimeout
	case dialect.KindCancelled:
		return ErrCancelled
	}
	return nil
}

// IsTimeout reports whether err is a timeout of any origin.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsConstraint reports whether err is a normalized constraint
// violation.
func IsConstraint(err error) bool { return errors.Is(err, ErrConstraint) }

// IsCancelled reports whether err is a cancellation.
func IsCancelled(err error) bool { return errors.Is(err, ErrCancelled) }

// IsConnection reports whether err is a connection-kind error.
func IsConnection(err error) bool { return errors.Is(err, ErrConnection) }

package compiler

import (
	"errors"
	"fmt"
)

// Compilation errors.
var (
	// ErrNoQuery is returned when there is nothing to compile.
	ErrNoQuery = errors.New("no query to compile")

	// ErrInvalidLimit is returned for a negative limit.
	ErrInvalidLimit = errors.New("limit must be a non-negative integer")

	// ErrInvalidOffset is returned for a negative offset.
	ErrInvalidOffset = errors.New("offset must be a non-negative integer")

	// ErrUnsupported is returned when the dialect cannot express a
	// requested clause.
	ErrUnsupported = errors.New("feature not supported by dialect")
)

func unsupported(feature string) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, feature)
}

package keystore

import (
	"errors"
	"fmt"
)

// ErrMissingColumn is wrapped by a LoadError when the header lacks a
// required column.
var ErrMissingColumn = errors.New("missing required column")

// LoadError reports why a key source could not be turned into a Snapshot.
// Line is the 1-based CSV line, or 0 when the problem is not tied to a row.
type LoadError struct {
	Source string
	Line   int
	Err    error
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("load api keys from %s: line %d: %v", e.Source, e.Line, e.Err)
	}
	return fmt.Sprintf("load api keys from %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// RowError describes one malformed row excluded in lenient mode.
type RowError struct {
	Line   int
	Reason string
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// LoadReport summarises a successful load.
type LoadReport struct {
	Source  string
	Loaded  int
	Skipped []RowError
}

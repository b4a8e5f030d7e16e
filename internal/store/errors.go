// ABOUTME: Error taxonomy for the storage core: typed kinds plus sentinel conditions
// ABOUTME: Kinds are matched with errors.As, conditions with errors.Is

package store

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate indicates a unique key is already taken.
var ErrDuplicate = errors.New("already exists")

// ErrInvalid indicates a value rejected by validation or by a CHECK or
// foreign-key constraint.
var ErrInvalid = errors.New("invalid value")

// ConnectionError reports a failure to open, configure, or close the backing
// database file.
type ConnectionError struct {
	Path string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Path, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransactionError reports a begin, commit, or rollback failure. Errors
// returned by the function running inside the transaction are propagated
// unchanged, not wrapped in this type.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// QueryError reports a failed statement: malformed SQL, a constraint
// violation, or a parameter mismatch. Constraint violations additionally
// carry ErrDuplicate or ErrInvalid in the wrap chain.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string { return fmt.Sprintf("query: %v", e.Err) }

func (e *QueryError) Unwrap() error { return e.Err }

// MigrationError reports a failure applying or rolling back one migration
// unit. Version always identifies the offending unit.
type MigrationError struct {
	Version int
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %d: %v", e.Version, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// SearchIndexError reports a full-text index rebuild or optimize failure.
// These are rare and usually recoverable by retrying.
type SearchIndexError struct {
	Op  string
	Err error
}

func (e *SearchIndexError) Error() string {
	return fmt.Sprintf("search index %s: %v", e.Op, e.Err)
}

func (e *SearchIndexError) Unwrap() error { return e.Err }

// isUniqueViolation checks if the error is a SQLite UNIQUE constraint violation
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isCheckViolation reports CHECK and NOT NULL constraint violations, both of
// which mean the caller supplied an out-of-range or missing value.
func isCheckViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "CHECK constraint failed") ||
		strings.Contains(errStr, "NOT NULL constraint failed")
}

func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func isMissingTable(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "no such table")
}

// queryErr wraps an engine error as a *QueryError, attaching the matching
// sentinel condition for constraint violations so callers can tell
// "already exists" from "invalid state".
func queryErr(err error) error {
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return &QueryError{Err: fmt.Errorf("%w: %v", ErrDuplicate, err)}
	case isCheckViolation(err), isForeignKeyViolation(err):
		return &QueryError{Err: fmt.Errorf("%w: %v", ErrInvalid, err)}
	default:
		return &QueryError{Err: err}
	}
}

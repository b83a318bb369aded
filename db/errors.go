package db

import (
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"
)

// Misuse caught by the wrapper itself. These never reach the SQLite
// library and report programmer errors, not database state.
var (
	ErrClosed        = errors.New("database is closed")
	ErrFinalized     = errors.New("statement is finalized")
	ErrUnknownParam  = errors.New("no matching parameter")
	ErrUnknownColumn = errors.New("no matching column")
	ErrBadVersion    = errors.New("schema version must be positive")
	ErrBindType      = errors.New("unsupported bind type")
)

// Error reports a failed call into the SQLite library. Code carries the
// native result code so callers can react to specific conditions such as
// SQLITE_BUSY or SQLITE_CONSTRAINT.
type Error struct {
	Op    string // wrapper operation: open, prepare, bind, step, reset, finalize, close, exec
	Query string // SQL text where one applies
	Code  sqlite.ResultCode
	cause error
}

// newError wraps a library failure with the operation name and SQL text.
// A nil cause returns nil so call sites can wrap unconditionally.
func newError(op, query string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Op: op, Query: query, Code: sqlite.ErrCode(cause), cause: cause}
}

func rangeError(op, query string, index int) error {
	return &Error{
		Op:    op,
		Query: query,
		Code:  sqlite.ResultRange,
		cause: fmt.Errorf("parameter index %d out of range", index),
	}
}

func (e *Error) Error() string {
	if e.Query != "" {
		return fmt.Sprintf("%s %q: %v", e.Op, e.Query, e.cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// IsLogicError reports whether err is wrapper-detected misuse rather than
// a failure returned by the SQLite library.
func IsLogicError(err error) bool {
	for _, sentinel := range []error{
		ErrClosed, ErrFinalized, ErrUnknownParam,
		ErrUnknownColumn, ErrBadVersion, ErrBindType,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

package db

import (
	"sync/atomic"

	"zombiezen.com/go/sqlite"
)

// connHandle is the sole owner of one native connection. The Database
// facade holds one reference and every prepared statement holds another,
// so the native close runs only after the last statement is finalized.
//
// Reference counts are the only synchronization here. A Database and its
// statements belong to a single goroutine; the counts exist so lifetimes
// compose, not to make the wrapper concurrent.
type connHandle struct {
	conn   *sqlite.Conn
	refs   atomic.Int32
	closed atomic.Bool
}

func newConnHandle(conn *sqlite.Conn) *connHandle {
	handle := &connHandle{conn: conn}
	handle.refs.Store(1)
	return handle
}

// get returns the live connection or ErrClosed once the owner has
// invalidated the handle, even while statements keep the native
// connection alive.
func (handle *connHandle) get() (*sqlite.Conn, error) {
	if handle.closed.Load() {
		return nil, ErrClosed
	}
	return handle.conn, nil
}

func (handle *connHandle) retain() {
	handle.refs.Add(1)
}

func (handle *connHandle) release() error {
	if handle.refs.Add(-1) > 0 {
		return nil
	}
	return newError("close", "", handle.conn.Close())
}

// invalidate marks the connection closed and drops the owner reference.
// Safe to call more than once.
func (handle *connHandle) invalidate() error {
	if handle.closed.Swap(true) {
		return nil
	}
	return handle.release()
}

// stmtHandle is the sole owner of one native statement. Statements are
// compiled with PrepareTransient so finalization belongs to this handle
// rather than to the connection's statement cache.
type stmtHandle struct {
	stmt      *sqlite.Stmt
	conn      *connHandle
	sql       string
	refs      atomic.Int32
	finalized atomic.Bool
}

func newStmtHandle(stmt *sqlite.Stmt, conn *connHandle, sql string) *stmtHandle {
	handle := &stmtHandle{stmt: stmt, conn: conn, sql: sql}
	handle.refs.Store(1)
	conn.retain()
	return handle
}

// get returns the live statement, ErrFinalized after invalidation, or
// ErrClosed once the owning database has been closed.
func (handle *stmtHandle) get() (*sqlite.Stmt, error) {
	if handle.finalized.Load() {
		return nil, ErrFinalized
	}
	if handle.conn.closed.Load() {
		return nil, ErrClosed
	}
	return handle.stmt, nil
}

func (handle *stmtHandle) retain() {
	handle.refs.Add(1)
}

func (handle *stmtHandle) release() error {
	if handle.refs.Add(-1) > 0 {
		return nil
	}
	err := newError("finalize", handle.sql, handle.stmt.Finalize())
	if cerr := handle.conn.release(); err == nil {
		err = cerr
	}
	return err
}

// invalidate finalizes on the last reference. Finalization is not
// idempotent: a second invalidate reports ErrFinalized.
func (handle *stmtHandle) invalidate() error {
	if handle.finalized.Swap(true) {
		return ErrFinalized
	}
	return handle.release()
}

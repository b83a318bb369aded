package db

import (
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// memoryPath opens a private in-memory database.
const memoryPath = ":memory:"

const defaultBusyTimeout = 5 * time.Second

// Options configures Open. The zero value works: read-write, a 5 second
// busy timeout and no logging.
type Options struct {
	// BusyTimeout bounds how long the library waits on a locked
	// database before reporting SQLITE_BUSY. This is the wrapper's only
	// wait knob; nothing above the library ever retries.
	BusyTimeout time.Duration

	// ReadOnly opens without write access; the file must exist.
	ReadOnly bool

	// Logger receives operational events (open, close, migrations).
	// Nil discards them.
	Logger *slog.Logger
}

// Database owns one SQLite connection. It is not safe for concurrent
// use; give each goroutine its own Database and let the library's
// locking arbitrate between them.
type Database struct {
	handle      *connHandle
	path        string
	readOnly    bool
	busyTimeout time.Duration
	log         *slog.Logger

	onUpgrade   VersionFunc
	onDowngrade VersionFunc
}

// Open opens or creates the database file at path.
func Open(path string, opts *Options) (*Database, error) {
	if opts == nil {
		opts = &Options{}
	}
	busyTimeout := opts.BusyTimeout
	if busyTimeout == 0 {
		busyTimeout = defaultBusyTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	database := &Database{
		path:        path,
		readOnly:    opts.ReadOnly,
		busyTimeout: busyTimeout,
		log:         log,
	}
	if err := database.Open(); err != nil {
		return nil, err
	}
	return database, nil
}

// OpenMemory opens a fresh private in-memory database.
func OpenMemory(opts *Options) (*Database, error) {
	return Open(memoryPath, opts)
}

// Open connects if the database is not already connected. Opening an
// open database is a no-op, so the call is safe to repeat; after Close
// it reconnects to the same path. Reopening a memory database yields an
// empty one.
func (d *Database) Open() error {
	if d.IsOpen() {
		return nil
	}
	flags := sqlite.OpenReadWrite | sqlite.OpenCreate
	if d.readOnly {
		flags = sqlite.OpenReadOnly
	}
	if d.path == memoryPath {
		flags |= sqlite.OpenMemory
	} else if !d.readOnly {
		// Switching journal modes needs a writable connection
		flags |= sqlite.OpenWAL
	}
	conn, err := sqlite.OpenConn(d.path, flags)
	if err != nil {
		return newError("open", "", err)
	}
	conn.SetBusyTimeout(d.busyTimeout)
	d.handle = newConnHandle(conn)
	d.log.Debug("opened database", "path", d.path, "readOnly", d.readOnly)
	return nil
}

// Close invalidates the database. Statements still live keep the native
// connection open until the last of them is finalized, but every use
// through this Database reports ErrClosed from here on. Idempotent.
func (d *Database) Close() error {
	if d.handle == nil {
		return nil
	}
	err := d.handle.invalidate()
	d.log.Debug("closed database", "path", d.path)
	return err
}

// IsOpen reports whether the database can be used.
func (d *Database) IsOpen() bool {
	return d.handle != nil && !d.handle.closed.Load()
}

// Path returns the path the database was opened with.
func (d *Database) Path() string {
	return d.path
}

// InMemory reports whether the database lives in memory only.
func (d *Database) InMemory() bool {
	return d.path == memoryPath
}

// SetBusyTimeout changes the busy wait ceiling on the live connection.
func (d *Database) SetBusyTimeout(timeout time.Duration) error {
	if d.handle == nil {
		return ErrClosed
	}
	conn, err := d.handle.get()
	if err != nil {
		return err
	}
	d.busyTimeout = timeout
	conn.SetBusyTimeout(timeout)
	return nil
}

// Handle exposes the native connection for capabilities the wrapper does
// not cover. The caller must not close it or hold it past Close.
func (d *Database) Handle() (*sqlite.Conn, error) {
	if d.handle == nil {
		return nil, ErrClosed
	}
	return d.handle.get()
}

// Prepare compiles a reusable statement. Only the first statement of the
// text is compiled; for multi-statement scripts use ExecScript. The
// statement must be finalized exactly once.
func (d *Database) Prepare(query string) (*Statement, error) {
	if d.handle == nil {
		return nil, ErrClosed
	}
	conn, err := d.handle.get()
	if err != nil {
		return nil, err
	}
	stmt, _, err := conn.PrepareTransient(query)
	if err != nil {
		return nil, newError("prepare", query, err)
	}
	return &Statement{
		handle: newStmtHandle(stmt, d.handle, query),
		sql:    query,
		names:  bindNames(stmt),
	}, nil
}

// Exec compiles, binds, steps once and finalizes in one shot. It is the
// convenient path for DDL and one-off DML; loops should Prepare once and
// ExecArgs per iteration.
func (d *Database) Exec(query string, args ...any) error {
	statement, err := d.Prepare(query)
	if err != nil {
		return err
	}
	var execErr error
	if len(args) > 0 {
		execErr = statement.ExecArgs(args...)
	} else {
		execErr = statement.Exec()
	}
	if err := statement.Finalize(); err != nil && execErr == nil {
		execErr = err
	}
	return execErr
}

// ExecScript runs a whole multi-statement script inside a savepoint.
func (d *Database) ExecScript(script string) error {
	if d.handle == nil {
		return ErrClosed
	}
	conn, err := d.handle.get()
	if err != nil {
		return err
	}
	return newError("exec", script, sqlitex.ExecuteScript(conn, script, nil))
}

// Query compiles and binds in one shot and returns a result set that
// owns the statement; closing the result set finalizes it.
func (d *Database) Query(query string, args ...any) (*ResultSet, error) {
	statement, err := d.Prepare(query)
	if err != nil {
		return nil, err
	}
	if err := statement.bindFrom(1, args); err != nil {
		statement.Finalize()
		return nil, err
	}
	return statement.intoResultSet(), nil
}

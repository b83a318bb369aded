package db

import (
	"fmt"

	"zombiezen.com/go/sqlite"
)

// Statement is a precompiled SQL statement. It can be bound, stepped and
// reset any number of times until Finalize releases it. A Statement holds
// a reference on its database, so closing the database while statements
// are live only defers the native close; the statement itself still
// refuses further use with ErrClosed.
type Statement struct {
	handle *stmtHandle
	sql    string
	names  map[string]int
}

// bindNames captures the named parameter table once at prepare time.
// Positional parameters have no name and are skipped.
func bindNames(stmt *sqlite.Stmt) map[string]int {
	count := stmt.BindParamCount()
	var names map[string]int
	for i := 1; i <= count; i++ {
		if name := stmt.BindParamName(i); name != "" {
			if names == nil {
				names = make(map[string]int, count)
			}
			names[name] = i
		}
	}
	return names
}

// SQL returns the text the statement was compiled from.
func (statement *Statement) SQL() string {
	return statement.sql
}

// Bind sets the parameter at index (1 based) to value. Supported kinds
// are nil, bool, int, int32, int64, float64, string and []byte. Values
// are stored exactly as given; there is no coercion between kinds, and a
// nil []byte binds NULL like nil does.
func (statement *Statement) Bind(index int, value any) error {
	stmt, err := statement.handle.get()
	if err != nil {
		return err
	}
	return bindValue(stmt, statement.sql, index, value)
}

// BindName sets a named parameter. The name must match the SQL text
// exactly, including its ":", "@" or "$" prefix. Unknown names are
// rejected here with ErrUnknownParam rather than handed to the library,
// whose name lookup reports nothing for them.
func (statement *Statement) BindName(name string, value any) error {
	stmt, err := statement.handle.get()
	if err != nil {
		return err
	}
	index, ok := statement.names[name]
	if !ok {
		return fmt.Errorf("parameter %q: %w", name, ErrUnknownParam)
	}
	return bindValue(stmt, statement.sql, index, value)
}

func bindValue(stmt *sqlite.Stmt, query string, index int, value any) error {
	if index < 1 || index > stmt.BindParamCount() {
		return rangeError("bind", query, index)
	}
	switch v := value.(type) {
	case nil:
		stmt.BindNull(index)
	case bool:
		if v {
			stmt.BindInt64(index, 1)
		} else {
			stmt.BindInt64(index, 0)
		}
	case int:
		stmt.BindInt64(index, int64(v))
	case int32:
		stmt.BindInt64(index, int64(v))
	case int64:
		stmt.BindInt64(index, v)
	case float64:
		stmt.BindFloat(index, v)
	case string:
		stmt.BindText(index, v)
	case []byte:
		if v == nil {
			stmt.BindNull(index)
		} else {
			stmt.BindBytes(index, v)
		}
	default:
		return fmt.Errorf("parameter %d: %T: %w", index, value, ErrBindType)
	}
	return nil
}

// ClearBindings sets every parameter back to NULL. Reset does not do
// this; the two are independent.
func (statement *Statement) ClearBindings() error {
	stmt, err := statement.handle.get()
	if err != nil {
		return err
	}
	return newError("clear-bindings", statement.sql, stmt.ClearBindings())
}

// Reset rewinds the statement so it can be stepped again. Bindings keep
// their values.
func (statement *Statement) Reset() error {
	stmt, err := statement.handle.get()
	if err != nil {
		return err
	}
	return newError("reset", statement.sql, stmt.Reset())
}

// Exec steps the statement exactly once and leaves it stepped; resetting
// is the caller's move. For reuse in a loop prefer ExecArgs, which
// performs the whole reset, clear, bind, step sequence.
func (statement *Statement) Exec() error {
	stmt, err := statement.handle.get()
	if err != nil {
		return err
	}
	_, err = stmt.Step()
	return newError("step", statement.sql, err)
}

// ExecArgs resets the statement, clears old bindings, binds args
// positionally from parameter 1 and steps once. Parameters beyond the
// supplied args stay NULL.
func (statement *Statement) ExecArgs(args ...any) error {
	if err := statement.Reset(); err != nil {
		return err
	}
	if err := statement.ClearBindings(); err != nil {
		return err
	}
	if err := statement.bindFrom(1, args); err != nil {
		return err
	}
	return statement.Exec()
}

func (statement *Statement) bindFrom(start int, args []any) error {
	for i, value := range args {
		if err := statement.Bind(start+i, value); err != nil {
			return err
		}
	}
	return nil
}

// Query returns a result set over the statement without stepping it;
// stepping starts with the result set's Begin. The result set shares the
// statement handle and must be closed, after which the statement remains
// usable until Finalize.
func (statement *Statement) Query() (*ResultSet, error) {
	if _, err := statement.handle.get(); err != nil {
		return nil, err
	}
	statement.handle.retain()
	return &ResultSet{handle: statement.handle}, nil
}

// QueryArgs clears old bindings, binds args positionally and returns a
// result set, under the same contract as Query.
func (statement *Statement) QueryArgs(args ...any) (*ResultSet, error) {
	if err := statement.Reset(); err != nil {
		return nil, err
	}
	if err := statement.ClearBindings(); err != nil {
		return nil, err
	}
	if err := statement.bindFrom(1, args); err != nil {
		return nil, err
	}
	return statement.Query()
}

// Finalize releases the statement. Not idempotent: the second call
// reports ErrFinalized, as does any other use after the first.
func (statement *Statement) Finalize() error {
	return statement.handle.invalidate()
}

// intoResultSet hands the statement's own reference to a result set that
// finalizes on Close. The statement must not be touched afterwards; only
// Database.Query uses this.
func (statement *Statement) intoResultSet() *ResultSet {
	return &ResultSet{handle: statement.handle, owned: true}
}

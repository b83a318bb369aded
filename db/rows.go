package db

import "iter"

// IterState is the position of an iterator in its traversal.
type IterState int

const (
	StateNotStarted IterState = iota // created but never stepped
	StateHasRow                      // on a row; Cursor is valid
	StateExhausted                   // stepped past the last row
	StateEnd                         // the end sentinel, belongs to no traversal
)

func (state IterState) String() string {
	switch state {
	case StateNotStarted:
		return "not-started"
	case StateHasRow:
		return "has-row"
	case StateExhausted:
		return "exhausted"
	case StateEnd:
		return "end"
	}
	return "invalid"
}

// ResultSet owns or shares a statement and hands out iterators over its
// rows. Sets returned by Database.Query own their statement and finalize
// it on Close; sets returned by Statement.Query only drop their share,
// leaving the statement usable.
//
// A statement supports one traversal at a time. Begin rewinds the
// statement, so iterators from an earlier Begin silently continue the
// new traversal; not interleaving them is the caller's job.
type ResultSet struct {
	handle *stmtHandle
	owned  bool
	err    error
}

// Begin rewinds the statement and steps onto the first row. The iterator
// comes back in StateHasRow, or StateExhausted when the result is empty.
func (rs *ResultSet) Begin() (*Iterator, error) {
	if rs.handle == nil {
		return nil, ErrFinalized
	}
	stmt, err := rs.handle.get()
	if err != nil {
		return nil, err
	}
	if err := stmt.Reset(); err != nil {
		return nil, newError("reset", rs.handle.sql, err)
	}
	iterator := &Iterator{handle: rs.handle}
	hasRow, err := stmt.Step()
	if err != nil {
		return nil, newError("step", rs.handle.sql, err)
	}
	if hasRow {
		iterator.state = StateHasRow
	} else {
		iterator.state = StateExhausted
	}
	return iterator, nil
}

// End returns the sentinel every exhausted iterator compares equal to.
func (rs *ResultSet) End() *Iterator {
	return &Iterator{state: StateEnd}
}

// All traverses the rows as a range-over-func sequence. A step failure
// ends the sequence; check Err after the loop.
func (rs *ResultSet) All() iter.Seq[*Cursor] {
	return func(yield func(*Cursor) bool) {
		rs.err = nil
		iterator, err := rs.Begin()
		if err != nil {
			rs.err = err
			return
		}
		for iterator.State() == StateHasRow {
			cursor, err := iterator.Cursor()
			if err != nil {
				rs.err = err
				return
			}
			if !yield(cursor) {
				return
			}
			if err := iterator.Next(); err != nil {
				rs.err = err
				return
			}
		}
	}
}

// Err reports the failure that ended the last All traversal, if any.
func (rs *ResultSet) Err() error {
	return rs.err
}

// Close releases the result set's hold on the statement. Idempotent.
func (rs *ResultSet) Close() error {
	if rs.handle == nil {
		return nil
	}
	handle := rs.handle
	rs.handle = nil
	if rs.owned {
		return handle.invalidate()
	}
	return handle.release()
}

// Iterator walks a result set one row at a time. Step failures are
// fatal to the traversal and are never retried.
type Iterator struct {
	handle *stmtHandle
	state  IterState
	row    int
}

// State reports where the iterator stands.
func (iterator *Iterator) State() IterState {
	return iterator.state
}

// Row is the number of completed advances, 0 on the first row.
func (iterator *Iterator) Row() int {
	return iterator.row
}

// Next advances to the next row, moving StateHasRow to StateHasRow or
// StateExhausted. Advancing an exhausted iterator is not guarded; what
// the library reports then is its own affair.
func (iterator *Iterator) Next() error {
	stmt, err := iterator.handle.get()
	if err != nil {
		return err
	}
	hasRow, err := stmt.Step()
	if err != nil {
		return newError("step", iterator.handle.sql, err)
	}
	if hasRow {
		iterator.row++
		iterator.state = StateHasRow
	} else {
		iterator.state = StateExhausted
	}
	return nil
}

// Cursor gives a view of the current row, valid only in StateHasRow.
func (iterator *Iterator) Cursor() (*Cursor, error) {
	stmt, err := iterator.handle.get()
	if err != nil {
		return nil, err
	}
	return &Cursor{stmt: stmt}, nil
}

// Equal reports whether two iterators denote the same position: the same
// statement, row count and state. An exhausted iterator additionally
// equals the end sentinel, which is how a traversal detects completion.
func (iterator *Iterator) Equal(other *Iterator) bool {
	if iterator == nil || other == nil {
		return iterator == other
	}
	if iterator.state == StateExhausted && other.state == StateEnd {
		return true
	}
	if iterator.state == StateEnd && other.state == StateExhausted {
		return true
	}
	return iterator.handle == other.handle &&
		iterator.row == other.row &&
		iterator.state == other.state
}

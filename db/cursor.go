package db

import (
	"fmt"

	"zombiezen.com/go/sqlite"
)

// Cursor is a transient view of the row an iterator is currently on. It
// has no identity of its own: it is valid only while its iterator stays
// on that row, and the indexed getters pass straight through to the
// library without further checks.
type Cursor struct {
	stmt *sqlite.Stmt
}

func (cursor *Cursor) ColumnCount() int {
	return cursor.stmt.ColumnCount()
}

func (cursor *Cursor) ColumnName(index int) string {
	return cursor.stmt.ColumnName(index)
}

func (cursor *Cursor) ColumnType(index int) sqlite.ColumnType {
	return cursor.stmt.ColumnType(index)
}

// Indexed getters, 0 based. A NULL column reads as the kind's zero
// value; use IsNull to tell the difference.

func (cursor *Cursor) Int(index int) int {
	return cursor.stmt.ColumnInt(index)
}

func (cursor *Cursor) Int64(index int) int64 {
	return cursor.stmt.ColumnInt64(index)
}

func (cursor *Cursor) Float(index int) float64 {
	return cursor.stmt.ColumnFloat(index)
}

func (cursor *Cursor) Text(index int) string {
	return cursor.stmt.ColumnText(index)
}

func (cursor *Cursor) Bool(index int) bool {
	return cursor.stmt.ColumnInt64(index) != 0
}

// Blob copies the column out of the library's memory. A NULL or empty
// blob returns nil.
func (cursor *Cursor) Blob(index int) []byte {
	size := cursor.stmt.ColumnLen(index)
	if size == 0 {
		return nil
	}
	buf := make([]byte, size)
	cursor.stmt.ColumnBytes(index, buf)
	return buf
}

func (cursor *Cursor) IsNull(index int) bool {
	return cursor.stmt.ColumnIsNull(index)
}

// ColumnIndex resolves a column name with a case sensitive scan over the
// result columns. An absent name reports ErrUnknownColumn.
func (cursor *Cursor) ColumnIndex(name string) (int, error) {
	for i := 0; i < cursor.stmt.ColumnCount(); i++ {
		if cursor.stmt.ColumnName(i) == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("column %q: %w", name, ErrUnknownColumn)
}

// Named getters resolve the column through ColumnIndex on every call.

func (cursor *Cursor) GetInt(name string) (int, error) {
	index, err := cursor.ColumnIndex(name)
	if err != nil {
		return 0, err
	}
	return cursor.Int(index), nil
}

func (cursor *Cursor) GetInt64(name string) (int64, error) {
	index, err := cursor.ColumnIndex(name)
	if err != nil {
		return 0, err
	}
	return cursor.Int64(index), nil
}

func (cursor *Cursor) GetFloat(name string) (float64, error) {
	index, err := cursor.ColumnIndex(name)
	if err != nil {
		return 0, err
	}
	return cursor.Float(index), nil
}

func (cursor *Cursor) GetText(name string) (string, error) {
	index, err := cursor.ColumnIndex(name)
	if err != nil {
		return "", err
	}
	return cursor.Text(index), nil
}

func (cursor *Cursor) GetBlob(name string) ([]byte, error) {
	index, err := cursor.ColumnIndex(name)
	if err != nil {
		return nil, err
	}
	return cursor.Blob(index), nil
}

func (cursor *Cursor) GetIsNull(name string) (bool, error) {
	index, err := cursor.ColumnIndex(name)
	if err != nil {
		return false, err
	}
	return cursor.IsNull(index), nil
}

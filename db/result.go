package db

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
)

// QueryResult is a fully materialized result: every row drained out of a
// result set and rendered to strings. The streaming ResultSet is the
// primary surface; this one serves the shell and small reports.
type QueryResult struct {
	Columns       []string
	Rows          [][]string
	RecordsRead   int
	ExecutionTime time.Duration
}

// Collect drains rs into a QueryResult and closes nothing; the caller
// still owns rs. NULL renders empty, blobs render as hex.
func Collect(rs *ResultSet) (QueryResult, error) {
	start := time.Now()
	var result QueryResult
	if rs.handle != nil {
		if stmt, err := rs.handle.get(); err == nil {
			result.Columns = make([]string, stmt.ColumnCount())
			for i := range result.Columns {
				result.Columns[i] = stmt.ColumnName(i)
			}
		}
	}
	for cursor := range rs.All() {
		row := make([]string, cursor.ColumnCount())
		for i := range row {
			row[i] = renderCell(cursor, i)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rs.Err(); err != nil {
		return QueryResult{}, err
	}
	result.RecordsRead = len(result.Rows)
	result.ExecutionTime = time.Since(start)
	return result, nil
}

func renderCell(cursor *Cursor, index int) string {
	if cursor.IsNull(index) {
		return ""
	}
	if cursor.ColumnType(index) == sqlite.TypeBlob {
		blob := cursor.Blob(index)
		if len(blob) > 16 {
			return fmt.Sprintf("x'%s...' (%d bytes)", hex.EncodeToString(blob[:16]), len(blob))
		}
		return "x'" + hex.EncodeToString(blob) + "'"
	}
	return cursor.Text(index)
}

// formatDuration formats a duration in human-readable form
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return "<1ms"
	case d < 10*time.Millisecond:
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < 10*time.Second:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if secs == 0 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%dm%ds", mins, secs)
}

// Write renders the grid, when there is one, and a compact stats line.
func (result QueryResult) Write(w io.Writer) {
	if len(result.Rows) > 0 {
		renderGrid(w, result.Columns, result.Rows)
	}
	fmt.Fprintf(w, "%d rows (%s)\n", result.RecordsRead, formatDuration(result.ExecutionTime))
}

func (result QueryResult) Display() {
	result.Write(os.Stdout)
}

func (result QueryResult) String() string {
	var b strings.Builder
	result.Write(&b)
	return b.String()
}

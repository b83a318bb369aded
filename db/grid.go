package db

import (
	"fmt"
	"io"
	"strings"
)

// renderGrid writes rows as an ASCII grid with a header. Cells are left
// aligned and each column sizes to its widest value.
func renderGrid(w io.Writer, columns []string, rows [][]string) {
	widths := gridWidths(columns, rows)
	rule := gridRule(widths)
	fmt.Fprintln(w, rule)
	if len(columns) > 0 {
		fmt.Fprintln(w, gridRow(columns, widths))
		fmt.Fprintln(w, rule)
	}
	for _, row := range rows {
		fmt.Fprintln(w, gridRow(row, widths))
	}
	fmt.Fprintln(w, rule)
}

func gridWidths(columns []string, rows [][]string) []int {
	count := len(columns)
	for _, row := range rows {
		if len(row) > count {
			count = len(row)
		}
	}
	widths := make([]int, count)
	for i, column := range columns {
		widths[i] = len(column)
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}
	for i := range widths {
		if widths[i] < 1 {
			widths[i] = 1
		}
	}
	return widths
}

func gridRule(widths []int) string {
	parts := make([]string, len(widths))
	for i, width := range widths {
		parts[i] = strings.Repeat("-", width+2)
	}
	return "+" + strings.Join(parts, "+") + "+"
}

func gridRow(row []string, widths []int) string {
	parts := make([]string, len(widths))
	for i, width := range widths {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		parts[i] = " " + cell + strings.Repeat(" ", width-len(cell)+1)
	}
	return "|" + strings.Join(parts, "|") + "|"
}

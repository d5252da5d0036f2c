// Package table holds the small tabular value passed between the remote clients,
// the unit fetchers and the audit writers. Cells are kept as the strings the
// remote services returned so a header file round-trips byte for byte.
package table

import (
	"fmt"
)

// Table is an ordered set of named columns with string cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// New returns an empty table with the given columns.
func New(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Len returns the number of rows. A nil table has none.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Append adds a row. Missing trailing cells are padded with "".
func (t *Table) Append(cells ...string) {
	row := make([]string, len(t.Columns))
	copy(row, cells)
	t.Rows = append(t.Rows, row)
}

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns a copy of the named column's values.
func (t *Table) Column(name string) ([]string, error) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("column %q not found (have %v)", name, t.Columns)
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out, nil
}

// Filter returns a new table holding the rows for which keep returns true.
func (t *Table) Filter(keep func(row []string) bool) *Table {
	out := New(t.Columns...)
	for _, row := range t.Rows {
		if keep(row) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// Subset returns a new table with the rows at the given indices, in order.
func (t *Table) Subset(indices []int) *Table {
	out := New(t.Columns...)
	for _, i := range indices {
		out.Rows = append(out.Rows, t.Rows[i])
	}
	return out
}

// Select projects the table onto columns, renamed via rename when a mapping
// exists. Unknown columns are an error.
func (t *Table) Select(columns []string, rename map[string]string) (*Table, error) {
	idx := make([]int, len(columns))
	names := make([]string, len(columns))
	for i, c := range columns {
		idx[i] = t.ColumnIndex(c)
		if idx[i] < 0 {
			return nil, fmt.Errorf("column %q not found (have %v)", c, t.Columns)
		}
		names[i] = c
		if r, ok := rename[c]; ok {
			names[i] = r
		}
	}
	out := New(names...)
	for _, row := range t.Rows {
		cells := make([]string, len(idx))
		for j, k := range idx {
			if k < len(row) {
				cells[j] = row[k]
			}
		}
		out.Rows = append(out.Rows, cells)
	}
	return out, nil
}

// Concat stacks tables vertically. Columns are the union in first-seen order;
// cells a table lacks are left empty. Nil tables are skipped.
func Concat(tables ...*Table) *Table {
	out := &Table{}
	pos := make(map[string]int)
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, c := range t.Columns {
			if _, ok := pos[c]; !ok {
				pos[c] = len(out.Columns)
				out.Columns = append(out.Columns, c)
			}
		}
	}
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, row := range t.Rows {
			cells := make([]string, len(out.Columns))
			for j, c := range t.Columns {
				if j < len(row) {
					cells[pos[c]] = row[j]
				}
			}
			out.Rows = append(out.Rows, cells)
		}
	}
	return out
}

package uq

import "fmt"

// Table is a column-keyed sample: one row per realization, one named column
// per random variable. Column order is the registration order of the
// variables that produced them.
type Table struct {
	names []string
	index map[string]int
	cols  [][]float64
	rows  int
}

// NewTable returns an empty table expecting rows realizations per column.
func NewTable(rows int) *Table {
	return &Table{index: make(map[string]int), rows: rows}
}

// AddColumn appends a named column. Duplicate names and length mismatches
// are errors.
func (t *Table) AddColumn(name string, values []float64) error {
	if _, ok := t.index[name]; ok {
		return fmt.Errorf("table already has a column named %s", name)
	}
	if len(values) != t.rows {
		return fmt.Errorf("column %s has %d rows, expected %d", name, len(values), t.rows)
	}
	t.index[name] = len(t.names)
	t.names = append(t.names, name)
	t.cols = append(t.cols, values)
	return nil
}

// Column returns the named column, or false when absent. The slice is shared
// with the table and must be treated as read-only.
func (t *Table) Column(name string) ([]float64, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

// Names returns the column names in insertion order.
func (t *Table) Names() []string { return t.names }

// Rows returns the number of realizations.
func (t *Table) Rows() int { return t.rows }

// Cols returns the number of columns.
func (t *Table) Cols() int { return len(t.names) }

package model

import (
	"fmt"
	"sort"
)

// Table is an ordered collection of rows keyed by a unique int64 identifier,
// with column-major float64 attribute columns. Row order is significant: the
// coordinator re-assembles partitioned output back into the original order.
type Table struct {
	Name    string               `json:"name"`
	IDs     []int64              `json:"ids"`
	Columns map[string][]float64 `json:"columns,omitempty"`
}

// NewTable creates a table with the given row identifiers and no columns.
func NewTable(name string, ids []int64) *Table {
	return &Table{Name: name, IDs: append([]int64(nil), ids...), Columns: map[string][]float64{}}
}

// NumRows returns the row count.
func (t *Table) NumRows() int {
	if t == nil {
		return 0
	}
	return len(t.IDs)
}

// Column returns the named column, or nil when absent.
func (t *Table) Column(name string) []float64 {
	if t == nil {
		return nil
	}
	return t.Columns[name]
}

// SetColumn replaces the named column. The column length must match the
// table's row count.
func (t *Table) SetColumn(name string, values []float64) error {
	if len(values) != len(t.IDs) {
		return fmt.Errorf("table %s: column %s has %d values for %d rows", t.Name, name, len(values), len(t.IDs))
	}
	if t.Columns == nil {
		t.Columns = map[string][]float64{}
	}
	t.Columns[name] = values
	return nil
}

// Slice returns a deep copy of rows [lo, hi).
func (t *Table) Slice(lo, hi int) *Table {
	if lo < 0 {
		lo = 0
	}
	if hi > len(t.IDs) {
		hi = len(t.IDs)
	}
	if lo > hi {
		lo = hi
	}
	out := NewTable(t.Name, t.IDs[lo:hi])
	for name, col := range t.Columns {
		out.Columns[name] = append([]float64(nil), col[lo:hi]...)
	}
	return out
}

// SelectIDs returns a deep copy holding only the rows whose identifier is in
// keep, preserving the table's original row order.
func (t *Table) SelectIDs(keep map[int64]bool) *Table {
	out := &Table{Name: t.Name, Columns: map[string][]float64{}}
	var rows []int
	for i, id := range t.IDs {
		if keep[id] {
			rows = append(rows, i)
			out.IDs = append(out.IDs, id)
		}
	}
	for name, col := range t.Columns {
		sel := make([]float64, 0, len(rows))
		for _, i := range rows {
			sel = append(sel, col[i])
		}
		out.Columns[name] = sel
	}
	return out
}

// Append concatenates other's rows onto t. Both tables must carry the same
// column set.
func (t *Table) Append(other *Table) error {
	if other == nil || other.NumRows() == 0 {
		return nil
	}
	if len(t.Columns) != len(other.Columns) {
		return fmt.Errorf("table %s: cannot append %d columns onto %d", t.Name, len(other.Columns), len(t.Columns))
	}
	for name := range t.Columns {
		if _, ok := other.Columns[name]; !ok {
			return fmt.Errorf("table %s: appended rows missing column %s", t.Name, name)
		}
	}
	t.IDs = append(t.IDs, other.IDs...)
	for name := range t.Columns {
		t.Columns[name] = append(t.Columns[name], other.Columns[name]...)
	}
	return nil
}

// Reorder rearranges rows to follow the supplied identifier order. Every
// identifier in order must be present exactly once.
func (t *Table) Reorder(order []int64) error {
	if len(order) != len(t.IDs) {
		return fmt.Errorf("table %s: reorder with %d ids for %d rows", t.Name, len(order), len(t.IDs))
	}
	pos := make(map[int64]int, len(t.IDs))
	for i, id := range t.IDs {
		pos[id] = i
	}
	perm := make([]int, len(order))
	for i, id := range order {
		j, ok := pos[id]
		if !ok {
			return fmt.Errorf("table %s: unknown row id %d in reorder", t.Name, id)
		}
		perm[i] = j
	}
	ids := make([]int64, len(order))
	for i, j := range perm {
		ids[i] = t.IDs[j]
	}
	t.IDs = ids
	for name, col := range t.Columns {
		next := make([]float64, len(perm))
		for i, j := range perm {
			next[i] = col[j]
		}
		t.Columns[name] = next
	}
	return nil
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	return t.Slice(0, len(t.IDs))
}

// Equal reports whether both tables hold identical rows and columns.
func (t *Table) Equal(other *Table) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.Name != other.Name || len(t.IDs) != len(other.IDs) || len(t.Columns) != len(other.Columns) {
		return false
	}
	for i := range t.IDs {
		if t.IDs[i] != other.IDs[i] {
			return false
		}
	}
	for name, col := range t.Columns {
		otherCol, ok := other.Columns[name]
		if !ok || len(col) != len(otherCol) {
			return false
		}
		for i := range col {
			if col[i] != otherCol[i] {
				return false
			}
		}
	}
	return true
}

// Tables is a named snapshot set, the unit the checkpoint store persists.
type Tables map[string]*Table

// Clone returns a deep copy of every table in the set.
func (t Tables) Clone() Tables {
	if t == nil {
		return nil
	}
	out := make(Tables, len(t))
	for name, table := range t {
		out[name] = table.Clone()
	}
	return out
}

// Names returns the table names in deterministic order.
func (t Tables) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

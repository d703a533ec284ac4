package matrix

import (
	"sort"

	"github.com/asakaida/permatrix/internal/entities"
)

// DirtyEntry is one row of the dirty index
type DirtyEntry struct {
	DirtyCount int
	Row        *entities.Row
}

// DirtyIndex maps row keys to rows with at least one dirty flag.
// Clean rows are removed, not zeroed.
type DirtyIndex map[string]*DirtyEntry

// Total returns the sum of the dirty counts of the index
func (d DirtyIndex) Total() int {
	n := 0
	for _, e := range d {
		n += e.DirtyCount
	}
	return n
}

// Keys returns the row keys of the index in sorted order
func (d DirtyIndex) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// track recomputes the dirty count of a row and updates the index
func (t *Table) track(row *entities.Row) {
	key := row.Key()
	if row.Recount() == 0 {
		delete(t.dirty, key)
		return
	}
	if e, ok := t.dirty[key]; ok {
		e.DirtyCount = row.DirtyCount
		e.Row = row
		return
	}
	t.dirty[key] = &DirtyEntry{DirtyCount: row.DirtyCount, Row: row}
}

// DirtyIndex returns a copy of the dirty index of the table
func (t *Table) DirtyIndex() DirtyIndex {
	out := make(DirtyIndex, len(t.dirty))
	for k, e := range t.dirty {
		out[k] = &DirtyEntry{DirtyCount: e.DirtyCount, Row: e.Row}
	}
	return out
}

// DirtyCount returns the table level dirty count
func (t *Table) DirtyCount() int {
	return t.dirty.Total()
}

// Summary is the aggregate dirty state shown to the operator
// Example: "12 object permissions changed"
type Summary struct {
	Changed     map[entities.Kind]int // dirty flags per kind
	DirtyRows   map[entities.Kind]int // rows in the dirty index per kind
	DirtyCells  map[entities.Kind]int // cells with at least one dirty flag per kind
	FailedCells int                   // cells carrying an error message
	State       SaveState
}

// Total returns the number of changed flags across all kinds
func (s *Summary) Total() int {
	n := 0
	for _, c := range s.Changed {
		n += c
	}
	return n
}

// Summary computes the aggregate counts from the dirty indexes
func (s *Store) Summary() *Summary {
	sum := &Summary{
		Changed:    make(map[entities.Kind]int, len(entities.Kinds)),
		DirtyRows:  make(map[entities.Kind]int, len(entities.Kinds)),
		DirtyCells: make(map[entities.Kind]int, len(entities.Kinds)),
	}
	for _, kind := range entities.Kinds {
		table := s.tables[kind]
		sum.Changed[kind] = table.dirty.Total()
		sum.DirtyRows[kind] = len(table.dirty)
		for _, e := range table.dirty {
			for _, c := range e.Row.Cells {
				if c.DirtyCount() > 0 {
					sum.DirtyCells[kind]++
				}
			}
		}
		for _, row := range table.rows {
			for _, c := range row.Cells {
				if c.ErrorMessage != "" {
					sum.FailedCells++
				}
			}
		}
	}
	return sum
}

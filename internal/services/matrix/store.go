package matrix

import (
	"fmt"
	"sort"

	"github.com/asakaida/permatrix/internal/entities"
)

// Table holds the rows of one permission kind and its dirty index
type Table struct {
	Kind  entities.Kind
	rows  map[string]*entities.Row
	order []string // row keys in selection order
	dirty DirtyIndex
}

// Store is the permission record store of one selection.
// It owns every cell; cells change only through the operators in this package.
type Store struct {
	parents   []*entities.ParentIdentity
	parentIdx map[string]*entities.ParentIdentity
	tables    map[entities.Kind]*Table
}

// NewStore materializes a cell for every entity x parent pair. Cells without a
// matching record start with a nil baseline. Records that match no selected
// entity or parent are ignored.
func NewStore(entityList []*entities.Entity, parents []*entities.ParentIdentity, records []*entities.PermissionRecord) (*Store, error) {
	s := &Store{
		parentIdx: make(map[string]*entities.ParentIdentity, len(parents)),
		tables:    make(map[entities.Kind]*Table, len(entities.Kinds)),
	}
	for _, kind := range entities.Kinds {
		s.tables[kind] = &Table{
			Kind:  kind,
			rows:  make(map[string]*entities.Row),
			dirty: make(DirtyIndex),
		}
	}

	for _, p := range parents {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid parent identity: %w", err)
		}
		if _, exists := s.parentIdx[p.ID]; exists {
			continue
		}
		cp := *p
		s.parents = append(s.parents, &cp)
		s.parentIdx[p.ID] = &cp
	}

	byKey := make(map[string]*entities.PermissionRecord, len(records))
	for _, r := range records {
		byKey[entities.RecordKey(r.Kind, r.ParentID, r.EntityKey())] = r
	}

	for _, e := range entityList {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("invalid entity: %w", err)
		}
		table := s.tables[e.Kind]
		key := e.Key()
		if _, exists := table.rows[key]; exists {
			continue
		}

		ent := *e
		row := &entities.Row{
			Entity: &ent,
			Cells:  make(map[string]*entities.Cell, len(s.parents)),
		}
		for _, p := range s.parents {
			baseline := byKey[entities.RecordKey(e.Kind, p.ID, key)]
			row.Cells[p.ID] = entities.NewCell(e.Kind, key, p.ID, baseline)
		}
		table.rows[key] = row
		table.order = append(table.order, key)
	}

	return s, nil
}

// Parents returns the selected parent identities in selection order
func (s *Store) Parents() []*entities.ParentIdentity {
	return s.parents
}

// Parent returns a parent identity by id
func (s *Store) Parent(id string) (*entities.ParentIdentity, bool) {
	p, ok := s.parentIdx[id]
	return p, ok
}

// Table returns the table of a kind
func (s *Store) Table(kind entities.Kind) *Table {
	return s.tables[kind]
}

// Row returns a row by kind and key
func (s *Store) Row(kind entities.Kind, key string) (*entities.Row, error) {
	table, ok := s.tables[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownRow, kind, key)
	}
	row, ok := table.rows[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownRow, kind, key)
	}
	return row, nil
}

// Cell returns a copy of a cell
func (s *Store) Cell(kind entities.Kind, key, parentID string) (*entities.Cell, error) {
	row, err := s.Row(kind, key)
	if err != nil {
		return nil, err
	}
	cell, ok := row.Cells[parentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParent, parentID)
	}
	return cell.Clone(), nil
}

// Rows returns the rows of a table in selection order
func (t *Table) Rows() []*entities.Row {
	rows := make([]*entities.Row, 0, len(t.order))
	for _, key := range t.order {
		rows = append(rows, t.rows[key])
	}
	return rows
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.order)
}

// Errors returns the error message of every failed cell keyed by record key
func (s *Store) Errors() map[string]string {
	out := make(map[string]string)
	for _, kind := range entities.Kinds {
		for _, row := range s.tables[kind].rows {
			for _, c := range row.Cells {
				if c.ErrorMessage != "" {
					out[c.Key()] = c.ErrorMessage
				}
			}
		}
	}
	return out
}

// clearErrors removes every error message of the store
func (s *Store) clearErrors() {
	for _, table := range s.tables {
		for _, row := range table.rows {
			for id, c := range row.Cells {
				if c.ErrorMessage == "" {
					continue
				}
				cp := c.Clone()
				cp.ErrorMessage = ""
				row.Cells[id] = cp
			}
		}
	}
}

// setCell replaces a cell of a row and updates the dirty index
func (t *Table) setCell(row *entities.Row, cell *entities.Cell) {
	row.Cells[cell.ParentID] = cell
	t.track(row)
}

// sortedParentIDs returns the parent ids of a row in a stable order
func sortedParentIDs(row *entities.Row) []string {
	ids := make([]string, 0, len(row.Cells))
	for id := range row.Cells {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

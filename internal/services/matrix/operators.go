package matrix

import (
	"fmt"

	"github.com/asakaida/permatrix/internal/entities"
)

// ColumnMode is the action of a column or table header
type ColumnMode string

const (
	SelectAll   ColumnMode = "selectAll"   // force the flag true
	UnselectAll ColumnMode = "unselectAll" // force the flag false
	Reset       ColumnMode = "reset"       // revert unsaved edits of the flag
)

// ParseColumnMode parses a column mode name
func ParseColumnMode(name string) (ColumnMode, error) {
	switch ColumnMode(name) {
	case SelectAll, UnselectAll, Reset:
		return ColumnMode(name), nil
	default:
		return "", fmt.Errorf("unknown column mode: %q", name)
	}
}

// SetCell applies one flag to one cell
func (s *Store) SetCell(kind entities.Kind, key, parentID string, flag entities.Flag, value bool) error {
	row, err := s.Row(kind, key)
	if err != nil {
		return err
	}
	cell, ok := row.Cells[parentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParent, parentID)
	}

	next, err := ApplyFlag(cell, row.Entity, flag, value)
	if err != nil {
		return err
	}
	s.tables[kind].setCell(row, next)
	return nil
}

// ApplyToRow applies a set of target flag values to every cell of a row.
// Disabled targets are applied before enabled ones so an explicit grant in the
// same set is never undone by a cascade.
func (s *Store) ApplyToRow(kind entities.Kind, key string, targets map[entities.Flag]bool) error {
	row, err := s.Row(kind, key)
	if err != nil {
		return err
	}
	applicable := kind.Flags()
	for f := range targets {
		if !applicable.Has(f) {
			return fmt.Errorf("%w: %s on %s", ErrFlagNotApplicable, f, kind)
		}
	}

	var off, on entities.FlagSet
	for f, v := range targets {
		if v {
			on = on.With(f, true)
		} else {
			off = off.With(f, true)
		}
	}

	table := s.tables[kind]
	for _, id := range sortedParentIDs(row) {
		cell := row.Cells[id]
		for _, f := range off.Flags() {
			if cell, err = ApplyFlag(cell, row.Entity, f, false); err != nil {
				return err
			}
		}
		for _, f := range on.Flags() {
			if cell, err = ApplyFlag(cell, row.Entity, f, true); err != nil {
				return err
			}
		}
		table.setCell(row, cell)
	}
	return nil
}

// ResetRow reverts only the dirty flags of a row back to their baseline
// values. Flags that are not dirty are left as they are.
func (s *Store) ResetRow(kind entities.Kind, key string) error {
	row, err := s.Row(kind, key)
	if err != nil {
		return err
	}

	table := s.tables[kind]
	for _, id := range sortedParentIDs(row) {
		cell := row.Cells[id]
		if cell.DirtyCount() == 0 {
			continue
		}
		next, err := revertDirty(cell, row.Entity, cell.Dirty)
		if err != nil {
			return err
		}
		table.setCell(row, next)
	}
	return nil
}

// ApplyColumn applies a column action for one parent identity and flag to
// every visible row. Rows hidden by the filter are not touched. Returns the
// number of cells visited.
func (s *Store) ApplyColumn(kind entities.Kind, parentID string, flag entities.Flag, mode ColumnMode, filter RowFilter) (int, error) {
	if _, ok := s.parentIdx[parentID]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownParent, parentID)
	}
	if !kind.Flags().Has(flag) {
		return 0, fmt.Errorf("%w: %s on %s", ErrFlagNotApplicable, flag, kind)
	}
	if _, err := ParseColumnMode(string(mode)); err != nil {
		return 0, err
	}

	table, ok := s.tables[kind]
	if !ok {
		return 0, fmt.Errorf("unknown permission kind: %s", kind)
	}

	visited := 0
	for _, row := range table.Rows() {
		if !visible(filter, row) {
			continue
		}
		cell, ok := row.Cells[parentID]
		if !ok {
			continue
		}

		var (
			next *entities.Cell
			err  error
		)
		switch mode {
		case SelectAll:
			next, err = ApplyFlag(cell, row.Entity, flag, true)
		case UnselectAll:
			next, err = ApplyFlag(cell, row.Entity, flag, false)
		case Reset:
			if !cell.IsDirty(flag) {
				continue
			}
			next, err = revertDirty(cell, row.Entity, FlagSetOf(flag))
		}
		if err != nil {
			return visited, err
		}
		table.setCell(row, next)
		visited++
	}
	return visited, nil
}

// ApplyTable applies a column action for every selected parent identity
func (s *Store) ApplyTable(kind entities.Kind, flag entities.Flag, mode ColumnMode, filter RowFilter) (int, error) {
	total := 0
	for _, p := range s.parents {
		n, err := s.ApplyColumn(kind, p.ID, flag, mode, filter)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// revertDirty applies the baseline value of each flag in flags that is dirty
func revertDirty(cell *entities.Cell, entity *entities.Entity, flags entities.FlagSet) (*entities.Cell, error) {
	baseline := cell.BaselineFlags()
	next := cell
	for _, f := range flags.Flags() {
		if !next.IsDirty(f) {
			continue
		}
		var err error
		if next, err = ApplyFlag(next, entity, f, baseline.Has(f)); err != nil {
			return nil, err
		}
	}
	return next, nil
}

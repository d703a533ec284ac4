package entities

// Cell is the permission state of one (entity, parent identity) pair
type Cell struct {
	Kind      Kind
	EntityKey string
	ParentID  string

	Current  FlagSet           // Flags as currently edited
	Baseline *PermissionRecord // Last persisted record (nil if none exists on the server)
	Dirty    FlagSet           // Flags whose current value differs from the baseline

	ErrorMessage string // Error of the last save attempt for this cell
}

// NewCell creates a clean cell from its baseline record (nil for no record)
func NewCell(kind Kind, entityKey, parentID string, baseline *PermissionRecord) *Cell {
	c := &Cell{
		Kind:      kind,
		EntityKey: entityKey,
		ParentID:  parentID,
		Baseline:  baseline.Clone(),
	}
	c.Current = c.BaselineFlags()
	return c
}

// BaselineFlags returns the persisted flags (empty when there is no record)
func (c *Cell) BaselineFlags() FlagSet {
	if c.Baseline == nil {
		return 0
	}
	return c.Baseline.Flags & c.Kind.Flags()
}

// Key returns the record key of the cell
func (c *Cell) Key() string {
	return RecordKey(c.Kind, c.ParentID, c.EntityKey)
}

// IsDirty reports whether flag f differs from the baseline
func (c *Cell) IsDirty(f Flag) bool {
	return c.Dirty.Has(f)
}

// DirtyCount returns the number of dirty flags
func (c *Cell) DirtyCount() int {
	return c.Dirty.Count()
}

// RecomputeDirty recomputes the dirty markers against the baseline
func (c *Cell) RecomputeDirty() {
	c.Dirty = (c.Current ^ c.BaselineFlags()) & c.Kind.Flags()
}

// Clone returns a deep copy of the cell
func (c *Cell) Clone() *Cell {
	cp := *c
	cp.Baseline = c.Baseline.Clone()
	return &cp
}

// Row groups the cells of one entity across all selected parent identities
type Row struct {
	Entity     *Entity
	Cells      map[string]*Cell // parent ID -> cell
	DirtyCount int
}

// Key returns the row key
func (r *Row) Key() string {
	return r.Entity.Key()
}

// Recount recomputes DirtyCount from the cells
func (r *Row) Recount() int {
	n := 0
	for _, c := range r.Cells {
		n += c.DirtyCount()
	}
	r.DirtyCount = n
	return n
}

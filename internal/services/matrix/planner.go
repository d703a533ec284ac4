package matrix

import (
	"github.com/asakaida/permatrix/internal/entities"
)

// MaxBatchSize is the hard ceiling of records per save call
const MaxBatchSize = 200

// Bucket is the save operation a candidate belongs to
type Bucket = entities.Operation

// Candidate is one dirty cell planned for saving. Its position (bucket,
// index, batch, offset) is fixed at planning time so that results can be
// mapped back regardless of the order in which batches complete.
type Candidate struct {
	Kind     entities.Kind
	RowKey   string
	ParentID string
	Record   *entities.PermissionRecord // Save-ready record carrying the full current flag set

	Bucket Bucket // create or update
	Index  int    // position within the bucket
	Batch  int    // batch number within the bucket
	Offset int    // position within the batch
}

// CellKey returns the record key of the originating cell
func (c *Candidate) CellKey() string {
	return entities.RecordKey(c.Kind, c.ParentID, c.RowKey)
}

// KindPlan holds the insert and update buckets of one kind
type KindPlan struct {
	Kind     entities.Kind
	ToInsert []*Candidate
	ToUpdate []*Candidate
}

// Len returns the number of candidates
func (p *KindPlan) Len() int {
	return len(p.ToInsert) + len(p.ToUpdate)
}

// Batches splits a bucket into consecutive batches
func (p *KindPlan) Batches(bucket Bucket, size int) [][]*Candidate {
	list := p.ToInsert
	if bucket == entities.OperationUpdate {
		list = p.ToUpdate
	}
	return chunk(list, size)
}

// SavePlan is the result of planning a dirty index
type SavePlan struct {
	BatchSize int
	Kinds     map[entities.Kind]*KindPlan
	// ResultMap maps record keys of originating cells to their candidates
	ResultMap map[string]*Candidate
}

// Len returns the total number of candidates
func (p *SavePlan) Len() int {
	return len(p.ResultMap)
}

// Kind returns the plan of one kind (never nil)
func (p *SavePlan) Kind(kind entities.Kind) *KindPlan {
	if kp, ok := p.Kinds[kind]; ok {
		return kp
	}
	return &KindPlan{Kind: kind}
}

// Plan flattens a dirty index into insert and update candidates. Cells
// without a baseline record become inserts with the full flag set; cells with
// a baseline become updates of that record with the full current flag set,
// including updates that clear every flag.
func Plan(kind entities.Kind, index DirtyIndex, batchSize int) *KindPlan {
	batchSize = clampBatchSize(batchSize)
	kp := &KindPlan{Kind: kind}

	for _, key := range index.Keys() {
		row := index[key].Row
		for _, parentID := range sortedParentIDs(row) {
			cell := row.Cells[parentID]
			if cell.DirtyCount() == 0 {
				continue
			}

			c := &Candidate{
				Kind:     kind,
				RowKey:   key,
				ParentID: parentID,
				Record:   recordFor(row.Entity, cell),
			}
			if cell.Baseline == nil {
				c.Bucket = entities.OperationCreate
				c.Index = len(kp.ToInsert)
				kp.ToInsert = append(kp.ToInsert, c)
			} else {
				c.Bucket = entities.OperationUpdate
				c.Index = len(kp.ToUpdate)
				kp.ToUpdate = append(kp.ToUpdate, c)
			}
			c.Batch = c.Index / batchSize
			c.Offset = c.Index % batchSize
		}
	}
	return kp
}

// PlanStore plans every kind of the store
func PlanStore(s *Store, batchSize int) *SavePlan {
	plan := &SavePlan{
		BatchSize: clampBatchSize(batchSize),
		Kinds:     make(map[entities.Kind]*KindPlan, len(entities.Kinds)),
		ResultMap: make(map[string]*Candidate),
	}
	for _, kind := range entities.Kinds {
		kp := Plan(kind, s.tables[kind].dirty, plan.BatchSize)
		plan.Kinds[kind] = kp
		for _, c := range kp.ToInsert {
			plan.ResultMap[c.CellKey()] = c
		}
		for _, c := range kp.ToUpdate {
			plan.ResultMap[c.CellKey()] = c
		}
	}
	return plan
}

// recordFor builds the save-ready record of a cell
func recordFor(entity *entities.Entity, cell *entities.Cell) *entities.PermissionRecord {
	r := &entities.PermissionRecord{
		Kind:     cell.Kind,
		ParentID: cell.ParentID,
		Flags:    cell.Current & cell.Kind.Flags(),
	}
	if cell.Baseline != nil {
		r.ID = cell.Baseline.ID
	}
	if entity.Kind == entities.KindObject {
		r.SobjectType = entity.Name
	} else {
		r.SobjectType = entity.Object
		r.Field = entity.Key()
	}
	return r
}

func clampBatchSize(size int) int {
	if size <= 0 || size > MaxBatchSize {
		return MaxBatchSize
	}
	return size
}

func chunk(list []*Candidate, size int) [][]*Candidate {
	size = clampBatchSize(size)
	var out [][]*Candidate
	for start := 0; start < len(list); start += size {
		end := start + size
		if end > len(list) {
			end = len(list)
		}
		out = append(out, list[start:end])
	}
	return out
}

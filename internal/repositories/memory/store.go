// Package memory provides in-memory implementations of the record service,
// parent service, record type deployer and catalog. It is intended for
// tests, examples and local experiments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/asakaida/permatrix/internal/entities"
	"github.com/asakaida/permatrix/internal/repositories"
	"github.com/google/uuid"
)

// Compile-time interface checks.
var (
	_ repositories.RecordService      = (*Store)(nil)
	_ repositories.ParentService      = (*Store)(nil)
	_ repositories.RecordTypeDeployer = (*Store)(nil)
	_ repositories.CatalogRepository  = (*Store)(nil)
)

// SaveCall records one Save or Deploy invocation
type SaveCall struct {
	Operation entities.Operation
	Kind      entities.Kind
	Records   int
}

// Store is a thread-safe in-memory permission backend
type Store struct {
	mu sync.RWMutex

	records map[string]*entities.PermissionRecord // id -> record
	catalog map[string]*entities.Entity           // kind|key -> entity
	parents map[string]*entities.ParentIdentity   // id -> parent
	touched map[string]time.Time                  // touch id -> last touch

	restricted map[string]bool         // field keys rejected with a restricted picklist error
	failCalls  map[entities.Kind]error // kind -> error returned by every Save call
	touchErr   error                   // error returned by Touch
	calls      []SaveCall              // every Save and Deploy call
	saveHook   func(SaveCall)          // called before each Save or Deploy
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		records:    make(map[string]*entities.PermissionRecord),
		catalog:    make(map[string]*entities.Entity),
		parents:    make(map[string]*entities.ParentIdentity),
		touched:    make(map[string]time.Time),
		restricted: make(map[string]bool),
		failCalls:  make(map[entities.Kind]error),
	}
}

// AddEntity registers an entity in the catalog
func (s *Store) AddEntity(e *entities.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.catalog[catalogKey(e.Kind, e.Key())] = &cp
}

// AddParent registers a parent identity in the catalog
func (s *Store) AddParent(p *entities.ParentIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.parents[p.ID] = &cp
}

// Put stores a record directly, assigning an id when missing. Returns the id.
func (s *Store) Put(r *entities.PermissionRecord) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := r.Clone()
	if cp.ID == "" {
		cp.ID = newID(cp.Kind)
	}
	s.records[cp.ID] = cp
	return cp.ID
}

// Restrict makes saves of the given field key fail with a restricted picklist error
func (s *Store) Restrict(fieldKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restricted[fieldKey] = true
}

// FailCalls makes every Save call of a kind fail with err (nil clears)
func (s *Store) FailCalls(kind entities.Kind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failCalls, kind)
		return
	}
	s.failCalls[kind] = err
}

// FailTouch makes Touch fail with err (nil clears)
func (s *Store) FailTouch(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchErr = err
}

// OnSave registers a hook called before every Save or Deploy call
func (s *Store) OnSave(hook func(SaveCall)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveHook = hook
}

// Calls returns every Save and Deploy call made so far
func (s *Store) Calls() []SaveCall {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SaveCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// Touched returns the last touch time of a parent (zero if never touched)
func (s *Store) Touched(touchID string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.touched[touchID]
}

// Records returns every stored record of a kind sorted by key
func (s *Store) Records(kind entities.Kind) []*entities.PermissionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entities.PermissionRecord
	for _, r := range s.records {
		if r.Kind == kind {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return entities.RecordKey(out[i].Kind, out[i].ParentID, out[i].EntityKey()) <
			entities.RecordKey(out[j].Kind, out[j].ParentID, out[j].EntityKey())
	})
	return out
}

// Fetch implements repositories.RecordService
func (s *Store) Fetch(ctx context.Context, filter *repositories.RecordFilter) ([]*entities.PermissionRecord, error) {
	if filter == nil {
		return nil, fmt.Errorf("record filter is required")
	}
	if err := filter.Kind.Validate(); err != nil {
		return nil, err
	}

	keys := toSet(filter.EntityKeys)
	parents := toSet(filter.ParentIDs)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entities.PermissionRecord
	for _, r := range s.records {
		if r.Kind != filter.Kind {
			continue
		}
		if len(keys) > 0 && !keys[r.EntityKey()] {
			continue
		}
		if len(parents) > 0 && !parents[r.ParentID] {
			continue
		}
		out = append(out, r.Clone())
	}
	return out, nil
}

// Save implements repositories.RecordService
func (s *Store) Save(ctx context.Context, op entities.Operation, kind entities.Kind, records []*entities.PermissionRecord) ([]*entities.SaveResult, error) {
	if err := s.begin(op, kind, len(records)); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]*entities.SaveResult, len(records))
	for i, r := range records {
		results[i] = s.saveOne(op, r)
	}
	return results, nil
}

// Deploy implements repositories.RecordTypeDeployer (upsert semantics, an
// empty visibility removes the assignment)
func (s *Store) Deploy(ctx context.Context, records []*entities.PermissionRecord) ([]*entities.SaveResult, error) {
	if err := s.begin(entities.OperationUpdate, entities.KindRecordType, len(records)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]*entities.SaveResult, len(records))
	for i, r := range records {
		if err := r.Validate(); err != nil {
			results[i] = entities.Failed(entities.StatusMetadataDeployFailure, err.Error())
			continue
		}
		existing := s.findLocked(r.Kind, r.ParentID, r.EntityKey())
		switch {
		case existing == nil && r.Empty():
			results[i] = entities.Succeeded(r.ID)
		case existing == nil:
			results[i] = s.saveOne(entities.OperationCreate, r)
		default:
			cp := r.Clone()
			cp.ID = existing.ID
			results[i] = s.saveOne(entities.OperationUpdate, cp)
		}
	}
	return results, nil
}

// Touch implements repositories.ParentService
func (s *Store) Touch(ctx context.Context, parents []*entities.ParentIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.touchErr != nil {
		return s.touchErr
	}
	now := time.Now()
	for _, p := range parents {
		s.touched[p.TouchID()] = now
	}
	return nil
}

// Entities implements repositories.CatalogRepository
func (s *Store) Entities(ctx context.Context, kind entities.Kind, keys []string) ([]*entities.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entities.Entity
	for _, key := range keys {
		if e, ok := s.catalog[catalogKey(kind, key)]; ok {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Parents implements repositories.CatalogRepository
func (s *Store) Parents(ctx context.Context, ids []string) ([]*entities.ParentIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entities.ParentIdentity
	for _, id := range ids {
		if p, ok := s.parents[id]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// begin records a call and returns the injected failure of the kind, if any
func (s *Store) begin(op entities.Operation, kind entities.Kind, n int) error {
	call := SaveCall{Operation: op, Kind: kind, Records: n}

	s.mu.Lock()
	s.calls = append(s.calls, call)
	hook := s.saveHook
	err := s.failCalls[kind]
	s.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return err
}

// saveOne applies a single record (must be called with lock held)
func (s *Store) saveOne(op entities.Operation, r *entities.PermissionRecord) *entities.SaveResult {
	if err := r.Validate(); err != nil {
		return entities.Failed(entities.StatusRequiredFieldMissing, err.Error())
	}
	if r.Kind == entities.KindField && s.restricted[r.Field] {
		return entities.Failed(entities.StatusRestrictedPicklist,
			fmt.Sprintf("Field: bad value for restricted picklist field: %s", r.Field))
	}
	if _, ok := s.parents[r.ParentID]; len(s.parents) > 0 && !ok {
		return entities.Failed(entities.StatusInvalidCrossReference,
			fmt.Sprintf("invalid cross reference id: %s", r.ParentID))
	}
	if !entities.RulesFor(r.Kind).Consistent(r.Flags) {
		return entities.Failed(entities.StatusFieldIntegrity,
			fmt.Sprintf("inconsistent permissions %s", r.Flags))
	}

	switch op {
	case entities.OperationCreate:
		if s.findLocked(r.Kind, r.ParentID, r.EntityKey()) != nil {
			return entities.Failed(entities.StatusDuplicateValue,
				fmt.Sprintf("duplicate value found: %s", r.EntityKey()))
		}
		cp := r.Clone()
		cp.ID = newID(cp.Kind)
		cp.UpdatedAt = time.Now()
		s.records[cp.ID] = cp
		return entities.Succeeded(cp.ID)

	case entities.OperationUpdate:
		existing, ok := s.records[r.ID]
		if !ok {
			return entities.Failed(entities.StatusEntityIsDeleted,
				fmt.Sprintf("entity is deleted: %s", r.ID))
		}
		if r.Empty() {
			delete(s.records, r.ID)
			return entities.Succeeded(r.ID)
		}
		existing.Flags = r.Flags
		existing.UpdatedAt = time.Now()
		return entities.Succeeded(r.ID)

	default:
		return entities.Failed(entities.StatusUnknownException, fmt.Sprintf("unknown operation: %s", op))
	}
}

func (s *Store) findLocked(kind entities.Kind, parentID, key string) *entities.PermissionRecord {
	for _, r := range s.records {
		if r.Kind == kind && r.ParentID == parentID && r.EntityKey() == key {
			return r
		}
	}
	return nil
}

func catalogKey(kind entities.Kind, key string) string {
	return string(kind) + "|" + key
}

func newID(kind entities.Kind) string {
	prefix := map[entities.Kind]string{
		entities.KindObject:     "110",
		entities.KindField:      "01k",
		entities.KindRecordType: "rtv",
	}[kind]
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:15]
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

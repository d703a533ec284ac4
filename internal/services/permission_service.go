package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/asakaida/permatrix/internal/entities"
	"github.com/asakaida/permatrix/internal/repositories"
	"github.com/asakaida/permatrix/internal/services/matrix"
	"golang.org/x/sync/errgroup"
)

// Selection is the set of entities and parent identities shown in the matrix
type Selection struct {
	Objects     []string // Object API names (e.g., "Account")
	Fields      []string // "Object.Field"
	RecordTypes []string // "Object.DeveloperName"
	ParentIDs   []string // Profile or permission set ids
}

// Keys returns the selected keys of a kind
func (s *Selection) Keys(kind entities.Kind) []string {
	switch kind {
	case entities.KindObject:
		return s.Objects
	case entities.KindField:
		return s.Fields
	case entities.KindRecordType:
		return s.RecordTypes
	default:
		return nil
	}
}

// Validate checks if the selection is usable
func (s *Selection) Validate() error {
	if len(s.ParentIDs) == 0 {
		return fmt.Errorf("at least one profile or permission set is required")
	}
	if len(s.Objects)+len(s.Fields)+len(s.RecordTypes) == 0 {
		return fmt.Errorf("at least one object, field or record type is required")
	}
	for _, key := range append(append([]string{}, s.Fields...), s.RecordTypes...) {
		if object, name := entities.SplitKey(key); object == "" || name == "" {
			return fmt.Errorf("invalid key %q: expected Object.Name", key)
		}
	}
	return nil
}

// PermissionServiceInterface defines the interface for opening matrix sessions
type PermissionServiceInterface interface {
	Load(ctx context.Context, sel *Selection) (*matrix.Store, error)
	Open(ctx context.Context, sel *Selection) (*matrix.Engine, error)
	Reload(ctx context.Context, engine *matrix.Engine, sel *Selection) error
}

// PermissionService loads the permission records of a selection and opens
// engines over them
type PermissionService struct {
	catalog repositories.CatalogRepository
	records repositories.RecordService
	options []matrix.Option
}

// NewPermissionService creates a new PermissionService. opts are passed to
// every engine it opens.
func NewPermissionService(catalog repositories.CatalogRepository, records repositories.RecordService, opts ...matrix.Option) *PermissionService {
	return &PermissionService{
		catalog: catalog,
		records: records,
		options: opts,
	}
}

// Load describes the selection and fetches its records, one query per kind
func (s *PermissionService) Load(ctx context.Context, sel *Selection) (*matrix.Store, error) {
	if sel == nil {
		return nil, fmt.Errorf("selection is required")
	}
	if err := sel.Validate(); err != nil {
		return nil, fmt.Errorf("invalid selection: %w", err)
	}

	parents, err := s.catalog.Parents(ctx, sel.ParentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to describe parents: %w", err)
	}
	if missing := missingKeys(sel.ParentIDs, parents, func(p *entities.ParentIdentity) string { return p.ID }); len(missing) > 0 {
		return nil, fmt.Errorf("unknown profiles or permission sets: %s", strings.Join(missing, ", "))
	}

	var (
		described = make([][]*entities.Entity, len(entities.Kinds))
		fetched   = make([][]*entities.PermissionRecord, len(entities.Kinds))
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range entities.Kinds {
		i, kind := i, kind
		keys := sel.Keys(kind)
		if len(keys) == 0 {
			continue
		}
		g.Go(func() error {
			ents, err := s.catalog.Entities(gctx, kind, keys)
			if err != nil {
				return fmt.Errorf("failed to describe %s: %w", kind, err)
			}
			if missing := missingKeys(keys, ents, func(e *entities.Entity) string { return e.Key() }); len(missing) > 0 {
				return fmt.Errorf("unknown %s entities: %s", kind, strings.Join(missing, ", "))
			}
			described[i] = ents

			records, err := s.records.Fetch(gctx, &repositories.RecordFilter{
				Kind:       kind,
				EntityKeys: keys,
				ParentIDs:  sel.ParentIDs,
			})
			if err != nil {
				return fmt.Errorf("failed to fetch %s: %w", kind, err)
			}
			fetched[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		ents    []*entities.Entity
		records []*entities.PermissionRecord
	)
	for i := range entities.Kinds {
		ents = append(ents, orderBy(sel.Keys(entities.Kinds[i]), described[i])...)
		records = append(records, fetched[i]...)
	}

	store, err := matrix.NewStore(ents, orderParents(sel.ParentIDs, parents), records)
	if err != nil {
		return nil, fmt.Errorf("failed to build permission store: %w", err)
	}
	return store, nil
}

// Open loads the selection and returns an engine over it
func (s *PermissionService) Open(ctx context.Context, sel *Selection) (*matrix.Engine, error) {
	store, err := s.Load(ctx, sel)
	if err != nil {
		return nil, err
	}
	return matrix.NewEngine(store, s.records, s.options...), nil
}

// Reload replaces the store of an engine, e.g. after the selection changed.
// Unsaved edits of the previous store are discarded.
func (s *PermissionService) Reload(ctx context.Context, engine *matrix.Engine, sel *Selection) error {
	store, err := s.Load(ctx, sel)
	if err != nil {
		return err
	}
	return engine.Replace(store)
}

func missingKeys[T any](want []string, got []T, key func(T) string) []string {
	found := make(map[string]bool, len(got))
	for _, v := range got {
		found[key(v)] = true
	}
	var missing []string
	for _, k := range want {
		if !found[k] {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}

// orderBy returns ents in selection order
func orderBy(keys []string, ents []*entities.Entity) []*entities.Entity {
	byKey := make(map[string]*entities.Entity, len(ents))
	for _, e := range ents {
		byKey[e.Key()] = e
	}
	out := make([]*entities.Entity, 0, len(keys))
	for _, k := range keys {
		if e, ok := byKey[k]; ok {
			out = append(out, e)
		}
	}
	return out
}

func orderParents(ids []string, parents []*entities.ParentIdentity) []*entities.ParentIdentity {
	byID := make(map[string]*entities.ParentIdentity, len(parents))
	for _, p := range parents {
		byID[p.ID] = p
	}
	out := make([]*entities.ParentIdentity, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

package cached

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/asakaida/permatrix/internal/entities"
	"github.com/asakaida/permatrix/internal/repositories"
	"github.com/asakaida/permatrix/internal/repositories/memory"
	"github.com/asakaida/permatrix/pkg/cache/memorycache"
)

// countingCatalog counts the keys asked from the underlying catalog
type countingCatalog struct {
	repositories.CatalogRepository
	entityKeys []string
	parentIDs  []string
	err        error
}

func (c *countingCatalog) Entities(ctx context.Context, kind entities.Kind, keys []string) ([]*entities.Entity, error) {
	c.entityKeys = append(c.entityKeys, keys...)
	if c.err != nil {
		return nil, c.err
	}
	return c.CatalogRepository.Entities(ctx, kind, keys)
}

func (c *countingCatalog) Parents(ctx context.Context, ids []string) ([]*entities.ParentIdentity, error) {
	c.parentIDs = append(c.parentIDs, ids...)
	if c.err != nil {
		return nil, c.err
	}
	return c.CatalogRepository.Parents(ctx, ids)
}

func newTestCatalog(t *testing.T) (*Catalog, *countingCatalog) {
	t.Helper()

	mem := memory.New()
	mem.AddEntity(entities.NewObjectEntity("Account", "Account"))
	mem.AddEntity(entities.NewObjectEntity("Contact", "Contact"))
	mem.AddEntity(entities.NewFieldEntity("Account", "Industry", "Industry"))
	mem.AddEntity(entities.NewFieldEntity("Contact", "Email", "Email"))
	mem.AddEntity(entities.NewRecordTypeEntity("Account", "Partner", "Partner"))
	mem.AddParent(&entities.ParentIdentity{ID: "0PS1", Type: entities.ParentPermissionSet, Name: "Sales"})

	c, err := memorycache.New(&memorycache.Config{MaxSizeBytes: 1 << 20, DefaultTTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	counting := &countingCatalog{CatalogRepository: mem}
	return NewCatalog(counting, c, 0), counting
}

func TestCatalog_EntitiesCached(t *testing.T) {
	catalog, counting := newTestCatalog(t)
	ctx := context.Background()

	got, err := catalog.Entities(ctx, entities.KindObject, []string{"Contact", "Account", "Lead"})
	if err != nil {
		t.Fatalf("Entities() error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "Contact" || got[1].Name != "Account" {
		t.Fatalf("expected Contact, Account in request order, got %v", got)
	}

	// second call only asks for the unknown key
	counting.entityKeys = nil
	got, err = catalog.Entities(ctx, entities.KindObject, []string{"Account", "Lead"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 entity, got %d", len(got))
	}
	if len(counting.entityKeys) != 1 || counting.entityKeys[0] != "Lead" {
		t.Errorf("expected only Lead to be asked, got %v", counting.entityKeys)
	}

	// callers get copies
	got[0].Label = "changed"
	again, _ := catalog.Entities(ctx, entities.KindObject, []string{"Account"})
	if again[0].Label != "Account" {
		t.Error("cached entity must not be shared with callers")
	}
}

func TestCatalog_ParentsCached(t *testing.T) {
	catalog, counting := newTestCatalog(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := catalog.Parents(ctx, []string{"0PS1"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].Name != "Sales" {
			t.Fatalf("unexpected parents %v", got)
		}
	}
	if len(counting.parentIDs) != 1 {
		t.Errorf("expected one underlying lookup, got %v", counting.parentIDs)
	}
}

func TestCatalog_Error(t *testing.T) {
	catalog, counting := newTestCatalog(t)
	counting.err = errors.New("connection refused")

	if _, err := catalog.Entities(context.Background(), entities.KindField, []string{"Account.Industry"}); err == nil {
		t.Error("expected error from the underlying catalog")
	}
	if _, err := catalog.Parents(context.Background(), []string{"0PS1"}); err == nil {
		t.Error("expected error from the underlying catalog")
	}
}

func TestCatalog_Invalidate(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		// keys asked again after invalidation, per kind
		wantObjects int
		wantFields  int
		wantTypes   int
		wantParents int
		wantErr     bool
	}{
		{name: "everything", payload: "", wantObjects: 2, wantFields: 2, wantTypes: 1, wantParents: 1},
		{name: "one kind", payload: "entity:FieldPermissions", wantFields: 2},
		{name: "kind alias", payload: "entity:recordType", wantTypes: 1},
		{name: "one field", payload: "entity:FieldPermissions:Contact.Email", wantFields: 1},
		{name: "object and its children", payload: "entity:ObjectPermissions:Account", wantObjects: 1, wantFields: 1, wantTypes: 1},
		{name: "parent", payload: "parent:0PS1", wantParents: 1},
		{name: "unknown kind", payload: "entity:Layout", wantErr: true},
		{name: "unknown target", payload: "group:1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog, counting := newTestCatalog(t)
			ctx := context.Background()

			warm := func() map[entities.Kind]int {
				asked := make(map[entities.Kind]int)
				for kind, keys := range map[entities.Kind][]string{
					entities.KindObject:     {"Account", "Contact"},
					entities.KindField:      {"Account.Industry", "Contact.Email"},
					entities.KindRecordType: {"Account.Partner"},
				} {
					counting.entityKeys = nil
					if _, err := catalog.Entities(ctx, kind, keys); err != nil {
						t.Fatal(err)
					}
					asked[kind] = len(counting.entityKeys)
				}
				return asked
			}
			warm()
			if _, err := catalog.Parents(ctx, []string{"0PS1"}); err != nil {
				t.Fatal(err)
			}

			err := catalog.Invalidate(ctx, tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Invalidate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			asked := warm()
			counting.parentIDs = nil
			if _, err := catalog.Parents(ctx, []string{"0PS1"}); err != nil {
				t.Fatal(err)
			}

			if asked[entities.KindObject] != tt.wantObjects || asked[entities.KindField] != tt.wantFields ||
				asked[entities.KindRecordType] != tt.wantTypes || len(counting.parentIDs) != tt.wantParents {
				t.Errorf("asked again objects=%d fields=%d types=%d parents=%d, want %d/%d/%d/%d",
					asked[entities.KindObject], asked[entities.KindField], asked[entities.KindRecordType], len(counting.parentIDs),
					tt.wantObjects, tt.wantFields, tt.wantTypes, tt.wantParents)
			}
		})
	}
}

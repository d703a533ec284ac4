package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/asakaida/permatrix/internal/entities"
	"github.com/asakaida/permatrix/internal/repositories"
	"github.com/asakaida/permatrix/internal/repositories/memory"
	"github.com/asakaida/permatrix/internal/services/matrix"
)

func newTestBackend(t *testing.T) *memory.Store {
	t.Helper()

	mem := memory.New()
	mem.AddParent(&entities.ParentIdentity{ID: "0PS1", Type: entities.ParentPermissionSet, Name: "Sales"})
	mem.AddParent(&entities.ParentIdentity{ID: "0PS2", Type: entities.ParentProfile, Name: "Standard User", ProfileID: "00e1"})
	mem.AddEntity(entities.NewObjectEntity("Account", "Account"))
	mem.AddEntity(entities.NewObjectEntity("Contact", "Contact"))
	mem.AddEntity(entities.NewFieldEntity("Account", "Industry", "Industry"))
	mem.AddEntity(entities.NewRecordTypeEntity("Account", "Partner", "Partner Account"))

	mem.Put(&entities.PermissionRecord{
		ID: "110A", Kind: entities.KindObject, ParentID: "0PS1", SobjectType: "Account",
		Flags: entities.NewFlagSet(entities.FlagRead, entities.FlagEdit),
	})
	mem.Put(&entities.PermissionRecord{
		ID: "01kA", Kind: entities.KindField, ParentID: "0PS2", SobjectType: "Account", Field: "Account.Industry",
		Flags: entities.NewFlagSet(entities.FlagRead),
	})
	// outside the selection
	mem.Put(&entities.PermissionRecord{
		ID: "110B", Kind: entities.KindObject, ParentID: "0PS9", SobjectType: "Account",
		Flags: entities.NewFlagSet(entities.FlagRead),
	})
	return mem
}

func TestPermissionService_Load(t *testing.T) {
	mem := newTestBackend(t)
	svc := NewPermissionService(mem, mem)

	store, err := svc.Load(context.Background(), &Selection{
		Objects:     []string{"Contact", "Account"},
		Fields:      []string{"Account.Industry"},
		RecordTypes: []string{"Account.Partner"},
		ParentIDs:   []string{"0PS2", "0PS1"},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	parents := store.Parents()
	if len(parents) != 2 || parents[0].ID != "0PS2" || parents[1].ID != "0PS1" {
		t.Errorf("expected parents in selection order, got %v", parents)
	}

	rows := store.Table(entities.KindObject).Rows()
	if len(rows) != 2 || rows[0].Key() != "Contact" || rows[1].Key() != "Account" {
		t.Errorf("expected objects in selection order")
	}

	account, err := store.Cell(entities.KindObject, "Account", "0PS1")
	if err != nil {
		t.Fatal(err)
	}
	if account.Baseline == nil || account.Baseline.ID != "110A" {
		t.Errorf("expected Account baseline 110A, got %+v", account.Baseline)
	}
	field, err := store.Cell(entities.KindField, "Account.Industry", "0PS2")
	if err != nil {
		t.Fatal(err)
	}
	if !field.Current.Has(entities.FlagRead) {
		t.Errorf("expected field read, got %s", field.Current)
	}
	if store.Table(entities.KindRecordType).Len() != 1 {
		t.Error("expected one record type row")
	}
}

func TestPermissionService_LoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		sel     *Selection
		wantErr string
	}{
		{
			name:    "nil selection",
			sel:     nil,
			wantErr: "selection is required",
		},
		{
			name:    "no parents",
			sel:     &Selection{Objects: []string{"Account"}},
			wantErr: "at least one profile or permission set",
		},
		{
			name:    "no entities",
			sel:     &Selection{ParentIDs: []string{"0PS1"}},
			wantErr: "at least one object",
		},
		{
			name:    "field without object",
			sel:     &Selection{Fields: []string{"Industry"}, ParentIDs: []string{"0PS1"}},
			wantErr: "expected Object.Name",
		},
		{
			name:    "unknown parent",
			sel:     &Selection{Objects: []string{"Account"}, ParentIDs: []string{"0PS1", "0PS7"}},
			wantErr: "0PS7",
		},
		{
			name:    "unknown object",
			sel:     &Selection{Objects: []string{"Account", "Lead"}, ParentIDs: []string{"0PS1"}},
			wantErr: "Lead",
		},
	}

	svc := NewPermissionService(newTestBackend(t), newTestBackend(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Load(context.Background(), tt.sel)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

type failingRecords struct {
	repositories.RecordService
}

func (failingRecords) Fetch(ctx context.Context, filter *repositories.RecordFilter) ([]*entities.PermissionRecord, error) {
	return nil, errors.New("query timeout")
}

func TestPermissionService_FetchFailure(t *testing.T) {
	mem := newTestBackend(t)
	svc := NewPermissionService(mem, failingRecords{})

	_, err := svc.Open(context.Background(), &Selection{Objects: []string{"Account"}, ParentIDs: []string{"0PS1"}})
	if err == nil || !strings.Contains(err.Error(), "failed to fetch") {
		t.Errorf("expected fetch error, got %v", err)
	}
}

func TestPermissionService_OpenSaveReload(t *testing.T) {
	mem := newTestBackend(t)
	svc := NewPermissionService(mem, mem, matrix.WithParentService(mem), matrix.WithBatchSize(50))
	sel := &Selection{Objects: []string{"Account", "Contact"}, ParentIDs: []string{"0PS1", "0PS2"}}

	engine, err := svc.Open(context.Background(), sel)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if _, err := engine.ApplyTable(entities.KindObject, entities.FlagCreate, matrix.SelectAll, nil); err != nil {
		t.Fatal(err)
	}
	confirm := matrix.ConfirmFunc(func(ctx context.Context, s *matrix.Summary) (bool, error) { return true, nil })
	report, err := engine.Save(context.Background(), confirm)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if report.Failed() != 0 || report.Kinds[entities.KindObject].Inserted != 3 || report.Kinds[entities.KindObject].Updated != 1 {
		t.Errorf("unexpected report %+v", report.Kinds[entities.KindObject])
	}
	if mem.Touched("00e1").IsZero() {
		t.Error("expected the profile to be touched")
	}

	// a fresh load sees what was saved
	if err := svc.Reload(context.Background(), engine, sel); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	engine.View(func(s *matrix.Store) {
		for _, object := range sel.Objects {
			for _, parentID := range sel.ParentIDs {
				c, err := s.Cell(entities.KindObject, object, parentID)
				if err != nil {
					t.Fatal(err)
				}
				if c.Baseline == nil || !c.Baseline.Flags.Has(entities.FlagCreate) || !c.Baseline.Flags.Has(entities.FlagRead) {
					t.Errorf("%s/%s: expected persisted create+read, got %+v", object, parentID, c.Baseline)
				}
			}
		}
	})
}

package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/asakaida/permatrix/internal/entities"
	"github.com/asakaida/permatrix/internal/repositories"
)

func newTestStore() *Store {
	s := New()
	s.AddEntity(entities.NewObjectEntity("Account", "Account"))
	s.AddEntity(entities.NewFieldEntity("Account", "Industry", "Industry"))
	s.AddParent(&entities.ParentIdentity{ID: "0PS1", Type: entities.ParentPermissionSet})
	s.AddParent(&entities.ParentIdentity{ID: "0PS2", Type: entities.ParentProfile, ProfileID: "00e2"})
	return s
}

func objectRecord(parentID string, flags ...entities.Flag) *entities.PermissionRecord {
	return &entities.PermissionRecord{
		Kind:        entities.KindObject,
		ParentID:    parentID,
		SobjectType: "Account",
		Flags:       entities.NewFlagSet(flags...),
	}
}

func TestStore_Save(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	results, err := s.Save(ctx, entities.OperationCreate, entities.KindObject, []*entities.PermissionRecord{
		objectRecord("0PS1", entities.FlagRead),
		objectRecord("0PS1", entities.FlagRead),
		objectRecord("0PS9", entities.FlagRead),
		objectRecord("0PS2", entities.FlagEdit),
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	tests := []struct {
		name   string
		result *entities.SaveResult
		status string
	}{
		{name: "created", result: results[0]},
		{name: "duplicate", result: results[1], status: entities.StatusDuplicateValue},
		{name: "unknown parent", result: results[2], status: entities.StatusInvalidCrossReference},
		{name: "edit without read", result: results[3], status: entities.StatusFieldIntegrity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.status == "" {
				if !tt.result.Success || len(tt.result.ID) != 18 {
					t.Errorf("expected success with an 18 character id, got %+v", tt.result)
				}
				return
			}
			if tt.result.Success || tt.result.Errors[0].StatusCode != tt.status {
				t.Errorf("expected %s, got %+v", tt.status, tt.result)
			}
		})
	}

	id := results[0].ID
	update := objectRecord("0PS1", entities.FlagRead, entities.FlagEdit)
	update.ID = id
	results, err = s.Save(ctx, entities.OperationUpdate, entities.KindObject, []*entities.PermissionRecord{update})
	if err != nil || !results[0].Success {
		t.Fatalf("update failed: %v %+v", err, results)
	}
	records := s.Records(entities.KindObject)
	if len(records) != 1 || records[0].Flags != update.Flags {
		t.Fatalf("unexpected records after update %v", records)
	}

	// an update with every flag false deletes the record
	empty := objectRecord("0PS1")
	empty.ID = id
	results, err = s.Save(ctx, entities.OperationUpdate, entities.KindObject, []*entities.PermissionRecord{empty})
	if err != nil || !results[0].Success {
		t.Fatalf("delete failed: %v %+v", err, results)
	}
	if n := len(s.Records(entities.KindObject)); n != 0 {
		t.Errorf("expected the record to be deleted, %d left", n)
	}

	// updating it again reports the deletion
	results, _ = s.Save(ctx, entities.OperationUpdate, entities.KindObject, []*entities.PermissionRecord{update})
	if results[0].Success || results[0].Errors[0].StatusCode != entities.StatusEntityIsDeleted {
		t.Errorf("expected ENTITY_IS_DELETED, got %+v", results[0])
	}

	if calls := s.Calls(); len(calls) != 4 || calls[0].Records != 4 {
		t.Errorf("unexpected calls %+v", calls)
	}
}

func TestStore_FailureInjection(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	boom := errors.New("boom")

	s.FailCalls(entities.KindObject, boom)
	if _, err := s.Save(ctx, entities.OperationCreate, entities.KindObject, []*entities.PermissionRecord{objectRecord("0PS1", entities.FlagRead)}); !errors.Is(err, boom) {
		t.Errorf("Save() error = %v, want boom", err)
	}
	s.FailCalls(entities.KindObject, nil)
	if _, err := s.Save(ctx, entities.OperationCreate, entities.KindObject, []*entities.PermissionRecord{objectRecord("0PS1", entities.FlagRead)}); err != nil {
		t.Errorf("Save() after clearing error = %v", err)
	}

	s.Restrict("Account.Industry")
	results, err := s.Save(ctx, entities.OperationCreate, entities.KindField, []*entities.PermissionRecord{{
		Kind: entities.KindField, ParentID: "0PS1", SobjectType: "Account", Field: "Account.Industry",
		Flags: entities.NewFlagSet(entities.FlagRead),
	}})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Success || results[0].Errors[0].StatusCode != entities.StatusRestrictedPicklist {
		t.Errorf("expected restricted picklist error, got %+v", results[0])
	}

	s.FailTouch(boom)
	if err := s.Touch(ctx, []*entities.ParentIdentity{{ID: "0PS1", Type: entities.ParentPermissionSet}}); !errors.Is(err, boom) {
		t.Errorf("Touch() error = %v, want boom", err)
	}
}

func TestStore_TouchAndDeploy(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	parents, err := s.Parents(ctx, []string{"0PS2", "0PS9"})
	if err != nil || len(parents) != 1 {
		t.Fatalf("Parents() = %v, %v", parents, err)
	}
	if err := s.Touch(ctx, parents); err != nil {
		t.Fatal(err)
	}
	if s.Touched("00e2").IsZero() || !s.Touched("0PS2").IsZero() {
		t.Error("profiles should be touched through their profile id")
	}

	rt := &entities.PermissionRecord{
		Kind: entities.KindRecordType, ParentID: "0PS1", SobjectType: "Account", Field: "Account.Partner",
		Flags: entities.NewFlagSet(entities.FlagVisible),
	}
	for i := 0; i < 2; i++ {
		results, err := s.Deploy(ctx, []*entities.PermissionRecord{rt})
		if err != nil || !results[0].Success {
			t.Fatalf("Deploy() #%d = %+v, %v", i+1, results, err)
		}
	}
	records, err := s.Fetch(ctx, &repositories.RecordFilter{Kind: entities.KindRecordType, ParentIDs: []string{"0PS1"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("deploy should upsert, got %d records", len(records))
	}

	hidden := rt.Clone()
	hidden.Flags = 0
	for i := 0; i < 2; i++ {
		results, err := s.Deploy(ctx, []*entities.PermissionRecord{hidden})
		if err != nil || !results[0].Success {
			t.Fatalf("Deploy() of an empty visibility #%d = %+v, %v", i+1, results, err)
		}
	}
	if n := len(s.Records(entities.KindRecordType)); n != 0 {
		t.Errorf("an empty visibility should remove the assignment, %d left", n)
	}

	if _, err := s.Fetch(ctx, nil); err == nil {
		t.Error("Fetch(nil) should fail")
	}
}

package matrix

import (
	"testing"

	"github.com/asakaida/permatrix/internal/entities"
)

var testParents = []*entities.ParentIdentity{
	{ID: "P1", Type: entities.ParentPermissionSet, Name: "Sales"},
	{ID: "P2", Type: entities.ParentProfile, Name: "Standard User", ProfileID: "00e000000000001"},
}

func testObjects() []*entities.Entity {
	return []*entities.Entity{
		entities.NewObjectEntity("Account", "Account"),
		entities.NewObjectEntity("Contact", "Contact"),
		entities.NewObjectEntity("Opportunity", "Opportunity"),
	}
}

func newTestStore(t *testing.T, records ...*entities.PermissionRecord) *Store {
	t.Helper()

	ents := testObjects()
	ents = append(ents,
		entities.NewFieldEntity("Account", "Industry", "Industry"),
		entities.NewFieldEntity("Contact", "Email", "Email"),
		entities.NewRecordTypeEntity("Account", "Partner", "Partner Account"),
	)

	s, err := NewStore(ents, testParents, records)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func objectRecord(id, parentID, object string, flags ...entities.Flag) *entities.PermissionRecord {
	return &entities.PermissionRecord{
		ID:          id,
		Kind:        entities.KindObject,
		ParentID:    parentID,
		SobjectType: object,
		Flags:       entities.NewFlagSet(flags...),
	}
}

func fieldRecord(id, parentID, field string, flags ...entities.Flag) *entities.PermissionRecord {
	object, _ := entities.SplitKey(field)
	return &entities.PermissionRecord{
		ID:          id,
		Kind:        entities.KindField,
		ParentID:    parentID,
		SobjectType: object,
		Field:       field,
		Flags:       entities.NewFlagSet(flags...),
	}
}

func mustCell(t *testing.T, s *Store, kind entities.Kind, key, parentID string) *entities.Cell {
	t.Helper()
	c, err := s.Cell(kind, key, parentID)
	if err != nil {
		t.Fatalf("failed to get cell %s/%s/%s: %v", kind, key, parentID, err)
	}
	return c
}

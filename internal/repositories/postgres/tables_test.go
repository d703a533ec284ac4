package postgres

import (
	"errors"
	"strings"
	"testing"

	"github.com/asakaida/permatrix/internal/entities"
	"github.com/lib/pq"
)

func TestRecordTable_Queries(t *testing.T) {
	tests := []struct {
		name  string
		kind  entities.Kind
		query func(*recordTable) string
		want  string
	}{
		{
			name:  "field insert",
			kind:  entities.KindField,
			query: func(t *recordTable) string { return t.insertQuery(false) },
			want: "INSERT INTO field_permissions (id, parent_id, sobject_type, field, permissions_read, permissions_edit, updated_at) " +
				"VALUES ($1, $2, $3, $4, $5, $6, NOW()) RETURNING id",
		},
		{
			name:  "object insert has no separate key column",
			kind:  entities.KindObject,
			query: func(t *recordTable) string { return t.insertQuery(false) },
			want: "INSERT INTO object_permissions (id, parent_id, sobject_type, permissions_create, permissions_read, permissions_edit, " +
				"permissions_delete, permissions_view_all_records, permissions_modify_all_records, updated_at) " +
				"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW()) RETURNING id",
		},
		{
			name:  "record type upsert",
			kind:  entities.KindRecordType,
			query: func(t *recordTable) string { return t.insertQuery(true) },
			want: "INSERT INTO record_type_visibilities (id, parent_id, sobject_type, record_type, visible, is_default, updated_at) " +
				"VALUES ($1, $2, $3, $4, $5, $6, NOW()) ON CONFLICT (parent_id, record_type) " +
				"DO UPDATE SET visible = EXCLUDED.visible, is_default = EXCLUDED.is_default, updated_at = NOW() RETURNING id",
		},
		{
			name:  "field update",
			kind:  entities.KindField,
			query: func(t *recordTable) string { return t.updateQuery() },
			want:  "UPDATE field_permissions SET permissions_read = $2, permissions_edit = $3, updated_at = NOW() WHERE id = $1",
		},
		{
			name:  "record type delete by key",
			kind:  entities.KindRecordType,
			query: func(t *recordTable) string { return t.deleteByKeyQuery() },
			want:  "DELETE FROM record_type_visibilities WHERE parent_id = $1 AND record_type = $2 RETURNING id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := tableFor(tt.kind)
			if err != nil {
				t.Fatal(err)
			}
			if got := tt.query(table); got != tt.want {
				t.Errorf("query =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestRecordTable_Args(t *testing.T) {
	table, _ := tableFor(entities.KindField)
	rec := &entities.PermissionRecord{
		ID:          "01kA",
		Kind:        entities.KindField,
		ParentID:    "0PS1",
		SobjectType: "Account",
		Field:       "Account.Industry",
		Flags:       entities.NewFlagSet(entities.FlagRead),
	}

	args := table.insertArgs("01kB", rec)
	want := []interface{}{"01kB", "0PS1", "Account", "Account.Industry", true, false}
	if len(args) != len(want) {
		t.Fatalf("insertArgs() = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("insertArgs()[%d] = %v, want %v", i, args[i], want[i])
		}
	}

	args = table.updateArgs(rec)
	if len(args) != 3 || args[0] != "01kA" || args[1] != true || args[2] != false {
		t.Errorf("updateArgs() = %v", args)
	}

	if got := table.flagSet([]bool{true, true}); got != entities.NewFlagSet(entities.FlagRead, entities.FlagEdit) {
		t.Errorf("flagSet() = %s", got)
	}
}

func TestTableFor_UnknownKind(t *testing.T) {
	if _, err := tableFor(entities.Kind("Layout")); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestRecordFailure(t *testing.T) {
	field := &entities.PermissionRecord{
		Kind: entities.KindField, ParentID: "0PS1", SobjectType: "Account", Field: "Account.Industry",
		Flags: entities.NewFlagSet(entities.FlagEdit),
	}
	object := &entities.PermissionRecord{
		Kind: entities.KindObject, ParentID: "0PS1", SobjectType: "Account",
	}

	tests := []struct {
		name       string
		rec        *entities.PermissionRecord
		err        error
		wantOK     bool
		wantStatus string
	}{
		{
			name:       "unknown parent",
			rec:        field,
			err:        &pq.Error{Code: "23503", Constraint: "field_permissions_parent_id_fkey"},
			wantOK:     true,
			wantStatus: entities.StatusInvalidCrossReference,
		},
		{
			name:       "field outside the permissionable list",
			rec:        field,
			err:        &pq.Error{Code: "23503", Constraint: "field_permissions_field_fkey"},
			wantOK:     true,
			wantStatus: entities.StatusRestrictedPicklist,
		},
		{
			name:       "unknown object",
			rec:        object,
			err:        &pq.Error{Code: "23503", Constraint: "object_permissions_sobject_type_fkey"},
			wantOK:     true,
			wantStatus: entities.StatusInvalidCrossReference,
		},
		{
			name:       "duplicate",
			rec:        object,
			err:        &pq.Error{Code: "23505"},
			wantOK:     true,
			wantStatus: entities.StatusDuplicateValue,
		},
		{
			name:       "inconsistent flags",
			rec:        field,
			err:        &pq.Error{Code: "23514", Constraint: "field_permissions_consistent"},
			wantOK:     true,
			wantStatus: entities.StatusFieldIntegrity,
		},
		{
			name:       "wrapped error",
			rec:        object,
			err:        errors.Join(errors.New("failed to insert"), &pq.Error{Code: "23505"}),
			wantOK:     true,
			wantStatus: entities.StatusDuplicateValue,
		},
		{
			name:   "connection error fails the call",
			rec:    object,
			err:    errors.New("driver: bad connection"),
			wantOK: false,
		},
		{
			name:   "serialization failure fails the call",
			rec:    object,
			err:    &pq.Error{Code: "40001"},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := recordFailure(tt.rec, tt.err)
			if ok != tt.wantOK {
				t.Fatalf("recordFailure() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if res.Success || len(res.Errors) != 1 {
				t.Fatalf("expected a single failure, got %+v", res)
			}
			if res.Errors[0].StatusCode != tt.wantStatus {
				t.Errorf("status = %s, want %s", res.Errors[0].StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestNewRecordID(t *testing.T) {
	table, _ := tableFor(entities.KindObject)
	id := newRecordID(table)
	if !strings.HasPrefix(id, "110") || len(id) != 18 {
		t.Errorf("newRecordID() = %q, want an 18 character id with prefix 110", id)
	}
	if newRecordID(table) == id {
		t.Error("expected unique ids")
	}
}

package postgres

import (
	"fmt"
	"strings"

	"github.com/asakaida/permatrix/internal/entities"
)

// flagColumn maps a permission flag to its boolean column
type flagColumn struct {
	flag   entities.Flag
	column string
}

// recordTable describes the table holding the records of one kind
type recordTable struct {
	name      string
	keyColumn string // column holding the entity key
	idPrefix  string
	flags     []flagColumn
}

var recordTables = map[entities.Kind]*recordTable{
	entities.KindObject: {
		name:      "object_permissions",
		keyColumn: "sobject_type",
		idPrefix:  "110",
		flags: []flagColumn{
			{entities.FlagCreate, "permissions_create"},
			{entities.FlagRead, "permissions_read"},
			{entities.FlagEdit, "permissions_edit"},
			{entities.FlagDelete, "permissions_delete"},
			{entities.FlagViewAll, "permissions_view_all_records"},
			{entities.FlagModifyAll, "permissions_modify_all_records"},
		},
	},
	entities.KindField: {
		name:      "field_permissions",
		keyColumn: "field",
		idPrefix:  "01k",
		flags: []flagColumn{
			{entities.FlagRead, "permissions_read"},
			{entities.FlagEdit, "permissions_edit"},
		},
	},
	entities.KindRecordType: {
		name:      "record_type_visibilities",
		keyColumn: "record_type",
		idPrefix:  "rtv",
		flags: []flagColumn{
			{entities.FlagVisible, "visible"},
			{entities.FlagDefault, "is_default"},
		},
	},
}

func tableFor(kind entities.Kind) (*recordTable, error) {
	t, ok := recordTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown permission kind: %q", string(kind))
	}
	return t, nil
}

// flagColumns returns the flag column names joined with ", "
func (t *recordTable) flagColumns() string {
	names := make([]string, len(t.flags))
	for i, fc := range t.flags {
		names[i] = fc.column
	}
	return strings.Join(names, ", ")
}

// selectQuery returns a SELECT of every record column; filters are appended by the caller
func (t *recordTable) selectQuery() string {
	return fmt.Sprintf(`
		SELECT id, parent_id, sobject_type, %s, %s, updated_at
		FROM %s
		WHERE 1 = 1`, t.keyColumn, t.flagColumns(), t.name)
}

// insertQuery returns an INSERT of a record; onConflict makes it an upsert
func (t *recordTable) insertQuery(onConflict bool) string {
	columns := "id, parent_id, sobject_type"
	placeholders := "$1, $2, $3"
	next := 4
	if t.keyColumn != "sobject_type" {
		columns += ", " + t.keyColumn
		placeholders += fmt.Sprintf(", $%d", next)
		next++
	}
	for _, fc := range t.flags {
		columns += ", " + fc.column
		placeholders += fmt.Sprintf(", $%d", next)
		next++
	}

	query := fmt.Sprintf("INSERT INTO %s (%s, updated_at) VALUES (%s, NOW())", t.name, columns, placeholders)
	if onConflict {
		sets := make([]string, 0, len(t.flags)+1)
		for _, fc := range t.flags {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", fc.column, fc.column))
		}
		sets = append(sets, "updated_at = NOW()")
		query += fmt.Sprintf(" ON CONFLICT (parent_id, %s) DO UPDATE SET %s", t.keyColumn, strings.Join(sets, ", "))
	}
	return query + " RETURNING id"
}

// insertArgs returns the arguments of insertQuery for a record
func (t *recordTable) insertArgs(id string, r *entities.PermissionRecord) []interface{} {
	args := []interface{}{id, r.ParentID, r.SobjectType}
	if t.keyColumn != "sobject_type" {
		args = append(args, r.Field)
	}
	for _, fc := range t.flags {
		args = append(args, r.Flags.Has(fc.flag))
	}
	return args
}

// updateQuery returns an UPDATE of every flag column by id
func (t *recordTable) updateQuery() string {
	sets := make([]string, len(t.flags))
	for i, fc := range t.flags {
		sets[i] = fmt.Sprintf("%s = $%d", fc.column, i+2)
	}
	return fmt.Sprintf("UPDATE %s SET %s, updated_at = NOW() WHERE id = $1", t.name, strings.Join(sets, ", "))
}

// deleteByKeyQuery returns a DELETE of the record of a parent and entity key
func (t *recordTable) deleteByKeyQuery() string {
	return fmt.Sprintf("DELETE FROM %s WHERE parent_id = $1 AND %s = $2 RETURNING id", t.name, t.keyColumn)
}

// updateArgs returns the arguments of updateQuery for a record
func (t *recordTable) updateArgs(r *entities.PermissionRecord) []interface{} {
	args := []interface{}{r.ID}
	for _, fc := range t.flags {
		args = append(args, r.Flags.Has(fc.flag))
	}
	return args
}

// flagSet builds a flag set from scanned column values
func (t *recordTable) flagSet(values []bool) entities.FlagSet {
	var s entities.FlagSet
	for i, fc := range t.flags {
		s = s.With(fc.flag, values[i])
	}
	return s
}

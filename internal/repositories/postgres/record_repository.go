package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/asakaida/permatrix/internal/entities"
	"github.com/asakaida/permatrix/internal/repositories"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// maxSaveBatch is the largest batch accepted by Save and Deploy
const maxSaveBatch = 200

// PostgreSQL error codes mapped to record status codes
const (
	codeForeignKeyViolation = "23503"
	codeUniqueViolation     = "23505"
	codeCheckViolation      = "23514"
	codeNotNullViolation    = "23502"
)

// PostgresRecordRepository implements RecordService and RecordTypeDeployer using PostgreSQL
type PostgresRecordRepository struct {
	db *sql.DB
}

// Compile-time interface checks.
var (
	_ repositories.RecordService      = (*PostgresRecordRepository)(nil)
	_ repositories.RecordTypeDeployer = (*PostgresRecordRepository)(nil)
)

// NewPostgresRecordRepository creates a new PostgreSQL record repository
func NewPostgresRecordRepository(db *sql.DB) *PostgresRecordRepository {
	return &PostgresRecordRepository{db: db}
}

// Fetch returns the persisted records matching the filter
func (r *PostgresRecordRepository) Fetch(ctx context.Context, filter *repositories.RecordFilter) ([]*entities.PermissionRecord, error) {
	if filter == nil {
		return nil, fmt.Errorf("record filter is required")
	}
	table, err := tableFor(filter.Kind)
	if err != nil {
		return nil, err
	}

	query := table.selectQuery()
	args := []interface{}{}
	argIdx := 1

	if len(filter.EntityKeys) > 0 {
		query += fmt.Sprintf(" AND %s = ANY($%d)", table.keyColumn, argIdx)
		args = append(args, pq.Array(filter.EntityKeys))
		argIdx++
	}
	if len(filter.ParentIDs) > 0 {
		query += fmt.Sprintf(" AND parent_id = ANY($%d)", argIdx)
		args = append(args, pq.Array(filter.ParentIDs))
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY %s, parent_id", table.keyColumn)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", filter.Kind, err)
	}
	defer rows.Close()

	var records []*entities.PermissionRecord
	for rows.Next() {
		rec := &entities.PermissionRecord{Kind: filter.Kind}
		var key string
		values := make([]bool, len(table.flags))

		dest := []interface{}{&rec.ID, &rec.ParentID, &rec.SobjectType, &key}
		for i := range values {
			dest = append(dest, &values[i])
		}
		dest = append(dest, &rec.UpdatedAt)

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", filter.Kind, err)
		}

		if filter.Kind != entities.KindObject {
			rec.Field = key
		}
		rec.Flags = table.flagSet(values)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", filter.Kind, err)
	}

	return records, nil
}

// Save creates or updates a batch of records. Every record is applied in its own
// savepoint so that one rejected record does not fail the others. An update
// granting no flag removes the record.
func (r *PostgresRecordRepository) Save(ctx context.Context, op entities.Operation, kind entities.Kind, records []*entities.PermissionRecord) ([]*entities.SaveResult, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if len(records) > maxSaveBatch {
		return nil, fmt.Errorf("batch of %d records exceeds the limit of %d", len(records), maxSaveBatch)
	}
	if op != entities.OperationCreate && op != entities.OperationUpdate {
		return nil, fmt.Errorf("unknown operation: %s", op)
	}

	return r.inSavepoints(ctx, records, func(tx *sql.Tx, rec *entities.PermissionRecord) (*entities.SaveResult, error) {
		if op == entities.OperationCreate {
			return r.insert(ctx, tx, table, rec, false)
		}
		return r.update(ctx, tx, table, rec)
	})
}

// Deploy upserts record type visibilities keyed by parent and record type.
// A visibility granting neither flag removes the assignment.
func (r *PostgresRecordRepository) Deploy(ctx context.Context, records []*entities.PermissionRecord) ([]*entities.SaveResult, error) {
	table, err := tableFor(entities.KindRecordType)
	if err != nil {
		return nil, err
	}
	if len(records) > maxSaveBatch {
		return nil, fmt.Errorf("batch of %d records exceeds the limit of %d", len(records), maxSaveBatch)
	}

	results, err := r.inSavepoints(ctx, records, func(tx *sql.Tx, rec *entities.PermissionRecord) (*entities.SaveResult, error) {
		if rec.Empty() {
			return r.remove(ctx, tx, table, rec)
		}
		return r.insert(ctx, tx, table, rec, true)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to deploy record type visibilities: %w", err)
	}

	// Metadata deployment reports every failure as a deploy failure
	for _, res := range results {
		for i := range res.Errors {
			res.Errors[i].StatusCode = entities.StatusMetadataDeployFailure
		}
	}
	return results, nil
}

// inSavepoints runs apply for every record inside one transaction, each in its
// own savepoint. Database errors of a single record become a failed result;
// any other error fails the whole call.
func (r *PostgresRecordRepository) inSavepoints(
	ctx context.Context,
	records []*entities.PermissionRecord,
	apply func(tx *sql.Tx, rec *entities.PermissionRecord) (*entities.SaveResult, error),
) ([]*entities.SaveResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	results := make([]*entities.SaveResult, len(records))
	for i, rec := range records {
		if rec == nil {
			results[i] = entities.Failed(entities.StatusRequiredFieldMissing, "record is required")
			continue
		}
		if err := rec.Validate(); err != nil {
			results[i] = entities.Failed(entities.StatusRequiredFieldMissing, err.Error())
			continue
		}

		if _, err := tx.ExecContext(ctx, "SAVEPOINT record_save"); err != nil {
			return nil, fmt.Errorf("failed to create savepoint: %w", err)
		}

		res, err := apply(tx, rec)
		if err != nil {
			failure, ok := recordFailure(rec, err)
			if !ok {
				return nil, err
			}
			if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT record_save"); err != nil {
				return nil, fmt.Errorf("failed to roll back savepoint: %w", err)
			}
			results[i] = failure
			continue
		}

		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT record_save"); err != nil {
			return nil, fmt.Errorf("failed to release savepoint: %w", err)
		}
		results[i] = res
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return results, nil
}

func (r *PostgresRecordRepository) insert(ctx context.Context, tx *sql.Tx, table *recordTable, rec *entities.PermissionRecord, upsert bool) (*entities.SaveResult, error) {
	var id string
	err := tx.QueryRowContext(ctx, table.insertQuery(upsert), table.insertArgs(newRecordID(table), rec)...).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to insert %s: %w", rec.Kind, err)
	}
	return entities.Succeeded(id), nil
}

// remove deletes the record of rec's parent and entity key, if any
func (r *PostgresRecordRepository) remove(ctx context.Context, tx *sql.Tx, table *recordTable, rec *entities.PermissionRecord) (*entities.SaveResult, error) {
	var id string
	err := tx.QueryRowContext(ctx, table.deleteByKeyQuery(), rec.ParentID, rec.EntityKey()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return entities.Succeeded(rec.ID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete %s: %w", rec.Kind, err)
	}
	return entities.Succeeded(id), nil
}

func (r *PostgresRecordRepository) update(ctx context.Context, tx *sql.Tx, table *recordTable, rec *entities.PermissionRecord) (*entities.SaveResult, error) {
	if rec.ID == "" {
		return entities.Failed(entities.StatusRequiredFieldMissing, "record id is required for update"), nil
	}

	var (
		result sql.Result
		err    error
	)
	if rec.Empty() {
		result, err = tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", table.name), rec.ID)
	} else {
		result, err = tx.ExecContext(ctx, table.updateQuery(), table.updateArgs(rec)...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", rec.Kind, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return entities.Failed(entities.StatusEntityIsDeleted, fmt.Sprintf("entity is deleted: %s", rec.ID)), nil
	}
	return entities.Succeeded(rec.ID), nil
}

// recordFailure translates a constraint violation into a failed result.
// It reports false for errors that are not caused by the record itself.
func recordFailure(rec *entities.PermissionRecord, err error) (*entities.SaveResult, bool) {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil, false
	}

	switch string(pqErr.Code) {
	case codeForeignKeyViolation:
		switch {
		case strings.HasSuffix(pqErr.Constraint, "_parent_id_fkey"):
			return entities.Failed(entities.StatusInvalidCrossReference,
				fmt.Sprintf("invalid cross reference id: %s", rec.ParentID)), true
		case rec.Kind == entities.KindField:
			// Field is a restricted picklist of permissionable fields
			return entities.Failed(entities.StatusRestrictedPicklist,
				fmt.Sprintf("Field: bad value for restricted picklist field: %s", rec.Field)), true
		default:
			return entities.Failed(entities.StatusInvalidCrossReference,
				fmt.Sprintf("invalid cross reference id: %s", rec.EntityKey())), true
		}
	case codeUniqueViolation:
		return entities.Failed(entities.StatusDuplicateValue,
			fmt.Sprintf("duplicate value found: %s", rec.EntityKey())), true
	case codeCheckViolation:
		return entities.Failed(entities.StatusFieldIntegrity,
			fmt.Sprintf("inconsistent permissions %s", rec.Flags)), true
	case codeNotNullViolation:
		return entities.Failed(entities.StatusRequiredFieldMissing, pqErr.Message), true
	default:
		return nil, false
	}
}

func newRecordID(table *recordTable) string {
	return table.idPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:15]
}

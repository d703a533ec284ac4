package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/asakaida/permatrix/internal/entities"
	"github.com/asakaida/permatrix/internal/repositories"
	"github.com/lib/pq"
)

// PostgresCatalogRepository implements CatalogRepository and ParentService using PostgreSQL
type PostgresCatalogRepository struct {
	db *sql.DB
}

// Compile-time interface checks.
var (
	_ repositories.CatalogRepository = (*PostgresCatalogRepository)(nil)
	_ repositories.ParentService     = (*PostgresCatalogRepository)(nil)
)

// NewPostgresCatalogRepository creates a new PostgreSQL catalog repository
func NewPostgresCatalogRepository(db *sql.DB) *PostgresCatalogRepository {
	return &PostgresCatalogRepository{db: db}
}

// Entities returns the entities of a kind with the given keys. Unknown keys are skipped.
func (r *PostgresCatalogRepository) Entities(ctx context.Context, kind entities.Kind, keys []string) ([]*entities.Entity, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	query := `
		SELECT name, object_name, label, updateable, creatable, compound
		FROM catalog_entities
		WHERE kind = $1 AND entity_key = ANY($2)
		ORDER BY entity_key
	`
	rows, err := r.db.QueryContext(ctx, query, string(kind), pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog entities: %w", err)
	}
	defer rows.Close()

	var out []*entities.Entity
	for rows.Next() {
		e := &entities.Entity{Kind: kind}
		if err := rows.Scan(&e.Name, &e.Object, &e.Label, &e.Updateable, &e.Creatable, &e.Compound); err != nil {
			return nil, fmt.Errorf("failed to scan catalog entity: %w", err)
		}
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating catalog entities: %w", err)
	}

	return out, nil
}

// Parents returns the parent identities with the given ids. Unknown ids are skipped.
func (r *PostgresCatalogRepository) Parents(ctx context.Context, ids []string) ([]*entities.ParentIdentity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, parent_type, name, COALESCE(profile_id, '')
		FROM permission_parents
		WHERE id = ANY($1)
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to read permission parents: %w", err)
	}
	defer rows.Close()

	var out []*entities.ParentIdentity
	for rows.Next() {
		var p entities.ParentIdentity
		var parentType string
		if err := rows.Scan(&p.ID, &parentType, &p.Name, &p.ProfileID); err != nil {
			return nil, fmt.Errorf("failed to scan permission parent: %w", err)
		}
		p.Type = entities.ParentType(parentType)
		out = append(out, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating permission parents: %w", err)
	}

	return out, nil
}

// Touch moves the modification time of the given parents. Profiles are
// matched by their profile id, permission sets by their own id.
func (r *PostgresCatalogRepository) Touch(ctx context.Context, parents []*entities.ParentIdentity) error {
	if len(parents) == 0 {
		return nil
	}

	ids := make([]string, len(parents))
	for i, p := range parents {
		ids[i] = p.TouchID()
	}

	query := `
		UPDATE permission_parents
		SET last_modified_at = NOW()
		WHERE id = ANY($1) OR profile_id = ANY($1)
	`
	if _, err := r.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to touch permission parents: %w", err)
	}

	return nil
}

// UpsertEntity creates or replaces a catalog entity
func (r *PostgresCatalogRepository) UpsertEntity(ctx context.Context, e *entities.Entity) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid entity: %w", err)
	}

	query := `
		INSERT INTO catalog_entities (kind, entity_key, object_name, name, label, updateable, creatable, compound)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (kind, entity_key)
		DO UPDATE SET object_name = EXCLUDED.object_name, name = EXCLUDED.name, label = EXCLUDED.label,
			updateable = EXCLUDED.updateable, creatable = EXCLUDED.creatable, compound = EXCLUDED.compound
	`
	_, err := r.db.ExecContext(ctx, query,
		string(e.Kind), e.Key(), e.Object, e.Name, e.Label, e.Updateable, e.Creatable, e.Compound,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert entity %s: %w", e.Key(), err)
	}

	return nil
}

// UpsertParent creates or replaces a parent identity
func (r *PostgresCatalogRepository) UpsertParent(ctx context.Context, p *entities.ParentIdentity) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid parent: %w", err)
	}

	query := `
		INSERT INTO permission_parents (id, parent_type, name, profile_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id)
		DO UPDATE SET parent_type = EXCLUDED.parent_type, name = EXCLUDED.name, profile_id = EXCLUDED.profile_id
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, string(p.Type), p.Name, sql.NullString{String: p.ProfileID, Valid: p.ProfileID != ""},
	)
	if err != nil {
		return fmt.Errorf("failed to upsert parent %s: %w", p.ID, err)
	}

	return nil
}

// LastModified returns the modification time of a parent
func (r *PostgresCatalogRepository) LastModified(ctx context.Context, id string) (sql.NullTime, error) {
	var t sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT last_modified_at FROM permission_parents WHERE id = $1 OR profile_id = $1 LIMIT 1`, id,
	).Scan(&t)
	if err == sql.ErrNoRows {
		return t, nil
	}
	if err != nil {
		return t, fmt.Errorf("failed to read last modified time: %w", err)
	}
	return t, nil
}

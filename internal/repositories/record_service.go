package repositories

import (
	"context"

	"github.com/asakaida/permatrix/internal/entities"
)

// RecordFilter defines filter criteria for fetching permission records
type RecordFilter struct {
	Kind       entities.Kind // Permission kind (required)
	EntityKeys []string      // Objects ("Account") or fields/record types ("Account.Industry")
	ParentIDs  []string      // Parent identity ids
}

// RecordService is the remote store of permission records
type RecordService interface {
	// Fetch returns the persisted records for every entity x parent combination that exists
	Fetch(ctx context.Context, filter *RecordFilter) ([]*entities.PermissionRecord, error)

	// Save creates or updates a batch of at most 200 records. The result list has
	// the same length and order as records. A returned error means the whole
	// call failed and no per-record result is available.
	Save(ctx context.Context, op entities.Operation, kind entities.Kind, records []*entities.PermissionRecord) ([]*entities.SaveResult, error)
}

// ParentService updates the profile and permission set records themselves
type ParentService interface {
	// Touch issues no-op updates against the given parents so that external
	// tooling sees them as modified
	Touch(ctx context.Context, parents []*entities.ParentIdentity) error
}

// RecordTypeDeployer saves record type visibilities through metadata deployment
type RecordTypeDeployer interface {
	// Deploy upserts record type visibilities. Results follow the input order.
	Deploy(ctx context.Context, records []*entities.PermissionRecord) ([]*entities.SaveResult, error)
}

// CatalogRepository describes entities and parent identities
type CatalogRepository interface {
	// Entities returns the entities of a kind with the given keys. Unknown keys are skipped.
	Entities(ctx context.Context, kind entities.Kind, keys []string) ([]*entities.Entity, error)

	// Parents returns the parent identities with the given ids. Unknown ids are skipped.
	Parents(ctx context.Context, ids []string) ([]*entities.ParentIdentity, error)
}

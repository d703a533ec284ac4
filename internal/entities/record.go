package entities

import (
	"fmt"
	"time"
)

// PermissionRecord represents a persisted permission record
// Example: ObjectPermissions{ParentId: 0PS..., SobjectType: Account, PermissionsRead: true}
type PermissionRecord struct {
	ID          string  // Record id (empty for records not yet inserted)
	Kind        Kind    // ObjectPermissions, FieldPermissions or RecordTypeVisibility
	ParentID    string  // Parent identity id
	SobjectType string  // Object API name
	Field       string  // "Object.Name" for fields and record types, empty for objects
	Flags       FlagSet // Granted flags
	UpdatedAt   time.Time
}

// EntityKey returns the row key this record belongs to
func (r *PermissionRecord) EntityKey() string {
	if r.Field != "" {
		return r.Field
	}
	return r.SobjectType
}

// Empty reports whether no flag applicable to the record's kind is granted
func (r *PermissionRecord) Empty() bool {
	return r.Flags&r.Kind.Flags() == 0
}

// Clone returns a copy of the record
func (r *PermissionRecord) Clone() *PermissionRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// String returns a short description of the record
// Format: Kind(parent/entity)={flags}
func (r *PermissionRecord) String() string {
	return fmt.Sprintf("%s(%s/%s)=%s", r.Kind, r.ParentID, r.EntityKey(), r.Flags)
}

// Validate checks if the record is valid
func (r *PermissionRecord) Validate() error {
	if err := r.Kind.Validate(); err != nil {
		return err
	}
	if r.ParentID == "" {
		return fmt.Errorf("parent ID is required")
	}
	if r.SobjectType == "" {
		return fmt.Errorf("sobject type is required")
	}
	if r.Kind != KindObject && r.Field == "" {
		return fmt.Errorf("field is required for %s", r.Kind)
	}
	if extra := r.Flags &^ r.Kind.Flags(); extra != 0 {
		return fmt.Errorf("flags %s are not applicable to %s", extra, r.Kind)
	}
	return nil
}

// RecordKey identifies a record by kind, parent and entity
func RecordKey(kind Kind, parentID, entityKey string) string {
	return string(kind) + "|" + parentID + "|" + entityKey
}

// Operation is the kind of save call issued for a batch
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
)

// Well-known status codes returned by record services
const (
	StatusRestrictedPicklist    = "INVALID_OR_NULL_FOR_RESTRICTED_PICKLIST"
	StatusInvalidCrossReference = "INVALID_CROSS_REFERENCE_KEY"
	StatusDuplicateValue        = "DUPLICATE_VALUE"
	StatusFieldIntegrity        = "FIELD_INTEGRITY_EXCEPTION"
	StatusEntityIsDeleted       = "ENTITY_IS_DELETED"
	StatusUnknownException      = "UNKNOWN_EXCEPTION"
	StatusInsufficientAccess    = "INSUFFICIENT_ACCESS_OR_READONLY"
	StatusRequiredFieldMissing  = "REQUIRED_FIELD_MISSING"
	StatusMetadataDeployFailure = "DEPLOY_FAILED"
)

// SaveError is a structured per-record error
type SaveError struct {
	StatusCode string
	Message    string
	Fields     []string
}

// SaveResult is the outcome of saving one record
type SaveResult struct {
	ID      string // Assigned id for creates, existing id for updates
	Success bool
	Errors  []SaveError
}

// Succeeded creates a success result
func Succeeded(id string) *SaveResult {
	return &SaveResult{ID: id, Success: true}
}

// Failed creates a failure result with a single error
func Failed(statusCode, message string) *SaveResult {
	return &SaveResult{Errors: []SaveError{{StatusCode: statusCode, Message: message}}}
}

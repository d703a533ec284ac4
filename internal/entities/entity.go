package entities

import (
	"fmt"
	"strings"
)

// Entity represents an object, field or record type being permissioned
// Example: "Account" (object), "Account.Industry" (field), "Account.Partner" (record type)
type Entity struct {
	Kind   Kind
	Name   string // API name; for fields and record types without the object prefix
	Object string // Owning object API name (empty for objects)
	Label  string // Display label

	// Field metadata (ignored for other kinds)
	Updateable bool
	Creatable  bool
	Compound   bool
}

// NewObjectEntity creates an object entity
func NewObjectEntity(name, label string) *Entity {
	return &Entity{Kind: KindObject, Name: name, Label: label}
}

// NewFieldEntity creates an updateable field entity of the given object
func NewFieldEntity(object, field, label string) *Entity {
	return &Entity{Kind: KindField, Name: field, Object: object, Label: label, Updateable: true, Creatable: true}
}

// NewRecordTypeEntity creates a record type entity of the given object
func NewRecordTypeEntity(object, developerName, label string) *Entity {
	return &Entity{Kind: KindRecordType, Name: developerName, Object: object, Label: label}
}

// Key returns the row key of the entity: "Object" or "Object.Name"
func (e *Entity) Key() string {
	if e.Kind == KindObject || e.Object == "" {
		return e.Name
	}
	return e.Object + "." + e.Name
}

// EditLocked reports whether the edit flag is immutable for this entity.
// Fields that are neither updateable nor creatable, and compound fields,
// cannot be granted edit access.
func (e *Entity) EditLocked() bool {
	if e.Kind != KindField {
		return false
	}
	return e.Compound || (!e.Updateable && !e.Creatable)
}

// DisplayLabel returns the label, falling back to the key
func (e *Entity) DisplayLabel() string {
	if e.Label != "" {
		return e.Label
	}
	return e.Key()
}

// Validate checks if the entity is valid
func (e *Entity) Validate() error {
	if err := e.Kind.Validate(); err != nil {
		return err
	}
	if e.Name == "" {
		return fmt.Errorf("entity name is required")
	}
	if strings.Contains(e.Name, ".") {
		return fmt.Errorf("entity name must not contain '.': %s", e.Name)
	}
	if e.Kind != KindObject && e.Object == "" {
		return fmt.Errorf("owning object is required for %s entity %s", e.Kind, e.Name)
	}
	return nil
}

// SplitKey splits "Object.Name" into its parts. Object keys return an empty name.
func SplitKey(key string) (object, name string) {
	if i := strings.IndexByte(key, '.'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

// ParentType distinguishes profiles from permission sets
type ParentType string

const (
	ParentProfile       ParentType = "Profile"
	ParentPermissionSet ParentType = "PermissionSet"
)

// ParentIdentity is a profile or permission set, the column dimension of the matrix
type ParentIdentity struct {
	ID        string     // Permission set id carried by permission records (ParentId)
	Type      ParentType // Profile or PermissionSet
	Name      string     // Display name
	ProfileID string     // Owning profile id (profiles only)
}

// TouchID returns the id of the record that is touched after a save
func (p *ParentIdentity) TouchID() string {
	if p.Type == ParentProfile && p.ProfileID != "" {
		return p.ProfileID
	}
	return p.ID
}

// Validate checks if the parent identity is valid
func (p *ParentIdentity) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("parent ID is required")
	}
	switch p.Type {
	case ParentProfile, ParentPermissionSet:
	default:
		return fmt.Errorf("unknown parent type: %q", string(p.Type))
	}
	return nil
}

package entities

import (
	"fmt"
	"math/bits"
	"strings"
)

// Flag is a single permission bit of a cell
type Flag uint16

const (
	FlagCreate Flag = 1 << iota
	FlagRead
	FlagEdit
	FlagDelete
	FlagViewAll
	FlagModifyAll
	FlagVisible // record type visibility
	FlagDefault // default record type
)

var flagNames = map[Flag]string{
	FlagCreate:    "create",
	FlagRead:      "read",
	FlagEdit:      "edit",
	FlagDelete:    "delete",
	FlagViewAll:   "viewAll",
	FlagModifyAll: "modifyAll",
	FlagVisible:   "visible",
	FlagDefault:   "default",
}

// String returns the flag name used by the UI and edit scripts (e.g., "viewAll")
func (f Flag) String() string {
	if name, ok := flagNames[f]; ok {
		return name
	}
	return fmt.Sprintf("flag(%d)", uint16(f))
}

// ParseFlag parses a flag name case-insensitively
func ParseFlag(name string) (Flag, error) {
	for f, n := range flagNames {
		if strings.EqualFold(n, name) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown permission flag: %q", name)
}

// FlagSet is a set of flags stored as a bit mask
type FlagSet uint16

// NewFlagSet builds a set from the given flags
func NewFlagSet(flags ...Flag) FlagSet {
	var s FlagSet
	for _, f := range flags {
		s |= FlagSet(f)
	}
	return s
}

// Has reports whether f is set
func (s FlagSet) Has(f Flag) bool {
	return s&FlagSet(f) != 0
}

// With returns a copy of s with f set to value
func (s FlagSet) With(f Flag, value bool) FlagSet {
	if value {
		return s | FlagSet(f)
	}
	return s &^ FlagSet(f)
}

// Count returns the number of flags set
func (s FlagSet) Count() int {
	return bits.OnesCount16(uint16(s))
}

// Flags returns the flags in s in declaration order
func (s FlagSet) Flags() []Flag {
	var out []Flag
	for f := FlagCreate; f <= FlagDefault; f <<= 1 {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// String formats the set as "{read,edit}"
func (s FlagSet) String() string {
	names := make([]string, 0, s.Count())
	for _, f := range s.Flags() {
		names = append(names, f.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// Kind identifies which permission table a cell belongs to
type Kind string

const (
	KindObject     Kind = "ObjectPermissions"
	KindField      Kind = "FieldPermissions"
	KindRecordType Kind = "RecordTypeVisibility"
)

// Kinds lists every kind in save order
var Kinds = []Kind{KindObject, KindField, KindRecordType}

// Flags returns the flags applicable to cells of this kind
func (k Kind) Flags() FlagSet {
	switch k {
	case KindObject:
		return NewFlagSet(FlagCreate, FlagRead, FlagEdit, FlagDelete, FlagViewAll, FlagModifyAll)
	case KindField:
		return NewFlagSet(FlagRead, FlagEdit)
	case KindRecordType:
		return NewFlagSet(FlagVisible, FlagDefault)
	default:
		return 0
	}
}

// Validate checks if the kind is known
func (k Kind) Validate() error {
	switch k {
	case KindObject, KindField, KindRecordType:
		return nil
	default:
		return fmt.Errorf("unknown permission kind: %q", string(k))
	}
}

// ParseKind accepts the record type name or a short alias ("object", "field", "recordType")
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(name) {
	case "object", "objects", strings.ToLower(string(KindObject)):
		return KindObject, nil
	case "field", "fields", strings.ToLower(string(KindField)):
		return KindField, nil
	case "recordtype", "recordtypes", strings.ToLower(string(KindRecordType)):
		return KindRecordType, nil
	default:
		return "", fmt.Errorf("unknown permission kind: %q", name)
	}
}

package script

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/asakaida/permatrix/internal/entities"
	"github.com/asakaida/permatrix/internal/repositories/memory"
	"gopkg.in/yaml.v3"
)

// FixtureEntity describes an object, field or record type
type FixtureEntity struct {
	Object   string `yaml:"object,omitempty"` // owning object (fields and record types)
	Name     string `yaml:"name"`
	Label    string `yaml:"label,omitempty"`
	Locked   bool   `yaml:"locked,omitempty"`   // field is neither updateable nor creatable
	Compound bool   `yaml:"compound,omitempty"` // compound field
}

// FixtureParent describes a profile or permission set
type FixtureParent struct {
	ID        string `yaml:"id"`
	Type      string `yaml:"type"`
	Name      string `yaml:"name,omitempty"`
	ProfileID string `yaml:"profileId,omitempty"`
}

// FixtureRecord describes a persisted permission record
type FixtureRecord struct {
	Kind   string   `yaml:"kind"`
	Parent string   `yaml:"parent"`
	Key    string   `yaml:"key"`
	Flags  []string `yaml:"flags"`
}

// Fixture seeds an in-memory backend: catalog, parents and records
type Fixture struct {
	Objects     []FixtureEntity `yaml:"objects"`
	Fields      []FixtureEntity `yaml:"fields,omitempty"`
	RecordTypes []FixtureEntity `yaml:"recordTypes,omitempty"`
	Parents     []FixtureParent `yaml:"parents"`
	Records     []FixtureRecord `yaml:"records,omitempty"`
	Restricted  []string        `yaml:"restricted,omitempty"` // field keys rejected on save
}

// LoadFixture reads a fixture from a file
func LoadFixture(path string) (*Fixture, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	return ParseFixture(bytes.NewReader(b))
}

// ParseFixture decodes a fixture. Unknown keys are rejected.
func ParseFixture(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f Fixture
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	return &f, nil
}

// Entities converts the catalog of the fixture
func (f *Fixture) Entities() ([]*entities.Entity, error) {
	var out []*entities.Entity
	for _, o := range f.Objects {
		out = append(out, entities.NewObjectEntity(o.Name, o.Label))
	}
	for _, fe := range f.Fields {
		e := entities.NewFieldEntity(fe.Object, fe.Name, fe.Label)
		e.Compound = fe.Compound
		if fe.Locked {
			e.Updateable, e.Creatable = false, false
		}
		out = append(out, e)
	}
	for _, rt := range f.RecordTypes {
		out = append(out, entities.NewRecordTypeEntity(rt.Object, rt.Name, rt.Label))
	}

	for _, e := range out {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("invalid entity %s: %w", e.Key(), err)
		}
	}
	return out, nil
}

// ParentIdentities converts the parents of the fixture
func (f *Fixture) ParentIdentities() ([]*entities.ParentIdentity, error) {
	out := make([]*entities.ParentIdentity, 0, len(f.Parents))
	for _, fp := range f.Parents {
		p := &entities.ParentIdentity{
			ID:        fp.ID,
			Type:      entities.ParentType(fp.Type),
			Name:      fp.Name,
			ProfileID: fp.ProfileID,
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid parent %s: %w", fp.ID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// PermissionRecords converts the records of the fixture
func (f *Fixture) PermissionRecords() ([]*entities.PermissionRecord, error) {
	out := make([]*entities.PermissionRecord, 0, len(f.Records))
	for i, fr := range f.Records {
		kind, err := entities.ParseKind(fr.Kind)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}

		var flags entities.FlagSet
		for _, name := range fr.Flags {
			flag, err := entities.ParseFlag(name)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i+1, err)
			}
			flags = flags.With(flag, true)
		}

		object, _ := entities.SplitKey(fr.Key)
		rec := &entities.PermissionRecord{
			Kind:        kind,
			ParentID:    fr.Parent,
			SobjectType: object,
			Flags:       flags,
		}
		if kind != entities.KindObject {
			rec.Field = fr.Key
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Memory builds an in-memory backend holding the fixture
func (f *Fixture) Memory() (*memory.Store, error) {
	list, err := f.Entities()
	if err != nil {
		return nil, err
	}
	parents, err := f.ParentIdentities()
	if err != nil {
		return nil, err
	}
	records, err := f.PermissionRecords()
	if err != nil {
		return nil, err
	}

	mem := memory.New()
	for _, e := range list {
		mem.AddEntity(e)
	}
	for _, p := range parents {
		mem.AddParent(p)
	}
	for _, r := range records {
		mem.Put(r)
	}
	for _, key := range f.Restricted {
		mem.Restrict(key)
	}
	return mem, nil
}

// Package script reads YAML edit scripts and replays them against a matrix engine.
//
// Example:
//
//	selection:
//	  objects: [Account, Contact]
//	  fields: [Account.Industry]
//	  parents: [0PS000000000001, 0PS000000000002]
//	filter: row.object == "Account"
//	operations:
//	  - op: column
//	    kind: object
//	    parent: 0PS000000000001
//	    flag: read
//	    mode: selectAll
//	  - op: row
//	    kind: field
//	    key: Account.Industry
//	    set: {read: true, edit: false}
package script

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/asakaida/permatrix/internal/entities"
	"github.com/asakaida/permatrix/internal/services"
	"github.com/asakaida/permatrix/internal/services/matrix"
	"gopkg.in/yaml.v3"
)

// Operation names
const (
	OpCell     = "cell"
	OpRow      = "row"
	OpResetRow = "resetRow"
	OpColumn   = "column"
	OpTable    = "table"
)

// Selection lists the entities and parent identities of the matrix
type Selection struct {
	Objects     []string `yaml:"objects,omitempty"`
	Fields      []string `yaml:"fields,omitempty"`
	RecordTypes []string `yaml:"recordTypes,omitempty"`
	Parents     []string `yaml:"parents"`
}

// Operation is one edit of the script
type Operation struct {
	Op     string          `yaml:"op"`
	Kind   string          `yaml:"kind"`
	Key    string          `yaml:"key,omitempty"`    // cell, row, resetRow
	Parent string          `yaml:"parent,omitempty"` // cell, column
	Flag   string          `yaml:"flag,omitempty"`   // cell, column, table
	Value  *bool           `yaml:"value,omitempty"`  // cell
	Mode   string          `yaml:"mode,omitempty"`   // column, table
	Set    map[string]bool `yaml:"set,omitempty"`    // row
}

// Script is a parsed edit script
type Script struct {
	Selection  Selection   `yaml:"selection"`
	Filter     string      `yaml:"filter,omitempty"` // CEL expression limiting column and table actions
	Match      string      `yaml:"match,omitempty"`  // text filter limiting column and table actions
	Operations []Operation `yaml:"operations"`
}

// Result summarizes a replayed script
type Result struct {
	Applied int // operations applied
	Cells   int // cells visited by column and table operations
}

// Load reads a script from a file
func Load(path string) (*Script, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return Parse(bytes.NewReader(b))
}

// Parse decodes and validates a script. Unknown keys are rejected.
func Parse(r io.Reader) (*Script, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var s Script
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("script is empty")
		}
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the selection, the filter and every operation
func (s *Script) Validate() error {
	if err := s.ServiceSelection().Validate(); err != nil {
		return fmt.Errorf("invalid selection: %w", err)
	}
	if s.Filter != "" && s.Match != "" {
		return fmt.Errorf("filter and match are mutually exclusive")
	}
	if _, err := s.RowFilter(); err != nil {
		return err
	}
	for i := range s.Operations {
		if err := s.Operations[i].validate(); err != nil {
			return fmt.Errorf("operation %d (%s): %w", i+1, s.Operations[i].Op, err)
		}
	}
	return nil
}

// ServiceSelection converts the selection for the permission service
func (s *Script) ServiceSelection() *services.Selection {
	return &services.Selection{
		Objects:     s.Selection.Objects,
		Fields:      s.Selection.Fields,
		RecordTypes: s.Selection.RecordTypes,
		ParentIDs:   s.Selection.Parents,
	}
}

// RowFilter returns the filter of column and table operations
func (s *Script) RowFilter() (matrix.RowFilter, error) {
	switch {
	case s.Filter != "":
		f, err := matrix.NewCELFilter(s.Filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter: %w", err)
		}
		return f, nil
	case s.Match != "":
		return matrix.TextFilter(s.Match), nil
	default:
		return matrix.AllRows{}, nil
	}
}

// Apply replays every operation against the engine in order. It stops at
// the first failing operation; earlier edits stay applied.
func (s *Script) Apply(engine *matrix.Engine) (*Result, error) {
	filter, err := s.RowFilter()
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for i := range s.Operations {
		op := &s.Operations[i]
		n, err := op.apply(engine, filter)
		if err != nil {
			return res, fmt.Errorf("operation %d (%s): %w", i+1, op.Op, err)
		}
		res.Applied++
		res.Cells += n
	}
	return res, nil
}

func (o *Operation) validate() error {
	kind, err := entities.ParseKind(o.Kind)
	if err != nil {
		return err
	}

	requireFlag := func() error {
		if o.Flag == "" {
			return fmt.Errorf("flag is required")
		}
		flag, err := entities.ParseFlag(o.Flag)
		if err != nil {
			return err
		}
		if !kind.Flags().Has(flag) {
			return fmt.Errorf("flag %s is not applicable to %s", flag, kind)
		}
		return nil
	}
	requireMode := func() error {
		_, err := matrix.ParseColumnMode(o.Mode)
		return err
	}

	switch o.Op {
	case OpCell:
		if o.Key == "" || o.Parent == "" || o.Value == nil {
			return fmt.Errorf("key, parent and value are required")
		}
		return requireFlag()
	case OpRow:
		if o.Key == "" || len(o.Set) == 0 {
			return fmt.Errorf("key and set are required")
		}
		_, err := o.targets(kind)
		return err
	case OpResetRow:
		if o.Key == "" {
			return fmt.Errorf("key is required")
		}
		return nil
	case OpColumn:
		if o.Parent == "" {
			return fmt.Errorf("parent is required")
		}
		if err := requireFlag(); err != nil {
			return err
		}
		return requireMode()
	case OpTable:
		if err := requireFlag(); err != nil {
			return err
		}
		return requireMode()
	default:
		return fmt.Errorf("unknown operation %q (expected %s)", o.Op,
			strings.Join([]string{OpCell, OpRow, OpResetRow, OpColumn, OpTable}, ", "))
	}
}

func (o *Operation) targets(kind entities.Kind) (map[entities.Flag]bool, error) {
	targets := make(map[entities.Flag]bool, len(o.Set))
	for name, value := range o.Set {
		flag, err := entities.ParseFlag(name)
		if err != nil {
			return nil, err
		}
		if !kind.Flags().Has(flag) {
			return nil, fmt.Errorf("flag %s is not applicable to %s", flag, kind)
		}
		targets[flag] = value
	}
	return targets, nil
}

// apply runs the operation and returns the number of cells visited by
// column and table actions
func (o *Operation) apply(engine *matrix.Engine, filter matrix.RowFilter) (int, error) {
	kind, err := entities.ParseKind(o.Kind)
	if err != nil {
		return 0, err
	}

	switch o.Op {
	case OpCell:
		flag, err := entities.ParseFlag(o.Flag)
		if err != nil {
			return 0, err
		}
		return 0, engine.SetCell(kind, o.Key, o.Parent, flag, *o.Value)
	case OpRow:
		targets, err := o.targets(kind)
		if err != nil {
			return 0, err
		}
		return 0, engine.ApplyToRow(kind, o.Key, targets)
	case OpResetRow:
		return 0, engine.ResetRow(kind, o.Key)
	case OpColumn, OpTable:
		flag, err := entities.ParseFlag(o.Flag)
		if err != nil {
			return 0, err
		}
		mode, err := matrix.ParseColumnMode(o.Mode)
		if err != nil {
			return 0, err
		}
		if o.Op == OpColumn {
			return engine.ApplyColumn(kind, o.Parent, flag, mode, filter)
		}
		return engine.ApplyTable(kind, flag, mode, filter)
	default:
		return 0, fmt.Errorf("unknown operation %q", o.Op)
	}
}

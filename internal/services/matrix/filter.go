package matrix

import (
	"fmt"
	"strings"

	"github.com/asakaida/permatrix/internal/entities"
	"github.com/google/cel-go/cel"
)

// RowFilter decides which rows are visible. Column and table actions only
// touch visible rows.
type RowFilter interface {
	Match(row *entities.Row) bool
}

// AllRows matches every row
type AllRows struct{}

// Match implements RowFilter
func (AllRows) Match(*entities.Row) bool { return true }

// TextFilter matches rows whose key or label contains the text (case-insensitive)
type TextFilter string

// Match implements RowFilter
func (f TextFilter) Match(row *entities.Row) bool {
	needle := strings.ToLower(strings.TrimSpace(string(f)))
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(row.Key()), needle) ||
		strings.Contains(strings.ToLower(row.Entity.Label), needle)
}

// DirtyOnlyFilter matches rows with unsaved changes
type DirtyOnlyFilter struct{}

// Match implements RowFilter
func (DirtyOnlyFilter) Match(row *entities.Row) bool { return row.DirtyCount > 0 }

// CELFilter matches rows with a CEL expression over the "row" variable.
// Available keys: name, label, kind, object, key, dirty, dirtyCount.
// Example: row.object == "Account" && !row.dirty
type CELFilter struct {
	expression string
	program    cel.Program
}

// NewCELFilter compiles a row filter expression
func NewCELFilter(expression string) (*CELFilter, error) {
	env, err := cel.NewEnv(
		cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile row filter: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
		return nil, fmt.Errorf("row filter must return boolean, got: %s", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &CELFilter{expression: expression, program: program}, nil
}

// String returns the source expression
func (f *CELFilter) String() string {
	return f.expression
}

// Match implements RowFilter. Evaluation errors hide the row.
func (f *CELFilter) Match(row *entities.Row) bool {
	result, _, err := f.program.Eval(map[string]interface{}{
		"row": rowAttributes(row),
	})
	if err != nil {
		return false
	}
	matched, ok := result.Value().(bool)
	return ok && matched
}

func rowAttributes(row *entities.Row) map[string]interface{} {
	e := row.Entity
	object := e.Object
	if e.Kind == entities.KindObject {
		object = e.Name
	}
	return map[string]interface{}{
		"name":       e.Name,
		"label":      e.DisplayLabel(),
		"kind":       string(e.Kind),
		"object":     object,
		"key":        row.Key(),
		"dirty":      row.DirtyCount > 0,
		"dirtyCount": int64(row.DirtyCount),
	}
}

// visible applies a nil-safe filter
func visible(filter RowFilter, row *entities.Row) bool {
	return filter == nil || filter.Match(row)
}

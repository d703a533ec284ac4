package matrix

import (
	"testing"

	"github.com/asakaida/permatrix/internal/entities"
)

func TestTextFilter(t *testing.T) {
	row := &entities.Row{Entity: entities.NewFieldEntity("Account", "AnnualRevenue", "Annual Revenue")}

	tests := []struct {
		filter TextFilter
		want   bool
	}{
		{filter: "", want: true},
		{filter: "  ", want: true},
		{filter: "annualrev", want: true},
		{filter: "ACCOUNT.", want: true},
		{filter: "annual revenue", want: true},
		{filter: "contact", want: false},
	}

	for _, tt := range tests {
		t.Run(string(tt.filter), func(t *testing.T) {
			if got := tt.filter.Match(row); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDirtyOnlyFilter(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetCell(entities.KindObject, "Contact", "P2", entities.FlagRead, true); err != nil {
		t.Fatal(err)
	}

	n, err := s.ApplyColumn(entities.KindObject, "P1", entities.FlagRead, SelectAll, DirtyOnlyFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected only the dirty row to be visited, got %d", n)
	}
	if c := mustCell(t, s, entities.KindObject, "Contact", "P1"); !c.Current.Has(entities.FlagRead) {
		t.Error("expected Contact/P1 to be granted read")
	}
	if c := mustCell(t, s, entities.KindObject, "Account", "P1"); c.Current != 0 {
		t.Error("clean rows must be skipped")
	}
}

func TestCELFilter(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetCell(entities.KindField, "Contact.Email", "P1", entities.FlagRead, true); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		expression string
		kind       entities.Kind
		want       []string
	}{
		{
			name:       "by object",
			expression: `row.object == "Account"`,
			kind:       entities.KindField,
			want:       []string{"Account.Industry"},
		},
		{
			name:       "dirty rows",
			expression: `row.dirty`,
			kind:       entities.KindField,
			want:       []string{"Contact.Email"},
		},
		{
			name:       "dirty count",
			expression: `row.dirtyCount == 0`,
			kind:       entities.KindField,
			want:       []string{"Account.Industry"},
		},
		{
			name:       "object rows use their own name",
			expression: `row.object.startsWith("Opp")`,
			kind:       entities.KindObject,
			want:       []string{"Opportunity"},
		},
		{
			name:       "label match",
			expression: `row.label.contains("Partner")`,
			kind:       entities.KindRecordType,
			want:       []string{"Account.Partner"},
		},
		{
			name:       "missing key hides every row",
			expression: `row.namespace == "x"`,
			kind:       entities.KindObject,
			want:       nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewCELFilter(tt.expression)
			if err != nil {
				t.Fatalf("NewCELFilter() error = %v", err)
			}
			if f.String() != tt.expression {
				t.Errorf("String() = %q", f.String())
			}

			var got []string
			for _, row := range s.Table(tt.kind).Rows() {
				if f.Match(row) {
					got = append(got, row.Key())
				}
			}
			if len(got) != len(tt.want) {
				t.Fatalf("matched %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("matched %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestNewCELFilter_Errors(t *testing.T) {
	tests := []struct {
		name       string
		expression string
	}{
		{name: "syntax error", expression: `row.name ==`},
		{name: "non-boolean", expression: `"Account"`},
		{name: "unknown variable", expression: `entity.name == "Account"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCELFilter(tt.expression); err == nil {
				t.Errorf("expected error for %q", tt.expression)
			}
		})
	}
}

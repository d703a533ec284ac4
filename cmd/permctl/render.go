package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/asakaida/permatrix/internal/entities"
	"github.com/asakaida/permatrix/internal/services/matrix"
)

var kindTitles = map[entities.Kind]string{
	entities.KindObject:     "object permissions",
	entities.KindField:      "field permissions",
	entities.KindRecordType: "record type visibilities",
}

var flagLetters = map[entities.Flag]byte{
	entities.FlagCreate:    'C',
	entities.FlagRead:      'R',
	entities.FlagEdit:      'E',
	entities.FlagDelete:    'D',
	entities.FlagViewAll:   'V',
	entities.FlagModifyAll: 'M',
	entities.FlagVisible:   'V',
	entities.FlagDefault:   'D',
}

// cellText renders the flags of a cell as letters, "-" for unset flags.
// A trailing "*" marks dirty cells and "!" cells whose last save failed.
func cellText(c *entities.Cell) string {
	var b strings.Builder
	for _, f := range c.Kind.Flags().Flags() {
		if c.Current.Has(f) {
			b.WriteByte(flagLetters[f])
		} else {
			b.WriteByte('-')
		}
	}
	if c.DirtyCount() > 0 {
		b.WriteByte('*')
	}
	if c.ErrorMessage != "" {
		b.WriteByte('!')
	}
	return b.String()
}

func legend(kind entities.Kind) string {
	parts := make([]string, 0, 6)
	for _, f := range kind.Flags().Flags() {
		parts = append(parts, fmt.Sprintf("%c=%s", flagLetters[f], f))
	}
	return strings.Join(parts, " ")
}

func parentLabel(p *entities.ParentIdentity) string {
	if p.Name == "" {
		return p.ID
	}
	return p.Name
}

// renderTable writes one matrix table: a row per entity and a column per
// parent identity. Tables without rows are skipped.
func renderTable(out io.Writer, s *matrix.Store, kind entities.Kind, filter matrix.RowFilter) error {
	rows := s.Table(kind).Rows()
	if len(rows) == 0 {
		return nil
	}
	parents := s.Parents()

	fmt.Fprintf(out, "%s (%s)\n", strings.ToUpper(kindTitles[kind][:1])+kindTitles[kind][1:], legend(kind))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	header := []string{"ENTITY", "LABEL"}
	for _, p := range parents {
		header = append(header, parentLabel(p))
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))

	for _, row := range rows {
		if filter != nil && !filter.Match(row) {
			continue
		}
		line := []string{row.Key(), row.Entity.DisplayLabel()}
		for _, p := range parents {
			c, ok := row.Cells[p.ID]
			if !ok {
				line = append(line, "")
				continue
			}
			line = append(line, cellText(c))
		}
		fmt.Fprintln(w, strings.Join(line, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(out)
	return nil
}

// renderMatrix writes every table of the store
func renderMatrix(out io.Writer, s *matrix.Store, filter matrix.RowFilter) error {
	for _, kind := range entities.Kinds {
		if err := renderTable(out, s, kind, filter); err != nil {
			return err
		}
	}
	return nil
}

// summaryLine formats the confirmation summary, e.g.
// "12 object permissions, 3 field permissions changed"
func summaryLine(sum *matrix.Summary) string {
	var parts []string
	for _, kind := range entities.Kinds {
		if n := sum.Changed[kind]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, kindTitles[kind]))
		}
	}
	if len(parts) == 0 {
		return "no changes"
	}
	return strings.Join(parts, ", ") + " changed"
}

// renderReport writes the per-kind outcome of a save
func renderReport(out io.Writer, report *matrix.SaveReport) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tINSERTED\tUPDATED\tDELETED\tFAILED")
	for _, kind := range entities.Kinds {
		r, ok := report.Kinds[kind]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", kind, r.Inserted, r.Updated, r.Deleted, r.Failed)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "saved %d record(s), %d failed in %s\n", report.Succeeded(), report.Failed(), report.Duration.Round(time.Millisecond))
	if report.TouchFailed {
		fmt.Fprintln(out, "warning: profiles and permission sets could not be touched")
	}
	return nil
}

// renderErrors writes the error of every failed cell in table order
func renderErrors(out io.Writer, s *matrix.Store) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	n := 0
	for _, kind := range entities.Kinds {
		for _, row := range s.Table(kind).Rows() {
			for _, p := range s.Parents() {
				c, ok := row.Cells[p.ID]
				if !ok || c.ErrorMessage == "" {
					continue
				}
				if n == 0 {
					fmt.Fprintln(w, "ENTITY\tPARENT\tERROR")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", row.Key(), parentLabel(p), c.ErrorMessage)
				n++
			}
		}
	}
	return w.Flush()
}

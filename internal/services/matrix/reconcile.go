package matrix

import (
	"strings"
	"time"

	"github.com/asakaida/permatrix/internal/entities"
)

// KindReport counts the outcome of saving one kind
type KindReport struct {
	Inserted int
	Updated  int
	Deleted  int // updates that cleared every flag
	Failed   int
}

// Succeeded returns the number of records saved without error
func (r *KindReport) Succeeded() int {
	return r.Inserted + r.Updated + r.Deleted
}

// Reconcile merges save outcomes back into the store. Every error message of
// the store is cleared first, so errors always describe the last save only.
//
// A successful outcome replaces the cell baseline with the saved record (or
// nil when every flag is false) which clears its dirty markers. A failed
// outcome only attaches an error message; current flags and dirty markers are
// kept so the save can be retried.
func (s *Store) Reconcile(outcomes []*Outcome) map[entities.Kind]*KindReport {
	s.clearErrors()

	reports := make(map[entities.Kind]*KindReport, len(entities.Kinds))
	for _, kind := range entities.Kinds {
		reports[kind] = &KindReport{}
	}

	now := time.Now()
	for _, o := range outcomes {
		c := o.Candidate
		table, ok := s.tables[c.Kind]
		if !ok {
			continue
		}
		row, ok := table.rows[c.RowKey]
		if !ok {
			continue
		}
		cell, ok := row.Cells[c.ParentID]
		if !ok {
			continue
		}
		report := reports[c.Kind]

		next := cell.Clone()
		if o.Result == nil || !o.Result.Success {
			next.ErrorMessage = errorMessage(o.Result)
			report.Failed++
			table.setCell(row, next)
			continue
		}

		saved := c.Record.Clone()
		if o.Result.ID != "" {
			saved.ID = o.Result.ID
		}
		saved.UpdatedAt = now

		switch {
		case saved.Empty():
			next.Baseline = nil
			report.Deleted++
		case c.Bucket == entities.OperationCreate:
			next.Baseline = saved
			report.Inserted++
		default:
			next.Baseline = saved
			report.Updated++
		}
		next.ErrorMessage = ""
		next.RecomputeDirty()
		table.setCell(row, next)
	}

	return reports
}

// errorMessage converts the structured errors of a result into the message
// shown on the cell
func errorMessage(res *entities.SaveResult) string {
	if res == nil || len(res.Errors) == 0 {
		return GenericSaveErrorMessage
	}
	messages := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		if e.StatusCode == entities.StatusRestrictedPicklist {
			messages = append(messages, RestrictedPicklistMessage)
			continue
		}
		if e.Message != "" {
			messages = append(messages, e.Message)
		} else if e.StatusCode != "" {
			messages = append(messages, e.StatusCode)
		}
	}
	if len(messages) == 0 {
		return GenericSaveErrorMessage
	}
	return strings.Join(messages, " ")
}

package matrix

import (
	"fmt"

	"github.com/asakaida/permatrix/internal/entities"
)

// ApplyFlag returns a copy of cell with flag set to value and every implied
// flag adjusted so the cell satisfies the implication table of its kind.
// The input cell is never modified. Dirty markers are recomputed against the
// baseline and any previous save error is cleared.
//
// entity may be nil; when given, a locked edit flag ignores the request.
func ApplyFlag(cell *entities.Cell, entity *entities.Entity, flag entities.Flag, value bool) (*entities.Cell, error) {
	applicable := cell.Kind.Flags()
	if !applicable.Has(flag) {
		return nil, fmt.Errorf("%w: %s on %s", ErrFlagNotApplicable, flag, cell.Kind)
	}

	rules := entities.RulesFor(cell.Kind)
	flags := cell.Current & applicable

	if flag == entities.FlagEdit && entity != nil && entity.EditLocked() {
		value = flags.Has(entities.FlagEdit)
	}

	if value {
		flags |= FlagSetOf(flag) | closure(rules, flag, true)
	} else {
		flags &^= FlagSetOf(flag) | closure(rules, flag, false)
	}
	flags = normalize(rules, flags, flag, value)

	next := cell.Clone()
	next.Current = flags
	next.ErrorMessage = ""
	next.RecomputeDirty()
	return next, nil
}

// FlagSetOf returns a set holding only f
func FlagSetOf(f entities.Flag) entities.FlagSet {
	return entities.NewFlagSet(f)
}

// closure walks the rule table from flag and returns every flag reached
// through ImpliesWhenTrue (value=true) or ForcesFalseWhenFalse (value=false).
func closure(rules entities.RuleTable, flag entities.Flag, value bool) entities.FlagSet {
	var reached entities.FlagSet
	stack := []entities.Flag{flag}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		next := rules[current].ForcesFalseWhenFalse
		if value {
			next = rules[current].ImpliesWhenTrue
		}
		for _, f := range next.Flags() {
			if reached.Has(f) {
				continue
			}
			reached = reached.With(f, true)
			stack = append(stack, f)
		}
	}

	return reached
}

// normalize re-evaluates every dependency of the cell. Any enabled flag whose
// prerequisites are not all enabled is switched off, except the requested
// flag when it was enabled (its prerequisites were enabled by closure).
// Repeats until no flag changes.
func normalize(rules entities.RuleTable, flags entities.FlagSet, requested entities.Flag, value bool) entities.FlagSet {
	for {
		changed := false
		for _, f := range flags.Flags() {
			required := rules[f].ImpliesWhenTrue
			if flags&required == required {
				continue
			}
			if f == requested && value {
				flags |= required
			} else {
				flags = flags.With(f, false)
			}
			changed = true
		}
		if !changed {
			return flags
		}
	}
}

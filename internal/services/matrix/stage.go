package matrix

import (
	"fmt"
	"sync"

	"github.com/asakaida/permatrix/internal/entities"
)

// RowStage collects target flag values for a row before they are applied
// (the "apply to row" side panel). The staged values are kept consistent
// with the implication rules as they are set.
type RowStage struct {
	engine *Engine
	kind   entities.Kind
	key    string

	mu      sync.Mutex
	targets map[entities.Flag]bool
	done    bool
}

// Set stages a target value. Flags implied by the value are staged as well.
func (r *RowStage) Set(flag entities.Flag, value bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return fmt.Errorf("row stage for %s is closed", r.key)
	}
	if !r.kind.Flags().Has(flag) {
		return fmt.Errorf("%w: %s on %s", ErrFlagNotApplicable, flag, r.kind)
	}

	rules := entities.RulesFor(r.kind)
	r.targets[flag] = value
	for _, f := range closure(rules, flag, value).Flags() {
		r.targets[f] = value
	}
	return nil
}

// Targets returns a copy of the staged values
func (r *RowStage) Targets() map[entities.Flag]bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[entities.Flag]bool, len(r.targets))
	for f, v := range r.targets {
		out[f] = v
	}
	return out
}

// Confirm applies the staged values to every cell of the row and closes the stage
func (r *RowStage) Confirm() error {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return fmt.Errorf("row stage for %s is closed", r.key)
	}
	targets := make(map[entities.Flag]bool, len(r.targets))
	for f, v := range r.targets {
		targets[f] = v
	}
	r.mu.Unlock()

	if len(targets) > 0 {
		if err := r.engine.ApplyToRow(r.kind, r.key, targets); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.done = true
	r.mu.Unlock()
	return nil
}

// Discard closes the stage without applying anything
func (r *RowStage) Discard() {
	r.mu.Lock()
	r.done = true
	r.mu.Unlock()
}

package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/asakaida/permatrix/internal/entities"
	"github.com/asakaida/permatrix/internal/repositories"
)

// SaveState is the state of the save cycle
type SaveState string

const (
	StateIdle             SaveState = "IDLE"
	StateConfirming       SaveState = "CONFIRMING" // waiting for the operator, mutations blocked
	StatePlanning         SaveState = "PLANNING"
	StateSavingObject     SaveState = "SAVING_OBJECT"
	StateSavingField      SaveState = "SAVING_FIELD"
	StateSavingRecordType SaveState = "SAVING_RECORD_TYPE"
	StateReconciling      SaveState = "RECONCILING"
)

var savingStates = map[entities.Kind]SaveState{
	entities.KindObject:     StateSavingObject,
	entities.KindField:      StateSavingField,
	entities.KindRecordType: StateSavingRecordType,
}

// Confirmer asks the operator to confirm a save. The summary lists the
// number of changed object, field and record type permissions.
type Confirmer interface {
	Confirm(ctx context.Context, summary *Summary) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer
type ConfirmFunc func(ctx context.Context, summary *Summary) (bool, error)

// Confirm implements Confirmer
func (f ConfirmFunc) Confirm(ctx context.Context, summary *Summary) (bool, error) {
	return f(ctx, summary)
}

// SaveRecorder receives save outcomes (implemented by the metrics collector)
type SaveRecorder interface {
	RecordSaveOutcome(kind entities.Kind, report *KindReport)
	RecordSaveDuration(seconds float64)
}

// SaveReport summarizes one save cycle
type SaveReport struct {
	Kinds       map[entities.Kind]*KindReport
	Touched     int  // parent identities touched after the save
	TouchFailed bool // the touch update failed (logged, never surfaced on cells)
	Duration    time.Duration
}

// Failed returns the number of records that failed across all kinds
func (r *SaveReport) Failed() int {
	n := 0
	for _, k := range r.Kinds {
		n += k.Failed
	}
	return n
}

// Succeeded returns the number of records saved across all kinds
func (r *SaveReport) Succeeded() int {
	n := 0
	for _, k := range r.Kinds {
		n += k.Succeeded()
	}
	return n
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithParentService enables touch updates after a save
func WithParentService(parents repositories.ParentService) Option {
	return func(e *Engine) { e.parents = parents }
}

// WithRecordTypeDeployer sets the metadata deploy path for record type visibilities
func WithRecordTypeDeployer(deployer repositories.RecordTypeDeployer) Option {
	return func(e *Engine) { e.deployer = deployer }
}

// WithBatchSize sets the number of records per save call (at most 200)
func WithBatchSize(size int) Option {
	return func(e *Engine) { e.batchSize = clampBatchSize(size) }
}

// WithMaxConcurrentBatches limits the number of save calls in flight (0 = no limit)
func WithMaxConcurrentBatches(n int) Option {
	return func(e *Engine) { e.maxConcurrent = n }
}

// WithTouchParents enables or disables touch updates
func WithTouchParents(enabled bool) Option {
	return func(e *Engine) { e.touchParents = enabled }
}

// WithSaveRecorder sets the recorder of save outcomes
func WithSaveRecorder(recorder SaveRecorder) Option {
	return func(e *Engine) { e.recorder = recorder }
}

// Engine owns a Store and exposes the mutation surface of the matrix:
// the cell, row, column and table operators and Save. Every mutation runs to
// completion under the engine lock and notifies subscribers afterwards.
// Mutations are rejected with ErrSaveInProgress while a save is running.
type Engine struct {
	mu    sync.Mutex
	store *Store
	state SaveState

	records       repositories.RecordService
	parents       repositories.ParentService
	deployer      repositories.RecordTypeDeployer
	batchSize     int
	maxConcurrent int
	touchParents  bool
	logger        *slog.Logger
	recorder      SaveRecorder

	subMu       sync.Mutex
	subscribers map[int]func(*Summary)
	nextSubID   int
}

// NewEngine creates a new Engine over store
func NewEngine(store *Store, records repositories.RecordService, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		state:        StateIdle,
		records:      records,
		batchSize:    MaxBatchSize,
		touchParents: true,
		logger:       slog.Default(),
		subscribers:  make(map[int]func(*Summary)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current save state
func (e *Engine) State() SaveState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// View runs fn with read access to the store. fn must not keep or modify
// the store or its rows.
func (e *Engine) View(fn func(s *Store)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.store)
}

// Summary returns the current aggregate counts
func (e *Engine) Summary() *Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.summaryLocked()
}

// Replace swaps the store, e.g. after the selection or org changed
func (e *Engine) Replace(store *Store) error {
	return e.mutate(func(*Store) error {
		e.store = store
		return nil
	})
}

// Subscribe registers fn to be called with the new summary after every
// mutation and after every save. The returned function unsubscribes.
func (e *Engine) Subscribe(fn func(*Summary)) func() {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = fn

	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		delete(e.subscribers, id)
	}
}

// SetCell applies one flag to one cell
func (e *Engine) SetCell(kind entities.Kind, key, parentID string, flag entities.Flag, value bool) error {
	return e.mutate(func(s *Store) error {
		return s.SetCell(kind, key, parentID, flag, value)
	})
}

// ApplyToRow applies target flag values to every cell of a row
func (e *Engine) ApplyToRow(kind entities.Kind, key string, targets map[entities.Flag]bool) error {
	return e.mutate(func(s *Store) error {
		return s.ApplyToRow(kind, key, targets)
	})
}

// ResetRow reverts the dirty flags of a row
func (e *Engine) ResetRow(kind entities.Kind, key string) error {
	return e.mutate(func(s *Store) error {
		return s.ResetRow(kind, key)
	})
}

// ApplyColumn applies a column action to the visible rows
func (e *Engine) ApplyColumn(kind entities.Kind, parentID string, flag entities.Flag, mode ColumnMode, filter RowFilter) (int, error) {
	var n int
	err := e.mutate(func(s *Store) error {
		var err error
		n, err = s.ApplyColumn(kind, parentID, flag, mode, filter)
		return err
	})
	return n, err
}

// ApplyTable applies a column action for every parent identity to the visible rows
func (e *Engine) ApplyTable(kind entities.Kind, flag entities.Flag, mode ColumnMode, filter RowFilter) (int, error) {
	var n int
	err := e.mutate(func(s *Store) error {
		var err error
		n, err = s.ApplyTable(kind, flag, mode, filter)
		return err
	})
	return n, err
}

// StageRow opens a staged edit for a row. Nothing is applied until Confirm.
func (e *Engine) StageRow(kind entities.Kind, key string) (*RowStage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.store.Row(kind, key); err != nil {
		return nil, err
	}
	return &RowStage{engine: e, kind: kind, key: key, targets: make(map[entities.Flag]bool)}, nil
}

// Save asks for confirmation, plans every dirty cell, submits the batches of
// each kind and reconciles the results into the store. Persistence failures
// never surface as errors: they end up as cell error messages and in the
// report. Errors are returned only when the save did not start.
func (e *Engine) Save(ctx context.Context, confirmer Confirmer) (*SaveReport, error) {
	start := time.Now()

	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return nil, ErrSaveInProgress
	}
	summary := e.summaryLocked()
	if summary.Total() == 0 {
		e.mu.Unlock()
		return nil, ErrNothingToSave
	}
	e.state = StateConfirming
	summary.State = StateConfirming
	e.mu.Unlock()

	// The cycle always ends in IDLE
	defer e.setState(StateIdle)

	if confirmer == nil {
		return nil, fmt.Errorf("%w: no confirmation step", ErrSaveDeclined)
	}
	ok, err := confirmer.Confirm(ctx, summary)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSaveDeclined, err)
	}
	if !ok {
		return nil, ErrSaveDeclined
	}

	e.mu.Lock()
	e.state = StatePlanning
	plan := PlanStore(e.store, e.batchSize)
	parents := e.store.Parents()
	e.mu.Unlock()

	e.logger.Info("saving permissions",
		slog.Int("objects", plan.Kind(entities.KindObject).Len()),
		slog.Int("fields", plan.Kind(entities.KindField).Len()),
		slog.Int("recordTypes", plan.Kind(entities.KindRecordType).Len()))

	batcher := NewBatcher(e.records, e.deployer, e.batchSize, e.maxConcurrent, e.logger)
	report := &SaveReport{}

	var outcomes []*Outcome
	for _, kind := range entities.Kinds {
		kp := plan.Kind(kind)
		if kp.Len() == 0 {
			continue
		}
		e.setState(savingStates[kind])
		kindOutcomes := batcher.Submit(ctx, kp)
		outcomes = append(outcomes, kindOutcomes...)

		if kind == entities.KindField || (kind == entities.KindObject && plan.Kind(entities.KindField).Len() == 0) {
			report.Touched, report.TouchFailed = e.touch(ctx, parents, outcomes)
		}
	}

	e.mu.Lock()
	e.state = StateReconciling
	report.Kinds = e.store.Reconcile(outcomes)
	e.state = StateIdle
	after := e.summaryLocked()
	e.mu.Unlock()

	report.Duration = time.Since(start)
	if e.recorder != nil {
		for kind, kr := range report.Kinds {
			e.recorder.RecordSaveOutcome(kind, kr)
		}
		e.recorder.RecordSaveDuration(report.Duration.Seconds())
	}

	e.logger.Info("saved permissions",
		slog.Int("succeeded", report.Succeeded()),
		slog.Int("failed", report.Failed()),
		slog.Int("touched", report.Touched),
		slog.Duration("duration", report.Duration))

	e.notify(after)
	return report, nil
}

// touch issues best-effort no-op updates for the parents of every
// successfully saved object or field permission. Failures are only logged.
func (e *Engine) touch(ctx context.Context, parents []*entities.ParentIdentity, outcomes []*Outcome) (int, bool) {
	if e.parents == nil || !e.touchParents {
		return 0, false
	}

	saved := make(map[string]bool)
	for _, o := range outcomes {
		if o.Candidate.Kind == entities.KindRecordType {
			continue
		}
		if o.Result != nil && o.Result.Success {
			saved[o.Candidate.ParentID] = true
		}
	}
	var targets []*entities.ParentIdentity
	for _, p := range parents {
		if saved[p.ID] {
			targets = append(targets, p)
		}
	}
	if len(targets) == 0 {
		return 0, false
	}

	if err := e.parents.Touch(ctx, targets); err != nil {
		e.logger.Warn("failed to mark parents as updated",
			slog.Int("parents", len(targets)),
			slog.Any("error", err))
		return 0, true
	}
	return len(targets), false
}

// mutate runs fn under the lock unless a save is running, then notifies
func (e *Engine) mutate(fn func(s *Store) error) error {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return ErrSaveInProgress
	}
	err := fn(e.store)
	summary := e.summaryLocked()
	e.mu.Unlock()

	e.notify(summary)
	return err
}

func (e *Engine) setState(state SaveState) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}

func (e *Engine) summaryLocked() *Summary {
	sum := e.store.Summary()
	sum.State = e.state
	return sum
}

func (e *Engine) notify(summary *Summary) {
	e.subMu.Lock()
	subs := make([]func(*Summary), 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		subs = append(subs, fn)
	}
	e.subMu.Unlock()

	for _, fn := range subs {
		fn(summary)
	}
}

package matrix

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/asakaida/permatrix/internal/entities"
	"github.com/asakaida/permatrix/internal/repositories"
	"golang.org/x/sync/errgroup"
)

// Outcome pairs a candidate with the result returned for it
type Outcome struct {
	Candidate *Candidate
	Result    *entities.SaveResult
}

// Batcher submits planned candidates in bounded batches
type Batcher struct {
	records       repositories.RecordService
	deployer      repositories.RecordTypeDeployer
	batchSize     int
	maxConcurrent int
	logger        *slog.Logger
}

// NewBatcher creates a new Batcher. deployer may be nil when no record type
// visibility is ever edited.
func NewBatcher(records repositories.RecordService, deployer repositories.RecordTypeDeployer, batchSize, maxConcurrent int, logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		records:       records,
		deployer:      deployer,
		batchSize:     clampBatchSize(batchSize),
		maxConcurrent: maxConcurrent,
		logger:        logger,
	}
}

// Submit issues one save call per batch and bucket, all at once, and waits for
// every call. Each result is stored at the candidate's planned position, so the
// order in which calls complete does not matter. Submit never fails: a call
// that fails as a whole yields a failure result for each of its candidates.
func (b *Batcher) Submit(ctx context.Context, plan *KindPlan) []*Outcome {
	inserts := make([]*entities.SaveResult, len(plan.ToInsert))
	updates := make([]*entities.SaveResult, len(plan.ToUpdate))

	var g errgroup.Group
	if b.maxConcurrent > 0 {
		g.SetLimit(b.maxConcurrent)
	}

	schedule := func(bucket Bucket, results []*entities.SaveResult) {
		for _, batch := range plan.Batches(bucket, b.batchSize) {
			batch := batch
			g.Go(func() error {
				for i, res := range b.saveBatch(ctx, plan.Kind, bucket, batch) {
					results[batch[i].Index] = res
				}
				return nil
			})
		}
	}
	schedule(entities.OperationCreate, inserts)
	schedule(entities.OperationUpdate, updates)
	_ = g.Wait()

	outcomes := make([]*Outcome, 0, plan.Len())
	for _, c := range plan.ToInsert {
		outcomes = append(outcomes, &Outcome{Candidate: c, Result: inserts[c.Index]})
	}
	for _, c := range plan.ToUpdate {
		outcomes = append(outcomes, &Outcome{Candidate: c, Result: updates[c.Index]})
	}
	return outcomes
}

// saveBatch calls the record service for one batch and always returns one
// result per candidate
func (b *Batcher) saveBatch(ctx context.Context, kind entities.Kind, bucket Bucket, batch []*Candidate) []*entities.SaveResult {
	records := make([]*entities.PermissionRecord, len(batch))
	for i, c := range batch {
		records[i] = c.Record.Clone()
	}

	results, err := b.call(ctx, kind, bucket, records)
	if err != nil {
		b.logger.Warn("save batch failed",
			slog.String("kind", string(kind)),
			slog.String("operation", string(bucket)),
			slog.Int("batch", batch[0].Batch),
			slog.Int("records", len(batch)),
			slog.Any("error", err))
		return failAll(len(batch))
	}

	if len(results) != len(batch) {
		b.logger.Warn("save batch returned unexpected result count",
			slog.String("kind", string(kind)),
			slog.String("operation", string(bucket)),
			slog.Int("batch", batch[0].Batch),
			slog.Int("want", len(batch)),
			slog.Int("got", len(results)))
	}

	out := make([]*entities.SaveResult, len(batch))
	for i := range batch {
		if i < len(results) && results[i] != nil {
			out[i] = results[i]
		} else {
			out[i] = entities.Failed(entities.StatusUnknownException, GenericSaveErrorMessage)
		}
	}
	return out
}

func (b *Batcher) call(ctx context.Context, kind entities.Kind, bucket Bucket, records []*entities.PermissionRecord) ([]*entities.SaveResult, error) {
	if kind == entities.KindRecordType {
		if b.deployer == nil {
			return nil, fmt.Errorf("no record type deployer configured")
		}
		return b.deployer.Deploy(ctx, records)
	}
	if b.records == nil {
		return nil, fmt.Errorf("no record service configured")
	}
	return b.records.Save(ctx, bucket, kind, records)
}

func failAll(n int) []*entities.SaveResult {
	out := make([]*entities.SaveResult, n)
	for i := range out {
		out[i] = entities.Failed(entities.StatusUnknownException, GenericSaveErrorMessage)
	}
	return out
}

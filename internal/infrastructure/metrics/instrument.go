package metrics

import (
	"context"
	"time"

	"github.com/asakaida/permatrix/internal/entities"
	"github.com/asakaida/permatrix/internal/repositories"
)

// InstrumentRecordService wraps a record service so that every Fetch and Save
// call is counted and timed by the collector.
func InstrumentRecordService(next repositories.RecordService, collector *Collector) repositories.RecordService {
	return &instrumentedRecordService{next: next, collector: collector}
}

// InstrumentDeployer wraps a record type deployer the same way.
func InstrumentDeployer(next repositories.RecordTypeDeployer, collector *Collector) repositories.RecordTypeDeployer {
	return &instrumentedDeployer{next: next, collector: collector}
}

type instrumentedRecordService struct {
	next      repositories.RecordService
	collector *Collector
}

func (s *instrumentedRecordService) Fetch(ctx context.Context, filter *repositories.RecordFilter) ([]*entities.PermissionRecord, error) {
	method := "Fetch"
	if filter != nil {
		method += "/" + string(filter.Kind)
	}

	var records []*entities.PermissionRecord
	err := observe(s.collector, method, func() error {
		var err error
		records, err = s.next.Fetch(ctx, filter)
		return err
	})
	return records, err
}

func (s *instrumentedRecordService) Save(ctx context.Context, op entities.Operation, kind entities.Kind, records []*entities.PermissionRecord) ([]*entities.SaveResult, error) {
	var results []*entities.SaveResult
	err := observe(s.collector, "Save/"+string(kind)+"/"+string(op), func() error {
		var err error
		results, err = s.next.Save(ctx, op, kind, records)
		return err
	})
	return results, err
}

type instrumentedDeployer struct {
	next      repositories.RecordTypeDeployer
	collector *Collector
}

func (d *instrumentedDeployer) Deploy(ctx context.Context, records []*entities.PermissionRecord) ([]*entities.SaveResult, error) {
	var results []*entities.SaveResult
	err := observe(d.collector, "Deploy/"+string(entities.KindRecordType)+"/upsert", func() error {
		var err error
		results, err = d.next.Deploy(ctx, records)
		return err
	})
	return results, err
}

// observe records the request, its duration and a whole-call error
func observe(collector *Collector, method string, call func() error) error {
	start := time.Now()
	collector.RecordRequest(method)

	err := call()

	collector.RecordDuration(method, time.Since(start).Seconds())
	if err != nil {
		collector.RecordError(method)
	}
	return err
}

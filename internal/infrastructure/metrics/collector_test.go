package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/asakaida/permatrix/internal/entities"
	"github.com/asakaida/permatrix/internal/services/matrix"
	"github.com/asakaida/permatrix/pkg/cache/memorycache"
	"github.com/prometheus/client_golang/prometheus"
)

func TestCollector_SaveOutcomes(t *testing.T) {
	collector := NewCollector()

	collector.RecordSaveOutcome(entities.KindObject, &matrix.KindReport{Inserted: 3, Updated: 1})
	collector.RecordSaveOutcome(entities.KindObject, &matrix.KindReport{Inserted: 1, Failed: 2})
	collector.RecordSaveOutcome(entities.KindField, &matrix.KindReport{Deleted: 4})
	collector.RecordSaveOutcome(entities.KindField, nil)
	collector.RecordSaveDuration(1.5)
	collector.RecordSaveDuration(0.5)

	got := collector.GetSaveMetrics()
	if got.Saves != 2 || got.TotalDurationSeconds != 2.0 {
		t.Errorf("saves = %d (%.1fs), want 2 (2.0s)", got.Saves, got.TotalDurationSeconds)
	}

	tests := []struct {
		kind    entities.Kind
		outcome string
		want    uint64
	}{
		{entities.KindObject, OutcomeInserted, 4},
		{entities.KindObject, OutcomeUpdated, 1},
		{entities.KindObject, OutcomeFailed, 2},
		{entities.KindObject, OutcomeDeleted, 0},
		{entities.KindField, OutcomeDeleted, 4},
	}
	for _, tt := range tests {
		if n := got.Records[tt.kind][tt.outcome]; n != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.kind, tt.outcome, n, tt.want)
		}
	}
}

func TestCollector_CacheMetrics(t *testing.T) {
	collector := NewCollector()
	if m := collector.GetCacheMetrics(); m.Hits != 0 || m.KeysCurrent != 0 {
		t.Errorf("expected empty metrics without a cache, got %+v", m)
	}

	c, err := memorycache.New(&memorycache.Config{MaxSizeBytes: 1 << 20, DefaultTTL: time.Minute, EnableMetrics: true})
	if err != nil {
		t.Fatal(err)
	}
	collector.SetCache(c)

	ctx := context.Background()
	_ = c.Set(ctx, "entity|ObjectPermissions|Account", "Account", 0)
	c.Get(ctx, "entity|ObjectPermissions|Account")
	c.Get(ctx, "entity|ObjectPermissions|Contact")

	m := collector.GetCacheMetrics()
	if m.Hits != 1 || m.Misses != 1 || m.HitRate != 0.5 {
		t.Errorf("unexpected cache metrics %+v", m)
	}
	if m.KeysCurrent != 1 || m.MemoryBytes <= 0 {
		t.Errorf("expected one key with a size, got %+v", m)
	}
}

func TestPrometheusExporter(t *testing.T) {
	collector := NewCollector()
	reg := prometheus.NewRegistry()
	exporter := NewPrometheusExporter(collector, reg)
	collector.SetExporter(exporter)

	collector.RecordRequest("Save/FieldPermissions/create")
	collector.RecordError("Save/FieldPermissions/create")
	collector.RecordDuration("Save/FieldPermissions/create", 0.2)
	collector.RecordSaveOutcome(entities.KindField, &matrix.KindReport{Inserted: 2, Failed: 1})
	collector.RecordSaveDuration(3)
	exporter.Update()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "," + lp.GetName() + "=" + lp.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				values[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				values[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}

	tests := []struct {
		key  string
		want float64
	}{
		{"permatrix_record_service_calls_total,kind=FieldPermissions,method=Save,operation=create", 1},
		{"permatrix_record_service_errors_total,kind=FieldPermissions,method=Save,operation=create", 1},
		{"permatrix_record_service_call_duration_seconds,kind=FieldPermissions,method=Save,operation=create", 1},
		{"permatrix_saved_records_total,kind=FieldPermissions,outcome=inserted", 2},
		{"permatrix_saved_records_total,kind=FieldPermissions,outcome=failed", 1},
		{"permatrix_save_duration_seconds", 1},
		{"permatrix_catalog_cache_hits_total", 0},
		{"permatrix_catalog_cache_hit_rate", 0},
	}
	for _, tt := range tests {
		got, ok := values[tt.key]
		if !ok {
			t.Errorf("metric %s not exported", tt.key)
			continue
		}
		if got != tt.want {
			t.Errorf("%s = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestMethodLabels(t *testing.T) {
	tests := []struct {
		method string
		want   []string
	}{
		{"Save/ObjectPermissions/update", []string{"Save", "ObjectPermissions", "update"}},
		{"Fetch/FieldPermissions", []string{"Fetch", "FieldPermissions", ""}},
		{"Touch", []string{"Touch", "", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got := methodLabels(tt.method)
			if len(got) != 3 || got[0] != tt.want[0] || got[1] != tt.want[1] || got[2] != tt.want[2] {
				t.Errorf("methodLabels(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

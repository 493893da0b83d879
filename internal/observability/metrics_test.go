package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_CustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetrics("test", reg)

	m.SwapsExtracted.Add(3)
	m.CacheRequests.WithLabelValues("hit").Inc()

	if got := testutil.ToFloat64(m.SwapsExtracted); got != 3 {
		t.Errorf("SwapsExtracted = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.CacheRequests.WithLabelValues("hit")); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}

	n, err := testutil.GatherAndCount(reg, "test_etl_swaps_extracted_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 series, got %d", n)
	}
}

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.SwapsLoaded)
	RecordLoad(5, 2, 1700000000)
	if got := testutil.ToFloat64(DefaultMetrics.SwapsLoaded) - before; got != 5 {
		t.Errorf("SwapsLoaded delta = %v, want 5", got)
	}
	if got := testutil.ToFloat64(DefaultMetrics.LastSuccessfulLoad); got != 1700000000 {
		t.Errorf("LastSuccessfulLoad = %v", got)
	}

	rolled := testutil.ToFloat64(DefaultMetrics.SwapsRolledBack)
	RecordRollback(4)
	if got := testutil.ToFloat64(DefaultMetrics.SwapsRolledBack) - rolled; got != 4 {
		t.Errorf("SwapsRolledBack delta = %v, want 4", got)
	}

	RecordCache(false)
	if got := testutil.ToFloat64(DefaultMetrics.CacheRequests.WithLabelValues("miss")); got < 1 {
		t.Errorf("cache misses = %v, want >= 1", got)
	}
}

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_RecordCut(t *testing.T) {
	c := NewCollector("")

	c.RecordCut("d1", 3, 2*time.Millisecond)
	c.RecordCut("d1", 1, time.Millisecond)
	c.RecordCutError("d1", "duplicate_route", time.Millisecond)

	if got := testutil.ToFloat64(c.cutsTotal.WithLabelValues("d1", ResultSuccess)); got != 2 {
		t.Errorf("successful cuts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.cutsTotal.WithLabelValues("d1", ResultFailure)); got != 1 {
		t.Errorf("failed cuts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.cutErrors.WithLabelValues("d1", "duplicate_route")); got != 1 {
		t.Errorf("duplicate_route errors = %v, want 1", got)
	}
}

func TestCollector_DispatchAndRegistry(t *testing.T) {
	c := NewCollector("test")

	c.RecordDispatch("d1", true, time.Microsecond)
	c.RecordDispatch("d1", false, time.Microsecond)
	c.SetRegistrySize("d1", 7, 2)

	if got := testutil.ToFloat64(c.dispatchTotal.WithLabelValues("d1", ResultFailure)); got != 1 {
		t.Errorf("failed dispatches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.routes.WithLabelValues("d1")); got != 7 {
		t.Errorf("routes = %v, want 7", got)
	}
	if got := testutil.ToFloat64(c.facets.WithLabelValues("d1")); got != 2 {
		t.Errorf("facets = %v, want 2", got)
	}
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.RecordCut("d", 1, time.Second)
	c.RecordCutError("d", "x", time.Second)
	c.RecordDispatch("d", true, time.Second)
	c.SetRegistrySize("d", 1, 1)
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("diamond")
	c.SetRegistrySize("d1", 4, 1)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), `diamond_registry_routes{diamond="d1"} 4`) {
		t.Errorf("exposition missing routes gauge:\n%s", rec.Body.String())
	}
}

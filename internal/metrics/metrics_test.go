package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register should tolerate duplicates: %v", err)
	}
}

func TestObserveIngest(t *testing.T) {
	beforeErr := testutil.ToFloat64(eventsIngestedTotal.WithLabelValues("error"))
	beforeFail := testutil.ToFloat64(ingestFailuresTotal)

	ObserveIngest(5*time.Millisecond, "error", false)
	ObserveIngest(-time.Second, "", true)

	if got := testutil.ToFloat64(eventsIngestedTotal.WithLabelValues("error")) - beforeErr; got != 1 {
		t.Fatalf("expected one error event counted, got %v", got)
	}
	if got := testutil.ToFloat64(ingestFailuresTotal) - beforeFail; got != 1 {
		t.Fatalf("expected one failure counted, got %v", got)
	}
}

func TestPrometheusRecorder(t *testing.T) {
	var rec Recorder = Prometheus{}
	before := testutil.ToFloat64(correlationsTotal.WithLabelValues("same_request_id"))
	beforeOpened := testutil.ToFloat64(incidentsOpenedTotal.WithLabelValues("high"))
	beforeResolved := testutil.ToFloat64(incidentsResolvedTotal)

	rec.Correlated([]string{"same_request_id", "environment_incident_window"})
	rec.IncidentOpened("high")
	rec.IncidentResolved()

	if got := testutil.ToFloat64(correlationsTotal.WithLabelValues("same_request_id")) - before; got != 1 {
		t.Fatalf("expected correlation counted once per rule, got %v", got)
	}
	if got := testutil.ToFloat64(incidentsOpenedTotal.WithLabelValues("high")) - beforeOpened; got != 1 {
		t.Fatalf("expected opened counter increment, got %v", got)
	}
	if got := testutil.ToFloat64(incidentsResolvedTotal) - beforeResolved; got != 1 {
		t.Fatalf("expected resolved counter increment, got %v", got)
	}
}

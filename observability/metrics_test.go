package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestModuleMetricsObserve(t *testing.T) {
	m := ModuleMetrics()
	before := testutil.ToFloat64(m.errors.WithLabelValues("bounty", "create", "-32022"))
	m.Observe("bounty", "create", 0, time.Millisecond)
	m.Observe("bounty", "create", -32022, time.Millisecond)
	if got := testutil.ToFloat64(m.errors.WithLabelValues("bounty", "create", "-32022")); got != before+1 {
		t.Fatalf("expected one error recorded, got %v", got-before)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("bounty", "create", "success")); got < 1 {
		t.Fatalf("expected success recorded, got %v", got)
	}
}

func TestRecordDenialDefaultsLabels(t *testing.T) {
	m := ModuleMetrics()
	before := testutil.ToFloat64(m.denials.WithLabelValues("unknown", "unspecified"))
	m.RecordDenial("", "")
	if got := testutil.ToFloat64(m.denials.WithLabelValues("unknown", "unspecified")); got != before+1 {
		t.Fatalf("expected denial recorded under default labels")
	}
	var nilMetrics *moduleMetrics
	nilMetrics.RecordDenial("bounty_create", "signature")
}

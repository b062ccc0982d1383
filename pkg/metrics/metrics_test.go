package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustNew_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNew(reg)
	second := MustNew(reg)

	first.IncReconcile("grant", "applied")
	second.IncReconcile("grant", "applied")

	if got := testutil.ToFloat64(first.reconciles.WithLabelValues("grant", "applied")); got != 2 {
		t.Fatalf("shared counter = %v, want 2", got)
	}
}

func TestObserveSetup(t *testing.T) {
	m := MustNew(prometheus.NewRegistry())
	m.ObserveSetup("completed", 30*time.Millisecond)
	m.ObserveSetup("failed", time.Millisecond)
	m.ObserveSetup("completed", time.Millisecond)

	if got := testutil.ToFloat64(m.setups.WithLabelValues("completed")); got != 2 {
		t.Fatalf("completed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.setups.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveSetup("completed", time.Second)
	m.IncReconcile("grant", "applied")
	m.IncAutoRole("applied")
	m.AddSwept(3)
	m.IncRollbackResidue()
	m.SetQueueDepth("0", 1)
	m.IncRejected()
}

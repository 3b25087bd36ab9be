package resource

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountsLifecycle(t *testing.T) {
	promReg := prometheus.NewRegistry()
	m, err := NewMetrics(promReg)
	if err != nil {
		t.Fatalf("NewMetrics() = %v", err)
	}

	reg, clock := newTestRegistry(m)
	var cancels int32mu
	f := idleFactory[[]string](&cancels)

	ok := mustCreate(reg, CreateOptions{Type: "MBUS"}, f)
	clock.Advance(2 * time.Second)
	_ = ok.Complete(nil)

	bad := mustCreate(reg, CreateOptions{Type: "MBUS"}, f)
	_ = bad.Fail(errors.New("x"))

	if got := testutil.ToFloat64(m.created.WithLabelValues("MBUS")); got != 2 {
		t.Errorf("created = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.finished.WithLabelValues("MBUS", "SUCCESS")); got != 1 {
		t.Errorf("finished SUCCESS = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.finished.WithLabelValues("MBUS", "ERROR")); got != 1 {
		t.Errorf("finished ERROR = %v, want 1", got)
	}
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	promReg := prometheus.NewRegistry()
	if _, err := NewMetrics(promReg); err != nil {
		t.Fatalf("NewMetrics() = %v", err)
	}
	if _, err := NewMetrics(promReg); err == nil {
		t.Error("second NewMetrics() on the same registry should fail")
	}
}

func TestRegistryCollector(t *testing.T) {
	reg, _ := newTestRegistry(nil)
	var cancels int32mu
	mustCreate(reg, CreateOptions{Type: "MBUS"}, idleFactory[[]string](&cancels))

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(NewRegistryCollector(reg))

	expected := `
# HELP graylogic_mbus_resources Temporary resources currently held, by status.
# TYPE graylogic_mbus_resources gauge
graylogic_mbus_resources{status="CANCELLED"} 0
graylogic_mbus_resources{status="ERROR"} 0
graylogic_mbus_resources{status="RUNNING"} 1
graylogic_mbus_resources{status="SUCCESS"} 0
graylogic_mbus_resources{status="TIMED_OUT"} 0
`
	if err := testutil.GatherAndCompare(promReg, strings.NewReader(expected), "graylogic_mbus_resources"); err != nil {
		t.Error(err)
	}
}

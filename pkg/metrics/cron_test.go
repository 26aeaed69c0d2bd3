package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCronJobMetricsRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)

	m.ObserveDuration("expiry-sweep", 250*time.Millisecond)
	m.IncSuccess("expiry-sweep")
	m.IncFailure("expiry-sweep")
	m.AddExpiredBookings(3)

	if got := testutil.ToFloat64(m.success.WithLabelValues("expiry-sweep")); got != 1 {
		t.Fatalf("expected success counter 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.failure.WithLabelValues("expiry-sweep")); got != 1 {
		t.Fatalf("expected failure counter 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.expired); got != 3 {
		t.Fatalf("expected expired counter 3, got %v", got)
	}
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var m *CronJobMetrics
	m.ObserveDuration("x", time.Second)
	m.IncSuccess("x")
	m.IncFailure("x")
	m.AddExpiredBookings(1)

	empty := NewCronJobMetrics(nil)
	empty.IncSuccess("unregistered")
	empty.AddExpiredBookings(2)
}

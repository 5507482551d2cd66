package core

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestExpvarRecorderAggregates(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	ctx := context.Background()

	rec.Observe(ctx, "acquire_lock", true, 10*time.Millisecond)
	rec.Observe(ctx, "acquire_lock", true, 5*time.Millisecond)
	rec.Observe(ctx, "acquire_lock", false, time.Millisecond)
	rec.Observe(ctx, "", true, time.Second) // ignored
	rec.SetActiveLocks(3)

	snap := rec.Snapshot()
	if snap.DurationsMS["acquire_lock"] != 16 {
		t.Fatalf("durations = %v", snap.DurationsMS)
	}
	if snap.Results["acquire_lock"]["success"] != 2 || snap.Results["acquire_lock"]["error"] != 1 {
		t.Fatalf("results = %v", snap.Results)
	}
	if snap.ActiveLocks != 3 {
		t.Fatalf("active locks = %d", snap.ActiveLocks)
	}
	if rec.Name() == "" {
		t.Fatalf("generated name missing")
	}
}

func TestPrometheusRecorderRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	rec.Observe(context.Background(), "save_record", true, 2*time.Millisecond)
	rec.Observe(context.Background(), "save_record", false, time.Millisecond)
	rec.SetActiveLocks(1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"facilitycore_operation_duration_seconds",
		"facilitycore_operation_results_total",
		"facilitycore_active_locks",
	} {
		if !names[want] {
			t.Fatalf("metric %s not gathered; got %v", want, names)
		}
	}

	// Re-registering on the same registry must surface the conflict.
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestServiceReportsMetrics(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	rec := NewExpvarMetricsRecorder("")
	svc.SetMetricsRecorder(rec)

	ctx := context.Background()
	if _, err := svc.AcquireLock(ctx, "c", "sato", "s1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := svc.SaveRecord(ctx, "c", "sato", map[string]string{"a": "1"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	snap := rec.Snapshot()
	if snap.Results["acquire_lock"]["success"] != 1 {
		t.Fatalf("acquire not observed: %v", snap.Results)
	}
	if snap.Results["save_record"]["success"] != 1 {
		t.Fatalf("save not observed: %v", snap.Results)
	}
	if snap.ActiveLocks != 1 {
		t.Fatalf("gauge = %d", snap.ActiveLocks)
	}
}

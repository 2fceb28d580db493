package core

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("NewPrometheusMetricsRecorder: %v", err)
	}

	rec.Observe(context.Background(), "create_requirement", true, 15*time.Millisecond)
	rec.Observe(context.Background(), "create_requirement", false, 5*time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	byName := make(map[string]bool, len(families))
	for _, family := range families {
		byName[family.GetName()] = true
	}
	if !byName["reqcore_service_operation_duration_seconds"] {
		t.Fatalf("duration histogram missing, families: %v", byName)
	}
	if !byName["reqcore_service_operation_results_total"] {
		t.Fatalf("result counter missing, families: %v", byName)
	}

	for _, family := range families {
		if family.GetName() != "reqcore_service_operation_results_total" {
			continue
		}
		var total float64
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		if total != 2 {
			t.Fatalf("expected 2 counted outcomes, got %v", total)
		}
	}

	// Double registration on the same registerer fails cleanly.
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

package observer

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)
	ctx := context.Background()

	rec.ObserveCompile(ctx, "cpp", false, 120, 2048)
	rec.ObserveRun(ctx, "python", "AC", 35, 9000, 1)
	rec.ObserveRun(ctx, "python", "AC", 40, 9100, 1)
	rec.ObserveRun(ctx, "python", "TLE", 10000, 0, 0)
	rec.ObserveEvaluation(ctx, "python", "TLE")
	rec.InflightAdd(2)
	rec.InflightAdd(-1)

	if got := testutil.ToFloat64(rec.compileTotal.WithLabelValues("cpp", "false")); got != 1 {
		t.Fatalf("compile total = %v", got)
	}
	if got := testutil.ToFloat64(rec.runTotal.WithLabelValues("python", "AC")); got != 2 {
		t.Fatalf("run total AC = %v", got)
	}
	if got := testutil.ToFloat64(rec.evaluationsTotal.WithLabelValues("python", "TLE")); got != 1 {
		t.Fatalf("evaluations total = %v", got)
	}
	if got := testutil.ToFloat64(rec.inflight); got != 1 {
		t.Fatalf("inflight = %v", got)
	}
	if n := testutil.CollectAndCount(rec.runDuration); n != 1 {
		t.Fatalf("expected one duration series, got %d", n)
	}
}

func TestNoopRecorderSatisfiesInterface(t *testing.T) {
	var rec MetricsRecorder = NoopMetricsRecorder{}
	rec.ObserveCompile(context.Background(), "c", true, 0, 0)
	rec.InflightAdd(1)
}

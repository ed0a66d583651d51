// Package observer defines logging and metrics hooks for sandbox execution.
package observer

import "context"

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryKB int64)
	ObserveRun(ctx context.Context, languageID string, verdict string, timeMs int64, memoryKB int64, outputKB int64)
	ObserveEvaluation(ctx context.Context, languageID string, verdict string)
	// InflightAdd moves the number of evaluations currently holding an execution slot.
	InflightAdd(delta int)
}

// NoopMetricsRecorder discards every observation.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryKB int64) {
}

func (NoopMetricsRecorder) ObserveRun(ctx context.Context, languageID string, verdict string, timeMs int64, memoryKB int64, outputKB int64) {
}

func (NoopMetricsRecorder) ObserveEvaluation(ctx context.Context, languageID string, verdict string) {}

func (NoopMetricsRecorder) InflightAdd(delta int) {}

package observer

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder exports sandbox metrics through a prometheus registerer.
type PrometheusRecorder struct {
	compileTotal     *prometheus.CounterVec
	runTotal         *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	runMemory        *prometheus.HistogramVec
	evaluationsTotal *prometheus.CounterVec
	inflight         prometheus.Gauge
}

// NewPrometheusRecorder registers the judge metrics on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		compileTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "judge_compile_total",
				Help: "Total number of compile steps",
			},
			[]string{"language", "ok"},
		),
		runTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "judge_run_total",
				Help: "Total number of test case runs by verdict",
			},
			[]string{"language", "verdict"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "judge_run_duration_ms",
				Help:    "Run step CPU time in milliseconds",
				Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"language"},
		),
		runMemory: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "judge_run_memory_kb",
				Help:    "Peak memory per run step in KB",
				Buckets: []float64{1024, 4096, 16384, 65536, 131072, 262144},
			},
			[]string{"language"},
		),
		evaluationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "judge_evaluations_total",
				Help: "Total number of finished evaluations by verdict",
			},
			[]string{"language", "verdict"},
		),
		inflight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "judge_inflight",
				Help: "Evaluations currently holding an execution slot",
			},
		),
	}
}

func (p *PrometheusRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryKB int64) {
	p.compileTotal.WithLabelValues(languageID, strconv.FormatBool(ok)).Inc()
}

func (p *PrometheusRecorder) ObserveRun(ctx context.Context, languageID string, verdict string, timeMs int64, memoryKB int64, outputKB int64) {
	p.runTotal.WithLabelValues(languageID, verdict).Inc()
	p.runDuration.WithLabelValues(languageID).Observe(float64(timeMs))
	if memoryKB > 0 {
		p.runMemory.WithLabelValues(languageID).Observe(float64(memoryKB))
	}
}

func (p *PrometheusRecorder) ObserveEvaluation(ctx context.Context, languageID string, verdict string) {
	p.evaluationsTotal.WithLabelValues(languageID, verdict).Inc()
}

func (p *PrometheusRecorder) InflightAdd(delta int) {
	p.inflight.Add(float64(delta))
}

// Package metrics exposes Prometheus instrumentation for the analysis
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/naia-systems/naia-stack/internal/models"
)

// Run result label values.
const (
	ResultOK     = "ok"
	ResultError  = "error"
	ResultLocked = "locked"
)

// StageMetrics tracks per-stage run counts, item outcomes and durations.
type StageMetrics struct {
	runs     *prometheus.CounterVec
	items    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New registers the pipeline metrics on reg and returns the collector set.
func New(reg prometheus.Registerer) *StageMetrics {
	factory := promauto.With(reg)
	return &StageMetrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "naia",
			Subsystem: "analysis",
			Name:      "stage_runs_total",
			Help:      "Stage runs by outcome. A locked run was skipped because another instance held the stage lock.",
		}, []string{"stage", "result"}),
		items: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "naia",
			Subsystem: "analysis",
			Name:      "stage_items_total",
			Help:      "Items handled per stage run, by outcome.",
		}, []string{"stage", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "naia",
			Subsystem: "analysis",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of stage runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stage"}),
	}
}

// ObserveRun records the outcome of one completed stage run.
func (m *StageMetrics) ObserveRun(summary models.RunSummary, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.runs.WithLabelValues(summary.Stage, result).Inc()
	m.duration.WithLabelValues(summary.Stage).Observe(summary.Duration.Seconds())
	m.items.WithLabelValues(summary.Stage, "processed").Add(float64(summary.Processed))
	m.items.WithLabelValues(summary.Stage, "skipped").Add(float64(summary.Skipped))
	m.items.WithLabelValues(summary.Stage, "errors").Add(float64(summary.Errors))
}

// ObserveLockContention records a tick skipped because the stage lock was
// already held.
func (m *StageMetrics) ObserveLockContention(stage string) {
	m.runs.WithLabelValues(stage, ResultLocked).Inc()
}

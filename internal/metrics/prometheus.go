// Package metrics exposes Prometheus instrumentation for the request path and batch jobs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records service metrics. A nil *Recorder is a valid no-op.
type Recorder struct {
	results          *prometheus.CounterVec
	tierErrors       *prometheus.CounterVec
	analyzerFailures *prometheus.CounterVec
	analyzerLatency  *prometheus.HistogramVec
	liveLatency      prometheus.Histogram
	quotaDenials     prometheus.Counter
	refreshDropped   prometheus.Counter
	transitions      *prometheus.CounterVec
	batchErrors      *prometheus.CounterVec
}

// New creates a recorder whose collectors are registered on reg
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		results: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verdict_analysis_results_total",
				Help: "Analysis responses by source tier",
			},
			[]string{"source"},
		),
		tierErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verdict_tier_errors_total",
				Help: "Cache or persistent tier failures that caused a fall-through",
			},
			[]string{"tier"},
		),
		analyzerFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verdict_analyzer_failures_total",
				Help: "Analyzer calls replaced by a neutral substitute",
			},
			[]string{"component", "reason"},
		),
		analyzerLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verdict_analyzer_duration_seconds",
				Help:    "Duration of individual analyzer calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"component"},
		),
		liveLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "verdict_live_compute_duration_seconds",
				Help:    "Duration of synchronous live computations in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
		),
		quotaDenials: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "verdict_quota_denials_total",
				Help: "Live computations denied by the daily quota",
			},
		),
		refreshDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "verdict_refresh_dropped_total",
				Help: "Background refresh requests dropped because the queue was full",
			},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verdict_tier_transitions_total",
				Help: "Classification tier transitions",
			},
			[]string{"from", "to"},
		),
		batchErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verdict_classification_item_errors_total",
				Help: "Per-symbol failures inside classification batches",
			},
			[]string{"batch"},
		),
	}
}

// RecordResult counts one analysis response by source
func (r *Recorder) RecordResult(source string) {
	if r == nil {
		return
	}
	r.results.WithLabelValues(source).Inc()
}

// RecordTierError counts a tier failure
func (r *Recorder) RecordTierError(tier string) {
	if r == nil {
		return
	}
	r.tierErrors.WithLabelValues(tier).Inc()
}

// RecordAnalyzerFailure counts a neutral substitution
func (r *Recorder) RecordAnalyzerFailure(component, reason string) {
	if r == nil {
		return
	}
	r.analyzerFailures.WithLabelValues(component, reason).Inc()
}

// RecordAnalyzerLatency records analyzer call latency in seconds
func (r *Recorder) RecordAnalyzerLatency(component string, seconds float64) {
	if r == nil {
		return
	}
	r.analyzerLatency.WithLabelValues(component).Observe(seconds)
}

// RecordLiveCompute records live computation latency in seconds
func (r *Recorder) RecordLiveCompute(seconds float64) {
	if r == nil {
		return
	}
	r.liveLatency.Observe(seconds)
}

// RecordQuotaDenied counts a denied live computation
func (r *Recorder) RecordQuotaDenied() {
	if r == nil {
		return
	}
	r.quotaDenials.Inc()
}

// RecordRefreshDropped counts a dropped refresh request
func (r *Recorder) RecordRefreshDropped() {
	if r == nil {
		return
	}
	r.refreshDropped.Inc()
}

// RecordTransition counts a tier transition
func (r *Recorder) RecordTransition(from, to string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(from, to).Inc()
}

// RecordBatchError counts a per-symbol batch failure
func (r *Recorder) RecordBatchError(batch string) {
	if r == nil {
		return
	}
	r.batchErrors.WithLabelValues(batch).Inc()
}

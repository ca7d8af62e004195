// Package metrics provides Prometheus metrics for the flare-detection
// pipeline: gap filling, windowing, inference and ensemble training.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	// Inference path
	GapsFilled        prometheus.Counter   // Light curves that needed gap filling
	SamplesInserted   prometheus.Counter   // Synthetic samples inserted into gaps
	WindowsBuilt      prometheus.Counter   // Fixed-width windows produced
	Predictions       prometheus.Counter   // Per-window predictions returned
	PredictionErrors  prometheus.Counter   // Failed prediction calls
	PredictionLatency prometheus.Histogram // End-to-end per-curve prediction latency
	PredictionScores  prometheus.Histogram // Distribution of flare probabilities

	// Training path
	TrainingRuns     prometheus.Counter   // Completed per-seed training runs
	TrainingFailures prometheus.Counter   // Failed per-seed training runs
	TrainingDuration prometheus.Histogram // Per-seed training duration in seconds
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics on a custom registry, which keeps tests
// isolated from the global state.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		GapsFilled: factory.NewCounter(prometheus.CounterOpts{
			Name: "gaps_filled_total",
			Help: "Light curves that required gap filling",
		}),
		SamplesInserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "samples_inserted_total",
			Help: "Synthetic samples inserted into abnormal gaps",
		}),
		WindowsBuilt: factory.NewCounter(prometheus.CounterOpts{
			Name: "windows_built_total",
			Help: "Fixed-width windows produced for inference",
		}),
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Per-window flare predictions returned",
		}),
		PredictionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_errors_total",
			Help: "Failed prediction calls",
		}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_latency_seconds",
			Help:    "End-to-end per-curve prediction latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		PredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_scores",
			Help:    "Distribution of predicted flare probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		TrainingRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "training_runs_total",
			Help: "Completed per-seed training runs",
		}),
		TrainingFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "training_failures_total",
			Help: "Failed per-seed training runs",
		}),
		TrainingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "training_duration_seconds",
			Help:    "Per-seed training duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		}),
	}
}

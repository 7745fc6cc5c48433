// Package metrics provides Prometheus metrics for the fetch fabric.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// MetricsNamespace is the namespace for all fetch metrics.
	MetricsNamespace = "colfetch"

	// MetricsSubsystem is the subsystem for orchestrator metrics.
	MetricsSubsystem = "fetch"
)

// Metrics holds all Prometheus metrics for the fetch orchestrator.
type Metrics struct {
	// FetchesTotal counts completed fetches by source and outcome.
	FetchesTotal *prometheus.CounterVec
	// CacheHitsTotal counts fetches served from the response cache.
	CacheHitsTotal *prometheus.CounterVec
	// CacheErrorsTotal counts swallowed cache backend failures.
	CacheErrorsTotal *prometheus.CounterVec
	// RetriesTotal counts retry attempts by source.
	RetriesTotal *prometheus.CounterVec
	// AdmissionWaitSeconds observes time spent waiting for rate admission.
	AdmissionWaitSeconds *prometheus.HistogramVec
	// FetchDurationSeconds observes end-to-end fetch duration.
	FetchDurationSeconds *prometheus.HistogramVec
	// InFlight tracks fetches currently in the state machine.
	InFlight prometheus.Gauge
}

// New creates and registers all orchestrator metrics. A nil registerer
// falls back to the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		FetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: MetricsNamespace,
				Subsystem: MetricsSubsystem,
				Name:      "fetches_total",
				Help:      "Total number of completed fetches",
			},
			[]string{"source", "outcome"},
		),
		CacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: MetricsNamespace,
				Subsystem: MetricsSubsystem,
				Name:      "cache_hits_total",
				Help:      "Total number of fetches served from cache",
			},
			[]string{"source"},
		),
		CacheErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: MetricsNamespace,
				Subsystem: MetricsSubsystem,
				Name:      "cache_errors_total",
				Help:      "Total number of swallowed cache backend failures",
			},
			[]string{"source", "op"},
		),
		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: MetricsNamespace,
				Subsystem: MetricsSubsystem,
				Name:      "retries_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"source"},
		),
		AdmissionWaitSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: MetricsNamespace,
				Subsystem: MetricsSubsystem,
				Name:      "admission_wait_seconds",
				Help:      "Time spent waiting for rate-limit admission",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"source"},
		),
		FetchDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: MetricsNamespace,
				Subsystem: MetricsSubsystem,
				Name:      "duration_seconds",
				Help:      "End-to-end fetch duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~82s
			},
			[]string{"source"},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: MetricsNamespace,
				Subsystem: MetricsSubsystem,
				Name:      "in_flight",
				Help:      "Fetches currently in flight",
			},
		),
	}
}

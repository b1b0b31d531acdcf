// Package metrics provides Prometheus metrics for the Hardbrücke prediction service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes of an open data query
const (
	OutcomeOK     = "ok"
	OutcomeNoData = "no_data"
	OutcomeError  = "error"
)

// Manager owns the service metrics.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	rowBuckets     []float64
	registry       prometheus.Registerer

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Open data portal
	openDataFetches       *prometheus.CounterVec
	openDataFetchDuration *prometheus.HistogramVec

	// Pipeline
	predictions      *prometheus.CounterVec
	pipelineRows     prometheus.Histogram
	regressorLatency prometheus.Histogram

	// Persistence
	backgroundSaves *prometheus.CounterVec
}

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // shared registry served at /metrics

var globalManager = NewManager(WithPrometheusRegistry(customRegistry)) //nolint:gochecknoglobals

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "hardbruecke",
		subsystem:      "",
		latencyBuckets: prometheus.DefBuckets,
		rowBuckets:     prometheus.ExponentialBuckets(2, 2, 14),
		registry:       prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by route, method and status code",
	}, []string{"route", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   m.latencyBuckets,
	}, []string{"route", "method", "status_code"})

	m.openDataFetches = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "opendata_fetches_total",
		Help:      "Open data portal queries by query kind and outcome",
	}, []string{"query", "outcome"})

	m.openDataFetchDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "opendata_fetch_duration_seconds",
		Help:      "Open data portal query duration in seconds",
		Buckets:   m.latencyBuckets,
	}, []string{"query"})

	m.predictions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "predictions_total",
		Help:      "Served day predictions by final request state and data source",
	}, []string{"state", "source"})

	m.pipelineRows = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "pipeline_rows",
		Help:      "Number of featurized rows per prediction request",
		Buckets:   m.rowBuckets,
	})

	m.regressorLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "regressor_latency_seconds",
		Help:      "Duration of one batched regressor call in seconds",
		Buckets:   m.latencyBuckets,
	})

	m.backgroundSaves = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "background_saves_total",
		Help:      "Background persistence writes by kind and outcome",
	}, []string{"kind", "outcome"})
}

// RecordHTTPRequest counts one request and observes its duration.
func (m *Manager) RecordHTTPRequest(route, method, statusCode string, duration time.Duration) {
	m.httpRequests.WithLabelValues(route, method, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(route, method, statusCode).Observe(duration.Seconds())
}

// RecordOpenDataFetch counts one open data query.
func (m *Manager) RecordOpenDataFetch(query, outcome string, duration time.Duration) {
	m.openDataFetches.WithLabelValues(query, outcome).Inc()
	m.openDataFetchDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// RecordPrediction counts one served day prediction.
func (m *Manager) RecordPrediction(state, source string) {
	m.predictions.WithLabelValues(state, source).Inc()
}

// ObservePipelineRows records the featurized row count of a request.
func (m *Manager) ObservePipelineRows(rows int) {
	m.pipelineRows.Observe(float64(rows))
}

// ObserveRegressorLatency records one regressor call.
func (m *Manager) ObserveRegressorLatency(duration time.Duration) {
	m.regressorLatency.Observe(duration.Seconds())
}

// RecordBackgroundSave counts one background write.
func (m *Manager) RecordBackgroundSave(kind string, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.backgroundSaves.WithLabelValues(kind, outcome).Inc()
}

// Default returns the manager registered on the shared registry.
func Default() *Manager {
	return globalManager
}

func RecordHTTPRequest(route, method, statusCode string, duration time.Duration) {
	globalManager.RecordHTTPRequest(route, method, statusCode, duration)
}

func RecordOpenDataFetch(query, outcome string, duration time.Duration) {
	globalManager.RecordOpenDataFetch(query, outcome, duration)
}

func RecordPrediction(state, source string) {
	globalManager.RecordPrediction(state, source)
}

func ObservePipelineRows(rows int) {
	globalManager.ObservePipelineRows(rows)
}

func ObserveRegressorLatency(duration time.Duration) {
	globalManager.ObserveRegressorLatency(duration)
}

func RecordBackgroundSave(kind string, err error) {
	globalManager.RecordBackgroundSave(kind, err)
}

// GetRegistry returns the registry served at /metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

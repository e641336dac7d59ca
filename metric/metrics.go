// Package metric defines the Prometheus metrics for the pipeline and the
// HTTP surface that exposes them.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics contains all pipeline metrics.
type Metrics struct {
	ReadingsReceived  *prometheus.CounterVec
	ReadingsProcessed *prometheus.CounterVec
	ProcessingErrors  *prometheus.CounterVec
	AnomaliesDetected *prometheus.CounterVec

	ProcessingDuration *prometheus.HistogramVec
	FlushDuration      prometheus.Histogram

	RecordsWritten prometheus.Counter
	RecordsDropped prometheus.Counter
	WriteBufferLen prometheus.Gauge

	WindowCount     prometheus.Gauge
	SourceConnected prometheus.Gauge
	PipelineState   prometheus.Gauge
}

// NewMetrics creates all pipeline metrics under the wellstream namespace.
func NewMetrics() *Metrics {
	return &Metrics{
		ReadingsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wellstream",
				Subsystem: "readings",
				Name:      "received_total",
				Help:      "Total readings received from the source",
			},
			[]string{"sensor_type"},
		),

		ReadingsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wellstream",
				Subsystem: "readings",
				Name:      "processed_total",
				Help:      "Total readings fully processed",
			},
			[]string{"sensor_type"},
		),

		ProcessingErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wellstream",
				Subsystem: "readings",
				Name:      "errors_total",
				Help:      "Total readings that failed processing",
			},
			[]string{"sensor_type", "class"},
		),

		AnomaliesDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wellstream",
				Subsystem: "readings",
				Name:      "anomalies_total",
				Help:      "Total readings flagged as anomalous",
			},
			[]string{"sensor_type"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wellstream",
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Per-reading processing duration",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			},
			[]string{"stage"},
		),

		FlushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "wellstream",
				Subsystem: "writer",
				Name:      "flush_duration_seconds",
				Help:      "Bulk insert duration including retries",
				Buckets:   prometheus.DefBuckets,
			},
		),

		RecordsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "wellstream",
				Subsystem: "writer",
				Name:      "records_written_total",
				Help:      "Total records persisted to storage",
			},
		),

		RecordsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "wellstream",
				Subsystem: "writer",
				Name:      "records_dropped_total",
				Help:      "Total records dropped after retry exhaustion",
			},
		),

		WriteBufferLen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "wellstream",
				Subsystem: "writer",
				Name:      "buffer_size",
				Help:      "Records currently buffered for write",
			},
		),

		WindowCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "wellstream",
				Subsystem: "windows",
				Name:      "active",
				Help:      "Distinct (well, sensor type) windows in memory",
			},
		),

		SourceConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "wellstream",
				Subsystem: "source",
				Name:      "connected",
				Help:      "Source broker connection state (1=connected)",
			},
		),

		PipelineState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "wellstream",
				Subsystem: "pipeline",
				Name:      "state",
				Help:      "Pipeline lifecycle state (0=stopped, 1=running, 2=paused)",
			},
		),
	}
}

// collectors returns every metric for registration.
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ReadingsReceived,
		m.ReadingsProcessed,
		m.ProcessingErrors,
		m.AnomaliesDetected,
		m.ProcessingDuration,
		m.FlushDuration,
		m.RecordsWritten,
		m.RecordsDropped,
		m.WriteBufferLen,
		m.WindowCount,
		m.SourceConnected,
		m.PipelineState,
	}
}

// Registry couples the pipeline metrics with their Prometheus registry.
type Registry struct {
	registry *prometheus.Registry
	Metrics  *Metrics
}

// NewRegistry creates a registry with the pipeline metrics and Go runtime
// collectors pre-registered.
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics()

	registry.MustRegister(metrics.collectors()...)
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Registry{
		registry: registry,
		Metrics:  metrics,
	}
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}

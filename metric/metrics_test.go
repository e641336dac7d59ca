package metric

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_AllMetricsRegistered(t *testing.T) {
	reg := NewRegistry()
	m := reg.Metrics

	m.ReadingsReceived.WithLabelValues("motor_temperature").Inc()
	m.ReadingsProcessed.WithLabelValues("motor_temperature").Inc()
	m.ProcessingErrors.WithLabelValues("motor_temperature", "invalid").Inc()
	m.AnomaliesDetected.WithLabelValues("motor_temperature").Inc()
	m.ProcessingDuration.WithLabelValues("process").Observe(0.002)
	m.FlushDuration.Observe(0.1)
	m.RecordsWritten.Add(100)
	m.RecordsDropped.Add(3)
	m.WriteBufferLen.Set(42)
	m.WindowCount.Set(7)
	m.SourceConnected.Set(1)
	m.PipelineState.Set(1)

	families, err := reg.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, want := range []string{
		"wellstream_readings_received_total",
		"wellstream_readings_processed_total",
		"wellstream_readings_errors_total",
		"wellstream_readings_anomalies_total",
		"wellstream_processing_duration_seconds",
		"wellstream_writer_flush_duration_seconds",
		"wellstream_writer_records_written_total",
		"wellstream_writer_records_dropped_total",
		"wellstream_writer_buffer_size",
		"wellstream_windows_active",
		"wellstream_source_connected",
		"wellstream_pipeline_state",
	} {
		assert.True(t, names[want], "missing metric family %s", want)
	}
}

func TestRegistry_ServesOverHTTP(t *testing.T) {
	reg := NewRegistry()
	reg.Metrics.RecordsWritten.Add(5)

	handler := promhttp.HandlerFor(reg.PrometheusRegistry(), promhttp.HandlerOpts{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wellstream_writer_records_written_total 5")
}

package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sigstreams/errors"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry)
	require.NotNil(t, registry.PrometheusRegistry())
	require.NotNil(t, registry.CoreMetrics())
}

func TestCoreMetricsRecording(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordConnect("det", true)
	core.RecordConnect("det", true)
	core.RecordConnect("det", false)
	assert.Equal(t, 2.0, testutil.ToFloat64(core.DeviceConnects.WithLabelValues("det", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.DeviceConnects.WithLabelValues("det", "error")))

	core.RecordDetectorState("det", 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(core.DetectorState.WithLabelValues("det")))

	core.RecordCollectionsWritten("det", "primary", 12)
	assert.Equal(t, 12.0, testutil.ToFloat64(core.CollectionsWritten.WithLabelValues("det", "primary")))

	core.RecordNotification("det", "primary")
	core.RecordNotification("det", "primary")
	assert.Equal(t, 2.0, testutil.ToFloat64(core.NotificationsEmitted.WithLabelValues("det", "primary")))

	core.RecordDocumentPublished("det", "stream_datum")
	assert.Equal(t, 1.0, testutil.ToFloat64(core.DocumentsPublished.WithLabelValues("det", "stream_datum")))

	core.RecordError("det", "timeout")
	assert.Equal(t, 1.0, testutil.ToFloat64(core.ErrorsTotal.WithLabelValues("det", "timeout")))

	core.RecordNATSStatus(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSConnected))

	core.RecordFlushDuration("det", 25*time.Millisecond)
	core.RecordConnectDuration("det", 10*time.Millisecond)
}

func TestRegisterDeviceMetric(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sigstreams",
		Subsystem: "sim",
		Name:      "frames_total",
		Help:      "Frames produced by the simulated detector",
	})
	require.NoError(t, registry.RegisterCounter("sim-det", "frames_total", counter))

	// Same key again is a configuration error.
	err := registry.RegisterCounter("sim-det", "frames_total", counter)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))

	assert.True(t, registry.Unregister("sim-det", "frames_total"))
	assert.False(t, registry.Unregister("sim-det", "frames_total"))

	// After unregistering, the key is free again.
	require.NoError(t, registry.RegisterCounter("sim-det", "frames_total", counter))
}

func TestRegisterGaugeAndHistogram(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sigstreams", Subsystem: "sim", Name: "exposure_seconds",
		Help: "Configured exposure time",
	})
	require.NoError(t, registry.RegisterGauge("sim-det", "exposure_seconds", gauge))

	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sigstreams", Subsystem: "sim", Name: "frame_interval_seconds",
		Help:    "Interval between simulated frames",
		Buckets: prometheus.DefBuckets,
	})
	require.NoError(t, registry.RegisterHistogram("sim-det", "frame_interval_seconds", hist))
}

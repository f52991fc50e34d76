package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not detector-specific)
type Metrics struct {
	// Device metrics
	DeviceConnects     *prometheus.CounterVec
	ConnectDuration    *prometheus.HistogramVec
	SignalPuts         *prometheus.CounterVec
	ObserveSubscribers *prometheus.GaugeVec

	// Acquisition metrics
	DetectorState        *prometheus.GaugeVec
	TriggersTotal        *prometheus.CounterVec
	CollectionsWritten   *prometheus.GaugeVec
	NotificationsEmitted *prometheus.CounterVec
	FlushDuration        *prometheus.HistogramVec
	DocumentsPublished   *prometheus.CounterVec
	ErrorsTotal          *prometheus.CounterVec

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		DeviceConnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sigstreams",
				Subsystem: "device",
				Name:      "connects_total",
				Help:      "Total number of device connect attempts",
			},
			[]string{"device", "status"},
		),

		ConnectDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sigstreams",
				Subsystem: "device",
				Name:      "connect_duration_seconds",
				Help:      "Device connect duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"device"},
		),

		SignalPuts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sigstreams",
				Subsystem: "signal",
				Name:      "puts_total",
				Help:      "Total number of signal writes",
			},
			[]string{"signal", "status"},
		),

		ObserveSubscribers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sigstreams",
				Subsystem: "signal",
				Name:      "observe_subscribers",
				Help:      "Number of active observe subscriptions",
			},
			[]string{"signal"},
		),

		DetectorState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sigstreams",
				Subsystem: "detector",
				Name:      "state",
				Help:      "Detector state (0=idle, 1=staged, 2=prepared, 3=armed, 4=acquiring, 5=disarmed)",
			},
			[]string{"detector"},
		),

		TriggersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sigstreams",
				Subsystem: "detector",
				Name:      "triggers_total",
				Help:      "Total number of software triggers fired",
			},
			[]string{"detector", "status"},
		),

		CollectionsWritten: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sigstreams",
				Subsystem: "detector",
				Name:      "collections_written",
				Help:      "Collections written in the current acquisition",
			},
			[]string{"detector", "stream"},
		),

		NotificationsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sigstreams",
				Subsystem: "detector",
				Name:      "notifications_total",
				Help:      "Total number of index-range notifications emitted",
			},
			[]string{"detector", "stream"},
		),

		FlushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sigstreams",
				Subsystem: "detector",
				Name:      "flush_duration_seconds",
				Help:      "Flush cycle duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"detector"},
		),

		DocumentsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sigstreams",
				Subsystem: "documents",
				Name:      "published_total",
				Help:      "Total number of stream documents published",
			},
			[]string{"detector", "kind"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sigstreams",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by class",
			},
			[]string{"component", "class"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sigstreams",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sigstreams",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

// RecordConnect increments the connect counter for a device
func (c *Metrics) RecordConnect(device string, ok bool) {
	c.DeviceConnects.WithLabelValues(device, outcome(ok)).Inc()
}

// RecordConnectDuration records how long a device connect took
func (c *Metrics) RecordConnectDuration(device string, duration time.Duration) {
	c.ConnectDuration.WithLabelValues(device).Observe(duration.Seconds())
}

// RecordPut increments the signal write counter
func (c *Metrics) RecordPut(signal string, ok bool) {
	c.SignalPuts.WithLabelValues(signal, outcome(ok)).Inc()
}

// RecordObserveStart increments the active subscription gauge
func (c *Metrics) RecordObserveStart(signal string) {
	c.ObserveSubscribers.WithLabelValues(signal).Inc()
}

// RecordObserveStop decrements the active subscription gauge
func (c *Metrics) RecordObserveStop(signal string) {
	c.ObserveSubscribers.WithLabelValues(signal).Dec()
}

// RecordDetectorState updates the detector state gauge
func (c *Metrics) RecordDetectorState(detector string, state int) {
	c.DetectorState.WithLabelValues(detector).Set(float64(state))
}

// RecordTrigger increments the software trigger counter
func (c *Metrics) RecordTrigger(detector string, ok bool) {
	c.TriggersTotal.WithLabelValues(detector, outcome(ok)).Inc()
}

// RecordCollectionsWritten updates the per-stream write progress gauge
func (c *Metrics) RecordCollectionsWritten(detector, stream string, written int) {
	c.CollectionsWritten.WithLabelValues(detector, stream).Set(float64(written))
}

// RecordNotification increments the index-range notification counter
func (c *Metrics) RecordNotification(detector, stream string) {
	c.NotificationsEmitted.WithLabelValues(detector, stream).Inc()
}

// RecordFlushDuration records one flush cycle's duration
func (c *Metrics) RecordFlushDuration(detector string, duration time.Duration) {
	c.FlushDuration.WithLabelValues(detector).Observe(duration.Seconds())
}

// RecordDocumentPublished increments the stream document counter
func (c *Metrics) RecordDocumentPublished(detector, kind string) {
	c.DocumentsPublished.WithLabelValues(detector, kind).Inc()
}

// RecordError increments the error counter for a component
func (c *Metrics) RecordError(component, class string) {
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

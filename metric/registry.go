package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/sigstreams/errors"
)

// MetricsRegistrar defines the interface for registering device-specific metrics
type MetricsRegistrar interface {
	RegisterCounter(deviceName, metricName string, counter prometheus.Counter) error
	RegisterGauge(deviceName, metricName string, gauge prometheus.Gauge) error
	RegisterHistogram(deviceName, metricName string, histogram prometheus.Histogram) error
	Unregister(deviceName, metricName string) bool
}

// MetricsRegistry manages the registration and lifecycle of metrics
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewMetricsRegistry creates a new metrics registry with core platform metrics
func NewMetricsRegistry() *MetricsRegistry {
	prometheusRegistry := prometheus.NewRegistry()

	registry := &MetricsRegistry{
		prometheusRegistry: prometheusRegistry,
		registeredMetrics:  make(map[string]prometheus.Collector),
	}

	registry.Metrics = NewMetrics()
	registry.registerMetrics()

	// Add Go runtime metrics
	registry.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core platform metrics
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

// RegisterCounter registers a counter metric for a device
func (r *MetricsRegistry) RegisterCounter(deviceName, metricName string, counter prometheus.Counter) error {
	return r.register(deviceName, metricName, "RegisterCounter", counter)
}

// RegisterGauge registers a gauge metric for a device
func (r *MetricsRegistry) RegisterGauge(deviceName, metricName string, gauge prometheus.Gauge) error {
	return r.register(deviceName, metricName, "RegisterGauge", gauge)
}

// RegisterHistogram registers a histogram metric for a device
func (r *MetricsRegistry) RegisterHistogram(deviceName, metricName string, histogram prometheus.Histogram) error {
	return r.register(deviceName, metricName, "RegisterHistogram", histogram)
}

func (r *MetricsRegistry) register(deviceName, metricName, op string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", deviceName, metricName)

	if _, exists := r.registeredMetrics[key]; exists {
		return errors.WrapConfiguration(
			fmt.Errorf("metric %s already registered for device %s", metricName, deviceName),
			"MetricsRegistry", op, "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapConfiguration(err, "MetricsRegistry", op,
				fmt.Sprintf("prometheus conflict for metric %s", metricName))
		}
		return errors.WrapConfiguration(err, "MetricsRegistry", op,
			"register collector with prometheus")
	}

	r.registeredMetrics[key] = collector
	return nil
}

// Unregister removes a metric from the registry
func (r *MetricsRegistry) Unregister(deviceName, metricName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", deviceName, metricName)

	collector, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}

	success := r.prometheusRegistry.Unregister(collector)
	if success {
		delete(r.registeredMetrics, key)
	}

	return success
}

// registerMetrics registers all core platform metrics
func (r *MetricsRegistry) registerMetrics() {
	r.prometheusRegistry.MustRegister(
		r.Metrics.DeviceConnects,
		r.Metrics.ConnectDuration,
		r.Metrics.SignalPuts,
		r.Metrics.ObserveSubscribers,
		r.Metrics.DetectorState,
		r.Metrics.TriggersTotal,
		r.Metrics.CollectionsWritten,
		r.Metrics.NotificationsEmitted,
		r.Metrics.FlushDuration,
		r.Metrics.DocumentsPublished,
		r.Metrics.ErrorsTotal,
		r.Metrics.NATSConnected,
		r.Metrics.NATSReconnects,
	)
}

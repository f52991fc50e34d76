// Package metric provides Prometheus instrumentation for the
// acquisition platform: a custom registry carrying the core device and
// detector metrics, a registrar for device-specific additions, and an
// HTTP server exposing them.
//
// Core metrics cover device connects, signal writes, detector state
// transitions, per-stream write progress, flush cycles, and document
// publishing. Devices that need their own metrics register them through
// MetricsRegistrar under a "<device>.<metric>" key, which guards against
// duplicate registration across reconnects.
//
// Usage:
//
//	registry := metric.NewMetricsRegistry()
//	core := registry.CoreMetrics()
//	core.RecordDetectorState("det", 1)
//
//	server := metric.NewServer(9090, "/metrics", registry)
//	go server.Start()
package metric

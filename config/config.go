// Package config loads and validates the daemon configuration from a
// YAML file, filling defaults for anything unset.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/sigstreams/errors"
)

// Duration wraps time.Duration so YAML values like "500ms" parse
// directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// NATSConfig configures the NATS connection and the KV bucket signals
// bind to.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Bucket  string `yaml:"bucket"`
	Subject string `yaml:"subject"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// DetectorConfig configures the acquisition run the daemon drives.
type DetectorConfig struct {
	Name                string   `yaml:"name"`
	FlushPeriod         Duration `yaml:"flush_period"`
	Livetime            Duration `yaml:"livetime"`
	Deadtime            Duration `yaml:"deadtime"`
	NumberOfEvents      int      `yaml:"number_of_events"`
	ConnectTimeout      Duration `yaml:"connect_timeout"`
	Mock                bool     `yaml:"mock"`
	TriggerMode         string   `yaml:"trigger_mode"`
	CollectionsPerEvent int      `yaml:"collections_per_event"`
}

// Config is the complete daemon configuration.
type Config struct {
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"`
	NATS      NATSConfig     `yaml:"nats"`
	Metrics   MetricsConfig  `yaml:"metrics"`
	Detector  DetectorConfig `yaml:"detector"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		NATS: NATSConfig{
			URL:     "nats://localhost:4222",
			Bucket:  "sigstreams-signals",
			Subject: "sigstreams.documents",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Detector: DetectorConfig{
			Name:                "sim-det",
			FlushPeriod:         Duration(500 * time.Millisecond),
			Livetime:            Duration(100 * time.Millisecond),
			Deadtime:            Duration(10 * time.Millisecond),
			NumberOfEvents:      10,
			CollectionsPerEvent: 1,
			ConnectTimeout:      Duration(10 * time.Second),
			TriggerMode:         "internal",
		},
	}
}

// Load reads the YAML file at path over the defaults and validates the
// result.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfiguration(err, "config", "Load", "read "+path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapConfiguration(err, "config", "Load", "parse "+path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field combinations that would fail later at connect
// or prepare time.
func (c *Config) Validate() error {
	fail := func(msg string, args ...any) error {
		return errors.WrapConfiguration(fmt.Errorf(msg, args...), "config", "Validate", "check fields")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fail("log_level must be one of debug/info/warn/error, got %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fail("log_format must be json or text, got %q", c.LogFormat)
	}
	if c.NATS.URL == "" {
		return fail("nats.url must not be empty")
	}
	if c.NATS.Bucket == "" {
		return fail("nats.bucket must not be empty")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fail("metrics.port must be in (0, 65535], got %d", c.Metrics.Port)
	}
	if c.Detector.Name == "" {
		return fail("detector.name must not be empty")
	}
	if c.Detector.FlushPeriod.Std() <= 0 {
		return fail("detector.flush_period must be > 0, got %s", c.Detector.FlushPeriod.Std())
	}
	if c.Detector.Livetime.Std() <= 0 {
		return fail("detector.livetime must be > 0, got %s", c.Detector.Livetime.Std())
	}
	if c.Detector.NumberOfEvents < 0 {
		return fail("detector.number_of_events must be >= 0, got %d", c.Detector.NumberOfEvents)
	}
	if c.Detector.CollectionsPerEvent < 1 {
		return fail("detector.collections_per_event must be >= 1, got %d", c.Detector.CollectionsPerEvent)
	}
	switch c.Detector.TriggerMode {
	case "internal", "external_edge", "external_level":
	default:
		return fail("detector.trigger_mode must be internal/external_edge/external_level, got %q",
			c.Detector.TriggerMode)
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sigstreams/errors"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log_level: debug
nats:
  url: nats://broker:4222
detector:
  flush_period: 250ms
  number_of_events: 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, 250*time.Millisecond, cfg.Detector.FlushPeriod.Std())
	assert.Equal(t, 0, cfg.Detector.NumberOfEvents)

	// Untouched fields keep their defaults.
	assert.Equal(t, "sigstreams-signals", cfg.NATS.Bucket)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
		{"empty nats url", func(c *Config) { c.NATS.URL = "" }},
		{"empty bucket", func(c *Config) { c.NATS.Bucket = "" }},
		{"bad metrics port", func(c *Config) { c.Metrics.Port = -1 }},
		{"empty detector name", func(c *Config) { c.Detector.Name = "" }},
		{"zero flush period", func(c *Config) { c.Detector.FlushPeriod = 0 }},
		{"zero livetime", func(c *Config) { c.Detector.Livetime = 0 }},
		{"negative events", func(c *Config) { c.Detector.NumberOfEvents = -1 }},
		{"bad trigger mode", func(c *Config) { c.Detector.TriggerMode = "oscillating" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsConfiguration(err))
		})
	}
}

func TestDurationParsing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("detector:\n  livetime: bogus\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

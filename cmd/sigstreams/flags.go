package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds all command-line configuration options
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

// parseFlags parses command-line flags with environment variable fallbacks
func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("SIGSTREAMS_CONFIG", ""),
		"Path to YAML configuration file (env: SIGSTREAMS_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("SIGSTREAMS_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error (env: SIGSTREAMS_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("SIGSTREAMS_LOG_FORMAT", ""),
		"Log format: json, text (env: SIGSTREAMS_LOG_FORMAT)")

	flag.BoolVar(&cfg.Debug, "debug",
		getEnvBool("SIGSTREAMS_DEBUG", false),
		"Enable debug logging (env: SIGSTREAMS_DEBUG)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("SIGSTREAMS_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: SIGSTREAMS_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show detailed help")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Parse()

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg
}

// validateFlags checks flag combinations before startup
func validateFlags(cfg *CLIConfig) error {
	if cfg.LogLevel != "" && !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level %q: must be debug, info, warn, or error", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format %q: must be json or text", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %s", cfg.ShutdownTimeout)
	}
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not accessible: %w", err)
		}
	}
	return nil
}

func printDetailedHelp() {
	fmt.Printf(`%s %s - hardware signal streaming daemon

USAGE:
    %s [OPTIONS]

OPTIONS:
    -config <path>             Path to YAML configuration file
    -log-level <level>         Log level: debug, info, warn, error
    -log-format <format>       Log format: json, text
    -debug                     Enable debug logging
    -shutdown-timeout <dur>    Graceful shutdown timeout (default 30s)
    -validate                  Validate configuration and exit
    -version                   Show version information
    -help                      Show this help

ENVIRONMENT VARIABLES:
    SIGSTREAMS_CONFIG              Configuration file path
    SIGSTREAMS_LOG_LEVEL           Log level
    SIGSTREAMS_LOG_FORMAT          Log format
    SIGSTREAMS_DEBUG               Enable debug logging (true/false)
    SIGSTREAMS_SHUTDOWN_TIMEOUT    Graceful shutdown timeout

EXAMPLES:
    # Run with defaults (simulated detector, local NATS)
    %s

    # Run against a config file with text logs
    %s -config /etc/sigstreams/config.yaml -log-format text

    # Check a config file without starting
    %s -config config.yaml -validate
`, appName, Version, appName, appName, appName, appName)
}

// getEnv returns the environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns the environment variable as a bool or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as a duration or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// contains checks if a string slice contains a value
func contains(slice []string, value string) bool {
	for _, item := range slice {
		if item == value {
			return true
		}
	}
	return false
}

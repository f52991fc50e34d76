// Command sigstreams runs an acquisition daemon: it connects a
// simulated detector over NATS-backed signals, drives a fly-scan style
// acquisition, and publishes the resulting stream documents to a NATS
// subject. It doubles as a smoke-test rig for the library packages.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	osignal "os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/sigstreams/config"
	"github.com/c360/sigstreams/detector"
	"github.com/c360/sigstreams/device"
	"github.com/c360/sigstreams/document"
	"github.com/c360/sigstreams/errors"
	"github.com/c360/sigstreams/metric"
	"github.com/c360/sigstreams/natsbackend"
	"github.com/c360/sigstreams/sim"
	"github.com/c360/sigstreams/status"
)

const (
	// Version is set at build time via ldflags
	Version = "0.1.0"
	// BuildTime is set at build time via ldflags
	BuildTime = "dev"

	appName = "sigstreams"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "%s panicked: %v\n%s\n", appName, r, debug.Stack())
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run() error {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("%s %s (built %s)\n", appName, Version, BuildTime)
		return nil
	}
	if cli.ShowHelp {
		printDetailedHelp()
		return nil
	}
	if err := validateFlags(cli); err != nil {
		return err
	}

	cfg := config.Default()
	if cli.ConfigPath != "" {
		loaded, err := config.Load(cli.ConfigPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		cfg = loaded
	}
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.LogFormat = cli.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cli.Validate {
		fmt.Println("configuration OK")
		return nil
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	logger.Info("starting",
		"config", cli.ConfigPath,
		"detector", cfg.Detector.Name,
		"mock", cfg.Detector.Mock)

	ctx, stop := osignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	core := registry.CoreMetrics()
	if cfg.Metrics.Enabled {
		server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		go func() {
			logger.Info("metrics server listening", "address", server.Address())
			if err := server.Start(); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		defer func() { _ = server.Stop() }()
	}

	// In mock mode nothing leaves the process: documents go to the log
	// instead of the wire, and no NATS connection is made.
	var emitter detector.Emitter
	if cfg.Detector.Mock {
		emitter = detector.EmitterFunc(func(_ context.Context, det string, doc document.StreamDoc) error {
			logger.Info("document", "detector", det, "kind", doc.Kind)
			return nil
		})
	} else {
		openCtx, cancel := context.WithTimeout(ctx, cfg.Detector.ConnectTimeout.Std())
		store, err := natsbackend.Open(openCtx, cfg.NATS.URL, cfg.NATS.Bucket,
			natsbackend.WithMetrics(core))
		cancel()
		if err != nil {
			return fmt.Errorf("open NATS: %w", err)
		}
		defer store.Close()
		logger.Info("connected to NATS", "url", cfg.NATS.URL, "bucket", cfg.NATS.Bucket)
		emitter = &natsEmitter{conn: store.Conn(), subject: cfg.NATS.Subject}
	}

	det, pattern := sim.NewDetector(cfg.Detector.Name, cfg.Detector.Deadtime.Std(),
		detector.WithFlushPeriod(cfg.Detector.FlushPeriod.Std()),
		detector.WithEmitter(emitter),
		detector.WithLogger(logger),
		detector.WithMetrics(core),
	)

	if err := det.Connect(ctx, device.ConnectOptions{
		Mock:    cfg.Detector.Mock,
		Timeout: cfg.Detector.ConnectTimeout.Std(),
	}); err != nil {
		return fmt.Errorf("connect detector: %w", err)
	}
	logger.Info("detector connected", "state", det.State().String())

	info := detector.TriggerInfo{
		Trigger:                detector.TriggerMode(cfg.Detector.TriggerMode),
		Livetime:               cfg.Detector.Livetime.Std(),
		Deadtime:               cfg.Detector.Deadtime.Std(),
		ExposuresPerCollection: 1,
		CollectionsPerEvent:    cfg.Detector.CollectionsPerEvent,
		NumberOfEvents:         cfg.Detector.NumberOfEvents,
	}
	if err := runAcquisition(ctx, logger, det, pattern, info, cli.ShutdownTimeout); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

// runAcquisition drives one stage/prepare/kickoff/complete cycle. An
// unbounded run (zero events) acquires until a termination signal.
func runAcquisition(ctx context.Context, logger *slog.Logger, det *detector.StandardDetector,
	pattern *sim.Pattern, info detector.TriggerInfo, shutdownTimeout time.Duration) error {
	if err := det.Stage(ctx).Wait(ctx); err != nil {
		return fmt.Errorf("stage: %w", err)
	}
	if err := det.Prepare(ctx, info).Wait(ctx); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	if err := det.Kickoff(ctx).Wait(ctx); err != nil {
		return fmt.Errorf("kickoff: %w", err)
	}
	logger.Info("acquisition started",
		"events", info.NumberOfEvents,
		"livetime", info.Livetime,
		"trigger", string(info.Trigger))

	if info.Unbounded() {
		<-ctx.Done()
		logger.Info("termination signal received, stopping acquisition")
		return shutdownAcquisition(logger, det, pattern, shutdownTimeout)
	}

	complete := det.Complete(ctx)
	complete.Watch(func(u status.WatcherUpdate) {
		logger.Debug("acquisition progress",
			"current", u.Current, "target", u.Target, "unit", u.Unit)
	})
	if err := complete.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			logger.Info("termination signal received, stopping acquisition")
			return shutdownAcquisition(logger, det, pattern, shutdownTimeout)
		}
		return fmt.Errorf("acquisition failed: %w", err)
	}
	logger.Info("acquisition complete", "collections", pattern.Written())

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := det.Unstage(sctx).Wait(sctx); err != nil {
		return fmt.Errorf("unstage: %w", err)
	}
	return nil
}

// shutdownAcquisition halts an in-flight run on a fresh context so the
// final flush is not cut short by the cancelled run context.
func shutdownAcquisition(logger *slog.Logger, det *detector.StandardDetector,
	pattern *sim.Pattern, timeout time.Duration) error {
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := det.Stop(sctx); err != nil {
		logger.Error("stop failed", "error", err)
	}
	logger.Info("acquisition stopped", "collections", pattern.Written())

	if err := det.Unstage(sctx).Wait(sctx); err != nil {
		return fmt.Errorf("unstage: %w", err)
	}
	return nil
}

// natsEmitter publishes stream documents as JSON to a NATS subject.
type natsEmitter struct {
	conn    *nats.Conn
	subject string
}

func (e *natsEmitter) Emit(_ context.Context, det string, doc document.StreamDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.WrapConfiguration(err, "natsEmitter", "Emit", "encode document for "+det)
	}
	if err := e.conn.Publish(e.subject, data); err != nil {
		return errors.WrapConnection(err, "natsEmitter", "Emit", "publish to "+e.subject)
	}
	return nil
}

package detector

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/sigstreams/document"
	"github.com/c360/sigstreams/errors"
	"github.com/c360/sigstreams/metric"
)

// DefaultFlushPeriod is the wall-clock interval between flush cycles
// when the detector is not configured with its own.
const DefaultFlushPeriod = 500 * time.Millisecond

// Emitter receives the documents a flush cycle produces.
type Emitter interface {
	Emit(ctx context.Context, detector string, doc document.StreamDoc) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, detector string, doc document.StreamDoc) error

// Emit implements Emitter.
func (f EmitterFunc) Emit(ctx context.Context, detector string, doc document.StreamDoc) error {
	return f(ctx, detector, doc)
}

type namedProvider struct {
	name     string
	provider StreamableProvider
}

// collector batches written collections into index-range notifications.
// It wakes every flushPeriod and emits, per provider, at most one datum
// document covering [lastEmitted, collectionsWritten); a final flush
// runs on completion and on cancellation so no collection goes
// unreported regardless of frame rate.
type collector struct {
	detector  string
	providers []namedProvider
	emitter   Emitter
	logger    *slog.Logger
	metrics   *metric.Metrics

	// tick is injectable so tests drive flush cycles deterministically.
	tick   <-chan time.Time
	ticker *time.Ticker
}

func newCollector(
	detector string, period time.Duration, providers []namedProvider,
	emitter Emitter, logger *slog.Logger, metrics *metric.Metrics,
) *collector {
	if period <= 0 {
		period = DefaultFlushPeriod
	}
	ticker := time.NewTicker(period)
	c := newCollectorWithTick(detector, providers, emitter, logger, metrics, ticker.C)
	c.ticker = ticker
	return c
}

func newCollectorWithTick(
	detector string, providers []namedProvider,
	emitter Emitter, logger *slog.Logger, metrics *metric.Metrics,
	tick <-chan time.Time,
) *collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &collector{
		detector:  detector,
		providers: providers,
		emitter:   emitter,
		logger:    logger.With("detector", detector),
		metrics:   metrics,
		tick:      tick,
	}
}

// run loops until done closes or ctx is cancelled, performing a final
// flush in both cases. Cancellation still reports every unreported
// collection before propagating.
func (c *collector) run(ctx context.Context, done <-chan struct{}) error {
	if c.ticker != nil {
		defer c.ticker.Stop()
	}
	for {
		select {
		case <-c.tick:
			if err := c.flush(ctx); err != nil {
				return err
			}
		case <-done:
			return c.flush(ctx)
		case <-ctx.Done():
			// The run context is gone; bound the final flush separately.
			finalCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := c.flush(finalCtx)
			cancel()
			if err != nil {
				c.logger.Error("Final flush failed after cancellation", "error", err)
			}
			return errors.WrapCancelled(errors.ErrCancelled, c.detector, "flush", "collector loop")
		}
	}
}

// flush emits one notification per provider with a non-empty interval.
func (c *collector) flush(ctx context.Context) error {
	start := time.Now()
	for _, np := range c.providers {
		written, err := np.provider.CollectionsWritten(ctx)
		if err != nil {
			return errors.WrapHardware(err, c.detector, "flush", "read collections written for "+np.name)
		}
		docs, err := np.provider.StreamDocs(ctx, written)
		if err != nil {
			return errors.WrapHardware(err, c.detector, "flush", "collect stream docs for "+np.name)
		}
		for _, doc := range docs {
			if err := c.emitter.Emit(ctx, c.detector, doc); err != nil {
				return errors.WrapHardware(err, c.detector, "flush", "emit document for "+np.name)
			}
			if doc.Kind == document.KindStreamDatum {
				c.logger.Debug("Emitted stream datum",
					"provider", np.name,
					"start", doc.Datum.Indices.Start,
					"stop", doc.Datum.Indices.Stop)
				if c.metrics != nil {
					c.metrics.RecordNotification(c.detector, np.name)
				}
			}
			if c.metrics != nil {
				c.metrics.RecordDocumentPublished(c.detector, string(doc.Kind))
			}
		}
		if c.metrics != nil {
			c.metrics.RecordCollectionsWritten(c.detector, np.name, written)
		}
	}
	if c.metrics != nil {
		c.metrics.RecordFlushDuration(c.detector, time.Since(start))
	}
	return nil
}

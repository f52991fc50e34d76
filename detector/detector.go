package detector

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/sigstreams/device"
	"github.com/c360/sigstreams/document"
	"github.com/c360/sigstreams/errors"
	"github.com/c360/sigstreams/metric"
	"github.com/c360/sigstreams/status"
)

// State is the detector acquisition state.
type State int

const (
	// StateIdle means unstaged, no run resources held
	StateIdle State = iota
	// StateStaged means the next Prepare starts a fresh data resource
	StateStaged
	// StatePrepared means trigger and data logic are configured
	StatePrepared
	// StateArmed means the hardware is waiting for external triggers
	StateArmed
	// StateAcquiring means a run is in flight
	StateAcquiring
	// StateDisarmed means a run was stopped early or failed
	StateDisarmed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStaged:
		return "staged"
	case StatePrepared:
		return "prepared"
	case StateArmed:
		return "armed"
	case StateAcquiring:
		return "acquiring"
	case StateDisarmed:
		return "disarmed"
	default:
		return "unknown"
	}
}

// DefaultOneShotLivetime is the exposure used when Trigger is called
// without a preceding Prepare.
const DefaultOneShotLivetime = 100 * time.Millisecond

type namedDataLogic struct {
	suffix string
	logic  DataLogic
}

// acquisition tracks one kickoff-to-complete window: the collector
// goroutine, its stop channel, and its result.
type acquisition struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	result chan error
}

func (a *acquisition) finish() {
	a.once.Do(func() { close(a.done) })
}

// StandardDetector is the acquisition state machine. It composes a
// TriggerLogic, an ArmLogic and one or more DataLogic strategies, and
// exposes the verb protocol the driving engine consumes.
type StandardDetector struct {
	*device.Node

	triggerLogic    TriggerLogic
	armLogic        ArmLogic
	dataLogics      []namedDataLogic
	configSigs      []device.Readable
	flushPeriod     time.Duration
	oneShotLivetime time.Duration
	emitter         Emitter
	logger          *slog.Logger
	metrics         *metric.Metrics

	mu        sync.Mutex
	state     State
	info      TriggerInfo
	providers []namedProvider
	readables []ReadableProvider
	allProvs  []Provider
	fresh     bool
	acq       *acquisition
}

// Option configures a StandardDetector at construction.
type Option func(*StandardDetector)

// WithDataLogic attaches a data path whose documents are keyed by
// suffix. Multiple data logics run independently in attachment order.
func WithDataLogic(suffix string, logic DataLogic) Option {
	return func(d *StandardDetector) {
		d.dataLogics = append(d.dataLogics, namedDataLogic{suffix: suffix, logic: logic})
	}
}

// WithConfigSignals declares the slow-changing signals reported by
// ReadConfiguration.
func WithConfigSignals(sigs ...device.Readable) Option {
	return func(d *StandardDetector) { d.configSigs = append(d.configSigs, sigs...) }
}

// WithFlushPeriod sets the wall-clock interval between flush cycles.
func WithFlushPeriod(period time.Duration) Option {
	return func(d *StandardDetector) { d.flushPeriod = period }
}

// WithOneShotLivetime sets the exposure Trigger uses when no Prepare
// preceded it.
func WithOneShotLivetime(livetime time.Duration) Option {
	return func(d *StandardDetector) { d.oneShotLivetime = livetime }
}

// WithEmitter routes flush notifications to a document sink.
func WithEmitter(e Emitter) Option {
	return func(d *StandardDetector) { d.emitter = e }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *StandardDetector) { d.logger = logger }
}

// WithMetrics records acquisition metrics into the given core metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(d *StandardDetector) { d.metrics = m }
}

// New creates a StandardDetector composing the given logic strategies.
// The caller registers child devices and names the detector through the
// embedded Node.
func New(triggerLogic TriggerLogic, armLogic ArmLogic, opts ...Option) *StandardDetector {
	d := &StandardDetector{
		Node:            device.NewNode(nil),
		triggerLogic:    triggerLogic,
		armLogic:        armLogic,
		flushPeriod:     DefaultFlushPeriod,
		oneShotLivetime: DefaultOneShotLivetime,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics != nil {
		d.Node.SetMetrics(d.metrics)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.emitter == nil {
		d.emitter = EmitterFunc(func(_ context.Context, detector string, doc document.StreamDoc) error {
			d.log().Debug("Stream document", "kind", doc.Kind)
			return nil
		})
	}
	return d
}

func (d *StandardDetector) log() *slog.Logger {
	return d.logger.With("detector", d.Name())
}

// State returns the current acquisition state.
func (d *StandardDetector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *StandardDetector) setStateLocked(s State) {
	d.state = s
	if d.metrics != nil {
		d.metrics.RecordDetectorState(d.Name(), int(s))
	}
}

func (d *StandardDetector) stateErr(op string, got State) error {
	return errors.WrapConfiguration(
		fmt.Errorf("%w: cannot %s in state %s", errors.ErrInvalidState, op, got),
		d.Name(), op, "check state")
}

// Stage marks that the next Prepare starts a fresh data resource.
func (d *StandardDetector) Stage(ctx context.Context) *status.AsyncStatus {
	return status.Run(ctx, d.Name()+".stage", func(ctx context.Context, _ status.NotifyFunc) error {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.state != StateIdle && d.state != StateDisarmed {
			return d.stateErr("Stage", d.state)
		}
		d.fresh = true
		d.setStateLocked(StateStaged)
		return nil
	})
}

// Prepare validates info, configures the trigger logic, opens every
// data path, and for external modes arms the hardware. All
// configuration errors surface before any hardware interaction.
func (d *StandardDetector) Prepare(ctx context.Context, info TriggerInfo) *status.AsyncStatus {
	return status.Run(ctx, d.Name()+".prepare", func(ctx context.Context, _ status.NotifyFunc) error {
		return d.prepare(ctx, info)
	})
}

func (d *StandardDetector) prepare(ctx context.Context, info TriggerInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}
	prepareFn, err := prepareFor(d.triggerLogic, info.Trigger)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.state != StateStaged && d.state != StatePrepared {
		defer d.mu.Unlock()
		return d.stateErr("Prepare", d.state)
	}
	d.mu.Unlock()

	deadtime, err := d.armLogic.Deadtime(ctx, info.Livetime)
	if err != nil {
		return errors.WrapHardware(err, d.Name(), "Prepare", "read deadtime")
	}
	if info.Trigger != TriggerInternal && info.Deadtime < deadtime {
		return errors.WrapConfiguration(
			fmt.Errorf("%w: deadtime %s shorter than required %s",
				errors.ErrInvalidTriggerInfo, info.Deadtime, deadtime),
			d.Name(), "Prepare", "check deadtime margin")
	}

	if err := prepareFn(ctx, info); err != nil {
		return errors.WrapHardware(err, d.Name(), "Prepare", "configure trigger logic")
	}

	providers, err := d.openDataLogics(ctx, info)
	if err != nil {
		d.cleanup(context.WithoutCancel(ctx), "Prepare")
		return err
	}

	armed := false
	if info.Trigger != TriggerInternal {
		// External triggers may arrive any time after this returns.
		if err := d.armLogic.Arm(ctx); err != nil {
			d.cleanup(context.WithoutCancel(ctx), "Prepare")
			return errors.WrapHardware(err, d.Name(), "Prepare", "arm for external triggers")
		}
		armed = true
	}

	d.mu.Lock()
	d.info = info
	d.setProvidersLocked(providers)
	d.fresh = false
	if armed {
		d.setStateLocked(StateArmed)
	} else {
		d.setStateLocked(StatePrepared)
	}
	d.mu.Unlock()

	d.log().Info("Prepared",
		"trigger", info.Trigger,
		"events", info.NumberOfEvents,
		"livetime", info.Livetime,
		"deadtime", deadtime)
	return nil
}

// openDataLogics opens every data path concurrently and keeps
// attachment order in the result.
func (d *StandardDetector) openDataLogics(ctx context.Context, info TriggerInfo) ([]Provider, error) {
	providers := make([]Provider, len(d.dataLogics))
	g, gctx := errgroup.WithContext(ctx)
	for i, ndl := range d.dataLogics {
		g.Go(func() error {
			name := d.Name() + device.Separator + ndl.suffix
			var (
				p   Provider
				err error
			)
			if info.Unbounded() {
				p, err = ndl.logic.PrepareUnbounded(gctx, name, info)
			} else {
				p, err = ndl.logic.PrepareSingle(gctx, name, info)
			}
			if err != nil {
				return errors.WrapHardware(err, d.Name(), "Prepare", "open data path "+ndl.suffix)
			}
			providers[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return providers, nil
}

func (d *StandardDetector) setProvidersLocked(providers []Provider) {
	d.allProvs = providers
	d.providers = nil
	d.readables = nil
	for i, p := range providers {
		if sp, ok := p.(StreamableProvider); ok {
			d.providers = append(d.providers, namedProvider{
				name:     d.dataLogics[i].suffix,
				provider: sp,
			})
		}
		if rp, ok := p.(ReadableProvider); ok {
			d.readables = append(d.readables, rp)
		}
	}
}

// Kickoff starts the run: internal-trigger detectors arm here, external
// ones were armed during Prepare. The flush collector starts with the
// run and outlives Kickoff's own status.
func (d *StandardDetector) Kickoff(ctx context.Context) *status.AsyncStatus {
	return status.Run(ctx, d.Name()+".kickoff", func(ctx context.Context, _ status.NotifyFunc) error {
		d.mu.Lock()
		state := d.state
		d.mu.Unlock()

		switch state {
		case StatePrepared:
			if err := d.armLogic.Arm(ctx); err != nil {
				d.disarmAfter(context.WithoutCancel(ctx), "Kickoff")
				return errors.WrapHardware(err, d.Name(), "Kickoff", "arm")
			}
		case StateArmed:
			// Already armed during Prepare for external triggers.
		default:
			return d.stateErr("Kickoff", state)
		}

		acqCtx, cancel := context.WithCancel(context.Background())
		acq := &acquisition{
			cancel: cancel,
			done:   make(chan struct{}),
			result: make(chan error, 1),
		}

		d.mu.Lock()
		col := newCollector(d.Name(), d.flushPeriod, d.providers, d.emitter, d.logger, d.metrics)
		d.acq = acq
		d.setStateLocked(StateAcquiring)
		d.mu.Unlock()

		go func() {
			acq.result <- col.run(acqCtx, acq.done)
		}()
		return nil
	})
}

// Complete resolves when the hardware has satisfied the prepared number
// of events and the final flush has run. Watchers receive per-collection
// progress while the run is in flight.
func (d *StandardDetector) Complete(ctx context.Context) *status.AsyncStatus {
	return status.Run(ctx, d.Name()+".complete", func(ctx context.Context, notify status.NotifyFunc) error {
		d.mu.Lock()
		acq := d.acq
		// Stop or Unstage may have cleared the run between the caller's
		// check and this lock; without a run there is nothing to wait on.
		if d.state != StateAcquiring || acq == nil {
			state := d.state
			d.mu.Unlock()
			return d.stateErr("Complete", state)
		}
		info := d.info
		var progress *namedProvider
		if len(d.providers) > 0 {
			progress = &d.providers[0]
		}
		d.mu.Unlock()

		obsCtx, obsCancel := context.WithCancel(ctx)
		defer obsCancel()
		if progress != nil {
			d.watchProgress(obsCtx, progress.provider, info, notify)
		}

		waitErr := d.armLogic.WaitForIdle(ctx)

		// The collector's final flush runs regardless of how the wait
		// ended; no collection may go unreported.
		acq.finish()
		colErr := <-acq.result
		acq.cancel()

		d.mu.Lock()
		d.acq = nil
		if waitErr != nil || colErr != nil {
			d.setStateLocked(StateDisarmed)
		} else {
			d.setStateLocked(StateStaged)
		}
		d.mu.Unlock()

		if waitErr != nil {
			d.disarmAfter(context.WithoutCancel(ctx), "Complete")
			if colErr != nil {
				d.log().Error("Collector failed during cleanup", "error", colErr)
			}
			return errors.WrapHardware(waitErr, d.Name(), "Complete", "wait for idle")
		}
		return colErr
	})
}

// watchProgress feeds collection counts into the status watcher hook
// until ctx is cancelled.
func (d *StandardDetector) watchProgress(ctx context.Context, p StreamableProvider, info TriggerInfo, notify status.NotifyFunc) {
	ch, err := p.ObserveCollections(ctx)
	if err != nil {
		d.log().Debug("Progress observation unavailable", "error", err)
		return
	}
	target := info.TotalCollections()
	go func() {
		for n := range ch {
			u := status.WatcherUpdate{
				Current: float64(n),
				Initial: 0,
				Unit:    "collections",
			}
			if target > 0 {
				u.Target = float64(target)
				u.Fraction = float64(n) / float64(target)
			}
			notify(u)
		}
	}()
}

// Trigger takes one acquisition on demand. Without a preceding Prepare
// it auto-prepares a single internally-timed event.
func (d *StandardDetector) Trigger(ctx context.Context) *status.AsyncStatus {
	return status.Run(ctx, d.Name()+".trigger", func(ctx context.Context, _ status.NotifyFunc) error {
		d.mu.Lock()
		state := d.state
		d.mu.Unlock()

		switch state {
		case StateStaged:
			if err := d.prepare(ctx, OneShot(d.oneShotLivetime)); err != nil {
				d.recordTrigger(false)
				return err
			}
		case StatePrepared:
		default:
			d.recordTrigger(false)
			return d.stateErr("Trigger", state)
		}

		if err := d.armLogic.Arm(ctx); err != nil {
			d.recordTrigger(false)
			d.disarmAfter(context.WithoutCancel(ctx), "Trigger")
			return errors.WrapHardware(err, d.Name(), "Trigger", "arm")
		}
		if err := d.armLogic.WaitForIdle(ctx); err != nil {
			d.recordTrigger(false)
			d.disarmAfter(context.WithoutCancel(ctx), "Trigger")
			return errors.WrapHardware(err, d.Name(), "Trigger", "wait for idle")
		}
		d.recordTrigger(true)
		return nil
	})
}

func (d *StandardDetector) recordTrigger(ok bool) {
	if d.metrics != nil {
		d.metrics.RecordTrigger(d.Name(), ok)
	}
}

// Read reports the readable providers' current values.
func (d *StandardDetector) Read(ctx context.Context) (map[string]document.Reading, error) {
	d.mu.Lock()
	readables := d.readables
	d.mu.Unlock()

	merged := make(map[string]document.Reading)
	for _, rp := range readables {
		readings, err := rp.Readings(ctx)
		if err != nil {
			return nil, errors.WrapHardware(err, d.Name(), "Read", "collect readings")
		}
		for name, r := range readings {
			merged[name] = r
		}
	}
	return merged, nil
}

// Describe reports the readable providers' data keys.
func (d *StandardDetector) Describe(ctx context.Context) (map[string]document.DataKey, error) {
	d.mu.Lock()
	readables := d.readables
	d.mu.Unlock()

	merged := make(map[string]document.DataKey)
	for _, rp := range readables {
		keys, err := rp.DataKeys(ctx)
		if err != nil {
			return nil, errors.WrapHardware(err, d.Name(), "Describe", "collect data keys")
		}
		for name, k := range keys {
			merged[name] = k
		}
	}
	return merged, nil
}

// ReadConfiguration reports the configuration signals' current values.
func (d *StandardDetector) ReadConfiguration(ctx context.Context) (map[string]document.Reading, error) {
	return device.GatherReadings(ctx, d.configSigs...)
}

// DescribeConfiguration reports the configuration signals' data keys.
func (d *StandardDetector) DescribeConfiguration(ctx context.Context) (map[string]document.DataKey, error) {
	return device.GatherDataKeys(ctx, d.configSigs...)
}

// DescribeCollect reports every provider's data keys.
func (d *StandardDetector) DescribeCollect(ctx context.Context) (map[string]document.DataKey, error) {
	d.mu.Lock()
	providers := d.allProvs
	d.mu.Unlock()

	merged := make(map[string]document.DataKey)
	for _, p := range providers {
		keys, err := p.DataKeys(ctx)
		if err != nil {
			return nil, errors.WrapHardware(err, d.Name(), "DescribeCollect", "collect data keys")
		}
		for name, k := range keys {
			merged[name] = k
		}
	}
	return merged, nil
}

// CollectStreamDocs drains the stream documents covering everything
// written so far, the pull-driven counterpart of the flush collector.
func (d *StandardDetector) CollectStreamDocs(ctx context.Context) ([]document.StreamDoc, error) {
	d.mu.Lock()
	providers := d.providers
	d.mu.Unlock()

	var docs []document.StreamDoc
	for _, np := range providers {
		written, err := np.provider.CollectionsWritten(ctx)
		if err != nil {
			return nil, errors.WrapHardware(err, d.Name(), "Collect", "read collections written for "+np.name)
		}
		batch, err := np.provider.StreamDocs(ctx, written)
		if err != nil {
			return nil, errors.WrapHardware(err, d.Name(), "Collect", "collect stream docs for "+np.name)
		}
		docs = append(docs, batch...)
	}
	return docs, nil
}

// Unstage releases run resources unconditionally: every data logic is
// stopped and the hardware disarmed even when a prior step failed, so
// nothing is left armed or holding a resource. Cleanup errors are
// reported but never replace an error already in flight elsewhere.
func (d *StandardDetector) Unstage(ctx context.Context) *status.AsyncStatus {
	return status.Run(ctx, d.Name()+".unstage", func(ctx context.Context, _ status.NotifyFunc) error {
		d.mu.Lock()
		acq := d.acq
		d.acq = nil
		d.mu.Unlock()

		if acq != nil {
			// Stop production before the final flush so every produced
			// collection is reported.
			if err := d.armLogic.Disarm(ctx); err != nil {
				d.log().Error("Disarm during unstage failed", "error", err)
			}
			acq.finish()
			if err := <-acq.result; err != nil {
				d.log().Error("Collector failed during unstage", "error", err)
			}
			acq.cancel()
		}

		err := d.cleanup(ctx, "Unstage")

		d.mu.Lock()
		d.fresh = false
		d.allProvs = nil
		d.providers = nil
		d.readables = nil
		d.setStateLocked(StateIdle)
		d.mu.Unlock()
		return err
	})
}

// Stop disarms the hardware mid-run, best effort. The collector still
// performs its final flush before the run is marked disarmed.
func (d *StandardDetector) Stop(ctx context.Context) error {
	// Clearing the run and leaving StateAcquiring must be one step, or a
	// concurrent Complete could observe a run with no acquisition.
	d.mu.Lock()
	acq := d.acq
	d.acq = nil
	d.setStateLocked(StateDisarmed)
	d.mu.Unlock()

	// Disarm first: production must halt before the final flush so no
	// collection lands unreported.
	err := d.armLogic.Disarm(ctx)

	if acq != nil {
		acq.finish()
		if flushErr := <-acq.result; flushErr != nil {
			d.log().Error("Collector failed during stop", "error", flushErr)
		}
		acq.cancel()
	}

	if err != nil {
		return errors.WrapHardware(err, d.Name(), "Stop", "disarm")
	}
	return nil
}

// cleanup stops every data logic and disarms, joining the errors.
func (d *StandardDetector) cleanup(ctx context.Context, op string) error {
	var errs []error
	for _, ndl := range d.dataLogics {
		if err := ndl.logic.Stop(ctx); err != nil {
			d.log().Error("Data logic stop failed", "operation", op, "suffix", ndl.suffix, "error", err)
			errs = append(errs, errors.WrapHardware(err, d.Name(), op, "stop data path "+ndl.suffix))
		}
	}
	if err := d.armLogic.Disarm(ctx); err != nil {
		d.log().Error("Disarm failed", "operation", op, "error", err)
		errs = append(errs, errors.WrapHardware(err, d.Name(), op, "disarm"))
	}
	return stderrors.Join(errs...)
}

// disarmAfter disarms on a failure path without masking the primary
// error.
func (d *StandardDetector) disarmAfter(ctx context.Context, op string) {
	if err := d.armLogic.Disarm(ctx); err != nil {
		d.log().Error("Disarm after failure also failed", "operation", op, "error", err)
	}
	d.mu.Lock()
	d.setStateLocked(StateDisarmed)
	d.mu.Unlock()
}

var (
	_ device.Readable              = (*StandardDetector)(nil)
	_ device.Configurable          = (*StandardDetector)(nil)
	_ device.Stageable             = (*StandardDetector)(nil)
	_ device.Triggerable           = (*StandardDetector)(nil)
	_ device.Preparable[TriggerInfo] = (*StandardDetector)(nil)
	_ device.Flyable               = (*StandardDetector)(nil)
	_ device.Collectable           = (*StandardDetector)(nil)
	_ device.Stoppable             = (*StandardDetector)(nil)
)

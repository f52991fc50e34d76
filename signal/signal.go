// Package signal provides the typed, monitorable control point at the
// leaves of the device tree. A Signal wraps a Backend, owns the cached
// reading, and exposes connect/get/set/observe semantics with a
// swappable mock mode whose behavior never diverges from real mode in
// the Signal's own logic.
package signal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/sigstreams/device"
	"github.com/c360/sigstreams/document"
	"github.com/c360/sigstreams/errors"
	"github.com/c360/sigstreams/metric"
	"github.com/c360/sigstreams/status"
)

// DefaultTimeout bounds signal operations that do not supply their own.
const DefaultTimeout = 10 * time.Second

// ConnectionState tracks how a signal is currently bound to a backend.
type ConnectionState int

const (
	// Unconnected means Connect has not completed
	Unconnected ConnectionState = iota
	// Connecting means a Connect is in flight
	Connecting
	// ConnectedReal means the signal is bound to its real backend
	ConnectedReal
	// ConnectedMock means the signal is bound to a mock substitute
	ConnectedMock
)

// String returns the string representation of ConnectionState
func (s ConnectionState) String() string {
	switch s {
	case Unconnected:
		return "unconnected"
	case Connecting:
		return "connecting"
	case ConnectedReal:
		return "connected_real"
	case ConnectedMock:
		return "connected_mock"
	default:
		return "unknown"
	}
}

// Gettable is the narrow read capability of a signal.
type Gettable[T any] interface {
	GetValue(ctx context.Context) (T, error)
}

// Settable is the narrow write capability of a signal.
type Settable[T any] interface {
	Set(ctx context.Context, value T, timeout time.Duration) *status.AsyncStatus
}

// Monitorable is the narrow observe capability of a signal.
type Monitorable[T any] interface {
	Observe(ctx context.Context) (<-chan Reading[T], error)
}

// Signal is one typed control point. It is owned exclusively by its
// parent device, created at construction, connected once (idempotent)
// and torn down only at process end.
type Signal[T any] struct {
	name     string
	parent   device.Device
	timeout  time.Duration
	writable bool
	logger   *slog.Logger
	metrics  *metric.Metrics

	mu          sync.Mutex
	state       ConnectionState
	backend     Backend[T]
	realBackend Backend[T]
	mockBackend Backend[T]
	cache       *monitorCache[T]

	// opMu serializes writes so operations issued sequentially against
	// the same signal complete in issue order.
	opMu sync.Mutex
}

// Option configures a Signal at construction.
type Option[T any] func(*Signal[T])

// WithTimeout sets the default operation timeout.
func WithTimeout[T any](d time.Duration) Option[T] {
	return func(s *Signal[T]) { s.timeout = d }
}

// WithMockBackend injects the backend substitute used when connecting
// with mock mode, letting tests drive get/set/subscribe behavior.
func WithMockBackend[T any](b Backend[T]) Option[T] {
	return func(s *Signal[T]) { s.mockBackend = b }
}

// WithMetrics records put and subscription counts into the given core
// metrics.
func WithMetrics[T any](m *metric.Metrics) Option[T] {
	return func(s *Signal[T]) { s.metrics = m }
}

// ReadOnly marks the signal as not settable.
func ReadOnly[T any]() Option[T] {
	return func(s *Signal[T]) { s.writable = false }
}

// New creates a Signal over the given backend.
func New[T any](backend Backend[T], opts ...Option[T]) *Signal[T] {
	s := &Signal[T]{
		realBackend: backend,
		backend:     backend,
		timeout:     DefaultTimeout,
		writable:    true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the derived signal name.
func (s *Signal[T]) Name() string { return s.name }

// SetName names the signal. Signals are leaves, so there is nothing to
// propagate.
func (s *Signal[T]) SetName(name string) { s.name = name }

// Parent returns the owning device.
func (s *Signal[T]) Parent() device.Device { return s.parent }

// SetParent records the owning device.
func (s *Signal[T]) SetParent(parent device.Device) { s.parent = parent }

// Source identifies the backend control point.
func (s *Signal[T]) Source() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Source()
}

// State returns the current connection state.
func (s *Signal[T]) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Signal[T]) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default().With("signal", s.name)
}

// Connect binds the signal to its backend, or to a mock substitute when
// opts.Mock is set. Connecting again in the same mode is a no-op; the
// mode may not change between connects.
func (s *Signal[T]) Connect(ctx context.Context, opts device.ConnectOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == ConnectedMock && opts.Mock, s.state == ConnectedReal && !opts.Mock:
		if !opts.ForceReconnect {
			return nil
		}
	case s.state == ConnectedMock || s.state == ConnectedReal:
		return errors.WrapConfiguration(errors.ErrModeMismatch, s.name, "Connect", "validate mode")
	}

	backend := s.realBackend
	target := ConnectedReal
	if opts.Mock {
		if s.mockBackend == nil {
			s.mockBackend = NewMockBackend(s.realBackend)
		}
		backend = s.mockBackend
		target = ConnectedMock
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = s.timeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.state = Connecting
	s.log().Debug("Connecting", "source", backend.Source(), "mock", opts.Mock)
	if err := backend.Connect(connectCtx); err != nil {
		s.state = Unconnected
		if connectCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w after %s: %w", errors.ErrConnectionTimeout, timeout, err)
		}
		return errors.WrapConnection(err, s.name, "Connect", "connect backend "+backend.Source())
	}
	s.backend = backend
	s.state = target
	return nil
}

func (s *Signal[T]) connectedBackend() (Backend[T], *monitorCache[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != ConnectedReal && s.state != ConnectedMock {
		return nil, nil, errors.WrapConnection(errors.ErrNotConnected, s.name, "Get", "check connection")
	}
	return s.backend, s.cache, nil
}

// Get returns the latest reading: the cached one when the signal is
// being monitored, otherwise a fresh reading from the backend.
func (s *Signal[T]) Get(ctx context.Context) (Reading[T], error) {
	backend, cache, err := s.connectedBackend()
	if err != nil {
		return Reading[T]{}, err
	}
	if cache != nil {
		return cache.reading(ctx)
	}
	reading, err := backend.Get(ctx)
	if err != nil {
		return Reading[T]{}, errors.WrapHardware(err, s.name, "Get", "read "+backend.Source())
	}
	return reading, nil
}

// GetValue returns the latest value.
func (s *Signal[T]) GetValue(ctx context.Context) (T, error) {
	reading, err := s.Get(ctx)
	return reading.Value, err
}

// Set initiates a write and returns immediately with a status that
// resolves when the backend confirms completion, or fails with a
// timeout-class error if unresolved within timeout (zero means the
// signal's default).
func (s *Signal[T]) Set(ctx context.Context, value T, timeout time.Duration) *status.AsyncStatus {
	name := s.name + ".set"
	backend, _, err := s.connectedBackend()
	if err != nil {
		return status.Failed(name, err)
	}
	if !s.writable {
		return status.Failed(name, errors.WrapConfiguration(
			fmt.Errorf("signal is read-only"), s.name, "Set", "check writability"))
	}
	if timeout == 0 {
		timeout = s.timeout
	}
	return status.RunWithTimeout(ctx, name, timeout, func(ctx context.Context, notify status.NotifyFunc) error {
		s.opMu.Lock()
		defer s.opMu.Unlock()
		s.log().Debug("Putting value", "source", backend.Source(), "value", value)
		err := backend.Put(ctx, value, true)
		if s.metrics != nil {
			s.metrics.RecordPut(s.name, err == nil)
		}
		return err
	})
}

// Observe establishes an independent subscription delivering readings
// until ctx is cancelled; cancellation tears down only this
// subscription. The channel's backpressure follows the backend's
// declared policy. While any subscription is active the signal caches
// the latest reading for Get.
func (s *Signal[T]) Observe(ctx context.Context) (<-chan Reading[T], error) {
	s.mu.Lock()
	if s.state != ConnectedReal && s.state != ConnectedMock {
		s.mu.Unlock()
		return nil, errors.WrapConnection(errors.ErrNotConnected, s.name, "Observe", "check connection")
	}
	if s.cache == nil {
		cache, err := newMonitorCache(s.backend, s.clearCache)
		if err != nil {
			s.mu.Unlock()
			return nil, errors.WrapConnection(err, s.name, "Observe", "subscribe "+s.backend.Source())
		}
		s.cache = cache
	}
	cache := s.cache
	s.mu.Unlock()

	if s.metrics != nil {
		// A subscription lives exactly until its ctx is cancelled.
		s.metrics.RecordObserveStart(s.name)
		go func() {
			<-ctx.Done()
			s.metrics.RecordObserveStop(s.name)
		}()
	}
	return cache.addListener(ctx), nil
}

func (s *Signal[T]) clearCache(cache *monitorCache[T]) {
	s.mu.Lock()
	if s.cache == cache {
		s.cache = nil
	}
	s.mu.Unlock()
}

// Read implements device.Readable with a single-entry map keyed by the
// signal name.
func (s *Signal[T]) Read(ctx context.Context) (map[string]document.Reading, error) {
	reading, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]document.Reading{s.name: reading.Untyped()}, nil
}

// Describe implements device.Readable.
func (s *Signal[T]) Describe(ctx context.Context) (map[string]document.DataKey, error) {
	s.mu.Lock()
	backend := s.backend
	s.mu.Unlock()
	return map[string]document.DataKey{s.name: backend.DataKey(s.name)}, nil
}

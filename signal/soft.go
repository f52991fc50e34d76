package signal

import (
	"context"
	"sync"
	"time"

	"github.com/c360/sigstreams/document"
	"github.com/c360/sigstreams/errors"
)

// SoftBackend is a process-local backend holding its value in memory.
// It backs soft signals (device-internal counters and settings) and is
// the default substitute bound by mock-mode connects. Its declared
// backpressure policy is drop-latest: subscribers conflate to the
// newest reading, matching a monitored control point's cached-value
// semantics.
type SoftBackend[T any] struct {
	source    string
	unit      string
	precision int

	mu        sync.Mutex
	reading   Reading[T]
	connected bool
	subs      map[int]chan Reading[T]
	nextID    int
}

// SoftOption configures a SoftBackend.
type SoftOption func(*softConfig)

type softConfig struct {
	source    string
	unit      string
	precision int
}

// WithSource sets the source identifier, e.g. "soft://det-counter".
func WithSource(source string) SoftOption {
	return func(c *softConfig) { c.source = source }
}

// WithUnit sets the engineering unit reported in the data key.
func WithUnit(unit string) SoftOption {
	return func(c *softConfig) { c.unit = unit }
}

// WithPrecision sets the display precision reported in the data key.
func WithPrecision(p int) SoftOption {
	return func(c *softConfig) { c.precision = p }
}

// NewSoftBackend creates an in-memory backend holding initial.
func NewSoftBackend[T any](initial T, opts ...SoftOption) *SoftBackend[T] {
	cfg := softConfig{source: "soft://signal"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &SoftBackend[T]{
		source:    cfg.source,
		unit:      cfg.unit,
		precision: cfg.precision,
		reading:   Reading[T]{Value: initial},
		subs:      make(map[int]chan Reading[T]),
	}
}

// Source implements Backend.
func (b *SoftBackend[T]) Source() string { return b.source }

// DataKey implements Backend.
func (b *SoftBackend[T]) DataKey(name string) document.DataKey {
	var zero T
	return document.DataKey{
		Source:    b.source,
		Dtype:     DtypeOf(zero),
		Unit:      b.unit,
		Precision: b.precision,
	}
}

// Connect implements Backend; the first connect stamps the initial
// reading.
func (b *SoftBackend[T]) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		b.connected = true
		if b.reading.Timestamp.IsZero() {
			b.reading.Timestamp = time.Now()
		}
	}
	return nil
}

// Get implements Backend.
func (b *SoftBackend[T]) Get(ctx context.Context) (Reading[T], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return Reading[T]{}, errors.ErrNotConnected
	}
	return b.reading, nil
}

// Put implements Backend; soft puts confirm immediately.
func (b *SoftBackend[T]) Put(ctx context.Context, value T, wait bool) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return errors.ErrNotConnected
	}
	b.mu.Unlock()
	b.SetValue(value)
	return nil
}

// SetValue updates the stored reading and notifies subscribers. It is
// the device-internal write path, usable before connect.
func (b *SoftBackend[T]) SetValue(value T) {
	b.mu.Lock()
	b.reading = Reading[T]{Value: value, Timestamp: time.Now(), Severity: document.SeverityNone}
	reading := b.reading
	subs := make([]chan Reading[T], 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		// Conflate: drop the stale reading if the subscriber lags.
		select {
		case ch <- reading:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- reading:
			default:
			}
		}
	}
}

// Subscribe implements Backend. The current reading is delivered first.
func (b *SoftBackend[T]) Subscribe(ctx context.Context) (<-chan Reading[T], func(), error) {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil, nil, errors.ErrNotConnected
	}
	ch := make(chan Reading[T], 1)
	ch <- b.reading
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ch, stop, nil
}

// Backpressure implements Backend.
func (b *SoftBackend[T]) Backpressure() BackpressurePolicy {
	return PolicyDropLatest
}

// NewSoft creates a read-writable signal over a fresh soft backend.
func NewSoft[T any](initial T, opts ...SoftOption) *Signal[T] {
	return New(NewSoftBackend(initial, opts...))
}

// NewSoftWithSetter creates a read-only signal over a fresh soft
// backend together with the setter through which the owning device
// mutates it internally, e.g. a provider's collections-written counter.
func NewSoftWithSetter[T any](initial T, opts ...SoftOption) (*Signal[T], func(T)) {
	backend := NewSoftBackend(initial, opts...)
	sig := New[T](backend, ReadOnly[T]())
	return sig, backend.SetValue
}

var _ Backend[int] = (*SoftBackend[int])(nil)

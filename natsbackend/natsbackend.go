// Package natsbackend implements signal.Backend over a NATS JetStream
// key-value bucket. Each backend binds one key; puts are KV puts, gets
// read the latest revision, and subscriptions ride a KV watcher. The
// declared backpressure policy is buffer-all: a slow observer lags but
// misses no revision.
package natsbackend

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/sigstreams/document"
	"github.com/c360/sigstreams/errors"
	"github.com/c360/sigstreams/metric"
	"github.com/c360/sigstreams/signal"
)

// Backend binds one KV key as a typed signal backend.
type Backend[T any] struct {
	bucket jetstream.KeyValue
	key    string

	unit      string
	precision int

	mu        sync.Mutex
	connected bool
}

// Option configures a Backend.
type Option func(*backendConfig)

type backendConfig struct {
	unit      string
	precision int
}

// WithUnit sets the engineering unit reported in the data key.
func WithUnit(unit string) Option {
	return func(c *backendConfig) { c.unit = unit }
}

// WithPrecision sets the display precision reported in the data key.
func WithPrecision(p int) Option {
	return func(c *backendConfig) { c.precision = p }
}

// New creates a backend over the given bucket and key.
func New[T any](bucket jetstream.KeyValue, key string, opts ...Option) *Backend[T] {
	cfg := backendConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Backend[T]{
		bucket:    bucket,
		key:       key,
		unit:      cfg.unit,
		precision: cfg.precision,
	}
}

// Source implements signal.Backend.
func (b *Backend[T]) Source() string {
	bucket := ""
	if b.bucket != nil {
		bucket = b.bucket.Bucket()
	}
	return fmt.Sprintf("nats+kv://%s/%s", bucket, b.key)
}

// DataKey implements signal.Backend.
func (b *Backend[T]) DataKey(name string) document.DataKey {
	var zero T
	return document.DataKey{
		Source:    b.Source(),
		Dtype:     signal.DtypeOf(zero),
		Unit:      b.unit,
		Precision: b.precision,
	}
}

// Connect verifies the key is reachable and, when it already holds a
// value, that the value decodes as T. A missing key is acceptable; the
// first put creates it.
func (b *Backend[T]) Connect(ctx context.Context) error {
	entry, err := b.bucket.Get(ctx, b.key)
	switch {
	case err == nil:
		var v T
		if decodeErr := Decode(entry.Value(), &v); decodeErr != nil {
			return errors.WrapConnection(
				fmt.Errorf("%w: %v", errors.ErrDatatypeMismatch, decodeErr),
				b.Source(), "Connect", "verify datatype")
		}
	case stderrors.Is(err, jetstream.ErrKeyNotFound):
	default:
		return errors.WrapConnection(err, b.Source(), "Connect", "reach bucket")
	}

	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	return nil
}

func (b *Backend[T]) checkConnected() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return errors.ErrNotConnected
	}
	return nil
}

// Get implements signal.Backend; the reading timestamp is the entry's
// creation time.
func (b *Backend[T]) Get(ctx context.Context) (signal.Reading[T], error) {
	if err := b.checkConnected(); err != nil {
		return signal.Reading[T]{}, err
	}
	entry, err := b.bucket.Get(ctx, b.key)
	if err != nil {
		return signal.Reading[T]{}, errors.WrapHardware(err, b.Source(), "Get", "kv get")
	}
	return entryToReading[T](entry)
}

// Put implements signal.Backend; a KV put acknowledgement is the
// backend's completion confirmation.
func (b *Backend[T]) Put(ctx context.Context, value T, wait bool) error {
	if err := b.checkConnected(); err != nil {
		return err
	}
	data, err := Encode(value)
	if err != nil {
		return errors.WrapConfiguration(err, b.Source(), "Put", "encode value")
	}
	if _, err := b.bucket.Put(ctx, b.key, data); err != nil {
		return errors.WrapHardware(err, b.Source(), "Put", "kv put")
	}
	return nil
}

// Subscribe implements signal.Backend with a KV watcher. Every revision
// is delivered in order; the initial value, when present, arrives first.
func (b *Backend[T]) Subscribe(ctx context.Context) (<-chan signal.Reading[T], func(), error) {
	if err := b.checkConnected(); err != nil {
		return nil, nil, err
	}
	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := b.bucket.Watch(watchCtx, b.key)
	if err != nil {
		cancel()
		return nil, nil, errors.WrapConnection(err, b.Source(), "Subscribe", "kv watch")
	}

	ch := make(chan signal.Reading[T])
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			_ = watcher.Stop()
		})
	}
	go func() {
		defer close(ch)
		defer stop()
		for {
			select {
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// A nil entry marks the end of initial values.
				if entry == nil || entry.Operation() != jetstream.KeyValuePut {
					continue
				}
				reading, err := entryToReading[T](entry)
				if err != nil {
					continue
				}
				select {
				case ch <- reading:
				case <-watchCtx.Done():
					return
				}
			case <-watchCtx.Done():
				return
			}
		}
	}()
	return ch, stop, nil
}

// Backpressure implements signal.Backend: every KV revision is
// buffered, never conflated.
func (b *Backend[T]) Backpressure() signal.BackpressurePolicy {
	return signal.PolicyBufferAll
}

func entryToReading[T any](entry jetstream.KeyValueEntry) (signal.Reading[T], error) {
	var v T
	if err := Decode(entry.Value(), &v); err != nil {
		return signal.Reading[T]{}, errors.WrapHardware(
			fmt.Errorf("%w: %v", errors.ErrDatatypeMismatch, err),
			entry.Key(), "Get", "decode value")
	}
	return signal.Reading[T]{
		Value:     v,
		Timestamp: entry.Created(),
		Severity:  document.SeverityNone,
	}, nil
}

// Encode marshals a signal value into its KV representation.
func Encode[T any](value T) ([]byte, error) {
	return json.Marshal(value)
}

// Decode unmarshals a KV value into a typed signal value.
func Decode[T any](data []byte, out *T) error {
	return json.Unmarshal(data, out)
}

// Store holds one NATS connection and the KV bucket signals bind to.
type Store struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	Bucket jetstream.KeyValue
}

// StoreOption configures Open.
type StoreOption func(*storeConfig)

type storeConfig struct {
	metrics *metric.Metrics
}

// WithMetrics records connection status and reconnects into the given
// core metrics.
func WithMetrics(m *metric.Metrics) StoreOption {
	return func(c *storeConfig) { c.metrics = m }
}

// Open connects to NATS and opens (or creates) the named KV bucket.
func Open(ctx context.Context, url, bucket string, opts ...StoreOption) (*Store, error) {
	var cfg storeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	connOpts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	}
	if cfg.metrics != nil {
		connOpts = append(connOpts,
			nats.ReconnectHandler(func(_ *nats.Conn) {
				cfg.metrics.RecordNATSReconnect()
				cfg.metrics.RecordNATSStatus(true)
			}),
			nats.DisconnectErrHandler(func(_ *nats.Conn, _ error) {
				cfg.metrics.RecordNATSStatus(false)
			}),
		)
	}

	conn, err := nats.Connect(url, connOpts...)
	if err != nil {
		return nil, errors.WrapConnection(err, "natsbackend", "Open", "connect to "+url)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, errors.WrapConnection(err, "natsbackend", "Open", "create jetstream context")
	}
	kv, err := js.KeyValue(ctx, bucket)
	if stderrors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:  bucket,
			History: 64,
		})
	}
	if err != nil {
		conn.Close()
		return nil, errors.WrapConnection(err, "natsbackend", "Open", "open bucket "+bucket)
	}
	if cfg.metrics != nil {
		cfg.metrics.RecordNATSStatus(true)
	}
	return &Store{conn: conn, js: js, Bucket: kv}, nil
}

// Conn returns the underlying NATS connection.
func (s *Store) Conn() *nats.Conn { return s.conn }

// Close drains the connection.
func (s *Store) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

var _ signal.Backend[float64] = (*Backend[float64])(nil)

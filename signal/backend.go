package signal

import (
	"context"
	"time"

	"github.com/c360/sigstreams/document"
)

// BackpressurePolicy declares how a backend's subscription stream
// behaves when a consumer falls behind. The policy is a stable
// per-backend choice, never per-call: a given backend always either
// conflates or buffers.
type BackpressurePolicy int

const (
	// PolicyDropLatest drops intermediate updates, keeping only the
	// newest reading for a slow consumer.
	PolicyDropLatest BackpressurePolicy = iota
	// PolicyBufferAll buffers every update; a slow consumer lags but
	// misses nothing.
	PolicyBufferAll
)

// String returns the string representation of BackpressurePolicy
func (p BackpressurePolicy) String() string {
	switch p {
	case PolicyDropLatest:
		return "drop-latest"
	case PolicyBufferAll:
		return "buffer-all"
	default:
		return "unknown"
	}
}

// Reading is one typed, timestamped value from a backend.
type Reading[T any] struct {
	Value     T
	Timestamp time.Time
	Severity  document.Severity
}

// Untyped converts the reading for inclusion in a read document.
func (r Reading[T]) Untyped() document.Reading {
	return document.Reading{Value: r.Value, Timestamp: r.Timestamp, Severity: r.Severity}
}

// Backend is the per-signal connect/get/put/subscribe primitive
// satisfied by protocol implementations. Backends serialize concurrent
// puts to the same physical point themselves; the Signal layers issue
// ordering and caching on top.
type Backend[T any] interface {
	// Source identifies the control point, e.g. "soft://det-counter" or
	// "nats+kv://signals/motor.setpoint".
	Source() string
	// DataKey describes the field this backend produces, keyed under
	// the signal's derived name.
	DataKey(name string) document.DataKey
	// Connect establishes connectivity, verifying the datatype. It must
	// respect ctx's deadline.
	Connect(ctx context.Context) error
	// Get returns the current reading from the control point.
	Get(ctx context.Context) (Reading[T], error)
	// Put writes a value. With wait true it returns only once the
	// backend confirms completion; what "confirms" means is
	// backend-defined (put-ack for some, readback match for others).
	Put(ctx context.Context, value T, wait bool) error
	// Subscribe opens an independent stream of readings. The returned
	// stop function tears down only this subscription.
	Subscribe(ctx context.Context) (<-chan Reading[T], func(), error)
	// Backpressure declares the subscription policy for this backend.
	Backpressure() BackpressurePolicy
}

// DtypeOf maps a Go value onto a document dtype string.
func DtypeOf(v any) string {
	switch v.(type) {
	case bool:
		return "boolean"
	case string:
		return "string"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	case float32, float64:
		return "number"
	default:
		return "object"
	}
}

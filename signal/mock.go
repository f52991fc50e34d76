package signal

import (
	"context"
	"sync"

	"github.com/c360/sigstreams/document"
)

// MockBackend substitutes a real backend during mock-mode connects. It
// stores values in an embedded soft store, records every put for test
// assertions, and lets tests override connect and put behavior to
// exercise failure and timeout paths.
type MockBackend[T any] struct {
	store *SoftBackend[T]

	// ConnectFunc, when set, replaces the default always-succeed
	// connect.
	ConnectFunc func(ctx context.Context) error
	// PutFunc, when set, replaces the default store write. Returning
	// without error still records the put.
	PutFunc func(ctx context.Context, value T, wait bool) error

	mu   sync.Mutex
	puts []T
}

// NewMockBackend creates a mock substitute mirroring the real backend's
// data key, so Describe output stays shaped like real mode.
func NewMockBackend[T any](real Backend[T]) *MockBackend[T] {
	var zero T
	source := "mock+soft://signal"
	if real != nil {
		source = "mock+" + real.Source()
	}
	return &MockBackend[T]{
		store: NewSoftBackend(zero, WithSource(source)),
	}
}

// Source implements Backend.
func (b *MockBackend[T]) Source() string { return b.store.Source() }

// DataKey implements Backend.
func (b *MockBackend[T]) DataKey(name string) document.DataKey {
	return b.store.DataKey(name)
}

// Connect implements Backend.
func (b *MockBackend[T]) Connect(ctx context.Context) error {
	if b.ConnectFunc != nil {
		if err := b.ConnectFunc(ctx); err != nil {
			return err
		}
	}
	return b.store.Connect(ctx)
}

// Get implements Backend.
func (b *MockBackend[T]) Get(ctx context.Context) (Reading[T], error) {
	return b.store.Get(ctx)
}

// Put implements Backend, recording the value before delegating.
func (b *MockBackend[T]) Put(ctx context.Context, value T, wait bool) error {
	b.mu.Lock()
	b.puts = append(b.puts, value)
	b.mu.Unlock()
	if b.PutFunc != nil {
		return b.PutFunc(ctx, value, wait)
	}
	return b.store.Put(ctx, value, wait)
}

// SetValue injects a reading from the test side, as hardware would.
func (b *MockBackend[T]) SetValue(value T) { b.store.SetValue(value) }

// Puts returns a copy of every value written through Put, oldest first.
func (b *MockBackend[T]) Puts() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]T, len(b.puts))
	copy(out, b.puts)
	return out
}

// Subscribe implements Backend.
func (b *MockBackend[T]) Subscribe(ctx context.Context) (<-chan Reading[T], func(), error) {
	return b.store.Subscribe(ctx)
}

// Backpressure implements Backend.
func (b *MockBackend[T]) Backpressure() BackpressurePolicy {
	return b.store.Backpressure()
}

var _ Backend[int] = (*MockBackend[int])(nil)

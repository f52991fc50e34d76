package signal

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sigstreams/device"
	"github.com/c360/sigstreams/errors"
	"github.com/c360/sigstreams/metric"
)

func connectReal[T any](t *testing.T, sig *Signal[T]) {
	t.Helper()
	require.NoError(t, sig.Connect(context.Background(), device.ConnectOptions{}))
}

func TestSetAndObserveRecordMetrics(t *testing.T) {
	m := metric.NewMetrics()
	sig := New(NewSoftBackend(0), WithMetrics[int](m))
	sig.SetName("det-gain")
	connectReal(t, sig)

	require.NoError(t, sig.Set(context.Background(), 4, 0).Wait(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignalPuts.WithLabelValues("det-gain", "success")))

	ctx, cancel := context.WithCancel(context.Background())
	_, err := sig.Observe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ObserveSubscribers.WithLabelValues("det-gain")))

	cancel()
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ObserveSubscribers.WithLabelValues("det-gain")) == 0
	}, time.Second, time.Millisecond, "teardown must release the subscription gauge")
}

func TestSoftGetSet(t *testing.T) {
	sig := NewSoft(1.5, WithSource("soft://gain"), WithUnit("V"))
	sig.SetName("det-gain")
	connectReal(t, sig)

	v, err := sig.GetValue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)

	st := sig.Set(context.Background(), 2.5, 0)
	require.NoError(t, st.Wait(context.Background()))
	assert.True(t, st.Success())

	v, err = sig.GetValue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)
}

func TestGetBeforeConnect(t *testing.T) {
	sig := NewSoft(0)
	sig.SetName("det-counter")

	_, err := sig.GetValue(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	assert.True(t, errors.IsConnection(err))
}

func TestReadOnlySetFails(t *testing.T) {
	sig, setter := NewSoftWithSetter(7)
	sig.SetName("det-frames")
	connectReal(t, sig)

	st := sig.Set(context.Background(), 9, 0)
	require.Error(t, st.Wait(context.Background()))
	assert.True(t, errors.IsConfiguration(st.Err()))

	// The internal setter still works.
	setter(9)
	v, err := sig.GetValue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, v)
}

func TestConnectModeFlipRejected(t *testing.T) {
	sig := NewSoft("idle")
	connectReal(t, sig)

	err := sig.Connect(context.Background(), device.ConnectOptions{Mock: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrModeMismatch)
	assert.Equal(t, ConnectedReal, sig.State())
}

func TestConnectIdempotent(t *testing.T) {
	var connects atomic.Int32
	mock := NewMockBackend[int](nil)
	mock.ConnectFunc = func(ctx context.Context) error {
		connects.Add(1)
		return nil
	}
	sig := New(NewSoftBackend(0), WithMockBackend[int](mock))

	require.NoError(t, sig.Connect(context.Background(), device.ConnectOptions{Mock: true}))
	require.NoError(t, sig.Connect(context.Background(), device.ConnectOptions{Mock: true}))
	assert.Equal(t, int32(1), connects.Load(), "second connect must be a no-op")
	assert.Equal(t, ConnectedMock, sig.State())

	require.NoError(t, sig.Connect(context.Background(),
		device.ConnectOptions{Mock: true, ForceReconnect: true}))
	assert.Equal(t, int32(2), connects.Load())
}

func TestConnectTimeoutClassified(t *testing.T) {
	mock := NewMockBackend[int](nil)
	mock.ConnectFunc = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	sig := New(NewSoftBackend(0), WithMockBackend[int](mock))
	sig.SetName("det-stuck")

	err := sig.Connect(context.Background(),
		device.ConnectOptions{Mock: true, Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConnectionTimeout)
	assert.True(t, errors.IsConnection(err))
	assert.Equal(t, Unconnected, sig.State())
}

func TestSetTimeoutClassified(t *testing.T) {
	mock := NewMockBackend[int](nil)
	mock.PutFunc = func(ctx context.Context, value int, wait bool) error {
		// Never acks: behaves like hardware that never confirms.
		<-ctx.Done()
		return ctx.Err()
	}
	sig := New(NewSoftBackend(0), WithMockBackend[int](mock))
	sig.SetName("det-arm")
	require.NoError(t, sig.Connect(context.Background(), device.ConnectOptions{Mock: true}))

	st := sig.Set(context.Background(), 1, 50*time.Millisecond)
	err := st.Wait(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
	assert.Equal(t, []int{1}, mock.Puts())
}

func TestObserveDeliversCurrentThenUpdates(t *testing.T) {
	backend := NewSoftBackend(10)
	sig := New(backend)
	sig.SetName("det-counter")
	connectReal(t, sig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := sig.Observe(ctx)
	require.NoError(t, err)

	first := recvReading(t, ch)
	assert.Equal(t, 10, first.Value)

	backend.SetValue(11)
	assert.Equal(t, 11, recvReading(t, ch).Value)
}

func TestObserveTeardownIsPerSubscription(t *testing.T) {
	backend := NewSoftBackend(0)
	sig := New(backend)
	connectReal(t, sig)

	ctxA, cancelA := context.WithCancel(context.Background())
	chA, err := sig.Observe(ctxA)
	require.NoError(t, err)
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	chB, err := sig.Observe(ctxB)
	require.NoError(t, err)

	recvReading(t, chA)
	recvReading(t, chB)

	cancelA()
	requireClosed(t, chA)

	// The surviving subscription still receives updates.
	backend.SetValue(5)
	assert.Equal(t, 5, recvReading(t, chB).Value)
}

func TestGetUsesCacheWhileMonitored(t *testing.T) {
	backend := NewSoftBackend(1)
	sig := New(backend)
	connectReal(t, sig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := sig.Observe(ctx)
	require.NoError(t, err)

	backend.SetValue(42)
	assert.Eventually(t, func() bool {
		v, err := sig.GetValue(context.Background())
		return err == nil && v == 42
	}, time.Second, 5*time.Millisecond)
}

func TestSoftSubscribeConflates(t *testing.T) {
	backend := NewSoftBackend(0)
	require.NoError(t, backend.Connect(context.Background()))

	ch, stop, err := backend.Subscribe(context.Background())
	require.NoError(t, err)
	defer stop()

	// Nobody drains: each update displaces the stale one.
	backend.SetValue(1)
	backend.SetValue(2)
	backend.SetValue(3)

	r := <-ch
	assert.Equal(t, 3, r.Value)
}

func TestMockRecordsPuts(t *testing.T) {
	sig := NewSoft(0)
	require.NoError(t, sig.Connect(context.Background(), device.ConnectOptions{Mock: true}))

	mock, ok := sig.mockBackend.(*MockBackend[int])
	require.True(t, ok)

	require.NoError(t, sig.Set(context.Background(), 4, 0).Wait(context.Background()))
	require.NoError(t, sig.Set(context.Background(), 8, 0).Wait(context.Background()))
	assert.Equal(t, []int{4, 8}, mock.Puts())

	// Mock writes are visible through Get, as the real path would be.
	v, err := sig.GetValue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, v)
}

func TestReadAndDescribe(t *testing.T) {
	sig := NewSoft(3.25, WithSource("soft://motor.velocity"), WithUnit("mm/s"), WithPrecision(3))
	sig.SetName("motor-velocity")
	connectReal(t, sig)

	readings, err := sig.Read(context.Background())
	require.NoError(t, err)
	require.Contains(t, readings, "motor-velocity")
	assert.Equal(t, 3.25, readings["motor-velocity"].Value)

	keys, err := sig.Describe(context.Background())
	require.NoError(t, err)
	key := keys["motor-velocity"]
	assert.Equal(t, "soft://motor.velocity", key.Source)
	assert.Equal(t, "number", key.Dtype)
	assert.Equal(t, "mm/s", key.Unit)
	assert.Equal(t, 3, key.Precision)
}

func recvReading[T any](t *testing.T, ch <-chan Reading[T]) Reading[T] {
	t.Helper()
	select {
	case r, ok := <-ch:
		require.True(t, ok, "channel closed before a reading arrived")
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reading")
		return Reading[T]{}
	}
}

func requireClosed[T any](t *testing.T, ch <-chan Reading[T]) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel was not closed")
		}
	}
}

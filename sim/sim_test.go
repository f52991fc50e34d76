package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sigstreams/detector"
	"github.com/c360/sigstreams/device"
	"github.com/c360/sigstreams/document"
	"github.com/c360/sigstreams/errors"
	"github.com/c360/sigstreams/status"
)

// sinkEmitter records flush documents.
type sinkEmitter struct {
	mu   sync.Mutex
	docs []document.StreamDoc
}

func (e *sinkEmitter) Emit(ctx context.Context, det string, doc document.StreamDoc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.docs = append(e.docs, doc)
	return nil
}

func (e *sinkEmitter) ranges() []document.StreamRange {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []document.StreamRange
	for _, d := range e.docs {
		if d.Kind == document.KindStreamDatum {
			out = append(out, d.Datum.Indices)
		}
	}
	return out
}

func TestAcquisitionEndToEnd(t *testing.T) {
	emitter := &sinkEmitter{}
	det, pattern := NewDetector("sim-det", time.Millisecond,
		detector.WithEmitter(emitter),
		detector.WithFlushPeriod(20*time.Millisecond))

	ctx := context.Background()
	require.NoError(t, det.Connect(ctx, device.ConnectOptions{}))

	require.NoError(t, det.Stage(ctx).Wait(ctx))
	info := detector.TriggerInfo{
		Trigger:                detector.TriggerInternal,
		Livetime:               4 * time.Millisecond,
		ExposuresPerCollection: 1,
		CollectionsPerEvent:    1,
		NumberOfEvents:         7,
	}
	require.NoError(t, det.Prepare(ctx, info).Wait(ctx))
	require.NoError(t, det.Kickoff(ctx).Wait(ctx))
	require.NoError(t, det.Complete(ctx).Wait(ctx))

	assert.Equal(t, 7, pattern.Written())

	// Coverage: the emitted ranges tile [0, 7) exactly.
	ranges := emitter.ranges()
	require.NotEmpty(t, ranges)
	next := int64(0)
	for _, r := range ranges {
		assert.Equal(t, next, r.Start)
		assert.Greater(t, r.Stop, r.Start)
		next = r.Stop
	}
	assert.Equal(t, int64(7), next)

	require.NoError(t, det.Unstage(ctx).Wait(ctx))
	assert.Equal(t, detector.StateIdle, det.State())
}

func TestPrepareAgainAfterComplete(t *testing.T) {
	emitter := &sinkEmitter{}
	det, pattern := NewDetector("sim-det", time.Millisecond,
		detector.WithEmitter(emitter),
		detector.WithFlushPeriod(10*time.Millisecond))

	ctx := context.Background()
	require.NoError(t, det.Connect(ctx, device.ConnectOptions{}))
	require.NoError(t, det.Stage(ctx).Wait(ctx))

	info := detector.TriggerInfo{
		Trigger:                detector.TriggerInternal,
		Livetime:               2 * time.Millisecond,
		ExposuresPerCollection: 1,
		CollectionsPerEvent:    1,
		NumberOfEvents:         3,
	}
	run := func() {
		require.NoError(t, det.Prepare(ctx, info).Wait(ctx))
		require.NoError(t, det.Kickoff(ctx).Wait(ctx))
		require.NoError(t, det.Complete(ctx).Wait(ctx))
	}

	run()
	require.Equal(t, detector.StateStaged, det.State())

	// A completed run leaves the detector staged; preparing again must
	// open a fresh resource without an unstage round trip.
	run()
	assert.Equal(t, 3, pattern.Written())

	emitter.mu.Lock()
	var resources int
	for _, d := range emitter.docs {
		if d.Kind == document.KindStreamResource {
			resources++
		}
	}
	emitter.mu.Unlock()
	assert.Equal(t, 2, resources, "each prepare opens its own resource")

	require.NoError(t, det.Unstage(ctx).Wait(ctx))
}

func TestUnboundedRunStopsOnDisarm(t *testing.T) {
	emitter := &sinkEmitter{}
	det, pattern := NewDetector("sim-det", time.Millisecond,
		detector.WithEmitter(emitter),
		detector.WithFlushPeriod(10*time.Millisecond))

	ctx := context.Background()
	require.NoError(t, det.Connect(ctx, device.ConnectOptions{}))
	require.NoError(t, det.Stage(ctx).Wait(ctx))
	info := detector.TriggerInfo{
		Trigger:                detector.TriggerInternal,
		Livetime:               2 * time.Millisecond,
		ExposuresPerCollection: 1,
		CollectionsPerEvent:    1,
		NumberOfEvents:         0,
	}
	require.NoError(t, det.Prepare(ctx, info).Wait(ctx))
	require.NoError(t, det.Kickoff(ctx).Wait(ctx))

	assert.Eventually(t, func() bool { return pattern.Written() >= 5 }, time.Second, time.Millisecond)
	require.NoError(t, det.Stop(ctx))

	final := pattern.Written()
	ranges := emitter.ranges()
	require.NotEmpty(t, ranges)
	assert.Equal(t, int64(final), ranges[len(ranges)-1].Stop,
		"stop must flush every produced collection")
}

func TestLevelTriggerUnsupported(t *testing.T) {
	det, _ := NewDetector("sim-det", time.Millisecond)
	ctx := context.Background()
	require.NoError(t, det.Connect(ctx, device.ConnectOptions{}))
	require.NoError(t, det.Stage(ctx).Wait(ctx))

	info := detector.TriggerInfo{
		Trigger:                detector.TriggerExternalLevel,
		Deadtime:               time.Second,
		ExposuresPerCollection: 1,
		CollectionsPerEvent:    1,
		NumberOfEvents:         1,
	}
	err := det.Prepare(ctx, info).Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnsupportedTrigger)
	assert.Equal(t, detector.StateStaged, det.State())
}

func TestConfigurationSignals(t *testing.T) {
	det, _ := NewDetector("sim-det", time.Millisecond)
	ctx := context.Background()
	require.NoError(t, det.Connect(ctx, device.ConnectOptions{}))

	readings, err := det.ReadConfiguration(ctx)
	require.NoError(t, err)
	require.Contains(t, readings, "sim-det-acquire_time")
	assert.Equal(t, 0.1, readings["sim-det-acquire_time"].Value)

	keys, err := det.DescribeConfiguration(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s", keys["sim-det-acquire_time"].Unit)
}

func TestMotorMoveReportsProgress(t *testing.T) {
	motor := NewMotor(100) // 100 mm/s => 1 mm per 10ms step
	motor.SetName("motor")
	ctx := context.Background()
	require.NoError(t, motor.Connect(ctx, device.ConnectOptions{}))

	var mu sync.Mutex
	var updates []status.WatcherUpdate
	move := motor.Move(ctx, 5)
	move.Watch(func(u status.WatcherUpdate) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	})
	require.NoError(t, move.Wait(ctx))

	pos, err := motor.Readback().GetValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5.0, pos)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, 5.0, last.Target)
	assert.Equal(t, "mm", last.Unit)
	assert.InDelta(t, 1.0, last.Fraction, 0.001)
	for i := 1; i < len(updates); i++ {
		assert.GreaterOrEqual(t, updates[i].Current, updates[i-1].Current)
	}
}

func TestMotorMoveCancelStopsInPlace(t *testing.T) {
	motor := NewMotor(10) // slow: 0.1 mm per step
	motor.SetName("motor")
	ctx := context.Background()
	require.NoError(t, motor.Connect(ctx, device.ConnectOptions{}))

	move := motor.Move(ctx, 50)
	time.Sleep(50 * time.Millisecond)
	move.Cancel()
	require.Error(t, move.Wait(ctx))
	assert.True(t, errors.IsCancelled(move.Err()))

	pos, err := motor.Readback().GetValue(ctx)
	require.NoError(t, err)
	assert.Less(t, pos, 50.0)
}

package detector

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sigstreams/errors"
	"github.com/c360/sigstreams/status"
)

// fakeTriggerLogic supports internal and edge triggering but not level.
type fakeTriggerLogic struct {
	mu       sync.Mutex
	prepared []TriggerMode
}

func (f *fakeTriggerLogic) PrepareInternal(ctx context.Context, info TriggerInfo) error {
	return f.record(TriggerInternal)
}

func (f *fakeTriggerLogic) PrepareEdge(ctx context.Context, info TriggerInfo) error {
	return f.record(TriggerExternalEdge)
}

func (f *fakeTriggerLogic) record(mode TriggerMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepared = append(f.prepared, mode)
	return nil
}

func (f *fakeTriggerLogic) calls() []TriggerMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]TriggerMode, len(f.prepared))
	copy(out, f.prepared)
	return out
}

// fakeArmLogic counts hardware interactions and lets tests hold the
// idle wait open.
type fakeArmLogic struct {
	mu            sync.Mutex
	deadtime      time.Duration
	deadtimeCalls int
	armCalls      int
	disarmCalls   int
	armErr        error
	idle          chan struct{} // nil means WaitForIdle returns at once
}

func (f *fakeArmLogic) Deadtime(ctx context.Context, livetime time.Duration) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadtimeCalls++
	return f.deadtime, nil
}

func (f *fakeArmLogic) Arm(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armCalls++
	return f.armErr
}

func (f *fakeArmLogic) WaitForIdle(ctx context.Context) error {
	f.mu.Lock()
	idle := f.idle
	f.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeArmLogic) Disarm(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disarmCalls++
	return nil
}

func (f *fakeArmLogic) counts() (deadtime, arm, disarm int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deadtimeCalls, f.armCalls, f.disarmCalls
}

// fakeDataLogic hands out one fakeProvider per prepare and counts stops.
type fakeDataLogic struct {
	mu        sync.Mutex
	provider  *fakeProvider
	prepares  int
	unbounded int
	stops     int
}

func (f *fakeDataLogic) PrepareSingle(ctx context.Context, name string, info TriggerInfo) (Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepares++
	f.provider = newFakeProvider(name)
	return f.provider, nil
}

func (f *fakeDataLogic) PrepareUnbounded(ctx context.Context, name string, info TriggerInfo) (Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepares++
	f.unbounded++
	f.provider = newFakeProvider(name)
	return f.provider, nil
}

func (f *fakeDataLogic) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func boundedInfo(events int) TriggerInfo {
	return TriggerInfo{
		Trigger:                TriggerInternal,
		Livetime:               10 * time.Millisecond,
		ExposuresPerCollection: 1,
		CollectionsPerEvent:    1,
		NumberOfEvents:         events,
	}
}

func newTestDetector(arm *fakeArmLogic, data *fakeDataLogic, opts ...Option) (*StandardDetector, *fakeTriggerLogic, *recordEmitter) {
	trig := &fakeTriggerLogic{}
	emitter := &recordEmitter{}
	opts = append([]Option{
		WithDataLogic("primary", data),
		WithEmitter(emitter),
		WithFlushPeriod(10 * time.Millisecond),
	}, opts...)
	det := New(trig, arm, opts...)
	det.SetName("det")
	return det, trig, emitter
}

func stageAndPrepare(t *testing.T, det *StandardDetector, info TriggerInfo) {
	t.Helper()
	require.NoError(t, det.Stage(context.Background()).Wait(context.Background()))
	require.NoError(t, det.Prepare(context.Background(), info).Wait(context.Background()))
}

func TestPrepareRejectsUnsupportedTriggerBeforeHardware(t *testing.T) {
	arm := &fakeArmLogic{deadtime: time.Millisecond}
	data := &fakeDataLogic{}
	det, _, _ := newTestDetector(arm, data)

	require.NoError(t, det.Stage(context.Background()).Wait(context.Background()))

	info := boundedInfo(1)
	info.Trigger = TriggerExternalLevel
	info.Deadtime = time.Second
	err := det.Prepare(context.Background(), info).Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnsupportedTrigger)
	assert.True(t, errors.IsConfiguration(err))

	// No hardware was touched.
	deadtimeCalls, armCalls, _ := arm.counts()
	assert.Zero(t, deadtimeCalls)
	assert.Zero(t, armCalls)
	assert.Zero(t, data.prepares)
}

func TestPrepareValidatesTriggerInfo(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TriggerInfo)
	}{
		{"unknown mode", func(ti *TriggerInfo) { ti.Trigger = "oscillating" }},
		{"zero livetime internal", func(ti *TriggerInfo) { ti.Livetime = 0 }},
		{"zero exposures", func(ti *TriggerInfo) { ti.ExposuresPerCollection = 0 }},
		{"zero collections per event", func(ti *TriggerInfo) { ti.CollectionsPerEvent = 0 }},
		{"negative events", func(ti *TriggerInfo) { ti.NumberOfEvents = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, _, _ := newTestDetector(&fakeArmLogic{}, &fakeDataLogic{})
			require.NoError(t, det.Stage(context.Background()).Wait(context.Background()))

			info := boundedInfo(1)
			tt.mutate(&info)
			err := det.Prepare(context.Background(), info).Wait(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidTriggerInfo)
			assert.True(t, errors.IsConfiguration(err))
		})
	}
}

func TestPrepareChecksDeadtimeMargin(t *testing.T) {
	arm := &fakeArmLogic{deadtime: 10 * time.Millisecond}
	det, _, _ := newTestDetector(arm, &fakeDataLogic{})
	require.NoError(t, det.Stage(context.Background()).Wait(context.Background()))

	info := boundedInfo(1)
	info.Trigger = TriggerExternalEdge
	info.Deadtime = time.Millisecond // shorter than the hardware needs
	err := det.Prepare(context.Background(), info).Wait(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))

	_, armCalls, _ := arm.counts()
	assert.Zero(t, armCalls)
}

func TestExternalPrepareArms(t *testing.T) {
	arm := &fakeArmLogic{deadtime: time.Millisecond}
	det, trig, _ := newTestDetector(arm, &fakeDataLogic{})
	require.NoError(t, det.Stage(context.Background()).Wait(context.Background()))

	info := boundedInfo(3)
	info.Trigger = TriggerExternalEdge
	info.Deadtime = 5 * time.Millisecond
	require.NoError(t, det.Prepare(context.Background(), info).Wait(context.Background()))

	assert.Equal(t, StateArmed, det.State())
	assert.Equal(t, []TriggerMode{TriggerExternalEdge}, trig.calls())
	_, armCalls, _ := arm.counts()
	assert.Equal(t, 1, armCalls)
}

func TestPrepareCachesDeadtime(t *testing.T) {
	arm := &fakeArmLogic{deadtime: 2 * time.Millisecond}
	det, _, _ := newTestDetector(arm, &fakeDataLogic{})
	stageAndPrepare(t, det, boundedInfo(5))

	deadtimeCalls, _, _ := arm.counts()
	assert.Equal(t, 1, deadtimeCalls)
	assert.Equal(t, StatePrepared, det.State())
}

func TestUnboundedPrepareOpensUnboundedResource(t *testing.T) {
	data := &fakeDataLogic{}
	det, _, _ := newTestDetector(&fakeArmLogic{}, data)
	stageAndPrepare(t, det, boundedInfo(0))

	assert.Equal(t, 1, data.unbounded)
}

func TestFullAcquisitionFlow(t *testing.T) {
	arm := &fakeArmLogic{deadtime: time.Millisecond, idle: make(chan struct{})}
	data := &fakeDataLogic{}
	det, _, emitter := newTestDetector(arm, data)
	stageAndPrepare(t, det, boundedInfo(7))

	require.NoError(t, det.Kickoff(context.Background()).Wait(context.Background()))
	assert.Equal(t, StateAcquiring, det.State())
	_, armCalls, _ := arm.counts()
	assert.Equal(t, 1, armCalls)

	complete := det.Complete(context.Background())

	// Frames land while the run is in flight; the hardware goes idle
	// once all seven are done.
	data.provider.advance(4)
	time.Sleep(30 * time.Millisecond)
	data.provider.advance(3)
	close(arm.idle)

	require.NoError(t, complete.Wait(context.Background()))
	assert.Equal(t, StateStaged, det.State())

	// Every collection was reported, contiguously.
	ranges := emitter.ranges()
	require.NotEmpty(t, ranges)
	next := int64(0)
	for _, r := range ranges {
		assert.Equal(t, next, r.Start)
		next = r.Stop
	}
	assert.Equal(t, int64(7), next)

	require.NoError(t, det.Unstage(context.Background()).Wait(context.Background()))
	assert.Equal(t, StateIdle, det.State())
	assert.Equal(t, 1, data.stops)
}

func TestCompleteReportsWatcherProgress(t *testing.T) {
	arm := &fakeArmLogic{deadtime: time.Millisecond, idle: make(chan struct{})}
	data := &fakeDataLogic{}
	det, _, _ := newTestDetector(arm, data)
	stageAndPrepare(t, det, boundedInfo(4))
	require.NoError(t, det.Kickoff(context.Background()).Wait(context.Background()))

	var mu sync.Mutex
	var updates []status.WatcherUpdate
	complete := det.Complete(context.Background())
	complete.Watch(func(u status.WatcherUpdate) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	})

	data.provider.advance(2)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) > 0
	}, time.Second, time.Millisecond)

	data.provider.advance(2)
	close(arm.idle)
	require.NoError(t, complete.Wait(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	last := updates[len(updates)-1]
	assert.Equal(t, 4.0, last.Target)
	assert.Equal(t, "collections", last.Unit)
	assert.Positive(t, last.Current)
}

func TestUnstageAlwaysCleansUpAfterFailure(t *testing.T) {
	arm := &fakeArmLogic{deadtime: time.Millisecond, armErr: fmt.Errorf("shutter jammed")}
	data := &fakeDataLogic{}
	det, _, _ := newTestDetector(arm, data)
	stageAndPrepare(t, det, boundedInfo(2))

	err := det.Kickoff(context.Background()).Wait(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsHardware(err))
	assert.Equal(t, StateDisarmed, det.State())

	_, _, disarmsAfterKickoff := arm.counts()
	assert.Positive(t, disarmsAfterKickoff, "disarm must be attempted even when arm failed")

	require.NoError(t, det.Unstage(context.Background()).Wait(context.Background()))
	assert.Equal(t, StateIdle, det.State())
	assert.Equal(t, 1, data.stops, "data logic must be stopped on unstage")
}

func TestTriggerAutoPrepares(t *testing.T) {
	arm := &fakeArmLogic{deadtime: time.Millisecond}
	data := &fakeDataLogic{}
	det, trig, _ := newTestDetector(arm, data)
	require.NoError(t, det.Stage(context.Background()).Wait(context.Background()))

	require.NoError(t, det.Trigger(context.Background()).Wait(context.Background()))

	assert.Equal(t, []TriggerMode{TriggerInternal}, trig.calls())
	assert.Equal(t, 1, data.prepares)
	_, armCalls, _ := arm.counts()
	assert.Equal(t, 1, armCalls)
}

func TestTriggerFromIdleFails(t *testing.T) {
	det, _, _ := newTestDetector(&fakeArmLogic{}, &fakeDataLogic{})

	err := det.Trigger(context.Background()).Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidState)
}

func TestStopDisarmsMidRun(t *testing.T) {
	arm := &fakeArmLogic{deadtime: time.Millisecond, idle: make(chan struct{})}
	data := &fakeDataLogic{}
	det, _, emitter := newTestDetector(arm, data)
	stageAndPrepare(t, det, boundedInfo(0))
	require.NoError(t, det.Kickoff(context.Background()).Wait(context.Background()))

	data.provider.advance(3)
	require.NoError(t, det.Stop(context.Background()))

	assert.Equal(t, StateDisarmed, det.State())
	_, _, disarms := arm.counts()
	assert.Equal(t, 1, disarms)

	// Stop's final flush reported the collections written so far.
	ranges := emitter.ranges()
	require.NotEmpty(t, ranges)
	assert.Equal(t, int64(3), ranges[len(ranges)-1].Stop)
}

func TestCompleteWithoutActiveRunFails(t *testing.T) {
	arm := &fakeArmLogic{deadtime: time.Millisecond, idle: make(chan struct{})}
	data := &fakeDataLogic{}
	det, _, _ := newTestDetector(arm, data)
	stageAndPrepare(t, det, boundedInfo(2))
	require.NoError(t, det.Kickoff(context.Background()).Wait(context.Background()))

	// A concurrent stop can clear the run before Complete takes the
	// lock; Complete must fail cleanly instead of dereferencing it.
	det.mu.Lock()
	acq := det.acq
	det.acq = nil
	det.mu.Unlock()

	err := det.Complete(context.Background()).Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidState)

	det.mu.Lock()
	det.acq = acq
	det.mu.Unlock()
	close(arm.idle)
	require.NoError(t, det.Stop(context.Background()))
	assert.Equal(t, StateDisarmed, det.State())
}

func TestCollectOnDemand(t *testing.T) {
	arm := &fakeArmLogic{deadtime: time.Millisecond}
	data := &fakeDataLogic{}
	det, _, _ := newTestDetector(arm, data)
	stageAndPrepare(t, det, boundedInfo(5))

	data.provider.advance(5)
	docs, err := det.CollectStreamDocs(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2) // resource + one datum

	keys, err := det.DescribeCollect(context.Background())
	require.NoError(t, err)
	assert.Contains(t, keys, "frame")

	// Nothing new: collect again yields nothing.
	docs, err = det.CollectStreamDocs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMultipleDataLogics(t *testing.T) {
	arm := &fakeArmLogic{deadtime: time.Millisecond}
	file := &fakeDataLogic{}
	stats := &fakeDataLogic{}
	trig := &fakeTriggerLogic{}
	emitter := &recordEmitter{}
	det := New(trig, arm,
		WithDataLogic("file", file),
		WithDataLogic("stats", stats),
		WithEmitter(emitter))
	det.SetName("det")
	stageAndPrepare(t, det, boundedInfo(2))

	assert.Equal(t, 1, file.prepares)
	assert.Equal(t, 1, stats.prepares)

	require.NoError(t, det.Unstage(context.Background()).Wait(context.Background()))
	assert.Equal(t, 1, file.stops)
	assert.Equal(t, 1, stats.stops)
}

package sim

import (
	"context"
	"math"
	"time"

	"github.com/c360/sigstreams/device"
	"github.com/c360/sigstreams/document"
	"github.com/c360/sigstreams/signal"
	"github.com/c360/sigstreams/status"
)

// motorStep is the simulated readback update interval.
const motorStep = 10 * time.Millisecond

// Motor is a simulated axis: a settable setpoint, a read-only readback
// that slews toward it at the configured velocity, and engineering
// units for watcher updates.
type Motor struct {
	*device.Node

	setpoint    *signal.Signal[float64]
	readback    *signal.Signal[float64]
	velocity    *signal.Signal[float64]
	units       *signal.Signal[string]
	setReadback func(float64)
}

// NewMotor creates a simulated motor at position 0 moving at velocity
// units per second.
func NewMotor(velocity float64) *Motor {
	m := &Motor{Node: device.NewNode(nil)}
	m.setpoint = signal.NewSoft(0.0, signal.WithSource("sim://motor.setpoint"), signal.WithUnit("mm"))
	m.readback, m.setReadback = signal.NewSoftWithSetter(0.0,
		signal.WithSource("sim://motor.readback"), signal.WithUnit("mm"))
	m.velocity = signal.NewSoft(velocity, signal.WithSource("sim://motor.velocity"), signal.WithUnit("mm/s"))
	m.units = signal.NewSoft("mm", signal.WithSource("sim://motor.units"))

	m.MustRegister("setpoint", m.setpoint)
	m.MustRegister("readback", m.readback)
	m.MustRegister("velocity", m.velocity)
	m.MustRegister("units", m.units)
	return m
}

// Readback exposes the position signal for observers.
func (m *Motor) Readback() *signal.Signal[float64] { return m.readback }

// Velocity exposes the velocity signal.
func (m *Motor) Velocity() *signal.Signal[float64] { return m.velocity }

// Move slews the readback toward target, reporting progress to
// watchers. The returned status resolves when the readback reaches the
// target; cancelling it stops the motor where it is.
func (m *Motor) Move(ctx context.Context, target float64) *status.AsyncStatus {
	return status.Run(ctx, m.Name()+".move", func(ctx context.Context, notify status.NotifyFunc) error {
		if err := m.setpoint.Set(ctx, target, 0).Wait(ctx); err != nil {
			return err
		}
		initial, err := m.readback.GetValue(ctx)
		if err != nil {
			return err
		}
		velocity, err := m.velocity.GetValue(ctx)
		if err != nil {
			return err
		}
		if velocity <= 0 {
			velocity = 1
		}
		unit, err := m.units.GetValue(ctx)
		if err != nil {
			return err
		}

		pos := initial
		span := math.Abs(target - initial)
		ticker := time.NewTicker(motorStep)
		defer ticker.Stop()
		for pos != target {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
			step := velocity * motorStep.Seconds()
			if math.Abs(target-pos) <= step {
				pos = target
			} else if target > pos {
				pos += step
			} else {
				pos -= step
			}
			m.setReadback(pos)
			u := status.WatcherUpdate{
				Current: pos,
				Initial: initial,
				Target:  target,
				Unit:    unit,
			}
			if span > 0 {
				u.Fraction = math.Abs(pos-initial) / span
			}
			notify(u)
		}
		return nil
	})
}

// Read implements device.Readable with the current position.
func (m *Motor) Read(ctx context.Context) (map[string]document.Reading, error) {
	return m.readback.Read(ctx)
}

// Describe implements device.Readable.
func (m *Motor) Describe(ctx context.Context) (map[string]document.DataKey, error) {
	return m.readback.Describe(ctx)
}

// ReadConfiguration implements device.Configurable with the motor's
// slow-changing fields.
func (m *Motor) ReadConfiguration(ctx context.Context) (map[string]document.Reading, error) {
	return device.GatherReadings(ctx, m.velocity, m.units)
}

// DescribeConfiguration implements device.Configurable.
func (m *Motor) DescribeConfiguration(ctx context.Context) (map[string]document.DataKey, error) {
	return device.GatherDataKeys(ctx, m.velocity, m.units)
}

var (
	_ device.Device       = (*Motor)(nil)
	_ device.Readable     = (*Motor)(nil)
	_ device.Configurable = (*Motor)(nil)
)

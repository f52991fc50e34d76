package sim

import (
	"context"
	"sync"
	"time"

	"github.com/c360/sigstreams/detector"
	"github.com/c360/sigstreams/errors"
)

// Controller is the sim trigger and arm logic in one: it times
// exposures itself, advancing the pattern counter once per
// livetime+deadtime period. Internal and edge triggering are supported;
// level gating is not, so preparing a level-triggered run fails before
// any simulated hardware runs.
type Controller struct {
	pattern  *Pattern
	deadtime time.Duration

	mu     sync.Mutex
	info   detector.TriggerInfo
	idle   chan struct{}
	once   *sync.Once
	cancel context.CancelFunc
}

// NewController creates a controller producing into pattern with the
// given required deadtime.
func NewController(pattern *Pattern, deadtime time.Duration) *Controller {
	return &Controller{pattern: pattern, deadtime: deadtime}
}

// PrepareInternal implements detector.InternalPreparer.
func (c *Controller) PrepareInternal(ctx context.Context, info detector.TriggerInfo) error {
	return c.store(info)
}

// PrepareEdge implements detector.EdgePreparer. The sim treats each
// simulated period as one external pulse.
func (c *Controller) PrepareEdge(ctx context.Context, info detector.TriggerInfo) error {
	return c.store(info)
}

func (c *Controller) store(info detector.TriggerInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info = info
	return nil
}

// Deadtime implements detector.ArmLogic.
func (c *Controller) Deadtime(ctx context.Context, livetime time.Duration) (time.Duration, error) {
	return c.deadtime, nil
}

// Arm implements detector.ArmLogic: the frame clock starts now.
func (c *Controller) Arm(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idle != nil {
		select {
		case <-c.idle:
			// Previous run finished; rearm.
		default:
			return errors.WrapHardware(errors.ErrHardwareFault, "sim-controller", "Arm", "already armed")
		}
	}
	info := c.info
	period := info.Livetime + c.deadtime
	if period <= 0 {
		period = time.Millisecond
	}

	runCtx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	once := &sync.Once{}
	c.idle = idle
	c.once = once
	c.cancel = cancel

	go func() {
		defer once.Do(func() { close(idle) })
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		produced := 0
		total := info.TotalCollections()
		for {
			select {
			case <-ticker.C:
				c.pattern.Advance()
				produced++
				if total > 0 && produced >= total {
					return
				}
			case <-runCtx.Done():
				return
			}
		}
	}()
	return nil
}

// WaitForIdle implements detector.ArmLogic: it returns once the armed
// number of collections has been produced, or at disarm for an
// unbounded run.
func (c *Controller) WaitForIdle(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()
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

// Disarm implements detector.ArmLogic, stopping the frame clock.
func (c *Controller) Disarm(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.once != nil {
		c.once.Do(func() { close(c.idle) })
	}
	return nil
}

var (
	_ detector.InternalPreparer = (*Controller)(nil)
	_ detector.EdgePreparer     = (*Controller)(nil)
	_ detector.ArmLogic         = (*Controller)(nil)
)

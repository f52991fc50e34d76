// Package sim provides in-process stand-ins for detector hardware: a
// pattern generator producing collections on a timer, the controller
// and data logic wired around it, and a simulated motor. The cmd demo
// and the acquisition tests run against these.
package sim

import (
	"context"
	"sync"

	"github.com/c360/sigstreams/device"
	"github.com/c360/sigstreams/signal"
)

// Pattern is the shared collection counter between the sim controller
// (which produces frames) and the sim data logic (which reports them).
// The counter is a soft signal so the data path exercises the same
// observe machinery a hardware-backed counter would.
type Pattern struct {
	mu      sync.Mutex
	written int
	sig     *signal.Signal[int]
	set     func(int)
}

// NewPattern creates a pattern generator with its counter at zero.
func NewPattern() *Pattern {
	sig, set := signal.NewSoftWithSetter(0, signal.WithSource("sim://collections-written"))
	sig.SetName("sim-collections-written")
	return &Pattern{sig: sig, set: set}
}

// Connect binds the counter signal.
func (p *Pattern) Connect(ctx context.Context) error {
	return p.sig.Connect(ctx, device.ConnectOptions{})
}

// Advance records one completed collection.
func (p *Pattern) Advance() {
	p.mu.Lock()
	p.written++
	written := p.written
	p.mu.Unlock()
	p.set(written)
}

// Reset zeroes the counter for a fresh resource.
func (p *Pattern) Reset() {
	p.mu.Lock()
	p.written = 0
	p.mu.Unlock()
	p.set(0)
}

// Written returns the number of collections produced so far.
func (p *Pattern) Written() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written
}

// Signal exposes the counter for observation.
func (p *Pattern) Signal() *signal.Signal[int] {
	return p.sig
}

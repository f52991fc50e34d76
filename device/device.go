// Package device defines the named device tree: the Device interface,
// the Node base that owns child devices and signals, the Connector
// strategy delegated to at connect time, and the verb-protocol
// capability interfaces checked by the driving engine.
package device

import (
	"context"
	"time"

	"github.com/c360/sigstreams/document"
	"github.com/c360/sigstreams/status"
)

// Separator joins ancestor names when deriving a child's global name.
const Separator = "-"

// DefaultConnectTimeout bounds a Connect call that does not supply its
// own timeout.
const DefaultConnectTimeout = 10 * time.Second

// ConnectOptions configures a Connect call.
type ConnectOptions struct {
	// Mock binds every signal in the subtree to an in-memory backend
	// substitute instead of its real backend.
	Mock bool
	// Timeout bounds the whole fan-out; zero means DefaultConnectTimeout
	// unless the context already carries a deadline.
	Timeout time.Duration
	// ForceReconnect discards a previously successful connect attempt.
	ForceReconnect bool
}

// Device is a named node in the device tree. Concrete devices embed
// Node; signals implement it directly as leaves.
type Device interface {
	// Name returns the globally derived name, "" until SetName.
	Name() string
	// SetName names this device and propagates derived names to any
	// children. Idempotent.
	SetName(name string)
	// Parent returns the owning device, nil for a root.
	Parent() Device
	// SetParent records the owner. Called by Node.Register; a device
	// must not be a child of more than one parent.
	SetParent(parent Device)
	// Connect establishes connectivity for this device and its subtree.
	// Idempotent for a repeated call in the same mode.
	Connect(ctx context.Context, opts ConnectOptions) error
}

// Reference is a non-owning link to a device elsewhere in the tree.
// Cross-references use Reference instead of a second ownership edge,
// keeping the tree acyclic.
type Reference struct {
	d Device
}

// NewReference creates a non-owning reference to d.
func NewReference(d Device) Reference {
	return Reference{d: d}
}

// Get returns the referenced device.
func (r Reference) Get() Device {
	return r.d
}

// Readable devices produce a reading per named field.
type Readable interface {
	Read(ctx context.Context) (map[string]document.Reading, error)
	Describe(ctx context.Context) (map[string]document.DataKey, error)
}

// Configurable devices expose slow-changing configuration fields.
type Configurable interface {
	ReadConfiguration(ctx context.Context) (map[string]document.Reading, error)
	DescribeConfiguration(ctx context.Context) (map[string]document.DataKey, error)
}

// Stageable devices reserve and release resources around a run.
type Stageable interface {
	Stage(ctx context.Context) *status.AsyncStatus
	Unstage(ctx context.Context) *status.AsyncStatus
}

// Triggerable devices can take one acquisition on demand.
type Triggerable interface {
	Trigger(ctx context.Context) *status.AsyncStatus
}

// Preparable devices accept run configuration ahead of Kickoff.
type Preparable[T any] interface {
	Prepare(ctx context.Context, value T) *status.AsyncStatus
}

// Flyable devices run free of the driving engine between Kickoff and
// Complete.
type Flyable interface {
	Kickoff(ctx context.Context) *status.AsyncStatus
	Complete(ctx context.Context) *status.AsyncStatus
}

// Collectable devices report accumulated data as stream documents.
type Collectable interface {
	DescribeCollect(ctx context.Context) (map[string]document.DataKey, error)
	CollectStreamDocs(ctx context.Context) ([]document.StreamDoc, error)
}

// Stoppable devices support an explicit best-effort stop.
type Stoppable interface {
	Stop(ctx context.Context) error
}

package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/sigstreams/errors"
	"github.com/c360/sigstreams/metric"
)

// Connector is the strategy a device delegates to at connect time. The
// default connector recursively connects every child; protocol-specific
// connectors may introspect the remote end and register children before
// handing back to the default behavior.
type Connector interface {
	Connect(ctx context.Context, node *Node, opts ConnectOptions) error
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, node *Node, opts ConnectOptions) error

// Connect implements Connector.
func (f ConnectorFunc) Connect(ctx context.Context, node *Node, opts ConnectOptions) error {
	return f(ctx, node, opts)
}

// Child pairs a registration key with the registered device.
type Child struct {
	Key    string
	Device Device
}

// Node is the base for devices owning children. Children are registered
// explicitly by string key; insertion order is significant for document
// field order. Child registration must happen during construction or
// connect, never during active data collection; it is not synchronized
// against concurrent verbs.
type Node struct {
	name      string
	parent    Device
	keys      []string
	children  map[string]Device
	connector Connector
	logger    *slog.Logger
	metrics   *metric.Metrics

	connectMu sync.Mutex
	prevMock  *bool
	connected bool
}

// NewNode creates a Node with an optional connector. A nil connector
// selects the default recursive child connect.
func NewNode(connector Connector) *Node {
	return &Node{
		children:  make(map[string]Device),
		connector: connector,
	}
}

// Name returns the derived device name.
func (n *Node) Name() string {
	return n.name
}

// Parent returns the owning device.
func (n *Node) Parent() Device {
	return n.parent
}

// SetParent records the owning device.
func (n *Node) SetParent(parent Device) {
	n.parent = parent
}

// Connector returns the connect strategy, nil for the default.
func (n *Node) Connector() Connector {
	return n.connector
}

// SetConnector replaces the connect strategy. Must be called before the
// first Connect.
func (n *Node) SetConnector(c Connector) {
	n.connector = c
}

// SetLogger overrides the logger used for connect diagnostics.
func (n *Node) SetLogger(logger *slog.Logger) {
	n.logger = logger
}

// SetMetrics records connect outcomes and durations into the given core
// metrics.
func (n *Node) SetMetrics(m *metric.Metrics) {
	n.metrics = m
}

func (n *Node) log() *slog.Logger {
	if n.logger != nil {
		return n.logger
	}
	return slog.Default().With("device", n.name)
}

// Register adds child under key. Keys must be unique within the node
// and a device must not be registered under more than one parent. If
// the node is already named the child is named immediately, so naming
// after adding children renames only the newly added ones.
func (n *Node) Register(key string, child Device) error {
	if n.children == nil {
		n.children = make(map[string]Device)
	}
	if key == "" {
		return errors.WrapConfiguration(fmt.Errorf("empty child key"), n.name, "Register", "validate key")
	}
	if _, exists := n.children[key]; exists {
		return errors.WrapConfiguration(
			fmt.Errorf("child %q already registered", key), n.name, "Register", "validate key")
	}
	if child.Parent() != nil {
		return errors.WrapConfiguration(
			fmt.Errorf("device %q already owned by %q", key, child.Parent().Name()),
			n.name, "Register", "enforce single-parent ownership")
	}
	n.keys = append(n.keys, key)
	n.children[key] = child
	child.SetParent(n)
	if n.name != "" {
		child.SetName(n.name + Separator + key)
	}
	return nil
}

// MustRegister is Register that panics on error, for use in device
// constructors where the keys are literals.
func (n *Node) MustRegister(key string, child Device) {
	if err := n.Register(key, child); err != nil {
		panic(err)
	}
}

// Children returns the registered children in insertion order.
func (n *Node) Children() []Child {
	out := make([]Child, 0, len(n.keys))
	for _, key := range n.keys {
		out = append(out, Child{Key: key, Device: n.children[key]})
	}
	return out
}

// Child returns the child registered under key, nil if absent.
func (n *Node) Child(key string) Device {
	return n.children[key]
}

// SetName names this node and derives every child's name by
// concatenating with the registration key. Idempotent.
func (n *Node) SetName(name string) {
	n.name = name
	for _, key := range n.keys {
		childName := ""
		if name != "" {
			childName = name + Separator + key
		}
		n.children[key].SetName(childName)
	}
}

// Connect establishes connectivity for the subtree. With an explicit
// Connector it delegates; otherwise all children connect concurrently
// and every failure is collected, so partial failure leaves the
// succeeding children connected and the aggregate error lists each
// failing path.
func (n *Node) Connect(ctx context.Context, opts ConnectOptions) error {
	n.connectMu.Lock()
	defer n.connectMu.Unlock()

	if n.prevMock != nil && *n.prevMock != opts.Mock {
		return errors.WrapConfiguration(errors.ErrModeMismatch, n.name, "Connect", "validate mode")
	}
	if n.connected && !opts.ForceReconnect {
		return nil
	}

	ctx, cancel := withConnectDeadline(ctx, opts.Timeout)
	defer cancel()
	// Children receive the shared deadline through ctx.
	childOpts := ConnectOptions{Mock: opts.Mock, ForceReconnect: opts.ForceReconnect}

	start := time.Now()
	var err error
	if n.connector != nil {
		err = n.connector.Connect(ctx, n, opts)
	} else {
		err = n.connectChildren(ctx, childOpts)
	}
	if n.metrics != nil {
		n.metrics.RecordConnect(n.name, err == nil)
		n.metrics.RecordConnectDuration(n.name, time.Since(start))
	}
	if err != nil {
		n.log().Warn("Connect failed", "mock", opts.Mock, "error", err)
		if n.metrics != nil {
			n.metrics.RecordError(n.name, errors.Classify(err).String())
		}
		return err
	}
	mock := opts.Mock
	n.prevMock = &mock
	n.connected = true
	return nil
}

func (n *Node) connectChildren(ctx context.Context, opts ConnectOptions) error {
	devices := make(map[string]Device, len(n.keys))
	for _, key := range n.keys {
		devices[key] = n.children[key]
	}
	return ConnectAll(ctx, opts, devices)
}

// ConnectAll connects the given devices concurrently, waiting for all of
// them regardless of individual failures. The first failure does not
// cancel siblings; every failure is reported in the aggregate
// NotConnectedError keyed by the device's full derived name, falling
// back to the map key for unnamed devices.
func ConnectAll(ctx context.Context, opts ConnectOptions, devices map[string]Device) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	agg := errors.NewNotConnected()

	for key, dev := range devices {
		wg.Add(1)
		go func(key string, dev Device) {
			defer wg.Done()
			if err := dev.Connect(ctx, opts); err != nil {
				path := dev.Name()
				if path == "" {
					path = key
				}
				mu.Lock()
				agg.Add(path, err)
				mu.Unlock()
			}
		}(key, dev)
	}
	wg.Wait()
	return agg.OrNil()
}

func withConnectDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultConnectTimeout)
}

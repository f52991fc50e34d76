package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360/sigstreams/detector"
	"github.com/c360/sigstreams/document"
)

// frameShape is the simulated detector image size.
var frameShape = []int{240, 320}

// DataLogic is the sim data path: each prepare opens a provider over
// the shared pattern counter, as a file writer would open a dataset.
type DataLogic struct {
	pattern *Pattern

	mu       sync.Mutex
	provider *Provider
	runs     int
}

// NewDataLogic creates the sim data logic over pattern.
func NewDataLogic(pattern *Pattern) *DataLogic {
	return &DataLogic{pattern: pattern}
}

// PrepareSingle implements detector.DataLogic.
func (d *DataLogic) PrepareSingle(ctx context.Context, name string, info detector.TriggerInfo) (detector.Provider, error) {
	return d.open(ctx, name)
}

// PrepareUnbounded implements detector.DataLogic. The sim resource
// grows without a size hint either way.
func (d *DataLogic) PrepareUnbounded(ctx context.Context, name string, info detector.TriggerInfo) (detector.Provider, error) {
	return d.open(ctx, name)
}

func (d *DataLogic) open(ctx context.Context, name string) (detector.Provider, error) {
	if err := d.pattern.Connect(ctx); err != nil {
		return nil, err
	}

	// A provider left over from a completed run is replaced: each prepare
	// starts a fresh resource, so a staged detector can be prepared again
	// without an unstage round trip.
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pattern.Reset()
	d.runs++
	resource := document.NewStreamResource(
		name,
		fmt.Sprintf("sim:///dev/null/%s/run-%d", name, d.runs),
		"sim",
		map[string]any{"shape": frameShape},
	)
	d.provider = &Provider{
		name:    name,
		pattern: d.pattern,
		tracker: detector.NewStreamTracker(*resource),
	}
	return d.provider, nil
}

// Stop implements detector.DataLogic, closing the active provider.
func (d *DataLogic) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.provider = nil
	return nil
}

// Provider reports the pattern counter as a growing stream resource.
type Provider struct {
	name    string
	pattern *Pattern
	tracker *detector.StreamTracker
}

// DataKeys implements detector.Provider.
func (p *Provider) DataKeys(ctx context.Context) (map[string]document.DataKey, error) {
	return map[string]document.DataKey{
		p.name: {
			Source:   p.pattern.Signal().Source(),
			Dtype:    "number",
			Shape:    frameShape,
			External: "STREAM:",
		},
	}, nil
}

// CollectionsWritten implements detector.StreamableProvider. It reads
// the counter directly: the monitored signal updates asynchronously and
// the final flush must see every collection already produced.
func (p *Provider) CollectionsWritten(ctx context.Context) (int, error) {
	return p.pattern.Written(), nil
}

// ObserveCollections implements detector.StreamableProvider.
func (p *Provider) ObserveCollections(ctx context.Context) (<-chan int, error) {
	readings, err := p.pattern.Signal().Observe(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan int, 1)
	go func() {
		defer close(out)
		for r := range readings {
			select {
			case out <- r.Value:
			default:
				// Conflate: progress observers only need the newest count.
				select {
				case <-out:
				default:
				}
				select {
				case out <- r.Value:
				default:
				}
			}
		}
	}()
	return out, nil
}

// StreamDocs implements detector.StreamableProvider.
func (p *Provider) StreamDocs(ctx context.Context, upTo int) ([]document.StreamDoc, error) {
	return p.tracker.Docs(upTo), nil
}

var (
	_ detector.DataLogic          = (*DataLogic)(nil)
	_ detector.StreamableProvider = (*Provider)(nil)
)

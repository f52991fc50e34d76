package detector

import (
	"context"
	"sync"
	"time"

	"github.com/c360/sigstreams/document"
)

// ArmLogic drives the detector hardware's arm/disarm cycle.
type ArmLogic interface {
	// Deadtime returns the minimum gap the hardware needs between
	// exposures of the given livetime. Prepare caches the result so
	// per-frame paths never re-fetch it.
	Deadtime(ctx context.Context, livetime time.Duration) (time.Duration, error)
	// Arm starts acquisition of the prepared collections.
	Arm(ctx context.Context) error
	// WaitForIdle blocks until the hardware has satisfied the prepared
	// number of events, or until ctx is cancelled. It must not return
	// early.
	WaitForIdle(ctx context.Context) error
	// Disarm stops acquisition. It is always attempted on cleanup, even
	// when Arm failed.
	Disarm(ctx context.Context) error
}

// DataLogic owns one data path of a detector (a file writer, a live
// stats reader). Prepare creates a Provider for the coming run; Stop
// destroys it. A detector may compose several DataLogic instances, each
// producing its own document stream keyed by a caller-supplied suffix.
type DataLogic interface {
	// PrepareSingle opens a data resource sized for a bounded run.
	PrepareSingle(ctx context.Context, name string, info TriggerInfo) (Provider, error)
	// PrepareUnbounded opens a growing data resource for a run that
	// ends only at disarm.
	PrepareUnbounded(ctx context.Context, name string, info TriggerInfo) (Provider, error)
	// Stop closes the active resource. Unstage calls it unconditionally.
	Stop(ctx context.Context) error
}

// Provider describes the data a logic instance accumulates. Concrete
// providers additionally implement ReadableProvider or
// StreamableProvider.
type Provider interface {
	DataKeys(ctx context.Context) (map[string]document.DataKey, error)
}

// ReadableProvider reports accumulated data as discrete readings.
type ReadableProvider interface {
	Provider
	Readings(ctx context.Context) (map[string]document.Reading, error)
}

// StreamableProvider reports accumulated data as a growing indexed
// resource. CollectionsWritten is monotonically non-decreasing for the
// lifetime of one provider instance.
type StreamableProvider interface {
	Provider
	// CollectionsWritten returns how many collections have landed.
	CollectionsWritten(ctx context.Context) (int, error)
	// ObserveCollections streams the counter's updates until ctx is
	// cancelled.
	ObserveCollections(ctx context.Context) (<-chan int, error)
	// StreamDocs returns the documents covering collections up to upTo:
	// the stream resource doc on first call, then one datum doc per
	// non-empty index interval since the previous call.
	StreamDocs(ctx context.Context, upTo int) ([]document.StreamDoc, error)
}

// StreamTracker maintains the emit state behind StreamDocs: the
// resource document goes out exactly once, and successive datum
// documents carry contiguous, non-overlapping half-open index ranges
// whose union covers [0, upTo).
type StreamTracker struct {
	mu          sync.Mutex
	resource    document.StreamResource
	sentRes     bool
	lastEmitted int
}

// NewStreamTracker creates a tracker for one provider instance.
func NewStreamTracker(resource document.StreamResource) *StreamTracker {
	return &StreamTracker{resource: resource}
}

// LastEmitted returns the stop index of the last emitted range.
func (t *StreamTracker) LastEmitted() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastEmitted
}

// Docs returns the documents for collections up to upTo. The first call
// includes the stream resource document; a call with no new collections
// returns nothing.
func (t *StreamTracker) Docs(upTo int) []document.StreamDoc {
	t.mu.Lock()
	defer t.mu.Unlock()

	var docs []document.StreamDoc
	if !t.sentRes {
		docs = append(docs, document.StreamDoc{Kind: document.KindStreamResource, Resource: &t.resource})
		t.sentRes = true
	}
	if upTo > t.lastEmitted {
		datum := document.NewStreamDatum(t.resource.UID, document.StreamRange{
			Start: int64(t.lastEmitted),
			Stop:  int64(upTo),
		})
		docs = append(docs, document.StreamDoc{Kind: document.KindStreamDatum, Datum: datum})
		t.lastEmitted = upTo
	}
	return docs
}

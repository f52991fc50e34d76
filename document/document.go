// Package document defines the data-availability documents emitted by
// signals and detectors: readings, data keys describing fields, and the
// stream resource/datum pair that reports growing indexed data.
package document

import (
	"time"

	"github.com/google/uuid"
)

// Severity reports the alarm state attached to a reading.
type Severity int

const (
	// SeverityNone indicates a reading with no alarm
	SeverityNone Severity = iota
	// SeverityMinor indicates a minor alarm
	SeverityMinor
	// SeverityMajor indicates a major alarm
	SeverityMajor
	// SeverityInvalid indicates the reading itself cannot be trusted
	SeverityInvalid
)

// String returns the string representation of Severity
func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityMinor:
		return "minor"
	case SeverityMajor:
		return "major"
	case SeverityInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Reading is one timestamped value from a signal, as it appears in a
// read document. The value is untyped here; typed access goes through
// signal.Signal.
type Reading struct {
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
}

// DataKey describes the type and shape of one field produced by a
// readable or streamable provider.
type DataKey struct {
	Source    string `json:"source"`
	Dtype     string `json:"dtype"`
	Shape     []int  `json:"shape,omitempty"`
	Unit      string `json:"unit,omitempty"`
	Precision int    `json:"precision,omitempty"`
	// External marks fields whose data lives in a stream resource
	// rather than inline in events.
	External string `json:"external,omitempty"`
}

// StreamRange is a half-open [Start, Stop) interval of collection indices.
type StreamRange struct {
	Start int64 `json:"start"`
	Stop  int64 `json:"stop"`
}

// Len returns the number of indices covered by the range.
func (r StreamRange) Len() int64 {
	return r.Stop - r.Start
}

// Empty reports whether the range covers no indices.
func (r StreamRange) Empty() bool {
	return r.Stop <= r.Start
}

// StreamResource announces a growing indexed resource that a data
// provider is writing, e.g. one dataset inside an HDF5 file. It is
// emitted once per provider per run, before any StreamDatum.
type StreamResource struct {
	UID        string         `json:"uid"`
	DataKey    string         `json:"data_key"`
	URI        string         `json:"uri"`
	Provider   string         `json:"provider"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// StreamDatum reports that the indices in Indices are now available in
// the resource identified by ResourceUID. Successive datums for one
// resource carry contiguous, non-overlapping ranges.
type StreamDatum struct {
	UID         string      `json:"uid"`
	ResourceUID string      `json:"stream_resource"`
	Indices     StreamRange `json:"indices"`
	SeqNums     StreamRange `json:"seq_nums"`
}

// StreamDocKind discriminates the documents in a stream batch.
type StreamDocKind string

const (
	// KindStreamResource labels a StreamResource document
	KindStreamResource StreamDocKind = "stream_resource"
	// KindStreamDatum labels a StreamDatum document
	KindStreamDatum StreamDocKind = "stream_datum"
)

// StreamDoc is one document in a collect batch: exactly one of Resource
// or Datum is set, matching Kind.
type StreamDoc struct {
	Kind     StreamDocKind   `json:"kind"`
	Resource *StreamResource `json:"stream_resource,omitempty"`
	Datum    *StreamDatum    `json:"stream_datum,omitempty"`
}

// NewStreamResource creates a StreamResource with a fresh UID.
func NewStreamResource(dataKey, uri, provider string, parameters map[string]any) *StreamResource {
	return &StreamResource{
		UID:        uuid.NewString(),
		DataKey:    dataKey,
		URI:        uri,
		Provider:   provider,
		Parameters: parameters,
	}
}

// NewStreamDatum creates a StreamDatum with a fresh UID covering the
// given index range of a resource.
func NewStreamDatum(resourceUID string, indices StreamRange) *StreamDatum {
	return &StreamDatum{
		UID:         uuid.NewString(),
		ResourceUID: resourceUID,
		Indices:     indices,
		SeqNums:     indices,
	}
}

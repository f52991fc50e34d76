// Package detector provides StandardDetector, the acquisition state
// machine composed from trigger, arm and data logic strategies, and the
// flush collector that batches written collections into bounded
// index-range notifications.
package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/c360/sigstreams/errors"
)

// TriggerMode selects how collections are initiated.
type TriggerMode string

const (
	// TriggerInternal means the detector times its own exposures.
	TriggerInternal TriggerMode = "internal"
	// TriggerExternalEdge means each hardware pulse edge starts one
	// exposure.
	TriggerExternalEdge TriggerMode = "external_edge"
	// TriggerExternalLevel means exposures run while the hardware gate
	// is held.
	TriggerExternalLevel TriggerMode = "external_level"
)

// TriggerInfo is the immutable run configuration passed to Prepare.
type TriggerInfo struct {
	Trigger                TriggerMode   `json:"trigger" yaml:"trigger"`
	Livetime               time.Duration `json:"livetime" yaml:"livetime"`
	Deadtime               time.Duration `json:"deadtime" yaml:"deadtime"`
	ExposuresPerCollection int           `json:"exposures_per_collection" yaml:"exposures_per_collection"`
	CollectionsPerEvent    int           `json:"collections_per_event" yaml:"collections_per_event"`
	// NumberOfEvents of 0 means run until explicitly disarmed.
	NumberOfEvents int `json:"number_of_events" yaml:"number_of_events"`
}

// Validate checks the numeric bounds and mode-dependent requirements.
func (ti TriggerInfo) Validate() error {
	fail := func(msg string, args ...any) error {
		return errors.WrapConfiguration(
			fmt.Errorf("%w: %s", errors.ErrInvalidTriggerInfo, fmt.Sprintf(msg, args...)),
			"TriggerInfo", "Validate", "check fields")
	}
	switch ti.Trigger {
	case TriggerInternal, TriggerExternalEdge, TriggerExternalLevel:
	default:
		return fail("unknown trigger mode %q", ti.Trigger)
	}
	if ti.Trigger == TriggerInternal && ti.Livetime <= 0 {
		return fail("internal trigger requires livetime > 0, got %s", ti.Livetime)
	}
	if ti.Livetime < 0 {
		return fail("livetime must be >= 0, got %s", ti.Livetime)
	}
	if ti.Deadtime < 0 {
		return fail("deadtime must be >= 0, got %s", ti.Deadtime)
	}
	if ti.ExposuresPerCollection < 1 {
		return fail("exposures_per_collection must be >= 1, got %d", ti.ExposuresPerCollection)
	}
	if ti.CollectionsPerEvent < 1 {
		return fail("collections_per_event must be >= 1, got %d", ti.CollectionsPerEvent)
	}
	if ti.NumberOfEvents < 0 {
		return fail("number_of_events must be >= 0, got %d", ti.NumberOfEvents)
	}
	return nil
}

// Unbounded reports whether the run has no event count and continues
// until explicitly disarmed.
func (ti TriggerInfo) Unbounded() bool {
	return ti.NumberOfEvents == 0
}

// TotalCollections returns the number of collections the run will
// produce, 0 for an unbounded run.
func (ti TriggerInfo) TotalCollections() int {
	return ti.NumberOfEvents * ti.CollectionsPerEvent
}

// OneShot returns the TriggerInfo used when Trigger is called without a
// preceding Prepare: a single internally-timed event.
func OneShot(livetime time.Duration) TriggerInfo {
	return TriggerInfo{
		Trigger:                TriggerInternal,
		Livetime:               livetime,
		ExposuresPerCollection: 1,
		CollectionsPerEvent:    1,
		NumberOfEvents:         1,
	}
}

// TriggerLogic is the composable trigger strategy attached to a
// StandardDetector. A strategy advertises the modes it supports by
// implementing the matching preparer interfaces below; Prepare checks
// capability presence and fails with a configuration error before any
// hardware interaction when the requested mode is missing.
type TriggerLogic any

// InternalPreparer supports internally-timed exposures.
type InternalPreparer interface {
	PrepareInternal(ctx context.Context, info TriggerInfo) error
}

// EdgePreparer supports edge-triggered exposures.
type EdgePreparer interface {
	PrepareEdge(ctx context.Context, info TriggerInfo) error
}

// LevelPreparer supports level-gated exposures.
type LevelPreparer interface {
	PrepareLevel(ctx context.Context, info TriggerInfo) error
}

// prepareFor resolves the preparer for the requested mode, or an
// ErrUnsupportedTrigger configuration error naming the mode.
func prepareFor(logic TriggerLogic, mode TriggerMode) (func(context.Context, TriggerInfo) error, error) {
	switch mode {
	case TriggerInternal:
		if p, ok := logic.(InternalPreparer); ok {
			return p.PrepareInternal, nil
		}
	case TriggerExternalEdge:
		if p, ok := logic.(EdgePreparer); ok {
			return p.PrepareEdge, nil
		}
	case TriggerExternalLevel:
		if p, ok := logic.(LevelPreparer); ok {
			return p.PrepareLevel, nil
		}
	}
	return nil, errors.WrapConfiguration(
		fmt.Errorf("%w: %s", errors.ErrUnsupportedTrigger, mode),
		"TriggerLogic", "Prepare", "check trigger capability")
}

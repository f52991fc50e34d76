package sim

import (
	"time"

	"github.com/c360/sigstreams/detector"
	"github.com/c360/sigstreams/signal"
)

// NewDetector wires a pattern generator, controller and data logic into
// a ready-to-connect StandardDetector. The pattern is returned so
// callers can inspect production directly.
func NewDetector(name string, deadtime time.Duration, opts ...detector.Option) (*detector.StandardDetector, *Pattern) {
	pattern := NewPattern()
	ctrl := NewController(pattern, deadtime)
	data := NewDataLogic(pattern)

	acquireTime := signal.NewSoft(0.1,
		signal.WithSource("sim://"+name+".acquire_time"), signal.WithUnit("s"), signal.WithPrecision(3))
	acquirePeriod := signal.NewSoft(0.11,
		signal.WithSource("sim://"+name+".acquire_period"), signal.WithUnit("s"), signal.WithPrecision(3))

	det := detector.New(ctrl, ctrl, append([]detector.Option{
		detector.WithDataLogic("primary", data),
		detector.WithConfigSignals(acquireTime, acquirePeriod),
	}, opts...)...)
	det.MustRegister("acquire_time", acquireTime)
	det.MustRegister("acquire_period", acquirePeriod)
	det.SetName(name)
	return det, pattern
}

// Package divergence decides whether a correlation sample is a tradeable divergence.
package divergence

import (
	"errors"
	"fmt"

	"corrdiv/internal/config"
	"corrdiv/internal/domain"
)

// ErrInsufficientHistory is returned when the filter lookbacks exceed the supplied history.
var ErrInsufficientHistory = errors.New("insufficient history for divergence filters")

// Trace describes how a sample was evaluated. Used for logging.
type Trace struct {
	DeviationRatio float64
	AboveThreshold bool
	Suppressed     bool // already signaled in the current divergence episode
	Side           domain.Side
	Policy         string
	Momentum       float64
	MomentumPass   bool
	VolumePass     bool
}

// Detector emits at most one signal per asset per divergence episode.
// An asset that signaled stays disarmed until its deviation returns to or below the threshold.
// Not safe for concurrent use; the evaluation pass is single-threaded.
type Detector struct {
	cfg      config.Divergence
	disarmed map[string]bool
}

// NewDetector creates a detector from validated configuration.
func NewDetector(cfg config.Divergence) *Detector {
	return &Detector{
		cfg:      cfg,
		disarmed: make(map[string]bool),
	}
}

// Required returns the number of trailing points Evaluate needs per asset.
func (d *Detector) Required() int {
	n := d.cfg.DirectionLookback
	if d.cfg.Momentum.Lookback > n {
		n = d.cfg.Momentum.Lookback
	}
	if d.cfg.Volume.Lookback > n {
		n = d.cfg.Volume.Lookback
	}
	return n + 1
}

// Evaluate checks the latest sample of a pair. ref and tracked end at the sample's tick.
// Returns a nil signal when no divergence qualifies.
func (d *Detector) Evaluate(sample domain.CorrelationSample, ref, tracked []domain.PricePoint) (*domain.Signal, Trace, error) {
	asset := sample.Pair.Tracked
	trace := Trace{DeviationRatio: sample.DeviationRatio}

	if sample.DeviationRatio <= d.cfg.Threshold {
		delete(d.disarmed, asset)
		return nil, trace, nil
	}
	trace.AboveThreshold = true

	if d.disarmed[asset] {
		trace.Suppressed = true
		return nil, trace, nil
	}

	need := d.Required()
	if len(ref) < need || len(tracked) < need {
		return nil, trace, fmt.Errorf("%w: need %d points, have %d/%d", ErrInsufficientHistory, need, len(ref), len(tracked))
	}

	lb := d.cfg.DirectionLookback
	side, policy := DirectionPolicy(sample, periodReturn(tracked, lb), periodReturn(ref, lb))
	trace.Side = side
	trace.Policy = policy

	if m := d.cfg.Momentum; m.Lookback > 0 {
		trace.Momentum = periodReturn(tracked, m.Lookback)
		trace.MomentumPass = momentumConfirms(side, trace.Momentum, m)
	}
	if v := d.cfg.Volume; v.Lookback > 0 {
		trace.VolumePass = volumeConfirms(tracked, v)
	}

	if !trace.MomentumPass && !trace.VolumePass {
		return nil, trace, nil
	}

	last := tracked[len(tracked)-1]
	d.disarmed[asset] = true

	return &domain.Signal{
		Asset:         asset,
		Side:          side,
		Strength:      sample.DeviationRatio,
		GeneratedAtMs: sample.TimestampMs,
		Policy:        policy,
		Price:         last.Close,
		Sample:        sample,
	}, trace, nil
}

// Reset re-arms asset, used when its history restarts.
func (d *Detector) Reset(asset string) {
	delete(d.disarmed, asset)
}

// momentumConfirms passes LONG below the upper bound and SHORT above the lower bound.
func momentumConfirms(side domain.Side, momentum float64, m config.MomentumFilter) bool {
	if side == domain.SideLong {
		return momentum < m.Upper
	}
	return momentum > m.Lower
}

// volumeConfirms compares the latest volume to the mean of the preceding lookback volumes.
func volumeConfirms(pts []domain.PricePoint, v config.VolumeFilter) bool {
	n := len(pts)
	sum := 0.0
	for _, p := range pts[n-1-v.Lookback : n-1] {
		sum += p.Volume
	}
	avg := sum / float64(v.Lookback)
	if avg <= 0 {
		return pts[n-1].Volume > 0
	}
	return pts[n-1].Volume > v.Multiple*avg
}

// periodReturn is the close-to-close return over the last n intervals.
func periodReturn(pts []domain.PricePoint, n int) float64 {
	last := pts[len(pts)-1].Close
	prev := pts[len(pts)-1-n].Close
	if prev == 0 {
		return 0
	}
	return last/prev - 1
}

package correlation

import "math"

// Regime summarizes how strongly the tracked assets move with the reference.
type Regime string

const (
	RegimeUnknown Regime = "UNKNOWN"
	RegimeHigh    Regime = "HIGH"
	RegimeMixed   Regime = "MIXED"
	RegimeLow     Regime = "LOW"
)

// Regime thresholds on mean absolute correlation.
const (
	highRegimeAbove = 0.7
	lowRegimeBelow  = 0.3
)

// ClassifyRegime classifies a set of window correlations by their mean absolute value.
func ClassifyRegime(correlations []float64) Regime {
	if len(correlations) == 0 {
		return RegimeUnknown
	}
	sum := 0.0
	for _, c := range correlations {
		sum += math.Abs(c)
	}
	avg := sum / float64(len(correlations))

	switch {
	case avg > highRegimeAbove:
		return RegimeHigh
	case avg < lowRegimeBelow:
		return RegimeLow
	default:
		return RegimeMixed
	}
}

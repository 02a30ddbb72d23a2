package sizing

import (
	"math"

	"corrdiv/internal/config"
)

// CloseSource reads an asset's trailing close prices, oldest first.
type CloseSource interface {
	Closes(asset string, n int) ([]float64, error)
}

// VolatilityGauge compares an asset's recent realized volatility with its
// longer history. Calm markets earn one more leverage tier, turbulent ones one less.
type VolatilityGauge struct {
	cfg    config.Volatility
	closes CloseSource
}

// NewVolatilityGauge creates a gauge over closes.
func NewVolatilityGauge(cfg config.Volatility, closes CloseSource) *VolatilityGauge {
	return &VolatilityGauge{cfg: cfg, closes: closes}
}

// Ratio returns recent over historical return standard deviation.
// ok is false while the history is short or flat.
func (g *VolatilityGauge) Ratio(asset string) (ratio float64, ok bool) {
	closes, err := g.closes.Closes(asset, g.cfg.HistoryBars+1)
	if err != nil {
		return 0, false
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if !(closes[i-1] > 0) {
			return 0, false
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}

	historical := stddev(returns)
	if !(historical > 0) {
		return 0, false
	}
	return stddev(returns[len(returns)-g.cfg.RecentBars:]) / historical, true
}

// TierShift returns -1 above HighRatio, +1 below LowRatio and 0 otherwise or
// without enough history.
func (g *VolatilityGauge) TierShift(asset string) int {
	if g == nil || !g.cfg.Enabled {
		return 0
	}
	r, ok := g.Ratio(asset)
	switch {
	case !ok:
		return 0
	case r > g.cfg.HighRatio:
		return -1
	case r < g.cfg.LowRatio:
		return 1
	}
	return 0
}

// stddev is the sample standard deviation.
func stddev(v []float64) float64 {
	if len(v) < 2 {
		return 0
	}
	mean := 0.0
	for _, x := range v {
		mean += x
	}
	mean /= float64(len(v))

	ss := 0.0
	for _, x := range v {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(v)-1))
}

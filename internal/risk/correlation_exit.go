package risk

import (
	"sort"

	"corrdiv/internal/correlation"
	"corrdiv/internal/domain"
)

// CloseSource supplies the trailing closes used to correlate open positions.
type CloseSource interface {
	Closes(asset string, n int) ([]float64, error)
}

// CorrelationExits flags pairs of open positions in a shared sector whose close
// prices correlate above the configured emergency threshold over window samples.
// Returns asset -> partner asset for every flagged position.
func (m *Manager) CorrelationExits(state domain.PortfolioState, closes CloseSource, window int) map[string]string {
	if m.cfg.CorrelationExitThreshold <= 0 || len(state.OpenPositions) < 2 {
		return nil
	}

	assets := make([]string, 0, len(state.OpenPositions))
	for a := range state.OpenPositions {
		if m.sectorOf[a] != "" {
			assets = append(assets, a)
		}
	}
	sort.Strings(assets)

	var flagged map[string]string
	for i := 0; i < len(assets); i++ {
		for j := i + 1; j < len(assets); j++ {
			a, b := assets[i], assets[j]
			if m.sectorOf[a] != m.sectorOf[b] {
				continue
			}
			xa, err := closes.Closes(a, window)
			if err != nil {
				continue
			}
			xb, err := closes.Closes(b, window)
			if err != nil {
				continue
			}
			r, err := correlation.Pearson(xa, xb)
			if err != nil || r <= m.cfg.CorrelationExitThreshold {
				continue
			}
			if flagged == nil {
				flagged = make(map[string]string)
			}
			if _, ok := flagged[a]; !ok {
				flagged[a] = b
			}
			if _, ok := flagged[b]; !ok {
				flagged[b] = a
			}
		}
	}
	return flagged
}

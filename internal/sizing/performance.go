package sizing

import (
	"sync"

	"corrdiv/internal/config"
	"corrdiv/internal/domain"
)

// Score is an asset's recent track record.
type Score struct {
	Trades           int
	WinRate          float64
	CumulativeReturn float64 // sum of margin returns
}

// Tracker keeps the last Window closed-trade outcomes per asset.
// Fed by the lifecycle manager's closed trades.
type Tracker struct {
	mu      sync.RWMutex
	cfg     config.Performance
	history map[string][]float64 // asset -> margin returns, oldest first
}

// NewTracker creates a performance tracker.
func NewTracker(cfg config.Performance) *Tracker {
	return &Tracker{
		cfg:     cfg,
		history: make(map[string][]float64),
	}
}

// Record appends a closed trade's outcome.
func (t *Tracker) Record(trade domain.ClosedTrade) {
	if t.cfg.Window <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	h := append(t.history[trade.Asset], trade.ReturnPct())
	if len(h) > t.cfg.Window {
		h = h[len(h)-t.cfg.Window:]
	}
	t.history[trade.Asset] = h
}

// Score returns the asset's record over the retained window.
func (t *Tracker) Score(asset string) Score {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h := t.history[asset]
	if len(h) == 0 {
		return Score{}
	}
	wins := 0
	cum := 0.0
	for _, r := range h {
		if r > 0 {
			wins++
		}
		cum += r
	}
	return Score{
		Trades:           len(h),
		WinRate:          float64(wins) / float64(len(h)),
		CumulativeReturn: cum,
	}
}

// TierShift returns +1, 0 or -1: the number of leverage tiers the record moves a signal.
// Assets with fewer than MinTrades trades are not adjusted.
func (t *Tracker) TierShift(asset string) int {
	if t == nil || !t.cfg.Enabled {
		return 0
	}
	s := t.Score(asset)
	if s.Trades < t.cfg.MinTrades {
		return 0
	}
	switch {
	case s.WinRate >= t.cfg.PromoteWinRate && s.CumulativeReturn > 0:
		return 1
	case s.WinRate < t.cfg.DemoteWinRate:
		return -1
	default:
		return 0
	}
}

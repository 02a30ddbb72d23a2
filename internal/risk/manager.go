// Package risk enforces portfolio-level limits on new positions and flags
// open positions that must be force-closed.
package risk

import (
	"fmt"
	"sort"

	"corrdiv/internal/config"
	"corrdiv/internal/domain"
)

const dayMs = int64(24 * 60 * 60 * 1000)

// Manager applies position, exposure and daily-drawdown limits.
// It implements sizing.Gate. Not safe for concurrent use.
type Manager struct {
	cfg      config.Risk
	sectorOf map[string]string

	started            bool
	day                int64 // UTC day index of the current trading day
	dayStartBalance    float64
	dayStartRealized   float64
	dayStartUnrealized float64 // open positions marked at the previous close
	tradesToday        int
	tripped            bool
}

// NewManager creates a risk manager from validated configuration.
func NewManager(cfg config.Risk) *Manager {
	return &Manager{
		cfg:      cfg,
		sectorOf: cfg.SectorIndex(),
	}
}

// BeginTick rolls the trading day at 00:00 UTC. On a new day the breaker resets
// and the day-start balance, realized and unrealized P&L are captured.
// unrealized must mark open positions at the last prices seen before nowMs.
// Returns true when a new day started.
func (m *Manager) BeginTick(nowMs int64, state domain.PortfolioState, unrealized float64) bool {
	day := floorDiv(nowMs, dayMs)
	if m.started && day == m.day {
		return false
	}
	m.started = true
	m.day = day
	m.dayStartBalance = state.Balance
	m.dayStartRealized = state.RealizedPnLTotal
	m.dayStartUnrealized = unrealized
	m.tradesToday = 0
	m.tripped = false
	return true
}

// DayPnL is the change in realized plus unrealized P&L since the day started.
// Losses carried in open positions from earlier days do not count.
func (m *Manager) DayPnL(state domain.PortfolioState, unrealized float64) float64 {
	return state.RealizedPnLTotal - m.dayStartRealized + unrealized - m.dayStartUnrealized
}

// UpdateBreaker trips the daily-drawdown breaker when day P&L falls to the limit.
// Once tripped it stays latched until the next day. Returns true when it trips on this call.
func (m *Manager) UpdateBreaker(state domain.PortfolioState, unrealized float64) bool {
	if m.tripped || m.dayStartBalance <= 0 {
		return false
	}
	if m.DayPnL(state, unrealized) <= -m.cfg.DailyDrawdownLimit*m.dayStartBalance {
		m.tripped = true
		return true
	}
	return false
}

// Tripped reports whether new positions are blocked for the rest of the day.
func (m *Manager) Tripped() bool {
	return m.tripped
}

// RecordOpen counts an opened position toward the daily trade cap.
func (m *Manager) RecordOpen() {
	m.tradesToday++
}

// Check returns a *domain.RiskBreach if opening decision would violate a limit.
func (m *Manager) Check(decision domain.SizingDecision, state domain.PortfolioState) error {
	breach := func(rule, format string, args ...interface{}) error {
		return &domain.RiskBreach{Asset: decision.Asset, Rule: rule, Detail: fmt.Sprintf(format, args...)}
	}

	if state.HasPosition(decision.Asset) {
		return breach(domain.RuleAssetOpen, "position already open")
	}
	if m.tripped {
		return breach(domain.RuleDrawdownBreaker, "daily drawdown limit %.2f%% reached", m.cfg.DailyDrawdownLimit*100)
	}
	if m.cfg.MaxDailyTrades > 0 && m.tradesToday >= m.cfg.MaxDailyTrades {
		return breach(domain.RuleMaxDailyTrades, "%d trades opened today", m.tradesToday)
	}
	if n := len(state.OpenPositions); n >= m.cfg.MaxOpenPositions {
		return breach(domain.RuleMaxPositions, "%d of %d positions open", n, m.cfg.MaxOpenPositions)
	}

	sector := m.sectorOf[decision.Asset]
	var sectorCount int
	var sectorExposure float64
	if sector != "" {
		for _, p := range state.OpenPositions {
			if m.sectorOf[p.Asset] == sector {
				sectorCount++
				sectorExposure += p.Notional()
			}
		}
		if m.cfg.MaxPositionsPerSector > 0 && sectorCount >= m.cfg.MaxPositionsPerSector {
			return breach(domain.RuleSectorPositions, "%d of %d positions open in %s", sectorCount, m.cfg.MaxPositionsPerSector, sector)
		}
	}

	limit := m.cfg.MaxExposureFraction * state.Balance
	if exposure := state.Exposure() + decision.NotionalSize; exposure > limit {
		return breach(domain.RuleMaxExposure, "exposure %.2f above %.2f", exposure, limit)
	}
	if sector != "" && m.cfg.MaxSectorExposureFraction > 0 {
		sectorLimit := m.cfg.MaxSectorExposureFraction * state.Balance
		if exposure := sectorExposure + decision.NotionalSize; exposure > sectorLimit {
			return breach(domain.RuleSectorExposure, "%s exposure %.2f above %.2f", sector, exposure, sectorLimit)
		}
	}
	return nil
}

// Prioritize orders signals for admission: strength descending, then asset ascending.
func Prioritize(signals []domain.Signal) {
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].Strength != signals[j].Strength {
			return signals[i].Strength > signals[j].Strength
		}
		return signals[i].Asset < signals[j].Asset
	})
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

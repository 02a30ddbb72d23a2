// Package lifecycle owns positions and the portfolio: opening on fills,
// closing on exit rules, and reconciling against an authoritative account.
package lifecycle

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"corrdiv/internal/domain"
	"corrdiv/internal/idhash"
)

// Errors returned by Manager.
var (
	ErrPositionExists = errors.New("position already open for asset")
	ErrInvalidFill    = errors.New("invalid fill")
)

// Manager is the single owner of PortfolioState. Every mutation is serialized.
type Manager struct {
	mu        sync.Mutex
	state     domain.PortfolioState
	ledger    []domain.ClosedTrade
	rules     []ExitRule
	lastPrice map[string]float64
}

// NewManager creates a manager with an empty portfolio holding initialBalance.
func NewManager(initialBalance float64, rules []ExitRule) *Manager {
	return &Manager{
		state: domain.PortfolioState{
			Balance:       initialBalance,
			OpenPositions: make(map[string]domain.Position),
		},
		rules:     rules,
		lastPrice: make(map[string]float64),
	}
}

// State returns a copy of the portfolio.
func (m *Manager) State() domain.PortfolioState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Ledger returns a copy of every closed trade, in close order.
func (m *Manager) Ledger() []domain.ClosedTrade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ClosedTrade, len(m.ledger))
	copy(out, m.ledger)
	return out
}

// Snapshot returns the persisted view of the portfolio at nowMs.
func (m *Manager) Snapshot(nowMs int64) domain.PortfolioSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := domain.PortfolioSnapshot{
		TakenAtMs:        nowMs,
		Balance:          m.state.Balance,
		RealizedPnLTotal: m.state.RealizedPnLTotal,
		OpenPositions:    make([]domain.Position, 0, len(m.state.OpenPositions)),
	}
	for _, p := range m.state.OpenPositions {
		snap.OpenPositions = append(snap.OpenPositions, p)
	}
	sort.Slice(snap.OpenPositions, func(i, j int) bool {
		return snap.OpenPositions[i].Asset < snap.OpenPositions[j].Asset
	})
	return snap
}

// Open creates a position from a filled decision.
// Stop and target keep the decision's distances, re-anchored to the fill price.
func (m *Manager) Open(decision domain.SizingDecision, fill domain.Fill, openedAtMs int64) (domain.Position, error) {
	if fill.Quantity <= 0 || fill.EntryPrice <= 0 {
		return domain.Position{}, fmt.Errorf("%w: qty %v price %v", ErrInvalidFill, fill.Quantity, fill.EntryPrice)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.state.OpenPositions[decision.Asset]; ok {
		return domain.Position{}, fmt.Errorf("%w: %s", ErrPositionExists, decision.Asset)
	}

	stop, target := decision.StopLossPrice, decision.TakeProfitPrice
	if decision.ReferencePrice > 0 && decision.ReferencePrice != fill.EntryPrice {
		scale := fill.EntryPrice / decision.ReferencePrice
		stop *= scale
		target *= scale
	}

	pos := domain.Position{
		PositionID:   idhash.ComputePositionID(decision.Asset, decision.Side, openedAtMs),
		Asset:        decision.Asset,
		Side:         decision.Side,
		EntryPrice:   fill.EntryPrice,
		Quantity:     fill.Quantity,
		Leverage:     decision.Leverage,
		StopLoss:     stop,
		TakeProfit:   target,
		OpenedAtMs:   openedAtMs,
		Status:       domain.PositionOpen,
		EntryOrderID: fill.OrderID,
		Strength:     decision.Strength,
	}
	m.state.OpenPositions[pos.Asset] = pos
	m.lastPrice[pos.Asset] = fill.EntryPrice
	return pos, nil
}

// Evaluate applies the exit rules to every open position using the tick's bars.
// forced holds assets flagged by the risk manager. Positions whose asset has no
// bar in the tick are skipped and reported as inconsistencies.
func (m *Manager) Evaluate(tick domain.Tick, forced map[string]string) ([]domain.ClosedTrade, []*domain.StateInconsistency) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for asset, p := range tick.Points {
		m.lastPrice[asset] = p.Close
	}

	var closed []domain.ClosedTrade
	var warnings []*domain.StateInconsistency

	for _, asset := range m.openAssetsLocked() {
		pos := m.state.OpenPositions[asset]
		bar, ok := tick.Points[asset]
		if !ok {
			warnings = append(warnings, &domain.StateInconsistency{
				PositionID: pos.PositionID,
				Asset:      asset,
				Detail:     fmt.Sprintf("no price at %d; exit rules skipped", tick.TimestampMs),
			})
			continue
		}

		_, isForced := forced[asset]
		reason, price, hit := firstHit(m.rules, ExitContext{
			Position: pos,
			Bar:      bar,
			NowMs:    tick.TimestampMs,
			Forced:   isForced,
		})
		if !hit {
			continue
		}
		closed = append(closed, m.closeLocked(pos, price, reason, tick.TimestampMs))
	}
	return closed, warnings
}

// Unrealized marks every open position at its last known price.
func (m *Manager) Unrealized() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0.0
	for _, p := range m.state.OpenPositions {
		if price, ok := m.lastPrice[p.Asset]; ok {
			total += p.UnrealizedPnL(price)
		}
	}
	return total
}

// Liquidate closes every open position at its last known price.
func (m *Manager) Liquidate(nowMs int64) []domain.ClosedTrade {
	m.mu.Lock()
	defer m.mu.Unlock()

	var closed []domain.ClosedTrade
	for _, asset := range m.openAssetsLocked() {
		pos := m.state.OpenPositions[asset]
		price, ok := m.lastPrice[asset]
		if !ok {
			price = pos.EntryPrice
		}
		closed = append(closed, m.closeLocked(pos, price, domain.ExitReasonEndOfReplay, nowMs))
	}
	return closed
}

// closeLocked transitions pos to CLOSED and books the realized P&L. Caller holds mu.
func (m *Manager) closeLocked(pos domain.Position, exitPrice float64, reason string, nowMs int64) domain.ClosedTrade {
	pos.Status = domain.PositionClosed
	pnl := (exitPrice - pos.EntryPrice) * pos.Quantity * pos.Side.Sign()

	trade := domain.ClosedTrade{
		TradeID:     idhash.ComputeTradeID(pos.PositionID, nowMs, reason),
		Position:    pos,
		ExitPrice:   exitPrice,
		ExitReason:  reason,
		ClosedAtMs:  nowMs,
		RealizedPnL: pnl,
	}

	delete(m.state.OpenPositions, pos.Asset)
	m.state.Balance += pnl
	m.state.RealizedPnLTotal += pnl
	m.ledger = append(m.ledger, trade)
	return trade
}

func (m *Manager) openAssetsLocked() []string {
	assets := make([]string, 0, len(m.state.OpenPositions))
	for a := range m.state.OpenPositions {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	return assets
}

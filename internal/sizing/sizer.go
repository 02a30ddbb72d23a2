// Package sizing converts signals into concrete orders: notional, leverage and exit levels.
package sizing

import (
	"fmt"
	"math"

	"corrdiv/internal/config"
	"corrdiv/internal/domain"
)

// Gate applies portfolio limits to a proposed decision.
// Returns a *domain.RiskBreach when the decision must not be opened.
type Gate interface {
	Check(decision domain.SizingDecision, state domain.PortfolioState) error
}

// Sizer produces a SizingDecision for a signal or rejects it.
type Sizer struct {
	cfg         config.Sizing
	gate        Gate
	perf        *Tracker
	vol         *VolatilityGauge
	refLeverage float64
}

// NewSizer creates a sizer. gate, perf and vol may be nil.
func NewSizer(cfg config.Sizing, gate Gate, perf *Tracker, vol *VolatilityGauge) *Sizer {
	return &Sizer{
		cfg:         cfg,
		gate:        gate,
		perf:        perf,
		vol:         vol,
		refLeverage: cfg.Tiers[0].Leverage,
	}
}

// Size converts sig into a decision against the current portfolio state.
// Every rejection is a *domain.RiskBreach.
func (s *Sizer) Size(sig domain.Signal, state domain.PortfolioState) (domain.SizingDecision, error) {
	if state.HasPosition(sig.Asset) {
		return domain.SizingDecision{}, &domain.RiskBreach{Asset: sig.Asset, Rule: domain.RuleAssetOpen, Detail: "position already open"}
	}
	if state.Balance <= 0 {
		return domain.SizingDecision{}, &domain.RiskBreach{Asset: sig.Asset, Rule: domain.RuleNonPositiveFunds,
			Detail: fmt.Sprintf("balance %.2f", state.Balance)}
	}
	if !(sig.Price > 0) || math.IsInf(sig.Price, 0) {
		return domain.SizingDecision{}, &domain.RiskBreach{Asset: sig.Asset, Rule: domain.RuleInvalidSizing,
			Detail: fmt.Sprintf("reference price %v", sig.Price)}
	}

	leverage := s.SelectLeverage(sig.Asset, sig.Strength)
	notional := state.Balance * s.MarginFraction(leverage) * leverage
	stopPct, targetPct := s.ExitDistances(leverage)
	stop, target := ExitLevels(sig.Side, sig.Price, stopPct, targetPct)

	decision := domain.SizingDecision{
		Asset:           sig.Asset,
		Side:            sig.Side,
		Strength:        sig.Strength,
		NotionalSize:    notional,
		Leverage:        leverage,
		ReferencePrice:  sig.Price,
		StopLossPrice:   stop,
		TakeProfitPrice: target,
		DecidedAtMs:     sig.GeneratedAtMs,
	}

	if s.gate != nil {
		if err := s.gate.Check(decision, state); err != nil {
			return decision, err
		}
	}
	return decision, nil
}

// SelectLeverage picks the tier for strength, shifts it by the asset's track record
// and its volatility regime, then caps the result at the configured maximum.
func (s *Sizer) SelectLeverage(asset string, strength float64) float64 {
	idx := 0
	for i, t := range s.cfg.Tiers {
		if strength >= t.MinDeviation {
			idx = i
		}
	}
	idx += s.perf.TierShift(asset) + s.vol.TierShift(asset)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s.cfg.Tiers) {
		idx = len(s.cfg.Tiers) - 1
	}
	return math.Min(s.cfg.Tiers[idx].Leverage, s.cfg.MaxLeverage)
}

// MarginFraction is the share of balance committed as margin at leverage.
// Shrinks as leverage grows so notional never exceeds MaxNotionalFraction of balance.
func (s *Sizer) MarginFraction(leverage float64) float64 {
	return math.Min(s.cfg.RiskPerTrade, s.cfg.MaxNotionalFraction/leverage)
}

// ExitDistances returns stop and target distances as fractions of price.
// Both tighten with leverage; the stop is floored and the target capped.
func (s *Sizer) ExitDistances(leverage float64) (stopPct, targetPct float64) {
	scale := s.refLeverage / leverage
	stopPct = math.Max(s.cfg.MinStopPct, s.cfg.BaseStopPct*scale)
	targetPct = math.Min(s.cfg.MaxTakeProfitPct, s.cfg.BaseTakeProfitPct*scale)
	return stopPct, targetPct
}

// ExitLevels converts distances into prices for side.
func ExitLevels(side domain.Side, price, stopPct, targetPct float64) (stop, target float64) {
	if side == domain.SideShort {
		return price * (1 + stopPct), price * (1 - targetPct)
	}
	return price * (1 - stopPct), price * (1 + targetPct)
}

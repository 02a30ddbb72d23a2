package config

import (
	"fmt"
	"math"
	"sort"
)

// ConfigurationError reports an invalid option. Fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks every option. The first violation is returned as *ConfigurationError.
func (c *Config) Validate() error {
	if c.Reference == "" {
		return invalid("reference", "must be set")
	}
	if len(c.Assets) == 0 {
		return invalid("assets", "at least one tracked asset required")
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for _, a := range c.Assets {
		if a == "" {
			return invalid("assets", "empty asset name")
		}
		if a == c.Reference {
			return invalid("assets", "reference asset %s cannot be tracked against itself", a)
		}
		if _, dup := seen[a]; dup {
			return invalid("assets", "duplicate asset %s", a)
		}
		seen[a] = struct{}{}
	}
	if c.Interval <= 0 || c.Interval.Milliseconds() <= 0 {
		return invalid("interval", "must be at least 1ms, got %s", c.Interval)
	}

	if err := c.validateCorrelation(); err != nil {
		return err
	}
	if err := c.validateDivergence(); err != nil {
		return err
	}
	if err := c.validateSizing(); err != nil {
		return err
	}
	if err := c.validateRisk(seen); err != nil {
		return err
	}

	if c.Lifecycle.MaxHold < 0 {
		return invalid("lifecycle.max_hold", "must be >= 0")
	}
	if c.Execution.SlippageBps < 0 || c.Execution.FeeBps < 0 {
		return invalid("execution", "slippage and fee must be >= 0")
	}
	if c.Execution.LotStep <= 0 {
		return invalid("execution.lot_step", "must be > 0")
	}
	for asset, step := range c.Execution.LotSteps {
		if step <= 0 {
			return invalid("execution.lot_steps", "step for %s must be > 0", asset)
		}
	}
	if c.Backtest.InitialBalance <= 0 {
		return invalid("backtest.initial_balance", "must be > 0")
	}
	return nil
}

func (c *Config) validateCorrelation() error {
	if c.Correlation.Window < 2 {
		return invalid("correlation.window", "must be >= 2, got %d", c.Correlation.Window)
	}
	if c.Correlation.BaselineHorizon < 1 {
		return invalid("correlation.baseline_horizon", "must be set explicitly (>= 1)")
	}
	return nil
}

func (c *Config) validateDivergence() error {
	d := c.Divergence
	if !(d.Threshold > 0) || math.IsInf(d.Threshold, 0) {
		return invalid("divergence.threshold", "must be > 0, got %v", d.Threshold)
	}
	if d.DirectionLookback < 1 {
		return invalid("divergence.direction_lookback", "must be >= 1")
	}
	if d.Momentum.Lookback < 0 || d.Volume.Lookback < 0 {
		return invalid("divergence", "filter lookbacks must be >= 0")
	}
	if d.Momentum.Lookback == 0 && d.Volume.Lookback == 0 {
		return invalid("divergence", "at least one confirmation filter must be enabled")
	}
	if d.Momentum.Lookback > 0 && d.Momentum.Lower > d.Momentum.Upper {
		return invalid("divergence.momentum", "lower %v above upper %v", d.Momentum.Lower, d.Momentum.Upper)
	}
	if d.Volume.Lookback > 0 && d.Volume.Multiple <= 0 {
		return invalid("divergence.volume.multiple", "must be > 0")
	}
	return nil
}

func (c *Config) validateSizing() error {
	s := c.Sizing
	if !inUnit(s.RiskPerTrade) {
		return invalid("sizing.risk_per_trade", "must be in (0, 1], got %v", s.RiskPerTrade)
	}
	if !(s.MaxNotionalFraction > 0) {
		return invalid("sizing.max_notional_fraction", "must be > 0")
	}
	if s.MaxLeverage < 1 {
		return invalid("sizing.max_leverage", "must be >= 1")
	}
	if len(s.Tiers) == 0 {
		return invalid("sizing.tiers", "at least one leverage tier required")
	}
	if !sort.SliceIsSorted(s.Tiers, func(i, j int) bool { return s.Tiers[i].MinDeviation < s.Tiers[j].MinDeviation }) {
		return invalid("sizing.tiers", "must be ordered by min_deviation")
	}
	for i, t := range s.Tiers {
		if t.Leverage < 1 || t.Leverage > s.MaxLeverage {
			return invalid("sizing.tiers", "tier %d leverage %v outside [1, %v]", i, t.Leverage, s.MaxLeverage)
		}
		if i > 0 {
			prev := s.Tiers[i-1]
			if t.MinDeviation == prev.MinDeviation {
				return invalid("sizing.tiers", "duplicate min_deviation %v", t.MinDeviation)
			}
			if t.Leverage < prev.Leverage {
				return invalid("sizing.tiers", "tier %d leverage decreases", i)
			}
		}
		if t.MinDeviation < 0 {
			return invalid("sizing.tiers", "tier %d min_deviation must be >= 0", i)
		}
	}
	if !inUnit(s.BaseStopPct) || !inUnit(s.BaseTakeProfitPct) {
		return invalid("sizing", "base stop/take-profit pct must be in (0, 1]")
	}
	if !inUnit(s.MinStopPct) || s.MinStopPct > s.BaseStopPct {
		return invalid("sizing.min_stop_pct", "must be in (0, base_stop_pct]")
	}
	if !inUnit(s.MaxTakeProfitPct) {
		return invalid("sizing.max_take_profit_pct", "must be in (0, 1]")
	}
	if p := s.Performance; p.Enabled {
		if p.Window < 1 || p.MinTrades < 1 || p.MinTrades > p.Window {
			return invalid("sizing.performance", "need 1 <= min_trades <= window")
		}
		if p.DemoteWinRate < 0 || p.PromoteWinRate > 1 || p.DemoteWinRate > p.PromoteWinRate {
			return invalid("sizing.performance", "need 0 <= demote_win_rate <= promote_win_rate <= 1")
		}
	}
	if v := s.Volatility; v.Enabled {
		if v.RecentBars < 2 || v.HistoryBars <= v.RecentBars {
			return invalid("sizing.volatility", "need 2 <= recent_bars < history_bars")
		}
		if !(v.LowRatio > 0) || v.HighRatio <= v.LowRatio {
			return invalid("sizing.volatility", "need 0 < low_ratio < high_ratio")
		}
	}
	return nil
}

func (c *Config) validateRisk(tracked map[string]struct{}) error {
	r := c.Risk
	if r.MaxOpenPositions < 1 {
		return invalid("risk.max_open_positions", "must be >= 1")
	}
	if r.MaxPositionsPerSector < 0 {
		return invalid("risk.max_positions_per_sector", "must be >= 0")
	}
	if !(r.MaxExposureFraction > 0) {
		return invalid("risk.max_exposure_fraction", "must be > 0")
	}
	if r.MaxSectorExposureFraction < 0 {
		return invalid("risk.max_sector_exposure_fraction", "must be >= 0")
	}
	owner := make(map[string]string)
	for name, assets := range r.Sectors {
		for _, a := range assets {
			if _, ok := tracked[a]; !ok {
				return invalid("risk.sectors", "sector %s lists untracked asset %s", name, a)
			}
			if prev, ok := owner[a]; ok && prev != name {
				return invalid("risk.sectors", "asset %s in sectors %s and %s", a, prev, name)
			}
			owner[a] = name
		}
	}
	if r.CorrelationExitThreshold < 0 || r.CorrelationExitThreshold > 1 {
		return invalid("risk.correlation_exit_threshold", "must be in [0, 1] (0 disables)")
	}
	if !inUnit(r.DailyDrawdownLimit) {
		return invalid("risk.daily_drawdown_limit", "must be in (0, 1]")
	}
	if r.MaxDailyTrades < 0 {
		return invalid("risk.max_daily_trades", "must be >= 0")
	}
	return nil
}

func inUnit(v float64) bool {
	return v > 0 && v <= 1
}

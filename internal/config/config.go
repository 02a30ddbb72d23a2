// Package config exposes the engine configuration loaded from YAML.
// Read once at startup and treated as immutable for the run.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Correlation configures the rolling correlation calculator.
type Correlation struct {
	Window          int `yaml:"window"`           // samples per correlation window
	BaselineHorizon int `yaml:"baseline_horizon"` // prior windows averaged into the baseline; no default
}

// MomentumFilter confirms a divergence using the tracked asset's recent return.
// LONG passes below Upper, SHORT passes above Lower. Lookback 0 disables it.
type MomentumFilter struct {
	Lookback int     `yaml:"lookback"`
	Lower    float64 `yaml:"lower"`
	Upper    float64 `yaml:"upper"`
}

// VolumeFilter confirms a divergence when volume exceeds Multiple x its trailing mean.
// Lookback 0 disables it.
type VolumeFilter struct {
	Lookback int     `yaml:"lookback"`
	Multiple float64 `yaml:"multiple"`
}

// Divergence configures the divergence detector.
type Divergence struct {
	Threshold         float64        `yaml:"threshold"`
	DirectionLookback int            `yaml:"direction_lookback"`
	Momentum          MomentumFilter `yaml:"momentum"`
	Volume            VolumeFilter   `yaml:"volume"`
}

// LeverageTier maps a minimum signal strength to a leverage multiplier.
type LeverageTier struct {
	MinDeviation float64 `yaml:"min_deviation"`
	Leverage     float64 `yaml:"leverage"`
}

// Performance configures the per-asset track record tier adjustment.
type Performance struct {
	Enabled        bool    `yaml:"enabled"`
	Window         int     `yaml:"window"`
	MinTrades      int     `yaml:"min_trades"`
	PromoteWinRate float64 `yaml:"promote_win_rate"`
	DemoteWinRate  float64 `yaml:"demote_win_rate"`
}

// Volatility configures the realized-volatility tier adjustment. Both figures are
// standard deviations of close-to-close returns over the trailing bars.
type Volatility struct {
	Enabled     bool    `yaml:"enabled"`
	RecentBars  int     `yaml:"recent_bars"`
	HistoryBars int     `yaml:"history_bars"`
	HighRatio   float64 `yaml:"high_ratio"` // recent/history above this demotes one tier
	LowRatio    float64 `yaml:"low_ratio"`  // recent/history below this promotes one tier
}

// Sizing configures the position sizer and leverage selector.
type Sizing struct {
	RiskPerTrade        float64        `yaml:"risk_per_trade"`
	MaxNotionalFraction float64        `yaml:"max_notional_fraction"`
	MaxLeverage         float64        `yaml:"max_leverage"`
	Tiers               []LeverageTier `yaml:"tiers"`
	BaseStopPct         float64        `yaml:"base_stop_pct"`
	BaseTakeProfitPct   float64        `yaml:"base_take_profit_pct"`
	MinStopPct          float64        `yaml:"min_stop_pct"`
	MaxTakeProfitPct    float64        `yaml:"max_take_profit_pct"`
	Performance         Performance    `yaml:"performance"`
	Volatility          Volatility     `yaml:"volatility"`
}

// Risk configures portfolio-level limits.
type Risk struct {
	MaxOpenPositions          int                 `yaml:"max_open_positions"`
	MaxPositionsPerSector     int                 `yaml:"max_positions_per_sector"`
	MaxExposureFraction       float64             `yaml:"max_exposure_fraction"`
	MaxSectorExposureFraction float64             `yaml:"max_sector_exposure_fraction"`
	Sectors                   map[string][]string `yaml:"sectors,omitempty"`
	CorrelationExitThreshold  float64             `yaml:"correlation_exit_threshold"`
	DailyDrawdownLimit        float64             `yaml:"daily_drawdown_limit"`
	MaxDailyTrades            int                 `yaml:"max_daily_trades"`
}

// Lifecycle configures position exit rules beyond stop and target.
type Lifecycle struct {
	MaxHold time.Duration `yaml:"max_hold"` // 0 disables TIME_EXIT
}

// Execution configures the paper execution collaborator.
type Execution struct {
	SlippageBps float64            `yaml:"slippage_bps"`
	FeeBps      float64            `yaml:"fee_bps"`
	LotStep     float64            `yaml:"lot_step"`
	LotSteps    map[string]float64 `yaml:"lot_steps,omitempty"` // per-asset override
}

// Backtest configures the replay driver.
type Backtest struct {
	InitialBalance float64 `yaml:"initial_balance"`
	LiquidateAtEnd bool    `yaml:"liquidate_at_end"`
}

// Log configures logger construction in the commands.
type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Config collects every configuration leaf.
type Config struct {
	Reference   string        `yaml:"reference"`
	Assets      []string      `yaml:"assets"`
	Interval    time.Duration `yaml:"interval"`
	Correlation Correlation   `yaml:"correlation"`
	Divergence  Divergence    `yaml:"divergence"`
	Sizing      Sizing        `yaml:"sizing"`
	Risk        Risk          `yaml:"risk"`
	Lifecycle   Lifecycle     `yaml:"lifecycle"`
	Execution   Execution     `yaml:"execution"`
	Backtest    Backtest      `yaml:"backtest"`
	Log         Log           `yaml:"log"`
}

// IntervalMs returns the bar interval in milliseconds.
func (c *Config) IntervalMs() int64 {
	return c.Interval.Milliseconds()
}

// Default returns a configuration with every option populated except
// Correlation.BaselineHorizon, which must be set explicitly.
func Default() *Config {
	return &Config{
		Reference: "BTCUSDT",
		Assets:    []string{"ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT", "ADAUSDT"},
		Interval:  time.Minute,
		Correlation: Correlation{
			Window: 50,
		},
		Divergence: Divergence{
			Threshold:         0.15,
			DirectionLookback: 10,
			Momentum:          MomentumFilter{Lookback: 10, Lower: -0.05, Upper: 0.05},
			Volume:            VolumeFilter{Lookback: 20, Multiple: 1.5},
		},
		Sizing: Sizing{
			RiskPerTrade:        0.02,
			MaxNotionalFraction: 0.5,
			MaxLeverage:         30,
			Tiers: []LeverageTier{
				{MinDeviation: 0, Leverage: 15},
				{MinDeviation: 0.20, Leverage: 20},
				{MinDeviation: 0.30, Leverage: 25},
				{MinDeviation: 0.50, Leverage: 30},
			},
			BaseStopPct:       0.02,
			BaseTakeProfitPct: 0.04,
			MinStopPct:        0.005,
			MaxTakeProfitPct:  0.08,
			Performance: Performance{
				Enabled:        true,
				Window:         20,
				MinTrades:      5,
				PromoteWinRate: 0.6,
				DemoteWinRate:  0.4,
			},
			Volatility: Volatility{
				Enabled:     true,
				RecentBars:  24,
				HistoryBars: 168,
				HighRatio:   1.5,
				LowRatio:    0.7,
			},
		},
		Risk: Risk{
			MaxOpenPositions:          5,
			MaxPositionsPerSector:     2,
			MaxExposureFraction:       2.5,
			MaxSectorExposureFraction: 1.0,
			Sectors: map[string][]string{
				"majors":   {"ETHUSDT", "BNBUSDT"},
				"altcoins": {"SOLUSDT", "XRPUSDT", "ADAUSDT"},
			},
			CorrelationExitThreshold: 0.95,
			DailyDrawdownLimit:       0.10,
			MaxDailyTrades:           20,
		},
		Lifecycle: Lifecycle{
			MaxHold: 2 * time.Hour,
		},
		Execution: Execution{
			FeeBps:  4,
			LotStep: 0.001,
		},
		Backtest: Backtest{
			InitialBalance: 10000,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	cfg := Default()
	// Maps decode by merging, so file-provided sectors must not mix with defaults.
	defaultSectors := cfg.Risk.Sectors
	cfg.Risk.Sectors = nil

	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if cfg.Risk.Sectors == nil {
		cfg.Risk.Sectors = defaultSectors
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// SectorIndex maps each sectored asset to its sector name.
func (r Risk) SectorIndex() map[string]string {
	idx := make(map[string]string)
	for name, assets := range r.Sectors {
		for _, a := range assets {
			idx[a] = name
		}
	}
	return idx
}

// LotStepFor returns the quantity step for an asset.
func (e Execution) LotStepFor(asset string) float64 {
	if step, ok := e.LotSteps[asset]; ok {
		return step
	}
	return e.LotStep
}

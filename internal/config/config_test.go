package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Correlation.BaselineHorizon = 5
	return cfg
}

func TestLoad(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", cfg.Reference)
	assert.Equal(t, []string{"ETHUSDT", "SOLUSDT", "XRPUSDT"}, cfg.Assets)
	assert.Equal(t, 5*time.Minute, cfg.Interval)
	assert.Equal(t, int64(300000), cfg.IntervalMs())
	assert.Equal(t, 30, cfg.Correlation.Window)
	assert.Equal(t, 10, cfg.Correlation.BaselineHorizon)
	assert.Equal(t, 0.25, cfg.Divergence.Threshold)
	assert.Equal(t, 0, cfg.Divergence.Momentum.Lookback)
	assert.Equal(t, 2.0, cfg.Divergence.Volume.Multiple)
	require.Len(t, cfg.Sizing.Tiers, 2)
	assert.Equal(t, 20.0, cfg.Sizing.Tiers[1].Leverage)
	assert.Equal(t, 90*time.Minute, cfg.Lifecycle.MaxHold)
	assert.Equal(t, 5000.0, cfg.Backtest.InitialBalance)

	// File sectors replace defaults rather than merging with them.
	assert.Equal(t, map[string][]string{"alts": {"SOLUSDT", "XRPUSDT"}}, cfg.Risk.Sectors)

	// Untouched options keep defaults.
	assert.Equal(t, 0.02, cfg.Sizing.BaseStopPct)
	assert.Equal(t, 0.10, cfg.Risk.DailyDrawdownLimit)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("correlation:\n  windw: 10\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := validConfig()
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestDefault_RequiresBaselineHorizon(t *testing.T) {
	err := Default().Validate()
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "correlation.baseline_horizon", cfgErr.Field)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"valid", func(*Config) {}, ""},
		{"no reference", func(c *Config) { c.Reference = "" }, "reference"},
		{"reference tracked", func(c *Config) { c.Assets = append(c.Assets, "BTCUSDT") }, "assets"},
		{"duplicate asset", func(c *Config) { c.Assets = append(c.Assets, "ETHUSDT") }, "assets"},
		{"window too small", func(c *Config) { c.Correlation.Window = 1 }, "correlation.window"},
		{"zero threshold", func(c *Config) { c.Divergence.Threshold = 0 }, "divergence.threshold"},
		{"no filters", func(c *Config) {
			c.Divergence.Momentum.Lookback = 0
			c.Divergence.Volume.Lookback = 0
		}, "divergence"},
		{"momentum bounds inverted", func(c *Config) {
			c.Divergence.Momentum.Lower = 0.1
			c.Divergence.Momentum.Upper = -0.1
		}, "divergence.momentum"},
		{"tier above max leverage", func(c *Config) { c.Sizing.Tiers[3].Leverage = 50 }, "sizing.tiers"},
		{"tiers unsorted", func(c *Config) {
			c.Sizing.Tiers[0], c.Sizing.Tiers[1] = c.Sizing.Tiers[1], c.Sizing.Tiers[0]
		}, "sizing.tiers"},
		{"risk per trade above one", func(c *Config) { c.Sizing.RiskPerTrade = 1.5 }, "sizing.risk_per_trade"},
		{"min stop above base", func(c *Config) { c.Sizing.MinStopPct = 0.05 }, "sizing.min_stop_pct"},
		{"bad performance rates", func(c *Config) { c.Sizing.Performance.DemoteWinRate = 0.9 }, "sizing.performance"},
		{"volatility recent covers history", func(c *Config) { c.Sizing.Volatility.RecentBars = 168 }, "sizing.volatility"},
		{"volatility ratios inverted", func(c *Config) { c.Sizing.Volatility.LowRatio = 2 }, "sizing.volatility"},
		{"zero max positions", func(c *Config) { c.Risk.MaxOpenPositions = 0 }, "risk.max_open_positions"},
		{"sector unknown asset", func(c *Config) { c.Risk.Sectors["x"] = []string{"DOGEUSDT"} }, "risk.sectors"},
		{"asset in two sectors", func(c *Config) { c.Risk.Sectors["x"] = []string{"ETHUSDT"} }, "risk.sectors"},
		{"drawdown limit zero", func(c *Config) { c.Risk.DailyDrawdownLimit = 0 }, "risk.daily_drawdown_limit"},
		{"negative hold", func(c *Config) { c.Lifecycle.MaxHold = -time.Second }, "lifecycle.max_hold"},
		{"zero balance", func(c *Config) { c.Backtest.InitialBalance = 0 }, "backtest.initial_balance"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestRisk_SectorIndex(t *testing.T) {
	idx := validConfig().Risk.SectorIndex()
	assert.Equal(t, "majors", idx["ETHUSDT"])
	assert.Equal(t, "altcoins", idx["SOLUSDT"])
	assert.Equal(t, "", idx["DOGEUSDT"])
	assert.Len(t, idx, 5)
}

func TestExecution_LotStepFor(t *testing.T) {
	e := Execution{LotStep: 0.001, LotSteps: map[string]float64{"XRPUSDT": 1}}
	assert.Equal(t, 1.0, e.LotStepFor("XRPUSDT"))
	assert.Equal(t, 0.001, e.LotStepFor("ETHUSDT"))
}

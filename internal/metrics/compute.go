package metrics

import (
	"math"
	"sort"

	"corrdiv/internal/domain"
)

// Summary holds performance statistics over a set of closed trades.
type Summary struct {
	TotalTrades int
	Wins        int
	Losses      int
	WinRate     float64 // wins / total_trades

	TotalPnL  float64
	MeanPnL   float64
	MedianPnL float64
	PnLStddev float64
	BestPnL   float64
	WorstPnL  float64

	// ProfitFactor is gross profit / gross loss; 0 when there are no losses.
	ProfitFactor float64

	InitialBalance float64
	FinalBalance   float64
	ReturnPct      float64 // total P&L / initial balance

	// Drawdown on the realized equity curve, in quote currency and as a
	// fraction of the running peak balance.
	MaxDrawdown          float64
	MaxDrawdownPct       float64
	MaxConsecutiveLosses int

	ExitReasons map[string]int
	ByAsset     []AssetSummary // sorted by asset
}

// AssetSummary is the per-asset breakdown of a Summary.
type AssetSummary struct {
	Asset       string
	TotalTrades int
	Wins        int
	WinRate     float64
	TotalPnL    float64
	MeanReturn  float64 // mean margin return
}

// Compute calculates a Summary from trades. Trades are ordered by
// ClosedAtMs ASC, TradeID ASC before order-dependent statistics are computed.
func Compute(trades []domain.ClosedTrade, initialBalance float64) Summary {
	s := Summary{
		InitialBalance: initialBalance,
		FinalBalance:   initialBalance,
		ExitReasons:    make(map[string]int),
	}
	n := len(trades)
	if n == 0 {
		return s
	}

	sorted := make([]domain.ClosedTrade, n)
	copy(sorted, trades)
	SortTrades(sorted)

	pnl := make([]float64, n)
	var grossProfit, grossLoss float64
	for i, t := range sorted {
		pnl[i] = t.RealizedPnL
		s.ExitReasons[t.ExitReason]++
		if t.Win() {
			s.Wins++
			grossProfit += t.RealizedPnL
		} else {
			s.Losses++
			grossLoss -= t.RealizedPnL
		}
	}

	sortedPnL := make([]float64, n)
	copy(sortedPnL, pnl)
	sort.Float64s(sortedPnL)

	s.TotalTrades = n
	s.WinRate = computeWinRate(s.Wins, n)
	s.TotalPnL = computeSum(pnl)
	s.MeanPnL = computeMean(pnl)
	s.MedianPnL = computePercentile(sortedPnL, 0.50)
	s.PnLStddev = computeStddev(pnl, s.MeanPnL)
	s.BestPnL = sortedPnL[n-1]
	s.WorstPnL = sortedPnL[0]
	if grossLoss > 0 {
		s.ProfitFactor = grossProfit / grossLoss
	}

	s.FinalBalance = initialBalance + s.TotalPnL
	if initialBalance > 0 {
		s.ReturnPct = s.TotalPnL / initialBalance
	}
	s.MaxDrawdown, s.MaxDrawdownPct = computeMaxDrawdown(pnl, initialBalance)
	s.MaxConsecutiveLosses = computeMaxConsecutiveLosses(pnl)
	s.ByAsset = computeByAsset(sorted)
	return s
}

// SortTrades orders trades by ClosedAtMs ASC, TradeID ASC.
func SortTrades(trades []domain.ClosedTrade) {
	sort.Slice(trades, func(i, j int) bool {
		if trades[i].ClosedAtMs != trades[j].ClosedAtMs {
			return trades[i].ClosedAtMs < trades[j].ClosedAtMs
		}
		return trades[i].TradeID < trades[j].TradeID
	})
}

func computeByAsset(trades []domain.ClosedTrade) []AssetSummary {
	byAsset := make(map[string]*AssetSummary)
	returns := make(map[string][]float64)
	for _, t := range trades {
		a, ok := byAsset[t.Asset]
		if !ok {
			a = &AssetSummary{Asset: t.Asset}
			byAsset[t.Asset] = a
		}
		a.TotalTrades++
		if t.Win() {
			a.Wins++
		}
		a.TotalPnL += t.RealizedPnL
		returns[t.Asset] = append(returns[t.Asset], t.ReturnPct())
	}

	out := make([]AssetSummary, 0, len(byAsset))
	for asset, a := range byAsset {
		a.WinRate = computeWinRate(a.Wins, a.TotalTrades)
		a.MeanReturn = computeMean(returns[asset])
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// computeWinRate calculates win rate as wins / total.
func computeWinRate(wins, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total)
}

func computeSum(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum
}

// computeMean calculates the arithmetic mean.
func computeMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return computeSum(values) / float64(len(values))
}

// computeStddev calculates sample standard deviation (n-1 denominator).
func computeStddev(values []float64, mean float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// computePercentile uses linear interpolation.
// sorted must be pre-sorted ASC.
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}
	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// computeMaxDrawdown walks the realized equity curve starting at initial and
// returns the worst peak-to-trough drop, absolute and relative to the peak.
// P&L must be in chronological order.
func computeMaxDrawdown(pnl []float64, initial float64) (abs, pct float64) {
	equity := initial
	peak := initial
	for _, p := range pnl {
		equity += p
		if equity > peak {
			peak = equity
		}
		dd := peak - equity
		if dd > abs {
			abs = dd
		}
		if peak > 0 && dd/peak > pct {
			pct = dd / peak
		}
	}
	return abs, pct
}

// computeMaxConsecutiveLosses finds the longest streak of P&L <= 0.
func computeMaxConsecutiveLosses(pnl []float64) int {
	maxStreak := 0
	current := 0
	for _, p := range pnl {
		if p <= 0 {
			current++
			if current > maxStreak {
				maxStreak = current
			}
		} else {
			current = 0
		}
	}
	return maxStreak
}

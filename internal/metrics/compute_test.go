package metrics

import (
	"math"
	"testing"

	"corrdiv/internal/domain"
)

const epsilon = 1e-9

func makeTrade(id, asset string, closedAt int64, pnl float64, reason string) domain.ClosedTrade {
	return domain.ClosedTrade{
		TradeID: id,
		Position: domain.Position{
			Asset:      asset,
			Side:       domain.SideLong,
			EntryPrice: 100,
			Quantity:   10,
			Leverage:   10,
		},
		ExitReason:  reason,
		ClosedAtMs:  closedAt,
		RealizedPnL: pnl,
	}
}

func TestCompute_Empty(t *testing.T) {
	s := Compute(nil, 1000)
	if s.TotalTrades != 0 {
		t.Errorf("expected 0 trades, got %d", s.TotalTrades)
	}
	if s.FinalBalance != 1000 {
		t.Errorf("expected final balance 1000, got %f", s.FinalBalance)
	}
	if s.MaxDrawdown != 0 {
		t.Errorf("expected zero drawdown, got %f", s.MaxDrawdown)
	}
}

func TestCompute_Basic(t *testing.T) {
	trades := []domain.ClosedTrade{
		makeTrade("t3", "SOLUSDT", 3000, 30, domain.ExitReasonTakeProfit),
		makeTrade("t1", "ETHUSDT", 1000, 50, domain.ExitReasonTakeProfit),
		makeTrade("t2", "ETHUSDT", 2000, -20, domain.ExitReasonStopLoss),
	}

	s := Compute(trades, 1000)

	if s.TotalTrades != 3 || s.Wins != 2 || s.Losses != 1 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if math.Abs(s.WinRate-2.0/3.0) > epsilon {
		t.Errorf("expected win rate 0.667, got %f", s.WinRate)
	}
	if math.Abs(s.TotalPnL-60) > epsilon {
		t.Errorf("expected total pnl 60, got %f", s.TotalPnL)
	}
	if math.Abs(s.MedianPnL-30) > epsilon {
		t.Errorf("expected median 30, got %f", s.MedianPnL)
	}
	if s.BestPnL != 50 || s.WorstPnL != -20 {
		t.Errorf("unexpected best/worst: %f/%f", s.BestPnL, s.WorstPnL)
	}
	if math.Abs(s.ProfitFactor-4) > epsilon {
		t.Errorf("expected profit factor 4, got %f", s.ProfitFactor)
	}
	if math.Abs(s.FinalBalance-1060) > epsilon {
		t.Errorf("expected final balance 1060, got %f", s.FinalBalance)
	}
	if math.Abs(s.ReturnPct-0.06) > epsilon {
		t.Errorf("expected return 0.06, got %f", s.ReturnPct)
	}
	if s.ExitReasons[domain.ExitReasonTakeProfit] != 2 || s.ExitReasons[domain.ExitReasonStopLoss] != 1 {
		t.Errorf("unexpected exit reasons: %v", s.ExitReasons)
	}
}

func TestCompute_ByAsset(t *testing.T) {
	trades := []domain.ClosedTrade{
		makeTrade("t1", "SOLUSDT", 1000, 10, domain.ExitReasonTakeProfit),
		makeTrade("t2", "ETHUSDT", 2000, -10, domain.ExitReasonStopLoss),
		makeTrade("t3", "ETHUSDT", 3000, 30, domain.ExitReasonTakeProfit),
	}

	s := Compute(trades, 1000)

	if len(s.ByAsset) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(s.ByAsset))
	}
	eth := s.ByAsset[0]
	if eth.Asset != "ETHUSDT" {
		t.Fatalf("expected ETHUSDT first, got %s", eth.Asset)
	}
	if eth.TotalTrades != 2 || eth.Wins != 1 || eth.TotalPnL != 20 {
		t.Errorf("unexpected ETH summary: %+v", eth)
	}
	// margin = 100 * 10 / 10 = 100; returns -0.1 and 0.3
	if math.Abs(eth.MeanReturn-0.1) > epsilon {
		t.Errorf("expected mean return 0.1, got %f", eth.MeanReturn)
	}
}

func TestComputeMaxDrawdown(t *testing.T) {
	// Equity: 1000 -> 1100 -> 1050 -> 900 -> 1000
	abs, pct := computeMaxDrawdown([]float64{100, -50, -150, 100}, 1000)
	if math.Abs(abs-200) > epsilon {
		t.Errorf("expected drawdown 200, got %f", abs)
	}
	if math.Abs(pct-200.0/1100.0) > epsilon {
		t.Errorf("expected drawdown pct %f, got %f", 200.0/1100.0, pct)
	}
}

func TestComputeMaxDrawdown_OrderDependent(t *testing.T) {
	a, _ := computeMaxDrawdown([]float64{-10, -10, 20}, 100)
	b, _ := computeMaxDrawdown([]float64{20, -10, -10}, 100)
	if a != 20 || b != 20 {
		t.Errorf("expected 20 for both orders, got %f and %f", a, b)
	}
	c, _ := computeMaxDrawdown([]float64{-10, 20, -10}, 100)
	if c != 10 {
		t.Errorf("expected 10, got %f", c)
	}
}

func TestComputeMaxConsecutiveLosses(t *testing.T) {
	got := computeMaxConsecutiveLosses([]float64{1, -1, 0, -2, 3, -1})
	if got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
}

func TestComputePercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}
	if got := computePercentile(sorted, 0.5); math.Abs(got-2.5) > epsilon {
		t.Errorf("expected 2.5, got %f", got)
	}
	if got := computePercentile(sorted, 1); got != 4 {
		t.Errorf("expected 4, got %f", got)
	}
}

func TestComputeStddev(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	got := computeStddev(values, computeMean(values))
	want := math.Sqrt(32.0 / 7.0)
	if math.Abs(got-want) > epsilon {
		t.Errorf("expected %f, got %f", want, got)
	}
	if computeStddev([]float64{1}, 1) != 0 {
		t.Error("expected 0 for single value")
	}
}

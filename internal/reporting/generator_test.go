package reporting

import (
	"context"
	"strings"
	"testing"
	"time"

	"corrdiv/internal/backtest"
	"corrdiv/internal/config"
	"corrdiv/internal/domain"
	"corrdiv/internal/metrics"
	"corrdiv/internal/storage/memory"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testTrades() []domain.ClosedTrade {
	mk := func(id, asset string, closedAt int64, pnl float64, reason string) domain.ClosedTrade {
		return domain.ClosedTrade{
			TradeID: id,
			Position: domain.Position{
				PositionID: "p-" + id, Asset: asset, Side: domain.SideLong,
				EntryPrice: 100, Quantity: 2, Leverage: 20, OpenedAtMs: closedAt - 60000,
			},
			ExitPrice:   100 + pnl/2,
			ExitReason:  reason,
			ClosedAtMs:  closedAt,
			RealizedPnL: pnl,
		}
	}
	return []domain.ClosedTrade{
		mk("t2", "SOLUSDT", 3_000_000, -4, domain.ExitReasonStopLoss),
		mk("t1", "ETHUSDT", 2_000_000, 8, domain.ExitReasonTakeProfit),
	}
}

func testResult() *backtest.Result {
	trades := testTrades()
	sig := domain.Signal{Asset: "ETHUSDT", Side: domain.SideLong, GeneratedAtMs: 1_000_000}
	return &backtest.Result{
		StartMs: 60_000,
		EndMs:   3_000_000,
		Ticks:   50,
		Signals: []domain.Signal{sig, sig},
		Outcomes: []domain.SignalOutcome{
			{Signal: sig, Outcome: domain.OutcomeOpened},
			{Signal: sig, Outcome: domain.OutcomeRiskBreach, Reason: domain.RuleMaxPositions},
		},
		Trades:  trades,
		Summary: metrics.Compute(trades, 1000),
	}
}

func TestGenerator_FromResult(t *testing.T) {
	cfg := config.Default()
	r := NewGenerator().WithClock(func() time.Time { return fixedNow }).FromResult(cfg, testResult())

	if !r.GeneratedAt.Equal(fixedNow) {
		t.Errorf("expected fixed clock, got %v", r.GeneratedAt)
	}
	if r.DataSummary.Ticks != 50 || r.DataSummary.Signals != 2 {
		t.Errorf("unexpected data summary: %+v", r.DataSummary)
	}
	if len(r.Trades) != 2 || r.Trades[0].TradeID != "t1" {
		t.Fatalf("trades not in close order: %+v", r.Trades)
	}
	if len(r.Outcomes) != 2 || r.Outcomes[0].Outcome != domain.OutcomeOpened {
		t.Errorf("unexpected outcome rows: %+v", r.Outcomes)
	}
	if len(r.ExitReasons) != 2 || r.ExitReasons[0].Reason != domain.ExitReasonStopLoss {
		t.Errorf("unexpected exit reason rows: %+v", r.ExitReasons)
	}
	if r.Assets[0] != "ADAUSDT" {
		t.Errorf("assets not sorted: %v", r.Assets)
	}
}

func TestGenerator_FromStores(t *testing.T) {
	ctx := context.Background()
	trades := memory.NewClosedTradeStore()
	for _, tr := range testTrades() {
		tr := tr
		if err := trades.Insert(ctx, &tr); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	outcomes := memory.NewOutcomeStore()
	sig := domain.Signal{Asset: "ETHUSDT", GeneratedAtMs: 1_000_000}
	if err := outcomes.InsertBulk(ctx, []*domain.SignalOutcome{{Signal: sig, Outcome: domain.OutcomeOpened}}); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	cfg := config.Default()
	r, err := NewGenerator().FromStores(ctx, cfg, trades, outcomes, 0, 2_500_000)
	if err != nil {
		t.Fatalf("FromStores failed: %v", err)
	}
	if r.Summary.TotalTrades != 1 || r.Trades[0].TradeID != "t1" {
		t.Errorf("expected only t1 in range, got %+v", r.Trades)
	}
	if r.DataSummary.Signals != 1 {
		t.Errorf("expected 1 signal, got %d", r.DataSummary.Signals)
	}
}

func TestRenderMarkdown(t *testing.T) {
	r := NewGenerator().WithClock(func() time.Time { return fixedNow }).FromResult(config.Default(), testResult())
	md := RenderMarkdown(r)

	for _, want := range []string{
		"# Backtest Report",
		"Generated: 2024-03-01T12:00:00Z",
		"| Trades | 2 |",
		"| Win Rate | 50.00% |",
		"| Total P&L | 4.00 |",
		"| ETHUSDT | 1 | 1 |",
		"| RISK_BREACH | MAX_POSITIONS | 1 |",
		"| STOP_LOSS | 1 |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestRenderMarkdown_Empty(t *testing.T) {
	r := &Report{Title: "Backtest Report", GeneratedAt: fixedNow}
	md := RenderMarkdown(r)
	if !strings.Contains(md, "No trades closed.") || !strings.Contains(md, "No signals generated.") {
		t.Errorf("expected empty-state messages:\n%s", md)
	}
}

func TestRenderTradesCSV(t *testing.T) {
	r := NewGenerator().FromResult(config.Default(), testResult())
	out := RenderTradesCSV(r.Trades)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "trade_id,asset,side") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.HasPrefix(lines[1], "t1,ETHUSDT,LONG,20.00,") {
		t.Errorf("unexpected first row: %s", lines[1])
	}
}

func TestRenderAssetsCSV(t *testing.T) {
	r := NewGenerator().FromResult(config.Default(), testResult())
	out := RenderAssetsCSV(r)
	if !strings.Contains(out, "SOLUSDT,1,0,0.000000,-4.000000,") {
		t.Errorf("unexpected assets csv:\n%s", out)
	}
}

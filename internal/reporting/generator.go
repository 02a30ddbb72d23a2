package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"corrdiv/internal/backtest"
	"corrdiv/internal/config"
	"corrdiv/internal/domain"
	"corrdiv/internal/metrics"
	"corrdiv/internal/storage"
)

// Generator builds reports from backtest results or stored records.
type Generator struct {
	now func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator() *Generator {
	return &Generator{
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// FromResult builds a report for a backtest run.
func (g *Generator) FromResult(cfg *config.Config, res *backtest.Result) *Report {
	return &Report{
		GeneratedAt: g.now(),
		Title:       "Backtest Report",
		Reference:   cfg.Reference,
		Assets:      sortedAssets(cfg.Assets),
		DataSummary: DataSummary{
			Ticks:          res.Ticks,
			DateRangeStart: res.StartMs,
			DateRangeEnd:   res.EndMs,
			DataErrors:     res.DataErrors,
			Signals:        len(res.Signals),
		},
		Summary:     res.Summary,
		Outcomes:    outcomeRows(res.Outcomes),
		ExitReasons: exitReasonRows(res.Summary.ExitReasons),
		Trades:      tradeRows(res.Trades),
	}
}

// FromStores builds a report over the trades closed and the outcomes
// generated within [from, to].
func (g *Generator) FromStores(ctx context.Context, cfg *config.Config, trades storage.ClosedTradeStore, outcomes storage.OutcomeStore, from, to int64) (*Report, error) {
	summary, ledger, err := metrics.NewAggregator(trades).Summarize(ctx, from, to, cfg.Backtest.InitialBalance)
	if err != nil {
		return nil, err
	}

	var outs []domain.SignalOutcome
	if outcomes != nil {
		storedOuts, err := outcomes.GetByTimeRange(ctx, from, to)
		if err != nil {
			return nil, fmt.Errorf("load outcomes: %w", err)
		}
		for _, o := range storedOuts {
			outs = append(outs, *o)
		}
	}

	return &Report{
		GeneratedAt: g.now(),
		Title:       "Ledger Report",
		Reference:   cfg.Reference,
		Assets:      sortedAssets(cfg.Assets),
		DataSummary: DataSummary{
			DateRangeStart: from,
			DateRangeEnd:   to,
			Signals:        len(outs),
		},
		Summary:     summary,
		Outcomes:    outcomeRows(outs),
		ExitReasons: exitReasonRows(summary.ExitReasons),
		Trades:      tradeRows(ledger),
	}, nil
}

func sortedAssets(assets []string) []string {
	out := append([]string(nil), assets...)
	sort.Strings(out)
	return out
}

func outcomeRows(outcomes []domain.SignalOutcome) []OutcomeRow {
	type key struct {
		outcome domain.Outcome
		reason  string
	}
	counts := make(map[key]int)
	for _, o := range outcomes {
		counts[key{o.Outcome, o.Reason}]++
	}
	rows := make([]OutcomeRow, 0, len(counts))
	for k, n := range counts {
		rows = append(rows, OutcomeRow{Outcome: k.outcome, Reason: k.reason, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Outcome != rows[j].Outcome {
			return rows[i].Outcome < rows[j].Outcome
		}
		return rows[i].Reason < rows[j].Reason
	})
	return rows
}

func exitReasonRows(reasons map[string]int) []ExitReasonRow {
	rows := make([]ExitReasonRow, 0, len(reasons))
	for r, n := range reasons {
		rows = append(rows, ExitReasonRow{Reason: r, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Reason < rows[j].Reason })
	return rows
}

func tradeRows(trades []domain.ClosedTrade) []TradeRow {
	sorted := make([]domain.ClosedTrade, len(trades))
	copy(sorted, trades)
	metrics.SortTrades(sorted)

	rows := make([]TradeRow, len(sorted))
	for i, t := range sorted {
		rows[i] = TradeRow{
			TradeID:     t.TradeID,
			Asset:       t.Asset,
			Side:        t.Side,
			Leverage:    t.Leverage,
			EntryPrice:  t.EntryPrice,
			ExitPrice:   t.ExitPrice,
			Quantity:    t.Quantity,
			OpenedAtMs:  t.OpenedAtMs,
			ClosedAtMs:  t.ClosedAtMs,
			ExitReason:  t.ExitReason,
			RealizedPnL: t.RealizedPnL,
			ReturnPct:   t.ReturnPct(),
		}
	}
	return rows
}

package metrics

import (
	"context"
	"fmt"

	"corrdiv/internal/domain"
	"corrdiv/internal/storage"
)

// Aggregator computes summaries from the persisted trade ledger.
type Aggregator struct {
	tradeStore storage.ClosedTradeStore
}

// NewAggregator creates a new metrics aggregator.
func NewAggregator(tradeStore storage.ClosedTradeStore) *Aggregator {
	return &Aggregator{tradeStore: tradeStore}
}

// Ledger returns the stored trades closed within [from, to], ordered by
// (closed_at, trade_id). A zero to leaves the range open-ended.
func (a *Aggregator) Ledger(ctx context.Context, from, to int64) ([]domain.ClosedTrade, error) {
	stored, err := a.tradeStore.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	out := make([]domain.ClosedTrade, 0, len(stored))
	for _, t := range stored {
		if t.ClosedAtMs < from || (to > 0 && t.ClosedAtMs > to) {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

// Summarize computes the summary of the trades closed within [from, to] and
// returns them with it. An empty range yields a zero-trade summary.
func (a *Aggregator) Summarize(ctx context.Context, from, to int64, initialBalance float64) (Summary, []domain.ClosedTrade, error) {
	trades, err := a.Ledger(ctx, from, to)
	if err != nil {
		return Summary{}, nil, err
	}
	return Compute(trades, initialBalance), trades, nil
}

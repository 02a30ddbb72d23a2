package engine

import (
	"context"
	"errors"
	"time"

	"corrdiv/internal/domain"
	"corrdiv/internal/observability"
	"corrdiv/internal/storage"
)

// Recorder persists the engine's audit trail.
type Recorder interface {
	RecordTrades(ctx context.Context, trades []domain.ClosedTrade) error
	RecordOutcomes(ctx context.Context, outcomes []domain.SignalOutcome) error
	RecordSamples(ctx context.Context, samples []domain.CorrelationSample) error
	RecordSnapshot(ctx context.Context, snap domain.PortfolioSnapshot) error
}

// StoreRecorder writes to storage backends. Nil stores are skipped.
type StoreRecorder struct {
	Trades    storage.ClosedTradeStore
	Outcomes  storage.OutcomeStore
	Samples   storage.CorrelationSampleStore
	Snapshots storage.SnapshotStore

	// Database labels the query metrics; empty disables timing.
	Database string
	Metrics  *observability.Metrics
}

var _ Recorder = (*StoreRecorder)(nil)

// RecordTrades appends closed trades to the ledger.
func (r *StoreRecorder) RecordTrades(ctx context.Context, trades []domain.ClosedTrade) error {
	if r.Trades == nil || len(trades) == 0 {
		return nil
	}
	return r.timed("insert_trades", func() error {
		return r.Trades.InsertBulk(ctx, pointers(trades))
	})
}

// RecordOutcomes appends signal outcomes.
func (r *StoreRecorder) RecordOutcomes(ctx context.Context, outcomes []domain.SignalOutcome) error {
	if r.Outcomes == nil || len(outcomes) == 0 {
		return nil
	}
	return r.timed("insert_outcomes", func() error {
		return r.Outcomes.InsertBulk(ctx, pointers(outcomes))
	})
}

// RecordSamples appends correlation samples.
func (r *StoreRecorder) RecordSamples(ctx context.Context, samples []domain.CorrelationSample) error {
	if r.Samples == nil || len(samples) == 0 {
		return nil
	}
	return r.timed("insert_samples", func() error {
		return r.Samples.InsertBulk(ctx, samples)
	})
}

// RecordSnapshot stores a portfolio snapshot. A snapshot already stored for the
// same timestamp is not an error.
func (r *StoreRecorder) RecordSnapshot(ctx context.Context, snap domain.PortfolioSnapshot) error {
	if r.Snapshots == nil {
		return nil
	}
	err := r.timed("insert_snapshot", func() error {
		return r.Snapshots.Insert(ctx, &snap)
	})
	if errors.Is(err, storage.ErrDuplicateKey) {
		return nil
	}
	return err
}

func (r *StoreRecorder) timed(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	if r.Database != "" {
		r.Metrics.RecordDBQuery(r.Database, op, time.Since(start).Seconds(), err)
	}
	return err
}

func pointers[T any](in []T) []*T {
	out := make([]*T, len(in))
	for i := range in {
		out[i] = &in[i]
	}
	return out
}

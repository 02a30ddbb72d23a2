package storage

import (
	"context"

	"corrdiv/internal/domain"
)

// PriceSeriesStore provides access to historical OHLCV bars keyed by (asset, timestamp_ms).
type PriceSeriesStore interface {
	// InsertBulk adds bars for one asset. Fails entire batch on duplicate (asset, timestamp_ms).
	InsertBulk(ctx context.Context, asset string, points []domain.PricePoint) error

	// GetByAssetTimeRange retrieves bars within [start, end] (inclusive), ordered by timestamp ASC.
	GetByAssetTimeRange(ctx context.Context, asset string, start, end int64) ([]domain.PricePoint, error)

	// ListAssets returns every asset with at least one bar, sorted.
	ListAssets(ctx context.Context) ([]string, error)

	// GetTimeRange returns the min and max timestamps stored for an asset.
	// Returns ErrNotFound if the asset has no bars.
	GetTimeRange(ctx context.Context, asset string) (minTs, maxTs int64, err error)
}

// ClosedTradeStore provides access to the append-only closed trade ledger.
type ClosedTradeStore interface {
	// Insert adds a trade. Returns ErrDuplicateKey if trade_id exists.
	Insert(ctx context.Context, t *domain.ClosedTrade) error

	// InsertBulk adds multiple trades atomically. Fails entire batch on duplicate.
	InsertBulk(ctx context.Context, trades []*domain.ClosedTrade) error

	// GetByID retrieves a trade. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, tradeID string) (*domain.ClosedTrade, error)

	// GetByAsset retrieves all trades for an asset, ordered by (closed_at, trade_id).
	GetByAsset(ctx context.Context, asset string) ([]*domain.ClosedTrade, error)

	// GetAll retrieves every trade, ordered by (closed_at, trade_id).
	GetAll(ctx context.Context) ([]*domain.ClosedTrade, error)
}

// SnapshotStore persists portfolio snapshots taken after each tick.
type SnapshotStore interface {
	// Insert adds a snapshot. Returns ErrDuplicateKey if one exists for taken_at.
	Insert(ctx context.Context, s *domain.PortfolioSnapshot) error

	// Latest returns the most recent snapshot. Returns ErrNotFound if empty.
	Latest(ctx context.Context) (*domain.PortfolioSnapshot, error)
}

// OutcomeStore persists the outcome of every emitted signal.
type OutcomeStore interface {
	// InsertBulk adds outcomes atomically. Key is (asset, generated_at).
	InsertBulk(ctx context.Context, outcomes []*domain.SignalOutcome) error

	// GetByTimeRange retrieves outcomes whose signal was generated within [start, end],
	// ordered by (generated_at, asset).
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.SignalOutcome, error)
}

// CorrelationSampleStore persists per-tick correlation samples for offline analysis.
type CorrelationSampleStore interface {
	// InsertBulk adds samples. Duplicates on (tracked, timestamp_ms) fail the batch.
	InsertBulk(ctx context.Context, samples []domain.CorrelationSample) error

	// GetByAssetTimeRange retrieves samples of a tracked asset within [start, end], ordered by timestamp ASC.
	GetByAssetTimeRange(ctx context.Context, tracked string, start, end int64) ([]domain.CorrelationSample, error)
}

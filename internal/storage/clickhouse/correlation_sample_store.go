package clickhouse

import (
	"context"
	"fmt"

	"corrdiv/internal/domain"
	"corrdiv/internal/storage"
)

// CorrelationSampleStore implements storage.CorrelationSampleStore using ClickHouse.
type CorrelationSampleStore struct {
	conn *Conn
}

// NewCorrelationSampleStore creates a new CorrelationSampleStore.
func NewCorrelationSampleStore(conn *Conn) *CorrelationSampleStore {
	return &CorrelationSampleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CorrelationSampleStore = (*CorrelationSampleStore)(nil)

// InsertBulk adds samples. Intra-batch duplicates on (tracked, timestamp_ms) fail the batch.
func (s *CorrelationSampleStore) InsertBulk(ctx context.Context, samples []domain.CorrelationSample) error {
	if len(samples) == 0 {
		return nil
	}

	type key struct {
		tracked string
		ts      int64
	}
	seen := make(map[key]struct{}, len(samples))
	for _, smp := range samples {
		if smp.Pair.Tracked == "" || smp.TimestampMs < 0 {
			return storage.ErrInvalidInput
		}
		k := key{smp.Pair.Tracked, smp.TimestampMs}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO correlation_samples (
			reference_asset, tracked_asset, timestamp_ms,
			window_corr, baseline_corr, deviation_ratio
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, smp := range samples {
		err = batch.Append(
			smp.Pair.Reference, smp.Pair.Tracked, uint64(smp.TimestampMs),
			smp.WindowCorrelation, smp.BaselineCorrelation, smp.DeviationRatio,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByAssetTimeRange retrieves samples of a tracked asset within [start, end], ordered by timestamp ASC.
func (s *CorrelationSampleStore) GetByAssetTimeRange(ctx context.Context, tracked string, start, end int64) ([]domain.CorrelationSample, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT reference_asset, tracked_asset, timestamp_ms,
			window_corr, baseline_corr, deviation_ratio
		FROM correlation_samples
		WHERE tracked_asset = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`, tracked, uint64(max(start, 0)), uint64(max(end, 0)))
	if err != nil {
		return nil, fmt.Errorf("query correlation samples: %w", err)
	}
	defer rows.Close()

	var samples []domain.CorrelationSample
	for rows.Next() {
		var smp domain.CorrelationSample
		var ts uint64
		err := rows.Scan(
			&smp.Pair.Reference, &smp.Pair.Tracked, &ts,
			&smp.WindowCorrelation, &smp.BaselineCorrelation, &smp.DeviationRatio,
		)
		if err != nil {
			return nil, fmt.Errorf("scan correlation sample row: %w", err)
		}
		smp.TimestampMs = int64(ts)
		samples = append(samples, smp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate correlation sample rows: %w", err)
	}
	return samples, nil
}

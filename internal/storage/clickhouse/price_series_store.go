package clickhouse

import (
	"context"
	"fmt"

	"corrdiv/internal/domain"
	"corrdiv/internal/storage"
)

// PriceSeriesStore implements storage.PriceSeriesStore using ClickHouse.
type PriceSeriesStore struct {
	conn *Conn
}

// NewPriceSeriesStore creates a new PriceSeriesStore.
func NewPriceSeriesStore(conn *Conn) *PriceSeriesStore {
	return &PriceSeriesStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceSeriesStore = (*PriceSeriesStore)(nil)

// InsertBulk adds bars for one asset. Fails entire batch on duplicate (asset, timestamp_ms).
// MergeTree does not enforce keys, so duplicates are checked before the batch is sent.
func (s *PriceSeriesStore) InsertBulk(ctx context.Context, asset string, points []domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	if asset == "" {
		return storage.ErrInvalidInput
	}

	seen := make(map[int64]struct{}, len(points))
	minTs, maxTs := points[0].TimestampMs, points[0].TimestampMs
	for _, p := range points {
		if p.TimestampMs < 0 || p.Close <= 0 {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[p.TimestampMs]; exists {
			return storage.ErrDuplicateKey
		}
		seen[p.TimestampMs] = struct{}{}
		minTs = min(minTs, p.TimestampMs)
		maxTs = max(maxTs, p.TimestampMs)
	}

	existing, err := s.existingTimestamps(ctx, asset, minTs, maxTs)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	for ts := range seen {
		if _, ok := existing[ts]; ok {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_bars (
			asset, timestamp_ms, open, high, low, close, volume
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(
			asset, uint64(p.TimestampMs),
			p.Open, p.High, p.Low, p.Close, p.Volume,
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

// GetByAssetTimeRange retrieves bars within [start, end] (inclusive), ordered by timestamp ASC.
func (s *PriceSeriesStore) GetByAssetTimeRange(ctx context.Context, asset string, start, end int64) ([]domain.PricePoint, error) {
	query := `
		SELECT timestamp_ms, open, high, low, close, volume
		FROM price_bars
		WHERE asset = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, asset, uint64(max(start, 0)), uint64(max(end, 0)))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanPriceBars(rows)
}

// ListAssets returns every asset with stored bars, sorted.
func (s *PriceSeriesStore) ListAssets(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx, `SELECT DISTINCT asset FROM price_bars ORDER BY asset ASC`)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var assets []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scan asset row: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate asset rows: %w", err)
	}
	return assets, nil
}

// GetTimeRange returns min and max timestamps for an asset.
func (s *PriceSeriesStore) GetTimeRange(ctx context.Context, asset string) (minTs, maxTs int64, err error) {
	var count, lo, hi uint64
	err = s.conn.QueryRow(ctx, `
		SELECT count(), min(timestamp_ms), max(timestamp_ms)
		FROM price_bars
		WHERE asset = ?
	`, asset).Scan(&count, &lo, &hi)
	if err != nil {
		return 0, 0, fmt.Errorf("query time range: %w", err)
	}
	if count == 0 {
		return 0, 0, storage.ErrNotFound
	}
	return int64(lo), int64(hi), nil
}

func (s *PriceSeriesStore) existingTimestamps(ctx context.Context, asset string, minTs, maxTs int64) (map[int64]struct{}, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT timestamp_ms FROM price_bars
		WHERE asset = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
	`, asset, uint64(minTs), uint64(maxTs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]struct{})
	for rows.Next() {
		var ts uint64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out[int64(ts)] = struct{}{}
	}
	return out, rows.Err()
}

// scanPriceBars scans multiple rows.
func scanPriceBars(rows chRows) ([]domain.PricePoint, error) {
	var points []domain.PricePoint

	for rows.Next() {
		var p domain.PricePoint
		var timestampMs uint64

		err := rows.Scan(&timestampMs, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume)
		if err != nil {
			return nil, fmt.Errorf("scan price bar row: %w", err)
		}

		p.TimestampMs = int64(timestampMs)
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price bar rows: %w", err)
	}
	return points, nil
}

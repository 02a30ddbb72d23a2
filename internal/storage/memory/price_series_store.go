package memory

import (
	"context"
	"sort"
	"sync"

	"corrdiv/internal/domain"
	"corrdiv/internal/storage"
)

// PriceSeriesStore is an in-memory implementation of storage.PriceSeriesStore.
type PriceSeriesStore struct {
	mu   sync.RWMutex
	data map[string]map[int64]domain.PricePoint // asset -> timestamp_ms -> bar
}

// NewPriceSeriesStore creates a new in-memory price series store.
func NewPriceSeriesStore() *PriceSeriesStore {
	return &PriceSeriesStore{
		data: make(map[string]map[int64]domain.PricePoint),
	}
}

// InsertBulk adds bars for one asset. Fails entire batch on duplicate.
func (s *PriceSeriesStore) InsertBulk(_ context.Context, asset string, points []domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	if asset == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.data[asset]
	batch := make(map[int64]struct{}, len(points))

	// First pass: check for duplicates (existing + intra-batch)
	for _, p := range points {
		if p.TimestampMs < 0 || p.Close <= 0 {
			return storage.ErrInvalidInput
		}
		if _, ok := existing[p.TimestampMs]; ok {
			return storage.ErrDuplicateKey
		}
		if _, ok := batch[p.TimestampMs]; ok {
			return storage.ErrDuplicateKey
		}
		batch[p.TimestampMs] = struct{}{}
	}

	// Second pass: insert all
	if existing == nil {
		existing = make(map[int64]domain.PricePoint, len(points))
		s.data[asset] = existing
	}
	for _, p := range points {
		existing[p.TimestampMs] = p
	}
	return nil
}

// GetByAssetTimeRange retrieves bars within [start, end] (inclusive), ordered by timestamp ASC.
func (s *PriceSeriesStore) GetByAssetTimeRange(_ context.Context, asset string, start, end int64) ([]domain.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.PricePoint
	for ts, p := range s.data[asset] {
		if ts >= start && ts <= end {
			result = append(result, p)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})
	return result, nil
}

// ListAssets returns every asset with stored bars, sorted.
func (s *PriceSeriesStore) ListAssets(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assets := make([]string, 0, len(s.data))
	for a, pts := range s.data {
		if len(pts) > 0 {
			assets = append(assets, a)
		}
	}
	sort.Strings(assets)
	return assets, nil
}

// GetTimeRange returns min and max timestamps for an asset.
func (s *PriceSeriesStore) GetTimeRange(_ context.Context, asset string) (minTs, maxTs int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pts := s.data[asset]
	if len(pts) == 0 {
		return 0, 0, storage.ErrNotFound
	}

	first := true
	for ts := range pts {
		if first {
			minTs, maxTs = ts, ts
			first = false
			continue
		}
		if ts < minTs {
			minTs = ts
		}
		if ts > maxTs {
			maxTs = ts
		}
	}
	return minTs, maxTs, nil
}

var _ storage.PriceSeriesStore = (*PriceSeriesStore)(nil)

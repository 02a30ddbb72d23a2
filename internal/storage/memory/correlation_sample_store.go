package memory

import (
	"context"
	"sort"
	"sync"

	"corrdiv/internal/domain"
	"corrdiv/internal/storage"
)

// CorrelationSampleStore is an in-memory implementation of storage.CorrelationSampleStore.
type CorrelationSampleStore struct {
	mu   sync.RWMutex
	data map[string]map[int64]domain.CorrelationSample // tracked -> timestamp_ms -> sample
}

// NewCorrelationSampleStore creates a new in-memory correlation sample store.
func NewCorrelationSampleStore() *CorrelationSampleStore {
	return &CorrelationSampleStore{
		data: make(map[string]map[int64]domain.CorrelationSample),
	}
}

// InsertBulk adds samples. Fails entire batch on duplicate (tracked, timestamp_ms).
func (s *CorrelationSampleStore) InsertBulk(_ context.Context, samples []domain.CorrelationSample) error {
	if len(samples) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct {
		tracked string
		ts      int64
	}
	batch := make(map[key]struct{}, len(samples))
	for _, smp := range samples {
		if smp.Pair.Tracked == "" {
			return storage.ErrInvalidInput
		}
		if _, ok := s.data[smp.Pair.Tracked][smp.TimestampMs]; ok {
			return storage.ErrDuplicateKey
		}
		k := key{smp.Pair.Tracked, smp.TimestampMs}
		if _, ok := batch[k]; ok {
			return storage.ErrDuplicateKey
		}
		batch[k] = struct{}{}
	}

	for _, smp := range samples {
		byTs := s.data[smp.Pair.Tracked]
		if byTs == nil {
			byTs = make(map[int64]domain.CorrelationSample)
			s.data[smp.Pair.Tracked] = byTs
		}
		byTs[smp.TimestampMs] = smp
	}
	return nil
}

// GetByAssetTimeRange retrieves samples within [start, end], ordered by timestamp ASC.
func (s *CorrelationSampleStore) GetByAssetTimeRange(_ context.Context, tracked string, start, end int64) ([]domain.CorrelationSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.CorrelationSample
	for ts, smp := range s.data[tracked] {
		if ts >= start && ts <= end {
			result = append(result, smp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})
	return result, nil
}

var _ storage.CorrelationSampleStore = (*CorrelationSampleStore)(nil)

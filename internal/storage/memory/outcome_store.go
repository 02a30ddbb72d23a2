package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"corrdiv/internal/domain"
	"corrdiv/internal/storage"
)

// OutcomeStore is an in-memory implementation of storage.OutcomeStore.
type OutcomeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SignalOutcome // keyed by (asset, generated_at)
}

// NewOutcomeStore creates a new in-memory outcome store.
func NewOutcomeStore() *OutcomeStore {
	return &OutcomeStore{
		data: make(map[string]*domain.SignalOutcome),
	}
}

func outcomeKey(asset string, generatedAtMs int64) string {
	return fmt.Sprintf("%s|%d", asset, generatedAtMs)
}

// InsertBulk adds outcomes atomically. Fails entire batch on duplicate.
func (s *OutcomeStore) InsertBulk(_ context.Context, outcomes []*domain.SignalOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(outcomes))
	for _, o := range outcomes {
		if o == nil || o.Signal.Asset == "" || o.Outcome == "" {
			return storage.ErrInvalidInput
		}
		key := outcomeKey(o.Signal.Asset, o.Signal.GeneratedAtMs)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, o := range outcomes {
		s.data[outcomeKey(o.Signal.Asset, o.Signal.GeneratedAtMs)] = copyOutcome(o)
	}
	return nil
}

// GetByTimeRange retrieves outcomes generated within [start, end], ordered by (generated_at, asset).
func (s *OutcomeStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.SignalOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SignalOutcome
	for _, o := range s.data {
		ts := o.Signal.GeneratedAtMs
		if ts >= start && ts <= end {
			result = append(result, copyOutcome(o))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i].Signal, result[j].Signal
		if a.GeneratedAtMs != b.GeneratedAtMs {
			return a.GeneratedAtMs < b.GeneratedAtMs
		}
		return a.Asset < b.Asset
	})
	return result, nil
}

func copyOutcome(o *domain.SignalOutcome) *domain.SignalOutcome {
	out := *o
	if o.Decision != nil {
		d := *o.Decision
		out.Decision = &d
	}
	return &out
}

var _ storage.OutcomeStore = (*OutcomeStore)(nil)

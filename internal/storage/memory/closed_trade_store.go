package memory

import (
	"context"
	"sort"
	"sync"

	"corrdiv/internal/domain"
	"corrdiv/internal/storage"
)

// ClosedTradeStore is an in-memory implementation of storage.ClosedTradeStore.
type ClosedTradeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ClosedTrade // keyed by trade_id
}

// NewClosedTradeStore creates a new in-memory closed trade store.
func NewClosedTradeStore() *ClosedTradeStore {
	return &ClosedTradeStore{
		data: make(map[string]*domain.ClosedTrade),
	}
}

// Insert adds a new trade. Returns ErrDuplicateKey if trade_id exists.
func (s *ClosedTradeStore) Insert(_ context.Context, t *domain.ClosedTrade) error {
	if t == nil || t.TradeID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.TradeID]; exists {
		return storage.ErrDuplicateKey
	}

	tradeCopy := *t
	s.data[t.TradeID] = &tradeCopy
	return nil
}

// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
func (s *ClosedTradeStore) InsertBulk(_ context.Context, trades []*domain.ClosedTrade) error {
	if len(trades) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(trades))
	for _, t := range trades {
		if t == nil || t.TradeID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[t.TradeID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[t.TradeID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[t.TradeID] = struct{}{}
	}

	for _, t := range trades {
		tradeCopy := *t
		s.data[t.TradeID] = &tradeCopy
	}
	return nil
}

// GetByID retrieves a trade by ID. Returns ErrNotFound if not exists.
func (s *ClosedTradeStore) GetByID(_ context.Context, tradeID string) (*domain.ClosedTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.data[tradeID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	tradeCopy := *t
	return &tradeCopy, nil
}

// GetByAsset retrieves all trades for an asset, ordered by (closed_at, trade_id).
func (s *ClosedTradeStore) GetByAsset(_ context.Context, asset string) ([]*domain.ClosedTrade, error) {
	return s.collect(func(t *domain.ClosedTrade) bool { return t.Asset == asset }), nil
}

// GetAll retrieves every trade, ordered by (closed_at, trade_id).
func (s *ClosedTradeStore) GetAll(_ context.Context) ([]*domain.ClosedTrade, error) {
	return s.collect(func(*domain.ClosedTrade) bool { return true }), nil
}

func (s *ClosedTradeStore) collect(match func(*domain.ClosedTrade) bool) []*domain.ClosedTrade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ClosedTrade
	for _, t := range s.data {
		if match(t) {
			tradeCopy := *t
			result = append(result, &tradeCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ClosedAtMs != result[j].ClosedAtMs {
			return result[i].ClosedAtMs < result[j].ClosedAtMs
		}
		return result[i].TradeID < result[j].TradeID
	})
	return result
}

var _ storage.ClosedTradeStore = (*ClosedTradeStore)(nil)

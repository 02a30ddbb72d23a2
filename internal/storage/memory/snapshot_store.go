package memory

import (
	"context"
	"sync"

	"corrdiv/internal/domain"
	"corrdiv/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu     sync.RWMutex
	data   map[int64]*domain.PortfolioSnapshot // keyed by taken_at
	latest int64
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[int64]*domain.PortfolioSnapshot),
	}
}

// Insert adds a snapshot. Returns ErrDuplicateKey if one exists for taken_at.
func (s *SnapshotStore) Insert(_ context.Context, snap *domain.PortfolioSnapshot) error {
	if snap == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[snap.TakenAtMs]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[snap.TakenAtMs] = copySnapshot(snap)
	if len(s.data) == 1 || snap.TakenAtMs > s.latest {
		s.latest = snap.TakenAtMs
	}
	return nil
}

// Latest returns the most recent snapshot. Returns ErrNotFound if empty.
func (s *SnapshotStore) Latest(_ context.Context) (*domain.PortfolioSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.data[s.latest]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copySnapshot(snap), nil
}

func copySnapshot(snap *domain.PortfolioSnapshot) *domain.PortfolioSnapshot {
	out := *snap
	out.OpenPositions = append([]domain.Position(nil), snap.OpenPositions...)
	return &out
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)

package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"corrdiv/internal/domain"
	"corrdiv/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// positionJSON is the stored shape of an open position inside a snapshot.
type positionJSON struct {
	PositionID   string  `json:"position_id"`
	Asset        string  `json:"asset"`
	Side         string  `json:"side"`
	EntryPrice   float64 `json:"entry_price"`
	Quantity     float64 `json:"quantity"`
	Leverage     float64 `json:"leverage"`
	StopLoss     float64 `json:"stop_loss"`
	TakeProfit   float64 `json:"take_profit"`
	OpenedAtMs   int64   `json:"opened_at"`
	EntryOrderID string  `json:"entry_order_id"`
	Strength     float64 `json:"strength"`
}

// Insert adds a snapshot. Returns ErrDuplicateKey if one exists for taken_at.
func (s *SnapshotStore) Insert(ctx context.Context, snap *domain.PortfolioSnapshot) error {
	if snap == nil {
		return storage.ErrInvalidInput
	}

	positions := make([]positionJSON, len(snap.OpenPositions))
	for i, p := range snap.OpenPositions {
		positions[i] = positionJSON{
			PositionID: p.PositionID, Asset: p.Asset, Side: string(p.Side),
			EntryPrice: p.EntryPrice, Quantity: p.Quantity, Leverage: p.Leverage,
			StopLoss: p.StopLoss, TakeProfit: p.TakeProfit, OpenedAtMs: p.OpenedAtMs,
			EntryOrderID: p.EntryOrderID, Strength: p.Strength,
		}
	}
	payload, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("encode open positions: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO portfolio_snapshots (taken_at, balance, realized_pnl_total, open_positions)
		VALUES ($1, $2, $3, $4)
	`, snap.TakenAtMs, snap.Balance, snap.RealizedPnLTotal, payload)
	return mapError("insert portfolio snapshot", err)
}

// Latest returns the most recent snapshot. Returns ErrNotFound if empty.
func (s *SnapshotStore) Latest(ctx context.Context) (*domain.PortfolioSnapshot, error) {
	var snap domain.PortfolioSnapshot
	var payload []byte

	err := s.pool.QueryRow(ctx, `
		SELECT taken_at, balance, realized_pnl_total, open_positions
		FROM portfolio_snapshots
		ORDER BY taken_at DESC
		LIMIT 1
	`).Scan(&snap.TakenAtMs, &snap.Balance, &snap.RealizedPnLTotal, &payload)
	if err != nil {
		return nil, mapError("get latest portfolio snapshot", err)
	}

	var positions []positionJSON
	if err := json.Unmarshal(payload, &positions); err != nil {
		return nil, fmt.Errorf("decode open positions: %w", err)
	}
	snap.OpenPositions = make([]domain.Position, len(positions))
	for i, p := range positions {
		snap.OpenPositions[i] = domain.Position{
			PositionID: p.PositionID, Asset: p.Asset, Side: domain.Side(p.Side),
			EntryPrice: p.EntryPrice, Quantity: p.Quantity, Leverage: p.Leverage,
			StopLoss: p.StopLoss, TakeProfit: p.TakeProfit, OpenedAtMs: p.OpenedAtMs,
			Status: domain.PositionOpen, EntryOrderID: p.EntryOrderID, Strength: p.Strength,
		}
	}
	return &snap, nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"corrdiv/internal/domain"
	"corrdiv/internal/storage"
)

// ClosedTradeStore implements storage.ClosedTradeStore using PostgreSQL.
type ClosedTradeStore struct {
	pool *Pool
}

// NewClosedTradeStore creates a new ClosedTradeStore.
func NewClosedTradeStore(pool *Pool) *ClosedTradeStore {
	return &ClosedTradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ClosedTradeStore = (*ClosedTradeStore)(nil)

const insertClosedTrade = `
	INSERT INTO closed_trades (
		trade_id, position_id, asset, side,
		entry_price, quantity, leverage, stop_loss, take_profit,
		opened_at, entry_order_id, strength,
		exit_price, exit_reason, closed_at, realized_pnl
	) VALUES (
		$1, $2, $3, $4,
		$5, $6, $7, $8, $9,
		$10, $11, $12,
		$13, $14, $15, $16
	)
`

const selectClosedTrade = `
	SELECT
		trade_id, position_id, asset, side,
		entry_price, quantity, leverage, stop_loss, take_profit,
		opened_at, entry_order_id, strength,
		exit_price, exit_reason, closed_at, realized_pnl
	FROM closed_trades
`

func closedTradeArgs(t *domain.ClosedTrade) []any {
	return []any{
		t.TradeID, t.PositionID, t.Asset, string(t.Side),
		t.EntryPrice, t.Quantity, t.Leverage, t.StopLoss, t.TakeProfit,
		t.OpenedAtMs, t.EntryOrderID, t.Strength,
		t.ExitPrice, t.ExitReason, t.ClosedAtMs, t.RealizedPnL,
	}
}

// Insert adds a new trade. Returns ErrDuplicateKey if trade_id exists.
func (s *ClosedTradeStore) Insert(ctx context.Context, t *domain.ClosedTrade) error {
	if t == nil || t.TradeID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, insertClosedTrade, closedTradeArgs(t)...)
	return mapError("insert closed trade", err)
}

// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
func (s *ClosedTradeStore) InsertBulk(ctx context.Context, trades []*domain.ClosedTrade) error {
	if len(trades) == 0 {
		return nil
	}

	err := s.pool.inTx(ctx, func(tx pgx.Tx) error {
		for _, t := range trades {
			if t == nil || t.TradeID == "" {
				return storage.ErrInvalidInput
			}
			if _, err := tx.Exec(ctx, insertClosedTrade, closedTradeArgs(t)...); err != nil {
				return err
			}
		}
		return nil
	})
	return mapError("insert closed trades in bulk", err)
}

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *ClosedTradeStore) GetByID(ctx context.Context, tradeID string) (*domain.ClosedTrade, error) {
	row := s.pool.QueryRow(ctx, selectClosedTrade+` WHERE trade_id = $1`, tradeID)
	t, err := scanClosedTrade(row)
	if err != nil {
		return nil, mapError("get closed trade by id", err)
	}
	return t, nil
}

// GetByAsset retrieves all trades for an asset, ordered by (closed_at, trade_id).
func (s *ClosedTradeStore) GetByAsset(ctx context.Context, asset string) ([]*domain.ClosedTrade, error) {
	rows, err := s.pool.Query(ctx, selectClosedTrade+`
		WHERE asset = $1
		ORDER BY closed_at ASC, trade_id ASC
	`, asset)
	if err != nil {
		return nil, fmt.Errorf("get closed trades by asset: %w", err)
	}
	defer rows.Close()

	return scanClosedTrades(rows)
}

// GetAll retrieves every trade, ordered by (closed_at, trade_id).
func (s *ClosedTradeStore) GetAll(ctx context.Context) ([]*domain.ClosedTrade, error) {
	rows, err := s.pool.Query(ctx, selectClosedTrade+`
		ORDER BY closed_at ASC, trade_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("get all closed trades: %w", err)
	}
	defer rows.Close()

	return scanClosedTrades(rows)
}

// scanClosedTrade scans a single row into a ClosedTrade.
func scanClosedTrade(row pgx.Row) (*domain.ClosedTrade, error) {
	var t domain.ClosedTrade
	var side string

	err := row.Scan(
		&t.TradeID, &t.PositionID, &t.Asset, &side,
		&t.EntryPrice, &t.Quantity, &t.Leverage, &t.StopLoss, &t.TakeProfit,
		&t.OpenedAtMs, &t.EntryOrderID, &t.Strength,
		&t.ExitPrice, &t.ExitReason, &t.ClosedAtMs, &t.RealizedPnL,
	)
	if err != nil {
		return nil, err
	}

	t.Side = domain.Side(side)
	t.Status = domain.PositionClosed
	return &t, nil
}

// scanClosedTrades scans multiple rows.
func scanClosedTrades(rows pgx.Rows) ([]*domain.ClosedTrade, error) {
	var trades []*domain.ClosedTrade

	for rows.Next() {
		t, err := scanClosedTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan closed trade row: %w", err)
		}
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate closed trade rows: %w", err)
	}
	return trades, nil
}

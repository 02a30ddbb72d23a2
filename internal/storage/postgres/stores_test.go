package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corrdiv/internal/domain"
	"corrdiv/internal/storage"
)

func createTestTrade(tradeID, asset string, closedAt int64) *domain.ClosedTrade {
	return &domain.ClosedTrade{
		TradeID: tradeID,
		Position: domain.Position{
			PositionID:   "pos-" + tradeID,
			Asset:        asset,
			Side:         domain.SideLong,
			EntryPrice:   100,
			Quantity:     2.5,
			Leverage:     10,
			StopLoss:     98,
			TakeProfit:   106,
			OpenedAtMs:   closedAt - 3_600_000,
			Status:       domain.PositionClosed,
			EntryOrderID: "order-" + tradeID,
			Strength:     0.42,
		},
		ExitPrice:   98,
		ExitReason:  domain.ExitReasonStopLoss,
		ClosedAtMs:  closedAt,
		RealizedPnL: -5,
	}
}

func TestClosedTradeStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewClosedTradeStore(pool)

	trade := createTestTrade("trade-001", "ETHUSDT", 7_200_000)
	require.NoError(t, store.Insert(ctx, trade))

	got, err := store.GetByID(ctx, "trade-001")
	require.NoError(t, err)
	assert.Equal(t, trade, got)

	err = store.Insert(ctx, trade)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClosedTradeStore_InsertBulkOrdering(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewClosedTradeStore(pool)

	trades := []*domain.ClosedTrade{
		createTestTrade("b", "ETHUSDT", 7_200_000),
		createTestTrade("a", "BNBUSDT", 7_200_000),
		createTestTrade("c", "ETHUSDT", 3_600_000),
	}
	require.NoError(t, store.InsertBulk(ctx, trades))

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{all[0].TradeID, all[1].TradeID, all[2].TradeID})

	eth, err := store.GetByAsset(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Len(t, eth, 2)

	// Duplicate inside the batch rolls back the whole batch.
	err = store.InsertBulk(ctx, []*domain.ClosedTrade{
		createTestTrade("d", "XRPUSDT", 9_000_000),
		createTestTrade("a", "BNBUSDT", 7_200_000),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	_, err = store.GetByID(ctx, "d")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSnapshotStore_Latest(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSnapshotStore(pool)

	_, err := store.Latest(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	open := createTestTrade("x", "ETHUSDT", 7_200_000).Position
	open.Status = domain.PositionOpen

	require.NoError(t, store.Insert(ctx, &domain.PortfolioSnapshot{TakenAtMs: 1000, Balance: 10_000}))
	require.NoError(t, store.Insert(ctx, &domain.PortfolioSnapshot{
		TakenAtMs:        2000,
		Balance:          9_995,
		RealizedPnLTotal: -5,
		OpenPositions:    []domain.Position{open},
	}))

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), latest.TakenAtMs)
	assert.InDelta(t, 9_995, latest.Balance, 1e-9)
	require.Len(t, latest.OpenPositions, 1)
	assert.Equal(t, open, latest.OpenPositions[0])

	err = store.Insert(ctx, &domain.PortfolioSnapshot{TakenAtMs: 2000})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestOutcomeStore_RoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewOutcomeStore(pool)

	sig := domain.Signal{
		Asset: "ETHUSDT", Side: domain.SideLong, Strength: 0.38, GeneratedAtMs: 5000,
		Policy: "MEAN_REVERSION", Price: 1800,
		Sample: domain.CorrelationSample{
			TimestampMs: 5000, Pair: domain.AssetPair{Reference: "BTCUSDT", Tracked: "ETHUSDT"},
			WindowCorrelation: 0.55, BaselineCorrelation: 0.89, DeviationRatio: 0.38,
		},
	}
	opened := &domain.SignalOutcome{
		Signal: sig, Outcome: domain.OutcomeOpened, PositionID: "pos-1",
		Decision: &domain.SizingDecision{
			Asset: "ETHUSDT", Side: domain.SideLong, Strength: 0.38, NotionalSize: 500, Leverage: 10,
			ReferencePrice: 1800, StopLossPrice: 1764, TakeProfitPrice: 1908, DecidedAtMs: 5000,
		},
	}
	rejected := &domain.SignalOutcome{Signal: sig, Outcome: domain.OutcomeRiskBreach, Reason: domain.RuleMaxPositions}
	rejected.Signal.Asset = "BNBUSDT"
	rejected.Signal.Sample.Pair.Tracked = "BNBUSDT"

	require.NoError(t, store.InsertBulk(ctx, []*domain.SignalOutcome{opened, rejected}))

	got, err := store.GetByTimeRange(ctx, 0, 10_000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "BNBUSDT", got[0].Signal.Asset)
	assert.Nil(t, got[0].Decision)
	assert.Equal(t, opened, got[1])

	err = store.InsertBulk(ctx, []*domain.SignalOutcome{opened})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

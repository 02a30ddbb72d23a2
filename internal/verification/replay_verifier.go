package verification

import (
	"context"
	"errors"
	"fmt"

	"corrdiv/internal/backtest"
	"corrdiv/internal/config"
	"corrdiv/internal/domain"
	"corrdiv/internal/replay"
	"corrdiv/internal/storage"
)

// ErrTradeNotFound is returned when trade ID doesn't exist.
var ErrTradeNotFound = errors.New("trade not found")

// ReplayVerifier implements Verifier by replaying stored price history from its
// first bar and matching trades on position ID.
type ReplayVerifier struct {
	tradeStore storage.ClosedTradeStore
	runner     *replay.Runner
	driver     *backtest.Driver
	tolerance  float64
}

// ReplayVerifierOptions contains configuration for creating a ReplayVerifier.
type ReplayVerifierOptions struct {
	Config     *config.Config
	TradeStore storage.ClosedTradeStore
	PriceStore storage.PriceSeriesStore
	Tolerance  float64 // defaults to FloatTolerance
}

var _ Verifier = (*ReplayVerifier)(nil)

// NewReplayVerifier creates a new ReplayVerifier. Replays never liquidate at
// the end, since open live positions have no stored close to compare against.
func NewReplayVerifier(opts ReplayVerifierOptions) *ReplayVerifier {
	cfg := *opts.Config
	cfg.Backtest.LiquidateAtEnd = false

	tol := opts.Tolerance
	if tol <= 0 {
		tol = FloatTolerance
	}
	return &ReplayVerifier{
		tradeStore: opts.TradeStore,
		runner:     replay.NewRunner(opts.PriceStore),
		driver:     backtest.NewDriver(&cfg, backtest.Options{}),
		tolerance:  tol,
	}
}

// VerifyTrade verifies a single trade by replaying history up to its close.
func (v *ReplayVerifier) VerifyTrade(ctx context.Context, tradeID string) (*VerificationResult, error) {
	stored, err := v.tradeStore.GetByID(ctx, tradeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}

	replayed, err := v.replayUntil(ctx, stored.ClosedAtMs)
	if err != nil {
		return nil, err
	}
	res := v.verify(stored, indexByPosition(replayed))
	return &res, nil
}

// VerifyAll verifies every stored trade against one replay of the full history.
func (v *ReplayVerifier) VerifyAll(ctx context.Context) (*VerificationReport, error) {
	stored, err := v.tradeStore.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	report := &VerificationReport{}
	if len(stored) == 0 {
		return report, nil
	}

	var until int64
	for _, t := range stored {
		if t.ClosedAtMs > until {
			until = t.ClosedAtMs
		}
	}
	replayed, err := v.replayUntil(ctx, until)
	if err != nil {
		return nil, err
	}
	byPosition := indexByPosition(replayed)

	seen := make(map[string]struct{}, len(stored))
	for _, t := range stored {
		res := v.verify(t, byPosition)
		seen[t.PositionID] = struct{}{}

		report.TotalTrades++
		switch {
		case res.Missing:
			report.MissingTrades++
		case res.Match:
			report.MatchedTrades++
		default:
			report.DivergentTrades++
		}
		report.Results = append(report.Results, res)
	}
	for _, t := range replayed {
		if _, ok := seen[t.PositionID]; !ok && t.ClosedAtMs <= until {
			report.Extra = append(report.Extra, t)
		}
	}
	return report, nil
}

func (v *ReplayVerifier) verify(stored *domain.ClosedTrade, replayed map[string]domain.ClosedTrade) VerificationResult {
	res := VerificationResult{
		TradeID:    stored.TradeID,
		PositionID: stored.PositionID,
		Asset:      stored.Asset,
		StoredPnL:  stored.RealizedPnL,
	}
	r, ok := replayed[stored.PositionID]
	if !ok {
		res.Missing = true
		return res
	}
	res.ReplayedPnL = r.RealizedPnL
	res.Divergences = CompareTrades(stored, &r, v.tolerance)
	res.Match = len(res.Divergences) == 0
	return res
}

// replayUntil replays from the first stored bar through until and returns the ledger.
func (v *ReplayVerifier) replayUntil(ctx context.Context, until int64) ([]domain.ClosedTrade, error) {
	from, _, err := v.runner.Bounds(ctx, v.driver.Assets())
	if err != nil {
		return nil, fmt.Errorf("price history: %w", err)
	}
	res, err := v.driver.RunStored(ctx, v.runner, from, until)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	return res.Trades, nil
}

func indexByPosition(trades []domain.ClosedTrade) map[string]domain.ClosedTrade {
	out := make(map[string]domain.ClosedTrade, len(trades))
	for _, t := range trades {
		out[t.PositionID] = t
	}
	return out
}

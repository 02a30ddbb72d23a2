// Package verification checks that persisted trades are reproduced by a replay
// of the same price history through the backtest driver.
package verification

import (
	"context"
	"math"

	"corrdiv/internal/domain"
)

// FloatTolerance is the default relative tolerance for price, quantity and P&L comparisons.
const FloatTolerance = 1e-7

// FieldDivergence represents a mismatch between stored and replayed values.
type FieldDivergence struct {
	Field    string      // field name
	Expected interface{} // stored value
	Actual   interface{} // replayed value
}

// VerificationResult contains the result of verifying a single trade.
type VerificationResult struct {
	TradeID     string // stored trade ID
	PositionID  string
	Asset       string
	Match       bool              // true if all fields match
	Missing     bool              // replay produced no trade for the position
	Divergences []FieldDivergence // list of divergent fields
	StoredPnL   float64
	ReplayedPnL float64
}

// VerificationReport contains results for batch verification.
type VerificationReport struct {
	TotalTrades     int                  // stored trades verified
	MatchedTrades   int                  // trades that matched within tolerance
	DivergentTrades int                  // trades with divergent fields
	MissingTrades   int                  // stored trades the replay did not produce
	Extra           []domain.ClosedTrade // replayed trades absent from storage
	Results         []VerificationResult // individual results, in stored order
}

// OK reports whether storage and replay agree completely.
func (r *VerificationReport) OK() bool {
	return r.MatchedTrades == r.TotalTrades && len(r.Extra) == 0
}

// Verifier interface for trade replay verification.
type Verifier interface {
	// VerifyTrade verifies a single stored trade by ID.
	VerifyTrade(ctx context.Context, tradeID string) (*VerificationResult, error)

	// VerifyAll verifies every stored trade.
	VerifyAll(ctx context.Context) (*VerificationReport, error)
}

// CompareTrades compares a stored trade to its replayed counterpart.
// Identifiers and timestamps must match exactly; prices, quantity and P&L
// within relative tolerance tol.
func CompareTrades(stored, replayed *domain.ClosedTrade, tol float64) []FieldDivergence {
	var divergences []FieldDivergence
	exact := func(field string, a, b interface{}) {
		if a != b {
			divergences = append(divergences, FieldDivergence{Field: field, Expected: a, Actual: b})
		}
	}
	approx := func(field string, a, b float64) {
		if !floatEquals(a, b, tol) {
			divergences = append(divergences, FieldDivergence{Field: field, Expected: a, Actual: b})
		}
	}

	exact("PositionID", stored.PositionID, replayed.PositionID)
	exact("Asset", stored.Asset, replayed.Asset)
	exact("Side", stored.Side, replayed.Side)
	exact("OpenedAtMs", stored.OpenedAtMs, replayed.OpenedAtMs)
	exact("ClosedAtMs", stored.ClosedAtMs, replayed.ClosedAtMs)
	exact("ExitReason", stored.ExitReason, replayed.ExitReason)

	approx("Leverage", stored.Leverage, replayed.Leverage)
	approx("EntryPrice", stored.EntryPrice, replayed.EntryPrice)
	approx("ExitPrice", stored.ExitPrice, replayed.ExitPrice)
	approx("Quantity", stored.Quantity, replayed.Quantity)
	approx("RealizedPnL", stored.RealizedPnL, replayed.RealizedPnL)

	return divergences
}

// floatEquals compares with tolerance relative to the larger magnitude, and
// absolute below 1.
func floatEquals(a, b, tol float64) bool {
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= tol*scale
}

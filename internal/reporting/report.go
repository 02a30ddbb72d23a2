package reporting

import (
	"time"

	"corrdiv/internal/domain"
	"corrdiv/internal/metrics"
)

// Report is the rendered view of a backtest or of the live ledger.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	Title       string
	Reference   string
	Assets      []string

	DataSummary DataSummary
	Summary     metrics.Summary

	// Signal outcomes grouped by (outcome, reason), sorted.
	Outcomes []OutcomeRow

	// Exit reasons sorted by reason.
	ExitReasons []ExitReasonRow

	// Trades in close order.
	Trades []TradeRow
}

// DataSummary describes the replayed input.
type DataSummary struct {
	Ticks          int
	DateRangeStart int64 // Unix ms
	DateRangeEnd   int64 // Unix ms
	DataErrors     int
	Signals        int
}

// OutcomeRow counts signals that ended with the same outcome and reason.
type OutcomeRow struct {
	Outcome domain.Outcome
	Reason  string
	Count   int
}

// ExitReasonRow counts trades closed for a reason.
type ExitReasonRow struct {
	Reason string
	Count  int
}

// TradeRow is one closed trade.
type TradeRow struct {
	TradeID     string
	Asset       string
	Side        domain.Side
	Leverage    float64
	EntryPrice  float64
	ExitPrice   float64
	Quantity    float64
	OpenedAtMs  int64
	ClosedAtMs  int64
	ExitReason  string
	RealizedPnL float64
	ReturnPct   float64
}

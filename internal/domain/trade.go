package domain

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Exit reason codes, in evaluation priority order.
const (
	ExitReasonStopLoss   = "STOP_LOSS"
	ExitReasonTakeProfit = "TAKE_PROFIT"
	ExitReasonTimeExit   = "TIME_EXIT"
	ExitReasonForcedExit = "FORCED_EXIT"

	// Outside tick evaluation.
	ExitReasonExternalClose = "EXTERNAL_CLOSE"
	ExitReasonEndOfReplay   = "END_OF_REPLAY"
)

// Position is a full-size exposure owned by the lifecycle manager.
type Position struct {
	PositionID   string // deterministic hash
	Asset        string
	Side         Side
	EntryPrice   float64
	Quantity     float64 // base units
	Leverage     float64
	StopLoss     float64
	TakeProfit   float64
	OpenedAtMs   int64
	Status       PositionStatus
	EntryOrderID string  // execution collaborator order id
	Strength     float64 // signal strength at entry
}

// Notional is entry value of the position.
func (p Position) Notional() float64 {
	return p.EntryPrice * p.Quantity
}

// UnrealizedPnL marks the position at price.
func (p Position) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * p.Quantity * p.Side.Sign()
}

// ClosedTrade is an append-only ledger entry for a closed position.
type ClosedTrade struct {
	TradeID string // deterministic hash
	Position

	ExitPrice   float64
	ExitReason  string
	ClosedAtMs  int64
	RealizedPnL float64
}

// Win reports whether the trade realized a profit.
func (t ClosedTrade) Win() bool {
	return t.RealizedPnL > 0
}

// ReturnPct is realized P&L relative to the committed margin.
func (t ClosedTrade) ReturnPct() float64 {
	margin := t.Notional()
	if t.Leverage > 0 {
		margin /= t.Leverage
	}
	if margin == 0 {
		return 0
	}
	return t.RealizedPnL / margin
}

// PortfolioState is the simulated or tracked account.
// Mutated only by the lifecycle manager.
type PortfolioState struct {
	Balance          float64
	OpenPositions    map[string]Position // asset -> position
	RealizedPnLTotal float64
}

// Clone returns a deep copy safe to hand to readers.
func (s PortfolioState) Clone() PortfolioState {
	out := PortfolioState{
		Balance:          s.Balance,
		RealizedPnLTotal: s.RealizedPnLTotal,
		OpenPositions:    make(map[string]Position, len(s.OpenPositions)),
	}
	for k, v := range s.OpenPositions {
		out.OpenPositions[k] = v
	}
	return out
}

// HasPosition reports whether asset has an open position.
func (s PortfolioState) HasPosition(asset string) bool {
	_, ok := s.OpenPositions[asset]
	return ok
}

// Exposure is the total entry notional of all open positions.
func (s PortfolioState) Exposure() float64 {
	var total float64
	for _, p := range s.OpenPositions {
		total += p.Notional()
	}
	return total
}

// PortfolioSnapshot is the persisted view of PortfolioState after a transition.
type PortfolioSnapshot struct {
	TakenAtMs        int64
	Balance          float64
	RealizedPnLTotal float64
	OpenPositions    []Position // sorted by asset
}

// Fill is the execution collaborator's report of a filled order.
type Fill struct {
	OrderID    string
	EntryPrice float64
	Quantity   float64
	Fee        float64
}

// ExternalPosition is one entry of an authoritative account snapshot.
type ExternalPosition struct {
	Asset      string
	Side       Side
	Quantity   float64
	EntryPrice float64
}

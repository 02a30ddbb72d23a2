package domain

// Side is the direction of a signal or position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Sign returns +1 for LONG and -1 for SHORT.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// CorrelationSample is the correlation state of one asset pair at one tick.
// Recomputed every tick; never mutated after creation.
type CorrelationSample struct {
	TimestampMs         int64
	Pair                AssetPair
	WindowCorrelation   float64 // Pearson over the last W closes, [-1, 1]
	BaselineCorrelation float64 // mean of the H preceding window correlations, [-1, 1]
	DeviationRatio      float64 // |window - baseline| / |baseline|, >= 0
}

// Breakdown reports whether the current correlation sits below its baseline.
func (s CorrelationSample) Breakdown() bool {
	return s.WindowCorrelation < s.BaselineCorrelation
}

// Signal is a candidate trade emitted by the divergence detector.
// Consumed exactly once: either converted to a position or rejected.
type Signal struct {
	Asset         string
	Side          Side
	Strength      float64 // deviation ratio after filters
	GeneratedAtMs int64
	Policy        string  // direction policy that chose Side
	Price         float64 // tracked asset close at generation
	Sample        CorrelationSample
}

// SizingDecision is the concrete order derived from a signal.
type SizingDecision struct {
	Asset           string
	Side            Side
	Strength        float64
	NotionalSize    float64 // quote currency
	Leverage        float64
	ReferencePrice  float64 // price the stop/target levels were computed from
	StopLossPrice   float64
	TakeProfitPrice float64
	DecidedAtMs     int64
}

// Margin is the capital committed to the position.
func (d SizingDecision) Margin() float64 {
	if d.Leverage <= 0 {
		return 0
	}
	return d.NotionalSize / d.Leverage
}

// Outcome classifies what happened to a signal.
type Outcome string

const (
	OutcomeOpened            Outcome = "OPENED"
	OutcomeRiskBreach        Outcome = "RISK_BREACH"
	OutcomeExecutionRejected Outcome = "EXECUTION_REJECTED"
)

// SignalOutcome records the single fate of a signal.
type SignalOutcome struct {
	Signal     Signal
	Outcome    Outcome
	Reason     string          // rule or failure reason when not opened
	Decision   *SizingDecision // nil when rejected before sizing completed
	PositionID string          // set when opened
}

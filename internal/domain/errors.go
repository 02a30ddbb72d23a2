package domain

import "fmt"

// DataError marks an asset skipped for a tick because its inputs were unusable.
type DataError struct {
	Asset string
	Err   error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error for %s: %v", e.Asset, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

// RiskBreach is a portfolio rule blocking an otherwise valid decision.
// A normal control-flow outcome, not a failure.
type RiskBreach struct {
	Asset  string
	Rule   string
	Detail string
}

func (e *RiskBreach) Error() string {
	return fmt.Sprintf("risk breach for %s: %s (%s)", e.Asset, e.Rule, e.Detail)
}

// Risk rule identifiers.
const (
	RuleAssetOpen        = "ASSET_ALREADY_OPEN"
	RuleMaxPositions     = "MAX_POSITIONS"
	RuleSectorPositions  = "MAX_SECTOR_POSITIONS"
	RuleMaxExposure      = "MAX_EXPOSURE"
	RuleSectorExposure   = "MAX_SECTOR_EXPOSURE"
	RuleDrawdownBreaker  = "DAILY_DRAWDOWN_BREAKER"
	RuleMaxDailyTrades   = "MAX_DAILY_TRADES"
	RuleInvalidSizing    = "INVALID_SIZING"
	RuleNonPositiveFunds = "NON_POSITIVE_BALANCE"
)

// ExecutionRejection is a fill failure reported by the execution collaborator.
type ExecutionRejection struct {
	Asset  string
	Reason string
	Err    error
}

func (e *ExecutionRejection) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execution rejected for %s: %s: %v", e.Asset, e.Reason, e.Err)
	}
	return fmt.Sprintf("execution rejected for %s: %s", e.Asset, e.Reason)
}

func (e *ExecutionRejection) Unwrap() error { return e.Err }

// StateInconsistency flags tracked state that cannot be evaluated.
type StateInconsistency struct {
	PositionID string
	Asset      string
	Detail     string
}

func (e *StateInconsistency) Error() string {
	return fmt.Sprintf("state inconsistency for %s (%s): %s", e.Asset, e.PositionID, e.Detail)
}

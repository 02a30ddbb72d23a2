package lifecycle

import "corrdiv/internal/domain"

// ExitContext is what an exit rule sees for one open position on one tick.
type ExitContext struct {
	Position domain.Position
	Bar      domain.PricePoint
	NowMs    int64
	Forced   bool // flagged by the risk manager this tick
}

// ExitRule decides whether a position closes on this tick and at what price.
type ExitRule interface {
	Reason() string
	Check(ctx ExitContext) (exitPrice float64, hit bool)
}

// StopLossRule closes when the bar trades through the stop level. Exits at the stop.
type StopLossRule struct{}

func (StopLossRule) Reason() string { return domain.ExitReasonStopLoss }

func (StopLossRule) Check(ctx ExitContext) (float64, bool) {
	p := ctx.Position
	if p.Side == domain.SideShort {
		return p.StopLoss, high(ctx.Bar) >= p.StopLoss
	}
	return p.StopLoss, low(ctx.Bar) <= p.StopLoss
}

// TakeProfitRule closes when the bar trades through the target level. Exits at the target.
type TakeProfitRule struct{}

func (TakeProfitRule) Reason() string { return domain.ExitReasonTakeProfit }

func (TakeProfitRule) Check(ctx ExitContext) (float64, bool) {
	p := ctx.Position
	if p.Side == domain.SideShort {
		return p.TakeProfit, low(ctx.Bar) <= p.TakeProfit
	}
	return p.TakeProfit, high(ctx.Bar) >= p.TakeProfit
}

// TimeExitRule closes at the bar close once the position has been held MaxHoldMs.
type TimeExitRule struct {
	MaxHoldMs int64
}

func (TimeExitRule) Reason() string { return domain.ExitReasonTimeExit }

func (r TimeExitRule) Check(ctx ExitContext) (float64, bool) {
	if r.MaxHoldMs <= 0 {
		return 0, false
	}
	return ctx.Bar.Close, ctx.NowMs-ctx.Position.OpenedAtMs >= r.MaxHoldMs
}

// ForcedExitRule closes at the bar close when the risk manager flagged the position.
type ForcedExitRule struct{}

func (ForcedExitRule) Reason() string { return domain.ExitReasonForcedExit }

func (ForcedExitRule) Check(ctx ExitContext) (float64, bool) {
	return ctx.Bar.Close, ctx.Forced
}

// DefaultRules returns the exit rules in priority order:
// STOP_LOSS > TAKE_PROFIT > TIME_EXIT > FORCED_EXIT.
func DefaultRules(maxHoldMs int64) []ExitRule {
	return []ExitRule{
		StopLossRule{},
		TakeProfitRule{},
		TimeExitRule{MaxHoldMs: maxHoldMs},
		ForcedExitRule{},
	}
}

// firstHit evaluates rules in order; the first rule that fires decides the exit.
func firstHit(rules []ExitRule, ctx ExitContext) (reason string, price float64, ok bool) {
	for _, r := range rules {
		if price, hit := r.Check(ctx); hit {
			return r.Reason(), price, true
		}
	}
	return "", 0, false
}

// low and high fall back to the close for bars carrying only a close price.
func low(b domain.PricePoint) float64 {
	if b.Low > 0 {
		return b.Low
	}
	return b.Close
}

func high(b domain.PricePoint) float64 {
	if b.High > 0 {
		return b.High
	}
	return b.Close
}

// Package execution holds the order execution collaborators.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"corrdiv/internal/config"
	"corrdiv/internal/domain"
)

// Rejection reasons.
var (
	ErrBadPrice      = errors.New("non-positive price")
	ErrBelowLotStep  = errors.New("quantity rounds to zero at lot step")
	ErrAlreadyOpen   = errors.New("account already holds asset")
	ErrNotHeld       = errors.New("account does not hold asset")
	ErrInvalidTarget = errors.New("non-positive notional")
)

// orderNamespace seeds name-based order IDs in deterministic mode.
var orderNamespace = uuid.MustParse("6f1b0a52-3c44-4c38-9a55-0d8f3e0b7c21")

var bpsDivisor = decimal.NewFromInt(10_000)

// PaperExecutor fills orders against the given price with configured slippage and fees.
// It keeps its own account view, which is authoritative for reconciliation.
type PaperExecutor struct {
	cfg           config.Execution
	deterministic bool

	mu        sync.Mutex
	positions map[string]domain.ExternalPosition
}

// Option configures a PaperExecutor.
type Option func(*PaperExecutor)

// WithDeterministicIDs derives order IDs from the decision instead of random UUIDs,
// so repeated replays over the same data produce identical ledgers.
func WithDeterministicIDs() Option {
	return func(p *PaperExecutor) {
		p.deterministic = true
	}
}

// NewPaperExecutor creates a paper executor.
func NewPaperExecutor(cfg config.Execution, opts ...Option) *PaperExecutor {
	p := &PaperExecutor{
		cfg:       cfg,
		positions: make(map[string]domain.ExternalPosition),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute fills decision at price. Slippage and fee move the effective entry price
// against the trader; quantity rounds down to the asset's lot step.
func (p *PaperExecutor) Execute(ctx context.Context, d domain.SizingDecision, price float64) (domain.Fill, error) {
	if err := ctx.Err(); err != nil {
		return domain.Fill{}, reject(d.Asset, "context done", err)
	}
	if price <= 0 {
		return domain.Fill{}, reject(d.Asset, "bad price", ErrBadPrice)
	}
	if d.NotionalSize <= 0 {
		return domain.Fill{}, reject(d.Asset, "bad notional", ErrInvalidTarget)
	}

	sign := decimal.NewFromFloat(d.Side.Sign())
	px := decimal.NewFromFloat(price)
	slipped := px.Mul(decimal.NewFromInt(1).Add(sign.Mul(decimal.NewFromFloat(p.cfg.SlippageBps)).Div(bpsDivisor)))
	feeRate := decimal.NewFromFloat(p.cfg.FeeBps).Div(bpsDivisor)
	effective := slipped.Mul(decimal.NewFromInt(1).Add(sign.Mul(feeRate)))

	qty := decimal.NewFromFloat(d.NotionalSize).Div(effective)
	if step := p.cfg.LotStepFor(d.Asset); step > 0 {
		lot := decimal.NewFromFloat(step)
		qty = qty.Div(lot).Floor().Mul(lot)
	}
	if !qty.IsPositive() {
		return domain.Fill{}, reject(d.Asset, "lot rounding", ErrBelowLotStep)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, held := p.positions[d.Asset]; held {
		return domain.Fill{}, reject(d.Asset, "duplicate order", ErrAlreadyOpen)
	}

	fill := domain.Fill{
		OrderID:    p.orderID(d),
		EntryPrice: effective.InexactFloat64(),
		Quantity:   qty.InexactFloat64(),
		Fee:        qty.Mul(slipped).Mul(feeRate).InexactFloat64(),
	}
	p.positions[d.Asset] = domain.ExternalPosition{
		Asset:      d.Asset,
		Side:       d.Side,
		Quantity:   fill.Quantity,
		EntryPrice: fill.EntryPrice,
	}
	return fill, nil
}

// Close flattens the account's position in asset.
func (p *PaperExecutor) Close(_ context.Context, asset string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, held := p.positions[asset]; !held {
		return fmt.Errorf("%w: %s", ErrNotHeld, asset)
	}
	delete(p.positions, asset)
	return nil
}

// Positions returns the account's open positions sorted by asset.
func (p *PaperExecutor) Positions(_ context.Context) ([]domain.ExternalPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.ExternalPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (p *PaperExecutor) orderID(d domain.SizingDecision) string {
	if !p.deterministic {
		return uuid.NewString()
	}
	name := fmt.Sprintf("%s|%s|%d", d.Asset, d.Side, d.DecidedAtMs)
	return uuid.NewSHA1(orderNamespace, []byte(name)).String()
}

func reject(asset, reason string, err error) *domain.ExecutionRejection {
	return &domain.ExecutionRejection{Asset: asset, Reason: reason, Err: err}
}

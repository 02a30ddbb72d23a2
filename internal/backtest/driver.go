// Package backtest replays historical series through the live engine pipeline.
package backtest

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"corrdiv/internal/config"
	"corrdiv/internal/domain"
	"corrdiv/internal/engine"
	"corrdiv/internal/execution"
	"corrdiv/internal/metrics"
	"corrdiv/internal/notify"
	"corrdiv/internal/observability"
	"corrdiv/internal/replay"
)

// ErrNoData is returned when the series hold no bars.
var ErrNoData = errors.New("no price data to replay")

// Options holds optional collaborators handed to the engine.
type Options struct {
	Recorder engine.Recorder
	Notifier notify.Notifier
	Metrics  *observability.Metrics
	Logger   *zerolog.Logger
}

// Result holds everything a backtest produced.
type Result struct {
	StartMs    int64
	EndMs      int64
	Ticks      int
	DataErrors int

	Signals   []domain.Signal
	Outcomes  []domain.SignalOutcome
	Decisions []domain.SizingDecision // every decision that reached execution
	Trades    []domain.ClosedTrade

	FinalState domain.PortfolioState
	Summary    metrics.Summary
}

// Driver runs backtests. Each Run starts from a fresh engine and portfolio.
type Driver struct {
	cfg  *config.Config
	opts Options
}

// NewDriver creates a backtest driver.
func NewDriver(cfg *config.Config, opts Options) *Driver {
	return &Driver{cfg: cfg, opts: opts}
}

// Run replays series through a new engine with a paper executor that derives
// order IDs from the decisions, so identical inputs give identical ledgers.
func (d *Driver) Run(ctx context.Context, series map[string][]domain.PricePoint) (*Result, error) {
	eng, err := engine.New(d.cfg, engine.Options{
		Executor: execution.NewPaperExecutor(d.cfg.Execution, execution.WithDeterministicIDs()),
		Recorder: d.opts.Recorder,
		Notifier: d.opts.Notifier,
		Metrics:  d.opts.Metrics,
		Logger:   d.opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{}
	handler := replay.TickHandlerFunc(func(ctx context.Context, tick domain.Tick) error {
		rep, err := eng.OnTick(ctx, tick)
		if err != nil {
			return err
		}
		if res.Ticks == 0 {
			res.StartMs = tick.TimestampMs
		}
		res.Ticks++
		res.EndMs = tick.TimestampMs
		res.DataErrors += len(rep.DataErrors)
		res.Signals = append(res.Signals, rep.Signals...)
		res.Outcomes = append(res.Outcomes, rep.Outcomes...)
		for _, o := range rep.Outcomes {
			if o.Outcome != domain.OutcomeRiskBreach && o.Decision != nil {
				res.Decisions = append(res.Decisions, *o.Decision)
			}
		}
		return nil
	})

	if err := replay.Replay(ctx, series, handler); err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	if res.Ticks == 0 {
		return nil, ErrNoData
	}

	if d.cfg.Backtest.LiquidateAtEnd {
		eng.Liquidate(ctx, res.EndMs)
	}

	res.Trades = eng.Ledger()
	res.FinalState = eng.State()
	res.Summary = metrics.Compute(res.Trades, d.cfg.Backtest.InitialBalance)
	return res, nil
}

// RunStored replays the reference and every tracked asset from storage within [from, to].
func (d *Driver) RunStored(ctx context.Context, runner *replay.Runner, from, to int64) (*Result, error) {
	series, err := runner.Load(ctx, d.Assets(), from, to)
	if err != nil {
		return nil, err
	}
	return d.Run(ctx, series)
}

// Assets returns the reference followed by the tracked assets.
func (d *Driver) Assets() []string {
	return append([]string{d.cfg.Reference}, d.cfg.Assets...)
}

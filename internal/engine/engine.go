// Package engine runs one evaluation step per tick: exits, detection, sizing,
// risk admission and execution, in a fixed order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"corrdiv/internal/config"
	"corrdiv/internal/correlation"
	"corrdiv/internal/divergence"
	"corrdiv/internal/domain"
	"corrdiv/internal/execution"
	"corrdiv/internal/lifecycle"
	"corrdiv/internal/notify"
	"corrdiv/internal/observability"
	"corrdiv/internal/risk"
	"corrdiv/internal/series"
	"corrdiv/internal/sizing"
)

// Executor fills sized decisions and owns the authoritative account view.
type Executor interface {
	Execute(ctx context.Context, d domain.SizingDecision, price float64) (domain.Fill, error)
	Close(ctx context.Context, asset string) error
	Positions(ctx context.Context) ([]domain.ExternalPosition, error)
}

var _ Executor = (*execution.PaperExecutor)(nil)

// Options holds the engine's collaborators. Every field is optional.
type Options struct {
	Executor Executor // defaults to a paper executor
	Recorder Recorder
	Notifier notify.Notifier
	Metrics  *observability.Metrics
	Logger   *zerolog.Logger
}

// TickReport is everything one OnTick produced.
type TickReport struct {
	TimestampMs     int64
	Samples         []domain.CorrelationSample
	Signals         []domain.Signal
	Outcomes        []domain.SignalOutcome
	Opened          []domain.Position
	Closed          []domain.ClosedTrade
	DataErrors      []*domain.DataError
	Inconsistencies []*domain.StateInconsistency
	Regime          correlation.Regime
	BreakerTripped  bool
	Snapshot        domain.PortfolioSnapshot
}

// Engine is the single owner of all trading state. OnTick calls are serialized.
type Engine struct {
	cfg    *config.Config
	pairs  []domain.AssetPair
	warmup int // trailing bars per asset before a fully adjusted evaluation

	series    *series.Store
	calc      *correlation.Calculator
	detector  *divergence.Detector
	perf      *sizing.Tracker
	sizer     *sizing.Sizer
	risk      *risk.Manager
	lifecycle *lifecycle.Manager

	executor Executor
	recorder Recorder
	notifier notify.Notifier
	metrics  *observability.Metrics
	logger   zerolog.Logger

	mu sync.Mutex
}

// New validates cfg and builds an engine with an empty portfolio at the
// configured initial balance.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	calc := correlation.NewCalculator(cfg.Correlation)
	detector := divergence.NewDetector(cfg.Divergence)
	need := max(calc.Required(), detector.Required(), calc.Window())

	warmup := need
	if v := cfg.Sizing.Volatility; v.Enabled {
		warmup = max(need, v.HistoryBars+1)
	}
	store := series.New(cfg.IntervalMs(), series.WithCapacity(2*warmup))

	perf := sizing.NewTracker(cfg.Sizing.Performance)
	vol := sizing.NewVolatilityGauge(cfg.Sizing.Volatility, store)
	riskMgr := risk.NewManager(cfg.Risk)

	e := &Engine{
		cfg:       cfg,
		pairs:     pairsFor(cfg),
		warmup:    warmup,
		series:    store,
		calc:      calc,
		detector:  detector,
		perf:      perf,
		sizer:     sizing.NewSizer(cfg.Sizing, riskMgr, perf, vol),
		risk:      riskMgr,
		lifecycle: lifecycle.NewManager(cfg.Backtest.InitialBalance, lifecycle.DefaultRules(cfg.Lifecycle.MaxHold.Milliseconds())),
		executor:  opts.Executor,
		recorder:  opts.Recorder,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		logger:    zerolog.Nop(),
	}
	if opts.Logger != nil {
		e.logger = *opts.Logger
	}
	if e.executor == nil {
		e.executor = execution.NewPaperExecutor(cfg.Execution)
	}
	return e, nil
}

func pairsFor(cfg *config.Config) []domain.AssetPair {
	assets := append([]string(nil), cfg.Assets...)
	sort.Strings(assets)
	pairs := make([]domain.AssetPair, len(assets))
	for i, a := range assets {
		pairs[i] = domain.AssetPair{Reference: cfg.Reference, Tracked: a}
	}
	return pairs
}

// State returns a copy of the current portfolio.
func (e *Engine) State() domain.PortfolioState {
	return e.lifecycle.State()
}

// Ledger returns every closed trade so far.
func (e *Engine) Ledger() []domain.ClosedTrade {
	return e.lifecycle.Ledger()
}

// OnTick runs one evaluation step. Per-asset data problems, risk breaches and
// execution rejections are reported in the TickReport, never returned.
// The error is non-nil only when ctx is done before the step starts.
func (e *Engine) OnTick(ctx context.Context, tick domain.Tick) (*TickReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	report := &TickReport{TimestampMs: tick.TimestampMs, Regime: correlation.RegimeUnknown}

	accepted := e.appendPoints(tick, report)

	e.risk.BeginTick(tick.TimestampMs, e.lifecycle.State(), e.lifecycle.Unrealized())

	forced := e.risk.CorrelationExits(e.lifecycle.State(), e.series, e.calc.Window())
	closed, warnings := e.lifecycle.Evaluate(accepted, forced)
	e.handleCloses(ctx, tick.TimestampMs, closed, report)
	e.handleInconsistencies(ctx, tick.TimestampMs, warnings, report)

	if e.risk.UpdateBreaker(e.lifecycle.State(), e.lifecycle.Unrealized()) {
		report.BreakerTripped = true
		e.metrics.RecordBreakerTrip()
		e.logger.Warn().Int64("ts", tick.TimestampMs).Msg("daily drawdown breaker tripped")
		e.notifyEvent(ctx, notify.Event{
			Type:        notify.EventBreakerTripped,
			TimestampMs: tick.TimestampMs,
			Message:     "daily drawdown limit reached",
		})
	}

	signals := e.detect(ctx, accepted, report)
	risk.Prioritize(signals)
	for _, sig := range signals {
		report.Outcomes = append(report.Outcomes, e.admit(ctx, sig, report))
	}

	report.Snapshot = e.lifecycle.Snapshot(tick.TimestampMs)
	e.persist(ctx, report)
	e.publishSnapshot(ctx, report.Snapshot)

	e.metrics.UpdatePortfolio(len(report.Snapshot.OpenPositions), report.Snapshot.Balance, report.Snapshot.RealizedPnLTotal)
	e.metrics.RecordTick(time.Since(start))

	return report, nil
}

// Warm appends tick's points to the price history without evaluating exits or
// signals, so a live run can start from backfilled bars. Returns the points
// rejected as data errors.
func (e *Engine) Warm(tick domain.Tick) []*domain.DataError {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := &TickReport{TimestampMs: tick.TimestampMs}
	e.appendPoints(tick, report)
	return report.DataErrors
}

// WarmupBars is the number of trailing bars per asset the first fully adjusted
// evaluation needs, volatility history included.
func (e *Engine) WarmupBars() int {
	return e.warmup
}

// appendPoints records the tick's points in asset order and returns the tick
// restricted to accepted points. A gap restarts the asset's series and re-arms
// its divergence episode.
func (e *Engine) appendPoints(tick domain.Tick, report *TickReport) domain.Tick {
	accepted := domain.Tick{TimestampMs: tick.TimestampMs, Points: make(map[string]domain.PricePoint, len(tick.Points))}

	assets := make([]string, 0, len(tick.Points))
	for a := range tick.Points {
		assets = append(assets, a)
	}
	sort.Strings(assets)

	for _, asset := range assets {
		p := tick.Points[asset]
		err := e.series.Append(asset, p)
		if errors.Is(err, series.ErrIntervalGap) {
			e.series.Reset(asset)
			e.rearm(asset)
			e.dataError(report, asset, err)
			err = e.series.Append(asset, p)
		}
		if err != nil {
			e.dataError(report, asset, err)
			continue
		}
		accepted.Points[asset] = p
	}
	return accepted
}

// rearm clears the detector's episode for asset. A reference restart affects
// every tracked pair.
func (e *Engine) rearm(asset string) {
	if asset != e.cfg.Reference {
		e.detector.Reset(asset)
		return
	}
	for _, a := range e.cfg.Assets {
		e.detector.Reset(a)
	}
}

// handleCloses releases the executor's holdings and feeds the track record.
func (e *Engine) handleCloses(ctx context.Context, nowMs int64, closed []domain.ClosedTrade, report *TickReport) {
	if len(closed) == 0 {
		return
	}
	for _, t := range closed {
		if err := e.executor.Close(ctx, t.Asset); err != nil {
			e.logger.Error().Err(err).Str("asset", t.Asset).Msg("executor close failed")
		}
		e.recordClose(ctx, nowMs, t)
	}
	report.Closed = append(report.Closed, closed...)
}

// recordClose feeds a closed trade to the track record, metrics and notifier.
func (e *Engine) recordClose(ctx context.Context, nowMs int64, t domain.ClosedTrade) {
	e.perf.Record(t)
	e.metrics.RecordClose(t.ExitReason)
	e.logger.Info().
		Str("asset", t.Asset).
		Str("reason", t.ExitReason).
		Float64("exit_price", t.ExitPrice).
		Float64("pnl", t.RealizedPnL).
		Msg("position closed")
	e.notifyEvent(ctx, notify.Event{
		Type:        notify.EventPositionClosed,
		TimestampMs: nowMs,
		Asset:       t.Asset,
		Message:     t.ExitReason,
		Payload:     t,
	})
}

func (e *Engine) handleInconsistencies(ctx context.Context, nowMs int64, warnings []*domain.StateInconsistency, report *TickReport) {
	for _, w := range warnings {
		e.metrics.RecordInconsistency()
		e.logger.Warn().Str("asset", w.Asset).Str("kind", "state_inconsistency").Str("reason", w.Detail).Str("position_id", w.PositionID).Msg("state inconsistency")
		e.notifyEvent(ctx, notify.Event{
			Type:        notify.EventStateInconsistency,
			TimestampMs: nowMs,
			Asset:       w.Asset,
			Message:     w.Detail,
		})
	}
	report.Inconsistencies = append(report.Inconsistencies, warnings...)
}

// detect samples every tracked asset present in the tick and returns the
// signals raised. The reference must be present for any asset to be evaluated.
func (e *Engine) detect(ctx context.Context, tick domain.Tick, report *TickReport) []domain.Signal {
	if _, ok := tick.Points[e.cfg.Reference]; !ok {
		return nil
	}

	var signals []domain.Signal
	var correlations []float64
	for _, pair := range e.pairs {
		if _, ok := tick.Points[pair.Tracked]; !ok {
			continue
		}

		sample, err := e.calc.FromStore(e.series, pair)
		if err != nil {
			e.dataError(report, pair.Tracked, err)
			continue
		}
		report.Samples = append(report.Samples, sample)
		correlations = append(correlations, sample.WindowCorrelation)
		e.metrics.UpdateDeviation(pair.Tracked, sample.DeviationRatio)

		n := e.detector.Required()
		ref, err := e.series.Window(pair.Reference, n)
		if err != nil {
			e.dataError(report, pair.Tracked, err)
			continue
		}
		tracked, err := e.series.Window(pair.Tracked, n)
		if err != nil {
			e.dataError(report, pair.Tracked, err)
			continue
		}

		sig, trace, err := e.detector.Evaluate(sample, ref, tracked)
		if err != nil {
			e.dataError(report, pair.Tracked, err)
			continue
		}
		e.logger.Debug().
			Str("asset", pair.Tracked).
			Float64("window", sample.WindowCorrelation).
			Float64("baseline", sample.BaselineCorrelation).
			Float64("deviation", trace.DeviationRatio).
			Bool("above", trace.AboveThreshold).
			Bool("suppressed", trace.Suppressed).
			Bool("momentum", trace.MomentumPass).
			Bool("volume", trace.VolumePass).
			Msg("divergence evaluated")
		if sig == nil {
			continue
		}

		signals = append(signals, *sig)
		report.Signals = append(report.Signals, *sig)
		e.metrics.RecordSignal(sig.Policy)
		e.logger.Info().
			Str("asset", sig.Asset).
			Str("side", string(sig.Side)).
			Str("policy", sig.Policy).
			Float64("strength", sig.Strength).
			Msg("divergence signal")
		e.notifyEvent(ctx, notify.Event{
			Type:        notify.EventSignal,
			TimestampMs: sig.GeneratedAtMs,
			Asset:       sig.Asset,
			Message:     string(sig.Side),
			Payload:     sig,
		})
	}

	report.Regime = correlation.ClassifyRegime(correlations)
	e.metrics.UpdateRegime(string(report.Regime), regimeLabels)
	return signals
}

var regimeLabels = []string{
	string(correlation.RegimeUnknown),
	string(correlation.RegimeHigh),
	string(correlation.RegimeMixed),
	string(correlation.RegimeLow),
}

// admit takes one signal through sizing, risk and execution.
// Every signal ends in exactly one outcome.
func (e *Engine) admit(ctx context.Context, sig domain.Signal, report *TickReport) domain.SignalOutcome {
	out := domain.SignalOutcome{Signal: sig}

	decision, err := e.sizer.Size(sig, e.lifecycle.State())
	if err != nil {
		out.Outcome = domain.OutcomeRiskBreach
		out.Reason = domain.RuleInvalidSizing
		var breach *domain.RiskBreach
		if errors.As(err, &breach) {
			out.Reason = breach.Rule
		}
		if decision.Asset != "" {
			out.Decision = &decision
		}
		e.recordOutcome(ctx, out, err)
		return out
	}
	out.Decision = &decision

	fill, err := e.executor.Execute(ctx, decision, sig.Price)
	if err != nil {
		out.Outcome = domain.OutcomeExecutionRejected
		out.Reason = err.Error()
		var rej *domain.ExecutionRejection
		if errors.As(err, &rej) {
			out.Reason = rej.Reason
		}
		e.recordOutcome(ctx, out, err)
		return out
	}

	pos, err := e.lifecycle.Open(decision, fill, sig.GeneratedAtMs)
	if err != nil {
		// The fill happened but cannot be tracked; unwind it.
		if cerr := e.executor.Close(ctx, decision.Asset); cerr != nil {
			e.logger.Error().Err(cerr).Str("asset", decision.Asset).Msg("unwind failed")
		}
		out.Outcome = domain.OutcomeExecutionRejected
		out.Reason = err.Error()
		e.recordOutcome(ctx, out, err)
		return out
	}

	e.risk.RecordOpen()
	out.Outcome = domain.OutcomeOpened
	out.PositionID = pos.PositionID
	report.Opened = append(report.Opened, pos)
	e.recordOutcome(ctx, out, nil)
	return out
}

func (e *Engine) recordOutcome(ctx context.Context, out domain.SignalOutcome, cause error) {
	e.metrics.RecordOutcome(string(out.Outcome), out.Reason)

	ev := notify.Event{
		TimestampMs: out.Signal.GeneratedAtMs,
		Asset:       out.Signal.Asset,
		Message:     out.Reason,
		Payload:     out,
	}
	switch out.Outcome {
	case domain.OutcomeOpened:
		ev.Type = notify.EventPositionOpened
		ev.Message = out.PositionID
		e.logger.Info().Str("asset", out.Signal.Asset).Str("position_id", out.PositionID).Msg("position opened")
	case domain.OutcomeRiskBreach:
		ev.Type = notify.EventRiskBreach
		e.logger.Info().Str("asset", out.Signal.Asset).Str("kind", "risk_breach").Str("reason", out.Reason).Err(cause).Msg("signal blocked")
	default:
		ev.Type = notify.EventExecutionRejected
		e.logger.Warn().Str("asset", out.Signal.Asset).Str("kind", "execution_rejected").Str("reason", out.Reason).Err(cause).Msg("execution rejected")
	}
	e.notifyEvent(ctx, ev)
}

func (e *Engine) dataError(report *TickReport, asset string, err error) {
	de := &domain.DataError{Asset: asset, Err: err}
	report.DataErrors = append(report.DataErrors, de)
	e.logger.Debug().Str("asset", asset).Str("kind", "data_error").Str("reason", err.Error()).Msg("asset skipped")
}

// persist hands the tick's records to the recorder. Failures are logged;
// in-memory state stays authoritative.
func (e *Engine) persist(ctx context.Context, report *TickReport) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordTrades(ctx, report.Closed); err != nil {
		e.logger.Error().Err(err).Int("count", len(report.Closed)).Msg("persist trades")
	}
	if err := e.recorder.RecordOutcomes(ctx, report.Outcomes); err != nil {
		e.logger.Error().Err(err).Int("count", len(report.Outcomes)).Msg("persist outcomes")
	}
	if err := e.recorder.RecordSamples(ctx, report.Samples); err != nil {
		e.logger.Error().Err(err).Int("count", len(report.Samples)).Msg("persist samples")
	}
	if len(report.Closed) > 0 || len(report.Opened) > 0 {
		if err := e.recorder.RecordSnapshot(ctx, report.Snapshot); err != nil {
			e.logger.Error().Err(err).Msg("persist snapshot")
		}
	}
}

func (e *Engine) publishSnapshot(ctx context.Context, snap domain.PortfolioSnapshot) {
	pub, ok := e.notifier.(notify.SnapshotPublisher)
	if !ok {
		return
	}
	if err := pub.PublishSnapshot(ctx, snap); err != nil {
		e.metrics.RecordNotifyError("snapshot")
		e.logger.Warn().Err(err).Msg("publish snapshot")
	}
}

func (e *Engine) notifyEvent(ctx context.Context, ev notify.Event) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.metrics.RecordNotifyError(string(ev.Type))
		e.logger.Warn().Str("asset", ev.Asset).Str("kind", "notify_failed").Str("reason", err.Error()).Str("event", string(ev.Type)).Msg("notify failed")
	}
}

// Reconcile aligns tracked positions with the executor's account view.
// Positions the account no longer holds are closed as EXTERNAL_CLOSE and
// reported like any other close, without a close order.
func (e *Engine) Reconcile(ctx context.Context, nowMs int64) (lifecycle.ReconcileReport, error) {
	positions, err := e.executor.Positions(ctx)
	if err != nil {
		return lifecycle.ReconcileReport{}, fmt.Errorf("fetch positions: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rep := e.lifecycle.Reconcile(positions, nowMs)
	for _, t := range rep.Closed {
		e.recordClose(ctx, nowMs, t)
	}
	for _, u := range rep.Untracked {
		e.logger.Warn().Str("asset", u.Asset).Float64("quantity", u.Quantity).Msg("untracked account position")
	}
	scratch := &TickReport{}
	e.handleInconsistencies(ctx, nowMs, rep.Mismatch, scratch)

	if e.recorder != nil && len(rep.Closed) > 0 {
		if err := e.recorder.RecordTrades(ctx, rep.Closed); err != nil {
			e.logger.Error().Err(err).Msg("persist reconciled trades")
		}
		if err := e.recorder.RecordSnapshot(ctx, e.lifecycle.Snapshot(nowMs)); err != nil {
			e.logger.Error().Err(err).Msg("persist snapshot")
		}
	}
	return rep, nil
}

// Liquidate closes every open position at its last known close.
func (e *Engine) Liquidate(ctx context.Context, nowMs int64) []domain.ClosedTrade {
	e.mu.Lock()
	defer e.mu.Unlock()

	closed := e.lifecycle.Liquidate(nowMs)
	report := &TickReport{}
	e.handleCloses(ctx, nowMs, closed, report)
	if e.recorder != nil && len(closed) > 0 {
		if err := e.recorder.RecordTrades(ctx, closed); err != nil {
			e.logger.Error().Err(err).Msg("persist liquidated trades")
		}
		if err := e.recorder.RecordSnapshot(ctx, e.lifecycle.Snapshot(nowMs)); err != nil {
			e.logger.Error().Err(err).Msg("persist snapshot")
		}
	}
	return closed
}

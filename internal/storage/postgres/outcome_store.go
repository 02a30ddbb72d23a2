package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"corrdiv/internal/domain"
	"corrdiv/internal/storage"
)

// OutcomeStore implements storage.OutcomeStore using PostgreSQL.
type OutcomeStore struct {
	pool *Pool
}

// NewOutcomeStore creates a new OutcomeStore.
func NewOutcomeStore(pool *Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OutcomeStore = (*OutcomeStore)(nil)

// InsertBulk adds outcomes atomically. Fails entire batch on any duplicate (asset, generated_at).
func (s *OutcomeStore) InsertBulk(ctx context.Context, outcomes []*domain.SignalOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	const query = `
		INSERT INTO signal_outcomes (
			asset, generated_at, side, strength, policy, price,
			window_corr, baseline_corr, deviation_ratio, reference_asset,
			outcome, reason, position_id,
			notional_size, leverage, stop_loss_price, take_profit_price
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, $16, $17
		)
	`

	err := s.pool.inTx(ctx, func(tx pgx.Tx) error {
		for _, o := range outcomes {
			if o == nil || o.Signal.Asset == "" || o.Outcome == "" {
				return storage.ErrInvalidInput
			}
			sig := o.Signal
			var notional, leverage, stop, target *float64
			if d := o.Decision; d != nil {
				notional, leverage, stop, target = &d.NotionalSize, &d.Leverage, &d.StopLossPrice, &d.TakeProfitPrice
			}

			_, err := tx.Exec(ctx, query,
				sig.Asset, sig.GeneratedAtMs, string(sig.Side), sig.Strength, sig.Policy, sig.Price,
				sig.Sample.WindowCorrelation, sig.Sample.BaselineCorrelation, sig.Sample.DeviationRatio, sig.Sample.Pair.Reference,
				string(o.Outcome), o.Reason, o.PositionID,
				notional, leverage, stop, target,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return mapError("insert signal outcomes", err)
}

// GetByTimeRange retrieves outcomes generated within [start, end], ordered by (generated_at, asset).
func (s *OutcomeStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.SignalOutcome, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			asset, generated_at, side, strength, policy, price,
			window_corr, baseline_corr, deviation_ratio, reference_asset,
			outcome, reason, position_id,
			notional_size, leverage, stop_loss_price, take_profit_price
		FROM signal_outcomes
		WHERE generated_at >= $1 AND generated_at <= $2
		ORDER BY generated_at ASC, asset ASC
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("get signal outcomes by time range: %w", err)
	}
	defer rows.Close()

	return scanOutcomes(rows)
}

func scanOutcomes(rows pgx.Rows) ([]*domain.SignalOutcome, error) {
	var outcomes []*domain.SignalOutcome

	for rows.Next() {
		var o domain.SignalOutcome
		var side, outcome string
		var notional, leverage, stop, target *float64

		err := rows.Scan(
			&o.Signal.Asset, &o.Signal.GeneratedAtMs, &side, &o.Signal.Strength, &o.Signal.Policy, &o.Signal.Price,
			&o.Signal.Sample.WindowCorrelation, &o.Signal.Sample.BaselineCorrelation, &o.Signal.Sample.DeviationRatio,
			&o.Signal.Sample.Pair.Reference,
			&outcome, &o.Reason, &o.PositionID,
			&notional, &leverage, &stop, &target,
		)
		if err != nil {
			return nil, fmt.Errorf("scan signal outcome row: %w", err)
		}

		o.Signal.Side = domain.Side(side)
		o.Signal.Sample.Pair.Tracked = o.Signal.Asset
		o.Signal.Sample.TimestampMs = o.Signal.GeneratedAtMs
		o.Outcome = domain.Outcome(outcome)
		if notional != nil {
			o.Decision = &domain.SizingDecision{
				Asset:           o.Signal.Asset,
				Side:            o.Signal.Side,
				Strength:        o.Signal.Strength,
				NotionalSize:    *notional,
				Leverage:        deref(leverage),
				ReferencePrice:  o.Signal.Price,
				StopLossPrice:   deref(stop),
				TakeProfitPrice: deref(target),
				DecidedAtMs:     o.Signal.GeneratedAtMs,
			}
		}
		outcomes = append(outcomes, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signal outcome rows: %w", err)
	}
	return outcomes, nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

package replay

import (
	"context"
	"errors"
	"fmt"

	"corrdiv/internal/domain"
	"corrdiv/internal/storage"
)

// Runner loads bars from storage and replays them as ticks.
type Runner struct {
	priceStore storage.PriceSeriesStore
}

// NewRunner creates a new replay runner.
func NewRunner(priceStore storage.PriceSeriesStore) *Runner {
	return &Runner{priceStore: priceStore}
}

// Load reads bars for assets within [from, to].
// Assets without bars in range map to an empty series.
func (r *Runner) Load(ctx context.Context, assets []string, from, to int64) (map[string][]domain.PricePoint, error) {
	out := make(map[string][]domain.PricePoint, len(assets))
	for _, asset := range assets {
		points, err := r.priceStore.GetByAssetTimeRange(ctx, asset, from, to)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", asset, err)
		}
		out[asset] = points
	}
	return out, nil
}

// LoadAll reads every stored bar for assets.
func (r *Runner) LoadAll(ctx context.Context, assets []string) (map[string][]domain.PricePoint, error) {
	from, to, err := r.Bounds(ctx, assets)
	if err != nil {
		return nil, err
	}
	return r.Load(ctx, assets, from, to)
}

// Bounds returns the smallest range covering every stored bar of assets.
// Returns storage.ErrNotFound when none of them has bars.
func (r *Runner) Bounds(ctx context.Context, assets []string) (from, to int64, err error) {
	found := false
	for _, asset := range assets {
		minTs, maxTs, err := r.priceStore.GetTimeRange(ctx, asset)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, 0, fmt.Errorf("time range %s: %w", asset, err)
		}
		if !found || minTs < from {
			from = minTs
		}
		if !found || maxTs > to {
			to = maxTs
		}
		found = true
	}
	if !found {
		return 0, 0, storage.ErrNotFound
	}
	return from, to, nil
}

// Run replays bars for assets within [from, to] through handler.
func (r *Runner) Run(ctx context.Context, assets []string, from, to int64, handler TickHandler) error {
	series, err := r.Load(ctx, assets, from, to)
	if err != nil {
		return err
	}
	return Replay(ctx, series, handler)
}

// RunAll replays every stored bar for assets through handler.
func (r *Runner) RunAll(ctx context.Context, assets []string, handler TickHandler) error {
	series, err := r.LoadAll(ctx, assets)
	if err != nil {
		return err
	}
	return Replay(ctx, series, handler)
}

// Replay merges series into ticks and feeds them to handler, stopping at the
// first handler error or when ctx is done.
func Replay(ctx context.Context, series map[string][]domain.PricePoint, handler TickHandler) error {
	ticks, err := BuildTicks(series)
	if err != nil {
		return err
	}
	for _, tick := range ticks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handler.HandleTick(ctx, tick); err != nil {
			return err
		}
	}
	return nil
}

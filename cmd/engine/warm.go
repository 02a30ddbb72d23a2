package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"corrdiv/internal/domain"
	"corrdiv/internal/engine"
	"corrdiv/internal/feed"
	"corrdiv/internal/replay"
	"corrdiv/internal/storage"
)

// historySource is the REST backfill the warmup reads from.
type historySource interface {
	History(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]feed.Kline, error)
}

// warm backfills the bars the first evaluation needs, stores them next to the
// live bars so a later replay sees the same history, and primes the engine.
// bars may be nil.
func warm(ctx context.Context, eng *engine.Engine, src historySource, bars storage.PriceSeriesStore,
	assets []string, interval string, intervalMs, nowMs int64, logger zerolog.Logger) error {
	start := nowMs - int64(eng.WarmupBars()+1)*intervalMs

	series := make(map[string][]domain.PricePoint, len(assets))
	for _, asset := range assets {
		klines, err := src.History(ctx, asset, interval, start, nowMs)
		if err != nil {
			return fmt.Errorf("backfill %s: %w", asset, err)
		}
		points := make([]domain.PricePoint, len(klines))
		for i, k := range klines {
			points[i] = k.PricePoint()
		}
		series[asset] = points

		if bars == nil {
			continue
		}
		stored, err := storage.AppendNew(ctx, bars, asset, points)
		if err != nil {
			return fmt.Errorf("store backfill %s: %w", asset, err)
		}
		logger.Debug().Str("asset", asset).Int("fetched", len(points)).Int("stored", stored).Msg("backfill stored")
	}

	ticks, err := replay.BuildTicks(series)
	if err != nil {
		return err
	}
	rejected := 0
	for _, t := range ticks {
		rejected += len(eng.Warm(t))
	}
	logger.Info().Int("ticks", len(ticks)).Int("rejected", rejected).Msg("warmup complete")
	return nil
}

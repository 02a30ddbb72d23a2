package feed

import (
	"context"
	"sort"

	"corrdiv/internal/domain"
	"corrdiv/internal/replay"
)

// Assembler groups per-asset bars into ticks keyed by bar open time.
// A tick is emitted once every expected asset has reported for its open
// time, or when a bar with a newer open time arrives; assets still missing
// at that point are absent from the tick. Bars older than the last emitted
// tick are dropped.
//
// Not safe for concurrent use.
type Assembler struct {
	expected    map[string]struct{}
	pending     map[int64]map[string]domain.PricePoint
	lastEmitted int64
	dropped     int
}

// NewAssembler creates an assembler expecting every asset in assets.
func NewAssembler(assets []string) *Assembler {
	expected := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		expected[a] = struct{}{}
	}
	return &Assembler{
		expected: expected,
		pending:  make(map[int64]map[string]domain.PricePoint),
	}
}

// Add buffers the bar for asset and returns the ticks it completes,
// ascending by timestamp.
func (a *Assembler) Add(asset string, p domain.PricePoint) []domain.Tick {
	if _, ok := a.expected[asset]; !ok {
		return nil
	}
	if a.lastEmitted != 0 && p.TimestampMs <= a.lastEmitted {
		a.dropped++
		return nil
	}

	points, ok := a.pending[p.TimestampMs]
	if !ok {
		points = make(map[string]domain.PricePoint, len(a.expected))
		a.pending[p.TimestampMs] = points
	}
	points[asset] = p

	if len(points) == len(a.expected) {
		return a.flushThrough(p.TimestampMs)
	}
	return a.flushBefore(p.TimestampMs)
}

// Flush emits every buffered tick regardless of completeness.
func (a *Assembler) Flush() []domain.Tick {
	return a.flush(func(int64) bool { return true })
}

// Dropped returns the number of late bars discarded so far.
func (a *Assembler) Dropped() int {
	return a.dropped
}

func (a *Assembler) flushThrough(ts int64) []domain.Tick {
	return a.flush(func(t int64) bool { return t <= ts })
}

func (a *Assembler) flushBefore(ts int64) []domain.Tick {
	return a.flush(func(t int64) bool { return t < ts })
}

func (a *Assembler) flush(match func(int64) bool) []domain.Tick {
	var times []int64
	for t := range a.pending {
		if match(t) {
			times = append(times, t)
		}
	}
	if len(times) == 0 {
		return nil
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	ticks := make([]domain.Tick, 0, len(times))
	for _, t := range times {
		ticks = append(ticks, domain.Tick{TimestampMs: t, Points: a.pending[t]})
		delete(a.pending, t)
	}
	a.lastEmitted = times[len(times)-1]
	return ticks
}

// Pump assembles klines from ch into ticks and hands them to h until ch is
// closed or ctx is done. Open klines are ignored. Buffered ticks are flushed
// when ch closes.
func Pump(ctx context.Context, ch <-chan Kline, asm *Assembler, h replay.TickHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case k, ok := <-ch:
			if !ok {
				return deliver(ctx, h, asm.Flush())
			}
			if !k.Closed {
				continue
			}
			if err := deliver(ctx, h, asm.Add(k.Symbol, k.PricePoint())); err != nil {
				return err
			}
		}
	}
}

func deliver(ctx context.Context, h replay.TickHandler, ticks []domain.Tick) error {
	for _, t := range ticks {
		if err := h.HandleTick(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

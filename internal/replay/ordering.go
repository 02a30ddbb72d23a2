package replay

import (
	"fmt"
	"sort"

	"corrdiv/internal/domain"
)

// BuildTicks merges per-asset series into ticks ordered by timestamp ASC.
// Each tick holds every asset that has a bar at that timestamp.
// Each series must be strictly increasing.
func BuildTicks(series map[string][]domain.PricePoint) ([]domain.Tick, error) {
	byTs := make(map[int64]map[string]domain.PricePoint)
	for asset, points := range series {
		for i, p := range points {
			if i > 0 && p.TimestampMs <= points[i-1].TimestampMs {
				return nil, fmt.Errorf("%w: %s at %d after %d", ErrInvalidOrdering, asset, p.TimestampMs, points[i-1].TimestampMs)
			}
			bucket, ok := byTs[p.TimestampMs]
			if !ok {
				bucket = make(map[string]domain.PricePoint)
				byTs[p.TimestampMs] = bucket
			}
			bucket[asset] = p
		}
	}

	timestamps := make([]int64, 0, len(byTs))
	for ts := range byTs {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	ticks := make([]domain.Tick, len(timestamps))
	for i, ts := range timestamps {
		ticks[i] = domain.Tick{TimestampMs: ts, Points: byTs[ts]}
	}
	return ticks, nil
}

// SortPoints orders points by timestamp ASC in place.
func SortPoints(points []domain.PricePoint) {
	sort.Slice(points, func(i, j int) bool {
		return points[i].TimestampMs < points[j].TimestampMs
	})
}

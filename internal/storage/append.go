package storage

import (
	"context"
	"errors"

	"corrdiv/internal/domain"
)

// AppendNew inserts the points of asset that fall outside the time range
// already stored, so overlapping backfills do not fail the whole batch.
// Returns how many points were inserted.
func AppendNew(ctx context.Context, store PriceSeriesStore, asset string, points []domain.PricePoint) (int, error) {
	minTs, maxTs, err := store.GetTimeRange(ctx, asset)
	fresh := points
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return 0, err
	default:
		fresh = make([]domain.PricePoint, 0, len(points))
		for _, p := range points {
			if p.TimestampMs < minTs || p.TimestampMs > maxTs {
				fresh = append(fresh, p)
			}
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := store.InsertBulk(ctx, asset, fresh); err != nil {
		return 0, err
	}
	return len(fresh), nil
}

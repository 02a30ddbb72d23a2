// Package series holds synchronized fixed-interval OHLCV history per asset.
package series

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"corrdiv/internal/domain"
)

// Errors returned by Store.
var (
	ErrNonIncreasing       = errors.New("timestamp not strictly increasing")
	ErrIntervalGap         = errors.New("timestamp does not follow the fixed interval")
	ErrInvalidPoint        = errors.New("invalid price point")
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrUnknownAsset        = errors.New("unknown asset")
)

// Store is an append-only per-asset price history.
// Timestamps are strictly increasing with a fixed interval between consecutive points.
type Store struct {
	mu         sync.RWMutex
	intervalMs int64
	capacity   int // points retained per asset; 0 keeps everything
	data       map[string][]domain.PricePoint
}

// Option configures Store.
type Option func(*Store)

// WithCapacity bounds the retained history per asset to the last n points.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// New creates a store for bars spaced intervalMs apart.
func New(intervalMs int64, opts ...Option) *Store {
	s := &Store{
		intervalMs: intervalMs,
		data:       make(map[string][]domain.PricePoint),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IntervalMs returns the fixed bar interval.
func (s *Store) IntervalMs() int64 {
	return s.intervalMs
}

// Append records a new point for asset.
func (s *Store) Append(asset string, p domain.PricePoint) error {
	if asset == "" {
		return fmt.Errorf("%w: empty asset", ErrInvalidPoint)
	}
	if err := validatePoint(p); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pts := s.data[asset]
	if n := len(pts); n > 0 {
		last := pts[n-1].TimestampMs
		if p.TimestampMs <= last {
			return fmt.Errorf("%w: %s at %d after %d", ErrNonIncreasing, asset, p.TimestampMs, last)
		}
		if p.TimestampMs-last != s.intervalMs {
			return fmt.Errorf("%w: %s at %d after %d (interval %d)", ErrIntervalGap, asset, p.TimestampMs, last, s.intervalMs)
		}
	}

	pts = append(pts, p)
	if s.capacity > 0 && len(pts) > 2*s.capacity {
		trimmed := make([]domain.PricePoint, s.capacity, 2*s.capacity)
		copy(trimmed, pts[len(pts)-s.capacity:])
		pts = trimmed
	}
	s.data[asset] = pts
	return nil
}

// Reset drops the history of asset. The next Append starts a fresh series.
func (s *Store) Reset(asset string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, asset)
}

func validatePoint(p domain.PricePoint) error {
	for _, v := range []float64{p.Open, p.High, p.Low, p.Close, p.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value at %d", ErrInvalidPoint, p.TimestampMs)
		}
	}
	if p.Close <= 0 {
		return fmt.Errorf("%w: non-positive close at %d", ErrInvalidPoint, p.TimestampMs)
	}
	if p.Volume < 0 {
		return fmt.Errorf("%w: negative volume at %d", ErrInvalidPoint, p.TimestampMs)
	}
	return nil
}

// Len returns the number of retained points for asset.
func (s *Store) Len(asset string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[asset])
}

// Latest returns the most recent point for asset.
func (s *Store) Latest(asset string) (domain.PricePoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pts := s.data[asset]
	if len(pts) == 0 {
		return domain.PricePoint{}, false
	}
	return pts[len(pts)-1], true
}

// Window returns a copy of the last n points for asset, oldest first.
func (s *Store) Window(asset string, n int) ([]domain.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pts, ok := s.data[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	if n <= 0 || len(pts) < n {
		return nil, fmt.Errorf("%w: %s has %d points, need %d", ErrInsufficientHistory, asset, len(pts), n)
	}
	out := make([]domain.PricePoint, n)
	copy(out, pts[len(pts)-n:])
	return out, nil
}

// Closes returns the last n close prices for asset.
func (s *Store) Closes(asset string, n int) ([]float64, error) {
	pts, err := s.Window(asset, n)
	if err != nil {
		return nil, err
	}
	return ClosePrices(pts), nil
}

// Assets returns every asset with history, sorted.
func (s *Store) Assets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.data))
	for a := range s.data {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// ClosePrices extracts close prices from points.
func ClosePrices(pts []domain.PricePoint) []float64 {
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.Close
	}
	return out
}

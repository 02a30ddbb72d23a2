package series

import (
	"errors"
	"math"
	"testing"

	"corrdiv/internal/domain"
)

const minute = int64(60000)

func bar(ts int64, close float64) domain.PricePoint {
	return domain.PricePoint{TimestampMs: ts, Open: close, High: close, Low: close, Close: close, Volume: 1}
}

func TestStore_Append(t *testing.T) {
	tests := []struct {
		name    string
		points  []domain.PricePoint
		wantErr error
	}{
		{
			name:   "fixed interval",
			points: []domain.PricePoint{bar(0, 1), bar(minute, 2), bar(2*minute, 3)},
		},
		{
			name:    "duplicate timestamp",
			points:  []domain.PricePoint{bar(0, 1), bar(0, 2)},
			wantErr: ErrNonIncreasing,
		},
		{
			name:    "out of order",
			points:  []domain.PricePoint{bar(minute, 1), bar(0, 2)},
			wantErr: ErrNonIncreasing,
		},
		{
			name:    "gap",
			points:  []domain.PricePoint{bar(0, 1), bar(3*minute, 2)},
			wantErr: ErrIntervalGap,
		},
		{
			name:    "zero close",
			points:  []domain.PricePoint{bar(0, 0)},
			wantErr: ErrInvalidPoint,
		},
		{
			name:    "nan close",
			points:  []domain.PricePoint{bar(0, math.NaN())},
			wantErr: ErrInvalidPoint,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(minute)
			var err error
			for _, p := range tt.points {
				if err = s.Append("ETHUSDT", p); err != nil {
					break
				}
			}
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestStore_RejectedPointLeavesHistoryIntact(t *testing.T) {
	s := New(minute)
	_ = s.Append("ETHUSDT", bar(0, 1))
	_ = s.Append("ETHUSDT", bar(minute, 2))

	if err := s.Append("ETHUSDT", bar(5*minute, 3)); err == nil {
		t.Fatal("expected gap error")
	}
	if s.Len("ETHUSDT") != 2 {
		t.Errorf("expected 2 points, got %d", s.Len("ETHUSDT"))
	}
	latest, _ := s.Latest("ETHUSDT")
	if latest.Close != 2 {
		t.Errorf("expected latest close 2, got %v", latest.Close)
	}
}

func TestStore_Window(t *testing.T) {
	s := New(minute)
	for i := 0; i < 5; i++ {
		_ = s.Append("ETHUSDT", bar(int64(i)*minute, float64(i+1)))
	}

	closes, err := s.Closes("ETHUSDT", 3)
	if err != nil {
		t.Fatalf("Closes: %v", err)
	}
	want := []float64{3, 4, 5}
	for i := range want {
		if closes[i] != want[i] {
			t.Errorf("closes[%d] = %v, want %v", i, closes[i], want[i])
		}
	}

	if _, err := s.Window("ETHUSDT", 6); !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("expected ErrInsufficientHistory, got %v", err)
	}
	if _, err := s.Window("SOLUSDT", 1); !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestStore_WindowIsCopy(t *testing.T) {
	s := New(minute)
	_ = s.Append("ETHUSDT", bar(0, 10))

	w, _ := s.Window("ETHUSDT", 1)
	w[0].Close = 999

	latest, _ := s.Latest("ETHUSDT")
	if latest.Close != 10 {
		t.Errorf("store mutated through window copy: %v", latest.Close)
	}
}

func TestStore_Capacity(t *testing.T) {
	s := New(minute, WithCapacity(3))
	for i := 0; i < 20; i++ {
		if err := s.Append("ETHUSDT", bar(int64(i)*minute, float64(i+1))); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	if n := s.Len("ETHUSDT"); n < 3 || n > 6 {
		t.Errorf("retained %d points, want between 3 and 6", n)
	}
	closes, err := s.Closes("ETHUSDT", 3)
	if err != nil {
		t.Fatalf("Closes: %v", err)
	}
	if closes[2] != 20 || closes[0] != 18 {
		t.Errorf("unexpected tail after trim: %v", closes)
	}
}

func TestStore_Assets(t *testing.T) {
	s := New(minute)
	_ = s.Append("SOLUSDT", bar(0, 1))
	_ = s.Append("BTCUSDT", bar(0, 1))
	_ = s.Append("ETHUSDT", bar(0, 1))

	got := s.Assets()
	want := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Assets() = %v, want %v", got, want)
		}
	}
}

func TestStore_Reset(t *testing.T) {
	s := New(60_000)
	if err := s.Append("ETHUSDT", domain.PricePoint{TimestampMs: 60_000, Close: 1, High: 1, Low: 1, Open: 1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	err := s.Append("ETHUSDT", domain.PricePoint{TimestampMs: 240_000, Close: 1, High: 1, Low: 1, Open: 1})
	if !errors.Is(err, ErrIntervalGap) {
		t.Fatalf("expected ErrIntervalGap, got %v", err)
	}

	s.Reset("ETHUSDT")
	if s.Len("ETHUSDT") != 0 {
		t.Fatalf("expected empty history after reset, got %d", s.Len("ETHUSDT"))
	}
	if err := s.Append("ETHUSDT", domain.PricePoint{TimestampMs: 240_000, Close: 1, High: 1, Low: 1, Open: 1}); err != nil {
		t.Fatalf("append after reset: %v", err)
	}
}

package correlation

import (
	"errors"
	"math"
	"testing"

	"corrdiv/internal/config"
	"corrdiv/internal/domain"
	"corrdiv/internal/series"
)

const minute = int64(60000)

func points(closes []float64) []domain.PricePoint {
	out := make([]domain.PricePoint, len(closes))
	for i, c := range closes {
		out[i] = domain.PricePoint{TimestampMs: int64(i) * minute, Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return out
}

func TestPearson(t *testing.T) {
	tests := []struct {
		name    string
		x, y    []float64
		want    float64
		wantErr error
	}{
		{name: "perfect positive", x: []float64{1, 2, 3, 4}, y: []float64{2, 4, 6, 8}, want: 1},
		{name: "perfect negative", x: []float64{1, 2, 3, 4}, y: []float64{8, 6, 4, 2}, want: -1},
		{name: "uncorrelated", x: []float64{1, 2, 3, 4}, y: []float64{1, -1, -1, 1}, want: 0},
		{name: "single point", x: []float64{1}, y: []float64{1}, wantErr: ErrInsufficientData},
		{name: "length mismatch", x: []float64{1, 2, 3}, y: []float64{1, 2}, wantErr: ErrInsufficientData},
		{name: "constant x", x: []float64{5, 5, 5, 5}, y: []float64{1, 2, 3, 4}, wantErr: ErrZeroVariance},
		{name: "constant y", x: []float64{1, 2, 3, 4}, y: []float64{7, 7, 7, 7}, wantErr: ErrZeroVariance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Pearson(tt.x, tt.y)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v (value %v)", tt.wantErr, err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Pearson() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPearson_ConstantIsInsufficientData(t *testing.T) {
	for _, c := range []float64{0.0001, 1, 100, 65000} {
		x := []float64{c, c, c, c, c, c}
		y := []float64{1, 3, 2, 5, 4, 6}
		_, err := Pearson(x, y)
		if !errors.Is(err, ErrInsufficientData) {
			t.Errorf("constant %v: expected insufficient data, got %v", c, err)
		}
	}
}

func TestDeviationRatio(t *testing.T) {
	if _, ok := DeviationRatio(0.5, 0); ok {
		t.Error("zero baseline should be undefined")
	}
	if got, _ := DeviationRatio(0.6, 0.8); math.Abs(got-0.25) > 1e-12 {
		t.Errorf("DeviationRatio(0.6, 0.8) = %v, want 0.25", got)
	}
	if got, _ := DeviationRatio(-0.2, -0.4); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("DeviationRatio(-0.2, -0.4) = %v, want 0.5", got)
	}
}

func TestCalculator_Sample(t *testing.T) {
	calc := NewCalculator(config.Correlation{Window: 4, BaselineHorizon: 2})
	pair := domain.AssetPair{Reference: "BTCUSDT", Tracked: "ETHUSDT"}

	ref := points([]float64{1, 2, 3, 4, 5, 6})
	// Lockstep for the baseline windows, last point breaks the pattern.
	tracked := points([]float64{2, 4, 6, 8, 10, 1})

	s, err := calc.Sample(pair, ref, tracked)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}

	if s.BaselineCorrelation != 1 {
		t.Errorf("baseline = %v, want 1", s.BaselineCorrelation)
	}
	wantCur, _ := Pearson([]float64{3, 4, 5, 6}, []float64{6, 8, 10, 1})
	if s.WindowCorrelation != wantCur {
		t.Errorf("window = %v, want %v", s.WindowCorrelation, wantCur)
	}
	wantDev, _ := DeviationRatio(wantCur, 1)
	if s.DeviationRatio != wantDev {
		t.Errorf("deviation = %v, want %v", s.DeviationRatio, wantDev)
	}
	if s.TimestampMs != 5*minute {
		t.Errorf("timestamp = %d, want %d", s.TimestampMs, 5*minute)
	}
	if !s.Breakdown() {
		t.Error("expected breakdown")
	}
}

func TestCalculator_Sample_DataErrors(t *testing.T) {
	calc := NewCalculator(config.Correlation{Window: 3, BaselineHorizon: 2})
	pair := domain.AssetPair{Reference: "BTCUSDT", Tracked: "ETHUSDT"}

	tests := []struct {
		name    string
		ref     []domain.PricePoint
		tracked []domain.PricePoint
		wantErr error
	}{
		{
			name:    "too short",
			ref:     points([]float64{1, 2, 3, 4}),
			tracked: points([]float64{1, 2, 3, 4}),
			wantErr: ErrInsufficientData,
		},
		{
			name:    "constant tracked",
			ref:     points([]float64{1, 2, 3, 4, 5}),
			tracked: points([]float64{3, 3, 3, 3, 3}),
			wantErr: ErrInsufficientData,
		},
		{
			name:    "misaligned",
			ref:     points([]float64{1, 2, 3, 4, 5, 6}),
			tracked: points([]float64{1, 2, 3, 4, 5}),
			wantErr: ErrMisaligned,
		},
		{
			name:    "zero baseline",
			ref:     points([]float64{1, 2, 3, 4, 5}),
			tracked: points([]float64{1, 3, 1, 3, 1}),
			wantErr: ErrUndefinedBaseline,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := calc.Sample(pair, tt.ref, tt.tracked)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCalculator_FromStore(t *testing.T) {
	store := series.New(minute)
	for i, c := range []float64{1, 2, 3, 4, 5} {
		ts := int64(i) * minute
		_ = store.Append("BTCUSDT", domain.PricePoint{TimestampMs: ts, Open: c, High: c, Low: c, Close: c})
		_ = store.Append("ETHUSDT", domain.PricePoint{TimestampMs: ts, Open: c, High: c, Low: c, Close: 2 * c})
	}

	calc := NewCalculator(config.Correlation{Window: 3, BaselineHorizon: 2})
	s, err := calc.FromStore(store, domain.AssetPair{Reference: "BTCUSDT", Tracked: "ETHUSDT"})
	if err != nil {
		t.Fatalf("FromStore: %v", err)
	}
	if s.DeviationRatio != 0 {
		t.Errorf("expected zero deviation for lockstep series, got %v", s.DeviationRatio)
	}

	if _, err := calc.FromStore(store, domain.AssetPair{Reference: "BTCUSDT", Tracked: "SOLUSDT"}); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected insufficient data for unknown asset, got %v", err)
	}
}

func TestClassifyRegime(t *testing.T) {
	tests := []struct {
		in   []float64
		want Regime
	}{
		{nil, RegimeUnknown},
		{[]float64{0.9, -0.8, 0.75}, RegimeHigh},
		{[]float64{0.1, -0.2, 0.05}, RegimeLow},
		{[]float64{0.5, 0.4}, RegimeMixed},
	}
	for _, tt := range tests {
		if got := ClassifyRegime(tt.in); got != tt.want {
			t.Errorf("ClassifyRegime(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

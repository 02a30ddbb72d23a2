// Package correlation computes rolling Pearson correlation of close prices
// and the baseline it is compared against.
package correlation

import (
	"errors"
	"fmt"
	"math"
)

// Errors returned by correlation functions. All are data errors: the caller
// skips the affected asset for the tick.
var (
	ErrInsufficientData  = errors.New("insufficient data for correlation")
	ErrUndefinedBaseline = errors.New("baseline correlation is zero")
	ErrMisaligned        = errors.New("series windows not aligned")

	// ErrZeroVariance matches ErrInsufficientData under errors.Is.
	ErrZeroVariance = fmt.Errorf("%w: zero variance in correlation window", ErrInsufficientData)
)

// MinStddev is the population standard deviation below which a window is treated as constant.
const MinStddev = 1e-8

// Pearson returns the correlation coefficient of x and y, clamped to [-1, 1].
func Pearson(x, y []float64) (float64, error) {
	n := len(x)
	if n < 2 || len(y) != n {
		return 0, fmt.Errorf("%w: %d vs %d points", ErrInsufficientData, len(x), len(y))
	}

	mx := mean(x)
	my := mean(y)

	var sxy, sxx, syy float64
	for i := 0; i < n; i++ {
		dx := x[i] - mx
		dy := y[i] - my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}

	if math.Sqrt(sxx/float64(n)) < MinStddev || math.Sqrt(syy/float64(n)) < MinStddev {
		return 0, ErrZeroVariance
	}

	r := sxy / math.Sqrt(sxx*syy)
	if math.IsNaN(r) {
		return 0, ErrZeroVariance
	}
	return clamp(r, -1, 1), nil
}

// DeviationRatio returns |current - baseline| / |baseline|.
// ok is false when baseline is zero and the ratio is undefined.
func DeviationRatio(current, baseline float64) (ratio float64, ok bool) {
	if baseline == 0 {
		return 0, false
	}
	return math.Abs(current-baseline) / math.Abs(baseline), true
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

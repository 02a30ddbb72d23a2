package correlation

import (
	"fmt"

	"corrdiv/internal/config"
	"corrdiv/internal/domain"
	"corrdiv/internal/series"
)

// Calculator computes the window correlation of a pair and its rolling baseline.
//
// Baseline policy: the mean of the window correlations at the Horizon ticks
// immediately preceding the current one, each over Window samples.
type Calculator struct {
	window  int
	horizon int
}

// NewCalculator creates a calculator from validated configuration.
func NewCalculator(cfg config.Correlation) *Calculator {
	return &Calculator{
		window:  cfg.Window,
		horizon: cfg.BaselineHorizon,
	}
}

// Window returns the correlation window length.
func (c *Calculator) Window() int { return c.window }

// Required returns the number of aligned samples needed for a full sample.
func (c *Calculator) Required() int {
	return c.window + c.horizon
}

// Sample evaluates the pair at the latest point of ref and tracked.
// Both inputs are ordered oldest first and must end on the same timestamp.
func (c *Calculator) Sample(pair domain.AssetPair, ref, tracked []domain.PricePoint) (domain.CorrelationSample, error) {
	need := c.Required()
	if len(ref) < need || len(tracked) < need {
		return domain.CorrelationSample{}, fmt.Errorf("%w: need %d aligned points, have %d/%d",
			ErrInsufficientData, need, len(ref), len(tracked))
	}
	ref = ref[len(ref)-need:]
	tracked = tracked[len(tracked)-need:]

	if ref[0].TimestampMs != tracked[0].TimestampMs || ref[need-1].TimestampMs != tracked[need-1].TimestampMs {
		return domain.CorrelationSample{}, fmt.Errorf("%w: %s ends at %d, %s at %d",
			ErrMisaligned, pair.Reference, ref[need-1].TimestampMs, pair.Tracked, tracked[need-1].TimestampMs)
	}

	x := series.ClosePrices(ref)
	y := series.ClosePrices(tracked)

	current, err := c.windowAt(x, y, need)
	if err != nil {
		return domain.CorrelationSample{}, err
	}

	sum := 0.0
	for h := 1; h <= c.horizon; h++ {
		r, err := c.windowAt(x, y, need-h)
		if err != nil {
			return domain.CorrelationSample{}, fmt.Errorf("%w: baseline window %d: %v", ErrInsufficientData, h, err)
		}
		sum += r
	}
	baseline := sum / float64(c.horizon)

	ratio, ok := DeviationRatio(current, baseline)
	if !ok {
		return domain.CorrelationSample{}, ErrUndefinedBaseline
	}

	return domain.CorrelationSample{
		TimestampMs:         ref[need-1].TimestampMs,
		Pair:                pair,
		WindowCorrelation:   current,
		BaselineCorrelation: baseline,
		DeviationRatio:      ratio,
	}, nil
}

// windowAt correlates the window ending just before index end.
func (c *Calculator) windowAt(x, y []float64, end int) (float64, error) {
	return Pearson(x[end-c.window:end], y[end-c.window:end])
}

// FromStore loads the required history for a pair and samples it.
func (c *Calculator) FromStore(store *series.Store, pair domain.AssetPair) (domain.CorrelationSample, error) {
	need := c.Required()
	ref, err := store.Window(pair.Reference, need)
	if err != nil {
		return domain.CorrelationSample{}, fmt.Errorf("%w: %v", ErrInsufficientData, err)
	}
	tracked, err := store.Window(pair.Tracked, need)
	if err != nil {
		return domain.CorrelationSample{}, fmt.Errorf("%w: %v", ErrInsufficientData, err)
	}
	return c.Sample(pair, ref, tracked)
}

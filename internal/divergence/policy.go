package divergence

import "corrdiv/internal/domain"

// Direction policy names.
const (
	PolicyMeanReversion = "MEAN_REVERSION"
	PolicyMomentum      = "MOMENTUM"
)

// DirectionPolicy picks the trade side for a divergence.
//
// Breakdown (current correlation below baseline) is traded as mean reversion:
// LONG when the asset underperformed the reference over the lookback, SHORT otherwise.
// Strengthening (current above baseline) is traded as momentum: the side of the
// asset's own recent return.
func DirectionPolicy(sample domain.CorrelationSample, assetReturn, refReturn float64) (domain.Side, string) {
	if sample.Breakdown() {
		if assetReturn < refReturn {
			return domain.SideLong, PolicyMeanReversion
		}
		return domain.SideShort, PolicyMeanReversion
	}
	if assetReturn > 0 {
		return domain.SideLong, PolicyMomentum
	}
	return domain.SideShort, PolicyMomentum
}

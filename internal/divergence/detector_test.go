package divergence

import (
	"errors"
	"testing"

	"corrdiv/internal/config"
	"corrdiv/internal/domain"
)

const minute = int64(60000)

func ramp(n int, start, step, volume float64) []domain.PricePoint {
	out := make([]domain.PricePoint, n)
	for i := range out {
		c := start + step*float64(i)
		out[i] = domain.PricePoint{TimestampMs: int64(i) * minute, Open: c, High: c, Low: c, Close: c, Volume: volume}
	}
	return out
}

func sample(current, baseline float64) domain.CorrelationSample {
	ratio := (current - baseline) / baseline
	if ratio < 0 {
		ratio = -ratio
	}
	return domain.CorrelationSample{
		TimestampMs:         9 * minute,
		Pair:                domain.AssetPair{Reference: "BTCUSDT", Tracked: "ETHUSDT"},
		WindowCorrelation:   current,
		BaselineCorrelation: baseline,
		DeviationRatio:      ratio,
	}
}

func volumeOnly() config.Divergence {
	return config.Divergence{
		Threshold:         0.3,
		DirectionLookback: 3,
		Volume:            config.VolumeFilter{Lookback: 3, Multiple: 1.5},
	}
}

func TestDirectionPolicy(t *testing.T) {
	tests := []struct {
		name       string
		sample     domain.CorrelationSample
		assetRet   float64
		refRet     float64
		wantSide   domain.Side
		wantPolicy string
	}{
		{"breakdown underperformer", sample(0.4, 0.9), -0.02, 0.01, domain.SideLong, PolicyMeanReversion},
		{"breakdown outperformer", sample(0.4, 0.9), 0.05, 0.01, domain.SideShort, PolicyMeanReversion},
		{"strengthening rising", sample(0.9, 0.5), 0.01, -0.03, domain.SideLong, PolicyMomentum},
		{"strengthening falling", sample(0.9, 0.5), -0.01, 0.03, domain.SideShort, PolicyMomentum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			side, policy := DirectionPolicy(tt.sample, tt.assetRet, tt.refRet)
			if side != tt.wantSide || policy != tt.wantPolicy {
				t.Errorf("got %s/%s, want %s/%s", side, policy, tt.wantSide, tt.wantPolicy)
			}
		})
	}
}

func TestDetector_BelowThreshold(t *testing.T) {
	d := NewDetector(volumeOnly())
	ref := ramp(10, 100, 1, 10)
	tracked := ramp(10, 50, -1, 10)
	tracked[9].Volume = 100

	sig, trace, err := d.Evaluate(sample(0.8, 0.9), ref, tracked)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if sig != nil {
		t.Fatalf("expected no signal below threshold, got %+v", sig)
	}
	if trace.AboveThreshold {
		t.Error("trace should not be above threshold")
	}
}

func TestDetector_VolumeFilter(t *testing.T) {
	ref := ramp(10, 100, 1, 10)

	quiet := ramp(10, 50, -1, 10)
	d := NewDetector(volumeOnly())
	sig, trace, err := d.Evaluate(sample(0.3, 0.9), ref, quiet)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if sig != nil || trace.VolumePass {
		t.Fatalf("flat volume should not confirm: %+v", trace)
	}

	spike := ramp(10, 50, -1, 10)
	spike[9].Volume = 16
	sig, _, err = d.Evaluate(sample(0.3, 0.9), ref, spike)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if sig == nil {
		t.Fatal("expected signal on volume spike")
	}
	// Breakdown with the asset falling while the reference rises: buy the laggard.
	if sig.Side != domain.SideLong || sig.Policy != PolicyMeanReversion {
		t.Errorf("got %s/%s, want LONG/%s", sig.Side, sig.Policy, PolicyMeanReversion)
	}
	if sig.Asset != "ETHUSDT" || sig.GeneratedAtMs != 9*minute || sig.Price != spike[9].Close {
		t.Errorf("unexpected signal fields: %+v", sig)
	}
	if sig.Strength != sample(0.3, 0.9).DeviationRatio {
		t.Errorf("strength = %v, want deviation ratio", sig.Strength)
	}
}

func TestDetector_MomentumFilter(t *testing.T) {
	cfg := config.Divergence{
		Threshold:         0.3,
		DirectionLookback: 3,
		Momentum:          config.MomentumFilter{Lookback: 3, Lower: -0.05, Upper: 0.05},
	}
	ref := ramp(10, 100, 0.1, 10)

	tests := []struct {
		name    string
		tracked []domain.PricePoint
		sample  domain.CorrelationSample
		want    bool
		side    domain.Side
	}{
		// Strengthening and rising gently: LONG, momentum ~1.9% below upper bound.
		{"long within bound", ramp(10, 50, 0.33, 10), sample(0.95, 0.6), true, domain.SideLong},
		// Strengthening and rising hard: LONG, momentum above upper bound.
		{"long overextended", ramp(10, 50, 5, 10), sample(0.95, 0.6), false, domain.SideLong},
		// Strengthening and falling gently: SHORT, momentum above lower bound.
		{"short within bound", ramp(10, 50, -0.33, 10), sample(0.95, 0.6), true, domain.SideShort},
		// Strengthening and collapsing: SHORT, momentum below lower bound.
		{"short overextended", ramp(10, 80, -5, 10), sample(0.95, 0.6), false, domain.SideShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(cfg)
			sig, trace, err := d.Evaluate(tt.sample, ref, tt.tracked)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if trace.Side != tt.side {
				t.Errorf("side = %s, want %s", trace.Side, tt.side)
			}
			if (sig != nil) != tt.want {
				t.Errorf("signal = %v, want emitted=%v (momentum %v)", sig, tt.want, trace.Momentum)
			}
		})
	}
}

func TestDetector_OneSignalPerEpisode(t *testing.T) {
	d := NewDetector(volumeOnly())
	ref := ramp(10, 100, 1, 10)
	tracked := ramp(10, 50, -1, 10)
	tracked[9].Volume = 100

	diverged := sample(0.3, 0.9)
	if sig, _, _ := d.Evaluate(diverged, ref, tracked); sig == nil {
		t.Fatal("expected first signal")
	}

	sig, trace, _ := d.Evaluate(diverged, ref, tracked)
	if sig != nil {
		t.Fatal("second evaluation in the same episode must not signal")
	}
	if !trace.Suppressed {
		t.Error("trace should report suppression")
	}

	// Deviation returns inside the threshold: re-armed.
	if sig, _, _ := d.Evaluate(sample(0.85, 0.9), ref, tracked); sig != nil {
		t.Fatal("no signal expected inside threshold")
	}
	if sig, _, _ := d.Evaluate(diverged, ref, tracked); sig == nil {
		t.Fatal("expected signal after re-arm")
	}
}

func TestDetector_ResetRearmsOneAsset(t *testing.T) {
	d := NewDetector(volumeOnly())
	ref := ramp(10, 100, 1, 10)
	tracked := ramp(10, 50, -1, 10)
	tracked[9].Volume = 100

	eth := sample(0.3, 0.9)
	sol := sample(0.3, 0.9)
	sol.Pair.Tracked = "SOLUSDT"
	for _, s := range []domain.CorrelationSample{eth, sol} {
		if sig, _, _ := d.Evaluate(s, ref, tracked); sig == nil {
			t.Fatalf("expected %s signal", s.Pair.Tracked)
		}
	}

	d.Reset("ETHUSDT")
	if sig, _, _ := d.Evaluate(eth, ref, tracked); sig == nil {
		t.Fatal("reset asset should signal again while still diverged")
	}
	if sig, trace, _ := d.Evaluate(sol, ref, tracked); sig != nil || !trace.Suppressed {
		t.Fatal("other assets must stay disarmed")
	}
}

func TestDetector_FailedFiltersStayArmed(t *testing.T) {
	d := NewDetector(volumeOnly())
	ref := ramp(10, 100, 1, 10)
	quiet := ramp(10, 50, -1, 10)

	if sig, _, _ := d.Evaluate(sample(0.3, 0.9), ref, quiet); sig != nil {
		t.Fatal("unexpected signal without confirmation")
	}

	spike := ramp(10, 50, -1, 10)
	spike[9].Volume = 100
	if sig, _, _ := d.Evaluate(sample(0.3, 0.9), ref, spike); sig == nil {
		t.Fatal("asset should still be armed after unconfirmed divergence")
	}
}

func TestDetector_AssetsIndependent(t *testing.T) {
	d := NewDetector(volumeOnly())
	ref := ramp(10, 100, 1, 10)
	tracked := ramp(10, 50, -1, 10)
	tracked[9].Volume = 100

	eth := sample(0.3, 0.9)
	sol := sample(0.3, 0.9)
	sol.Pair.Tracked = "SOLUSDT"

	if sig, _, _ := d.Evaluate(eth, ref, tracked); sig == nil {
		t.Fatal("expected ETH signal")
	}
	if sig, _, _ := d.Evaluate(sol, ref, tracked); sig == nil || sig.Asset != "SOLUSDT" {
		t.Fatal("expected SOL signal in the same tick")
	}
}

func TestDetector_InsufficientHistory(t *testing.T) {
	d := NewDetector(volumeOnly())
	short := ramp(3, 100, 1, 10)

	_, _, err := d.Evaluate(sample(0.3, 0.9), short, short)
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}

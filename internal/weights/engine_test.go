package weights

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wisdomnet/crowdwisdom/internal/types"
)

func key(wallet, cat, hz string) types.WalletBucketKey {
	return types.WalletBucketKey{Wallet: wallet, Category: cat, Horizon: hz}
}

// S2: shrinkage pulls a thin wallet toward prior.
func TestCompute_ShrinkageThinWallet(t *testing.T) {
	global := types.WalletMetric{Key: key("w1", types.AllBucket, types.AllBucket), SampleSize: 100, Brier: 0.25} // prior edge = 0
	thin := types.WalletMetric{Key: key("w1", "politics", types.AllBucket), SampleSize: 5, Brier: 0}

	rows := Compute([]types.WalletMetric{global, thin}, 50)

	var thinRow types.WalletWeight
	for _, r := range rows {
		if r.Key == thin.Key {
			thinRow = r
		}
	}

	assert.InDelta(t, 0.25, thinRow.RawEdge, 1e-9)
	wantAlpha := 5.0 / 55.0
	wantShrunk := wantAlpha*0.25 + (1-wantAlpha)*0
	assert.InDelta(t, wantShrunk, thinRow.ShrunkEdge, 1e-6)
	assert.LessOrEqual(t, thinRow.Weight, wantShrunk*4+1e-6)
}

// P2: weight in [0,4], uncertainty in [0,1]. F emits no zero-sample
// row, so none is fed here; TestCompute_ShrinkageLimits covers n=0.
func TestCompute_Bounds(t *testing.T) {
	rows := Compute([]types.WalletMetric{
		{Key: key("w1", types.AllBucket, types.AllBucket), SampleSize: 3, Brier: 0.9, Churn: 1, CalibrationError: 1},
		{Key: key("w2", types.AllBucket, types.AllBucket), SampleSize: 500, Brier: 0.0, Churn: 0, CalibrationError: 0, TimingEdge: 10},
	}, 50)
	for _, r := range rows {
		assert.GreaterOrEqual(t, r.Weight, 0.0)
		assert.LessOrEqual(t, r.Weight, 4.0)
		assert.GreaterOrEqual(t, r.Uncertainty, 0.0)
		assert.LessOrEqual(t, r.Uncertainty, 1.0)
	}
}

// P6: shrinkage limit — as n -> large with fixed raw_edge, shrunk_edge
// -> raw_edge; as n -> 0, shrunk_edge -> prior_edge.
func TestCompute_ShrinkageLimits(t *testing.T) {
	prior := types.WalletMetric{Key: key("w1", types.AllBucket, types.AllBucket), SampleSize: 10000, Brier: 0.15} // edge 0.10
	large := types.WalletMetric{Key: key("w1", "sports", types.AllBucket), SampleSize: 1_000_000, Brier: 0.05}    // edge 0.20
	tiny := types.WalletMetric{Key: key("w1", "sports", "short"), SampleSize: 0, Brier: 0.05}

	rows := Compute([]types.WalletMetric{prior, large, tiny}, 50)
	byKey := map[types.WalletBucketKey]types.WalletWeight{}
	for _, r := range rows {
		byKey[r.Key] = r
	}

	assert.InDelta(t, 0.20, byKey[large.Key].ShrunkEdge, 1e-4)
	assert.InDelta(t, 0.10, byKey[tiny.Key].ShrunkEdge, 1e-9) // n=0 -> alpha=0 -> prior
}

// P5: monotone support — extending a bucket with observations whose
// mean matches the existing brier should not decrease weight nor
// increase uncertainty.
func TestCompute_MonotoneSupport(t *testing.T) {
	base := types.WalletMetric{Key: key("w1", types.AllBucket, types.AllBucket), SampleSize: 10, Brier: 0.2, CalibrationError: 0.1, Churn: 0.1}
	extended := base
	extended.SampleSize = 40 // same brier/calibration/churn, more support

	rows := Compute([]types.WalletMetric{base}, 50)
	extRows := Compute([]types.WalletMetric{extended}, 50)

	assert.GreaterOrEqual(t, extRows[0].Weight, rows[0].Weight-1e-9)
	assert.LessOrEqual(t, extRows[0].Uncertainty, rows[0].Uncertainty+1e-9)
}

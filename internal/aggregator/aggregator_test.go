package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisdomnet/crowdwisdom/internal/types"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func defaultConfig() Config {
	return Config{
		HalfLife:          48 * time.Hour,
		MassScale:         5,
		SupportScale:      4,
		ParticipationHalf: 8,
		DriversK:          10,
		FlowWindow:        6 * time.Hour,
		PriceWindow:       15 * time.Minute,
		MaxWorkers:        4,
	}
}

// S4: degenerate market - sole participant has weight 0.
func TestCompute_DegenerateMarket(t *testing.T) {
	T := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	trades := []types.Trade{
		{ExternalID: "t1", Market: "m1", Wallet: "w1", Timestamp: T.Add(-1 * time.Minute), Side: types.SideYes, Action: types.ActionBuy, Price: mustDecimal(t, "0.55"), Size: mustDecimal(t, "2")},
	}
	lookup := func(key types.WalletBucketKey) (types.WalletWeight, bool) {
		return types.WalletWeight{Key: key, Weight: 0}, true
	}

	res, err := Compute(context.Background(), Input{
		Market: "m1", Category: types.AllBucket, Horizon: types.HorizonShort, T: T, Trades: trades, Lookup: lookup,
	}, defaultConfig())
	require.NoError(t, err)

	snap := res.Snapshot
	assert.InDelta(t, 0.55, snap.MarketProb, 1e-9)
	assert.InDelta(t, 0.55, snap.CrowdProb, 1e-9)
	assert.InDelta(t, 0, snap.Divergence, 1e-9)
	assert.Equal(t, 0.0, snap.Confidence)
	assert.Equal(t, 0, snap.ActiveWallets)
	assert.Equal(t, 0.0, snap.IntegrityRisk)
	assert.True(t, snap.Degenerate)
}

// S5: integrity-risk suppression, tested directly against reduce so
// the math matches the scenario's hand-computed figures exactly
// (the belief/confidence pipeline would perturb conf_w away from 1).
func TestReduce_IntegrityRiskSuppression(t *testing.T) {
	live := []*participant{
		{wallet: "w1", belief: 0.8, ew: 0.9, weight: 0.9, churn: 0},
		{wallet: "w2", belief: 0.8, ew: 0.1, weight: 0.1, churn: 0},
	}
	cfg := defaultConfig()

	snap := reduce("m1", time.Now(), types.AllBucket, 0.5, live, nil, cfg)

	assert.InDelta(t, 0.8, snap.CrowdProb, 1e-9)
	assert.InDelta(t, 0, snap.Disagreement, 1e-9)
	assert.InDelta(t, 0.492, snap.IntegrityRisk, 1e-9)
	// The integrity factor (1 - 0.5*0.492) = 0.754 is one term of the
	// confidence product: effective_N = 1/0.82 gives participation
	// quality 1/(1 + 8*0.82) = 1/7.56, and two wallets give a support
	// haircut of 2/10.
	assert.InDelta(t, (1.0/7.56)*(1-0.5*0.492)*0.2, snap.Confidence, 1e-9)
}

// P4: every probability field in [0,1]; divergence exact;
// sum |contribution| over drivers <= 1 + eps.
func TestCompute_Invariants(t *testing.T) {
	T := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var trades []types.Trade
	prices := []string{"0.3", "0.6", "0.5", "0.9", "0.2"}
	for i, p := range prices {
		trades = append(trades, types.Trade{
			ExternalID: p, Market: "m1", Wallet: "w" + string(rune('1'+i)),
			Timestamp: T.Add(-time.Duration(i) * time.Hour),
			Side:      types.SideYes, Action: types.ActionBuy,
			Price: mustDecimal(t, p), Size: mustDecimal(t, "3"),
		})
	}
	lookup := func(key types.WalletBucketKey) (types.WalletWeight, bool) {
		return types.WalletWeight{Key: key, Weight: 1.5}, true
	}

	res, err := Compute(context.Background(), Input{
		Market: "m1", Category: types.AllBucket, Horizon: types.HorizonShort, T: T, Trades: trades, Lookup: lookup,
	}, defaultConfig())
	require.NoError(t, err)
	snap := res.Snapshot

	for _, p := range []float64{snap.MarketProb, snap.CrowdProb, snap.Confidence, snap.Disagreement, snap.ParticipationQuality, snap.IntegrityRisk} {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
	assert.InDelta(t, snap.CrowdProb-snap.MarketProb, snap.Divergence, 1e-9)

	var sumAbs float64
	for _, d := range snap.Drivers {
		sumAbs += absf(d.Contribution)
	}
	assert.LessOrEqual(t, sumAbs, 1+1e-9)
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

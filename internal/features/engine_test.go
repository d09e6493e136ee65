package features

import (
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

// S1: one wallet, one resolved market.
func TestCompute_SingleTrade(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trade := types.Trade{
		ExternalID: "t1",
		Market:     "m1",
		Wallet:     "w1",
		Timestamp:  t0,
		Side:       types.SideYes,
		Action:     types.ActionBuy,
		Price:      mustDecimal(t, "0.4"),
		Size:       mustDecimal(t, "4"),
	}
	outcome := types.Outcome{Market: "m1", ResolvedOutcome: 1, ResolutionTime: t0.Add(time.Second)}

	rows := Compute([]Observation{{Trade: trade, Outcome: outcome, Category: "politics"}}, types.DefaultHorizonThresholds())

	global := findRow(t, rows, types.WalletBucketKey{Wallet: "w1", Category: types.AllBucket, Horizon: types.AllBucket})
	assert.Equal(t, 1, global.SampleSize)
	assert.InDelta(t, 0.36, global.Brier, 1e-9)
	assert.InDelta(t, 0, global.Churn, 1e-9)
	assert.InDelta(t, 1, global.Persistence, 1e-9)
	assert.InDelta(t, 0, global.TimingEdge, 1e-9)

	// Every wallet gets exactly four rows (global, cat, hz, cat+hz).
	assert.Len(t, rows, 4)
}

func TestCompute_EmptyBucketsEmitNoRow(t *testing.T) {
	rows := Compute(nil, types.DefaultHorizonThresholds())
	assert.Empty(t, rows)
}

// P1: brier/calibration_error in [0,1], persistence+churn == 1.
func TestCompute_Invariants(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	outcome := types.Outcome{Market: "m1", ResolvedOutcome: 1, ResolutionTime: t0.Add(72 * time.Hour)}

	var obs []Observation
	prices := []string{"0.2", "0.8", "0.3", "0.9", "0.1"}
	for i, p := range prices {
		obs = append(obs, Observation{
			Trade: types.Trade{
				ExternalID: p,
				Market:     "m1",
				Wallet:     "w1",
				Timestamp:  t0.Add(time.Duration(i) * time.Hour),
				Side:       types.SideYes,
				Action:     types.ActionBuy,
				Price:      mustDecimal(t, p),
				Size:       mustDecimal(t, "1"),
			},
			Outcome:  outcome,
			Category: "sports",
		})
	}

	rows := Compute(obs, types.DefaultHorizonThresholds())
	require.NotEmpty(t, rows)
	for _, r := range rows {
		assert.GreaterOrEqual(t, r.Brier, 0.0)
		assert.LessOrEqual(t, r.Brier, 1.0)
		assert.GreaterOrEqual(t, r.CalibrationError, 0.0)
		assert.LessOrEqual(t, r.CalibrationError, 1.0)
		assert.InDelta(t, 1.0, r.Persistence+r.Churn, 1e-9)
	}
}

func findRow(t *testing.T, rows []types.WalletMetric, key types.WalletBucketKey) types.WalletMetric {
	t.Helper()
	for _, r := range rows {
		if r.Key == key {
			return r
		}
	}
	t.Fatalf("no row for key %+v", key)
	return types.WalletMetric{}
}

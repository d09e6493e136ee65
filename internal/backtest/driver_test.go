package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisdomnet/crowdwisdom/internal/types"
)

func fixedSnapshot(marketProb, crowdProb float64) SnapshotFunc {
	return func(ctx context.Context, market string, t time.Time) (types.Snapshot, error) {
		return types.Snapshot{Market: market, Instant: t, MarketProb: marketProb, CrowdProb: crowdProb}, nil
	}
}

// S6: crowd beats market. Every market resolves YES; crowd_prob is
// consistently closer to 1 than market_prob, so brier_crowd < brier_market
// and brier_improvement > 0.
func TestRunCutoff_CrowdBeatsMarket(t *testing.T) {
	res := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	markets := []MarketInput{
		{Market: "m1", ResolutionTime: res, ResolvedOutcome: 1, EarliestTradeTime: res.Add(-30 * 24 * time.Hour)},
		{Market: "m2", ResolutionTime: res, ResolvedOutcome: 1, EarliestTradeTime: res.Add(-30 * 24 * time.Hour)},
	}

	report, err := RunCutoff(context.Background(), 6, markets, fixedSnapshot(0.5, 0.8), nil)
	require.NoError(t, err)

	assert.Len(t, report.Evaluations, 2)
	assert.Less(t, report.BrierCrowdMean, report.BrierMarketMean)
	assert.Greater(t, report.BrierImprovement, 0.0)
	assert.Equal(t, 6, report.CutoffHours)
	assert.NotEmpty(t, report.RunID)
}

// A market whose earliest trade is after the cutoff instant is
// ineligible at that cutoff and must be skipped, not counted.
func TestRunCutoff_SkipsIneligibleMarkets(t *testing.T) {
	res := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	markets := []MarketInput{
		{Market: "late", ResolutionTime: res, ResolvedOutcome: 1, EarliestTradeTime: res.Add(-1 * time.Hour)},
	}

	report, err := RunCutoff(context.Background(), 6, markets, fixedSnapshot(0.5, 0.8), nil)
	require.NoError(t, err)
	assert.Empty(t, report.Evaluations)
	assert.Equal(t, 0.0, report.BrierMarketMean)
}

// Edge buckets partition by |divergence| and report exact counts,
// a fully aligned win rate, and a signed PnL proxy.
func TestRunCutoff_EdgeBuckets(t *testing.T) {
	res := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	markets := []MarketInput{
		{Market: "tight", ResolutionTime: res, ResolvedOutcome: 1, EarliestTradeTime: res.Add(-30 * 24 * time.Hour)},
	}
	// divergence = 0.8 - 0.5 = 0.30, lands in the top (>=10%) band.
	report, err := RunCutoff(context.Background(), 6, markets, fixedSnapshot(0.5, 0.8), nil)
	require.NoError(t, err)

	require.Len(t, report.EdgeBuckets, 4)
	top := report.EdgeBuckets[3]
	assert.Equal(t, 1, top.Count)
	assert.InDelta(t, 0.30, top.MeanEdge, 1e-9)
	assert.Equal(t, 1.0, top.WinRate)
	assert.Greater(t, top.MeanPnL, 0.0)

	for _, b := range report.EdgeBuckets[:3] {
		assert.Equal(t, 0, b.Count)
	}
}

// Sweep produces exactly one report per cutoff, in cutoff order.
func TestSweep_ProducesOneReportPerCutoff(t *testing.T) {
	res := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	markets := []MarketInput{
		{Market: "m1", ResolutionTime: res, ResolvedOutcome: 1, EarliestTradeTime: res.Add(-30 * 24 * time.Hour)},
	}

	reports, err := Sweep(context.Background(), 5, markets, fixedSnapshot(0.5, 0.6), nil)
	require.NoError(t, err)
	require.Len(t, reports, 5)
	for i, r := range reports {
		assert.Equal(t, i+1, r.CutoffHours)
	}
}

// A market priced exactly at the realized outcome (market_prob = 1.0 on
// a YES resolution) leaves brier_market_mean at zero, so
// brier_improvement is left unset rather than dividing by zero.
func TestRunCutoff_ZeroMarketBrierLeavesImprovementUnset(t *testing.T) {
	res := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	markets := []MarketInput{
		{Market: "m1", ResolutionTime: res, ResolvedOutcome: 1, EarliestTradeTime: res.Add(-30 * 24 * time.Hour)},
	}
	report, err := RunCutoff(context.Background(), 6, markets, fixedSnapshot(1.0, 0.9), nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, report.BrierMarketMean)
	assert.Equal(t, 0.0, report.BrierImprovement)
}

// Package backtest implements component X: replays the aggregator at
// a configurable lead time before resolution and scores the result
// against realized outcomes (spec §4.5).
package backtest

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/wisdomnet/crowdwisdom/internal/types"
)

// MarketInput is one resolved market eligible for backtesting.
type MarketInput struct {
	Market            string
	ResolutionTime    time.Time
	ResolvedOutcome   int
	EarliestTradeTime time.Time
}

// SnapshotFunc evaluates the aggregator for a market at an instant.
// The backtest driver never touches a Store or the aggregator package
// directly; the pipeline supplies this closure so X stays decoupled
// and easy to test against fixtures.
type SnapshotFunc func(ctx context.Context, market string, t time.Time) (types.Snapshot, error)

// defaultEdgeBounds is the spec-default edge-bucket partition
// (2%, 5%, 10%), producing four bands.
var defaultEdgeBounds = []float64{0.02, 0.05, 0.10}

// RunCutoff evaluates every eligible market in markets at
// resolution_time - cutoffHours and scores the result (spec §4.5). A
// market is eligible when resolution_time - cutoffHours is after its
// earliest trade; markets ineligible at this cutoff are skipped, not
// counted.
func RunCutoff(ctx context.Context, cutoffHours int, markets []MarketInput, snapshotFn SnapshotFunc, edgeBounds []float64) (types.BacktestReport, error) {
	if len(edgeBounds) == 0 {
		edgeBounds = defaultEdgeBounds
	}
	sortMarketsByResolution(markets)

	var evals []types.MarketEvaluation
	for _, m := range markets {
		T := m.ResolutionTime.Add(-time.Duration(cutoffHours) * time.Hour)
		if !T.After(m.EarliestTradeTime) {
			continue
		}
		snap, err := snapshotFn(ctx, m.Market, T)
		if err != nil {
			return types.BacktestReport{}, err
		}
		y := float64(m.ResolvedOutcome)
		evals = append(evals, types.MarketEvaluation{
			Market:             m.Market,
			MarketProbAtCutoff: snap.MarketProb,
			CrowdProbAtCutoff:  snap.CrowdProb,
			Realized:           m.ResolvedOutcome,
			BrierMarket:        sq(snap.MarketProb - y),
			BrierCrowd:         sq(snap.CrowdProb - y),
		})
	}

	return score(cutoffHours, evals, edgeBounds), nil
}

// Sweep runs RunCutoff for every cutoff in {1, ..., maxHours},
// returning one BacktestReport per cutoff plus the aggregate curve in
// cutoff order.
func Sweep(ctx context.Context, maxHours int, markets []MarketInput, snapshotFn SnapshotFunc, edgeBounds []float64) ([]types.BacktestReport, error) {
	reports := make([]types.BacktestReport, 0, maxHours)
	for h := 1; h <= maxHours; h++ {
		r, err := RunCutoff(ctx, h, markets, snapshotFn, edgeBounds)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

const logLossEpsilon = 1e-6

func score(cutoffHours int, evals []types.MarketEvaluation, edgeBounds []float64) types.BacktestReport {
	report := types.BacktestReport{
		RunID:       uuid.NewString(),
		CutoffHours: cutoffHours,
		Evaluations: evals,
	}
	if len(evals) == 0 {
		report.EdgeBuckets = buildBuckets(edgeBounds)
		return report
	}

	var brierMarketSum, brierCrowdSum, logLossMarketSum, logLossCrowdSum float64
	for _, e := range evals {
		brierMarketSum += e.BrierMarket
		brierCrowdSum += e.BrierCrowd
		y := float64(e.Realized)
		logLossMarketSum += logLoss(e.MarketProbAtCutoff, y)
		logLossCrowdSum += logLoss(e.CrowdProbAtCutoff, y)
	}
	n := float64(len(evals))
	report.BrierMarketMean = brierMarketSum / n
	report.BrierCrowdMean = brierCrowdSum / n
	report.LogLossMarket = logLossMarketSum / n
	report.LogLossCrowd = logLossCrowdSum / n
	if report.BrierMarketMean != 0 {
		report.BrierImprovement = 1 - report.BrierCrowdMean/report.BrierMarketMean
	}

	report.EdgeBuckets = bucketByEdge(evals, edgeBounds)
	return report
}

func logLoss(p, y float64) float64 {
	p = clamp(p, logLossEpsilon, 1-logLossEpsilon)
	if y == 1 {
		return -math.Log(p)
	}
	return -math.Log(1 - p)
}

// bucketByEdge partitions markets by |divergence| = |crowd - market|
// into bands [0, b0), [b0, b1), [b1, b2), [b2, 1].
func bucketByEdge(evals []types.MarketEvaluation, bounds []float64) []types.EdgeBucket {
	buckets := buildBuckets(bounds)

	for _, e := range evals {
		divergence := e.CrowdProbAtCutoff - e.MarketProbAtCutoff
		edge := math.Abs(divergence)
		idx := bucketIndex(edge, bounds)

		y := float64(e.Realized)
		pnl := sign(divergence) * (2*y - 1) * edge
		win := 0.0
		if sign(divergence) == sign(2*y-1) {
			win = 1
		}

		b := &buckets[idx]
		b.Count++
		b.MeanEdge += edge
		b.MeanPnL += pnl
		b.WinRate += win
	}

	for i := range buckets {
		if buckets[i].Count > 0 {
			n := float64(buckets[i].Count)
			buckets[i].MeanEdge /= n
			buckets[i].MeanPnL /= n
			buckets[i].WinRate /= n
		}
	}
	return buckets
}

func buildBuckets(bounds []float64) []types.EdgeBucket {
	edges := append([]float64{0}, bounds...)
	edges = append(edges, 1.0)
	buckets := make([]types.EdgeBucket, len(edges)-1)
	for i := range buckets {
		buckets[i] = types.EdgeBucket{LowerBound: edges[i], UpperBound: edges[i+1]}
	}
	return buckets
}

func bucketIndex(edge float64, bounds []float64) int {
	for i, b := range bounds {
		if edge < b {
			return i
		}
	}
	return len(bounds)
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func sq(v float64) float64 { return v * v }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sortMarketsByResolution is a small determinism helper used by
// callers assembling MarketInput sets from store iteration order.
func sortMarketsByResolution(markets []MarketInput) {
	sort.Slice(markets, func(i, j int) bool { return markets[i].ResolutionTime.Before(markets[j].ResolutionTime) })
}

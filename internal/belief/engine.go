// Package belief implements component B: derivation of a wallet's
// latent (belief, confidence) pair from its trade sequence on a single
// market, up to a single evaluation instant (spec §4.3). B is a pure
// function of its input trades and instant.
package belief

import (
	"math"
	"sort"
	"time"

	"github.com/wisdomnet/crowdwisdom/internal/types"
)

// Result is B's output for one (wallet, market, T) evaluation.
type Result struct {
	Belief     float64
	Confidence float64
	SignalMass float64
	NumTrades  int
	Churn      float64 // the wallet's churn on this market up to T, exposed for A's anti-noise adjustment (§4.4 Step 3)
}

// maxStreakBoost caps streak_len's contribution to persistence_boost
// (spec §4.3: min(streak_len, 5)).
const maxStreakBoost = 5

// Compute derives (belief, confidence) for a wallet's trades on a
// single market, observed up to and including instant t. trades need
// not be pre-filtered or pre-sorted; Compute does both. If no trade
// occurs at or before t, Compute returns (nil, false): the wallet does
// not participate in the snapshot.
func Compute(trades []types.Trade, t time.Time, halfLife time.Duration, massScale, supportScale float64) (*Result, bool) {
	var observed []types.Trade
	for _, tr := range trades {
		if !tr.Timestamp.After(t) {
			observed = append(observed, tr)
		}
	}
	if len(observed) == 0 {
		return nil, false
	}
	sort.Slice(observed, func(i, j int) bool { return observed[i].Timestamp.Before(observed[j].Timestamp) })

	var beliefNumer, weightSum float64
	streak := 0
	var prevSignPositive bool
	flips := 0

	for i, tr := range observed {
		belief := tr.YesBelief()
		sizeWeight := math.Sqrt(tr.SizeFloat())
		lag := t.Sub(tr.Timestamp)
		timeWeight := math.Exp2(-lag.Hours() / halfLife.Hours())

		signPositive := belief >= 0.5
		if i == 0 {
			streak = 1
		} else {
			if signPositive == prevSignPositive {
				streak++
			} else {
				streak = 1
				flips++
			}
		}
		prevSignPositive = signPositive

		persistenceBoost := 1 + 0.1*float64(min(streak, maxStreakBoost))
		rawWeight := sizeWeight * timeWeight * persistenceBoost

		beliefNumer += belief * rawWeight
		weightSum += rawWeight
	}

	var belief float64
	if weightSum > 0 {
		belief = beliefNumer / weightSum
	}

	pairs := len(observed) - 1
	var churn float64
	if pairs > 0 {
		churn = float64(flips) / float64(pairs)
	}

	massScore := 1 - math.Exp(-weightSum/massScale)
	supportScore := 1 - math.Exp(-float64(len(observed))/supportScale)
	persistenceScore := 1 - churn
	confidence := massScore * supportScore * persistenceScore

	return &Result{
		Belief:     belief,
		Confidence: confidence,
		SignalMass: weightSum,
		NumTrades:  len(observed),
		Churn:      churn,
	}, true
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Package features implements component F: per-wallet Brier /
// calibration / ROI / style / specialization / timing metrics,
// bucketed by category and horizon (spec §4.1). F is a pure function
// of its input observations: no I/O, no randomness, deterministic
// output ordering.
package features

import (
	"math"
	"sort"

	"github.com/wisdomnet/crowdwisdom/internal/types"
)

// Observation is one resolved trade, paired with the outcome of the
// market it traded on and that market's category bucket. Gathering
// Observations from the store is the pipeline's job (internal/
// pipeline); F itself never touches a Store.
type Observation struct {
	Trade    types.Trade
	Outcome  types.Outcome
	Category string // already mapped to "_all_" if the market had none
}

// decile-partition count for calibration_error (spec §4.1).
const numDeciles = 10

// Compute derives WalletMetric rows from a set of resolved
// observations, bucketed by (wallet, category-bucket, horizon-bucket).
// Buckets with zero observations emit no row. Output is ordered
// lexicographically by wallet then bucket id, matching the spec's
// determinism requirement.
func Compute(obs []Observation, horizons types.HorizonThresholds) []types.WalletMetric {
	// wallet -> category the wallet has ever traded in -> count, for
	// the specialization entropy (computed once per wallet over its
	// full resolved history, independent of the bucket being emitted).
	walletCategoryCounts := map[string]map[string]int{}
	// bucket key -> observations assigned to that bucket.
	buckets := map[types.WalletBucketKey][]Observation{}

	for _, o := range obs {
		if !o.Trade.Valid() {
			continue // MalformedInputRecord, filtered upstream by the pipeline's counters
		}
		hz := horizons.Bucket(o.Trade.Timestamp, o.Outcome.ResolutionTime)
		cats := walletCategoryCounts[o.Trade.Wallet]
		if cats == nil {
			cats = map[string]int{}
			walletCategoryCounts[o.Trade.Wallet] = cats
		}
		cats[o.Category]++

		for _, k := range types.AllWalletBucketKeys(o.Trade.Wallet, o.Category, hz) {
			buckets[k] = append(buckets[k], o)
		}
	}

	rows := make([]types.WalletMetric, 0, len(buckets))
	for key, bucketObs := range buckets {
		rows = append(rows, computeBucket(key, bucketObs, walletCategoryCounts[key.Wallet]))
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Key.Wallet != rows[j].Key.Wallet {
			return rows[i].Key.Wallet < rows[j].Key.Wallet
		}
		if rows[i].Key.Category != rows[j].Key.Category {
			return rows[i].Key.Category < rows[j].Key.Category
		}
		return rows[i].Key.Horizon < rows[j].Key.Horizon
	})
	return rows
}

func computeBucket(key types.WalletBucketKey, obs []Observation, walletCategories map[string]int) types.WalletMetric {
	sort.Slice(obs, func(i, j int) bool { return obs[i].Trade.Timestamp.Before(obs[j].Trade.Timestamp) })

	n := len(obs)
	row := types.WalletMetric{Key: key, SampleSize: n}
	if n == 0 {
		return row
	}

	var brierSum, sizeSum, roiNumer, avgSizeSum, timingSum float64
	beliefs := make([]float64, n)
	ys := make([]float64, n)

	for i, o := range obs {
		y := o.Outcome.ResolvedOutcomeFloat()
		belief := o.Trade.YesBelief()
		beliefs[i] = belief
		ys[i] = y

		brierSum += (belief - y) * (belief - y)

		size := o.Trade.SizeFloat()
		price := o.Trade.PriceFloat()
		sideSign := o.Trade.SideSign()
		roiNumer += (2*y - 1) * sideSign * size * (1 - price)
		sizeSum += size
		avgSizeSum += size

		timingSum += (belief - price) * (2*y - 1)
	}

	row.Brier = brierSum / float64(n)
	row.CalibrationError = calibrationError(beliefs, ys)
	if sizeSum > 0 {
		row.ROIProxy = clamp(roiNumer/sizeSum, -1, 1)
	}
	row.AvgSize = avgSizeSum / float64(n)
	row.TimingEdge = timingSum / float64(n)

	churn := churnRate(beliefs)
	row.Churn = churn
	row.Persistence = 1 - churn

	row.Specialization = specialization(key, walletCategories)

	return row
}

// calibrationError partitions observations into 10 equal-width belief
// deciles and reports the sample-weighted mean of
// |mean(yes_belief) - mean(y)| across non-empty deciles.
func calibrationError(beliefs, ys []float64) float64 {
	type decile struct {
		beliefSum, ySum float64
		count           int
	}
	deciles := make([]decile, numDeciles)
	for i, b := range beliefs {
		idx := int(b * numDeciles)
		if idx >= numDeciles {
			idx = numDeciles - 1
		}
		if idx < 0 {
			idx = 0
		}
		d := deciles[idx]
		d.beliefSum += b
		d.ySum += ys[i]
		d.count++
		deciles[idx] = d
	}

	var weightedSum float64
	var totalWeight int
	for _, d := range deciles {
		if d.count == 0 {
			continue
		}
		meanBelief := d.beliefSum / float64(d.count)
		meanY := d.ySum / float64(d.count)
		weightedSum += math.Abs(meanBelief-meanY) * float64(d.count)
		totalWeight += d.count
	}
	if totalWeight == 0 {
		return 0
	}
	return weightedSum / float64(totalWeight)
}

// churnRate is the fraction of adjacent chronological pairs whose
// revealed YES-belief sign relative to 0.5 flips.
func churnRate(beliefs []float64) float64 {
	if len(beliefs) < 2 {
		return 0
	}
	flips := 0
	pairs := 0
	for i := 1; i < len(beliefs); i++ {
		prevPos := beliefs[i-1] >= 0.5
		curPos := beliefs[i] >= 0.5
		pairs++
		if prevPos != curPos {
			flips++
		}
	}
	if pairs == 0 {
		return 0
	}
	return float64(flips) / float64(pairs)
}

// specialization is 1 - H(cat)/log(K) over the wallet's full resolved
// category distribution, with an indicator boost applied to
// category-specific rows ((cat,*) and (cat,hz)) rewarding wallets
// whose overall activity concentrates in that row's category. See
// DESIGN.md for the resolution of spec §4.1's "indicator boost"
// ambiguity.
func specialization(key types.WalletBucketKey, walletCategories map[string]int) float64 {
	k := len(walletCategories)
	if k <= 1 {
		return boosted(1, key, walletCategories) // a single-category wallet is maximally specialized
	}
	total := 0
	for _, c := range walletCategories {
		total += c
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, c := range walletCategories {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		h -= p * math.Log(p)
	}
	base := 1 - h/math.Log(float64(k))
	return boosted(base, key, walletCategories)
}

func boosted(base float64, key types.WalletBucketKey, walletCategories map[string]int) float64 {
	if key.Category == types.AllBucket {
		return base
	}
	total := 0
	for _, c := range walletCategories {
		total += c
	}
	if total == 0 {
		return base
	}
	fractionInCat := float64(walletCategories[key.Category]) / float64(total)
	return base * (1 + fractionInCat)
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

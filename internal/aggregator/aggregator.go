// Package aggregator implements component A: for a market at instant
// T, combines per-wallet weighted beliefs into a crowd probability and
// its accompanying diagnostics (spec §4.4).
package aggregator

import (
	"context"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wisdomnet/crowdwisdom/internal/belief"
	"github.com/wisdomnet/crowdwisdom/internal/types"
)

// WeightLookup resolves a WalletWeight through the fallback chain of
// spec §4.4 Step 2: (cat,hz) -> (cat,*) -> (*,hz) -> (*,*). Callers
// supply a function over whatever storage they have; A never touches
// a Store itself. The bool reports whether key has a row;
// lookupWithFallback reports a miss only when every link in the chain
// misses, so callers can count MissingPriorContext.
type WeightLookup func(key types.WalletBucketKey) (types.WalletWeight, bool)

// Config is the subset of PipelineConfig the aggregator needs.
type Config struct {
	HalfLife           time.Duration
	MassScale          float64
	SupportScale       float64
	ParticipationHalf  float64
	DriversK           int
	FlowWindow         time.Duration
	PriceWindow        time.Duration
	MaxWorkers         int
}

// Input is everything A needs to produce one Snapshot, gathered by the
// pipeline ahead of time so that A stays a pure function.
type Input struct {
	Market   string
	Category string
	Horizon  types.HorizonBucket
	T        time.Time

	// Trades is every trade on Market with Timestamp <= T, chronological.
	Trades []types.Trade

	Lookup WeightLookup
}

// Result bundles the Snapshot with counters the pipeline needs to
// surface (spec §7): how many wallets hit the weight fallback chain's
// last-resort zero.
type Result struct {
	Snapshot             types.Snapshot
	MissingPriorContext  int
}

type participant struct {
	wallet string
	belief float64
	conf   float64
	churn  float64
	weight float64
	ew     float64
}

// Compute produces the Snapshot for one market at one instant,
// fanning the per-wallet pull (Step 2) and effective-weight
// computation (Step 3) out over an errgroup bounded by
// cfg.MaxWorkers, then reducing sequentially (Steps 4-7), since every
// diagnostic there needs the full weighted set.
func Compute(ctx context.Context, in Input, cfg Config) (Result, error) {
	wallets := activeWallets(in.Trades)
	tradesByWallet := groupByWallet(in.Trades)

	participants := make([]*participant, len(wallets))
	missing := make([]bool, len(wallets))

	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, w := range wallets {
		i, w := i, w
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			res, ok := belief.Compute(tradesByWallet[w], in.T, cfg.HalfLife, cfg.MassScale, cfg.SupportScale)
			if !ok {
				return nil // wallet traded only after T in this slice; shouldn't happen given Input's contract, but skip defensively
			}

			weight, miss := lookupWithFallback(in.Lookup, w, in.Category, string(in.Horizon))
			missing[i] = miss

			antiNoise := clamp(1-0.5*res.Churn, 0.5, 1)
			ew := weight.Weight * res.Confidence * antiNoise

			participants[i] = &participant{
				wallet: w,
				belief: res.Belief,
				conf:   res.Confidence,
				churn:  res.Churn,
				weight: weight.Weight,
				ew:     ew,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var live []*participant
	missingCount := 0
	for i, p := range participants {
		if p == nil {
			continue
		}
		if missing[i] {
			missingCount++
		}
		if p.ew > 0 {
			live = append(live, p)
		}
	}

	marketProb := marketProbability(in.Trades, in.T, cfg.PriceWindow)
	snap := reduce(in.Market, in.T, in.Category, marketProb, live, in.Trades, cfg)

	return Result{Snapshot: snap, MissingPriorContext: missingCount}, nil
}

func lookupWithFallback(lookup WeightLookup, wallet, category, horizon string) (types.WalletWeight, bool) {
	candidates := []types.WalletBucketKey{
		{Wallet: wallet, Category: category, Horizon: horizon},
		{Wallet: wallet, Category: category, Horizon: types.AllBucket},
		{Wallet: wallet, Category: types.AllBucket, Horizon: horizon},
		{Wallet: wallet, Category: types.AllBucket, Horizon: types.AllBucket},
	}
	for _, k := range candidates {
		if w, ok := lookup(k); ok {
			return w, false
		}
	}
	return types.WalletWeight{}, true
}

func reduce(market string, T time.Time, category string, marketProb float64, live []*participant, trades []types.Trade, cfg Config) types.Snapshot {
	snap := types.Snapshot{
		Market:     market,
		Instant:    T,
		MarketProb: marketProb,
	}
	snap.Flow = flowSummary(trades, T, cfg.FlowWindow)

	var ewSum float64
	for _, p := range live {
		ewSum += p.ew
	}

	if ewSum <= 0 {
		snap.CrowdProb = marketProb
		snap.Divergence = 0
		snap.Confidence = 0
		snap.Degenerate = true
		snap.ActiveWallets = 0
		return snap
	}

	var crowdNumer float64
	for _, p := range live {
		crowdNumer += p.ew * p.belief
	}
	crowdProb := crowdNumer / ewSum
	snap.CrowdProb = crowdProb
	snap.Divergence = crowdProb - marketProb
	snap.ActiveWallets = len(live)

	var disagreementNumer, ewSquaredSum, churnWeighted float64
	for _, p := range live {
		disagreementNumer += p.ew * (p.belief - crowdProb) * (p.belief - crowdProb)
		ewSquaredSum += (p.ew / ewSum) * (p.ew / ewSum)
		churnWeighted += (p.ew / ewSum) * p.churn
	}
	disagreement := clamp(clamp(disagreementNumer/ewSum, 0, 1)*4, 0, 1)
	snap.Disagreement = disagreement

	effectiveN := 1.0 / ewSquaredSum // (Sum ew)^2 / Sum ew^2, normalized form using shares
	participationQuality := effectiveN / (effectiveN + cfg.ParticipationHalf)
	snap.ParticipationQuality = participationQuality

	concentration := ewSquaredSum // Sum (ew/Sum ew)^2, the Herfindahl index
	integrityRisk := clamp(0.6*concentration+0.4*churnWeighted, 0, 1)
	snap.IntegrityRisk = integrityRisk

	supportHaircut := clamp(float64(len(live))/10, 0, 1)
	snap.Confidence = participationQuality * (1 - disagreement) * (1 - 0.5*integrityRisk) * supportHaircut

	snap.Drivers = drivers(live, ewSum, marketProb, cfg.DriversK)
	snap.Cohorts = nil // cohort grouping is not computed: it needs per-wallet category attribution beyond this market, and no caller fills it in

	return snap
}

func drivers(live []*participant, ewSum, marketProb float64, k int) []types.Driver {
	out := make([]types.Driver, 0, len(live))
	for _, p := range live {
		contribution := p.ew * (p.belief - marketProb) / ewSum
		out = append(out, types.Driver{
			Wallet:       p.wallet,
			Weight:       p.weight,
			Belief:       p.belief,
			Contribution: contribution,
		})
	}
	sort.Slice(out, func(i, j int) bool { return math.Abs(out[i].Contribution) > math.Abs(out[j].Contribution) })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

func flowSummary(trades []types.Trade, T time.Time, window time.Duration) types.FlowSummary {
	from := T.Add(-window)
	var net float64
	count := 0
	for _, t := range trades {
		if t.Timestamp.Before(from) || t.Timestamp.After(T) {
			continue
		}
		net += t.SideSign() * t.SizeFloat()
		count++
	}
	return types.FlowSummary{WindowHours: int(window.Hours()), NetYesSize: net, TradeCount: count}
}

// marketProbability is the weighted-mid of YES-equivalent prices over
// trades in [T-window, T]; falling back to the last observed
// YES-equivalent price at or before T, then 0.5 (spec §4.4 Step 5).
func marketProbability(trades []types.Trade, T time.Time, window time.Duration) float64 {
	from := T.Add(-window)
	var weighted, sizeSum float64
	var lastPrice float64
	haveLast := false

	for _, t := range trades {
		if t.Timestamp.After(T) {
			continue
		}
		yesPrice := yesEquivalentPrice(t)
		lastPrice = yesPrice
		haveLast = true
		if !t.Timestamp.Before(from) {
			size := t.SizeFloat()
			weighted += yesPrice * size
			sizeSum += size
		}
	}
	if sizeSum > 0 {
		return weighted / sizeSum
	}
	if haveLast {
		return lastPrice
	}
	return 0.5
}

// yesEquivalentPrice maps a trade's quoted price to the market's
// implied YES probability, independent of which side the trade was on
// (unlike YesBelief, which reflects what the wallet revealed).
func yesEquivalentPrice(t types.Trade) float64 {
	if t.Side == types.SideYes {
		return t.PriceFloat()
	}
	return 1 - t.PriceFloat()
}

func activeWallets(trades []types.Trade) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range trades {
		if !seen[t.Wallet] {
			seen[t.Wallet] = true
			out = append(out, t.Wallet)
		}
	}
	sort.Strings(out)
	return out
}

func groupByWallet(trades []types.Trade) map[string][]types.Trade {
	out := map[string][]types.Trade{}
	for _, t := range trades {
		out[t.Wallet] = append(out[t.Wallet], t)
	}
	return out
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

// Package pipeline orchestrates one end-to-end run: gather resolved
// observations, run F then W, build the weight lookup, sweep every
// market's snapshot, and optionally run the backtest driver (spec §5).
// It is the only package that wires the pure core (F/W/B/A/X) to a
// concrete store.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wisdomnet/crowdwisdom/internal/aggregator"
	"github.com/wisdomnet/crowdwisdom/internal/backtest"
	"github.com/wisdomnet/crowdwisdom/internal/config"
	"github.com/wisdomnet/crowdwisdom/internal/features"
	"github.com/wisdomnet/crowdwisdom/internal/store"
	"github.com/wisdomnet/crowdwisdom/internal/types"
	"github.com/wisdomnet/crowdwisdom/internal/weights"
)

// Result is what a completed run reports back to its caller (the CLI
// or the scheduled supervisor).
type Result struct {
	RunID    string
	Counters store.RunCounters
	Status   store.RunStatus
}

// Pipeline wires the pure core packages to a Store, with a circuit
// breaker guarding the store's bulk write calls: a struggling store
// should fail a run fast rather than let every subsequent write stall
// on the same dead connection.
type Pipeline struct {
	Store  store.Store
	Config config.PipelineConfig
	Log    zerolog.Logger

	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// New builds a Pipeline with a default circuit breaker (trips after 5
// consecutive write failures, half-opens after 30s) and a write-rate
// limiter sized off MaxWorkers, so a wide errgroup fan-out cannot burst
// the store with more concurrent writes than it configured workers for.
func New(st store.Store, cfg config.PipelineConfig, log zerolog.Logger) *Pipeline {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "store-writes",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
	burst := workers(cfg.MaxWorkers)
	limiter := rate.NewLimiter(rate.Limit(burst*20), burst)
	return &Pipeline{Store: st, Config: cfg, Log: log, breaker: breaker, limiter: limiter}
}

// Run executes one full pipeline pass: F, W, a snapshot for every
// market, and (when runBacktest is set) a single-cutoff backtest pass
// over every resolved market (spec §6.3's "run" kind).
func (p *Pipeline) Run(ctx context.Context, runBacktest bool) (Result, error) {
	runID, err := p.Store.PipelineRunBegin(ctx, "run")
	if err != nil {
		return Result{}, fmt.Errorf("pipeline run begin: %w", err)
	}
	counters := store.RunCounters{}

	markets, err := p.Store.ListMarkets(ctx)
	if err != nil {
		return p.fail(ctx, runID, counters, err)
	}

	horizons := p.Config.HorizonThresholds()

	obs, gatherCounters, err := p.gatherObservations(ctx, markets)
	if err != nil {
		return p.fail(ctx, runID, counters, err)
	}
	counters.MalformedInputRecords += gatherCounters.MalformedInputRecords

	metrics := features.Compute(obs, horizons)
	if err := p.writeBreaker(ctx, func() error { return p.Store.UpsertWalletMetrics(ctx, metrics) }); err != nil {
		return p.fail(ctx, runID, counters, err)
	}

	weightRows := weights.Compute(metrics, p.Config.PriorStrength)
	if err := p.writeBreaker(ctx, func() error { return p.Store.UpsertWalletWeights(ctx, weightRows) }); err != nil {
		return p.fail(ctx, runID, counters, err)
	}

	lookup := buildLookup(weightRows)

	snapCounters, err := p.snapshotAllMarkets(ctx, markets, lookup, time.Now())
	if err != nil {
		return p.fail(ctx, runID, counters, err)
	}
	counters.DegenerateMarkets += snapCounters.DegenerateMarkets
	counters.MissingPriorContext += snapCounters.MissingPriorContext
	counters.MarketsProcessed += snapCounters.MarketsProcessed
	counters.MarketsSkipped += snapCounters.MarketsSkipped

	if runBacktest {
		if _, err := p.runBacktestPass(ctx, markets, lookup, false); err != nil {
			return p.fail(ctx, runID, counters, err)
		}
	}

	if err := p.Store.PipelineRunEnd(ctx, runID, store.RunStatusSucceeded, counters); err != nil {
		return Result{}, fmt.Errorf("pipeline run end: %w", err)
	}
	return Result{RunID: runID, Counters: counters, Status: store.RunStatusSucceeded}, nil
}

func (p *Pipeline) fail(ctx context.Context, runID string, counters store.RunCounters, cause error) (Result, error) {
	p.Log.Error().Err(cause).Str("run_id", runID).Msg("pipeline run failed")
	if endErr := p.Store.PipelineRunEnd(ctx, runID, store.RunStatusFailed, counters); endErr != nil {
		p.Log.Error().Err(endErr).Msg("failed to record run failure")
	}
	return Result{RunID: runID, Counters: counters, Status: store.RunStatusFailed}, cause
}

func (p *Pipeline) writeBreaker(ctx context.Context, fn func() error) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("write rate limiter: %w", err)
	}
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// gatherObservations reads every resolved market's trades and pairs
// them with its outcome, fanning the per-market reads out over an
// errgroup bounded by MaxWorkers (spec §5).
func (p *Pipeline) gatherObservations(ctx context.Context, markets []types.Market) ([]features.Observation, store.RunCounters, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers(p.Config.MaxWorkers))

	perMarket := make([][]features.Observation, len(markets))
	var malformed int64

	for i, m := range markets {
		i, m := i, m
		g.Go(func() error {
			outcome, err := p.Store.GetOutcome(gctx, m.ID)
			if err != nil {
				return fmt.Errorf("get outcome %s: %w", m.ID, err)
			}
			if outcome == nil {
				return nil // unresolved market contributes nothing to F
			}
			trades, err := p.Store.ListTrades(gctx, m.ID, nil, nil)
			if err != nil {
				return fmt.Errorf("list trades %s: %w", m.ID, err)
			}
			rows := make([]features.Observation, 0, len(trades))
			for _, tr := range trades {
				if !tr.Valid() {
					malformed++
					continue
				}
				rows = append(rows, features.Observation{Trade: tr, Outcome: *outcome, Category: m.CategoryBucket()})
			}
			perMarket[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, store.RunCounters{}, err
	}

	var all []features.Observation
	for _, rows := range perMarket {
		all = append(all, rows...)
	}
	return all, store.RunCounters{MalformedInputRecords: int(malformed)}, nil
}

func buildLookup(rows []types.WalletWeight) aggregator.WeightLookup {
	index := make(map[types.WalletBucketKey]types.WalletWeight, len(rows))
	for _, r := range rows {
		index[r.Key] = r
	}
	return func(key types.WalletBucketKey) (types.WalletWeight, bool) {
		w, ok := index[key]
		return w, ok
	}
}

// snapshotAllMarkets computes and persists one Snapshot per market at
// instant T, fanning the per-market aggregator.Compute calls out over
// an errgroup bounded by MaxWorkers.
func (p *Pipeline) snapshotAllMarkets(ctx context.Context, markets []types.Market, lookup aggregator.WeightLookup, T time.Time) (store.RunCounters, error) {
	cfg := aggregator.Config{
		HalfLife:          p.Config.HalfLife(),
		MassScale:         p.Config.SignalMassScale,
		SupportScale:      p.Config.SupportScale,
		ParticipationHalf: p.Config.ParticipationHalf,
		DriversK:          p.Config.DriversK,
		FlowWindow:        p.Config.FlowWindow(),
		PriceWindow:       p.Config.PriceWindow(),
		MaxWorkers:        workers(p.Config.MaxWorkers),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers(p.Config.MaxWorkers))

	snapshots := make([]*types.Snapshot, len(markets))
	degenerate := make([]bool, len(markets))
	missing := make([]int, len(markets))

	for i, m := range markets {
		i, m := i, m
		g.Go(func() error {
			trades, err := p.Store.ListTrades(gctx, m.ID, nil, &T)
			if err != nil {
				return fmt.Errorf("list trades %s: %w", m.ID, err)
			}
			res, err := aggregator.Compute(gctx, aggregator.Input{
				Market:   m.ID,
				Category: m.CategoryBucket(),
				Horizon:  types.HorizonShort,
				T:        T,
				Trades:   trades,
				Lookup:   lookup,
			}, cfg)
			if err != nil {
				return fmt.Errorf("aggregate %s: %w", m.ID, err)
			}
			snap := res.Snapshot
			snapshots[i] = &snap
			degenerate[i] = snap.Degenerate
			missing[i] = res.MissingPriorContext
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return store.RunCounters{}, err
	}

	counters := store.RunCounters{}
	for i, snap := range snapshots {
		if snap == nil {
			counters.MarketsSkipped++
			continue
		}
		if err := p.writeBreaker(ctx, func() error { return p.Store.AppendSnapshot(ctx, *snap) }); err != nil {
			return store.RunCounters{}, err
		}
		counters.MarketsProcessed++
		counters.MissingPriorContext += missing[i]
		if degenerate[i] {
			counters.DegenerateMarkets++
		}
	}
	return counters, nil
}

// RunBacktest runs the backtest driver standalone: it rebuilds the
// wallet weights from a fresh F/W pass (without persisting them or
// snapshotting), then runs either a single cutoff
// (p.Config.BacktestCutoffHours) or a sweep across 1..BacktestMaxHours
// when sweep is true (spec §6.3's "backtest" kind).
func (p *Pipeline) RunBacktest(ctx context.Context, sweep bool) ([]types.BacktestReport, error) {
	markets, err := p.Store.ListMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}

	horizons := p.Config.HorizonThresholds()
	obs, _, err := p.gatherObservations(ctx, markets)
	if err != nil {
		return nil, fmt.Errorf("gather observations: %w", err)
	}
	metrics := features.Compute(obs, horizons)
	weightRows := weights.Compute(metrics, p.Config.PriorStrength)
	lookup := buildLookup(weightRows)

	return p.runBacktestPass(ctx, markets, lookup, sweep)
}

// runBacktestPass runs the backtest driver (a single cutoff, or a sweep
// across 1..BacktestMaxHours when sweep is set) over every resolved
// market, replaying the aggregator at each market's cutoff instant against
// the given weight lookup, and persists every resulting report.
func (p *Pipeline) runBacktestPass(ctx context.Context, markets []types.Market, lookup aggregator.WeightLookup, sweep bool) ([]types.BacktestReport, error) {
	byID := make(map[string]types.Market, len(markets))
	for _, m := range markets {
		byID[m.ID] = m
	}

	var inputs []backtest.MarketInput
	for _, m := range markets {
		outcome, err := p.Store.GetOutcome(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("get outcome %s: %w", m.ID, err)
		}
		if outcome == nil {
			continue
		}
		trades, err := p.Store.ListTrades(ctx, m.ID, nil, nil)
		if err != nil || len(trades) == 0 {
			continue
		}
		inputs = append(inputs, backtest.MarketInput{
			Market:            m.ID,
			ResolutionTime:    outcome.ResolutionTime,
			ResolvedOutcome:   outcome.ResolvedOutcome,
			EarliestTradeTime: trades[0].Timestamp,
		})
	}

	cfg := aggregator.Config{
		HalfLife:          p.Config.HalfLife(),
		MassScale:         p.Config.SignalMassScale,
		SupportScale:      p.Config.SupportScale,
		ParticipationHalf: p.Config.ParticipationHalf,
		DriversK:          p.Config.DriversK,
		FlowWindow:        p.Config.FlowWindow(),
		PriceWindow:       p.Config.PriceWindow(),
		MaxWorkers:        workers(p.Config.MaxWorkers),
	}

	snapshotFn := func(ctx context.Context, market string, t time.Time) (types.Snapshot, error) {
		trades, err := p.Store.ListTrades(ctx, market, nil, &t)
		if err != nil {
			return types.Snapshot{}, err
		}
		category := types.AllBucket
		if mkt, ok := byID[market]; ok {
			category = mkt.CategoryBucket()
		}
		res, err := aggregator.Compute(ctx, aggregator.Input{
			Market: market, Category: category, Horizon: types.HorizonShort, T: t, Trades: trades, Lookup: lookup,
		}, cfg)
		if err != nil {
			return types.Snapshot{}, err
		}
		return res.Snapshot, nil
	}

	var (
		reports []types.BacktestReport
		err     error
	)
	if sweep {
		reports, err = backtest.Sweep(ctx, p.Config.BacktestMaxHours, inputs, snapshotFn, p.Config.EdgeBucketBounds)
	} else {
		var report types.BacktestReport
		report, err = backtest.RunCutoff(ctx, p.Config.BacktestCutoffHours, inputs, snapshotFn, p.Config.EdgeBucketBounds)
		reports = []types.BacktestReport{report}
	}
	if err != nil {
		return nil, err
	}

	for _, report := range reports {
		report := report
		if err := p.writeBreaker(ctx, func() error { return p.Store.InsertBacktestReport(ctx, report) }); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

func workers(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

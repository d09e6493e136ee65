// Package memory is an in-memory Store implementation (spec §6.1). It
// is the store used by the pipeline, cache, httpapi and tui tests; it
// is not meant for production use.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wisdomnet/crowdwisdom/internal/store"
	"github.com/wisdomnet/crowdwisdom/internal/types"
)

// Store is a mutex-protected, map-backed Store. A single instance
// gives every caller within a run the same consistent read view,
// since all mutation happens through its own Insert/Seed methods
// called before a run begins (spec §5: the core never writes to
// Trades/Outcomes itself).
type Store struct {
	mu sync.RWMutex

	markets  map[string]types.Market
	trades   map[string][]types.Trade // by market
	outcomes map[string]types.Outcome // by market

	walletMetrics map[types.WalletBucketKey]types.WalletMetric
	walletWeights map[types.WalletBucketKey]types.WalletWeight
	snapshots     map[string][]types.Snapshot // by market, instant order
	backtests     map[string]types.BacktestReport

	runs map[string]string // runID -> kind, not otherwise inspected
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		markets:       make(map[string]types.Market),
		trades:        make(map[string][]types.Trade),
		outcomes:      make(map[string]types.Outcome),
		walletMetrics: make(map[types.WalletBucketKey]types.WalletMetric),
		walletWeights: make(map[types.WalletBucketKey]types.WalletWeight),
		snapshots:     make(map[string][]types.Snapshot),
		backtests:     make(map[string]types.BacktestReport),
		runs:          make(map[string]string),
	}
}

// SeedMarket registers a market (test/fixture helper, not part of Store).
func (s *Store) SeedMarket(m types.Market) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.ID] = m
}

// SeedTrade inserts a trade in chronological position (test/fixture
// helper, not part of Store).
func (s *Store) SeedTrade(t types.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.trades[t.Market]
	idx := sort.Search(len(list), func(i int) bool { return list[i].Timestamp.After(t.Timestamp) })
	list = append(list, types.Trade{})
	copy(list[idx+1:], list[idx:])
	list[idx] = t
	s.trades[t.Market] = list
}

// SeedOutcome registers an outcome (test/fixture helper, not part of Store).
func (s *Store) SeedOutcome(o types.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[o.Market] = o
}

func (s *Store) ListMarkets(ctx context.Context) ([]types.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListTrades(ctx context.Context, market string, tFrom, tTo *time.Time) ([]types.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Trade
	for _, t := range s.trades[market] {
		if tFrom != nil && t.Timestamp.Before(*tFrom) {
			continue
		}
		if tTo != nil && t.Timestamp.After(*tTo) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) ListResolvedTradesForWallet(ctx context.Context, wallet string, category, horizon *string) ([]store.ResolvedTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.ResolvedTrade
	for marketID, trades := range s.trades {
		outcome, ok := s.outcomes[marketID]
		if !ok {
			continue
		}
		mkt := s.markets[marketID]
		for _, t := range trades {
			if t.Wallet != wallet {
				continue
			}
			if category != nil && mkt.CategoryBucket() != *category {
				continue
			}
			out = append(out, store.ResolvedTrade{Trade: t, Outcome: outcome})
		}
	}
	_ = horizon // horizon bucket depends on resolution time vs trade time; computed by caller (F)
	sort.Slice(out, func(i, j int) bool { return out[i].Trade.Timestamp.Before(out[j].Trade.Timestamp) })
	return out, nil
}

func (s *Store) GetOutcome(ctx context.Context, market string) (*types.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.outcomes[market]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *Store) UpsertWalletMetrics(ctx context.Context, rows []types.WalletMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.walletMetrics[r.Key] = r
	}
	return nil
}

func (s *Store) UpsertWalletWeights(ctx context.Context, rows []types.WalletWeight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.walletWeights[r.Key] = r
	}
	return nil
}

// LookupWalletWeight implements the W-row fallback chain used by the
// aggregator (spec §4.4 Step 2): (cat,hz) -> (cat,*) -> (*,hz) -> (*,*).
func (s *Store) LookupWalletWeight(wallet, category, horizon string) (types.WalletWeight, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	candidates := []types.WalletBucketKey{
		{Wallet: wallet, Category: category, Horizon: horizon},
		{Wallet: wallet, Category: category, Horizon: types.AllBucket},
		{Wallet: wallet, Category: types.AllBucket, Horizon: horizon},
		{Wallet: wallet, Category: types.AllBucket, Horizon: types.AllBucket},
	}
	for _, k := range candidates {
		if w, ok := s.walletWeights[k]; ok {
			return w, true
		}
	}
	return types.WalletWeight{}, false
}

func (s *Store) AppendSnapshot(ctx context.Context, row types.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.snapshots[row.Market]
	if len(list) > 0 && !row.Instant.After(list[len(list)-1].Instant) {
		return fmt.Errorf("snapshot instant %s not monotonically after prior instant %s for market %s", row.Instant, list[len(list)-1].Instant, row.Market)
	}
	s.snapshots[row.Market] = append(list, row)
	return nil
}

func (s *Store) ListSnapshots(ctx context.Context, market string, tFrom, tTo *time.Time) ([]types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Snapshot
	for _, snap := range s.snapshots[market] {
		if tFrom != nil && snap.Instant.Before(*tFrom) {
			continue
		}
		if tTo != nil && snap.Instant.After(*tTo) {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *Store) LatestSnapshot(ctx context.Context, market string) (*types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.snapshots[market]
	if len(list) == 0 {
		return nil, nil
	}
	snap := list[len(list)-1]
	return &snap, nil
}

func (s *Store) InsertBacktestReport(ctx context.Context, row types.BacktestReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backtests[row.RunID] = row
	return nil
}

func (s *Store) GetBacktestReport(ctx context.Context, runID string) (*types.BacktestReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.backtests[runID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *Store) PipelineRunBegin(ctx context.Context, kind string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.runs[id] = kind
	return id, nil
}

func (s *Store) PipelineRunEnd(ctx context.Context, runID string, status store.RunStatus, counters store.RunCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("unknown run id %s", runID)
	}
	return nil
}

var _ store.Store = (*Store)(nil)

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisdomnet/crowdwisdom/internal/config"
	"github.com/wisdomnet/crowdwisdom/internal/store"
	"github.com/wisdomnet/crowdwisdom/internal/store/memory"
	"github.com/wisdomnet/crowdwisdom/internal/types"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func seedBasicFixture(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New()
	now := time.Now().Add(-time.Hour)

	st.SeedMarket(types.Market{ID: "resolved-1", Question: "q1", Category: "politics", EndTime: now.Add(-48 * time.Hour)})
	st.SeedOutcome(types.Outcome{Market: "resolved-1", ResolvedOutcome: 1, ResolutionTime: now.Add(-48 * time.Hour)})
	st.SeedTrade(types.Trade{ExternalID: "r1a", Market: "resolved-1", Wallet: "wallet-a", Timestamp: now.Add(-96 * time.Hour), Side: types.SideYes, Action: types.ActionBuy, Price: mustDecimal(t, "0.60"), Size: mustDecimal(t, "10")})
	st.SeedTrade(types.Trade{ExternalID: "r1b", Market: "resolved-1", Wallet: "wallet-b", Timestamp: now.Add(-72 * time.Hour), Side: types.SideNo, Action: types.ActionBuy, Price: mustDecimal(t, "0.30"), Size: mustDecimal(t, "5")})

	st.SeedMarket(types.Market{ID: "live-1", Question: "q2", Category: "sports", EndTime: now.Add(72 * time.Hour)})
	st.SeedTrade(types.Trade{ExternalID: "l1a", Market: "live-1", Wallet: "wallet-a", Timestamp: now.Add(-1 * time.Hour), Side: types.SideYes, Action: types.ActionBuy, Price: mustDecimal(t, "0.65"), Size: mustDecimal(t, "8")})
	st.SeedTrade(types.Trade{ExternalID: "l1b", Market: "live-1", Wallet: "wallet-b", Timestamp: now.Add(-30 * time.Minute), Side: types.SideYes, Action: types.ActionBuy, Price: mustDecimal(t, "0.55"), Size: mustDecimal(t, "4")})

	return st
}

func TestRun_ProducesSnapshotsAndWeights(t *testing.T) {
	st := seedBasicFixture(t)
	cfg := config.Default()
	p := New(st, cfg, zerolog.Nop())

	res, err := p.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusSucceeded, res.Status)
	assert.Equal(t, 2, res.Counters.MarketsProcessed)

	snap, err := st.LatestSnapshot(context.Background(), "live-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.GreaterOrEqual(t, snap.CrowdProb, 0.0)
	assert.LessOrEqual(t, snap.CrowdProb, 1.0)

	_, ok := st.LookupWalletWeight("wallet-a", types.AllBucket, types.AllBucket)
	assert.True(t, ok, "the run should persist wallet weights")
}

func TestRun_WithBacktestSucceeds(t *testing.T) {
	st := seedBasicFixture(t)
	cfg := config.Default()
	cfg.BacktestCutoffHours = 12
	p := New(st, cfg, zerolog.Nop())

	res, err := p.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusSucceeded, res.Status)
}

func TestRun_EmptyStoreSucceedsWithZeroCounters(t *testing.T) {
	st := memory.New() // empty store, zero markets: the run should still succeed with zero counters
	cfg := config.Default()
	p := New(st, cfg, zerolog.Nop())

	res, err := p.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Counters.MarketsProcessed)
}

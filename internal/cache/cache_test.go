package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisdomnet/crowdwisdom/internal/store/memory"
	"github.com/wisdomnet/crowdwisdom/internal/types"
)

// unreachableClient points at a port nothing listens on, so every Redis
// call degrades exactly like a cache-miss/outage would in production:
// no live Redis server is needed to exercise the fallback path.
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
}

func TestLatestSnapshot_FallsThroughToStoreOnCacheMiss(t *testing.T) {
	st := memory.New()
	st.SeedMarket(types.Market{ID: "m1", Question: "q"})
	require.NoError(t, st.AppendSnapshot(context.Background(), types.Snapshot{Market: "m1", Instant: time.Now(), CrowdProb: 0.42}))

	c := New(st, unreachableClient(), time.Minute)
	snap, err := c.LatestSnapshot(context.Background(), "m1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 0.42, snap.CrowdProb)
}

func TestLatestSnapshot_NoSnapshotReturnsNil(t *testing.T) {
	st := memory.New()
	st.SeedMarket(types.Market{ID: "m1", Question: "q"})

	c := New(st, unreachableClient(), time.Minute)
	snap, err := c.LatestSnapshot(context.Background(), "m1")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestAppendSnapshot_WritesThroughToStore(t *testing.T) {
	st := memory.New()
	st.SeedMarket(types.Market{ID: "m1", Question: "q"})

	c := New(st, unreachableClient(), time.Minute)
	require.NoError(t, c.AppendSnapshot(context.Background(), types.Snapshot{Market: "m1", Instant: time.Now(), CrowdProb: 0.7}))

	snap, err := st.LatestSnapshot(context.Background(), "m1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 0.7, snap.CrowdProb)
}

func TestNew_DefaultsZeroTTL(t *testing.T) {
	st := memory.New()
	c := New(st, unreachableClient(), 0)
	assert.Equal(t, 30*time.Second, c.ttl)
}

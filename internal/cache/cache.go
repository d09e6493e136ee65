// Package cache fronts the store's snapshot reads with a
// redis/go-redis/v9 read-through cache of each market's latest
// snapshot, keyed by market.
// It is an optimization over Store.LatestSnapshot/AppendSnapshot, not
// a dependency the core ever sees.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wisdomnet/crowdwisdom/internal/store"
	"github.com/wisdomnet/crowdwisdom/internal/types"
)

// SnapshotCache wraps a store.Store, serving LatestSnapshot out of
// Redis when present and falling through to the underlying store (and
// repopulating the cache) on a miss.
type SnapshotCache struct {
	store.Store
	rdb *redis.Client
	ttl time.Duration
}

// New wraps st with a Redis-backed cache of the given TTL.
func New(st store.Store, rdb *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SnapshotCache{Store: st, rdb: rdb, ttl: ttl}
}

func latestKey(market string) string { return fmt.Sprintf("crowdwisdom:snapshot:latest:%s", market) }

// LatestSnapshot overrides the embedded Store's method with a
// read-through cache lookup.
func (c *SnapshotCache) LatestSnapshot(ctx context.Context, market string) (*types.Snapshot, error) {
	key := latestKey(market)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var snap types.Snapshot
		if jsonErr := json.Unmarshal(raw, &snap); jsonErr == nil {
			return &snap, nil
		}
		// fall through to the store on a corrupt cache entry
	} else if err != redis.Nil {
		// a Redis error degrades to a direct store read rather than failing the request
	}

	snap, err := c.Store.LatestSnapshot(ctx, market)
	if err != nil || snap == nil {
		return snap, err
	}
	if raw, err := json.Marshal(snap); err == nil {
		_ = c.rdb.Set(ctx, key, raw, c.ttl).Err()
	}
	return snap, nil
}

// AppendSnapshot writes through to the underlying store and then
// invalidates the cached latest-snapshot entry so the next read is
// not stale.
func (c *SnapshotCache) AppendSnapshot(ctx context.Context, row types.Snapshot) error {
	if err := c.Store.AppendSnapshot(ctx, row); err != nil {
		return err
	}
	// the write-through succeeded regardless of whether invalidation
	// does; a Redis outage here should surface as a stale read, not a
	// failed write
	_ = c.rdb.Del(ctx, latestKey(row.Market)).Err()
	return nil
}

var _ store.Store = (*SnapshotCache)(nil)

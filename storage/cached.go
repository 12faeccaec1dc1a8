package storage

import (
	"context"

	"github.com/gogpu/terra/internal/cache"
	"github.com/gogpu/terra/internal/metrics"
	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
)

// Cached keeps recently read and written tiles in memory in front of a
// slower store. Missing tiles are not cached.
type Cached struct {
	Store
	tiles *cache.Sharded[tileKey, []byte]
}

// NewCached wraps s with an LRU holding up to budget bytes of tile data.
// Closing the result closes s.
func NewCached(s Store, budget int64) *Cached {
	return &Cached{
		Store: s,
		tiles: cache.NewSharded[tileKey, []byte](budget, hashTileKey, func(b []byte) int64 { return int64(len(b)) }),
	}
}

func hashTileKey(k tileKey) uint64 {
	// Siblings differ in the low x and y bits; mix them into the shard bits.
	h := uint64(k.node) * 0x9e3779b97f4a7c15
	return h>>32 ^ h ^ uint64(k.layer)
}

// ReadTile returns the tile from memory when present. The returned slice
// is shared and must not be modified.
func (c *Cached) ReadTile(ctx context.Context, t layer.Type, node quadtree.VNode) ([]byte, bool, error) {
	key := tileKey{t, node}
	if data, ok := c.tiles.Get(key); ok {
		metrics.StoreCacheLookups.WithLabelValues("hit").Inc()
		return data, true, nil
	}
	metrics.StoreCacheLookups.WithLabelValues("miss").Inc()

	data, found, err := c.Store.ReadTile(ctx, t, node)
	if err != nil || !found {
		return data, found, err
	}
	c.tiles.Set(key, data)
	return data, true, nil
}

// WriteTile writes through and caches a copy of data.
func (c *Cached) WriteTile(ctx context.Context, t layer.Type, node quadtree.VNode, data []byte) error {
	key := tileKey{t, node}
	if err := c.Store.WriteTile(ctx, t, node, data); err != nil {
		c.tiles.Delete(key)
		return err
	}
	c.tiles.Set(key, append([]byte(nil), data...))
	return nil
}

// Stats returns the counters of the in-memory cache.
func (c *Cached) Stats() cache.ShardedStats { return c.tiles.Stats() }

// Package cache provides the per-level slot table of the tile cache and
// the LRU that keeps recently read tiles in front of slow stores.
//
// # PriorityCache[K, V]
//
// A fixed-capacity table whose residents are chosen purely by priority.
// Updates happen in bulk once per frame:
//
//	c.UpdatePriorities(priorityOf)      // rescore residents
//	c.AddMissing(node, p)               // queue candidates
//	evicted := c.LoadMissing(newEntry)  // merge, sort, keep top capacity
//
// Between LoadMissing calls slot indices are stable.
//
// # Sharded[K, V]
//
// A weight-budgeted LRU split into ShardCount independently locked shards,
// used by storage.Cached from the stream workers.
//
// # Thread Safety
//
// PriorityCache is not safe for concurrent use. The tile cache only touches
// it from the frame goroutine. Sharded is safe for concurrent use.
package cache

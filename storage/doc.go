// Package storage persists tile data keyed by layer and quadtree node.
//
// All backends implement [Store]. [Open] selects one from a [Config]:
//
//	memory  in-process map, for tests and seeded demos
//	file    one file per tile under a root directory
//	badger  embedded key-value store
//	sqlite  single-file database with goose migrations
//	redis   shared cache with an optional TTL
//
// Any of them can be wrapped in [Compressed] to store tiles zstd-encoded,
// and in [Cached] to keep recently used tiles in memory.
package storage

// Package generate defines the tile generators and the per-frame context
// they record GPU work into.
//
// A generator declares, per target level, which layers it writes and which
// layers it reads from the target, its parent and an ancestor. The tile
// cache uses those masks to schedule generators; the generators themselves
// only record dispatches.
//
// Every generator ships as WGSL for GPU backends and as a CPU kernel run by
// the software backend. Both read the same 256-byte [TileUniforms] record.
package generate

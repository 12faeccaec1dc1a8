// Package readback copies generated heightmaps back to the CPU so height
// queries can run without the GPU.
//
// The frame goroutine submits mapped-buffer futures and later drains
// decoded [Heightmap] values; a worker goroutine awaits the futures in
// whatever order they finish.
package readback

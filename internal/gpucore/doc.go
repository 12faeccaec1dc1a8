// Package gpucore defines the GPU device abstraction used by the tile cache.
//
// Resources are named by opaque IDs ([BufferID], [TextureID], ...) so the
// cache never holds backend objects directly. Backends live under
// backend/: a CPU implementation that runs each shader's [Kernel], and a
// native implementation on top of gogpu/wgpu.
package gpucore

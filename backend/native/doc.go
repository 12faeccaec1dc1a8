// Package native implements gpucore.Device on top of gogpu/wgpu's HAL.
//
// The device opens a Vulkan adapter, preferring a discrete or integrated
// GPU. WGSL is compiled to SPIR-V with naga. Texture arrays are storage
// buffers holding one 32-bit aligned element per texel, which is how the
// tile generation shaders address them.
//
// Importing the package registers the "native" backend. Build with the
// nogpu tag to leave it out.
package native

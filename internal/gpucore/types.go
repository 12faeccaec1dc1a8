package gpucore

import (
	"errors"

	"github.com/gogpu/gputypes"
)

// Resource IDs are opaque handles. InvalidID (zero) never names a resource.
type (
	BufferID          uint64
	TextureID         uint64
	ShaderModuleID    uint64
	ComputePipelineID uint64
	BindGroupID       uint64
)

// InvalidID is the zero handle.
const InvalidID = 0

// ErrInvalidID is returned when an operation names a resource that does not
// exist or was destroyed.
var ErrInvalidID = errors.New("gpucore: invalid resource id")

// BufferUsage describes how a buffer is used.
type BufferUsage = gputypes.BufferUsage

// Buffer usage flags, re-exported for backends and callers.
const (
	BufferUsageMapRead = gputypes.BufferUsageMapRead
	BufferUsageCopySrc = gputypes.BufferUsageCopySrc
	BufferUsageCopyDst = gputypes.BufferUsageCopyDst
	BufferUsageUniform = gputypes.BufferUsageUniform
	BufferUsageStorage = gputypes.BufferUsageStorage
)

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// TextureDesc describes a 2D texture array. Every array layer is Height
// rows of RowBytes tightly packed bytes.
type TextureDesc struct {
	Label    string
	Width    uint32
	Height   uint32
	Layers   uint32
	RowBytes uint32
	Format   gputypes.TextureFormat
}

// LayerBytes returns the size of one array layer.
func (d TextureDesc) LayerBytes() uint64 { return uint64(d.RowBytes) * uint64(d.Height) }

// ShaderModuleDesc describes a compute shader. WGSL is used by GPU
// backends; Kernel is the CPU implementation used by the software backend.
type ShaderModuleDesc struct {
	Label  string
	WGSL   string
	Kernel Kernel
}

// BindingType is the kind of resource bound at one binding slot.
type BindingType uint8

const (
	// BindingUniform is a uniform buffer bound with a dynamic offset.
	BindingUniform BindingType = iota
	BindingStorageBuffer
	BindingReadOnlyStorageBuffer
	// BindingTextureArray is a whole texture array, readable and writable.
	BindingTextureArray
)

// BindingLayout declares one binding of a compute pipeline.
type BindingLayout struct {
	Binding uint32
	Type    BindingType
	// Size is the bound window for uniform bindings.
	Size uint64
}

// ComputePipelineDesc describes a compute pipeline with a single bind group.
type ComputePipelineDesc struct {
	Label    string
	Module   ShaderModuleID
	Bindings []BindingLayout
}

// BindGroupEntry binds one resource. Exactly one of Buffer and Texture is
// set.
type BindGroupEntry struct {
	Binding uint32
	Buffer  BufferID
	Offset  uint64
	Size    uint64
	Texture TextureID
}

// BindGroupDesc describes a bind group for a pipeline's layout.
type BindGroupDesc struct {
	Label    string
	Pipeline ComputePipelineID
	Entries  []BindGroupEntry
}

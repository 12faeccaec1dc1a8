package generate

import (
	"fmt"

	"github.com/gogpu/terra/internal/gpucore"
	"github.com/gogpu/terra/layer"
)

// Resources owns the GPU objects generators read and write: one texture
// array per texture layer, the mesh buffer holding indirect draw records
// and the per-frame uniform buffer.
type Resources struct {
	Device      gpucore.Device
	Layers      *layer.Table
	Slots       SlotLayout
	Textures    [layer.Count]gpucore.TextureID
	MeshBuffer  gpucore.BufferID
	MeshOffsets [layer.Count]uint64
	// MeshClear is a zeroed buffer of layer.MeshRecordSize bytes.
	MeshClear     gpucore.BufferID
	UniformBuffer gpucore.BufferID

	uniforms *UniformWriter
}

// NewResources allocates resources for table with the given per-level slot
// capacities. uniformRecords bounds the number of Generate calls per frame.
func NewResources(dev gpucore.Device, table *layer.Table, capacities []int, uniformRecords int) (*Resources, error) {
	r := &Resources{
		Device:   dev,
		Layers:   table,
		Slots:    NewSlotLayout(capacities),
		uniforms: NewUniformWriter(max(uniformRecords, 1)),
	}
	if err := r.allocate(); err != nil {
		r.Release()
		return nil, err
	}
	return r, nil
}

func (r *Resources) allocate() error {
	for i := range r.Layers {
		p := r.Layers[i]
		if p.Mesh {
			continue
		}
		rows := (p.Resolution + p.Format.BlockSize() - 1) / p.Format.BlockSize()
		id, err := r.Device.CreateTextureArray(gpucore.TextureDesc{
			Label:    layer.Type(i).String(),
			Width:    p.Resolution,
			Height:   rows,
			Layers:   uint32(r.Slots.LayerSlots(p)),
			RowBytes: p.Format.RowBytes(p.Resolution),
			Format:   p.Format.GPUFormat(),
		})
		if err != nil {
			return fmt.Errorf("create %s texture array: %w", layer.Type(i), err)
		}
		r.Textures[i] = id
	}

	var size uint64
	r.MeshOffsets, size = r.Slots.MeshOffsets(r.Layers)
	var err error
	r.MeshBuffer, err = r.Device.CreateBuffer(gpucore.BufferDesc{
		Label: "mesh records",
		Size:  max(size, layer.MeshRecordSize),
		Usage: gpucore.BufferUsageStorage | gpucore.BufferUsageCopyDst | gpucore.BufferUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("create mesh buffer: %w", err)
	}
	r.MeshClear, err = r.Device.CreateBuffer(gpucore.BufferDesc{
		Label: "mesh clear",
		Size:  layer.MeshRecordSize,
		Usage: gpucore.BufferUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("create mesh clear buffer: %w", err)
	}
	r.UniformBuffer, err = r.Device.CreateBuffer(gpucore.BufferDesc{
		Label: "tile uniforms",
		Size:  uint64(r.uniforms.Size()),
		Usage: gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create uniform buffer: %w", err)
	}
	return nil
}

// Begin starts recording a frame.
func (r *Resources) Begin(label string) *Context {
	r.uniforms.Reset()
	return &Context{
		Resources: r,
		Encoder:   r.Device.CreateCommandEncoder(label),
		Uniforms:  r.uniforms,
	}
}

// Submit uploads the frame's uniform records and submits its encoder.
func (r *Resources) Submit(ctx *Context) error {
	if data := ctx.Uniforms.Bytes(); len(data) > 0 {
		r.Device.WriteBuffer(r.UniformBuffer, 0, data)
	}
	if err := r.Device.Submit(ctx.Encoder); err != nil {
		return fmt.Errorf("submit frame: %w", err)
	}
	return nil
}

// Release destroys all resources.
func (r *Resources) Release() {
	for i, id := range r.Textures {
		if id != gpucore.InvalidID {
			r.Device.DestroyTexture(id)
			r.Textures[i] = gpucore.InvalidID
		}
	}
	for _, id := range []*gpucore.BufferID{&r.MeshBuffer, &r.MeshClear, &r.UniformBuffer} {
		if *id != gpucore.InvalidID {
			r.Device.DestroyBuffer(*id)
			*id = gpucore.InvalidID
		}
	}
}

//go:build !nogpu

package native

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/terra/internal/gpucore"
)

// command is one recorded operation, encoded by Device.Submit under the
// device lock.
type command struct {
	dispatch bool
	encode   func(d *Device, he hal.CommandEncoder, res *submission) error
}

// encoder records commands until Device.Submit encodes them into a HAL
// command buffer.
type encoder struct {
	label     string
	commands  []command
	submitted bool
}

func (e *encoder) record(cmd command) {
	if e.submitted {
		panic(fmt.Sprintf("native: encoder %q used after submit", e.label))
	}
	e.commands = append(e.commands, cmd)
}

// Dispatch runs one compute pass. The uniform binding is realized at
// uniformOffset, so each dispatch gets its own HAL bind group.
func (e *encoder) Dispatch(pipelineID gpucore.ComputePipelineID, groupID gpucore.BindGroupID, uniformOffset uint32, x, y, z uint32) {
	e.record(command{dispatch: true, encode: func(d *Device, he hal.CommandEncoder, res *submission) error {
		p, ok := d.pipelines[pipelineID]
		if !ok {
			return fmt.Errorf("dispatch pipeline %d: %w", pipelineID, gpucore.ErrInvalidID)
		}
		desc, ok := d.groups[groupID]
		if !ok {
			return fmt.Errorf("dispatch bind group %d: %w", groupID, gpucore.ErrInvalidID)
		}
		bg, err := d.realizeGroup(p, desc, uniformOffset)
		if err != nil {
			return fmt.Errorf("bind group %q: %w", desc.Label, err)
		}
		res.bindGroups = append(res.bindGroups, bg)

		pass := he.BeginComputePass(&hal.ComputePassDescriptor{Label: p.desc.Label})
		pass.SetPipeline(p.hal)
		pass.SetBindGroup(0, bg, nil)
		pass.Dispatch(x, y, z)
		pass.End()
		return nil
	}})
}

func (e *encoder) CopyBufferToBuffer(src gpucore.BufferID, srcOffset uint64, dst gpucore.BufferID, dstOffset uint64, size uint64) {
	e.record(command{encode: func(d *Device, he hal.CommandEncoder, _ *submission) error {
		s, ok := d.buffers[src]
		if !ok {
			return fmt.Errorf("copy source buffer %d: %w", src, gpucore.ErrInvalidID)
		}
		t, ok := d.buffers[dst]
		if !ok {
			return fmt.Errorf("copy destination buffer %d: %w", dst, gpucore.ErrInvalidID)
		}
		if srcOffset+size > s.desc.Size || dstOffset+size > t.desc.Size {
			return fmt.Errorf("copy of %d bytes out of bounds", size)
		}
		he.CopyBufferToBuffer(s.hal, t.hal, []hal.BufferCopy{
			{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size},
		})
		return nil
	}})
}

// CopyTextureToBuffer copies one layer row by row. Only layers whose GPU
// texels are tightly packed can be copied.
func (e *encoder) CopyTextureToBuffer(src gpucore.TextureID, layer uint32, dst gpucore.BufferID, bytesPerRow uint32) {
	e.record(command{encode: func(d *Device, he hal.CommandEncoder, _ *submission) error {
		t, ok := d.textures[src]
		if !ok {
			return fmt.Errorf("copy source texture %d: %w", src, gpucore.ErrInvalidID)
		}
		b, ok := d.buffers[dst]
		if !ok {
			return fmt.Errorf("copy destination buffer %d: %w", dst, gpucore.ErrInvalidID)
		}
		if layer >= t.desc.Layers {
			return fmt.Errorf("copy layer %d of %q (%d layers)", layer, t.desc.Label, t.desc.Layers)
		}
		if !t.layout.packed() {
			return fmt.Errorf("copy from %q: %d byte texels are padded on the GPU", t.desc.Label, t.layout.texel)
		}
		row := t.layout.rowBytes()
		if uint64(bytesPerRow) < row {
			return fmt.Errorf("copy from %q: %d bytes per row, need %d", t.desc.Label, bytesPerRow, row)
		}
		if uint64(t.desc.Height-1)*uint64(bytesPerRow)+row > b.desc.Size {
			return fmt.Errorf("copy from %q overflows %q", t.desc.Label, b.desc.Label)
		}

		base := uint64(layer) * t.layout.layerBytes()
		regions := make([]hal.BufferCopy, 0, t.desc.Height)
		if uint64(bytesPerRow) == row {
			regions = append(regions, hal.BufferCopy{SrcOffset: base, Size: t.layout.layerBytes()})
		} else {
			for y := range uint64(t.desc.Height) {
				regions = append(regions, hal.BufferCopy{
					SrcOffset: base + y*row,
					DstOffset: y * uint64(bytesPerRow),
					Size:      row,
				})
			}
		}
		he.CopyBufferToBuffer(t.hal, b.hal, regions)
		return nil
	}})
}

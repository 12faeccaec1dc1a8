package software

import (
	"fmt"

	"github.com/gogpu/terra/internal/gpucore"
)

// encoder records commands as closures executed by Device.Submit under the
// device lock.
type encoder struct {
	label     string
	commands  []func(d *Device) error
	submitted bool
}

func (e *encoder) record(cmd func(d *Device) error) {
	if e.submitted {
		panic(fmt.Sprintf("software: encoder %q used after submit", e.label))
	}
	e.commands = append(e.commands, cmd)
}

func (e *encoder) Dispatch(pipelineID gpucore.ComputePipelineID, groupID gpucore.BindGroupID, uniformOffset uint32, x, y, z uint32) {
	e.record(func(d *Device) error {
		p, ok := d.pipelines[pipelineID]
		if !ok {
			return fmt.Errorf("dispatch pipeline %d: %w", pipelineID, gpucore.ErrInvalidID)
		}
		group, ok := d.groups[groupID]
		if !ok {
			return fmt.Errorf("dispatch bind group %d: %w", groupID, gpucore.ErrInvalidID)
		}
		inv := &invocation{
			device:        d,
			pipeline:      p,
			group:         group,
			uniformOffset: uint64(uniformOffset),
			workgroups:    [3]uint32{x, y, z},
		}
		p.kernel(inv)
		d.dispatches.Add(1)
		return nil
	})
}

func (e *encoder) CopyBufferToBuffer(src gpucore.BufferID, srcOffset uint64, dst gpucore.BufferID, dstOffset uint64, size uint64) {
	e.record(func(d *Device) error {
		s, ok := d.buffers[src]
		if !ok {
			return fmt.Errorf("copy source buffer %d: %w", src, gpucore.ErrInvalidID)
		}
		t, ok := d.buffers[dst]
		if !ok {
			return fmt.Errorf("copy destination buffer %d: %w", dst, gpucore.ErrInvalidID)
		}
		if srcOffset+size > uint64(len(s.data)) || dstOffset+size > uint64(len(t.data)) {
			return fmt.Errorf("copy of %d bytes out of bounds", size)
		}
		copy(t.data[dstOffset:dstOffset+size], s.data[srcOffset:srcOffset+size])
		return nil
	})
}

func (e *encoder) CopyTextureToBuffer(src gpucore.TextureID, layer uint32, dst gpucore.BufferID, bytesPerRow uint32) {
	e.record(func(d *Device) error {
		t, ok := d.textures[src]
		if !ok {
			return fmt.Errorf("copy source texture %d: %w", src, gpucore.ErrInvalidID)
		}
		b, ok := d.buffers[dst]
		if !ok {
			return fmt.Errorf("copy destination buffer %d: %w", dst, gpucore.ErrInvalidID)
		}
		if bytesPerRow < t.desc.RowBytes {
			return fmt.Errorf("bytes per row %d below texture row size %d", bytesPerRow, t.desc.RowBytes)
		}
		if uint64(bytesPerRow)*uint64(t.desc.Height) > uint64(len(b.data)) {
			return fmt.Errorf("buffer %q too small for %d rows of %d bytes", b.desc.Label, t.desc.Height, bytesPerRow)
		}
		data := t.layer(layer)
		row := t.desc.RowBytes
		for y := uint32(0); y < t.desc.Height; y++ {
			copy(b.data[y*bytesPerRow:y*bytesPerRow+row], data[y*row:(y+1)*row])
		}
		return nil
	})
}

// invocation implements gpucore.Invocation for one dispatch. Its methods
// run with the device lock held.
type invocation struct {
	device        *Device
	pipeline      *pipeline
	group         gpucore.BindGroupDesc
	uniformOffset uint64
	workgroups    [3]uint32
}

func (inv *invocation) Workgroups() [3]uint32 { return inv.workgroups }

func (inv *invocation) Uniform() []byte {
	for _, layout := range inv.pipeline.desc.Bindings {
		if layout.Type != gpucore.BindingUniform {
			continue
		}
		entry, _ := findEntry(inv.group.Entries, layout.Binding)
		data := inv.device.mustBuffer(entry.Buffer).data
		start := entry.Offset + inv.uniformOffset
		return data[start : start+layout.Size]
	}
	panic(fmt.Sprintf("software: pipeline %q has no uniform binding", inv.pipeline.desc.Label))
}

func (inv *invocation) entry(binding uint32) gpucore.BindGroupEntry {
	entry, ok := findEntry(inv.group.Entries, binding)
	if !ok {
		panic(fmt.Sprintf("software: pipeline %q: binding %d not bound", inv.pipeline.desc.Label, binding))
	}
	return entry
}

func (inv *invocation) Buffer(binding uint32) []byte {
	return inv.device.mustBuffer(inv.entry(binding).Buffer).data
}

func (inv *invocation) Texture(binding uint32) gpucore.TextureDesc {
	return inv.device.mustTexture(inv.entry(binding).Texture).desc
}

func (inv *invocation) TextureLayer(binding uint32, layer uint32) []byte {
	return inv.device.mustTexture(inv.entry(binding).Texture).layer(layer)
}

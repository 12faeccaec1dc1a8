package generate

import (
	"fmt"

	"github.com/gogpu/terra/internal/gpucore"
	"github.com/gogpu/terra/internal/shader"
	"github.com/gogpu/terra/layer"
)

// WorkgroupSize is the edge of the square workgroups generator shaders
// declare.
const WorkgroupSize = 8

// ShaderGen is a generator backed by a single compute shader dispatched
// once per tile.
type ShaderGen struct {
	name   string
	shader *shader.Set
	kernel gpucore.Kernel
	dims   uint32

	outputs        layer.Mask
	peerInputs     layer.Mask
	parentInputs   layer.Mask
	ancestorInputs layer.Mask
	rootOutputs    layer.Mask
	rootPeerInputs layer.Mask

	pipe pipelineCache
}

// ShaderGenBuilder configures a ShaderGen.
//
//	gen := NewShaderGen("displacements", set, kernel).
//		Outputs(layer.Displacements.Mask()).
//		ParentInputs(layer.Heightmaps.Mask()).
//		RootOutputs(layer.Displacements.Mask()).
//		RootPeerInputs(layer.Heightmaps.Mask()).
//		Dimensions(65).
//		Build()
type ShaderGenBuilder struct {
	gen               ShaderGen
	rootOutputsSet    bool
	rootPeerInputsSet bool
}

// NewShaderGen starts building a generator running set on GPU backends and
// kernel on the software backend.
func NewShaderGen(name string, set *shader.Set, kernel gpucore.Kernel) *ShaderGenBuilder {
	return &ShaderGenBuilder{gen: ShaderGen{name: name, shader: set, kernel: kernel, dims: 1}}
}

// Outputs sets the layers produced below the root.
func (b *ShaderGenBuilder) Outputs(m layer.Mask) *ShaderGenBuilder {
	b.gen.outputs = m
	return b
}

// PeerInputs sets the layers read from the target below the root.
func (b *ShaderGenBuilder) PeerInputs(m layer.Mask) *ShaderGenBuilder {
	b.gen.peerInputs = m
	return b
}

// ParentInputs sets the layers read from the parent.
func (b *ShaderGenBuilder) ParentInputs(m layer.Mask) *ShaderGenBuilder {
	b.gen.parentInputs = m
	return b
}

// AncestorInputs sets the layers read from the target or an ancestor.
func (b *ShaderGenBuilder) AncestorInputs(m layer.Mask) *ShaderGenBuilder {
	b.gen.ancestorInputs = m
	return b
}

// RootOutputs sets the layers produced at the root. Without it, the root
// produces the regular outputs when there are no parent inputs and nothing
// otherwise.
func (b *ShaderGenBuilder) RootOutputs(m layer.Mask) *ShaderGenBuilder {
	b.gen.rootOutputs = m
	b.rootOutputsSet = true
	return b
}

// RootPeerInputs sets the layers read from the target at the root. It
// defaults to the regular peer inputs.
func (b *ShaderGenBuilder) RootPeerInputs(m layer.Mask) *ShaderGenBuilder {
	b.gen.rootPeerInputs = m
	b.rootPeerInputsSet = true
	return b
}

// Dimensions sets the number of threads per axis; the dispatch covers it
// with WorkgroupSize-square workgroups.
func (b *ShaderGenBuilder) Dimensions(threads uint32) *ShaderGenBuilder {
	b.gen.dims = (threads + WorkgroupSize - 1) / WorkgroupSize
	return b
}

// Build returns the configured generator.
func (b *ShaderGenBuilder) Build() *ShaderGen {
	g := b.gen
	if !b.rootOutputsSet {
		if g.parentInputs.Empty() {
			g.rootOutputs = g.outputs
		} else {
			g.rootOutputs = 0
		}
	}
	if !b.rootPeerInputsSet {
		g.rootPeerInputs = g.peerInputs
	}
	g.pipe.bindings = g.outputs | g.peerInputs | g.parentInputs | g.ancestorInputs | g.rootOutputs | g.rootPeerInputs
	return &g
}

func (g *ShaderGen) Name() string { return g.name }

func (g *ShaderGen) Outputs(level uint8) layer.Mask {
	if level == 0 {
		return g.rootOutputs
	}
	return g.outputs
}

func (g *ShaderGen) PeerInputs(level uint8) layer.Mask {
	if level == 0 {
		return g.rootPeerInputs
	}
	return g.peerInputs
}

// ParentInputs is empty at the root, where the root variant runs instead.
func (g *ShaderGen) ParentInputs(level uint8) layer.Mask {
	if level == 0 {
		return 0
	}
	return g.parentInputs
}

func (g *ShaderGen) AncestorInputs(uint8) layer.Mask { return g.ancestorInputs }

func (g *ShaderGen) NeedsRefresh() bool {
	if !g.shader.Refresh() {
		return false
	}
	g.pipe.release()
	return true
}

func (g *ShaderGen) Generate(ctx *Context, target Target) error {
	if err := g.pipe.ensure(ctx, g.shader, g.kernel); err != nil {
		return fmt.Errorf("generator %s: %w", g.name, err)
	}
	u := ctx.UniformsFor(target)
	offset := ctx.Uniforms.Append(u.Encode())
	ctx.Encoder.Dispatch(g.pipe.pipeline, g.pipe.group, offset, g.dims, g.dims, 1)
	return nil
}

// pipelineCache owns the GPU objects of one shader. They are created on
// first use and dropped when the shader reloads.
type pipelineCache struct {
	bindings layer.Mask
	// items, when set, is bound read-only at BatchBinding.
	items gpucore.BufferID

	device   gpucore.Device
	module   gpucore.ShaderModuleID
	pipeline gpucore.ComputePipelineID
	group    gpucore.BindGroupID
}

func (p *pipelineCache) ensure(ctx *Context, set *shader.Set, kernel gpucore.Kernel) error {
	if p.group != gpucore.InvalidID {
		return nil
	}
	p.release()
	p.device = ctx.Device

	var err error
	p.module, err = ctx.Device.CreateShaderModule(gpucore.ShaderModuleDesc{
		Label:  set.Label(),
		WGSL:   set.WGSL(),
		Kernel: kernel,
	})
	if err != nil {
		return fmt.Errorf("create shader module: %w", err)
	}

	layouts := []gpucore.BindingLayout{{Binding: UniformBinding, Type: gpucore.BindingUniform, Size: UniformRecordSize}}
	entries := []gpucore.BindGroupEntry{{Binding: UniformBinding, Buffer: ctx.UniformBuffer, Size: UniformRecordSize}}
	for _, t := range p.bindings.Types() {
		if ctx.Layers[t].Mesh {
			layouts = append(layouts, gpucore.BindingLayout{Binding: Binding(t), Type: gpucore.BindingStorageBuffer})
			entries = append(entries, gpucore.BindGroupEntry{Binding: Binding(t), Buffer: ctx.MeshBuffer})
			continue
		}
		layouts = append(layouts, gpucore.BindingLayout{Binding: Binding(t), Type: gpucore.BindingTextureArray})
		entries = append(entries, gpucore.BindGroupEntry{Binding: Binding(t), Texture: ctx.Textures[t]})
	}

	if p.items != gpucore.InvalidID {
		layouts = append(layouts, gpucore.BindingLayout{Binding: BatchBinding, Type: gpucore.BindingReadOnlyStorageBuffer})
		entries = append(entries, gpucore.BindGroupEntry{Binding: BatchBinding, Buffer: p.items})
	}

	p.pipeline, err = ctx.Device.CreateComputePipeline(gpucore.ComputePipelineDesc{
		Label:    set.Label(),
		Module:   p.module,
		Bindings: layouts,
	})
	if err != nil {
		p.release()
		return fmt.Errorf("create pipeline: %w", err)
	}

	p.group, err = ctx.Device.CreateBindGroup(gpucore.BindGroupDesc{
		Label:    set.Label(),
		Pipeline: p.pipeline,
		Entries:  entries,
	})
	if err != nil {
		p.release()
		return fmt.Errorf("create bind group: %w", err)
	}
	slogger().Debug("generator pipeline built", "shader", set.Label(), "bindings", p.bindings.String())
	return nil
}

func (p *pipelineCache) release() {
	if p.device == nil {
		return
	}
	if p.group != gpucore.InvalidID {
		p.device.DestroyBindGroup(p.group)
	}
	if p.pipeline != gpucore.InvalidID {
		p.device.DestroyComputePipeline(p.pipeline)
	}
	if p.module != gpucore.InvalidID {
		p.device.DestroyShaderModule(p.module)
	}
	p.group, p.pipeline, p.module = gpucore.InvalidID, gpucore.InvalidID, gpucore.InvalidID
}

// Release destroys the generator's GPU objects.
func (g *ShaderGen) Release() { g.pipe.release() }

package generate

import (
	"fmt"

	"github.com/gogpu/terra/internal/gpucore"
	"github.com/gogpu/terra/internal/shader"
	"github.com/gogpu/terra/layer"
)

// MeshStage is one shader of a MeshGen.
type MeshStage struct {
	Shader *shader.Set
	Kernel gpucore.Kernel
	// Workgroups is the dispatch size along x.
	Workgroups uint32

	pipe pipelineCache
}

// MeshGen writes the indirect draw record of one mesh layer. It clears the
// node's record and then runs its stages in order; later stages see what
// earlier ones wrote.
type MeshGen struct {
	name           string
	output         layer.Type
	peerInputs     layer.Mask
	ancestorInputs layer.Mask
	stages         []*MeshStage
}

// NewMeshGen creates a mesh generator for output.
func NewMeshGen(name string, output layer.Type, peerInputs, ancestorInputs layer.Mask, stages ...MeshStage) *MeshGen {
	if len(stages) == 0 {
		panic(fmt.Sprintf("generate: mesh generator %s has no stages", name))
	}
	g := &MeshGen{
		name:           name,
		output:         output,
		peerInputs:     peerInputs,
		ancestorInputs: ancestorInputs,
	}
	bindings := output.Mask() | peerInputs | ancestorInputs
	for i := range stages {
		s := stages[i]
		s.pipe = pipelineCache{bindings: bindings}
		g.stages = append(g.stages, &s)
	}
	return g
}

func (g *MeshGen) Name() string                    { return g.name }
func (g *MeshGen) Outputs(uint8) layer.Mask        { return g.output.Mask() }
func (g *MeshGen) PeerInputs(uint8) layer.Mask     { return g.peerInputs }
func (g *MeshGen) ParentInputs(uint8) layer.Mask   { return 0 }
func (g *MeshGen) AncestorInputs(uint8) layer.Mask { return g.ancestorInputs }

// NeedsRefresh reports a change in any stage's shader.
func (g *MeshGen) NeedsRefresh() bool {
	changed := false
	for _, s := range g.stages {
		if s.Shader.Refresh() {
			s.pipe.release()
			changed = true
		}
	}
	return changed
}

func (g *MeshGen) Generate(ctx *Context, target Target) error {
	for _, s := range g.stages {
		if err := s.pipe.ensure(ctx, s.Shader, s.Kernel); err != nil {
			return fmt.Errorf("generator %s: %w", g.name, err)
		}
	}

	p := ctx.Layers[g.output]
	index := ctx.Slots.LayerIndex(p, target.Slot, target.Node.Level())
	if index < 0 {
		panic(fmt.Sprintf("generate: %s: %s outside its level range", g.name, target.Node))
	}
	offset := ctx.MeshOffsets[g.output] + uint64(index)*layer.MeshRecordSize
	ctx.Encoder.CopyBufferToBuffer(ctx.MeshClear, 0, ctx.MeshBuffer, offset, layer.MeshRecordSize)

	u := ctx.UniformsFor(target)
	u.MeshOffset = uint32(offset)
	uniformOffset := ctx.Uniforms.Append(u.Encode())
	for _, s := range g.stages {
		ctx.Encoder.Dispatch(s.pipe.pipeline, s.pipe.group, uniformOffset, s.Workgroups, 1, 1)
	}
	return nil
}

// Release destroys the generator's GPU objects.
func (g *MeshGen) Release() {
	for _, s := range g.stages {
		s.pipe.release()
	}
}

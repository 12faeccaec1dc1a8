package generate

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/terra/internal/gpucore"
	"github.com/gogpu/terra/internal/shader"
	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
)

// BatchBinding is the bind slot of the node list of a batch dispatch.
const BatchBinding = 1 + layer.Count

// BatchGenerator regenerates a dynamic layer every frame for every
// eligible node at once.
//
// The scheduler collects the resident nodes within the output layer's
// level range whose priority is at least the cutoff and whose valid layers
// include Dependencies, then calls GenerateBatch once per frame.
type BatchGenerator interface {
	Name() string

	// Output returns the dynamic layer the generator writes.
	Output() layer.Type

	// Dependencies returns the layers a node needs before it joins the
	// batch.
	Dependencies() layer.Mask

	NeedsRefresh() bool

	// GenerateBatch records the work producing Output for every node.
	GenerateBatch(ctx *Context, nodes []BatchNode) error
}

// BatchNode is one node of a batch.
type BatchNode struct {
	Node quadtree.VNode
	// Slot is the node's global cache slot.
	Slot int
}

// BatchItemSize is the stride of BatchItem records in the node list.
const BatchItemSize = 32

// BatchItem is one record of the node list bound at BatchBinding.
type BatchItem struct {
	// Layer is the array layer of the output.
	Layer uint32
	Face  uint32
	Level uint32
	X     uint32
	Y     uint32
	Pad   [3]uint32
}

// Node returns the node of the record.
func (it *BatchItem) Node() quadtree.VNode {
	return quadtree.NewVNode(uint8(it.Face), uint8(it.Level), it.X, it.Y)
}

// DecodeBatchItem parses the record at the start of data.
func DecodeBatchItem(data []byte) BatchItem {
	var it BatchItem
	if _, err := binary.Decode(data[:BatchItemSize], binary.LittleEndian, &it); err != nil {
		panic(fmt.Sprintf("generate: decode batch item: %v", err))
	}
	return it
}

// BatchUniforms is the uniform record of a batch dispatch.
type BatchUniforms struct {
	Count uint32
	Pad   [3]uint32
	// Camera position in meters; w is unused.
	Camera [4]float32
}

// Encode serializes u little-endian.
func (u *BatchUniforms) Encode() []byte {
	data, err := binary.Append(nil, binary.LittleEndian, u)
	if err != nil {
		panic(fmt.Sprintf("generate: encode batch uniforms: %v", err))
	}
	return data
}

// DecodeBatchUniforms parses a record written by Encode.
func DecodeBatchUniforms(data []byte) BatchUniforms {
	var u BatchUniforms
	if _, err := binary.Decode(data, binary.LittleEndian, &u); err != nil {
		panic(fmt.Sprintf("generate: decode batch uniforms: %v", err))
	}
	return u
}

// BatchGen is a BatchGenerator backed by one compute shader. The dispatch
// covers the output tile in x and y and the batch in z.
type BatchGen struct {
	name   string
	output layer.Type
	deps   layer.Mask
	shader *shader.Set
	kernel gpucore.Kernel
	dims   uint32

	pipe   pipelineCache
	device gpucore.Device
	items  []byte
}

// NewBatchGen creates a batch generator writing output over threads
// square texels per node.
func NewBatchGen(name string, output layer.Type, deps layer.Mask, set *shader.Set, kernel gpucore.Kernel, threads uint32) *BatchGen {
	return &BatchGen{
		name:   name,
		output: output,
		deps:   deps,
		shader: set,
		kernel: kernel,
		dims:   (threads + WorkgroupSize - 1) / WorkgroupSize,
		pipe:   pipelineCache{bindings: output.Mask() | deps},
	}
}

func (g *BatchGen) Name() string             { return g.name }
func (g *BatchGen) Output() layer.Type       { return g.output }
func (g *BatchGen) Dependencies() layer.Mask { return g.deps }

func (g *BatchGen) NeedsRefresh() bool {
	if !g.shader.Refresh() {
		return false
	}
	g.pipe.release()
	return true
}

func (g *BatchGen) GenerateBatch(ctx *Context, nodes []BatchNode) error {
	if len(nodes) == 0 {
		return nil
	}
	p := ctx.Layers[g.output]
	capacity := ctx.Slots.LayerSlots(p)
	if len(nodes) > capacity {
		panic(fmt.Sprintf("generate: %s: batch of %d nodes exceeds %d slots", g.name, len(nodes), capacity))
	}
	if g.pipe.items == gpucore.InvalidID {
		buf, err := ctx.Device.CreateBuffer(gpucore.BufferDesc{
			Label: g.name + " nodes",
			Size:  uint64(capacity) * BatchItemSize,
			Usage: gpucore.BufferUsageStorage | gpucore.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("generator %s: create node list: %w", g.name, err)
		}
		g.pipe.items, g.device = buf, ctx.Device
	}
	if err := g.pipe.ensure(ctx, g.shader, g.kernel); err != nil {
		return fmt.Errorf("generator %s: %w", g.name, err)
	}

	g.items = g.items[:0]
	for _, n := range nodes {
		index := ctx.Slots.LayerIndex(p, n.Slot, n.Node.Level())
		if index < 0 {
			panic(fmt.Sprintf("generate: %s: %s outside its level range", g.name, n.Node))
		}
		it := BatchItem{
			Layer: uint32(index),
			Face:  uint32(n.Node.Face()),
			Level: uint32(n.Node.Level()),
			X:     n.Node.X(),
			Y:     n.Node.Y(),
		}
		var err error
		if g.items, err = binary.Append(g.items, binary.LittleEndian, &it); err != nil {
			panic(fmt.Sprintf("generate: encode batch item: %v", err))
		}
	}
	ctx.Device.WriteBuffer(g.pipe.items, 0, g.items)

	u := BatchUniforms{
		Count:  uint32(len(nodes)),
		Camera: [4]float32{float32(ctx.Camera[0]), float32(ctx.Camera[1]), float32(ctx.Camera[2]), 0},
	}
	offset := ctx.Uniforms.Append(u.Encode())
	ctx.Encoder.Dispatch(g.pipe.pipeline, g.pipe.group, offset, g.dims, g.dims, uint32(len(nodes)))
	return nil
}

// Release destroys the generator's GPU objects.
func (g *BatchGen) Release() {
	g.pipe.release()
	if g.device != nil && g.pipe.items != gpucore.InvalidID {
		g.device.DestroyBuffer(g.pipe.items)
	}
	g.pipe.items = gpucore.InvalidID
}

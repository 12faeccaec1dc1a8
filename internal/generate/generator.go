package generate

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/terra/internal/gpucore"
	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
)

// Generator produces one or more layers of a tile from layers that are
// already valid.
//
// The four masks are pure functions of the target level. The scheduler
// checks every declared input before calling Generate, so Generate never
// has to report unmet preconditions.
type Generator interface {
	// Name identifies the generator in logs and metrics.
	Name() string

	// Outputs returns the layers the generator can produce at level.
	Outputs(level uint8) layer.Mask

	// PeerInputs returns the layers it reads from the target node.
	PeerInputs(level uint8) layer.Mask

	// ParentInputs returns the layers it reads from the parent node.
	ParentInputs(level uint8) layer.Mask

	// AncestorInputs returns layers read from the target node when it is
	// within the layer's level range, or otherwise from the ancestor at
	// the layer's max level.
	AncestorInputs(level uint8) layer.Mask

	// NeedsRefresh reports, at most once per change, that the generator's
	// shader changed. Cached GPU objects are dropped before it returns
	// true.
	NeedsRefresh() bool

	// Generate records the work producing target.Outputs. Calling it again
	// with the same inputs produces the same data.
	Generate(ctx *Context, target Target) error
}

// AncestorRef names the node that provides an ancestor input.
type AncestorRef struct {
	// Slot is the global cache slot of the providing node, -1 when unused.
	Slot int
	// Generations is 0 when the target itself provides the layer.
	Generations int
}

// Target describes one Generate call.
type Target struct {
	Node quadtree.VNode
	Slot int
	// ParentSlot is -1 at the root.
	ParentSlot int
	Ancestors  [layer.Count]AncestorRef
	Outputs    layer.Mask
}

// NewTarget returns a target with no ancestor providers.
func NewTarget(node quadtree.VNode, slot, parentSlot int, outputs layer.Mask) Target {
	t := Target{Node: node, Slot: slot, ParentSlot: parentSlot, Outputs: outputs}
	for i := range t.Ancestors {
		t.Ancestors[i].Slot = -1
	}
	return t
}

// Context carries the per-frame resources generators record against.
type Context struct {
	*Resources
	Encoder  gpucore.CommandEncoder
	Uniforms *UniformWriter
	// Camera is the viewer position in meters, read by batch generators.
	Camera [3]float64
}

// Binding returns the bind slot used for a layer's resource.
func Binding(t layer.Type) uint32 { return 1 + uint32(t) }

// UniformBinding is the bind slot of the per-tile uniform record.
const UniformBinding = 0

// SlotLayout maps global cache slots to per-level and per-layer indices.
// Base[level] is the first global slot of level; Base[len-1] is the total.
type SlotLayout struct {
	Base []int
}

// NewSlotLayout builds the layout for per-level capacities.
func NewSlotLayout(capacities []int) SlotLayout {
	base := make([]int, len(capacities)+1)
	for i, c := range capacities {
		base[i+1] = base[i] + c
	}
	return SlotLayout{Base: base}
}

// Total returns the number of slots across all levels.
func (s SlotLayout) Total() int { return s.Base[len(s.Base)-1] }

// Global returns the global slot of index i within level.
func (s SlotLayout) Global(level uint8, i int) int { return s.Base[level] + i }

// LayerSlots returns how many array layers a layer needs.
func (s SlotLayout) LayerSlots(p layer.Params) int {
	return s.Base[int(p.MaxLevel)+1] - s.Base[p.MinLevel]
}

// LayerIndex returns the array layer holding slot for a layer, or -1 when
// level is outside the layer's range.
func (s SlotLayout) LayerIndex(p layer.Params, slot int, level uint8) int32 {
	if slot < 0 || !p.InRange(level) {
		return -1
	}
	return int32(slot - s.Base[p.MinLevel])
}

// MeshOffsets returns the byte offset of each mesh layer's region in the
// mesh buffer and the buffer's total size.
func (s SlotLayout) MeshOffsets(table *layer.Table) (offsets [layer.Count]uint64, size uint64) {
	for i := range table {
		if !table[i].Mesh {
			continue
		}
		offsets[i] = size
		size += uint64(s.LayerSlots(table[i])) * layer.MeshRecordSize
	}
	return offsets, size
}

// UniformRecordSize is the space each uniform record occupies in the
// per-frame uniform buffer.
const UniformRecordSize = 256

// UniformWriter accumulates the uniform records of one frame.
type UniformWriter struct {
	data  []byte
	limit int
}

// NewUniformWriter creates a writer for at most records records.
func NewUniformWriter(records int) *UniformWriter {
	return &UniformWriter{
		data:  make([]byte, 0, records*UniformRecordSize),
		limit: records * UniformRecordSize,
	}
}

// Append copies record into the next 256-byte slot and returns its offset.
// It panics when the record is too large or the writer is full.
func (w *UniformWriter) Append(record []byte) uint32 {
	if len(record) > UniformRecordSize {
		panic(fmt.Sprintf("generate: uniform record of %d bytes exceeds %d", len(record), UniformRecordSize))
	}
	if len(w.data)+UniformRecordSize > w.limit {
		panic(fmt.Sprintf("generate: uniform buffer full (%d bytes)", w.limit))
	}
	offset := len(w.data)
	w.data = append(w.data, record...)
	w.data = append(w.data, make([]byte, UniformRecordSize-len(record))...)
	return uint32(offset)
}

// Bytes returns the accumulated records.
func (w *UniformWriter) Bytes() []byte { return w.data }

// Len returns the number of records.
func (w *UniformWriter) Len() int { return len(w.data) / UniformRecordSize }

// Size returns the buffer size needed to hold a full writer.
func (w *UniformWriter) Size() int { return w.limit }

// Reset discards all records.
func (w *UniformWriter) Reset() { w.data = w.data[:0] }

// slotArray is layer.Count rounded up to whole vec4s, the stride WGSL
// requires for arrays in uniform buffers.
const slotArray = (layer.Count + 3) / 4 * 4

// TileUniforms is the uniform record shared by all generator shaders.
type TileUniforms struct {
	Face       uint32
	Level      uint32
	X          uint32
	Y          uint32
	Outputs    uint32
	ChildIndex uint32
	MeshOffset uint32
	Pad        uint32

	// Array layer of the target, its parent and its ancestor providers
	// in each layer, -1 when absent.
	Slots               [slotArray]int32
	ParentSlots         [slotArray]int32
	AncestorSlots       [slotArray]int32
	AncestorGenerations [slotArray]uint32
}

// Node returns the target node.
func (u *TileUniforms) Node() quadtree.VNode {
	return quadtree.NewVNode(uint8(u.Face), uint8(u.Level), u.X, u.Y)
}

// Encode serializes u little-endian.
func (u *TileUniforms) Encode() []byte {
	data, err := binary.Append(nil, binary.LittleEndian, u)
	if err != nil {
		panic(fmt.Sprintf("generate: encode uniforms: %v", err))
	}
	return data
}

// DecodeUniforms parses a record written by Encode.
func DecodeUniforms(data []byte) TileUniforms {
	var u TileUniforms
	if _, err := binary.Decode(data, binary.LittleEndian, &u); err != nil {
		panic(fmt.Sprintf("generate: decode uniforms: %v", err))
	}
	return u
}

// UniformsFor builds the uniform record for a target.
func (c *Context) UniformsFor(t Target) TileUniforms {
	n := t.Node
	u := TileUniforms{
		Face:    uint32(n.Face()),
		Level:   uint32(n.Level()),
		X:       n.X(),
		Y:       n.Y(),
		Outputs: uint32(t.Outputs),
	}
	_, child, hasParent := n.Parent()
	if hasParent {
		u.ChildIndex = uint32(child)
	}
	for i := range u.Slots {
		u.Slots[i], u.ParentSlots[i], u.AncestorSlots[i] = -1, -1, -1
	}
	for i := range c.Layers {
		p := c.Layers[i]
		u.Slots[i] = c.Slots.LayerIndex(p, t.Slot, n.Level())
		if hasParent {
			u.ParentSlots[i] = c.Slots.LayerIndex(p, t.ParentSlot, n.Level()-1)
		}
		if a := t.Ancestors[i]; a.Slot >= 0 {
			u.AncestorSlots[i] = c.Slots.LayerIndex(p, a.Slot, n.Level()-uint8(a.Generations))
			u.AncestorGenerations[i] = uint32(a.Generations)
		}
	}
	return u
}

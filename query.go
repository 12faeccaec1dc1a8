package terra

import (
	"github.com/gogpu/terra/internal/gpucore"
	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
)

// Contains reports whether node is resident with valid data for t.
func (c *TileCache) Contains(node quadtree.VNode, t layer.Type) bool {
	e := c.lookup(node)
	return e != nil && e.valid.Has(t)
}

// ContainsAll reports whether node is resident with valid data for every
// layer of mask.
func (c *TileCache) ContainsAll(node quadtree.VNode, mask layer.Mask) bool {
	e := c.lookup(node)
	return e != nil && e.valid.Contains(mask)
}

// Slot returns the cache slot of node across all levels. It stays stable
// until the next Update.
func (c *TileCache) Slot(node quadtree.VNode) (int, bool) {
	return c.globalSlot(node)
}

// LayerIndex returns the array layer holding node in t's texture array or
// mesh buffer region.
func (c *TileCache) LayerIndex(node quadtree.VNode, t layer.Type) (int, bool) {
	slot, ok := c.globalSlot(node)
	if !ok {
		return -1, false
	}
	i := c.resources.Slots.LayerIndex(c.layers[t], slot, node.Level())
	return int(i), i >= 0
}

// Texture returns the texture array of a texture layer.
func (c *TileCache) Texture(t layer.Type) gpucore.TextureID { return c.resources.Textures[t] }

// MeshBuffer returns the buffer holding the indirect draw records of the
// mesh layers.
func (c *TileCache) MeshBuffer() gpucore.BufferID { return c.resources.MeshBuffer }

// MeshOffset returns the byte offset of node's indirect draw record for
// the mesh layer t.
func (c *TileCache) MeshOffset(node quadtree.VNode, t layer.Type) (uint64, bool) {
	i, ok := c.LayerIndex(node, t)
	if !ok || !c.layers[t].Mesh {
		return 0, false
	}
	return c.resources.MeshOffsets[t] + uint64(i)*layer.MeshRecordSize, true
}

// Layers returns the layer table.
func (c *TileCache) Layers() *layer.Table { return c.layers }

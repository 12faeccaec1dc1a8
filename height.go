package terra

import (
	"math"

	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
)

// Default height bounds, in meters, of a node without any heightmap
// mirror above it.
const (
	DefaultMinHeight = 0
	DefaultMaxHeight = 9000
)

// heightRangeMargin is added to a mirrored maximum to cover detail that
// finer levels add.
const heightRangeMargin = 6000

// Height samples the CPU heightmap mirror of the node at level containing
// the point at lat, lon (radians). It reports false when that node has no
// mirror. Heights below sea level read as zero.
func (c *TileCache) Height(lat, lon float64, level uint8) (float32, bool) {
	if level > quadtree.MaxLevel {
		return 0, false
	}
	n, fu, fv := quadtree.FromCSpace(quadtree.PolarToCSpace(lat, lon), level)
	e := c.lookup(n)
	if e == nil || e.heightmap == nil {
		return 0, false
	}
	h := e.heightmap

	border := float64(c.layers[layer.Heightmaps].Border)
	span := float64(h.Resolution) - 2*border - 1
	x := fu*span + border
	y := fv*span + border

	x0, y0 := math.Floor(x), math.Floor(y)
	x1, y1 := math.Ceil(x), math.Ceil(y)
	fx, fy := float32(x-x0), float32(y-y0)

	v := h.At(int(x0), int(y0))*(1-fx)*(1-fy) +
		h.At(int(x1), int(y0))*fx*(1-fy) +
		h.At(int(x0), int(y1))*(1-fx)*fy +
		h.At(int(x1), int(y1))*fx*fy
	return max(v, 0), true
}

// HeightRange returns conservative height bounds for node from the nearest
// mirrored heightmap at or above it.
func (c *TileCache) HeightRange(node quadtree.VNode) (lo, hi float32) {
	for n, ok := node, true; ok; n, _, ok = n.Parent() {
		if e := c.lookup(n); e != nil && e.heightmap != nil {
			return min(e.heightmap.Min, 0), e.heightmap.Max + heightRangeMargin
		}
	}
	return DefaultMinHeight, DefaultMaxHeight
}

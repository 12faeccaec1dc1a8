package terra

import (
	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
)

// FullCoverage is the Visible mask of a node rendered entirely at its own
// level.
const FullCoverage = 0xf

// Visible is one node of the render set. Bit i of Mask is set when child i
// is not visible, so the node covers that quadrant itself.
type Visible struct {
	Node quadtree.VNode
	Mask uint8
}

// ComputeVisible returns the coarsest set of nodes holding every layer of
// mask that covers the surface without overlap. A node qualifies when it
// is resident, holds mask and is a root or at least at the cutoff
// priority; its children qualify only below a qualifying node.
func (c *TileCache) ComputeVisible(mask layer.Mask) []Visible {
	visible := make(map[quadtree.VNode]bool)
	quadtree.BreadthFirst(func(n quadtree.VNode) bool {
		s, ok := c.levels[n.Level()].Entry(n)
		ok = ok && (n.IsRoot() || s.Priority >= quadtree.Cutoff) && s.Value.valid.Contains(mask)
		visible[n] = ok
		return ok
	})

	var out []Visible
	quadtree.BreadthFirst(func(n quadtree.VNode) bool {
		if !visible[n] {
			return false
		}
		if n.Level() == quadtree.MaxLevel {
			out = append(out, Visible{Node: n, Mask: FullCoverage})
			return false
		}
		var m uint8
		for i, child := range n.Children() {
			if !visible[child] {
				m |= 1 << i
			}
		}
		if m != 0 {
			out = append(out, Visible{Node: n, Mask: m})
		}
		return m != FullCoverage
	})
	return out
}

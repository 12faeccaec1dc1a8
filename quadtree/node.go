package quadtree

import (
	"fmt"
	"math"
)

// MaxLevel is the deepest quadtree level a node can address.
const MaxLevel = 22

// NumFaces is the number of cube faces, and so the number of root nodes.
const NumFaces = 6

// PlanetRadius is the mean radius of the planet in meters.
const PlanetRadius = 6371000.0

// VNode addresses one quadtree cell of the cube-sphere.
//
// The value is packed into a uint64 so nodes are cheap to copy and can be
// used directly as map keys:
//
//	bits  0..23  x
//	bits 24..47  y
//	bits 48..50  face
//	bits 51..55  level
type VNode uint64

const (
	coordBits  = 24
	coordMask  = 1<<coordBits - 1
	faceShift  = 2 * coordBits
	faceMask   = 0x7
	levelShift = faceShift + 3
	levelMask  = 0x1f
)

// NewVNode packs a node key. It panics if any coordinate is out of range
// for the level.
func NewVNode(face uint8, level uint8, x, y uint32) VNode {
	if face >= NumFaces {
		panic(fmt.Sprintf("quadtree: face %d out of range", face))
	}
	if level > MaxLevel {
		panic(fmt.Sprintf("quadtree: level %d exceeds MaxLevel", level))
	}
	if x >= 1<<level || y >= 1<<level {
		panic(fmt.Sprintf("quadtree: cell (%d,%d) out of range at level %d", x, y, level))
	}
	return VNode(uint64(x) | uint64(y)<<coordBits | uint64(face)<<faceShift | uint64(level)<<levelShift)
}

// Roots returns the six level-0 nodes, one per cube face.
func Roots() [NumFaces]VNode {
	var roots [NumFaces]VNode
	for f := range roots {
		roots[f] = NewVNode(uint8(f), 0, 0, 0)
	}
	return roots
}

// Face returns the cube face index in [0, 6).
func (n VNode) Face() uint8 { return uint8(uint64(n) >> faceShift & faceMask) }

// Level returns the depth of the node, 0 for roots.
func (n VNode) Level() uint8 { return uint8(uint64(n) >> levelShift & levelMask) }

// X returns the column of the node within its face at its level.
func (n VNode) X() uint32 { return uint32(uint64(n) & coordMask) }

// Y returns the row of the node within its face at its level.
func (n VNode) Y() uint32 { return uint32(uint64(n) >> coordBits & coordMask) }

// IsRoot reports whether the node is at level 0.
func (n VNode) IsRoot() bool { return n.Level() == 0 }

// Parent returns the parent node and the index of n among the parent's
// children. ok is false for roots.
func (n VNode) Parent() (parent VNode, child int, ok bool) {
	if n.IsRoot() {
		return 0, 0, false
	}
	x, y := n.X(), n.Y()
	child = int(x&1) + 2*int(y&1)
	return NewVNode(n.Face(), n.Level()-1, x/2, y/2), child, true
}

// Children returns the four children of n. Child i covers
// (2x + i%2, 2y + i/2). It panics at MaxLevel.
func (n VNode) Children() [4]VNode {
	if n.Level() >= MaxLevel {
		panic("quadtree: node at MaxLevel has no children")
	}
	x, y := 2*n.X(), 2*n.Y()
	level := n.Level() + 1
	face := n.Face()
	return [4]VNode{
		NewVNode(face, level, x, y),
		NewVNode(face, level, x+1, y),
		NewVNode(face, level, x, y+1),
		NewVNode(face, level, x+1, y+1),
	}
}

// FindAncestor walks from the parent of n towards the root and returns the
// first ancestor for which match reports true, together with the number of
// generations between n and that ancestor.
func (n VNode) FindAncestor(match func(VNode) bool) (VNode, int, bool) {
	node := n
	generations := 0
	for {
		parent, _, ok := node.Parent()
		if !ok {
			return 0, 0, false
		}
		generations++
		if match(parent) {
			return parent, generations, true
		}
		node = parent
	}
}

// Contains reports whether other lies inside n (or is n).
func (n VNode) Contains(other VNode) bool {
	if n.Face() != other.Face() || other.Level() < n.Level() {
		return false
	}
	shift := other.Level() - n.Level()
	return other.X()>>shift == n.X() && other.Y()>>shift == n.Y()
}

// SideLength returns the approximate edge length of the node in meters.
func (n VNode) SideLength() float64 {
	return PlanetRadius * (math.Pi / 2) / float64(uint64(1)<<n.Level())
}

// Center returns the world-space position of the node center on the sphere
// surface.
func (n VNode) Center() [3]float64 {
	p := n.UnitPoint(0.5, 0.5)
	return [3]float64{p[0] * PlanetRadius, p[1] * PlanetRadius, p[2] * PlanetRadius}
}

// UnitPoint returns the point on the unit sphere at fraction (fu, fv) of
// the node's extent. Fractions outside [0, 1] address neighboring cells,
// which is how tile borders are sampled.
func (n VNode) UnitPoint(fu, fv float64) [3]float64 {
	cells := float64(uint64(1) << n.Level())
	u := (float64(n.X())+fu)/cells*2 - 1
	v := (float64(n.Y())+fv)/cells*2 - 1
	p := cubePoint(n.Face(), u, v)
	l := length(p)
	return [3]float64{p[0] / l, p[1] / l, p[2] / l}
}

// String returns a compact form like "f2/L5/(3,7)".
func (n VNode) String() string {
	return fmt.Sprintf("f%d/L%d/(%d,%d)", n.Face(), n.Level(), n.X(), n.Y())
}

// BreadthFirst visits the roots and then their descendants level by level.
// Children of a node are visited only when visit returned true for it, and
// never below MaxLevel.
func BreadthFirst(visit func(VNode) bool) {
	roots := Roots()
	queue := append([]VNode(nil), roots[:]...)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if visit(node) && node.Level() < MaxLevel {
			children := node.Children()
			queue = append(queue, children[:]...)
		}
	}
}

package layer

import (
	"math/bits"
	"strings"
)

// Type identifies one kind of per-node tile data.
type Type uint8

const (
	Heightmaps Type = iota
	Displacements
	Albedo
	Normals
	BaseAlbedo
	TreeCover
	TreeAttributes
	GrassCanopy
	TerrainMesh
	GrassMesh
	AerialPerspective

	// Count is the number of layer types.
	Count = iota
)

var typeNames = [Count]string{
	Heightmaps:     "heightmaps",
	Displacements:  "displacements",
	Albedo:         "albedo",
	Normals:        "normals",
	BaseAlbedo:     "base-albedo",
	TreeCover:      "tree-cover",
	TreeAttributes: "tree-attributes",
	GrassCanopy:    "grass-canopy",
	TerrainMesh:    "terrain-mesh",
	GrassMesh:      "grass-mesh",

	AerialPerspective: "aerial-perspective",
}

// All returns every layer type in declaration order.
func All() []Type {
	types := make([]Type, Count)
	for i := range types {
		types[i] = Type(i)
	}
	return types
}

// String returns the lowercase name of the layer.
func (t Type) String() string {
	if int(t) < Count {
		return typeNames[t]
	}
	return "unknown"
}

// ParseType returns the layer type with the given name.
func ParseType(name string) (Type, bool) {
	for i, n := range typeNames {
		if n == name {
			return Type(i), true
		}
	}
	return 0, false
}

// Mask returns a mask holding only t.
func (t Type) Mask() Mask { return Mask(1) << t }

// Mask is a set of layer types.
type Mask uint32

// MaskOf builds a mask from the given layer types.
func MaskOf(types ...Type) Mask {
	var m Mask
	for _, t := range types {
		m |= t.Mask()
	}
	return m
}

// Union returns m ∪ o.
func (m Mask) Union(o Mask) Mask { return m | o }

// Intersect returns m ∩ o.
func (m Mask) Intersect(o Mask) Mask { return m & o }

// Without returns the layers of m that are not in o.
func (m Mask) Without(o Mask) Mask { return m &^ o }

// Has reports whether m contains layer t.
func (m Mask) Has(t Type) bool { return m&t.Mask() != 0 }

// Contains reports whether every layer of o is in m.
func (m Mask) Contains(o Mask) bool { return m&o == o }

// Empty reports whether m holds no layers.
func (m Mask) Empty() bool { return m == 0 }

// Len returns the number of layers in m.
func (m Mask) Len() int { return bits.OnesCount32(uint32(m)) }

// Types returns the layers of m in ascending order.
func (m Mask) Types() []Type {
	types := make([]Type, 0, m.Len())
	for v := uint32(m); v != 0; v &= v - 1 {
		types = append(types, Type(bits.TrailingZeros32(v)))
	}
	return types
}

func (m Mask) String() string {
	if m == 0 {
		return "{}"
	}
	names := make([]string, 0, m.Len())
	for _, t := range m.Types() {
		names = append(names, t.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

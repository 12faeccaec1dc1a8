package layer

import (
	"fmt"

	"github.com/gogpu/terra/quadtree"
)

// LevelCell1M is the first level whose heightmap cells are about one meter
// across.
const LevelCell1M = 15

// LevelSide610M is the first level whose tiles are about 610 meters across.
const LevelSide610M = 14

// MeshRecordSize is the size of one indirect draw record in the mesh buffer.
const MeshRecordSize = 16

// Params holds the static description of a layer.
type Params struct {
	// Resolution is the edge length of one tile in texels, border included.
	Resolution uint32

	// Border is the number of texels duplicated from neighbors on each edge.
	Border uint32

	Format TextureFormat

	// MinLevel and MaxLevel bound the levels at which the layer exists.
	MinLevel uint8
	MaxLevel uint8

	// StreamedLevels is the number of levels, counted from the root, at
	// which the layer is streamed from storage instead of generated.
	StreamedLevels uint8

	// Mesh marks layers stored as indirect draw records instead of a
	// texture array.
	Mesh bool

	// Dynamic marks layers regenerated every frame by a batch generator.
	// They never go stale and are neither streamed nor scheduled per node.
	Dynamic bool
}

// InRange reports whether the layer exists at level.
func (p Params) InRange(level uint8) bool {
	return level >= p.MinLevel && level <= p.MaxLevel
}

// StreamedAt reports whether the layer is streamed at level.
func (p Params) StreamedAt(level uint8) bool {
	return level < p.StreamedLevels
}

// Table holds the parameters of every layer type.
type Table [Count]Params

// DefaultTable returns the layer parameters used by the default generators.
func DefaultTable() Table {
	var t Table
	t[Heightmaps] = Params{Resolution: 261, Border: 2, Format: FormatR32F, MinLevel: 0, MaxLevel: quadtree.MaxLevel, StreamedLevels: 6}
	t[Displacements] = Params{Resolution: 65, Border: 0, Format: FormatRGBA32F, MinLevel: 0, MaxLevel: quadtree.MaxLevel}
	t[Albedo] = Params{Resolution: 261, Border: 2, Format: FormatRGBA8, MinLevel: 0, MaxLevel: LevelCell1M}
	t[Normals] = Params{Resolution: 261, Border: 2, Format: FormatRG8, MinLevel: 0, MaxLevel: LevelCell1M}
	t[BaseAlbedo] = Params{Resolution: 261, Border: 2, Format: FormatRGBA8, MinLevel: 0, MaxLevel: 5, StreamedLevels: 6}
	t[TreeCover] = Params{Resolution: 261, Border: 2, Format: FormatR8, MinLevel: 0, MaxLevel: 7, StreamedLevels: 8}
	t[TreeAttributes] = Params{Resolution: 261, Border: 2, Format: FormatRGBA8, MinLevel: 0, MaxLevel: LevelCell1M}
	t[GrassCanopy] = Params{Resolution: 128, Border: 0, Format: FormatRGBA8, MinLevel: LevelCell1M - 3, MaxLevel: LevelCell1M}
	t[TerrainMesh] = Params{MinLevel: 0, MaxLevel: quadtree.MaxLevel, Mesh: true}
	t[GrassMesh] = Params{MinLevel: LevelCell1M - 2, MaxLevel: LevelCell1M, Mesh: true}
	t[AerialPerspective] = Params{Resolution: 17, Border: 0, Format: FormatRGBA32F, MinLevel: 0, MaxLevel: LevelSide610M, Dynamic: true}
	return t
}

// InRange returns the layers that exist at level.
func (t *Table) InRange(level uint8) Mask {
	var m Mask
	for i := range t {
		if t[i].InRange(level) {
			m |= Type(i).Mask()
		}
	}
	return m
}

// Generatable returns the layers that exist at level and are produced by
// per-node generators rather than streamed there. Dynamic layers are
// excluded.
func (t *Table) Generatable(level uint8) Mask {
	var m Mask
	for i := range t {
		if t[i].InRange(level) && !t[i].StreamedAt(level) && !t[i].Dynamic {
			m |= Type(i).Mask()
		}
	}
	return m
}

// Streamed returns the layers that are streamed at level.
func (t *Table) Streamed(level uint8) Mask {
	var m Mask
	for i := range t {
		if t[i].InRange(level) && t[i].StreamedAt(level) {
			m |= Type(i).Mask()
		}
	}
	return m
}

// Dynamic returns the layers regenerated every frame.
func (t *Table) Dynamic() Mask {
	var m Mask
	for i := range t {
		if t[i].Dynamic {
			m |= Type(i).Mask()
		}
	}
	return m
}

// Validate checks the table for inconsistent parameters.
func (t *Table) Validate() error {
	for i := range t {
		p := t[i]
		name := Type(i).String()
		if p.MinLevel > p.MaxLevel {
			return fmt.Errorf("layer %s: min level %d above max level %d", name, p.MinLevel, p.MaxLevel)
		}
		if p.MaxLevel > quadtree.MaxLevel {
			return fmt.Errorf("layer %s: max level %d above quadtree max %d", name, p.MaxLevel, quadtree.MaxLevel)
		}
		if p.Dynamic && (p.Mesh || p.StreamedLevels > 0) {
			return fmt.Errorf("layer %s: dynamic layers must be unstreamed texture layers", name)
		}
		if p.Mesh {
			if p.StreamedLevels > 0 {
				return fmt.Errorf("layer %s: mesh layers cannot be streamed", name)
			}
			continue
		}
		if p.Resolution == 0 || p.Format == FormatNone {
			return fmt.Errorf("layer %s: texture layers need a resolution and format", name)
		}
		if 2*p.Border >= p.Resolution {
			return fmt.Errorf("layer %s: border %d too large for resolution %d", name, p.Border, p.Resolution)
		}
	}
	return nil
}

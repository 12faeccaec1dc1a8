package generate

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/terra/internal/gpucore"
	"github.com/gogpu/terra/layer"
)

// tileData returns the array layer of t addressed by slots, or nil when the
// slot is -1.
func tileData(inv gpucore.Invocation, slots [slotArray]int32, t layer.Type) []byte {
	if slots[t] < 0 {
		return nil
	}
	return inv.TextureLayer(Binding(t), uint32(slots[t]))
}

// grid maps tile fractions to texel coordinates of one layer. Fraction 0
// is the first texel inside the border and 1 the last one.
type grid struct {
	res    int
	border float64
	span   float64
}

func gridOf(p layer.Params) grid {
	span := float64(p.Resolution) - 2*float64(p.Border) - 1
	if span < 1 {
		span = 1
	}
	return grid{res: int(p.Resolution), border: float64(p.Border), span: span}
}

// fraction returns the tile fraction at texel i.
func (g grid) fraction(i int) float64 { return (float64(i) - g.border) / g.span }

// texel returns the texel coordinate at tile fraction f.
func (g grid) texel(f float64) float64 { return g.border + f*g.span }

func (g grid) clamp(i int) int {
	return min(max(i, 0), g.res-1)
}

// bilinear samples a channel at continuous texel coordinates, clamped to
// the tile edge.
func (g grid) bilinear(x, y float64, at func(i int) float64) float64 {
	x0, y0 := math.Floor(x), math.Floor(y)
	tx, ty := x-x0, y-y0
	ix, iy := int(x0), int(y0)
	get := func(dx, dy int) float64 {
		return at(g.clamp(iy+dy)*g.res + g.clamp(ix+dx))
	}
	top := get(0, 0)*(1-tx) + get(1, 0)*tx
	bottom := get(0, 1)*(1-tx) + get(1, 1)*tx
	return top*(1-ty) + bottom*ty
}

func f32At(data []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
}

func putF32(data []byte, i int, v float32) {
	binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
}

// f32Channel reads element i of a float texture with the given channel
// count.
func f32Channel(data []byte, channels, channel int) func(int) float64 {
	return func(i int) float64 { return float64(f32At(data, i*channels+channel)) }
}

// u8Channel reads element i of an 8-bit texture with the given channel
// count, normalized to [0, 1].
func u8Channel(data []byte, channels, channel int) func(int) float64 {
	return func(i int) float64 { return float64(data[i*channels+channel]) / 255 }
}

func unorm8(v float64) uint8 {
	return uint8(math.Round(min(max(v, 0), 1) * 255))
}

// childFraction maps a fraction of a child to the matching fraction of its
// parent.
func childFraction(f float64, childOffset uint32) float64 {
	return (f + float64(childOffset)) / 2
}

// ancestorFraction maps a fraction of a node at coordinate c to the
// matching fraction of its ancestor generations levels up.
func ancestorFraction(f float64, c uint32, generations uint32) float64 {
	scale := uint32(1) << generations
	return (float64(c%scale) + f) / float64(scale)
}

func putRecord(data []byte, offset uint32, fields ...uint32) {
	for i, v := range fields {
		binary.LittleEndian.PutUint32(data[int(offset)+4*i:], v)
	}
}

func recordField(data []byte, offset uint32, field int) uint32 {
	return binary.LittleEndian.Uint32(data[int(offset)+4*field:])
}

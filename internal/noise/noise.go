// Package noise synthesizes placeholder terrain from Perlin noise.
//
// Heights are evaluated on the unit sphere, so neighboring tiles and cube
// faces agree at their shared edges.
package noise

import (
	"math"

	"github.com/aquilax/go-perlin"
)

const (
	alpha   = 2.0 // Smoothing
	beta    = 2.0 // Frequency multiplier between octaves
	octaves = int32(6)

	// BaseScale is the frequency of the coarsest octave on the unit sphere.
	BaseScale = 3.0

	// Amplitude is the height in meters of the base noise.
	Amplitude = 4000.0

	// SeaLevelOffset lifts the noise so about two thirds of the surface is
	// land.
	SeaLevelOffset = 800.0
)

// Field is a deterministic height and color field.
type Field struct {
	base   *perlin.Perlin
	detail *perlin.Perlin
	cover  *perlin.Perlin
}

// New creates a field from a seed.
func New(seed int64) *Field {
	return &Field{
		base:   perlin.NewPerlin(alpha, beta, octaves, seed),
		detail: perlin.NewPerlin(alpha, beta, 3, seed+1),
		cover:  perlin.NewPerlin(alpha, beta, 2, seed+2),
	}
}

// Height returns the base elevation in meters at a unit-sphere point.
func (f *Field) Height(p [3]float64) float64 {
	return f.base.Noise3D(p[0]*BaseScale, p[1]*BaseScale, p[2]*BaseScale)*Amplitude + SeaLevelOffset
}

// Detail returns extra elevation for a cell of the given size in meters,
// added when a tile is refined below the streamed levels.
func (f *Field) Detail(p [3]float64, cellSize float64) float64 {
	freq := 6371000.0 / math.Max(cellSize*16, 1)
	return f.detail.Noise3D(p[0]*freq, p[1]*freq, p[2]*freq) * cellSize * 0.5
}

// TreeCover returns forest density in [0, 1].
func (f *Field) TreeCover(p [3]float64) float64 {
	v := f.cover.Noise3D(p[0]*8, p[1]*8, p[2]*8)
	return math.Min(math.Max(v*1.5+0.3, 0), 1)
}

// Albedo returns an RGB color for a height in meters.
func Albedo(height float64) [3]uint8 {
	switch {
	case height <= 0:
		return [3]uint8{20, 50, 110}
	case height < 200:
		return [3]uint8{194, 178, 128}
	case height < 1800:
		return [3]uint8{70, 110, 50}
	case height < 3200:
		return [3]uint8{110, 95, 80}
	default:
		return [3]uint8{240, 240, 245}
	}
}

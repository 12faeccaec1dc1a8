package readback

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/terra/layer"
)

// Heightmap is a CPU mirror of one heightmap tile, border included.
// Exactly one of I16 and F32 is set.
type Heightmap struct {
	Resolution int
	// I16 holds quarter-meter samples.
	I16 []int16
	// F32 holds meters.
	F32 []float32
	// Min and Max are in meters.
	Min, Max float32
}

// At returns the height in meters of texel (x, y).
func (h *Heightmap) At(x, y int) float32 {
	i := y*h.Resolution + x
	if h.I16 != nil {
		return float32(h.I16[i]) * 0.25
	}
	return h.F32[i]
}

// NewHeightmapI16 wraps quarter-meter samples, as streamed from storage.
func NewHeightmapI16(res int, samples []int16) *Heightmap {
	h := &Heightmap{Resolution: res, I16: samples}
	h.computeRange()
	return h
}

func (h *Heightmap) computeRange() {
	h.Min, h.Max = float32(math.Inf(1)), float32(math.Inf(-1))
	for y := range h.Resolution {
		for x := range h.Resolution {
			v := h.At(x, y)
			h.Min = min(h.Min, v)
			h.Max = max(h.Max, v)
		}
	}
}

// Decode converts a row-padded copy of a heightmap layer into a dense
// heightmap. bytesPerRow is the padded row size used by the copy.
func Decode(data []byte, format layer.TextureFormat, res int, bytesPerRow int) (*Heightmap, error) {
	row := int(format.RowBytes(uint32(res)))
	if bytesPerRow < row {
		return nil, fmt.Errorf("readback: row pitch %d below row size %d", bytesPerRow, row)
	}
	if need := bytesPerRow*(res-1) + row; len(data) < need {
		return nil, fmt.Errorf("readback: %d bytes, want at least %d", len(data), need)
	}

	h := &Heightmap{Resolution: res}
	n := res * res
	switch format {
	case layer.FormatR16:
		h.I16 = make([]int16, n)
		for y := range res {
			for x := range res {
				v := binary.LittleEndian.Uint16(data[y*bytesPerRow+2*x:])
				h.I16[y*res+x] = int16(int32(v) - 0x8000)
			}
		}
	case layer.FormatR32:
		h.F32 = make([]float32, n)
		for y := range res {
			for x := range res {
				v := int32(binary.LittleEndian.Uint32(data[y*bytesPerRow+4*x:]))
				h.F32[y*res+x] = float32(v)
			}
		}
	case layer.FormatR32F:
		h.F32 = make([]float32, n)
		for y := range res {
			for x := range res {
				h.F32[y*res+x] = math.Float32frombits(binary.LittleEndian.Uint32(data[y*bytesPerRow+4*x:]))
			}
		}
	default:
		return nil, fmt.Errorf("readback: unsupported heightmap format %s", format)
	}
	h.computeRange()
	return h, nil
}

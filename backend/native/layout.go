package native

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/terra/internal/gpucore"
)

// Texture arrays live in storage buffers with one 32-bit aligned element
// per texel, layers back to back. Texels narrower than four bytes are
// zero-extended to a full element. Block compressed layers are stored as
// their packed rows, padded to a word.

// texelLayout describes how one texture array is laid out on the GPU.
type texelLayout struct {
	// texel is the tightly packed size of one texel.
	texel uint32
	// stride is the GPU element size of one texel.
	stride uint32
	width  uint32
	height uint32
}

func newTexelLayout(desc gpucore.TextureDesc) (texelLayout, error) {
	if blockCompressed(desc.Format) {
		return texelLayout{
			texel:  desc.RowBytes,
			stride: (desc.RowBytes + 3) &^ 3,
			width:  1,
			height: desc.Height,
		}, nil
	}
	if desc.Width == 0 || desc.RowBytes%desc.Width != 0 {
		return texelLayout{}, fmt.Errorf("native: texture %q: %d byte rows do not hold %d whole texels", desc.Label, desc.RowBytes, desc.Width)
	}
	texel := desc.RowBytes / desc.Width
	return texelLayout{
		texel:  texel,
		stride: (max(texel, 4) + 3) &^ 3,
		width:  desc.Width,
		height: desc.Height,
	}, nil
}

// blockCompressed reports whether shaders cannot address single texels of
// format. UASTC has no GPU format and is transcoded before use.
func blockCompressed(format gputypes.TextureFormat) bool {
	switch format {
	case gputypes.TextureFormatBC4RUnorm, gputypes.TextureFormatBC5RGUnorm, gputypes.TextureFormatUndefined:
		return true
	}
	return false
}

// layerBytes returns the GPU size of one array layer.
func (l texelLayout) layerBytes() uint64 {
	return uint64(l.stride) * uint64(l.width) * uint64(l.height)
}

// rowBytes returns the GPU size of one row.
func (l texelLayout) rowBytes() uint64 {
	return uint64(l.stride) * uint64(l.width)
}

// packed reports whether GPU rows match the tightly packed layout.
func (l texelLayout) packed() bool { return l.stride == l.texel }

// expand converts one tightly packed layer to the GPU layout.
func (l texelLayout) expand(data []byte) []byte {
	if l.packed() {
		return data
	}
	out := make([]byte, l.layerBytes())
	n := int(l.width * l.height)
	for i := range n {
		copy(out[i*int(l.stride):], data[i*int(l.texel):(i+1)*int(l.texel)])
	}
	return out
}

// spirvWords converts little-endian SPIR-V bytes to words.
func spirvWords(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("native: SPIR-V of %d bytes is not word aligned", len(b))
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = uint32(b[4*i]) |
			uint32(b[4*i+1])<<8 |
			uint32(b[4*i+2])<<16 |
			uint32(b[4*i+3])<<24
	}
	return words, nil
}

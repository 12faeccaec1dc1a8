package layer

import "github.com/gogpu/gputypes"

// TextureFormat is the element format of a texture layer.
type TextureFormat uint8

const (
	FormatNone TextureFormat = iota
	FormatR8
	FormatRG8
	FormatRGBA8
	FormatSRGBA8
	FormatRG16F
	FormatRGBA16F
	// FormatR16 stores signed 16-bit samples with a 0x8000 bias.
	FormatR16
	FormatR32
	FormatR32F
	FormatRG32F
	FormatRGBA32F
	FormatBC4
	FormatBC5
	FormatUASTC
)

type formatInfo struct {
	name          string
	bytesPerBlock uint32
	blockSize     uint32
	gpu           gputypes.TextureFormat
}

var formats = [...]formatInfo{
	FormatNone:    {"none", 0, 1, gputypes.TextureFormatUndefined},
	FormatR8:      {"r8", 1, 1, gputypes.TextureFormatR8Unorm},
	FormatRG8:     {"rg8", 2, 1, gputypes.TextureFormatRG8Unorm},
	FormatRGBA8:   {"rgba8", 4, 1, gputypes.TextureFormatRGBA8Unorm},
	FormatSRGBA8:  {"srgba8", 4, 1, gputypes.TextureFormatRGBA8UnormSrgb},
	FormatRG16F:   {"rg16f", 4, 1, gputypes.TextureFormatRG16Float},
	FormatRGBA16F: {"rgba16f", 8, 1, gputypes.TextureFormatRGBA16Float},
	FormatR16:     {"r16", 2, 1, gputypes.TextureFormatR16Sint},
	FormatR32:     {"r32", 4, 1, gputypes.TextureFormatR32Sint},
	FormatR32F:    {"r32f", 4, 1, gputypes.TextureFormatR32Float},
	FormatRG32F:   {"rg32f", 8, 1, gputypes.TextureFormatRG32Float},
	FormatRGBA32F: {"rgba32f", 16, 1, gputypes.TextureFormatRGBA32Float},
	FormatBC4:     {"bc4", 8, 4, gputypes.TextureFormatBC4RUnorm},
	FormatBC5:     {"bc5", 16, 4, gputypes.TextureFormatBC5RGUnorm},
	// No GPU sampling format: UASTC is transcoded before upload.
	FormatUASTC: {"uastc", 16, 4, gputypes.TextureFormatUndefined},
}

func (f TextureFormat) String() string { return formats[f].name }

// BytesPerBlock returns the size in bytes of one block (one texel for
// uncompressed formats).
func (f TextureFormat) BytesPerBlock() uint32 { return formats[f].bytesPerBlock }

// BlockSize returns the edge length in texels of one block.
func (f TextureFormat) BlockSize() uint32 { return formats[f].blockSize }

// Compressed reports whether the format is block compressed.
func (f TextureFormat) Compressed() bool { return formats[f].blockSize > 1 }

// GPUFormat returns the matching GPU texture format.
func (f TextureFormat) GPUFormat() gputypes.TextureFormat { return formats[f].gpu }

// RowBytes returns the tightly packed size of one row of blocks for a
// texture of the given resolution.
func (f TextureFormat) RowBytes(resolution uint32) uint32 {
	blocks := (resolution + f.BlockSize() - 1) / f.BlockSize()
	return blocks * f.BytesPerBlock()
}

// LayerBytes returns the tightly packed size of one square texture layer.
func (f TextureFormat) LayerBytes(resolution uint32) uint32 {
	rows := (resolution + f.BlockSize() - 1) / f.BlockSize()
	return rows * f.RowBytes(resolution)
}

// RowPitchAlignment is the row alignment required for texture to buffer
// copies.
const RowPitchAlignment = 256

// AlignedRowBytes returns RowBytes rounded up to RowPitchAlignment.
func (f TextureFormat) AlignedRowBytes(resolution uint32) uint32 {
	row := f.RowBytes(resolution)
	return (row + RowPitchAlignment - 1) / RowPitchAlignment * RowPitchAlignment
}

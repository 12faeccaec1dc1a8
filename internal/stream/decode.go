package stream

import (
	"bytes"
	"fmt"
	"image"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/storage"
)

// Tile is decoded tile data. The concrete types are Heightmap, Albedo and
// TreeCover.
type Tile interface {
	Layer() layer.Type
}

// Heightmap holds quarter-meter height samples, row-major with border.
type Heightmap struct {
	Samples []int16
}

// Albedo holds non-premultiplied RGBA8 texels.
type Albedo struct {
	RGBA []byte
}

// TreeCover holds one density byte per texel. Luma is empty when the
// store has no tile, meaning no trees.
type TreeCover struct {
	Luma []byte
}

func (Heightmap) Layer() layer.Type { return layer.Heightmaps }
func (Albedo) Layer() layer.Type    { return layer.BaseAlbedo }
func (TreeCover) Layer() layer.Type { return layer.TreeCover }

// Decode converts stored bytes into a tile of layer t. found is false when
// the store had no tile.
func Decode(t layer.Type, p layer.Params, data []byte, found bool) (Tile, error) {
	res := int(p.Resolution)
	switch t {
	case layer.Heightmaps:
		if !found {
			return nil, fmt.Errorf("heightmap tile missing")
		}
		samples, err := storage.DecodeHeightmap(data, res*res)
		if err != nil {
			return nil, err
		}
		return Heightmap{Samples: samples}, nil

	case layer.BaseAlbedo:
		if !found {
			return nil, fmt.Errorf("base albedo tile missing")
		}
		src, err := decodeImage(data)
		if err != nil {
			return nil, err
		}
		dst := image.NewNRGBA(image.Rect(0, 0, res, res))
		fit(dst, src)
		return Albedo{RGBA: dst.Pix}, nil

	case layer.TreeCover:
		if !found {
			return TreeCover{}, nil
		}
		src, err := decodeImage(data)
		if err != nil {
			return nil, err
		}
		dst := image.NewGray(image.Rect(0, 0, res, res))
		fit(dst, src)
		return TreeCover{Luma: dst.Pix}, nil
	}
	return nil, fmt.Errorf("layer %s is not streamable", t)
}

func decodeImage(data []byte) (image.Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	slogger().Debug("decoded tile image", "format", format, "bounds", img.Bounds())
	return img, nil
}

// fit copies src into dst, rescaling when the stored image has a
// different resolution than the layer.
func fit(dst draw.Image, src image.Image) {
	if src.Bounds().Size() == dst.Bounds().Size() {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
		return
	}
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
}

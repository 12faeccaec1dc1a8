package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"golang.org/x/image/tiff"

	"github.com/gogpu/terra/internal/noise"
	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
	"github.com/gogpu/terra/storage"
)

// seedingStore fills streamed tiles from a noise field the first time
// they are read, and writes them through so later runs find them stored.
type seedingStore struct {
	storage.Store
	layers *layer.Table
	field  *noise.Field
}

func newSeedingStore(s storage.Store, layers *layer.Table, seed int64) *seedingStore {
	return &seedingStore{Store: s, layers: layers, field: noise.New(seed)}
}

func (s *seedingStore) ReadTile(ctx context.Context, t layer.Type, node quadtree.VNode) ([]byte, bool, error) {
	data, found, err := s.Store.ReadTile(ctx, t, node)
	if err != nil || found {
		return data, found, err
	}
	p := s.layers[t]
	if !p.InRange(node.Level()) || !p.StreamedAt(node.Level()) {
		return nil, false, nil
	}

	switch t {
	case layer.Heightmaps:
		data = storage.EncodeHeightmap(s.heights(node, p))
	case layer.BaseAlbedo:
		data, err = s.albedo(node, p)
	case layer.TreeCover:
		data, err = s.treeCover(node, p)
	default:
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("seed %s %s: %w", t, node, err)
	}
	if err := s.Store.WriteTile(ctx, t, node, data); err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// sample calls fn with the unit-sphere point of every texel of a tile,
// border included.
func sample(node quadtree.VNode, p layer.Params, fn func(x, y int, point [3]float64)) {
	res := int(p.Resolution)
	span := max(float64(p.Resolution)-2*float64(p.Border)-1, 1)
	for y := range res {
		fv := (float64(y) - float64(p.Border)) / span
		for x := range res {
			fu := (float64(x) - float64(p.Border)) / span
			fn(x, y, node.UnitPoint(fu, fv))
		}
	}
}

func (s *seedingStore) heights(node quadtree.VNode, p layer.Params) []int16 {
	res := int(p.Resolution)
	samples := make([]int16, res*res)
	sample(node, p, func(x, y int, point [3]float64) {
		h := math.Round(s.field.Height(point) * storage.HeightScale)
		samples[y*res+x] = int16(min(max(h, math.MinInt16), math.MaxInt16))
	})
	return samples
}

func (s *seedingStore) albedo(node quadtree.VNode, p layer.Params) ([]byte, error) {
	res := int(p.Resolution)
	img := image.NewNRGBA(image.Rect(0, 0, res, res))
	sample(node, p, func(x, y int, point [3]float64) {
		c := noise.Albedo(s.field.Height(point))
		img.SetNRGBA(x, y, color.NRGBA{R: c[0], G: c[1], B: c[2], A: 255})
	})
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *seedingStore) treeCover(node quadtree.VNode, p layer.Params) ([]byte, error) {
	res := int(p.Resolution)
	img := image.NewGray(image.Rect(0, 0, res, res))
	sample(node, p, func(x, y int, point [3]float64) {
		cover := 0.0
		if s.field.Height(point) > 0 {
			cover = s.field.TreeCover(point)
		}
		img.SetGray(x, y, color.Gray{Y: uint8(math.Round(cover * 255))})
	})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

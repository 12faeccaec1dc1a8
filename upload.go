package terra

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/terra/internal/metrics"
	"github.com/gogpu/terra/internal/readback"
	"github.com/gogpu/terra/internal/stream"
	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/storage"
)

// UploadTiles drains the streamed tiles that are ready and writes them into
// their layer textures. It never blocks.
func (c *TileCache) UploadTiles() {
	if c.closed {
		return
	}
	for {
		r, ok := c.streamer.TryComplete()
		if !ok {
			break
		}
		t := r.Tile.Layer()
		metrics.StreamResults.WithLabelValues(t.String()).Inc()

		e := c.lookup(r.Node)
		if e == nil {
			Logger().Debug("streamed tile dropped", "node", r.Node, "layer", t, "reason", "evicted")
			continue
		}
		e.streaming = e.streaming.Without(t.Mask())

		p := c.layers[t]
		if !p.InRange(r.Node.Level()) {
			continue
		}
		slot, _ := c.globalSlot(r.Node)
		index := c.resources.Slots.LayerIndex(p, slot, r.Node.Level())

		data := c.texels(r.Tile, p)
		if hm, ok := r.Tile.(stream.Heightmap); ok {
			e.heightmap = readback.NewHeightmapI16(int(p.Resolution), hm.Samples)
		}
		c.device.WriteTextureLayer(c.resources.Textures[t], uint32(index), data)
		e.valid |= t.Mask()
		e.generators[t] = 0
	}
	metrics.StreamInFlight.Set(float64(c.streamer.InFlight()))
}

// texels converts a decoded tile into the bytes of one texture layer.
func (c *TileCache) texels(tile stream.Tile, p layer.Params) []byte {
	size := int(p.Format.LayerBytes(p.Resolution))
	var data []byte
	switch v := tile.(type) {
	case stream.Heightmap:
		data = heightTexels(v.Samples, p.Format)
	case stream.Albedo:
		data = v.RGBA
	case stream.TreeCover:
		data = v.Luma
		if len(data) == 0 {
			data = make([]byte, size)
		}
	default:
		panic(fmt.Sprintf("terra: unexpected streamed tile %T", tile))
	}
	if len(data) != size {
		panic(fmt.Sprintf("terra: streamed %s tile has %d bytes, layer needs %d", tile.Layer(), len(data), size))
	}
	return data
}

// heightTexels encodes quarter-meter samples in a heightmap texture format.
func heightTexels(samples []int16, format layer.TextureFormat) []byte {
	bpp := int(format.BytesPerBlock())
	data := make([]byte, len(samples)*bpp)
	for i, s := range samples {
		switch format {
		case layer.FormatR32F:
			binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(float32(s)/storage.HeightScale))
		case layer.FormatR32:
			binary.LittleEndian.PutUint32(data[4*i:], uint32(int32(s)/storage.HeightScale))
		case layer.FormatR16:
			binary.LittleEndian.PutUint16(data[2*i:], uint16(int32(s)+0x8000))
		default:
			panic(fmt.Sprintf("terra: unsupported heightmap format %s", format))
		}
	}
	return data
}

// DownloadTiles drains finished heightmap readbacks into the CPU mirrors.
// Buffers always return to the pool; the mirror is dropped when its node
// was evicted in the meantime.
func (c *TileCache) DownloadTiles() {
	if c.closed {
		return
	}
	for {
		done, ok := c.readback.TryComplete()
		if !ok {
			break
		}
		c.freeBuffers = append(c.freeBuffers, done.Buffer)
		if done.Err != nil {
			metrics.ReadbackCompleted.WithLabelValues("error").Inc()
			Logger().Warn("heightmap readback failed", "node", done.Node, "error", done.Err)
			continue
		}
		e := c.lookup(done.Node)
		if e == nil {
			metrics.ReadbackCompleted.WithLabelValues("dropped").Inc()
			Logger().Debug("heightmap readback dropped", "node", done.Node, "reason", "evicted")
			continue
		}
		metrics.ReadbackCompleted.WithLabelValues("stored").Inc()
		e.heightmap = done.Heightmap
	}
}

package storage

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
)

// Compressed wraps a store and zstd-encodes tiles on the way in.
type Compressed struct {
	Store
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressed wraps s. Closing the result closes s.
func NewCompressed(s Store) (*Compressed, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("storage: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("storage: zstd decoder: %w", err)
	}
	return &Compressed{Store: s, encoder: enc, decoder: dec}, nil
}

func (c *Compressed) ReadTile(ctx context.Context, t layer.Type, node quadtree.VNode) ([]byte, bool, error) {
	data, ok, err := c.Store.ReadTile(ctx, t, node)
	if err != nil || !ok {
		return nil, ok, err
	}
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, false, fmt.Errorf("storage: decompress %s %s: %w", t, node, err)
	}
	return out, true, nil
}

func (c *Compressed) WriteTile(ctx context.Context, t layer.Type, node quadtree.VNode, data []byte) error {
	return c.Store.WriteTile(ctx, t, node, c.encoder.EncodeAll(data, nil))
}

func (c *Compressed) Close() error {
	c.decoder.Close()
	err := c.encoder.Close()
	if serr := c.Store.Close(); serr != nil {
		return serr
	}
	return err
}

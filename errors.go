package terra

import "errors"

var (
	// ErrClosed is returned by TileCache methods called after Close.
	ErrClosed = errors.New("terra: tile cache closed")

	// ErrInvalidGenerators is returned by NewTileCache when a generator
	// reads a layer that no earlier generator produces and that is never
	// streamed.
	ErrInvalidGenerators = errors.New("terra: invalid generator list")
)

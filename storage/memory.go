package storage

import (
	"context"
	"sync"

	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
)

type tileKey struct {
	layer layer.Type
	node  quadtree.VNode
}

// Memory keeps tiles in a map.
type Memory struct {
	mu    sync.RWMutex
	tiles map[tileKey][]byte
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tiles: make(map[tileKey][]byte)}
}

// ReadTile returns a copy of the stored tile.
func (m *Memory) ReadTile(_ context.Context, t layer.Type, node quadtree.VNode) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.tiles[tileKey{t, node}]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

// WriteTile stores a copy of data.
func (m *Memory) WriteTile(_ context.Context, t layer.Type, node quadtree.VNode, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiles[tileKey{t, node}] = append([]byte(nil), data...)
	return nil
}

// Len returns the number of stored tiles.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tiles)
}

func (m *Memory) Close() error { return nil }

package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
)

// FileStore keeps one file per tile at <root>/<layer>/<face>/<level>/<x>/<y>.
type FileStore struct {
	root string
}

var _ Store = (*FileStore)(nil)

// NewFileStore uses root, creating it if needed.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("storage: file store needs a path")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(t layer.Type, node quadtree.VNode) string {
	return filepath.Join(s.root, filepath.FromSlash(Key(t, node)))
}

func (s *FileStore) ReadTile(_ context.Context, t layer.Type, node quadtree.VNode) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(t, node))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: read %s %s: %w", t, node, err)
	}
	return data, true, nil
}

// WriteTile writes to a temporary file and renames it, so readers never
// see a partial tile.
func (s *FileStore) WriteTile(_ context.Context, t layer.Type, node quadtree.VNode, data []byte) error {
	path := s.path(t, node)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("storage: write %s %s: %w", t, node, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("storage: write %s %s: %w", t, node, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("storage: write %s %s: %w", t, node, err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

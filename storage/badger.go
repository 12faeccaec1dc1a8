package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
)

// Badger stores tiles in an embedded badger database.
type Badger struct {
	db *badger.DB
}

var _ Store = (*Badger)(nil)

// NewBadger opens the database in dir. An empty dir keeps it in memory.
func NewBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) ReadTile(_ context.Context, t layer.Type, node quadtree.VNode) ([]byte, bool, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(Key(t, node)))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: badger read %s %s: %w", t, node, err)
	}
	return data, true, nil
}

func (b *Badger) WriteTile(_ context.Context, t layer.Type, node quadtree.VNode, data []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(Key(t, node)), data)
	})
	if err != nil {
		return fmt.Errorf("storage: badger write %s %s: %w", t, node, err)
	}
	return nil
}

func (b *Badger) Close() error { return b.db.Close() }

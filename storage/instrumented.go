package storage

import (
	"context"
	"time"

	"github.com/gogpu/terra/internal/metrics"
	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
)

// Instrumented records the latency of every operation of the wrapped store.
type Instrumented struct {
	Store
}

// NewInstrumented wraps s. Closing the result closes s.
func NewInstrumented(s Store) *Instrumented { return &Instrumented{Store: s} }

func (s *Instrumented) ReadTile(ctx context.Context, t layer.Type, node quadtree.VNode) ([]byte, bool, error) {
	defer observe("read", time.Now())
	return s.Store.ReadTile(ctx, t, node)
}

func (s *Instrumented) WriteTile(ctx context.Context, t layer.Type, node quadtree.VNode, data []byte) error {
	defer observe("write", time.Now())
	return s.Store.WriteTile(ctx, t, node, data)
}

func observe(op string, start time.Time) {
	metrics.StorageDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

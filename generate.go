package terra

import (
	"fmt"

	"github.com/gogpu/terra/internal/generate"
	"github.com/gogpu/terra/internal/gpucore"
	"github.com/gogpu/terra/internal/metrics"
	"github.com/gogpu/terra/internal/readback"
	"github.com/gogpu/terra/internal/stream"
	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
)

// download is a heightmap copy recorded this frame.
type download struct {
	node   quadtree.VNode
	buffer gpucore.BufferID
}

// frame holds the state of one GenerateTiles call.
type frame struct {
	ctx       *generate.Context
	generated int
	batched   int
	downloads []download
}

// begin starts recording on first use.
func (c *TileCache) begin(f *frame) {
	if f.ctx == nil {
		f.ctx = c.resources.Begin("generate tiles")
		f.ctx.Camera = c.camera
	}
}

// GenerateTiles finds the missing layers of every resident node, requests
// streamed ones and runs generators for the rest, within the frame budget.
// Dynamic layers are then regenerated by the batch generators, outside the
// budget. All generator work of the frame is submitted in one command
// sequence.
//
// The returned error wraps stream.ErrWorkerStopped when storage failed, or
// reports a device failure.
func (c *TileCache) GenerateTiles() error {
	if c.closed {
		return ErrClosed
	}
	if err := c.streamer.Err(); err != nil {
		return fmt.Errorf("terra: %w: %w", stream.ErrWorkerStopped, err)
	}
	candidates, requested, err := c.classify()
	c.stats.StreamRequests = requested
	if err != nil {
		return fmt.Errorf("terra: %w", err)
	}

	f := &frame{}
	examined := 0
	for _, n := range candidates {
		if f.generated >= c.opts.frameBudget {
			break
		}
		if err := c.generateNode(f, n); err != nil {
			c.abandon(f)
			return err
		}
		examined++
	}
	if err := c.runBatchGenerators(f); err != nil {
		c.abandon(f)
		return err
	}

	deferred := len(candidates) - examined
	c.stats.Candidates = len(candidates)
	c.stats.Deferred = deferred
	c.stats.TilesGenerated = f.generated
	c.stats.BatchNodes = f.batched
	metrics.GenerationDeferred.Add(float64(deferred))
	metrics.StreamInFlight.Set(float64(c.streamer.InFlight()))

	return c.flush(f)
}

// classify walks every resident node above the cutoff, requests streamed
// layers within the streaming budget and returns the nodes with
// generatable work in discovery order.
func (c *TileCache) classify() (candidates []quadtree.VNode, requested int, err error) {
	queued := make(map[quadtree.VNode]bool)
	dynamic := c.layers.Dynamic()
	for level, lc := range c.levels {
		inRange := c.layers.InRange(uint8(level)).Without(dynamic)
		streamed := c.layers.Streamed(uint8(level))
		for i := range lc.Slots() {
			s := lc.At(i)
			if s.Priority <= quadtree.Cutoff {
				continue
			}
			e := s.Value
			missing := inRange.Without(e.valid | e.streaming)
			for _, t := range missing.Intersect(streamed).Types() {
				if c.streamer.InFlight() >= c.opts.streamingBudget {
					break
				}
				e.streaming |= t.Mask()
				if err := c.streamer.RequestTile(s.Key, t); err != nil {
					e.streaming = e.streaming.Without(t.Mask())
					return candidates, requested, err
				}
				requested++
				metrics.StreamRequests.WithLabelValues(t.String()).Inc()
			}
			if !missing.Without(streamed).Empty() && !queued[s.Key] {
				queued[s.Key] = true
				candidates = append(candidates, s.Key)
			}
		}
	}
	return candidates, requested, nil
}

// generateNode runs, in list order, every generator that can make progress
// on n.
func (c *TileCache) generateNode(f *frame, n quadtree.VNode) error {
	level := n.Level()
	slot, ok := c.globalSlot(n)
	if !ok {
		panic(fmt.Sprintf("terra: candidate %s is not resident", n))
	}
	e := c.lookup(n)

	parentSlot := -1
	var parent *entry
	if p, _, ok := n.Parent(); ok {
		if ps, ok := c.globalSlot(p); ok {
			parentSlot, parent = ps, c.lookup(p)
		}
	}
	legal := c.generatable[level]

	for gi, g := range c.generators {
		if f.generated >= c.opts.frameBudget {
			return nil
		}
		outputs := g.Outputs(level)
		peer := g.PeerInputs(level)
		parentInputs := g.ParentInputs(level)

		if outputs.Without(e.valid).Intersect(legal).Empty() {
			continue
		}
		if !e.valid.Contains(peer) {
			continue
		}
		if level == 0 && !parentInputs.Empty() {
			continue
		}
		if level > 0 && (parent == nil || !parent.valid.Contains(parentInputs)) {
			continue
		}
		if outputs.Has(layer.Heightmaps) && c.readbackExhausted() {
			continue
		}
		ancestors, ok := c.resolveAncestors(n, e, g.AncestorInputs(level))
		if !ok {
			continue
		}

		out := outputs.Intersect(legal).Without(e.valid)
		target := generate.NewTarget(n, slot, parentSlot, out)
		target.Ancestors = ancestors
		c.begin(f)
		if err := g.Generate(f.ctx, target); err != nil {
			return fmt.Errorf("terra: generator %s on %s: %w", g.Name(), n, err)
		}

		provenance := layer.GeneratorBit(gi).
			Union(provenanceOf(e, peer)).
			Union(provenanceOf(parent, parentInputs))
		e.valid |= out
		for _, t := range out.Types() {
			e.generators[t] = provenance
		}
		f.generated++
		metrics.TilesGenerated.WithLabelValues(g.Name()).Inc()
		Logger().Debug("tile generated", "node", n, "generator", g.Name(), "outputs", out)

		if out.Has(layer.Heightmaps) && level <= c.opts.readbackMaxLevel {
			if err := c.planDownload(f, n, slot); err != nil {
				return err
			}
		}
	}
	return nil
}

// runBatchGenerators records one dispatch per batch generator covering
// every eligible node. A dynamic layer is valid exactly on the nodes
// covered this frame.
func (c *TileCache) runBatchGenerators(f *frame) error {
	for _, g := range c.batch {
		out := g.Output()
		nodes := c.batchNodes(out, g.Dependencies())
		if len(nodes) == 0 {
			continue
		}
		c.begin(f)
		if err := g.GenerateBatch(f.ctx, nodes); err != nil {
			return fmt.Errorf("terra: batch generator %s: %w", g.Name(), err)
		}
		for _, n := range nodes {
			c.lookup(n.Node).valid |= out.Mask()
		}
		f.batched += len(nodes)
		metrics.TilesGenerated.WithLabelValues(g.Name()).Add(float64(len(nodes)))
		Logger().Debug("batch generated", "generator", g.Name(), "nodes", len(nodes))
	}
	return nil
}

// batchNodes clears out on every resident node in out's level range and
// returns those with priority at or above the cutoff whose valid layers
// include deps.
func (c *TileCache) batchNodes(out layer.Type, deps layer.Mask) []generate.BatchNode {
	p := c.layers[out]
	var nodes []generate.BatchNode
	for level := int(p.MinLevel); level <= int(p.MaxLevel); level++ {
		lc := c.levels[level]
		for i := range lc.Slots() {
			s := lc.At(i)
			e := s.Value
			e.valid = e.valid.Without(out.Mask())
			if s.Priority < quadtree.Cutoff || !e.valid.Contains(deps) {
				continue
			}
			nodes = append(nodes, generate.BatchNode{
				Node: s.Key,
				Slot: c.resources.Slots.Global(uint8(level), i),
			})
		}
	}
	return nodes
}

// resolveAncestors finds the provider of every ancestor input of n. A layer
// is read from n itself while n is within the layer's level range, and
// from the ancestor at the layer's max level below it. Nodes above the
// layer's min level can never satisfy the input.
func (c *TileCache) resolveAncestors(n quadtree.VNode, e *entry, inputs layer.Mask) ([layer.Count]generate.AncestorRef, bool) {
	var refs [layer.Count]generate.AncestorRef
	for i := range refs {
		refs[i].Slot = -1
	}
	level := n.Level()
	for _, t := range inputs.Types() {
		p := c.layers[t]
		switch {
		case level < p.MinLevel:
			return refs, false
		case level <= p.MaxLevel:
			if !e.valid.Has(t) {
				return refs, false
			}
			slot, _ := c.globalSlot(n)
			refs[t] = generate.AncestorRef{Slot: slot}
		default:
			anc, generations, ok := n.FindAncestor(func(a quadtree.VNode) bool { return a.Level() == p.MaxLevel })
			if !ok || !c.Contains(anc, t) {
				return refs, false
			}
			slot, _ := c.globalSlot(anc)
			refs[t] = generate.AncestorRef{Slot: slot, Generations: generations}
		}
	}
	return refs, true
}

func provenanceOf(e *entry, inputs layer.Mask) layer.GeneratorMask {
	if e == nil {
		return 0
	}
	var m layer.GeneratorMask
	for _, t := range inputs.Types() {
		m |= e.generators[t]
	}
	return m
}

func (c *TileCache) readbackExhausted() bool {
	return len(c.freeBuffers) == 0 && len(c.allBuffers) >= c.opts.readbackBuffers
}

// planDownload records a copy of the node's heightmap into a pooled
// buffer.
func (c *TileCache) planDownload(f *frame, n quadtree.VNode, slot int) error {
	var buf gpucore.BufferID
	if k := len(c.freeBuffers); k > 0 {
		buf = c.freeBuffers[k-1]
		c.freeBuffers = c.freeBuffers[:k-1]
	} else {
		var err error
		buf, err = c.device.CreateBuffer(gpucore.BufferDesc{
			Label: "heightmap readback",
			Size:  c.bufferSize,
			Usage: gpucore.BufferUsageMapRead | gpucore.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("terra: create readback buffer: %w", err)
		}
		c.allBuffers = append(c.allBuffers, buf)
		metrics.ReadbackBuffers.Set(float64(len(c.allBuffers)))
	}

	p := c.layers[layer.Heightmaps]
	index := c.resources.Slots.LayerIndex(p, slot, n.Level())
	f.ctx.Encoder.CopyTextureToBuffer(c.resources.Textures[layer.Heightmaps], uint32(index), buf, c.bufferPitch)
	f.downloads = append(f.downloads, download{node: n, buffer: buf})
	return nil
}

// flush uploads the frame's uniforms, submits its commands and hands the
// planned downloads to the readback worker.
func (c *TileCache) flush(f *frame) error {
	if f.ctx == nil {
		return nil
	}
	if err := c.resources.Submit(f.ctx); err != nil {
		c.abandon(f)
		return fmt.Errorf("terra: %w", err)
	}

	p := c.layers[layer.Heightmaps]
	for _, d := range f.downloads {
		c.readback.Submit(readback.Request{
			Node:        d.node,
			Buffer:      d.buffer,
			Future:      c.device.MapRead(d.buffer),
			Format:      p.Format,
			Resolution:  int(p.Resolution),
			BytesPerRow: int(c.bufferPitch),
		})
	}
	return nil
}

// abandon returns the buffers of downloads that will never be submitted.
func (c *TileCache) abandon(f *frame) {
	for _, d := range f.downloads {
		c.freeBuffers = append(c.freeBuffers, d.buffer)
	}
	f.downloads = nil
}

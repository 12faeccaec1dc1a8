package terra

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gogpu/terra/internal/cache"
	"github.com/gogpu/terra/internal/generate"
	"github.com/gogpu/terra/internal/gpucore"
	"github.com/gogpu/terra/internal/metrics"
	"github.com/gogpu/terra/internal/readback"
	"github.com/gogpu/terra/internal/shader"
	"github.com/gogpu/terra/internal/stream"
	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
	"github.com/gogpu/terra/storage"
)

const numLevels = quadtree.MaxLevel + 1

// entry is the payload of one cache slot.
type entry struct {
	// valid holds the layers whose GPU data is current.
	valid layer.Mask
	// streaming holds the layers with an outstanding stream request.
	streaming layer.Mask
	// heightmap is the CPU mirror of the heightmap layer, nil when absent.
	heightmap *readback.Heightmap
	// generators records, per layer, every generator that contributed to
	// the layer's current contents.
	generators [layer.Count]layer.GeneratorMask
}

func newEntry(quadtree.VNode) *entry { return &entry{} }

type levelCache = cache.PriorityCache[quadtree.VNode, *entry]

// TileCache decides every frame which tiles are resident, which of their
// layers are stale and how to produce them.
//
// All methods belong to the frame goroutine: TileCache is not safe for
// concurrent use. The stream and readback workers only hand immutable
// results back through channels drained by UploadTiles and DownloadTiles.
type TileCache struct {
	opts       options
	layers     *layer.Table
	device     gpucore.Device
	resources  *generate.Resources
	generators []generate.Generator
	batch      []generate.BatchGenerator
	watcher    *shader.Watcher
	camera     [3]float64

	levels      [numLevels]*levelCache
	generatable [numLevels]layer.Mask

	streamer *stream.Streamer
	readback *readback.Worker

	// Readback buffer pool.
	freeBuffers []gpucore.BufferID
	allBuffers  []gpucore.BufferID
	bufferPitch uint32
	bufferSize  uint64

	stats  Stats
	closed bool
}

// Stats describes the state of the cache after the last frame.
type Stats struct {
	Frames uint64
	// Resident and Capacity count slots over all levels.
	Resident int
	Capacity int
	// Evicted is the number of nodes evicted by the last Update.
	Evicted int
	// Candidates is the number of nodes with generatable work found by the
	// last GenerateTiles; Deferred of them were left for later frames.
	Candidates int
	Deferred   int
	// TilesGenerated counts generator invocations of the last frame.
	TilesGenerated int
	// BatchNodes counts the nodes covered by batch generators in the last
	// frame.
	BatchNodes int
	// StreamRequests counts requests issued by the last frame.
	StreamRequests      int
	StreamInFlight      int
	ReadbackOutstanding int
	ReadbackBuffers     int
	FreeReadbackBuffers int
}

// DefaultCapacities returns the per-level slot counts: 6 at the root,
// growing fourfold per level up to 192.
func DefaultCapacities() []int {
	caps := make([]int, numLevels)
	n := 6
	for level := range caps {
		caps[level] = min(n, 192)
		n *= 4
	}
	return caps
}

// NewTileCache creates a tile cache generating on dev and streaming from
// store. The cache does not own store.
func NewTileCache(dev gpucore.Device, store storage.Store, opts ...Option) (*TileCache, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.layers == nil {
		t := layer.DefaultTable()
		o.layers = &t
	}
	if err := o.layers.Validate(); err != nil {
		return nil, fmt.Errorf("terra: %w", err)
	}
	if o.capacities == nil {
		o.capacities = DefaultCapacities()
	}
	if len(o.capacities) != numLevels {
		return nil, fmt.Errorf("terra: %d level capacities, want %d", len(o.capacities), numLevels)
	}
	for level, n := range o.capacities {
		if n <= 0 {
			return nil, fmt.Errorf("terra: level %d capacity %d, want > 0", level, n)
		}
	}
	if o.generators == nil {
		o.generators = DefaultGenerators(o.seed)
		if o.batchGenerators == nil {
			o.batchGenerators = DefaultBatchGenerators()
		}
	}

	c := &TileCache{opts: o, layers: o.layers, device: dev}
	if err := c.init(store); err != nil {
		c.release()
		return nil, err
	}
	Logger().Info("tile cache ready",
		"backend", dev.Name(),
		"generators", len(c.generators),
		"batch_generators", len(c.batch),
		"slots", c.resources.Slots.Total())
	return c, nil
}

func (c *TileCache) init(store storage.Store) error {
	o := &c.opts

	loader := shader.Loader{Dir: o.shaderDir}
	if o.shaderDir != "" {
		w, err := shader.NewWatcher()
		if err != nil {
			return fmt.Errorf("terra: %w", err)
		}
		c.watcher = w
		loader.Watcher = w
	}
	gens, err := o.generators(loader, c.layers)
	if err != nil {
		return fmt.Errorf("terra: build generators: %w", err)
	}
	c.generators = gens
	if err := validateGenerators(gens, c.layers); err != nil {
		return err
	}
	if o.batchGenerators != nil {
		batch, err := o.batchGenerators(loader, c.layers)
		if err != nil {
			return fmt.Errorf("terra: build batch generators: %w", err)
		}
		c.batch = batch
		if err := validateBatchGenerators(batch, gens, c.layers); err != nil {
			return err
		}
	}

	c.resources, err = generate.NewResources(c.device, c.layers, o.capacities, o.frameBudget+len(c.batch))
	if err != nil {
		return fmt.Errorf("terra: %w", err)
	}

	for level := range c.levels {
		c.levels[level] = cache.NewPriority[quadtree.VNode, *entry](o.capacities[level])
		c.generatable[level] = c.layers.Generatable(uint8(level))
	}

	h := c.layers[layer.Heightmaps]
	rows := (h.Resolution + h.Format.BlockSize() - 1) / h.Format.BlockSize()
	c.bufferPitch = alignRowBytes(h.Format.RowBytes(h.Resolution))
	c.bufferSize = uint64(c.bufferPitch) * uint64(rows)

	c.streamer = stream.New(o.ctx, store, c.layers, stream.Options{
		Budget:      o.streamingBudget,
		Concurrency: o.streamConcurrency,
	})
	c.readback = readback.New(readback.Options{Ceiling: o.readbackBuffers})
	return nil
}

// CopyRowAlignment is the row pitch alignment of texture to buffer copies.
const CopyRowAlignment = 256

func alignRowBytes(n uint32) uint32 {
	return (n + CopyRowAlignment - 1) &^ (CopyRowAlignment - 1)
}

// validateGenerators checks that every input of every generator is either
// streamed somewhere or produced by an earlier generator. A generator may
// read its own outputs from the parent node.
func validateGenerators(gens []generate.Generator, table *layer.Table) error {
	if len(gens) > layer.MaxGenerators {
		return fmt.Errorf("%w: %d generators, at most %d", ErrInvalidGenerators, len(gens), layer.MaxGenerators)
	}
	var available layer.Mask
	for level := range uint8(numLevels) {
		available |= table.Streamed(level)
	}

	var errs []error
	for i, g := range gens {
		var outputs, peer, parent, ancestor layer.Mask
		for level := range uint8(numLevels) {
			outputs |= g.Outputs(level)
			peer |= g.PeerInputs(level)
			parent |= g.ParentInputs(level)
			ancestor |= g.AncestorInputs(level)
		}
		if m := outputs.Intersect(table.Dynamic()); !m.Empty() {
			errs = append(errs, fmt.Errorf("generator %d (%s) writes dynamic layers %s", i, g.Name(), m))
		}
		if m := peer.Union(ancestor).Without(available); !m.Empty() {
			errs = append(errs, fmt.Errorf("generator %d (%s) reads %s before any generator produces it", i, g.Name(), m))
		}
		if m := parent.Without(available.Union(outputs)); !m.Empty() {
			errs = append(errs, fmt.Errorf("generator %d (%s) reads %s from its parent, which nothing produces", i, g.Name(), m))
		}
		available |= outputs
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidGenerators, errors.Join(errs...))
	}
	return nil
}

// validateBatchGenerators checks that every batch generator writes its own
// dynamic layer and depends only on streamed or generated layers.
func validateBatchGenerators(batch []generate.BatchGenerator, gens []generate.Generator, table *layer.Table) error {
	var available layer.Mask
	for level := range uint8(numLevels) {
		available |= table.Streamed(level)
		for _, g := range gens {
			available |= g.Outputs(level)
		}
	}

	var errs []error
	var written layer.Mask
	for i, g := range batch {
		out := g.Output()
		switch {
		case int(out) >= layer.Count || !table[out].Dynamic:
			errs = append(errs, fmt.Errorf("batch generator %d (%s) writes %s, which is not dynamic", i, g.Name(), out))
		case written.Has(out):
			errs = append(errs, fmt.Errorf("batch generator %d (%s) writes %s, already written by another", i, g.Name(), out))
		}
		written |= out.Mask()
		if m := g.Dependencies().Without(available); !m.Empty() {
			errs = append(errs, fmt.Errorf("batch generator %d (%s) depends on %s, which nothing produces", i, g.Name(), m))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidGenerators, errors.Join(errs...))
	}
	return nil
}

// Update recomputes priorities with priority and admits or evicts nodes.
// Slot assignments only change here.
func (c *TileCache) Update(priority quadtree.PriorityFunc) {
	if c.closed {
		return
	}
	for _, lc := range c.levels {
		lc.UpdatePriorities(priority)
	}

	quadtree.BreadthFirst(func(n quadtree.VNode) bool {
		p := priority(n)
		if p < quadtree.Cutoff {
			return false
		}
		c.levels[n.Level()].AddMissing(n, p)
		return true
	})

	evicted := 0
	for level, lc := range c.levels {
		gone := lc.LoadMissing(newEntry)
		if len(gone) > 0 {
			evicted += len(gone)
			metrics.Evictions.WithLabelValues(strconv.Itoa(level)).Add(float64(len(gone)))
		}
		metrics.Resident.WithLabelValues(strconv.Itoa(level)).Set(float64(lc.Len()))
	}
	c.stats.Evicted = evicted
}

// Frame runs one frame: Update, RefreshGenerators, UploadTiles,
// GenerateTiles and DownloadTiles, in that order.
//
// An error means the stream worker died or the device failed; the cache
// cannot make progress and should be closed.
func (c *TileCache) Frame(priority quadtree.PriorityFunc) error {
	if c.closed {
		return ErrClosed
	}
	start := time.Now()
	defer func() { metrics.FrameDuration.Observe(time.Since(start).Seconds()) }()

	c.Update(priority)
	c.RefreshGenerators()
	c.UploadTiles()
	if err := c.GenerateTiles(); err != nil {
		return err
	}
	c.DownloadTiles()
	c.stats.Frames++
	return nil
}

// SetCamera sets the viewer position, in meters, that batch generators
// render against from the next frame on.
func (c *TileCache) SetCamera(pos [3]float64) { c.camera = pos }

// Stats returns cache statistics.
func (c *TileCache) Stats() Stats {
	s := c.stats
	s.Resident, s.Capacity = 0, 0
	for _, lc := range c.levels {
		s.Resident += lc.Len()
		s.Capacity += lc.Capacity()
	}
	if c.streamer != nil {
		s.StreamInFlight = c.streamer.InFlight()
	}
	if c.readback != nil {
		s.ReadbackOutstanding = c.readback.Outstanding()
	}
	s.ReadbackBuffers = len(c.allBuffers)
	s.FreeReadbackBuffers = len(c.freeBuffers)
	return s
}

// Close stops both workers and releases GPU resources. The device and the
// store stay open.
func (c *TileCache) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.release()
}

func (c *TileCache) release() error {
	if c.streamer != nil {
		c.streamer.Close()
	}
	if c.readback != nil {
		c.readback.Close()
	}
	for _, g := range c.generators {
		if r, ok := g.(interface{ Release() }); ok {
			r.Release()
		}
	}
	for _, g := range c.batch {
		if r, ok := g.(interface{ Release() }); ok {
			r.Release()
		}
	}
	for _, id := range c.allBuffers {
		c.device.DestroyBuffer(id)
	}
	c.allBuffers, c.freeBuffers = nil, nil
	if c.resources != nil {
		c.resources.Release()
	}
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

// lookup returns the entry of a resident node.
func (c *TileCache) lookup(n quadtree.VNode) *entry {
	s, ok := c.levels[n.Level()].Entry(n)
	if !ok {
		return nil
	}
	return s.Value
}

// globalSlot returns the slot of a resident node across all levels.
func (c *TileCache) globalSlot(n quadtree.VNode) (int, bool) {
	i, ok := c.levels[n.Level()].Slot(n)
	if !ok {
		return -1, false
	}
	return c.resources.Slots.Global(n.Level(), i), true
}

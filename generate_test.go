package terra

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/gogpu/terra/backend/software"
	"github.com/gogpu/terra/internal/generate"
	"github.com/gogpu/terra/internal/shader"
	"github.com/gogpu/terra/internal/stream"
	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
	"github.com/gogpu/terra/storage"
)

// slowStore delays every read.
type slowStore struct {
	storage.Store
	delay time.Duration
}

func (s slowStore) ReadTile(ctx context.Context, t layer.Type, node quadtree.VNode) ([]byte, bool, error) {
	time.Sleep(s.delay)
	return s.Store.ReadTile(ctx, t, node)
}

// seedHeights stores a constant res x res heightmap of (10*level + face)
// meters for every node.
func seedHeights(t *testing.T, store storage.Store, res int, nodes ...quadtree.VNode) {
	t.Helper()
	for _, n := range nodes {
		samples := make([]int16, res*res)
		for i := range samples {
			samples[i] = int16(storage.HeightScale * (10*int(n.Level()) + int(n.Face())))
		}
		if err := store.WriteTile(context.Background(), layer.Heightmaps, n, storage.EncodeHeightmap(samples)); err != nil {
			t.Fatalf("WriteTile(%s) error = %v", n, err)
		}
	}
}

// levelOne returns the children of every root.
func levelOne() []quadtree.VNode {
	var nodes []quadtree.VNode
	for _, r := range quadtree.Roots() {
		children := r.Children()
		nodes = append(nodes, children[:]...)
	}
	return nodes
}

// residents returns the entries of every resident node.
func residents(tc *TileCache) map[quadtree.VNode]*entry {
	out := make(map[quadtree.VNode]*entry)
	for _, lc := range tc.levels {
		for _, s := range lc.Slots() {
			out[s.Key] = s.Value
		}
	}
	return out
}

// =============================================================================
// Budgets
// =============================================================================

func TestGenerateTiles_FrameBudget(t *testing.T) {
	albedo := &fakeGen{name: "albedo", outputs: layer.Albedo.Mask()}
	tc, dev := newCache(t, nil,
		WithCapacities(levelCaps(6, 24)),
		WithFrameBudget(4),
		fakeGenerators(albedo))

	p := priorities{}.withRoots(2)
	for _, n := range levelOne() {
		p[n] = 2
	}

	const nodes = 30
	for frame := 1; frame <= 10; frame++ {
		mustFrame(t, tc, p)
		s := tc.Stats()
		if s.TilesGenerated > 4 {
			t.Fatalf("frame %d: TilesGenerated = %d, want <= 4", frame, s.TilesGenerated)
		}
		if got, want := len(albedo.targets), min(4*frame, nodes); got != want {
			t.Errorf("frame %d: %d generator calls, want %d", frame, got, want)
		}
	}

	seen := make(map[quadtree.VNode]bool)
	for _, n := range albedo.nodes() {
		if seen[n] {
			t.Errorf("albedo generated twice for %s", n)
		}
		seen[n] = true
		if !tc.Contains(n, layer.Albedo) {
			t.Errorf("Contains(%s, albedo) = false after generation", n)
		}
	}
	// Candidates are visited root first.
	for i, tgt := range albedo.targets[:6] {
		if !tgt.Node.IsRoot() {
			t.Errorf("target %d = %s, want a root", i, tgt.Node)
		}
	}
	if got := dev.Submissions(); got != 8 {
		t.Errorf("Submissions() = %d, want one per frame with work (8)", got)
	}
}

func TestGenerateTiles_StreamingBudget(t *testing.T) {
	const budget = 5
	mem := storage.NewMemory()
	roots := quadtree.Roots()
	seedHeights(t, mem, testRes, roots[:]...)
	seedHeights(t, mem, testRes, levelOne()...)

	table := testTable()
	table[layer.Heightmaps].StreamedLevels = 2
	tc, _ := newCache(t, slowStore{Store: mem, delay: 2 * time.Millisecond},
		WithLayers(table),
		WithCapacities(levelCaps(6, 24)),
		WithStreamingBudget(budget),
		WithStreamConcurrency(2))

	p := priorities{}.withRoots(2)
	for _, n := range levelOne() {
		p[n] = 2
	}

	check := func() {
		mustFrame(t, tc, p)
		if got := tc.Stats().StreamInFlight; got > budget {
			t.Fatalf("StreamInFlight = %d, want <= %d", got, budget)
		}
		if got := tc.Stats().StreamRequests; got > budget {
			t.Fatalf("StreamRequests = %d, want <= %d", got, budget)
		}
		for n, e := range residents(tc) {
			if both := e.valid & e.streaming; !both.Empty() {
				t.Fatalf("%s: layers %s both valid and streaming", n, both)
			}
		}
	}
	eventually(t, check, func() bool {
		for n := range residents(tc) {
			if !tc.Contains(n, layer.Heightmaps) {
				return false
			}
		}
		return true
	})

	for n, e := range residents(tc) {
		if e.heightmap == nil {
			t.Errorf("%s: streamed heightmap has no CPU mirror", n)
			continue
		}
		want := float32(10*int(n.Level()) + int(n.Face()))
		if e.heightmap.Max != want {
			t.Errorf("%s: mirror max = %v, want %v", n, e.heightmap.Max, want)
		}
		if !e.generators[layer.Heightmaps].Empty() {
			t.Errorf("%s: streamed heightmap has provenance %s", n, e.generators[layer.Heightmaps])
		}
	}
}

func TestGenerateTiles_WorkerStopped(t *testing.T) {
	table := testTable()
	table[layer.Heightmaps].StreamedLevels = 1
	tc, _ := newCache(t, nil, WithLayers(table))
	p := priorities{}.withRoots(2)

	var err error
	eventually(t, func() { err = tc.Frame(p.fn) }, func() bool { return err != nil })
	if !errors.Is(err, stream.ErrWorkerStopped) {
		t.Errorf("Frame() error = %v, want ErrWorkerStopped", err)
	}
}

// =============================================================================
// Inputs
// =============================================================================

// ancestorTable limits tree cover to levels 1 through 3.
func ancestorTable() layer.Table {
	table := testTable()
	table[layer.TreeCover].MinLevel = 1
	table[layer.TreeCover].MaxLevel = 3
	return table
}

func TestGenerateTiles_AncestorInputs(t *testing.T) {
	cover := &fakeGen{name: "cover", outputs: layer.TreeCover.Mask()}
	attrs := &fakeGen{name: "attrs", outputs: layer.TreeAttributes.Mask(), ancestor: layer.TreeCover.Mask()}
	tc, _ := newCache(t, nil, WithLayers(ancestorTable()), fakeGenerators(cover, attrs))

	nodes := chain(5)
	p := priorities{}
	for _, n := range nodes {
		p[n] = 2
	}
	// Resident but at the cutoff: level 3 gets no work.
	p[nodes[3]] = quadtree.Cutoff
	mustFrame(t, tc, p)

	tests := []struct {
		level uint8
		cover bool
		attrs bool
	}{
		{0, false, false}, // above the tree cover min level
		{1, true, true},
		{2, true, true}, // reads its own tree cover
		{3, false, false},
		{4, false, false}, // level 3 ancestor lacks tree cover
		{5, false, false},
	}
	for _, tt := range tests {
		n := nodes[tt.level]
		if got := tc.Contains(n, layer.TreeCover); got != tt.cover {
			t.Errorf("Contains(%s, tree-cover) = %v, want %v", n, got, tt.cover)
		}
		if got := tc.Contains(n, layer.TreeAttributes); got != tt.attrs {
			t.Errorf("Contains(%s, tree-attributes) = %v, want %v", n, got, tt.attrs)
		}
	}
	for _, tgt := range attrs.targets {
		if ref := tgt.Ancestors[layer.TreeCover]; ref.Generations != 0 || ref.Slot != tgt.Slot {
			t.Errorf("%s: tree cover provider = %+v, want the target itself (slot %d)", tgt.Node, ref, tgt.Slot)
		}
	}

	// Once level 3 has work, its descendants read tree cover from it.
	p[nodes[3]] = 2
	attrs.targets = nil
	mustFrame(t, tc, p)
	for _, level := range []uint8{3, 4, 5} {
		if !tc.Contains(nodes[level], layer.TreeAttributes) {
			t.Errorf("Contains(%s, tree-attributes) = false after level 3 got tree cover", nodes[level])
		}
	}
	ancestorSlot, _ := tc.Slot(nodes[3])
	for _, tgt := range attrs.targets {
		if tgt.Node.Level() <= 3 {
			continue
		}
		want := int(tgt.Node.Level()) - 3
		if ref := tgt.Ancestors[layer.TreeCover]; ref.Slot != ancestorSlot || ref.Generations != want {
			t.Errorf("%s: tree cover provider = %+v, want slot %d, %d generations", tgt.Node, ref, ancestorSlot, want)
		}
	}
}

func TestResolveAncestors(t *testing.T) {
	tc, _ := newCache(t, nil, WithLayers(ancestorTable()))
	nodes := chain(5)
	p := priorities{}
	for _, n := range nodes {
		p[n] = 2
	}
	tc.Update(p.fn)
	tc.lookup(nodes[2]).valid = layer.TreeCover.Mask()

	tests := []struct {
		level       uint8
		ok          bool
		provider    uint8
		generations int
	}{
		{0, false, 0, 0},
		{1, false, 0, 0},
		{2, true, 2, 0},
		{3, false, 0, 0},
		{4, false, 0, 0},
	}
	for _, tt := range tests {
		n := nodes[tt.level]
		refs, ok := tc.resolveAncestors(n, tc.lookup(n), layer.TreeCover.Mask())
		if ok != tt.ok {
			t.Errorf("resolveAncestors(%s) ok = %v, want %v", n, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		want, _ := tc.Slot(nodes[tt.provider])
		if ref := refs[layer.TreeCover]; ref.Slot != want || ref.Generations != tt.generations {
			t.Errorf("resolveAncestors(%s) = %+v, want slot %d, %d generations", n, ref, want, tt.generations)
		}
		if refs[layer.Heightmaps].Slot != -1 {
			t.Errorf("resolveAncestors(%s) set an unrequested provider", n)
		}
	}

	tc.lookup(nodes[3]).valid = layer.TreeCover.Mask()
	refs, ok := tc.resolveAncestors(nodes[5], tc.lookup(nodes[5]), layer.TreeCover.Mask())
	want, _ := tc.Slot(nodes[3])
	if !ok || refs[layer.TreeCover].Slot != want || refs[layer.TreeCover].Generations != 2 {
		t.Errorf("resolveAncestors(%s) = %+v, %v, want slot %d, 2 generations", nodes[5], refs[layer.TreeCover], ok, want)
	}
}

func TestGenerateTiles_PeerAndParentInputs(t *testing.T) {
	heights := &fakeGen{name: "heights", outputs: layer.Heightmaps.Mask(), parent: layer.Heightmaps.Mask()}
	normals := &fakeGen{name: "normals", outputs: layer.Normals.Mask(), peer: layer.Heightmaps.Mask()}
	tc, _ := newCache(t, nil, fakeGenerators(heights, normals))

	nodes := chain(2)
	p := priorities{}.withRoots(2)
	for _, n := range nodes {
		p[n] = 2
	}
	mustFrame(t, tc, p)

	// Roots cannot read a parent, so no heightmap ever appears and nothing
	// below them can start.
	if len(heights.targets) != 0 || len(normals.targets) != 0 {
		t.Errorf("generator calls = %d, %d, want 0, 0", len(heights.targets), len(normals.targets))
	}

	tc.lookup(nodes[0]).valid |= layer.Heightmaps.Mask()
	mustFrame(t, tc, p)
	if !tc.ContainsAll(nodes[2], layer.MaskOf(layer.Heightmaps, layer.Normals)) {
		t.Errorf("ContainsAll(%s, heightmaps|normals) = false", nodes[2])
	}
	if !tc.Contains(nodes[0], layer.Normals) {
		t.Errorf("Contains(%s, normals) = false with a valid peer heightmap", nodes[0])
	}
	for _, tgt := range heights.targets {
		parent, _, _ := tgt.Node.Parent()
		if want, _ := tc.Slot(parent); tgt.ParentSlot != want {
			t.Errorf("%s: ParentSlot = %d, want %d", tgt.Node, tgt.ParentSlot, want)
		}
	}
}

// =============================================================================
// Refresh
// =============================================================================

func TestRefreshGenerators(t *testing.T) {
	base := &fakeGen{name: "base", outputs: layer.Albedo.Mask()}
	derived := &fakeGen{name: "derived", outputs: layer.Normals.Mask(), peer: layer.Albedo.Mask()}
	other := &fakeGen{name: "other", outputs: layer.TreeAttributes.Mask()}
	tc, _ := newCache(t, nil, WithFrameBudget(20), fakeGenerators(base, derived, other))

	p := priorities{}.withRoots(2)
	mustFrame(t, tc, p)
	root := quadtree.Roots()[0]
	all := layer.MaskOf(layer.Albedo, layer.Normals, layer.TreeAttributes)
	if !tc.ContainsAll(root, all) {
		t.Fatalf("ContainsAll(%s) = false after first frame", root)
	}
	e := tc.lookup(root)
	if got, want := e.generators[layer.Normals], layer.GeneratorBit(0).Union(layer.GeneratorBit(1)); got != want {
		t.Errorf("normals provenance = %s, want %s", got, want)
	}

	if got := tc.RefreshGenerators(); !got.Empty() {
		t.Errorf("RefreshGenerators() = %s with no changes, want 0", got)
	}

	base.refresh = true
	if got := tc.RefreshGenerators(); got != layer.GeneratorBit(0) {
		t.Errorf("RefreshGenerators() = %s, want %s", got, layer.GeneratorBit(0))
	}
	for _, r := range quadtree.Roots() {
		if tc.Contains(r, layer.Albedo) || tc.Contains(r, layer.Normals) {
			t.Errorf("%s: layers built by the refreshed generator still valid", r)
		}
		if !tc.Contains(r, layer.TreeAttributes) {
			t.Errorf("%s: unrelated layer invalidated", r)
		}
	}

	calls := len(derived.targets)
	mustFrame(t, tc, p)
	if !tc.ContainsAll(root, all) {
		t.Errorf("ContainsAll(%s) = false after regeneration", root)
	}
	if got := len(derived.targets) - calls; got != 6 {
		t.Errorf("derived regenerated %d times, want 6", got)
	}
}

// =============================================================================
// Readback
// =============================================================================

func heightGenerators(height float32) (*fakeGen, Option) {
	g := &fakeGen{name: "heights", outputs: layer.Heightmaps.Mask(), height: height}
	return g, fakeGenerators(g)
}

func TestGenerateTiles_HeightReadback(t *testing.T) {
	gen, opt := heightGenerators(100)
	tc, _ := newCache(t, nil, opt, WithReadbackMaxLevel(1))

	nodes := chain(2)
	p := priorities{}.withRoots(2)
	for _, n := range nodes {
		p[n] = 2
	}
	eventually(t, func() { mustFrame(t, tc, p) }, func() bool {
		return mirror(tc, nodes[1]) != nil && tc.Stats().ReadbackOutstanding == 0
	})
	if len(gen.targets) != 8 {
		t.Errorf("%d heightmaps generated, want 8", len(gen.targets))
	}

	lat, lon := 0.3, 1.1
	n, _, _ := quadtree.FromCSpace(quadtree.PolarToCSpace(lat, lon), 0)
	eventually(t, func() { mustFrame(t, tc, p) }, func() bool { return mirror(tc, n) != nil })
	if h, ok := tc.Height(lat, lon, 0); !ok || math.Abs(float64(h)-100) > 1e-3 {
		t.Errorf("Height(%v, %v, 0) = %v, %v, want 100, true", lat, lon, h, ok)
	}
	if _, ok := tc.Height(lat, lon, 5); ok {
		t.Error("Height() at a level without residents reported ok")
	}

	// Level 2 is below the readback max level: no mirror.
	if mirror(tc, nodes[2]) != nil {
		t.Errorf("%s mirrored below the readback max level", nodes[2])
	}
	if lo, hi := tc.HeightRange(nodes[2]); lo != 0 || hi != 101+heightRangeMargin {
		t.Errorf("HeightRange(%s) = %v, %v, want 0, %v", nodes[2], lo, hi, 101+heightRangeMargin)
	}
	far := quadtree.NewVNode(3, 4, 5, 5)
	if lo, hi := tc.HeightRange(far); lo != 0 || hi != 100+heightRangeMargin {
		t.Errorf("HeightRange(%s) = %v, %v, want 0, %v", far, lo, hi, 100+heightRangeMargin)
	}

	s := tc.Stats()
	if s.FreeReadbackBuffers != s.ReadbackBuffers {
		t.Errorf("%d of %d readback buffers free, want all", s.FreeReadbackBuffers, s.ReadbackBuffers)
	}
}

func TestHeightRange_Defaults(t *testing.T) {
	tc, _ := newCache(t, nil)
	lo, hi := tc.HeightRange(quadtree.NewVNode(1, 3, 2, 2))
	if lo != DefaultMinHeight || hi != DefaultMaxHeight {
		t.Errorf("HeightRange() = %v, %v, want %v, %v", lo, hi, DefaultMinHeight, DefaultMaxHeight)
	}
}

func TestGenerateTiles_ReadbackPoolLimit(t *testing.T) {
	gen, opt := heightGenerators(0)
	tc, _ := newCache(t, nil, opt, WithReadbackBuffers(1))
	p := priorities{}.withRoots(2)

	mustFrame(t, tc, p)
	if len(gen.targets) != 1 {
		t.Fatalf("first frame generated %d heightmaps, want 1", len(gen.targets))
	}
	eventually(t, func() {
		mustFrame(t, tc, p)
		if s := tc.Stats(); s.ReadbackBuffers > 1 {
			t.Fatalf("ReadbackBuffers = %d, want <= 1", s.ReadbackBuffers)
		}
	}, func() bool { return len(gen.targets) == 6 })
}

func TestDownloadTiles_EvictedNode(t *testing.T) {
	gen, opt := heightGenerators(0)
	tc, _ := newCache(t, nil, opt, WithReadbackMaxLevel(1))

	f0 := quadtree.Roots()[0].Children()
	p := priorities{f0[0]: 2}.withRoots(2)
	tc.Update(p.fn)
	if err := tc.GenerateTiles(); err != nil {
		t.Fatalf("GenerateTiles() error = %v", err)
	}
	if len(gen.targets) != 7 {
		t.Fatalf("%d heightmaps generated, want 7", len(gen.targets))
	}

	// Fill level 1 with better nodes before the readback lands.
	p = priorities{f0[1]: 5, f0[2]: 5, f0[3]: 5}.withRoots(2)
	f1 := quadtree.Roots()[1].Children()
	p[f1[0]] = 5
	tc.Update(p.fn)
	if _, ok := tc.Slot(f0[0]); ok {
		t.Fatalf("%s still resident", f0[0])
	}

	eventually(t, tc.DownloadTiles, func() bool { return tc.Stats().ReadbackOutstanding == 0 })
	tc.DownloadTiles()
	s := tc.Stats()
	if s.FreeReadbackBuffers != s.ReadbackBuffers || s.ReadbackBuffers != 7 {
		t.Errorf("%d of %d readback buffers free, want 7 of 7", s.FreeReadbackBuffers, s.ReadbackBuffers)
	}
	for _, n := range f0[1:] {
		if mirror(tc, n) != nil {
			t.Errorf("%s received the mirror of an evicted node", n)
		}
	}
}

// =============================================================================
// Upload
// =============================================================================

func TestUploadTiles_OutOfRangeLayer(t *testing.T) {
	mem := storage.NewMemory()
	table := testTable()
	table[layer.TreeCover].StreamedLevels = 1
	table[layer.TreeCover].MinLevel = 1
	table[layer.TreeCover].MaxLevel = 2
	tc, _ := newCache(t, mem, WithLayers(table))

	root := quadtree.Roots()[2]
	tc.Update(priorities{}.withRoots(2).fn)
	e := tc.lookup(root)
	e.streaming |= layer.TreeCover.Mask()
	if err := tc.streamer.RequestTile(root, layer.TreeCover); err != nil {
		t.Fatalf("RequestTile() error = %v", err)
	}
	eventually(t, tc.UploadTiles, func() bool { return tc.streamer.InFlight() == 0 })

	if e.streaming.Has(layer.TreeCover) {
		t.Error("streaming bit not cleared")
	}
	if e.valid.Has(layer.TreeCover) {
		t.Error("out of range layer marked valid")
	}
}

func TestUploadTiles_EmptyTreeCover(t *testing.T) {
	table := testTable()
	table[layer.TreeCover].StreamedLevels = 1
	tc, dev := newCache(t, nil, WithLayers(table))
	p := priorities{}.withRoots(2)

	eventually(t, func() { mustFrame(t, tc, p) }, func() bool {
		for _, r := range quadtree.Roots() {
			if !tc.Contains(r, layer.TreeCover) {
				return false
			}
		}
		return true
	})
	root := quadtree.Roots()[0]
	i, _ := tc.LayerIndex(root, layer.TreeCover)
	for _, b := range dev.ReadTextureLayer(tc.Texture(layer.TreeCover), uint32(i)) {
		if b != 0 {
			t.Fatal("missing tree cover tile uploaded non-zero texels")
		}
	}
}

func TestHeightTexels(t *testing.T) {
	samples := []int16{-8, 0, 4, 40}
	tests := []struct {
		format layer.TextureFormat
		size   int
	}{
		{layer.FormatR32F, 16},
		{layer.FormatR32, 16},
		{layer.FormatR16, 8},
	}
	for _, tt := range tests {
		if got := heightTexels(samples, tt.format); len(got) != tt.size {
			t.Errorf("heightTexels(%s) has %d bytes, want %d", tt.format, len(got), tt.size)
		}
	}
}

// =============================================================================
// Batch generators
// =============================================================================

// fakeBatch is a batch generator that records every batch.
type fakeBatch struct {
	name    string
	out     layer.Type
	deps    layer.Mask
	batches [][]generate.BatchNode
}

func (g *fakeBatch) Name() string             { return g.name }
func (g *fakeBatch) Output() layer.Type       { return g.out }
func (g *fakeBatch) Dependencies() layer.Mask { return g.deps }
func (g *fakeBatch) NeedsRefresh() bool       { return false }

func (g *fakeBatch) GenerateBatch(ctx *generate.Context, nodes []generate.BatchNode) error {
	g.batches = append(g.batches, append([]generate.BatchNode(nil), nodes...))
	ctx.Uniforms.Append(make([]byte, 16))
	return nil
}

// last returns the nodes of the latest batch.
func (g *fakeBatch) last() map[quadtree.VNode]int {
	got := make(map[quadtree.VNode]int)
	if len(g.batches) > 0 {
		for _, n := range g.batches[len(g.batches)-1] {
			got[n.Node] = n.Slot
		}
	}
	return got
}

func fakeBatches(gens ...*fakeBatch) Option {
	list := make([]generate.BatchGenerator, len(gens))
	for i, g := range gens {
		list[i] = g
	}
	return WithBatchGenerators(func(shader.Loader, *layer.Table) ([]generate.BatchGenerator, error) {
		return list, nil
	})
}

func TestGenerateTiles_BatchCutoffAndLevels(t *testing.T) {
	table := testTable()
	table[layer.AerialPerspective].MaxLevel = 1
	ap := &fakeBatch{name: "haze", out: layer.AerialPerspective}
	tc, _ := newCache(t, nil, WithLayers(table), fakeBatches(ap))

	nodes := chain(2)
	p := priorities{}.withRoots(2)
	p[nodes[1]] = quadtree.Cutoff
	p[nodes[2]] = 2
	mustFrame(t, tc, p)

	if len(ap.batches) != 1 {
		t.Fatalf("%d batches after one frame, want 1", len(ap.batches))
	}
	got := ap.last()
	roots := quadtree.Roots()
	want := append(roots[:], nodes[1])
	if len(got) != len(want) {
		t.Errorf("batch = %v, want %v", got, want)
	}
	for _, n := range want {
		slot, ok := got[n]
		if !ok {
			t.Errorf("%s missing from the batch", n)
			continue
		}
		if g, _ := tc.globalSlot(n); slot != g {
			t.Errorf("%s: batch slot = %d, want %d", n, slot, g)
		}
		if !tc.Contains(n, layer.AerialPerspective) {
			t.Errorf("Contains(%s, aerial-perspective) = false after the batch", n)
		}
	}
	// Level 2 is past the layer's max level.
	if _, ok := got[nodes[2]]; ok || tc.Contains(nodes[2], layer.AerialPerspective) {
		t.Errorf("%s batched outside the layer's levels", nodes[2])
	}
	if s := tc.Stats(); s.BatchNodes != len(want) {
		t.Errorf("BatchNodes = %d, want %d", s.BatchNodes, len(want))
	}

	// Below the cutoff a resident node drops out and loses the layer.
	p[nodes[1]] = 0.5
	mustFrame(t, tc, p)
	if len(ap.batches) != 2 {
		t.Fatalf("%d batches after two frames, want 2", len(ap.batches))
	}
	if _, ok := ap.last()[nodes[1]]; ok {
		t.Errorf("%s batched below the cutoff", nodes[1])
	}
	if tc.lookup(nodes[1]) == nil {
		t.Fatalf("%s evicted", nodes[1])
	}
	if tc.Contains(nodes[1], layer.AerialPerspective) {
		t.Errorf("Contains(%s, aerial-perspective) = true without a batch", nodes[1])
	}
	if s := tc.Stats(); s.BatchNodes != 6 {
		t.Errorf("BatchNodes = %d, want 6", s.BatchNodes)
	}
}

func TestGenerateTiles_BatchDependencies(t *testing.T) {
	albedo := &fakeGen{name: "albedo", outputs: layer.Albedo.Mask()}
	ap := &fakeBatch{name: "haze", out: layer.AerialPerspective, deps: layer.Albedo.Mask()}
	tc, dev := newCache(t, nil,
		WithFrameBudget(3),
		fakeGenerators(albedo),
		fakeBatches(ap))

	p := priorities{}.withRoots(2)
	for frame := 1; frame <= 2; frame++ {
		mustFrame(t, tc, p)

		got := ap.last()
		want := 0
		for n := range residents(tc) {
			ready := tc.Contains(n, layer.Albedo)
			if ready {
				want++
			}
			if _, ok := got[n]; ok != ready {
				t.Errorf("frame %d: %s batched = %v, albedo valid = %v", frame, n, ok, ready)
			}
		}
		if want != 3*frame || len(got) != want {
			t.Errorf("frame %d: batch of %d nodes, %d with albedo, want %d", frame, len(got), want, 3*frame)
		}
	}
	if got := dev.Submissions(); got != 2 {
		t.Errorf("Submissions() = %d, want one per frame (2)", got)
	}
}

func TestNewTileCache_InvalidBatchGenerators(t *testing.T) {
	tests := []struct {
		name    string
		gens    []*fakeGen
		batches []*fakeBatch
	}{
		{
			name:    "static output",
			batches: []*fakeBatch{{name: "b", out: layer.Albedo}},
		},
		{
			name: "duplicate output",
			batches: []*fakeBatch{
				{name: "a", out: layer.AerialPerspective},
				{name: "b", out: layer.AerialPerspective},
			},
		},
		{
			name:    "unproduced dependency",
			batches: []*fakeBatch{{name: "b", out: layer.AerialPerspective, deps: layer.Normals.Mask()}},
		},
		{
			name: "generator writes dynamic layer",
			gens: []*fakeGen{{name: "g", outputs: layer.AerialPerspective.Mask()}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := software.New()
			defer dev.Close()
			_, err := NewTileCache(dev, storage.NewMemory(),
				WithLayers(testTable()),
				WithCapacities(levelCaps(6, 4)),
				fakeGenerators(tt.gens...),
				fakeBatches(tt.batches...))
			if !errors.Is(err, ErrInvalidGenerators) {
				t.Errorf("NewTileCache() error = %v, want ErrInvalidGenerators", err)
			}
		})
	}
}

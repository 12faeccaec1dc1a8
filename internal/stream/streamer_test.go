package stream

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/image/tiff"

	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
	"github.com/gogpu/terra/storage"
)

const testRes = 5

func testTable() *layer.Table {
	t := layer.DefaultTable()
	for i := range t {
		if !t[i].Mesh {
			t[i].Resolution = testRes
			t[i].Border = 1
		}
	}
	return &t
}

// waitResult polls TryComplete the way the frame loop does.
func waitResult(t *testing.T, s *Streamer) Result {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r, ok := s.TryComplete(); ok {
			return r
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no result within 5s")
	return Result{}
}

func waitDone(t *testing.T, s *Streamer) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// =============================================================================
// Decoding
// =============================================================================

func TestStreamer_Heightmap(t *testing.T) {
	store := storage.NewMemory()
	node := quadtree.Roots()[1]
	samples := make([]int16, testRes*testRes)
	for i := range samples {
		samples[i] = int16(i * 4)
	}
	if err := store.WriteTile(context.Background(), layer.Heightmaps, node, storage.EncodeHeightmap(samples)); err != nil {
		t.Fatal(err)
	}

	s := New(context.Background(), store, testTable(), Options{Budget: 4})
	defer s.Close()

	if err := s.RequestTile(node, layer.Heightmaps); err != nil {
		t.Fatalf("RequestTile() error = %v", err)
	}
	if s.InFlight() != 1 {
		t.Errorf("InFlight() = %d, want 1", s.InFlight())
	}

	r := waitResult(t, s)
	h, ok := r.Tile.(Heightmap)
	if !ok {
		t.Fatalf("Tile = %T, want Heightmap", r.Tile)
	}
	if r.Node != node || len(h.Samples) != len(samples) || h.Samples[7] != 28 {
		t.Errorf("result = %v %v", r.Node, h.Samples)
	}
	if s.InFlight() != 0 {
		t.Errorf("InFlight() after completion = %d, want 0", s.InFlight())
	}
}

func TestStreamer_TreeCoverAbsent(t *testing.T) {
	s := New(context.Background(), storage.NewMemory(), testTable(), Options{})
	defer s.Close()

	if err := s.RequestTile(quadtree.Roots()[0], layer.TreeCover); err != nil {
		t.Fatalf("RequestTile() error = %v", err)
	}
	r := waitResult(t, s)
	tc, ok := r.Tile.(TreeCover)
	if !ok || len(tc.Luma) != 0 {
		t.Errorf("Tile = %#v, want empty TreeCover", r.Tile)
	}
}

func TestDecode_Images(t *testing.T) {
	p := testTable()[layer.BaseAlbedo]

	exact := image.NewNRGBA(image.Rect(0, 0, testRes, testRes))
	for i := range exact.Pix {
		exact.Pix[i] = 200
		if i%4 == 3 {
			exact.Pix[i] = 255
		}
	}
	large := image.NewGray(image.Rect(0, 0, 4*testRes, 4*testRes))
	for i := range large.Pix {
		large.Pix[i] = 90
	}
	var tiffBuf bytes.Buffer
	if err := tiff.Encode(&tiffBuf, exact, nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		layer layer.Type
		data  []byte
		want  byte
	}{
		{"png albedo", layer.BaseAlbedo, encodePNG(t, exact), 200},
		{"tiff albedo", layer.BaseAlbedo, tiffBuf.Bytes(), 200},
		{"rescaled tree cover", layer.TreeCover, encodePNG(t, large), 90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tile, err := Decode(tt.layer, p, tt.data, true)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			var pix []byte
			switch v := tile.(type) {
			case Albedo:
				pix = v.RGBA
				if len(pix) != 4*testRes*testRes {
					t.Errorf("len(RGBA) = %d", len(pix))
				}
			case TreeCover:
				pix = v.Luma
				if len(pix) != testRes*testRes {
					t.Errorf("len(Luma) = %d", len(pix))
				}
			}
			// Rescaling may round by one step.
			if d := int(pix[0]) - int(tt.want); d < -1 || d > 1 {
				t.Errorf("first texel = %d, want %d", pix[0], tt.want)
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	p := testTable()[layer.Heightmaps]
	tests := []struct {
		name  string
		layer layer.Type
		data  []byte
		found bool
	}{
		{"missing heightmap", layer.Heightmaps, nil, false},
		{"short heightmap", layer.Heightmaps, []byte{1, 2}, true},
		{"missing albedo", layer.BaseAlbedo, nil, false},
		{"garbage image", layer.BaseAlbedo, []byte("not an image"), true},
		{"generated layer", layer.Normals, nil, true},
	}
	for _, tt := range tests {
		if _, err := Decode(tt.layer, p, tt.data, tt.found); err == nil {
			t.Errorf("%s: Decode() succeeded", tt.name)
		}
	}
}

// =============================================================================
// Worker lifecycle
// =============================================================================

func TestStreamer_FailureStopsWorker(t *testing.T) {
	s := New(context.Background(), storage.NewMemory(), testTable(), Options{})
	defer s.Close()

	if err := s.RequestTile(quadtree.Roots()[0], layer.Heightmaps); err != nil {
		t.Fatalf("RequestTile() error = %v", err)
	}
	waitDone(t, s)

	if s.Err() == nil {
		t.Error("Err() = nil after a missing heightmap")
	}
	err := s.RequestTile(quadtree.Roots()[1], layer.Heightmaps)
	if !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("RequestTile() error = %v, want ErrWorkerStopped", err)
	}
	if !errors.Is(err, s.Err()) {
		t.Errorf("RequestTile() error %v does not wrap %v", err, s.Err())
	}
}

type panicStore struct{ storage.Store }

func (panicStore) ReadTile(context.Context, layer.Type, quadtree.VNode) ([]byte, bool, error) {
	panic("disk on fire")
}

func TestStreamer_PanicBecomesError(t *testing.T) {
	s := New(context.Background(), panicStore{storage.NewMemory()}, testTable(), Options{})
	defer s.Close()

	if err := s.RequestTile(quadtree.Roots()[0], layer.TreeCover); err != nil {
		t.Fatalf("RequestTile() error = %v", err)
	}
	waitDone(t, s)
	if s.Err() == nil {
		t.Fatal("Err() = nil after a panicking store")
	}
	if !errors.Is(s.RequestTile(quadtree.Roots()[0], layer.TreeCover), ErrWorkerStopped) {
		t.Error("RequestTile() succeeded on a dead worker")
	}
}

// slowStore counts concurrent reads.
type slowStore struct {
	storage.Store
	active, peak atomic.Int32
}

func (s *slowStore) ReadTile(ctx context.Context, t layer.Type, n quadtree.VNode) ([]byte, bool, error) {
	cur := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		p := s.peak.Load()
		if cur <= p || s.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	return s.Store.ReadTile(ctx, t, n)
}

func TestStreamer_BacklogDrains(t *testing.T) {
	store := &slowStore{Store: storage.NewMemory()}
	s := New(context.Background(), store, testTable(), Options{Budget: 16, Concurrency: 2})
	defer s.Close()

	nodes := quadtree.Roots()[0].Children()
	for _, n := range nodes {
		for _, c := range n.Children() {
			if err := s.RequestTile(c, layer.TreeCover); err != nil {
				t.Fatalf("RequestTile() error = %v", err)
			}
		}
	}
	for range 16 {
		waitResult(t, s)
	}
	if s.InFlight() != 0 {
		t.Errorf("InFlight() = %d, want 0", s.InFlight())
	}
	if p := store.peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestStreamer_Close(t *testing.T) {
	s := New(context.Background(), storage.NewMemory(), testTable(), Options{})
	s.Close()
	s.Close()

	if s.Err() != nil {
		t.Errorf("Err() after Close = %v, want nil", s.Err())
	}
	if err := s.RequestTile(quadtree.Roots()[0], layer.TreeCover); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("RequestTile() after Close = %v, want ErrWorkerStopped", err)
	}
}

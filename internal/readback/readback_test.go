package readback

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/gogpu/terra/internal/gpucore"
	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
)

// manualFuture completes when resolve is called.
type manualFuture struct {
	done chan struct{}
	data []byte
	err  error
}

func newFuture() *manualFuture { return &manualFuture{done: make(chan struct{})} }

func (f *manualFuture) resolve(data []byte, err error) {
	f.data, f.err = data, err
	close(f.done)
}

func (f *manualFuture) Done() <-chan struct{} { return f.done }

func (f *manualFuture) Bytes() ([]byte, error) {
	<-f.done
	return f.data, f.err
}

// padded lays out res rows of values with the given pitch.
func padded(res, pitch, bpp int, put func(b []byte, i int)) []byte {
	data := make([]byte, pitch*res)
	for y := range res {
		for x := range res {
			put(data[y*pitch+bpp*x:], y*res+x)
		}
	}
	return data
}

func waitCompleted(t *testing.T, w *Worker) Completed {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c, ok := w.TryComplete(); ok {
			return c
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no completion within 5s")
	return Completed{}
}

// =============================================================================
// Decode
// =============================================================================

func TestDecode(t *testing.T) {
	const res, pitch = 3, 256

	tests := []struct {
		name    string
		format  layer.TextureFormat
		data    []byte
		want    []float32
		wantI16 bool
	}{
		{
			name:   "r32f",
			format: layer.FormatR32F,
			data: padded(res, pitch, 4, func(b []byte, i int) {
				binary.LittleEndian.PutUint32(b, math.Float32bits(float32(i)*1.5))
			}),
			want: []float32{0, 1.5, 3, 4.5, 6, 7.5, 9, 10.5, 12},
		},
		{
			name:   "r32 signed",
			format: layer.FormatR32,
			data: padded(res, pitch, 4, func(b []byte, i int) {
				binary.LittleEndian.PutUint32(b, uint32(int32(i-4)))
			}),
			want: []float32{-4, -3, -2, -1, 0, 1, 2, 3, 4},
		},
		{
			name:   "r16 biased",
			format: layer.FormatR16,
			data: padded(res, pitch, 2, func(b []byte, i int) {
				binary.LittleEndian.PutUint16(b, uint16(0x8000+4*(i-1)))
			}),
			want:    []float32{-1, 0, 1, 2, 3, 4, 5, 6, 7},
			wantI16: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := Decode(tt.data, tt.format, res, pitch)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if (h.I16 != nil) != tt.wantI16 {
				t.Errorf("I16 set = %v, want %v", h.I16 != nil, tt.wantI16)
			}
			for i, want := range tt.want {
				if got := h.At(i%res, i/res); got != want {
					t.Errorf("At(%d, %d) = %v, want %v", i%res, i/res, got, want)
				}
			}
			if h.Min != tt.want[0] || h.Max != tt.want[len(tt.want)-1] {
				t.Errorf("range = [%v, %v], want [%v, %v]", h.Min, h.Max, tt.want[0], tt.want[len(tt.want)-1])
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		format layer.TextureFormat
		pitch  int
	}{
		{"pitch below row", make([]byte, 1024), layer.FormatR32F, 8},
		{"short data", make([]byte, 100), layer.FormatR32F, 256},
		{"color format", make([]byte, 1024), layer.FormatRGBA8, 256},
	}
	for _, tt := range tests {
		if _, err := Decode(tt.data, tt.format, 3, tt.pitch); err == nil {
			t.Errorf("%s: Decode() succeeded", tt.name)
		}
	}
}

func TestNewHeightmapI16(t *testing.T) {
	h := NewHeightmapI16(2, []int16{-8, 0, 40, 4})
	if h.Min != -2 || h.Max != 10 {
		t.Errorf("range = [%v, %v], want [-2, 10]", h.Min, h.Max)
	}
}

// =============================================================================
// Worker
// =============================================================================

func TestWorker_CompletesOutOfOrder(t *testing.T) {
	w := New(Options{Ceiling: 4})
	defer w.Close()

	const res, pitch = 2, 256
	data := padded(res, pitch, 4, func(b []byte, i int) {
		binary.LittleEndian.PutUint32(b, math.Float32bits(100))
	})
	slow, fast := newFuture(), newFuture()
	nodes := quadtree.Roots()
	w.Submit(Request{Node: nodes[0], Buffer: 1, Future: slow, Format: layer.FormatR32F, Resolution: res, BytesPerRow: pitch})
	w.Submit(Request{Node: nodes[1], Buffer: 2, Future: fast, Format: layer.FormatR32F, Resolution: res, BytesPerRow: pitch})
	if w.Outstanding() != 2 {
		t.Errorf("Outstanding() = %d, want 2", w.Outstanding())
	}

	fast.resolve(data, nil)
	c := waitCompleted(t, w)
	if c.Node != nodes[1] || c.Buffer != 2 || c.Err != nil {
		t.Fatalf("first completion = %+v, want node %v buffer 2", c, nodes[1])
	}
	if c.Heightmap.Max != 100 {
		t.Errorf("Max = %v, want 100", c.Heightmap.Max)
	}

	slow.resolve(data, nil)
	if c := waitCompleted(t, w); c.Node != nodes[0] || c.Buffer != 1 {
		t.Errorf("second completion = %+v", c)
	}
	if w.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d, want 0", w.Outstanding())
	}
}

func TestWorker_MapError(t *testing.T) {
	w := New(Options{})
	defer w.Close()

	f := newFuture()
	w.Submit(Request{Node: quadtree.Roots()[3], Buffer: 9, Future: f, Format: layer.FormatR32F, Resolution: 2, BytesPerRow: 256})
	mapErr := errors.New("device lost")
	f.resolve(nil, mapErr)

	c := waitCompleted(t, w)
	if !errors.Is(c.Err, mapErr) {
		t.Errorf("Err = %v, want %v", c.Err, mapErr)
	}
	if c.Buffer != 9 || c.Heightmap != nil {
		t.Errorf("completion = %+v, want buffer 9 without heightmap", c)
	}
}

func TestWorker_CeilingPanics(t *testing.T) {
	w := New(Options{Ceiling: 1})
	defer w.Close()

	w.Submit(Request{Future: newFuture(), Buffer: gpucore.BufferID(1)})
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	w.Submit(Request{Future: newFuture(), Buffer: gpucore.BufferID(2)})
}

func TestWorker_CloseWithPending(t *testing.T) {
	w := New(Options{})
	w.Submit(Request{Future: newFuture()})

	closed := make(chan struct{})
	go func() {
		w.Close()
		w.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close() blocked on a pending future")
	}
}

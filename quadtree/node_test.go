package quadtree

import (
	"math"
	"testing"
)

func TestNewVNode_Accessors(t *testing.T) {
	tests := []struct {
		face  uint8
		level uint8
		x, y  uint32
	}{
		{0, 0, 0, 0},
		{5, 1, 1, 0},
		{3, 10, 1023, 17},
		{2, MaxLevel, 1<<MaxLevel - 1, 1<<MaxLevel - 1},
	}

	for _, tt := range tests {
		n := NewVNode(tt.face, tt.level, tt.x, tt.y)
		if n.Face() != tt.face || n.Level() != tt.level || n.X() != tt.x || n.Y() != tt.y {
			t.Errorf("NewVNode(%d,%d,%d,%d) = %v", tt.face, tt.level, tt.x, tt.y, n)
		}
	}
}

func TestNewVNode_OutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewVNode with x out of range did not panic")
		}
	}()
	NewVNode(0, 1, 2, 0)
}

func TestVNode_ParentChildren(t *testing.T) {
	n := NewVNode(4, 3, 5, 2)
	for i, c := range n.Children() {
		p, idx, ok := c.Parent()
		if !ok {
			t.Fatalf("child %d has no parent", i)
		}
		if p != n {
			t.Errorf("child %d Parent() = %v, want %v", i, p, n)
		}
		if idx != i {
			t.Errorf("child %d index = %d, want %d", i, idx, i)
		}
		if !n.Contains(c) {
			t.Errorf("%v.Contains(%v) = false", n, c)
		}
	}

	if _, _, ok := Roots()[0].Parent(); ok {
		t.Error("root Parent() ok = true, want false")
	}
}

func TestVNode_FindAncestor(t *testing.T) {
	n := NewVNode(1, 6, 40, 9)

	a, gens, ok := n.FindAncestor(func(v VNode) bool { return v.Level() == 3 })
	if !ok {
		t.Fatal("FindAncestor() ok = false")
	}
	if a.Level() != 3 || gens != 3 {
		t.Errorf("FindAncestor() = (%v, %d), want level 3 after 3 generations", a, gens)
	}
	if !a.Contains(n) {
		t.Errorf("ancestor %v does not contain %v", a, n)
	}

	if _, _, ok := n.FindAncestor(func(VNode) bool { return false }); ok {
		t.Error("FindAncestor(never) ok = true")
	}
}

func TestBreadthFirst_Order(t *testing.T) {
	var levels []uint8
	BreadthFirst(func(n VNode) bool {
		levels = append(levels, n.Level())
		return n.Level() < 2
	})

	want := NumFaces + NumFaces*4 + NumFaces*16
	if len(levels) != want {
		t.Fatalf("visited %d nodes, want %d", len(levels), want)
	}
	for i := 1; i < len(levels); i++ {
		if levels[i] < levels[i-1] {
			t.Fatalf("level decreased at %d: %d after %d", i, levels[i], levels[i-1])
		}
	}
}

// =============================================================================
// Cube space
// =============================================================================

func TestFromCSpace_RoundTripsCenter(t *testing.T) {
	for face := uint8(0); face < NumFaces; face++ {
		n := NewVNode(face, 7, 33, 100)
		c := n.Center()
		m := math.Max(math.Abs(c[0]), math.Max(math.Abs(c[1]), math.Abs(c[2])))
		got, fu, fv := FromCSpace([3]float64{c[0] / m, c[1] / m, c[2] / m}, 7)
		if got != n {
			t.Errorf("FromCSpace(center of %v) = %v", n, got)
		}
		if math.Abs(fu-0.5) > 1e-6 || math.Abs(fv-0.5) > 1e-6 {
			t.Errorf("FromCSpace(center of %v) fraction = (%v, %v), want (0.5, 0.5)", n, fu, fv)
		}
	}
}

func TestPolarToCSpace_Poles(t *testing.T) {
	north := PolarToCSpace(math.Pi/2, 0)
	n, _, _ := FromCSpace(north, 0)
	if n.Face() != 4 {
		t.Errorf("north pole face = %d, want 4", n.Face())
	}
	south := PolarToCSpace(-math.Pi/2, 0)
	s, _, _ := FromCSpace(south, 0)
	if s.Face() != 5 {
		t.Errorf("south pole face = %d, want 5", s.Face())
	}
}

// =============================================================================
// Priority
// =============================================================================

func TestCameraPriority_CloserIsHigher(t *testing.T) {
	n := NewVNode(0, 8, 128, 128)
	c := n.Center()
	near := CameraPriority([3]float64{c[0] * 1.0001, c[1], c[2]})
	far := CameraPriority([3]float64{c[0] * 3, c[1], c[2]})

	if near(n) <= far(n) {
		t.Errorf("near priority %v <= far priority %v", near(n), far(n))
	}
	if near(n) < Cutoff {
		t.Errorf("priority right above node = %v, want >= Cutoff", near(n))
	}
}

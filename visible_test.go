package terra

import (
	"math"
	"testing"

	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
)

// coverage returns the cells rendered by vis and their total area, with a
// root counting as one.
func coverage(vis []Visible) ([]quadtree.VNode, float64) {
	var cells []quadtree.VNode
	area := 0.0
	for _, v := range vis {
		if v.Node.Level() == quadtree.MaxLevel {
			cells = append(cells, v.Node)
			area += math.Pow(0.25, float64(v.Node.Level()))
			continue
		}
		for i, child := range v.Node.Children() {
			if v.Mask&(1<<i) != 0 {
				cells = append(cells, child)
				area += math.Pow(0.25, float64(child.Level()))
			}
		}
	}
	return cells, area
}

// checkPartition fails unless vis covers every face exactly once.
func checkPartition(t *testing.T, vis []Visible) {
	t.Helper()
	cells, area := coverage(vis)
	if math.Abs(area-quadtree.NumFaces) > 1e-9 {
		t.Errorf("covered area = %v faces, want %d", area, quadtree.NumFaces)
	}
	for i, a := range cells {
		for _, b := range cells[i+1:] {
			if a.Contains(b) || b.Contains(a) {
				t.Errorf("cells %s and %s overlap", a, b)
			}
		}
	}
}

func TestComputeVisible(t *testing.T) {
	tc, _ := newCache(t, nil, WithCapacities(levelCaps(6, 8)))

	roots := quadtree.Roots()
	r0, r1 := roots[0], roots[1]
	f0 := r0.Children()
	f00 := f0[0].Children()
	f03 := f0[3].Children()
	f1 := r1.Children()

	p := priorities{f1[2]: 2, f03[0]: 2}.withRoots(2)
	for _, n := range f0 {
		p[n] = 2
	}
	for _, n := range f00 {
		p[n] = 2
	}
	tc.Update(p.fn)

	// f0[3] is not valid, so its valid child never shows.
	valid := []quadtree.VNode{f0[0], f0[1], f0[2], f00[0], f00[1], f1[2], f03[0]}
	valid = append(valid, roots[:]...)
	for _, n := range valid {
		e := tc.lookup(n)
		if e == nil {
			t.Fatalf("%s not resident", n)
		}
		e.valid = layer.Albedo.Mask()
	}

	vis := tc.ComputeVisible(layer.Albedo.Mask())
	checkPartition(t, vis)

	want := map[quadtree.VNode]uint8{
		r0:     1 << 3,
		f0[0]:  1<<2 | 1<<3,
		f0[1]:  FullCoverage,
		f0[2]:  FullCoverage,
		f00[0]: FullCoverage,
		f00[1]: FullCoverage,
		r1:     FullCoverage &^ (1 << 2),
		f1[2]:  FullCoverage,
	}
	for _, r := range roots[2:] {
		want[r] = FullCoverage
	}
	got := make(map[quadtree.VNode]uint8)
	for _, v := range vis {
		got[v.Node] = v.Mask
	}
	if len(got) != len(want) {
		t.Errorf("ComputeVisible() returned %d nodes, want %d", len(got), len(want))
	}
	for n, m := range want {
		if got[n] != m {
			t.Errorf("mask of %s = %04b, want %04b", n, got[n], m)
		}
	}

	// Dropping below the cutoff hides a node that stays resident.
	p[f0[1]] = 0.5
	tc.Update(p.fn)
	if _, ok := tc.Slot(f0[1]); !ok {
		t.Fatalf("%s evicted", f0[1])
	}
	vis = tc.ComputeVisible(layer.Albedo.Mask())
	checkPartition(t, vis)
	for _, v := range vis {
		if v.Node == f0[1] {
			t.Errorf("%s visible below the cutoff", f0[1])
		}
		if v.Node == r0 && v.Mask != 1<<1|1<<3 {
			t.Errorf("mask of %s = %04b, want 1010", r0, v.Mask)
		}
	}
}

func TestComputeVisible_MissingLayer(t *testing.T) {
	tc, _ := newCache(t, nil)
	tc.Update(priorities{}.withRoots(2).fn)
	for _, r := range quadtree.Roots() {
		tc.lookup(r).valid = layer.Albedo.Mask()
	}
	if vis := tc.ComputeVisible(layer.MaskOf(layer.Albedo, layer.Normals)); len(vis) != 0 {
		t.Errorf("ComputeVisible() = %v, want none", vis)
	}
	checkPartition(t, tc.ComputeVisible(layer.Albedo.Mask()))
}

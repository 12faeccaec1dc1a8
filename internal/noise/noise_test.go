package noise

import "testing"

func TestField_Deterministic(t *testing.T) {
	a, b := New(7), New(7)
	p := [3]float64{0.6, 0.48, 0.64}
	if a.Height(p) != b.Height(p) {
		t.Errorf("Height() differs for equal seeds: %v vs %v", a.Height(p), b.Height(p))
	}
	if a.Detail(p, 10) != b.Detail(p, 10) {
		t.Error("Detail() differs for equal seeds")
	}
}

func TestField_TreeCoverRange(t *testing.T) {
	f := New(1)
	for i := 0; i < 100; i++ {
		x := float64(i) / 100
		c := f.TreeCover([3]float64{x, 1 - x, 0.5})
		if c < 0 || c > 1 {
			t.Fatalf("TreeCover() = %v, want [0, 1]", c)
		}
	}
}

func TestAlbedo_WaterBelowZero(t *testing.T) {
	if got := Albedo(-5); got != [3]uint8{20, 50, 110} {
		t.Errorf("Albedo(-5) = %v, want water", got)
	}
	if Albedo(5000) == Albedo(500) {
		t.Error("Albedo() identical for snow and lowland")
	}
}

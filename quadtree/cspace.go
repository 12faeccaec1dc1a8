package quadtree

import "math"

// Face frames. A point on face f of the unit cube is
// faceNormal[f] + u*faceU[f] + v*faceV[f] with u, v in [-1, 1].
var (
	faceNormal = [NumFaces][3]float64{
		{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}, {0, 0, -1},
	}
	faceU = [NumFaces][3]float64{
		{0, 1, 0}, {0, -1, 0}, {-1, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 1, 0},
	}
	faceV = [NumFaces][3]float64{
		{0, 0, 1}, {0, 0, 1}, {0, 0, 1}, {0, 0, 1}, {-1, 0, 0}, {1, 0, 0},
	}
)

func cubePoint(face uint8, u, v float64) [3]float64 {
	n, du, dv := faceNormal[face], faceU[face], faceV[face]
	return [3]float64{
		n[0] + u*du[0] + v*dv[0],
		n[1] + u*du[1] + v*dv[1],
		n[2] + u*du[2] + v*dv[2],
	}
}

func dot(a, b [3]float64) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func length(a [3]float64) float64 { return math.Sqrt(dot(a, a)) }

// PolarToCSpace converts latitude and longitude in radians to a point on
// the surface of the unit cube.
func PolarToCSpace(lat, lon float64) [3]float64 {
	p := [3]float64{
		math.Cos(lat) * math.Cos(lon),
		math.Cos(lat) * math.Sin(lon),
		math.Sin(lat),
	}
	m := math.Max(math.Abs(p[0]), math.Max(math.Abs(p[1]), math.Abs(p[2])))
	return [3]float64{p[0] / m, p[1] / m, p[2] / m}
}

// FromCSpace returns the node at level that contains the cube-space point
// together with the position of the point inside that node, as fractions
// in [0, 1].
func FromCSpace(cspace [3]float64, level uint8) (node VNode, fu, fv float64) {
	axis := 0
	for i := 1; i < 3; i++ {
		if math.Abs(cspace[i]) > math.Abs(cspace[axis]) {
			axis = i
		}
	}
	face := uint8(2 * axis)
	if cspace[axis] < 0 {
		face++
	}

	scale := math.Abs(cspace[axis])
	p := [3]float64{cspace[0] / scale, cspace[1] / scale, cspace[2] / scale}
	u := (dot(p, faceU[face]) + 1) / 2
	v := (dot(p, faceV[face]) + 1) / 2

	cells := float64(uint64(1) << level)
	x := math.Min(math.Max(math.Floor(u*cells), 0), cells-1)
	y := math.Min(math.Max(math.Floor(v*cells), 0), cells-1)

	return NewVNode(face, level, uint32(x), uint32(y)), u*cells - x, v*cells - y
}

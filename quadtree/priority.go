package quadtree

import "math"

// Priority ranks nodes for cache residency. Larger is more important.
type Priority float32

const (
	// Cutoff is the smallest priority a node needs to be resident or visible.
	Cutoff Priority = 1.0

	// None is the priority of a node that should never be resident.
	None Priority = -1.0
)

// PriorityFunc computes the current priority of a node.
type PriorityFunc func(VNode) Priority

// DefaultLODFactor scales the side-length/distance ratio so that a node
// reaches Cutoff when it is roughly twice as far away as it is wide.
const DefaultLODFactor = 2.0

// CameraPriority returns a PriorityFunc ranking nodes by how large they
// appear from camera, a world-space position in meters.
func CameraPriority(camera [3]float64) PriorityFunc {
	return CameraPriorityLOD(camera, DefaultLODFactor)
}

// CameraPriorityLOD is CameraPriority with an explicit LOD factor.
func CameraPriorityLOD(camera [3]float64, lod float64) PriorityFunc {
	return func(n VNode) Priority {
		center := n.Center()
		d := [3]float64{center[0] - camera[0], center[1] - camera[1], center[2] - camera[2]}
		side := n.SideLength()

		// Bounding sphere of the cell, loose enough to cover its curvature.
		distance := length(d) - side*0.75
		distance = math.Max(distance, 1)

		return Priority(math.Max(lod*side/distance, 0))
	}
}

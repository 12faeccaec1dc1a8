// Package quadtree addresses the cells of a cube-sphere quadtree.
//
// Each of the six cube faces is the root of a quadtree. A [VNode] packs
// (face, level, x, y) into a single integer and exposes parent/child
// navigation, ancestor search and geometry. [BreadthFirst] enumerates nodes
// coarse to fine, and [CameraPriority] provides the camera-relative
// [Priority] metric used to decide which nodes deserve cache slots.
package quadtree

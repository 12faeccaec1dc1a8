package generate

import (
	"math"

	"github.com/gogpu/terra/internal/gpucore"
	"github.com/gogpu/terra/internal/noise"
	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
)

// CPU kernels for the default generators. They follow the WGSL shaders in
// shaders/ closely enough that tiles look alike on both backends, but the
// results are not bit-identical.

const (
	// Vertices per grass blade.
	grassBladeVertices = 15
	// Canopy density above which a texel gets a grass instance.
	grassDensityThreshold = 128
)

func hasOutput(u *TileUniforms, t layer.Type) bool {
	return layer.Mask(u.Outputs).Has(t)
}

// heightmapKernel refines the parent heightmap: it upsamples the parent
// quadrant and adds detail noise scaled to the cell size.
func heightmapKernel(table *layer.Table, field *noise.Field) gpucore.Kernel {
	g := gridOf(table[layer.Heightmaps])
	return func(inv gpucore.Invocation) {
		u := DecodeUniforms(inv.Uniform())
		if !hasOutput(&u, layer.Heightmaps) {
			return
		}
		node := u.Node()
		dst := tileData(inv, u.Slots, layer.Heightmaps)
		parent := tileData(inv, u.ParentSlots, layer.Heightmaps)
		cx, cy := u.ChildIndex%2, u.ChildIndex/2
		cell := node.SideLength() / g.span

		for y := range g.res {
			fv := g.fraction(y)
			for x := range g.res {
				fu := g.fraction(x)
				p := node.UnitPoint(fu, fv)
				var h float64
				if parent != nil {
					h = g.bilinear(g.texel(childFraction(fu, cx)), g.texel(childFraction(fv, cy)), f32Channel(parent, 1, 0))
				} else {
					h = field.Height(p)
				}
				h += field.Detail(p, cell)
				putF32(dst, y*g.res+x, float32(h))
			}
		}
	}
}

// displacementKernel computes vertex offsets from the node center. Below
// the root it samples the parent heightmap so a tile's mesh exists before
// its own heightmap.
func displacementKernel(table *layer.Table) gpucore.Kernel {
	hg := gridOf(table[layer.Heightmaps])
	res := int(table[layer.Displacements].Resolution)
	steps := float64(max(res-1, 1))
	return func(inv gpucore.Invocation) {
		u := DecodeUniforms(inv.Uniform())
		if !hasOutput(&u, layer.Displacements) {
			return
		}
		node := u.Node()
		dst := tileData(inv, u.Slots, layer.Displacements)
		heights := tileData(inv, u.Slots, layer.Heightmaps)
		fromParent := !node.IsRoot()
		if fromParent {
			heights = tileData(inv, u.ParentSlots, layer.Heightmaps)
		}
		cx, cy := u.ChildIndex%2, u.ChildIndex/2
		center := node.Center()

		for j := range res {
			for i := range res {
				fu, fv := float64(i)/steps, float64(j)/steps
				su, sv := fu, fv
				if fromParent {
					su, sv = childFraction(fu, cx), childFraction(fv, cy)
				}
				h := hg.bilinear(hg.texel(su), hg.texel(sv), f32Channel(heights, 1, 0))
				p := node.UnitPoint(fu, fv)
				r := quadtree.PlanetRadius + h
				k := (j*res + i) * 4
				putF32(dst, k+0, float32(p[0]*r-center[0]))
				putF32(dst, k+1, float32(p[1]*r-center[1]))
				putF32(dst, k+2, float32(p[2]*r-center[2]))
				putF32(dst, k+3, float32(h))
			}
		}
	}
}

// materialKernel writes normals and albedo. At the root it reads base
// albedo from the node itself; below it blends in the parent's albedo and
// the base albedo of the nearest ancestor that has one.
func materialKernel(table *layer.Table) gpucore.Kernel {
	hg := gridOf(table[layer.Heightmaps])
	ng := gridOf(table[layer.Normals])
	ag := gridOf(table[layer.Albedo])
	bg := gridOf(table[layer.BaseAlbedo])
	return func(inv gpucore.Invocation) {
		u := DecodeUniforms(inv.Uniform())
		node := u.Node()
		heights := tileData(inv, u.Slots, layer.Heightmaps)
		height := f32Channel(heights, 1, 0)

		if hasOutput(&u, layer.Normals) {
			dst := tileData(inv, u.Slots, layer.Normals)
			cell := node.SideLength() / hg.span
			for y := range ng.res {
				hy := hg.texel(ng.fraction(y))
				for x := range ng.res {
					hx := hg.texel(ng.fraction(x))
					dx := hg.bilinear(hx+1, hy, height) - hg.bilinear(hx-1, hy, height)
					dy := hg.bilinear(hx, hy+1, height) - hg.bilinear(hx, hy-1, height)
					nx, ny, nz := -dx/(2*cell), -dy/(2*cell), 1.0
					l := math.Sqrt(nx*nx + ny*ny + nz*nz)
					k := (y*ng.res + x) * 2
					dst[k] = unorm8(nx/l*0.5 + 0.5)
					dst[k+1] = unorm8(ny/l*0.5 + 0.5)
				}
			}
		}

		if hasOutput(&u, layer.Albedo) {
			dst := tileData(inv, u.Slots, layer.Albedo)
			parent := tileData(inv, u.ParentSlots, layer.Albedo)
			base, generations := tileData(inv, u.AncestorSlots, layer.BaseAlbedo), u.AncestorGenerations[layer.BaseAlbedo]
			if base == nil {
				base, generations = tileData(inv, u.Slots, layer.BaseAlbedo), 0
			}
			cx, cy := u.ChildIndex%2, u.ChildIndex/2

			for y := range ag.res {
				fv := ag.fraction(y)
				for x := range ag.res {
					fu := ag.fraction(x)
					h := hg.bilinear(hg.texel(fu), hg.texel(fv), height)
					rock := noise.Albedo(h)
					k := (y*ag.res + x) * 4
					for c := range 3 {
						v := float64(rock[c]) / 255
						if base != nil {
							bu, bv := ancestorFraction(fu, u.X, generations), ancestorFraction(fv, u.Y, generations)
							v = (v + bg.bilinear(bg.texel(bu), bg.texel(bv), u8Channel(base, 4, c))) / 2
						}
						if parent != nil {
							pu, pv := childFraction(fu, cx), childFraction(fv, cy)
							v = (v + ag.bilinear(ag.texel(pu), ag.texel(pv), u8Channel(parent, 4, c))) / 2
						}
						dst[k+c] = unorm8(v)
					}
					dst[k+3] = 255
				}
			}
		}
	}
}

// treeAttributeKernel stores tree density in red and a height-based size
// factor in green.
func treeAttributeKernel(table *layer.Table) gpucore.Kernel {
	hg := gridOf(table[layer.Heightmaps])
	cg := gridOf(table[layer.TreeCover])
	tg := gridOf(table[layer.TreeAttributes])
	return func(inv gpucore.Invocation) {
		u := DecodeUniforms(inv.Uniform())
		if !hasOutput(&u, layer.TreeAttributes) {
			return
		}
		dst := tileData(inv, u.Slots, layer.TreeAttributes)
		height := f32Channel(tileData(inv, u.Slots, layer.Heightmaps), 1, 0)
		cover := tileData(inv, u.AncestorSlots, layer.TreeCover)
		generations := u.AncestorGenerations[layer.TreeCover]

		for y := range tg.res {
			fv := tg.fraction(y)
			for x := range tg.res {
				fu := tg.fraction(x)
				h := hg.bilinear(hg.texel(fu), hg.texel(fv), height)
				density := 0.0
				if cover != nil && h > 0 {
					au, av := ancestorFraction(fu, u.X, generations), ancestorFraction(fv, u.Y, generations)
					density = cg.bilinear(cg.texel(au), cg.texel(av), u8Channel(cover, 1, 0))
				}
				k := (y*tg.res + x) * 4
				dst[k] = unorm8(density)
				dst[k+1] = unorm8(1 - h/3000)
				dst[k+2] = 0
				dst[k+3] = 255
			}
		}
	}
}

// grassCanopyKernel derives grass density from slope: flat ground grows
// the most grass.
func grassCanopyKernel(table *layer.Table) gpucore.Kernel {
	ng := gridOf(table[layer.Normals])
	res := int(table[layer.GrassCanopy].Resolution)
	return func(inv gpucore.Invocation) {
		u := DecodeUniforms(inv.Uniform())
		if !hasOutput(&u, layer.GrassCanopy) {
			return
		}
		dst := tileData(inv, u.Slots, layer.GrassCanopy)
		normals := tileData(inv, u.Slots, layer.Normals)

		for y := range res {
			fv := (float64(y) + 0.5) / float64(res)
			for x := range res {
				fu := (float64(x) + 0.5) / float64(res)
				nx := ng.bilinear(ng.texel(fu), ng.texel(fv), u8Channel(normals, 2, 0))*2 - 1
				ny := ng.bilinear(ng.texel(fu), ng.texel(fv), u8Channel(normals, 2, 1))*2 - 1
				nz := math.Sqrt(max(0, 1-nx*nx-ny*ny))
				k := (y*res + x) * 4
				dst[k] = unorm8(math.Pow(nz, 4))
				dst[k+1] = 0
				dst[k+2] = 0
				dst[k+3] = 255
			}
		}
	}
}

// terrainMeshKernel writes one instance of the displacement grid as two
// triangles per quad.
func terrainMeshKernel(table *layer.Table) gpucore.Kernel {
	quads := uint32(max(int(table[layer.Displacements].Resolution)-1, 1))
	return func(inv gpucore.Invocation) {
		u := DecodeUniforms(inv.Uniform())
		mesh := inv.Buffer(Binding(layer.TerrainMesh))
		putRecord(mesh, u.MeshOffset, quads*quads*6, 1, 0, uint32(u.Slots[layer.Displacements]))
	}
}

// grassCountKernel counts grass instances from the canopy density under
// the node.
func grassCountKernel(table *layer.Table) gpucore.Kernel {
	res := int(table[layer.GrassCanopy].Resolution)
	return func(inv gpucore.Invocation) {
		u := DecodeUniforms(inv.Uniform())
		canopy := tileData(inv, u.AncestorSlots, layer.GrassCanopy)
		if canopy == nil {
			return
		}
		generations := u.AncestorGenerations[layer.GrassCanopy]
		scale := 1 << generations
		sub := max(res/scale, 1)
		x0 := int(u.X%uint32(scale)) * sub
		y0 := int(u.Y%uint32(scale)) * sub

		var count uint32
		for y := y0; y < y0+sub && y < res; y++ {
			for x := x0; x < x0+sub && x < res; x++ {
				if canopy[(y*res+x)*4] >= grassDensityThreshold {
					count++
				}
			}
		}
		mesh := inv.Buffer(Binding(layer.GrassMesh))
		putRecord(mesh, u.MeshOffset+4, count)
	}
}

// grassDrawKernel completes the record once instances were counted.
func grassDrawKernel(inv gpucore.Invocation) {
	u := DecodeUniforms(inv.Uniform())
	mesh := inv.Buffer(Binding(layer.GrassMesh))
	if recordField(mesh, u.MeshOffset, 1) == 0 {
		return
	}
	putRecord(mesh, u.MeshOffset, grassBladeVertices)
	putRecord(mesh, u.MeshOffset+12, uint32(u.Slots[layer.Displacements]))
}

// Sea level Rayleigh extinction per meter for red, green and blue, and the
// color of fully in-scattered light.
var (
	rayleigh = [3]float64{5.8e-6, 13.5e-6, 33.1e-6}
	skyColor = [3]float64{0.35, 0.55, 0.9}
)

// atmosphereScaleHeight is the altitude over which air density falls by e.
const atmosphereScaleHeight = 8000.0

// aerialPerspective returns the light scattered into the view ray from
// camera to p (rgb) and the ray's mean transmittance (a). Density is
// averaged between the camera altitude and sea level.
func aerialPerspective(camera, p [3]float64) [4]float32 {
	dx, dy, dz := p[0]-camera[0], p[1]-camera[1], p[2]-camera[2]
	d := math.Sqrt(dx*dx + dy*dy + dz*dz)
	altitude := max(math.Sqrt(camera[0]*camera[0]+camera[1]*camera[1]+camera[2]*camera[2])-quadtree.PlanetRadius, 0)
	density := (1 + math.Exp(-altitude/atmosphereScaleHeight)) / 2

	var out [4]float32
	var transmittance float64
	for c := range rayleigh {
		t := math.Exp(-rayleigh[c] * d * density)
		out[c] = float32((1 - t) * skyColor[c])
		transmittance += t
	}
	out[3] = float32(transmittance / 3)
	return out
}

// aerialPerspectiveKernel fills the aerial perspective tile of every node
// in the batch.
func aerialPerspectiveKernel(table *layer.Table) gpucore.Kernel {
	g := gridOf(table[layer.AerialPerspective])
	return func(inv gpucore.Invocation) {
		u := DecodeBatchUniforms(inv.Uniform())
		items := inv.Buffer(BatchBinding)
		camera := [3]float64{float64(u.Camera[0]), float64(u.Camera[1]), float64(u.Camera[2])}

		for i := range int(u.Count) {
			it := DecodeBatchItem(items[i*BatchItemSize:])
			node := it.Node()
			dst := inv.TextureLayer(Binding(layer.AerialPerspective), it.Layer)
			for y := range g.res {
				fv := g.fraction(y)
				for x := range g.res {
					n := node.UnitPoint(g.fraction(x), fv)
					p := [3]float64{n[0] * quadtree.PlanetRadius, n[1] * quadtree.PlanetRadius, n[2] * quadtree.PlanetRadius}
					c := aerialPerspective(camera, p)
					for ch, v := range c {
						putF32(dst, (y*g.res+x)*4+ch, v)
					}
				}
			}
		}
	}
}

package generate

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/gogpu/terra/internal/noise"
	"github.com/gogpu/terra/internal/shader"
	"github.com/gogpu/terra/layer"
)

//go:embed shaders/*.wgsl
var shaderFS embed.FS

// Shaders returns the embedded WGSL sources.
func Shaders() fs.FS {
	sub, err := fs.Sub(shaderFS, "shaders")
	if err != nil {
		panic(err)
	}
	return sub
}

// Prelude returns WGSL constants describing table: the index of every
// layer and the resolution and border of texture layers.
func Prelude(table *layer.Table) string {
	var b strings.Builder
	for i := range table {
		name := strings.ToUpper(strings.ReplaceAll(layer.Type(i).String(), "-", "_"))
		fmt.Fprintf(&b, "const %s: u32 = %du;\n", name, i)
		if table[i].Mesh {
			continue
		}
		fmt.Fprintf(&b, "const %s_RES: u32 = %du;\n", name, table[i].Resolution)
		fmt.Fprintf(&b, "const %s_BORDER: u32 = %du;\n", name, table[i].Border)
	}
	return b.String()
}

// DefaultGenerators builds the standard generator list for table. A
// loader without a file system reads the embedded shaders; field seeds the
// detail noise of the CPU kernels.
//
// The order matters: every input of a generator is produced by an earlier
// one or streamed.
func DefaultGenerators(loader shader.Loader, table *layer.Table, field *noise.Field) ([]Generator, error) {
	if loader.FS == nil {
		loader.FS = Shaders()
	}
	if loader.Prelude == "" {
		loader.Prelude = Prelude(table)
	}
	if field == nil {
		field = noise.New(0)
	}

	var err error
	// Each generator gets its own set so every one of them sees a reload.
	load := func(label, file string) *shader.Set {
		if err != nil {
			return nil
		}
		var s *shader.Set
		s, err = loader.Load(label, "common.wgsl", file+".wgsl")
		return s
	}

	var (
		heightmaps     = load("heightmaps", "heightmaps")
		displacements  = load("displacements", "displacements")
		rootMaterials  = load("root-materials", "materials")
		materials      = load("materials", "materials")
		treeAttributes = load("tree-attributes", "tree_attributes")
		grassCanopy    = load("grass-canopy", "grass_canopy")
		terrainMesh    = load("terrain-mesh", "terrain_mesh")
		grassCount     = load("grass-count", "grass_count")
		grassDraw      = load("grass-draw", "grass_draw")
	)
	if err != nil {
		return nil, err
	}

	res := func(t layer.Type) uint32 { return table[t].Resolution }
	const (
		H  = layer.Heightmaps
		D  = layer.Displacements
		A  = layer.Albedo
		N  = layer.Normals
		BA = layer.BaseAlbedo
		TC = layer.TreeCover
		TA = layer.TreeAttributes
		GC = layer.GrassCanopy
	)
	matKernel := materialKernel(table)
	canopyTexels := res(GC) * res(GC)

	return []Generator{
		NewShaderGen("heightmaps", heightmaps, heightmapKernel(table, field)).
			Outputs(H.Mask()).
			ParentInputs(H.Mask()).
			Dimensions(res(H)).
			Build(),
		NewShaderGen("displacements", displacements, displacementKernel(table)).
			Outputs(D.Mask()).
			ParentInputs(H.Mask()).
			RootOutputs(D.Mask()).
			RootPeerInputs(H.Mask()).
			Dimensions(res(D)).
			Build(),
		NewShaderGen("root-materials", rootMaterials, matKernel).
			RootOutputs(layer.MaskOf(N, A)).
			RootPeerInputs(layer.MaskOf(H, BA)).
			Dimensions(max(res(N), res(A))).
			Build(),
		NewShaderGen("materials", materials, matKernel).
			Outputs(layer.MaskOf(N, A)).
			PeerInputs(H.Mask()).
			ParentInputs(A.Mask()).
			AncestorInputs(BA.Mask()).
			Dimensions(max(res(N), res(A))).
			Build(),
		NewShaderGen("tree-attributes", treeAttributes, treeAttributeKernel(table)).
			Outputs(TA.Mask()).
			PeerInputs(H.Mask()).
			AncestorInputs(TC.Mask()).
			Dimensions(res(TA)).
			Build(),
		NewShaderGen("grass-canopy", grassCanopy, grassCanopyKernel(table)).
			Outputs(GC.Mask()).
			PeerInputs(N.Mask()).
			Dimensions(res(GC)).
			Build(),
		NewMeshGen("terrain-mesh", layer.TerrainMesh, D.Mask(), 0,
			MeshStage{Shader: terrainMesh, Kernel: terrainMeshKernel(table), Workgroups: 1}),
		NewMeshGen("grass-mesh", layer.GrassMesh, layer.MaskOf(D, A, N), GC.Mask(),
			MeshStage{Shader: grassCount, Kernel: grassCountKernel(table), Workgroups: (canopyTexels + 63) / 64},
			MeshStage{Shader: grassDraw, Kernel: grassDrawKernel, Workgroups: 1}),
	}, nil
}

// DefaultBatchGenerators builds the generators of the dynamic layers of
// table.
func DefaultBatchGenerators(loader shader.Loader, table *layer.Table) ([]BatchGenerator, error) {
	if loader.FS == nil {
		loader.FS = Shaders()
	}
	if loader.Prelude == "" {
		loader.Prelude = Prelude(table)
	}
	aerial, err := loader.Load("aerial-perspective", "aerial_perspective.wgsl")
	if err != nil {
		return nil, err
	}
	return []BatchGenerator{
		NewBatchGen("aerial-perspective", layer.AerialPerspective, 0, aerial,
			aerialPerspectiveKernel(table), table[layer.AerialPerspective].Resolution),
	}, nil
}

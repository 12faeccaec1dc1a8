// Package terra streams and generates planet-scale terrain tiles on a
// cube-sphere quadtree.
//
// # Overview
//
// A TileCache keeps a fixed number of quadtree nodes resident per level,
// chosen by a camera-relative priority. Each resident node holds a set of
// layers (heightmaps, normals, albedo, meshes...) in GPU texture arrays.
// Every frame the cache decides which layers are stale and produces them,
// either by streaming them from a storage.Store or by running compute
// generators on the GPU, within a fixed per-frame budget.
//
// # Quick Start
//
//	dev, _ := backend.Default()
//	store, _ := storage.Open(storage.Config{Backend: storage.BackendBadger, Path: "tiles"})
//	tc, _ := terra.NewTileCache(dev, store)
//	defer tc.Close()
//
//	for range frames {
//	    if err := tc.Frame(quadtree.CameraPriority(camera)); err != nil {
//	        log.Fatal(err)
//	    }
//	    for _, v := range tc.ComputeVisible(layer.MaskOf(layer.Heightmaps, layer.Normals)) {
//	        draw(v.Node, v.Mask, tc.Slot)
//	    }
//	}
//
// # Frame Steps
//
// Frame runs the following steps, each also available on its own:
//   - Update re-ranks residents and admits or evicts nodes
//   - RefreshGenerators invalidates layers built by reloaded shaders
//   - UploadTiles writes streamed tiles into their textures
//   - GenerateTiles requests streamed layers and runs generators
//   - DownloadTiles stores heightmap readbacks for height queries
//
// # Concurrency
//
// TileCache is driven from a single goroutine. Storage reads and GPU
// readbacks complete on two worker goroutines and are picked up by the
// non-blocking drains of the next frame, so a slow store never stalls
// rendering.
package terra

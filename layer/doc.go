// Package layer describes the kinds of data stored per terrain tile.
//
// A [Type] names one layer (heightmaps, albedo, meshes, ...), [Params]
// holds its static description, and [Mask] / [GeneratorMask] are the bit
// sets the tile cache uses to express dependencies between layers and to
// record which generators produced a layer's current contents.
package layer

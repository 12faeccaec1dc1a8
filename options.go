package terra

import (
	"context"

	"github.com/gogpu/terra/internal/generate"
	"github.com/gogpu/terra/internal/noise"
	"github.com/gogpu/terra/internal/shader"
	"github.com/gogpu/terra/layer"
)

// Option configures a TileCache during creation.
//
// Example:
//
//	tc, err := terra.NewTileCache(dev, store,
//	    terra.WithFrameBudget(8),
//	    terra.WithShaderDir("shaders"),
//	)
type Option func(*options)

// GeneratorFactory builds the generator list of a tile cache. loader reads
// the shaders, honoring WithShaderDir.
type GeneratorFactory func(loader shader.Loader, layers *layer.Table) ([]generate.Generator, error)

// BatchGeneratorFactory builds the generators of the dynamic layers.
type BatchGeneratorFactory func(loader shader.Loader, layers *layer.Table) ([]generate.BatchGenerator, error)

type options struct {
	ctx               context.Context
	frameBudget       int
	streamingBudget   int
	streamConcurrency int
	readbackBuffers   int
	readbackMaxLevel  uint8
	capacities        []int
	layers            *layer.Table
	generators        GeneratorFactory
	batchGenerators   BatchGeneratorFactory
	shaderDir         string
	seed              int64
}

func defaultOptions() options {
	return options{
		ctx:              context.Background(),
		frameBudget:      16,
		streamingBudget:  128,
		readbackBuffers:  64,
		readbackMaxLevel: layer.LevelCell1M,
	}
}

// WithFrameBudget bounds the generator invocations per frame. Default 16.
func WithFrameBudget(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.frameBudget = n
		}
	}
}

// WithStreamingBudget bounds the streaming requests in flight. Default 128.
func WithStreamingBudget(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.streamingBudget = n
		}
	}
}

// WithStreamConcurrency bounds the parallel storage reads of the stream
// worker. Default GOMAXPROCS.
func WithStreamConcurrency(n int) Option {
	return func(o *options) {
		o.streamConcurrency = n
	}
}

// WithReadbackBuffers bounds the heightmap readback buffer pool. Default 64.
func WithReadbackBuffers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readbackBuffers = n
		}
	}
}

// WithReadbackMaxLevel sets the deepest level whose generated heightmaps
// are mirrored on the CPU. Default layer.LevelCell1M.
func WithReadbackMaxLevel(level uint8) Option {
	return func(o *options) {
		o.readbackMaxLevel = level
	}
}

// WithCapacities overrides the per-level slot counts, root first. The
// slice needs one entry per quadtree level.
func WithCapacities(capacities []int) Option {
	return func(o *options) {
		o.capacities = append([]int(nil), capacities...)
	}
}

// WithLayers replaces the default layer table.
func WithLayers(table layer.Table) Option {
	return func(o *options) {
		o.layers = &table
	}
}

// WithGenerators replaces the default generator list. Unless
// WithBatchGenerators is also given, dynamic layers are then left
// ungenerated.
func WithGenerators(factory GeneratorFactory) Option {
	return func(o *options) {
		o.generators = factory
	}
}

// WithBatchGenerators replaces the generators of the dynamic layers.
func WithBatchGenerators(factory BatchGeneratorFactory) Option {
	return func(o *options) {
		o.batchGenerators = factory
	}
}

// WithShaderDir reads shaders from dir, falling back to the embedded
// copies, and reloads them when they change.
func WithShaderDir(dir string) Option {
	return func(o *options) {
		o.shaderDir = dir
	}
}

// WithSeed seeds the detail noise of the default generators.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithContext sets the context the stream worker runs under. Canceling it
// stops streaming.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}

// DefaultGenerators is the GeneratorFactory used when WithGenerators is not
// given.
func DefaultGenerators(seed int64) GeneratorFactory {
	return func(loader shader.Loader, layers *layer.Table) ([]generate.Generator, error) {
		return generate.DefaultGenerators(loader, layers, noise.New(seed))
	}
}

// DefaultBatchGenerators is the BatchGeneratorFactory used when neither
// WithGenerators nor WithBatchGenerators is given.
func DefaultBatchGenerators() BatchGeneratorFactory {
	return generate.DefaultBatchGenerators
}

package gpucore

// Device abstracts over the GPU backends the tile cache can run on.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - Destroying a resource still referenced by an unsubmitted encoder is
//     undefined behavior
//   - IDs become invalid after destruction and are never reused
//
// Device methods are called from the frame goroutine only, except for
// MapFuture which may be awaited anywhere.
type Device interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// === Buffers ===

	// CreateBuffer creates a zero-initialized buffer.
	CreateBuffer(desc BufferDesc) (BufferID, error)

	// DestroyBuffer releases a buffer.
	DestroyBuffer(id BufferID)

	// WriteBuffer stages data for upload. The write is ordered before any
	// command buffer submitted afterwards.
	WriteBuffer(id BufferID, offset uint64, data []byte)

	// === Textures ===

	// CreateTextureArray creates a 2D texture array, zero-initialized.
	CreateTextureArray(desc TextureDesc) (TextureID, error)

	// DestroyTexture releases a texture array.
	DestroyTexture(id TextureID)

	// WriteTextureLayer replaces one array layer. data must hold exactly
	// desc.LayerBytes() bytes.
	WriteTextureLayer(id TextureID, layer uint32, data []byte)

	// === Pipelines ===

	// CreateShaderModule creates a compute shader module.
	CreateShaderModule(desc ShaderModuleDesc) (ShaderModuleID, error)

	// DestroyShaderModule releases a shader module.
	DestroyShaderModule(id ShaderModuleID)

	// CreateComputePipeline creates a pipeline with one bind group.
	CreateComputePipeline(desc ComputePipelineDesc) (ComputePipelineID, error)

	// DestroyComputePipeline releases a pipeline.
	DestroyComputePipeline(id ComputePipelineID)

	// CreateBindGroup creates a bind group matching a pipeline's bindings.
	CreateBindGroup(desc BindGroupDesc) (BindGroupID, error)

	// DestroyBindGroup releases a bind group.
	DestroyBindGroup(id BindGroupID)

	// === Commands ===

	// CreateCommandEncoder starts recording a command sequence.
	CreateCommandEncoder(label string) CommandEncoder

	// Submit executes a recorded command sequence. The encoder cannot be
	// used afterwards.
	Submit(encoder CommandEncoder) error

	// MapRead maps a MapRead buffer once all submitted work has finished.
	MapRead(id BufferID) MapFuture

	// Close releases every resource owned by the device.
	Close()
}

// CommandEncoder records commands for a single submission.
type CommandEncoder interface {
	// Dispatch runs pipeline with group bound at index 0. uniformOffset is
	// the dynamic offset applied to the uniform binding, if any.
	Dispatch(pipeline ComputePipelineID, group BindGroupID, uniformOffset uint32, x, y, z uint32)

	// CopyBufferToBuffer copies size bytes between buffers.
	CopyBufferToBuffer(src BufferID, srcOffset uint64, dst BufferID, dstOffset uint64, size uint64)

	// CopyTextureToBuffer copies one array layer into dst, writing each row
	// at a multiple of bytesPerRow.
	CopyTextureToBuffer(src TextureID, layer uint32, dst BufferID, bytesPerRow uint32)
}

// MapFuture is the pending result of Device.MapRead.
type MapFuture interface {
	// Done is closed once Bytes is ready.
	Done() <-chan struct{}

	// Bytes returns a copy of the mapped contents. It blocks until Done.
	Bytes() ([]byte, error)
}

// Kernel is the CPU implementation of a compute shader.
type Kernel func(inv Invocation)

// Invocation gives a Kernel access to the resources of one dispatch.
type Invocation interface {
	// Workgroups returns the dispatch size.
	Workgroups() [3]uint32

	// Uniform returns the uniform window selected by the dynamic offset.
	Uniform() []byte

	// Buffer returns the whole contents of the buffer bound at binding.
	// Writes are visible to later commands.
	Buffer(binding uint32) []byte

	// Texture returns the descriptor of the texture array at binding.
	Texture(binding uint32) TextureDesc

	// TextureLayer returns one array layer of the texture at binding.
	// Writes are visible to later commands.
	TextureLayer(binding uint32, layer uint32) []byte
}

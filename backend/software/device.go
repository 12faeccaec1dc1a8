// Package software implements gpucore.Device on the CPU.
//
// Compute dispatches run the shader module's Kernel in record order when
// the encoder is submitted. Texture array layers are allocated on first
// use, so large arrays cost nothing until they hold data.
package software

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/terra/backend"
	"github.com/gogpu/terra/internal/gpucore"
)

func init() {
	backend.Register(backend.BackendSoftware, func() (gpucore.Device, error) {
		return New(), nil
	})
}

type buffer struct {
	desc gpucore.BufferDesc
	data []byte
}

type texture struct {
	desc   gpucore.TextureDesc
	layers map[uint32][]byte
}

func (t *texture) layer(i uint32) []byte {
	if i >= t.desc.Layers {
		panic(fmt.Sprintf("software: layer %d out of range for %q (%d layers)", i, t.desc.Label, t.desc.Layers))
	}
	data, ok := t.layers[i]
	if !ok {
		data = make([]byte, t.desc.LayerBytes())
		t.layers[i] = data
	}
	return data
}

type pipeline struct {
	desc   gpucore.ComputePipelineDesc
	kernel gpucore.Kernel
}

// Device is a CPU implementation of gpucore.Device.
//
// Device is safe for concurrent use; commands execute under its lock.
type Device struct {
	mu        sync.Mutex
	nextID    uint64
	buffers   map[gpucore.BufferID]*buffer
	textures  map[gpucore.TextureID]*texture
	modules   map[gpucore.ShaderModuleID]gpucore.ShaderModuleDesc
	pipelines map[gpucore.ComputePipelineID]*pipeline
	groups    map[gpucore.BindGroupID]gpucore.BindGroupDesc

	dispatches  atomic.Uint64
	submissions atomic.Uint64
}

// New creates an empty software device.
func New() *Device {
	return &Device{
		buffers:   make(map[gpucore.BufferID]*buffer),
		textures:  make(map[gpucore.TextureID]*texture),
		modules:   make(map[gpucore.ShaderModuleID]gpucore.ShaderModuleDesc),
		pipelines: make(map[gpucore.ComputePipelineID]*pipeline),
		groups:    make(map[gpucore.BindGroupID]gpucore.BindGroupDesc),
	}
}

// Name returns the backend identifier.
func (d *Device) Name() string { return backend.BackendSoftware }

// Caller must hold d.mu.
func (d *Device) allocID() uint64 {
	d.nextID++
	return d.nextID
}

// === Buffers ===

// CreateBuffer creates a zero-initialized buffer.
func (d *Device) CreateBuffer(desc gpucore.BufferDesc) (gpucore.BufferID, error) {
	if desc.Size == 0 {
		return gpucore.InvalidID, fmt.Errorf("software: buffer %q has zero size", desc.Label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	id := gpucore.BufferID(d.allocID())
	d.buffers[id] = &buffer{desc: desc, data: make([]byte, desc.Size)}
	return id, nil
}

// DestroyBuffer releases a buffer.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, id)
}

// WriteBuffer copies data into the buffer immediately.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b := d.mustBuffer(id)
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		panic(fmt.Sprintf("software: write of %d bytes at %d overflows %q", len(data), offset, b.desc.Label))
	}
	copy(b.data[offset:], data)
}

// Caller must hold d.mu.
func (d *Device) mustBuffer(id gpucore.BufferID) *buffer {
	b, ok := d.buffers[id]
	if !ok {
		panic(fmt.Sprintf("software: %v: buffer %d", gpucore.ErrInvalidID, id))
	}
	return b
}

// === Textures ===

// CreateTextureArray creates a texture array with lazily allocated layers.
func (d *Device) CreateTextureArray(desc gpucore.TextureDesc) (gpucore.TextureID, error) {
	if desc.Layers == 0 || desc.RowBytes == 0 || desc.Height == 0 {
		return gpucore.InvalidID, fmt.Errorf("software: texture %q has an empty extent", desc.Label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	id := gpucore.TextureID(d.allocID())
	d.textures[id] = &texture{desc: desc, layers: make(map[uint32][]byte)}
	return id, nil
}

// DestroyTexture releases a texture array.
func (d *Device) DestroyTexture(id gpucore.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.textures, id)
}

// WriteTextureLayer replaces one array layer.
func (d *Device) WriteTextureLayer(id gpucore.TextureID, layer uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t := d.mustTexture(id)
	if uint64(len(data)) != t.desc.LayerBytes() {
		panic(fmt.Sprintf("software: layer write of %d bytes to %q, want %d", len(data), t.desc.Label, t.desc.LayerBytes()))
	}
	copy(t.layer(layer), data)
}

// ReadTextureLayer returns a copy of one array layer.
func (d *Device) ReadTextureLayer(id gpucore.TextureID, layer uint32) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.mustTexture(id).layer(layer)...)
}

// ReadBuffer returns a copy of a buffer's contents.
func (d *Device) ReadBuffer(id gpucore.BufferID) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.mustBuffer(id).data...)
}

// Caller must hold d.mu.
func (d *Device) mustTexture(id gpucore.TextureID) *texture {
	t, ok := d.textures[id]
	if !ok {
		panic(fmt.Sprintf("software: %v: texture %d", gpucore.ErrInvalidID, id))
	}
	return t
}

// === Pipelines ===

// CreateShaderModule stores the module. Modules without a Kernel are
// rejected since nothing could run them.
func (d *Device) CreateShaderModule(desc gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	if desc.Kernel == nil {
		return gpucore.InvalidID, fmt.Errorf("software: shader %q has no CPU kernel", desc.Label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	id := gpucore.ShaderModuleID(d.allocID())
	d.modules[id] = desc
	return id, nil
}

// DestroyShaderModule releases a shader module.
func (d *Device) DestroyShaderModule(id gpucore.ShaderModuleID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.modules, id)
}

// CreateComputePipeline binds a module's kernel to a binding layout.
func (d *Device) CreateComputePipeline(desc gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	module, ok := d.modules[desc.Module]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("software: pipeline %q: %w", desc.Label, gpucore.ErrInvalidID)
	}
	id := gpucore.ComputePipelineID(d.allocID())
	d.pipelines[id] = &pipeline{desc: desc, kernel: module.Kernel}
	return id, nil
}

// DestroyComputePipeline releases a pipeline.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipelines, id)
}

// CreateBindGroup validates the entries against the pipeline's bindings.
func (d *Device) CreateBindGroup(desc gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pipelines[desc.Pipeline]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("software: bind group %q: %w", desc.Label, gpucore.ErrInvalidID)
	}
	for _, layout := range p.desc.Bindings {
		entry, found := findEntry(desc.Entries, layout.Binding)
		if !found {
			return gpucore.InvalidID, fmt.Errorf("software: bind group %q: binding %d missing", desc.Label, layout.Binding)
		}
		if layout.Type == gpucore.BindingTextureArray {
			if _, ok := d.textures[entry.Texture]; !ok {
				return gpucore.InvalidID, fmt.Errorf("software: bind group %q: binding %d: %w", desc.Label, layout.Binding, gpucore.ErrInvalidID)
			}
		} else if _, ok := d.buffers[entry.Buffer]; !ok {
			return gpucore.InvalidID, fmt.Errorf("software: bind group %q: binding %d: %w", desc.Label, layout.Binding, gpucore.ErrInvalidID)
		}
	}

	id := gpucore.BindGroupID(d.allocID())
	d.groups[id] = desc
	return id, nil
}

// DestroyBindGroup releases a bind group.
func (d *Device) DestroyBindGroup(id gpucore.BindGroupID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.groups, id)
}

func findEntry(entries []gpucore.BindGroupEntry, binding uint32) (gpucore.BindGroupEntry, bool) {
	for _, e := range entries {
		if e.Binding == binding {
			return e, true
		}
	}
	return gpucore.BindGroupEntry{}, false
}

// === Commands ===

// CreateCommandEncoder starts recording commands.
func (d *Device) CreateCommandEncoder(label string) gpucore.CommandEncoder {
	return &encoder{label: label}
}

// Submit executes the recorded commands in order.
func (d *Device) Submit(enc gpucore.CommandEncoder) error {
	e, ok := enc.(*encoder)
	if !ok {
		return fmt.Errorf("software: foreign command encoder %T", enc)
	}
	if e.submitted {
		return fmt.Errorf("software: encoder %q submitted twice", e.label)
	}
	e.submitted = true

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, cmd := range e.commands {
		if err := cmd(d); err != nil {
			return fmt.Errorf("software: %s: %w", e.label, err)
		}
	}
	d.submissions.Add(1)
	return nil
}

// MapRead snapshots the buffer asynchronously. Submit is synchronous, so
// all prior work is already visible.
func (d *Device) MapRead(id gpucore.BufferID) gpucore.MapFuture {
	f := &future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		d.mu.Lock()
		defer d.mu.Unlock()

		b, ok := d.buffers[id]
		if !ok {
			f.err = fmt.Errorf("software: map buffer %d: %w", id, gpucore.ErrInvalidID)
			return
		}
		f.data = append([]byte(nil), b.data...)
	}()
	return f
}

// Dispatches returns the number of kernel dispatches executed so far.
func (d *Device) Dispatches() uint64 { return d.dispatches.Load() }

// Submissions returns the number of successful submissions.
func (d *Device) Submissions() uint64 { return d.submissions.Load() }

// Close releases every resource.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.buffers)
	clear(d.textures)
	clear(d.modules)
	clear(d.pipelines)
	clear(d.groups)
}

type future struct {
	done chan struct{}
	data []byte
	err  error
}

func (f *future) Done() <-chan struct{} { return f.done }

func (f *future) Bytes() ([]byte, error) {
	<-f.done
	return f.data, f.err
}

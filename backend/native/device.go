//go:build !nogpu

package native

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan" // registers the Vulkan HAL backend

	"github.com/gogpu/terra/backend"
	"github.com/gogpu/terra/internal/gpucore"
)

// fenceTimeout bounds how long Submit waits for the GPU.
const fenceTimeout = 5 * time.Second

// ErrNoAdapter is returned by Open when no GPU adapter is present.
var ErrNoAdapter = errors.New("native: no GPU adapter found")

func init() {
	backend.Register(backend.BackendNative, func() (gpucore.Device, error) {
		return Open()
	})
}

type buffer struct {
	desc gpucore.BufferDesc
	hal  hal.Buffer
}

type texture struct {
	desc   gpucore.TextureDesc
	layout texelLayout
	hal    hal.Buffer
}

type pipeline struct {
	desc     gpucore.ComputePipelineDesc
	bgLayout hal.BindGroupLayout
	layout   hal.PipelineLayout
	hal      hal.ComputePipeline
}

// Device implements gpucore.Device on a HAL device and queue.
//
// Bind groups are kept as descriptors and realized per dispatch, with the
// uniform window at the dispatch's offset.
type Device struct {
	mu       sync.Mutex
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	adapter  string

	nextID    uint64
	buffers   map[gpucore.BufferID]*buffer
	textures  map[gpucore.TextureID]*texture
	modules   map[gpucore.ShaderModuleID]hal.ShaderModule
	pipelines map[gpucore.ComputePipelineID]*pipeline
	groups    map[gpucore.BindGroupID]gpucore.BindGroupDesc

	dispatches atomic.Uint64
	closed     bool
}

// Open creates a device on the first discrete or integrated GPU, falling
// back to any adapter the Vulkan backend reports.
func Open() (*Device, error) {
	vk, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("native: vulkan backend not available")
	}
	instance, err := vk.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("native: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: open device: %w", err)
	}

	return &Device{
		instance:  instance,
		device:    openDev.Device,
		queue:     openDev.Queue,
		adapter:   selected.Info.Name,
		buffers:   make(map[gpucore.BufferID]*buffer),
		textures:  make(map[gpucore.TextureID]*texture),
		modules:   make(map[gpucore.ShaderModuleID]hal.ShaderModule),
		pipelines: make(map[gpucore.ComputePipelineID]*pipeline),
		groups:    make(map[gpucore.BindGroupID]gpucore.BindGroupDesc),
	}, nil
}

// Name returns the backend identifier.
func (d *Device) Name() string { return backend.BackendNative }

// Adapter returns the name of the GPU in use.
func (d *Device) Adapter() string { return d.adapter }

// Dispatches returns the number of dispatches submitted so far.
func (d *Device) Dispatches() uint64 { return d.dispatches.Load() }

// Caller must hold d.mu.
func (d *Device) allocID() uint64 {
	d.nextID++
	return d.nextID
}

// === Buffers ===

// CreateBuffer creates a GPU buffer. Storage and uniform buffers are also
// copy destinations so WriteBuffer can reach them.
func (d *Device) CreateBuffer(desc gpucore.BufferDesc) (gpucore.BufferID, error) {
	if desc.Size == 0 {
		return gpucore.InvalidID, fmt.Errorf("native: buffer %q has zero size", desc.Label)
	}
	usage := desc.Usage
	if usage&gpucore.BufferUsageMapRead == 0 {
		usage |= gputypes.BufferUsageCopyDst
	}
	hb, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  alignUp(desc.Size, 4),
		Usage: usage,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create buffer %q: %w", desc.Label, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.BufferID(d.allocID())
	d.buffers[id] = &buffer{desc: desc, hal: hb}
	return id, nil
}

// DestroyBuffer releases a buffer.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.buffers[id]; ok {
		d.device.DestroyBuffer(b.hal)
		delete(d.buffers, id)
	}
}

// WriteBuffer queues an upload ahead of later submissions.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b := d.mustBuffer(id)
	if offset+uint64(len(data)) > b.desc.Size {
		panic(fmt.Sprintf("native: write of %d bytes at %d overflows %q", len(data), offset, b.desc.Label))
	}
	d.queue.WriteBuffer(b.hal, offset, data)
}

// Caller must hold d.mu.
func (d *Device) mustBuffer(id gpucore.BufferID) *buffer {
	b, ok := d.buffers[id]
	if !ok {
		panic(fmt.Sprintf("native: %v: buffer %d", gpucore.ErrInvalidID, id))
	}
	return b
}

// === Textures ===

// CreateTextureArray allocates the array as one storage buffer. Block
// compressed formats are rejected since shaders cannot address their
// texels.
func (d *Device) CreateTextureArray(desc gpucore.TextureDesc) (gpucore.TextureID, error) {
	if desc.Layers == 0 || desc.RowBytes == 0 || desc.Height == 0 {
		return gpucore.InvalidID, fmt.Errorf("native: texture %q has an empty extent", desc.Label)
	}
	layout, err := newTexelLayout(desc)
	if err != nil {
		return gpucore.InvalidID, err
	}
	hb, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  layout.layerBytes() * uint64(desc.Layers),
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create texture %q: %w", desc.Label, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.TextureID(d.allocID())
	d.textures[id] = &texture{desc: desc, layout: layout, hal: hb}
	return id, nil
}

// DestroyTexture releases a texture array.
func (d *Device) DestroyTexture(id gpucore.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.textures[id]; ok {
		d.device.DestroyBuffer(t.hal)
		delete(d.textures, id)
	}
}

// WriteTextureLayer uploads one tightly packed layer.
func (d *Device) WriteTextureLayer(id gpucore.TextureID, layer uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t := d.mustTexture(id)
	if layer >= t.desc.Layers {
		panic(fmt.Sprintf("native: layer %d out of range for %q (%d layers)", layer, t.desc.Label, t.desc.Layers))
	}
	if uint64(len(data)) != t.desc.LayerBytes() {
		panic(fmt.Sprintf("native: layer write of %d bytes to %q, want %d", len(data), t.desc.Label, t.desc.LayerBytes()))
	}
	d.queue.WriteBuffer(t.hal, uint64(layer)*t.layout.layerBytes(), t.layout.expand(data))
}

// Caller must hold d.mu.
func (d *Device) mustTexture(id gpucore.TextureID) *texture {
	t, ok := d.textures[id]
	if !ok {
		panic(fmt.Sprintf("native: %v: texture %d", gpucore.ErrInvalidID, id))
	}
	return t
}

// === Pipelines ===

// CreateShaderModule compiles the module's WGSL to SPIR-V.
func (d *Device) CreateShaderModule(desc gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	if desc.WGSL == "" {
		return gpucore.InvalidID, fmt.Errorf("native: shader %q has no WGSL source", desc.Label)
	}
	spirv, err := naga.Compile(desc.WGSL)
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: compile shader %q: %w", desc.Label, err)
	}
	words, err := spirvWords(spirv)
	if err != nil {
		return gpucore.InvalidID, err
	}
	module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{SPIRV: words},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create shader module %q: %w", desc.Label, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.ShaderModuleID(d.allocID())
	d.modules[id] = module
	return id, nil
}

// DestroyShaderModule releases a shader module.
func (d *Device) DestroyShaderModule(id gpucore.ShaderModuleID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, ok := d.modules[id]; ok {
		d.device.DestroyShaderModule(m)
		delete(d.modules, id)
	}
}

// CreateComputePipeline builds the bind group layout, pipeline layout and
// pipeline for the module's "main" entry point.
func (d *Device) CreateComputePipeline(desc gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	module, ok := d.modules[desc.Module]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("native: pipeline %q: %w", desc.Label, gpucore.ErrInvalidID)
	}

	bgLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label + "_bgl",
		Entries: layoutEntries(desc.Bindings),
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create bind group layout for %q: %w", desc.Label, err)
	}
	layout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label + "_pl",
		BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
	})
	if err != nil {
		d.device.DestroyBindGroupLayout(bgLayout)
		return gpucore.InvalidID, fmt.Errorf("native: create pipeline layout for %q: %w", desc.Label, err)
	}
	hp, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: layout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		d.device.DestroyPipelineLayout(layout)
		d.device.DestroyBindGroupLayout(bgLayout)
		return gpucore.InvalidID, fmt.Errorf("native: create compute pipeline %q: %w", desc.Label, err)
	}

	id := gpucore.ComputePipelineID(d.allocID())
	d.pipelines[id] = &pipeline{desc: desc, bgLayout: bgLayout, layout: layout, hal: hp}
	return id, nil
}

func layoutEntries(bindings []gpucore.BindingLayout) []gputypes.BindGroupLayoutEntry {
	entries := make([]gputypes.BindGroupLayoutEntry, len(bindings))
	for i, b := range bindings {
		kind := gputypes.BufferBindingTypeStorage
		switch b.Type {
		case gpucore.BindingUniform:
			kind = gputypes.BufferBindingTypeUniform
		case gpucore.BindingReadOnlyStorageBuffer:
			kind = gputypes.BufferBindingTypeReadOnlyStorage
		}
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    b.Binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer: &gputypes.BufferBindingLayout{
				Type:           kind,
				MinBindingSize: b.Size,
			},
		}
	}
	return entries
}

// DestroyComputePipeline releases a pipeline and its layouts.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pipelines[id]; ok {
		d.destroyPipeline(p)
		delete(d.pipelines, id)
	}
}

// Caller must hold d.mu.
func (d *Device) destroyPipeline(p *pipeline) {
	d.device.DestroyComputePipeline(p.hal)
	d.device.DestroyPipelineLayout(p.layout)
	d.device.DestroyBindGroupLayout(p.bgLayout)
}

// CreateBindGroup validates the entries against the pipeline's bindings.
// The HAL bind group is created when a dispatch uses it.
func (d *Device) CreateBindGroup(desc gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pipelines[desc.Pipeline]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("native: bind group %q: %w", desc.Label, gpucore.ErrInvalidID)
	}
	for _, layout := range p.desc.Bindings {
		entry, found := findEntry(desc.Entries, layout.Binding)
		if !found {
			return gpucore.InvalidID, fmt.Errorf("native: bind group %q: binding %d missing", desc.Label, layout.Binding)
		}
		if layout.Type == gpucore.BindingTextureArray {
			if _, ok := d.textures[entry.Texture]; !ok {
				return gpucore.InvalidID, fmt.Errorf("native: bind group %q: binding %d: %w", desc.Label, layout.Binding, gpucore.ErrInvalidID)
			}
		} else if _, ok := d.buffers[entry.Buffer]; !ok {
			return gpucore.InvalidID, fmt.Errorf("native: bind group %q: binding %d: %w", desc.Label, layout.Binding, gpucore.ErrInvalidID)
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

// Caller must hold d.mu.
func (d *Device) realizeGroup(p *pipeline, desc gpucore.BindGroupDesc, uniformOffset uint32) (hal.BindGroup, error) {
	entries := make([]gputypes.BindGroupEntry, 0, len(p.desc.Bindings))
	for _, layout := range p.desc.Bindings {
		entry, _ := findEntry(desc.Entries, layout.Binding)
		var binding gputypes.BufferBinding
		switch layout.Type {
		case gpucore.BindingTextureArray:
			t, ok := d.textures[entry.Texture]
			if !ok {
				return nil, fmt.Errorf("texture %d: %w", entry.Texture, gpucore.ErrInvalidID)
			}
			binding = gputypes.BufferBinding{Buffer: t.hal.NativeHandle()}
		case gpucore.BindingUniform:
			b, ok := d.buffers[entry.Buffer]
			if !ok {
				return nil, fmt.Errorf("buffer %d: %w", entry.Buffer, gpucore.ErrInvalidID)
			}
			binding = gputypes.BufferBinding{
				Buffer: b.hal.NativeHandle(),
				Offset: entry.Offset + uint64(uniformOffset),
				Size:   layout.Size,
			}
		default:
			b, ok := d.buffers[entry.Buffer]
			if !ok {
				return nil, fmt.Errorf("buffer %d: %w", entry.Buffer, gpucore.ErrInvalidID)
			}
			binding = gputypes.BufferBinding{
				Buffer: b.hal.NativeHandle(),
				Offset: entry.Offset,
				Size:   entry.Size,
			}
		}
		entries = append(entries, gputypes.BindGroupEntry{Binding: layout.Binding, Resource: binding})
	}
	return d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  p.bgLayout,
		Entries: entries,
	})
}

// === Commands ===

// CreateCommandEncoder starts recording commands.
func (d *Device) CreateCommandEncoder(label string) gpucore.CommandEncoder {
	return &encoder{label: label}
}

// Submit encodes the recorded commands into one command buffer and waits
// for the GPU to finish them.
func (d *Device) Submit(enc gpucore.CommandEncoder) error {
	e, ok := enc.(*encoder)
	if !ok {
		return fmt.Errorf("native: foreign command encoder %T", enc)
	}
	if e.submitted {
		return fmt.Errorf("native: encoder %q submitted twice", e.label)
	}
	e.submitted = true

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("native: %s: device closed", e.label)
	}

	res := &submission{device: d.device}
	defer res.release()

	he, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: e.label})
	if err != nil {
		return fmt.Errorf("native: %s: create command encoder: %w", e.label, err)
	}
	if err := he.BeginEncoding(e.label); err != nil {
		return fmt.Errorf("native: %s: begin encoding: %w", e.label, err)
	}
	dispatched := 0
	for _, cmd := range e.commands {
		if err := cmd.encode(d, he, res); err != nil {
			he.DiscardEncoding()
			return fmt.Errorf("native: %s: %w", e.label, err)
		}
		if cmd.dispatch {
			dispatched++
		}
	}
	cmdBuf, err := he.EndEncoding()
	if err != nil {
		return fmt.Errorf("native: %s: end encoding: %w", e.label, err)
	}
	res.cmdBuf = cmdBuf

	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("native: %s: create fence: %w", e.label, err)
	}
	res.fence = fence
	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("native: %s: submit: %w", e.label, err)
	}
	ok, err = d.device.Wait(fence, 1, fenceTimeout)
	if err != nil {
		return fmt.Errorf("native: %s: wait for GPU: %w", e.label, err)
	}
	if !ok {
		return fmt.Errorf("native: %s: GPU timeout after %v", e.label, fenceTimeout)
	}
	d.dispatches.Add(uint64(dispatched))
	return nil
}

// submission owns the transient HAL objects of one Submit.
type submission struct {
	device     hal.Device
	bindGroups []hal.BindGroup
	cmdBuf     hal.CommandBuffer
	fence      hal.Fence
}

func (s *submission) release() {
	if s.fence != nil {
		s.device.DestroyFence(s.fence)
	}
	if s.cmdBuf != nil {
		s.device.FreeCommandBuffer(s.cmdBuf)
	}
	for _, g := range s.bindGroups {
		s.device.DestroyBindGroup(g)
	}
}

// MapRead reads the buffer back on its own goroutine. Submit waits for
// completion, so all prior work is visible.
func (d *Device) MapRead(id gpucore.BufferID) gpucore.MapFuture {
	f := &future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		d.mu.Lock()
		defer d.mu.Unlock()

		b, ok := d.buffers[id]
		if !ok {
			f.err = fmt.Errorf("native: map buffer %d: %w", id, gpucore.ErrInvalidID)
			return
		}
		data := make([]byte, b.desc.Size)
		if err := d.queue.ReadBuffer(b.hal, 0, data); err != nil {
			f.err = fmt.Errorf("native: read buffer %q: %w", b.desc.Label, err)
			return
		}
		f.data = data
	}()
	return f
}

// Close releases every resource, the device and the instance.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true

	for _, p := range d.pipelines {
		d.destroyPipeline(p)
	}
	for _, m := range d.modules {
		d.device.DestroyShaderModule(m)
	}
	for _, t := range d.textures {
		d.device.DestroyBuffer(t.hal)
	}
	for _, b := range d.buffers {
		d.device.DestroyBuffer(b.hal)
	}
	clear(d.pipelines)
	clear(d.modules)
	clear(d.textures)
	clear(d.buffers)
	clear(d.groups)

	d.device.Destroy()
	d.instance.Destroy()
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

func alignUp(n, a uint64) uint64 { return (n + a - 1) &^ (a - 1) }

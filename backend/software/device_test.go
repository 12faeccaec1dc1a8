package software

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/terra/internal/gpucore"
)

func TestDevice_DispatchRunsKernel(t *testing.T) {
	d := New()
	defer d.Close()

	uniforms, err := d.CreateBuffer(gpucore.BufferDesc{Label: "uniforms", Size: 512, Usage: gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst})
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	tex, err := d.CreateTextureArray(gpucore.TextureDesc{Label: "tiles", Width: 4, Height: 4, Layers: 8, RowBytes: 4})
	if err != nil {
		t.Fatalf("CreateTextureArray() error = %v", err)
	}

	// Kernel fills the layer named by the first uniform byte with the
	// second uniform byte.
	module, err := d.CreateShaderModule(gpucore.ShaderModuleDesc{
		Label: "fill",
		Kernel: func(inv gpucore.Invocation) {
			u := inv.Uniform()
			data := inv.TextureLayer(1, uint32(u[0]))
			for i := range data {
				data[i] = u[1]
			}
		},
	})
	if err != nil {
		t.Fatalf("CreateShaderModule() error = %v", err)
	}
	pipe, err := d.CreateComputePipeline(gpucore.ComputePipelineDesc{
		Label:  "fill",
		Module: module,
		Bindings: []gpucore.BindingLayout{
			{Binding: 0, Type: gpucore.BindingUniform, Size: 256},
			{Binding: 1, Type: gpucore.BindingTextureArray},
		},
	})
	if err != nil {
		t.Fatalf("CreateComputePipeline() error = %v", err)
	}
	group, err := d.CreateBindGroup(gpucore.BindGroupDesc{
		Pipeline: pipe,
		Entries: []gpucore.BindGroupEntry{
			{Binding: 0, Buffer: uniforms, Size: 256},
			{Binding: 1, Texture: tex},
		},
	})
	if err != nil {
		t.Fatalf("CreateBindGroup() error = %v", err)
	}

	d.WriteBuffer(uniforms, 256, []byte{3, 0xAB})
	enc := d.CreateCommandEncoder("frame")
	enc.Dispatch(pipe, group, 256, 1, 1, 1)
	if err := d.Submit(enc); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if got := d.ReadTextureLayer(tex, 3); !bytes.Equal(got, bytes.Repeat([]byte{0xAB}, 16)) {
		t.Errorf("layer 3 = %x, want all 0xab", got)
	}
	if got := d.ReadTextureLayer(tex, 2); !bytes.Equal(got, make([]byte, 16)) {
		t.Errorf("layer 2 = %x, want zeros", got)
	}
	if d.Dispatches() != 1 {
		t.Errorf("Dispatches() = %d, want 1", d.Dispatches())
	}
}

func TestDevice_CopyTextureToBufferPitch(t *testing.T) {
	d := New()
	tex, _ := d.CreateTextureArray(gpucore.TextureDesc{Label: "t", Width: 3, Height: 2, Layers: 1, RowBytes: 3})
	d.WriteTextureLayer(tex, 0, []byte{1, 2, 3, 4, 5, 6})
	buf, _ := d.CreateBuffer(gpucore.BufferDesc{Label: "readback", Size: 512, Usage: gpucore.BufferUsageMapRead | gpucore.BufferUsageCopyDst})

	enc := d.CreateCommandEncoder("copy")
	enc.CopyTextureToBuffer(tex, 0, buf, 256)
	if err := d.Submit(enc); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	data, err := d.MapRead(buf).Bytes()
	if err != nil {
		t.Fatalf("MapRead() error = %v", err)
	}
	if !bytes.Equal(data[0:3], []byte{1, 2, 3}) || !bytes.Equal(data[256:259], []byte{4, 5, 6}) {
		t.Errorf("rows not at pitch: %v / %v", data[0:3], data[256:259])
	}
}

func TestDevice_CopyBufferToBuffer(t *testing.T) {
	d := New()
	src, _ := d.CreateBuffer(gpucore.BufferDesc{Label: "src", Size: 8})
	dst, _ := d.CreateBuffer(gpucore.BufferDesc{Label: "dst", Size: 8})
	d.WriteBuffer(src, 0, []byte{9, 9, 9, 9})
	d.WriteBuffer(dst, 0, []byte{1, 1, 1, 1, 1, 1, 1, 1})

	enc := d.CreateCommandEncoder("clear")
	enc.CopyBufferToBuffer(src, 4, dst, 2, 4)
	if err := d.Submit(enc); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got, want := d.ReadBuffer(dst), []byte{1, 1, 0, 0, 0, 0, 1, 1}; !bytes.Equal(got, want) {
		t.Errorf("dst = %v, want %v", got, want)
	}
}

func TestDevice_Errors(t *testing.T) {
	d := New()

	if _, err := d.CreateShaderModule(gpucore.ShaderModuleDesc{Label: "gpu-only"}); err == nil {
		t.Error("CreateShaderModule() without kernel succeeded")
	}
	if _, err := d.CreateComputePipeline(gpucore.ComputePipelineDesc{Module: 42}); !errors.Is(err, gpucore.ErrInvalidID) {
		t.Errorf("CreateComputePipeline(bad module) error = %v, want ErrInvalidID", err)
	}
	if _, err := d.MapRead(99).Bytes(); !errors.Is(err, gpucore.ErrInvalidID) {
		t.Errorf("MapRead(bad id) error = %v, want ErrInvalidID", err)
	}

	enc := d.CreateCommandEncoder("twice")
	if err := d.Submit(enc); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := d.Submit(enc); err == nil {
		t.Error("second Submit() succeeded")
	}
}

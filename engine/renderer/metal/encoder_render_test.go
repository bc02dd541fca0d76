package metal

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver/soft"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

func renderTarget(t *testing.T, d *Device, w, h int) *Texture {
	t.Helper()
	desc := metadata.Texture2DDescriptor(metadata.PixelFormatRGBA8Unorm, w, h, false)
	desc.Usage = metadata.TextureUsageRenderTarget | metadata.TextureUsageShaderRead
	tex, err := d.MakeTexture(desc)
	if err != nil {
		t.Fatal(err)
	}
	return tex
}

func clearPass(tex *Texture, c metadata.ClearColor) *RenderPassDescriptor {
	desc := NewRenderPassDescriptor()
	desc.ColorAttachments[0].Texture = tex
	desc.ColorAttachments[0].LoadAction = metadata.LoadActionClear
	desc.ColorAttachments[0].ClearColor = c
	return desc
}

func newTestRenderPipeline(t *testing.T, d *Device, fragmentClasses []metadata.ArgumentClass) *RenderPipelineState {
	t.Helper()
	lib := newLibrary(d, "render")
	addStub(lib, "vs", metadata.FunctionTypeVertex, nil, metadata.Size{})
	addStub(lib, "fs", metadata.FunctionTypeFragment, fragmentClasses, metadata.Size{})
	desc := NewRenderPipelineDescriptor()
	desc.VertexFunction = mustFunction(t, lib, "vs")
	desc.FragmentFunction = mustFunction(t, lib, "fs")
	desc.ColorAttachments[0].PixelFormat = metadata.PixelFormatRGBA8Unorm
	ps, err := d.MakeRenderPipelineState(desc)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(ps.Release)
	return ps
}

func countRecorded(cb *CommandBuffer, name string) int {
	n := 0
	for _, r := range cb.Native().(*soft.CommandBuffer).Recorded() {
		if r.Name == name {
			n++
		}
	}
	return n
}

func TestRenderPassClear(t *testing.T) {
	d, _ := newTestDevice(t)
	q := newTestQueue(t, d)
	tex := renderTarget(t, d, 64, 64)

	cb := newTestCommandBuffer(t, q)
	enc := cb.MakeRenderCommandEncoder(clearPass(tex, metadata.NewClearColor(1, 0, 0, 1)))
	enc.EndEncoding()
	cb.Commit()
	waitCompleted(t, cb)

	pixels := make([]byte, 64*64*4)
	if err := tex.GetBytes(pixels, 64*4, metadata.Region{Size: metadata.NewSize(64, 64, 1)}, 0); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(pixels); i += 4 {
		if pixels[i] != 255 || pixels[i+1] != 0 || pixels[i+2] != 0 || pixels[i+3] != 255 {
			t.Fatalf("pixel %d = %v", i/4, pixels[i:i+4])
		}
	}
}

func TestRenderPipelineCache(t *testing.T) {
	d, gpu := newTestDevice(t)
	q := newTestQueue(t, d)
	tex := renderTarget(t, d, 16, 16)
	ps := newTestRenderPipeline(t, d, nil)

	cb := newTestCommandBuffer(t, q)
	enc := cb.MakeRenderCommandEncoder(clearPass(tex, metadata.NewClearColor(0, 0, 0, 1)))
	enc.SetRenderPipelineState(ps)
	enc.DrawPrimitives(metadata.PrimitiveTypeTriangle, 0, 3)
	enc.DrawPrimitives(metadata.PrimitiveTypeTriangle, 0, 3)
	if n := ps.pipelines.len(); n != 1 {
		t.Errorf("identical draws built %d pipelines", n)
	}
	enc.SetCullMode(metadata.CullModeBack)
	enc.DrawPrimitives(metadata.PrimitiveTypeTriangle, 0, 3)
	if n := ps.pipelines.len(); n != 2 {
		t.Errorf("cull change left %d pipelines, want 2", n)
	}
	enc.DrawPrimitives(metadata.PrimitiveTypeTriangle, 0, 0)
	enc.EndEncoding()

	if n := countRecorded(cb, "BindPipeline"); n != 2 {
		t.Errorf("BindPipeline recorded %d times, want 2", n)
	}
	cb.Commit()
	waitCompleted(t, cb)
	if gpu.Draws() != 3 {
		t.Errorf("draws = %d, want 3", gpu.Draws())
	}
}

func TestRenderPassResumesForSampledTexture(t *testing.T) {
	d, _ := newTestDevice(t)
	q := newTestQueue(t, d)
	target := renderTarget(t, d, 16, 16)
	sampled, err := d.MakeTexture(metadata.Texture2DDescriptor(metadata.PixelFormatRGBA8Unorm, 4, 4, false))
	if err != nil {
		t.Fatal(err)
	}
	ps := newTestRenderPipeline(t, d, []metadata.ArgumentClass{metadata.ArgumentClassTexture})

	cb := newTestCommandBuffer(t, q)
	enc := cb.MakeRenderCommandEncoder(clearPass(target, metadata.NewClearColor(0, 0, 1, 1)))
	enc.SetRenderPipelineState(ps)
	enc.SetFragmentTexture(sampled, 0)
	enc.DrawPrimitives(metadata.PrimitiveTypeTriangle, 0, 3)
	enc.DrawPrimitives(metadata.PrimitiveTypeTriangle, 0, 3)
	enc.EndEncoding()

	if n := countRecorded(cb, "BeginRenderPass"); n != 2 {
		t.Errorf("BeginRenderPass recorded %d times, want 2", n)
	}
	if n := countRecorded(cb, "EndRenderPass"); n != 2 {
		t.Errorf("EndRenderPass recorded %d times, want 2", n)
	}
	cb.Commit()
	waitCompleted(t, cb)

	// The clear survives the suspension.
	pixel := make([]byte, 4)
	if err := target.GetBytes(pixel, 4, metadata.Region{Origin: metadata.Origin{X: 8, Y: 8}, Size: metadata.NewSize(1, 1, 1)}, 0); err != nil {
		t.Fatal(err)
	}
	if pixel[2] != 255 || pixel[0] != 0 {
		t.Errorf("pixel = %v, want blue", pixel)
	}
}

func TestRenderPassRejectsSampledAttachment(t *testing.T) {
	d, _ := newTestDevice(t)
	q := newTestQueue(t, d)
	target := renderTarget(t, d, 16, 16)
	ps := newTestRenderPipeline(t, d, []metadata.ArgumentClass{metadata.ArgumentClassTexture})

	cb := newTestCommandBuffer(t, q)
	enc := cb.MakeRenderCommandEncoder(clearPass(target, metadata.NewClearColor(0, 0, 0, 1)))
	enc.SetRenderPipelineState(ps)
	enc.SetFragmentTexture(target, 0)
	if err := expectPanic(t, func() { enc.DrawPrimitives(metadata.PrimitiveTypeTriangle, 0, 3) }); err == nil {
		t.Fatal("an attachment was sampled in its own pass")
	}
}

func TestRenderPipelineRejectsKernel(t *testing.T) {
	d, _ := newTestDevice(t)
	lib := newLibrary(d, "render")
	addStub(lib, "k", metadata.FunctionTypeKernel, nil, metadata.Size{})
	desc := NewRenderPipelineDescriptor()
	desc.VertexFunction = mustFunction(t, lib, "k")
	if _, err := d.MakeRenderPipelineState(desc); !errors.Is(err, core.ErrRenderPipelineStateFailed) {
		t.Fatalf("got %v, want ErrRenderPipelineStateFailed", err)
	}
	if _, err := d.MakeRenderPipelineState(nil); !errors.Is(err, core.ErrRenderPipelineStateFailed) {
		t.Fatalf("nil descriptor: %v", err)
	}
}

func TestRenderPassRejectsMismatchedAttachments(t *testing.T) {
	d, _ := newTestDevice(t)
	q := newTestQueue(t, d)
	a := renderTarget(t, d, 16, 16)
	b := renderTarget(t, d, 8, 8)

	desc := clearPass(a, metadata.NewClearColor(0, 0, 0, 1))
	desc.ColorAttachments[1].Texture = b
	cb := newTestCommandBuffer(t, q)
	if err := expectPanic(t, func() { cb.MakeRenderCommandEncoder(desc) }); err == nil {
		t.Fatal("attachments of different sizes were accepted")
	}
}

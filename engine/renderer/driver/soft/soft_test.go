package soft

import (
	"errors"
	"testing"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

func submitAndWait(t *testing.T, g *GPU, cb driver.CommandBuffer) {
	t.Helper()
	f, _ := g.NewFence(false)
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := g.Submit(cb, f); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ok, _ := f.Wait(time.Second); !ok {
		t.Fatal("fence not signaled")
	}
}

func TestFillAndCopyBuffer(t *testing.T) {
	g := New()
	defer g.Destroy()

	src, _ := g.NewBuffer(64, 0)
	dst, _ := g.NewBuffer(64, 0)
	cb, _ := g.NewCommandBuffer()
	cb.Begin()
	cb.FillBuffer(src, 0, 64, 0xFFFFFFFF)
	cb.PipelineBarrier(vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		[]driver.MemoryBarrier{{SrcAccess: vk.AccessFlags(vk.AccessTransferWriteBit), DstAccess: vk.AccessFlags(vk.AccessTransferReadBit)}}, nil)
	cb.CopyBuffer(src, dst, []driver.BufferCopy{{Size: 32}})
	submitAndWait(t, g, cb)

	d := dst.Bytes()
	if d[0] != 0xFF || d[31] != 0xFF || d[32] != 0 {
		t.Errorf("unexpected contents %v", d[:40])
	}
	if errs := g.Errors(); len(errs) != 0 {
		t.Errorf("validation errors: %v", errs)
	}
}

func TestClearAndReadback(t *testing.T) {
	g := New()
	defer g.Destroy()

	img, err := g.NewImage(driver.ImageDesc{Format: vk.FormatR8g8b8a8Unorm, Width: 4, Height: 4})
	if err != nil {
		t.Fatal(err)
	}
	pass, _ := g.NewRenderPass(driver.RenderPassDesc{Colors: []driver.AttachmentDesc{{
		Format:  vk.FormatR8g8b8a8Unorm,
		Load:    vk.AttachmentLoadOpClear,
		Store:   vk.AttachmentStoreOpStore,
		Initial: vk.ImageLayoutColorAttachmentOptimal,
		Final:   vk.ImageLayoutColorAttachmentOptimal,
	}}})
	fb, err := g.NewFramebuffer(pass, []driver.Image{img}, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	out, _ := g.NewBuffer(64, 0)

	cb, _ := g.NewCommandBuffer()
	cb.Begin()
	cb.PipelineBarrier(vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), nil,
		[]driver.ImageBarrier{{Image: img, OldLayout: vk.ImageLayoutUndefined, NewLayout: vk.ImageLayoutColorAttachmentOptimal, LevelCount: 1, LayerCount: 1}})
	cb.BeginRenderPass(pass, fb, driver.Rect{Width: 4, Height: 4}, []driver.ClearValue{{Color: [4]float32{1, 0, 0, 1}}})
	cb.EndRenderPass()
	cb.PipelineBarrier(vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit), nil,
		[]driver.ImageBarrier{{Image: img, OldLayout: vk.ImageLayoutColorAttachmentOptimal, NewLayout: vk.ImageLayoutTransferSrcOptimal, LevelCount: 1, LayerCount: 1}})
	cb.CopyImageToBuffer(img, vk.ImageLayoutTransferSrcOptimal, out, []driver.BufferImageCopy{{Extent: driver.Extent3D{Width: 4, Height: 4, Depth: 1}}})
	submitAndWait(t, g, cb)

	b := out.Bytes()
	for i := 0; i < 64; i += 4 {
		if b[i] != 255 || b[i+1] != 0 || b[i+2] != 0 || b[i+3] != 255 {
			t.Fatalf("pixel %d = %v", i/4, b[i:i+4])
		}
	}
	if errs := g.Errors(); len(errs) != 0 {
		t.Errorf("validation errors: %v", errs)
	}
}

func TestLayoutMismatchIsReported(t *testing.T) {
	g := New()
	defer g.Destroy()

	img, _ := g.NewImage(driver.ImageDesc{Format: vk.FormatR8g8b8a8Unorm, Width: 2, Height: 2})
	buf, _ := g.NewBuffer(16, 0)
	cb, _ := g.NewCommandBuffer()
	cb.Begin()
	cb.CopyBufferToImage(buf, img, vk.ImageLayoutTransferDstOptimal, []driver.BufferImageCopy{{Extent: driver.Extent3D{Width: 2, Height: 2, Depth: 1}}})
	submitAndWait(t, g, cb)

	if len(g.Errors()) != 1 {
		t.Errorf("expected one validation error, got %v", g.Errors())
	}
}

func TestKernelDispatch(t *testing.T) {
	g := New()
	defer g.Destroy()

	g.RegisterKernel("double", func(ctx *KernelContext) {
		b := ctx.Buffer(0, 0)
		for i := range b {
			b[i] *= 2
		}
	})
	buf, _ := g.NewBuffer(4, 0)
	copy(buf.Bytes(), []byte{1, 2, 3, 4})

	mod, _ := g.NewShaderModule([]uint32{0x07230203})
	dsl, _ := g.NewDescriptorSetLayout([]driver.DescriptorBinding{{Binding: 0, Type: vk.DescriptorTypeStorageBuffer, Count: 1}})
	pl, _ := g.NewPipelineLayout([]driver.DescriptorSetLayout{dsl}, nil)
	p, _ := g.NewComputePipeline(driver.ComputePipelineDesc{Layout: pl, Stage: driver.ShaderStage{
		Module: mod, Entry: "double", Stage: vk.ShaderStageComputeBit,
		Specialization: []driver.SpecConstant{{ID: 0, Value: 4}},
	}})
	if got := p.(*Pipeline).LocalSize(); got != [3]uint32{4, 1, 1} {
		t.Errorf("LocalSize = %v", got)
	}
	pool, _ := g.NewDescriptorPool(1, nil)
	set, _ := pool.Allocate(dsl)
	set.WriteBuffer(0, vk.DescriptorTypeStorageBuffer, buf, 0, 4)

	cb, _ := g.NewCommandBuffer()
	cb.Begin()
	cb.BindPipeline(vk.PipelineBindPointCompute, p)
	cb.BindDescriptorSets(vk.PipelineBindPointCompute, pl, 0, []driver.DescriptorSet{set})
	cb.Dispatch(1, 1, 1)
	submitAndWait(t, g, cb)

	if got := buf.Bytes(); got[0] != 2 || got[3] != 8 {
		t.Errorf("kernel result %v", got)
	}
}

func TestDescriptorPoolExhaustion(t *testing.T) {
	g := New()
	defer g.Destroy()

	dsl, _ := g.NewDescriptorSetLayout(nil)
	pool, _ := g.NewDescriptorPool(2, nil)
	a, _ := pool.Allocate(dsl)
	if _, err := pool.Allocate(dsl); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Allocate(dsl); !errors.Is(err, driver.ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
	pool.Free(a)
	if _, err := pool.Allocate(dsl); err != nil {
		t.Errorf("allocate after free: %v", err)
	}
}

func TestPauseHoldsFence(t *testing.T) {
	g := New()
	defer g.Destroy()

	cb, _ := g.NewCommandBuffer()
	cb.Begin()
	cb.End()
	f, _ := g.NewFence(false)

	g.Pause()
	if err := g.Submit(cb, f); err != nil {
		t.Fatal(err)
	}
	if ok, _ := f.Wait(20 * time.Millisecond); ok {
		t.Fatal("fence signaled while paused")
	}
	g.Resume()
	if ok, _ := f.Wait(time.Second); !ok {
		t.Fatal("fence not signaled after resume")
	}
	f.Reset()
	if ok, _ := f.Wait(0); ok {
		t.Error("fence still signaled after reset")
	}
}

func TestDriverRegistered(t *testing.T) {
	d, ok := driver.Lookup("soft")
	if !ok {
		t.Fatal("soft driver not registered")
	}
	gpu, err := d.Open()
	if err != nil {
		t.Fatal(err)
	}
	if !gpu.Properties().Headless {
		t.Error("soft GPU should be headless")
	}
	d.Close()
}

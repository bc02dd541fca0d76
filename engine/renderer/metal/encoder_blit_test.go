package metal

import (
	"fmt"
	"testing"

	"github.com/spaghettifunk/anima/engine/renderer/driver/soft"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

func TestFillBufferUnalignedEdges(t *testing.T) {
	cases := []metadata.Range{
		{Location: 1, Length: 6},
		{Location: 1, Length: 12},
		{Location: 4, Length: 5},
		{Location: 3, Length: 1},
		{Location: 0, Length: 16},
	}
	for _, r := range cases {
		t.Run(fmt.Sprintf("%d+%d", r.Location, r.Length), func(t *testing.T) {
			d, _ := newTestDevice(t)
			q := newTestQueue(t, d)
			buf, _ := d.MakeBuffer(16, metadata.ResourceOptions{})

			cb := newTestCommandBuffer(t, q)
			blit := cb.MakeBlitCommandEncoder()
			blit.FillBuffer(buf, r, 0xAB)
			blit.EndEncoding()
			cb.Commit()
			waitCompleted(t, cb)

			for i, v := range buf.Contents() {
				want := byte(0)
				if i >= r.Location && i < r.Location+r.Length {
					want = 0xAB
				}
				if v != want {
					t.Errorf("byte %d = %#x, want %#x", i, v, want)
				}
			}
		})
	}
}

func TestGenerateMipmaps(t *testing.T) {
	d, _ := newTestDevice(t)
	q := newTestQueue(t, d)
	tex, err := d.MakeTexture(metadata.Texture2DDescriptor(metadata.PixelFormatRGBA8Unorm, 4, 4, true))
	if err != nil {
		t.Fatal(err)
	}
	if tex.MipmapLevelCount() != 3 {
		t.Fatalf("MipmapLevelCount = %d", tex.MipmapLevelCount())
	}
	// Every texel of row y is y*40 in all channels.
	base := make([]byte, 4*4*4)
	for y := 0; y < 4; y++ {
		for i := 0; i < 16; i++ {
			base[y*16+i] = byte(y * 40)
		}
	}
	if err := tex.ReplaceRegion(metadata.Region{Size: metadata.NewSize(4, 4, 1)}, 0, base, 16); err != nil {
		t.Fatal(err)
	}

	cb := newTestCommandBuffer(t, q)
	blit := cb.MakeBlitCommandEncoder()
	blit.GenerateMipmaps(tex)
	blit.EndEncoding()
	cb.Commit()
	waitCompleted(t, cb)

	level1 := make([]byte, 2*2*4)
	if err := tex.GetBytes(level1, 8, metadata.Region{Size: metadata.NewSize(2, 2, 1)}, 1); err != nil {
		t.Fatal(err)
	}
	for i, v := range level1 {
		want := byte(20)
		if i >= 8 {
			want = 100
		}
		if v != want {
			t.Errorf("level 1 byte %d = %d, want %d", i, v, want)
		}
	}
	level2 := make([]byte, 4)
	if err := tex.GetBytes(level2, 4, metadata.Region{Size: metadata.NewSize(1, 1, 1)}, 2); err != nil {
		t.Fatal(err)
	}
	for i, v := range level2 {
		if v != 60 {
			t.Errorf("level 2 byte %d = %d, want 60", i, v)
		}
	}
}

func TestGenerateMipmapsSingleLevel(t *testing.T) {
	d, _ := newTestDevice(t)
	q := newTestQueue(t, d)
	tex, err := d.MakeTexture(metadata.Texture2DDescriptor(metadata.PixelFormatRGBA8Unorm, 4, 4, false))
	if err != nil {
		t.Fatal(err)
	}
	cb := newTestCommandBuffer(t, q)
	blit := cb.MakeBlitCommandEncoder()
	blit.GenerateMipmaps(tex)
	blit.EndEncoding()
	if n := len(cb.Native().(*soft.CommandBuffer).Recorded()); n != 0 {
		t.Errorf("single-level texture recorded %d commands", n)
	}
	cb.Commit()
	waitCompleted(t, cb)
}

func TestFillThenKernelCopyInOneCommandBuffer(t *testing.T) {
	d, gpu := newTestDevice(t)
	q := newTestQueue(t, d)
	gpu.RegisterKernel("copy", func(ctx *soft.KernelContext) {
		src, dst := ctx.Buffer(0, 0), ctx.Buffer(0, 1)
		n := int(ctx.Threads()[0])
		copy(dst[:n], src[:n])
	})
	ps, err := d.MakeComputePipelineState(mustFunction(t, stubLibrary(d), "copy"))
	if err != nil {
		t.Fatal(err)
	}
	defer ps.Release()
	src, _ := d.MakeBuffer(256, metadata.ResourceOptions{})
	dst, _ := d.MakeBuffer(256, metadata.ResourceOptions{})

	cb := newTestCommandBuffer(t, q)
	blit := cb.MakeBlitCommandEncoder()
	blit.FillBuffer(src, metadata.Range{Length: src.Length()}, 0xFF)
	blit.EndEncoding()
	enc := cb.MakeComputeCommandEncoder()
	enc.SetComputePipelineState(ps)
	enc.SetBuffer(src, 0, 0)
	enc.SetBuffer(dst, 0, 1)
	enc.DispatchThreads(metadata.NewSize(256, 1, 1), metadata.NewSize(64, 1, 1))
	enc.EndEncoding()
	cb.Commit()
	waitCompleted(t, cb)

	for i, v := range dst.Contents() {
		if v != 0xFF {
			t.Fatalf("dst[%d] = %#x after fill and copy", i, v)
		}
	}
}

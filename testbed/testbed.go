// Package testbed drives a device through a blit fill followed by a buffer
// copy, a render pass clear read back to the host and, given an input
// image, an upload and texture copy round trip.
package testbed

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/spaghettifunk/anima/engine/assets/loaders"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
	"github.com/spaghettifunk/anima/engine/renderer/metal"
	"golang.org/x/image/bmp"
)

// Options selects the optional parts of a run.
type Options struct {
	// Input is an image uploaded and copied between two textures.
	Input string
	// Output receives the cleared render target as a BMP.
	Output string
}

// Result summarizes one run.
type Result struct {
	CopiedBytes  int
	ClearedPixel color.RGBA
	RoundTripped bool
	Submitted    uint64
	Completed    uint64
}

// FillAndCopy fills the first half of a 64-byte buffer with 0xAB and copies
// it into a second buffer.
func FillAndCopy(dev *metal.Device, q *metal.CommandQueue) (int, error) {
	src, err := dev.MakeBuffer(64, metadata.ResourceOptions{})
	if err != nil {
		return 0, err
	}
	defer src.Release()
	dst, err := dev.MakeBuffer(64, metadata.ResourceOptions{})
	if err != nil {
		return 0, err
	}
	defer dst.Release()

	cb, err := q.MakeCommandBuffer()
	if err != nil {
		return 0, err
	}
	cb.SetLabel("fill and copy")
	blit := cb.MakeBlitCommandEncoder()
	blit.FillBuffer(src, metadata.Range{Location: 0, Length: 32}, 0xAB)
	blit.CopyBufferToBuffer(src, 0, dst, 0, 64)
	blit.EndEncoding()
	cb.Commit()
	cb.WaitUntilCompleted()
	if err := cb.Error(); err != nil {
		return 0, err
	}

	want := append(bytes.Repeat([]byte{0xAB}, 32), make([]byte, 32)...)
	if got := dst.Contents(); !bytes.Equal(got, want) {
		return 0, fmt.Errorf("copy mismatch: % x", got)
	}
	return len(want), nil
}

// ClearAndRead clears a width x height render target to c and returns the
// pixels read back from it.
func ClearAndRead(dev *metal.Device, q *metal.CommandQueue, width, height int, c metadata.ClearColor) (*image.RGBA, error) {
	desc := metadata.Texture2DDescriptor(metadata.PixelFormatRGBA8Unorm, width, height, false)
	desc.Usage = metadata.TextureUsageRenderTarget | metadata.TextureUsageShaderRead
	tex, err := dev.MakeTexture(desc)
	if err != nil {
		return nil, err
	}
	defer tex.Release()

	cb, err := q.MakeCommandBuffer()
	if err != nil {
		return nil, err
	}
	cb.SetLabel("clear")
	pass := metal.NewRenderPassDescriptor()
	pass.ColorAttachments[0].Texture = tex
	pass.ColorAttachments[0].LoadAction = metadata.LoadActionClear
	pass.ColorAttachments[0].StoreAction = metadata.StoreActionStore
	pass.ColorAttachments[0].ClearColor = c
	enc := cb.MakeRenderCommandEncoder(pass)
	enc.EndEncoding()
	cb.Commit()
	cb.WaitUntilCompleted()
	if err := cb.Error(); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	region := metadata.Region{Size: metadata.NewSize(width, height, 1)}
	if err := tex.GetBytes(img.Pix, img.Stride, region, 0); err != nil {
		return nil, err
	}
	return img, nil
}

// RoundTrip uploads img into a texture, copies it into a second texture on
// q and reads the copy back.
func RoundTrip(dev *metal.Device, q *metal.CommandQueue, img *image.RGBA) (*image.RGBA, error) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	desc := metadata.Texture2DDescriptor(metadata.PixelFormatRGBA8Unorm, w, h, false)
	desc.Usage = metadata.TextureUsageShaderRead
	src, err := dev.MakeTexture(desc)
	if err != nil {
		return nil, err
	}
	defer src.Release()
	dst, err := dev.MakeTexture(desc)
	if err != nil {
		return nil, err
	}
	defer dst.Release()

	region := metadata.Region{Size: metadata.NewSize(w, h, 1)}
	if err := src.ReplaceRegion(region, 0, img.Pix, img.Stride); err != nil {
		return nil, err
	}

	cb, err := q.MakeCommandBuffer()
	if err != nil {
		return nil, err
	}
	cb.SetLabel("texture copy")
	blit := cb.MakeBlitCommandEncoder()
	blit.CopyTexture(src, dst)
	blit.EndEncoding()
	cb.Commit()
	cb.WaitUntilCompleted()
	if err := cb.Error(); err != nil {
		return nil, err
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	if err := dst.GetBytes(out.Pix, out.Stride, region, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// Run executes the scenarios on one queue.
func Run(dev *metal.Device, opts Options) (*Result, error) {
	q, err := dev.MakeCommandQueue()
	if err != nil {
		return nil, err
	}
	defer q.Close()
	q.SetLabel("testbed")

	res := &Result{}
	if res.CopiedBytes, err = FillAndCopy(dev, q); err != nil {
		return nil, fmt.Errorf("fill and copy: %w", err)
	}
	core.LogInfo("fill and copy: %d bytes verified", res.CopiedBytes)

	img, err := ClearAndRead(dev, q, 64, 64, metadata.NewClearColor(1, 0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("clear and read: %w", err)
	}
	res.ClearedPixel = img.RGBAAt(0, 0)
	core.LogInfo("clear and read: first pixel %v", res.ClearedPixel)

	if opts.Output != "" {
		if err := writeBMP(opts.Output, img); err != nil {
			return nil, err
		}
		core.LogInfo("render target written to %s", opts.Output)
	}

	if opts.Input != "" {
		var tl loaders.TextureLoader
		in, err := tl.Load(opts.Input)
		if err != nil {
			return nil, err
		}
		back, err := RoundTrip(dev, q, in)
		if err != nil {
			return nil, fmt.Errorf("texture round trip: %w", err)
		}
		if !bytes.Equal(back.Pix, in.Pix) {
			return nil, fmt.Errorf("texture round trip: %s changed after the copy", opts.Input)
		}
		res.RoundTripped = true
		core.LogInfo("texture round trip: %dx%d %s verified", in.Rect.Dx(), in.Rect.Dy(), opts.Input)
	}

	q.WaitIdle()
	res.Submitted, res.Completed, _ = q.Metrics().Counts()
	return res, nil
}

func writeBMP(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := bmp.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

package metal

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

// BlitCommandEncoder records copies and fills. Consecutive operations are
// ordered by a transfer barrier.
type BlitCommandEncoder struct {
	commandEncoder
	ops int
}

func (cb *CommandBuffer) MakeBlitCommandEncoder() *BlitCommandEncoder {
	e := &BlitCommandEncoder{commandEncoder: newCommandEncoder(cb, "BlitCommandEncoder")}
	cb.beginEncoder(e)
	return e
}

func (e *BlitCommandEncoder) EndEncoding() { e.finish(e) }

func (e *BlitCommandEncoder) serialize() {
	e.checkOpen()
	if e.ops > 0 {
		transfer := stages(vk.PipelineStageTransferBit)
		e.memoryBarrier(transfer, transfer,
			access(vk.AccessTransferWriteBit),
			access(vk.AccessTransferReadBit, vk.AccessTransferWriteBit))
	}
	e.ops++
}

func (e *BlitCommandEncoder) CopyBufferToBuffer(src *Buffer, srcOffset int, dst *Buffer, dstOffset int, size int) {
	core.Precondition(srcOffset >= 0 && srcOffset+size <= src.Length(), "copy source range [%d, %d) outside %d-byte buffer", srcOffset, srcOffset+size, src.Length())
	core.Precondition(dstOffset >= 0 && dstOffset+size <= dst.Length(), "copy destination range [%d, %d) outside %d-byte buffer", dstOffset, dstOffset+size, dst.Length())
	e.serialize()
	e.native.CopyBuffer(src.native, dst.native, []driver.BufferCopy{{
		SrcOffset: int64(srcOffset),
		DstOffset: int64(dstOffset),
		Size:      int64(size),
	}})
	e.cb.addTrackedResource(src)
	e.cb.addTrackedResource(dst)
}

func normalizedSize(s metadata.Size) metadata.Size {
	return metadata.Size{Width: metadata.Max(s.Width, 1), Height: metadata.Max(s.Height, 1), Depth: metadata.Max(s.Depth, 1)}
}

// bufferImageCopy converts pitches in bytes into the texel counts the
// native copy takes.
func bufferImageCopy(t *Texture, offset, bytesPerRow, bytesPerImage int, size metadata.Size, slice, level int, origin metadata.Origin) driver.BufferImageCopy {
	size = normalizedSize(size)
	bpp := t.PixelFormat().BytesPerPixel()
	core.Precondition(bpp > 0, "texture %s has no texel size", t.Label())
	core.Precondition(bytesPerRow == 0 || bytesPerRow >= size.Width*bpp, "bytesPerRow %d is smaller than a row of %d texels", bytesPerRow, size.Width)
	core.Precondition(bytesPerRow%bpp == 0, "bytesPerRow %d is not a multiple of the %d-byte texel", bytesPerRow, bpp)
	core.Precondition(level >= 0 && level < t.MipmapLevelCount(), "mipmap level %d out of range", level)
	core.Precondition(slice >= 0 && uint32(slice) < t.layerCount(), "slice %d out of range", slice)
	c := driver.BufferImageCopy{
		BufferOffset: int64(offset),
		RowLength:    uint32(bytesPerRow / bpp),
		Level:        uint32(level),
		Layer:        uint32(slice),
		Offset:       driver.Offset3D{X: int32(origin.X), Y: int32(origin.Y), Z: int32(origin.Z)},
		Extent:       driver.Extent3D{Width: uint32(size.Width), Height: uint32(size.Height), Depth: uint32(size.Depth)},
	}
	if bytesPerRow > 0 && bytesPerImage > 0 {
		c.ImageHeight = uint32(bytesPerImage / bytesPerRow)
	}
	return c
}

func (e *BlitCommandEncoder) CopyBufferToTexture(src *Buffer, srcOffset, srcBytesPerRow, srcBytesPerImage int, srcSize metadata.Size,
	dst *Texture, dstSlice, dstLevel int, dstOrigin metadata.Origin) {
	e.serialize()
	region := bufferImageCopy(dst, srcOffset, srcBytesPerRow, srcBytesPerImage, srcSize, dstSlice, dstLevel, dstOrigin)
	dst.transitionTo(vk.ImageLayoutTransferDstOptimal, e.native)
	e.native.CopyBufferToImage(src.native, dst.native, vk.ImageLayoutTransferDstOptimal, []driver.BufferImageCopy{region})
	e.cb.addTrackedResource(src)
	e.cb.addTrackedResource(dst)
}

func (e *BlitCommandEncoder) CopyTextureToBuffer(src *Texture, srcSlice, srcLevel int, srcOrigin metadata.Origin, srcSize metadata.Size,
	dst *Buffer, dstOffset, dstBytesPerRow, dstBytesPerImage int) {
	e.serialize()
	region := bufferImageCopy(src, dstOffset, dstBytesPerRow, dstBytesPerImage, srcSize, srcSlice, srcLevel, srcOrigin)
	src.transitionTo(vk.ImageLayoutTransferSrcOptimal, e.native)
	e.native.CopyImageToBuffer(src.native, vk.ImageLayoutTransferSrcOptimal, dst.native, []driver.BufferImageCopy{region})
	e.cb.addTrackedResource(src)
	e.cb.addTrackedResource(dst)
}

func (e *BlitCommandEncoder) CopyTextureToTexture(src *Texture, srcSlice, srcLevel int, srcOrigin metadata.Origin, srcSize metadata.Size,
	dst *Texture, dstSlice, dstLevel int, dstOrigin metadata.Origin) {
	core.Precondition(src != dst, "copy between regions of one texture is not supported")
	core.Precondition(src.PixelFormat().BytesPerPixel() == dst.PixelFormat().BytesPerPixel(),
		"copy between %s and %s", src.PixelFormat(), dst.PixelFormat())
	e.serialize()
	size := normalizedSize(srcSize)
	src.transitionTo(vk.ImageLayoutTransferSrcOptimal, e.native)
	dst.transitionTo(vk.ImageLayoutTransferDstOptimal, e.native)
	e.native.CopyImage(src.native, vk.ImageLayoutTransferSrcOptimal, dst.native, vk.ImageLayoutTransferDstOptimal, []driver.ImageCopy{{
		SrcLevel:  uint32(srcLevel),
		SrcLayer:  uint32(srcSlice),
		SrcOffset: driver.Offset3D{X: int32(srcOrigin.X), Y: int32(srcOrigin.Y), Z: int32(srcOrigin.Z)},
		DstLevel:  uint32(dstLevel),
		DstLayer:  uint32(dstSlice),
		DstOffset: driver.Offset3D{X: int32(dstOrigin.X), Y: int32(dstOrigin.Y), Z: int32(dstOrigin.Z)},
		Extent:    driver.Extent3D{Width: uint32(size.Width), Height: uint32(size.Height), Depth: uint32(size.Depth)},
	}})
	e.cb.addTrackedResource(src)
	e.cb.addTrackedResource(dst)
}

// CopyTexture copies every level and slice the two textures share.
func (e *BlitCommandEncoder) CopyTexture(src, dst *Texture) {
	levels := metadata.Max(1, min(src.MipmapLevelCount(), dst.MipmapLevelCount()))
	slices := int(min(src.layerCount(), dst.layerCount()))
	for level := 0; level < levels; level++ {
		w, h, d := src.levelExtent(level)
		for slice := 0; slice < slices; slice++ {
			e.CopyTextureToTexture(src, slice, level, metadata.Origin{}, metadata.NewSize(w, h, d), dst, slice, level, metadata.Origin{})
		}
	}
}

// GenerateMipmaps fills levels 1 and up of every slice by downsampling
// the level above with a linear filter. A single-level texture is left as
// it is.
func (e *BlitCommandEncoder) GenerateMipmaps(tex *Texture) {
	core.Precondition(!tex.PixelFormat().IsDepth(), "cannot generate mipmaps for %s texture %s", tex.PixelFormat(), tex.Label())
	levels := tex.MipmapLevelCount()
	if levels <= 1 {
		e.checkOpen()
		return
	}
	e.serialize()
	tex.transitionTo(vk.ImageLayoutGeneral, e.native)
	transfer := stages(vk.PipelineStageTransferBit)
	for level := 1; level < levels; level++ {
		if level > 1 {
			e.memoryBarrier(transfer, transfer, access(vk.AccessTransferWriteBit), access(vk.AccessTransferReadBit))
		}
		sw, sh, sd := tex.levelExtent(level - 1)
		dw, dh, dd := tex.levelExtent(level)
		regions := make([]driver.ImageBlit, tex.layerCount())
		for slice := range regions {
			regions[slice] = driver.ImageBlit{
				SrcLevel:   uint32(level - 1),
				SrcLayer:   uint32(slice),
				SrcOffsets: [2]driver.Offset3D{{}, {X: int32(sw), Y: int32(sh), Z: int32(sd)}},
				DstLevel:   uint32(level),
				DstLayer:   uint32(slice),
				DstOffsets: [2]driver.Offset3D{{}, {X: int32(dw), Y: int32(dh), Z: int32(dd)}},
			}
		}
		e.native.BlitImage(tex.native, vk.ImageLayoutGeneral, tex.native, vk.ImageLayoutGeneral, regions, vk.FilterLinear)
	}
	e.cb.addTrackedResource(tex)
}

// FillBuffer sets every byte of r to value. The native fill writes whole
// 32-bit words, so the unaligned bytes at either end of r are copied in
// from a small staging buffer.
func (e *BlitCommandEncoder) FillBuffer(buf *Buffer, r metadata.Range, value uint8) {
	core.Precondition(r.Location >= 0 && r.Length >= 0 && r.Location+r.Length <= buf.Length(),
		"fill range [%d, %d) outside %d-byte buffer", r.Location, r.Location+r.Length, buf.Length())
	e.serialize()
	if r.Length == 0 {
		return
	}
	start, end := uint64(r.Location), uint64(r.Location+r.Length)
	head, tail := metadata.GetAligned(start, 4), end&^3
	var edges []driver.BufferCopy
	if head < tail {
		e.native.FillBuffer(buf.native, int64(head), int64(tail-head), uint32(value)*0x01010101)
		if head > start {
			edges = append(edges, driver.BufferCopy{DstOffset: int64(start), Size: int64(head - start)})
		}
		if end > tail {
			edges = append(edges, driver.BufferCopy{DstOffset: int64(tail), Size: int64(end - tail)})
		}
	} else {
		edges = append(edges, driver.BufferCopy{DstOffset: int64(start), Size: int64(end - start)})
	}
	if len(edges) > 0 {
		pattern := []byte{value, value, value, value, value, value, value, value}
		staging, err := e.cb.Device().MakeBufferWithBytes(pattern, metadata.ResourceOptions{})
		if err != nil {
			core.Fatalf("%s: staging fill edges: %w", e.label, err)
		}
		e.cb.addTransient(staging.native)
		e.native.CopyBuffer(staging.native, buf.native, edges)
	}
	e.cb.addTrackedResource(buf)
}

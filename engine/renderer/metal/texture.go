package metal

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

/**
 * @brief A GPU image. Besides the native image it carries the layout the
 * image is in once every command encoded so far has executed.
 */
type Texture struct {
	resource
	native driver.Image
	desc   metadata.TextureDescriptor
	format vk.Format

	// layout changes only while an encoder holds the command buffer.
	layoutMu sync.Mutex
	layout   vk.ImageLayout
}

func (d *Device) MakeTexture(desc metadata.TextureDescriptor) (*Texture, error) {
	desc = desc.Normalized()
	format := vulkanFormat(desc.PixelFormat)
	if format == vk.FormatUndefined {
		return nil, fmt.Errorf("pixel format %s is not supported", desc.PixelFormat)
	}
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, fmt.Errorf("texture extent %dx%d is invalid", desc.Width, desc.Height)
	}
	if uint32(desc.Width) > d.limits.MaxImageDimension2D || uint32(desc.Height) > d.limits.MaxImageDimension2D {
		return nil, fmt.Errorf("texture extent %dx%d exceeds the device maximum %d", desc.Width, desc.Height, d.limits.MaxImageDimension2D)
	}

	layers := desc.ArrayLength
	if desc.TextureType == metadata.TextureTypeCube {
		layers *= 6
	}
	native, err := d.gpu.NewImage(driver.ImageDesc{
		Format:  format,
		Width:   uint32(desc.Width),
		Height:  uint32(desc.Height),
		Depth:   uint32(desc.Depth),
		Levels:  uint32(desc.MipmapLevelCount),
		Layers:  uint32(layers),
		Samples: uint32(desc.SampleCount),
		Cube:    desc.TextureType == metadata.TextureTypeCube,
		Is3D:    desc.TextureType == metadata.TextureType3D,
		Usage:   imageUsage(desc.PixelFormat, desc.Usage),
	})
	if err != nil {
		core.LogError("failed to create a %dx%d %s texture: %s", desc.Width, desc.Height, desc.PixelFormat, err)
		return nil, err
	}
	return &Texture{
		resource: newResource(d, "Texture", metadata.ResourceOptions{StorageMode: desc.StorageMode}),
		native:   native,
		desc:     desc,
		format:   format,
		layout:   vk.ImageLayoutUndefined,
	}, nil
}

func (t *Texture) TextureType() metadata.TextureType      { return t.desc.TextureType }
func (t *Texture) PixelFormat() metadata.PixelFormat      { return t.desc.PixelFormat }
func (t *Texture) Width() int                             { return t.desc.Width }
func (t *Texture) Height() int                            { return t.desc.Height }
func (t *Texture) Depth() int                             { return t.desc.Depth }
func (t *Texture) MipmapLevelCount() int                  { return t.desc.MipmapLevelCount }
func (t *Texture) SampleCount() int                       { return t.desc.SampleCount }
func (t *Texture) ArrayLength() int                       { return t.desc.ArrayLength }
func (t *Texture) Usage() metadata.TextureUsage           { return t.desc.Usage }
func (t *Texture) Descriptor() metadata.TextureDescriptor { return t.desc }
func (t *Texture) Native() driver.Image                   { return t.native }

func (t *Texture) AllocatedSize() int {
	size := 0
	for l := 0; l < t.desc.MipmapLevelCount; l++ {
		w, h, d := t.levelExtent(l)
		size += w * h * d
	}
	return size * t.desc.ArrayLength * t.desc.PixelFormat.BytesPerPixel()
}

func (t *Texture) Release() {
	if t.heap != nil {
		t.heap.reclaim(t.AllocatedSize())
	}
	t.native.Destroy()
}

func (t *Texture) levelExtent(level int) (int, int, int) {
	w, h, d := t.desc.Width>>level, t.desc.Height>>level, t.desc.Depth
	if t.desc.TextureType == metadata.TextureType3D {
		d >>= level
	}
	return metadata.Max(w, 1), metadata.Max(h, 1), metadata.Max(d, 1)
}

func (t *Texture) layerCount() uint32 {
	if t.desc.TextureType == metadata.TextureTypeCube {
		return uint32(t.desc.ArrayLength * 6)
	}
	return uint32(t.desc.ArrayLength)
}

// GetBytes copies region of level into dst, rows bytesPerRow apart. It
// blocks until the device has finished all work on the utility queue.
func (t *Texture) GetBytes(dst []byte, bytesPerRow int, region metadata.Region, level int) error {
	bpp := t.desc.PixelFormat.BytesPerPixel()
	rowBytes := region.Size.Width * bpp
	if bytesPerRow < rowBytes {
		return fmt.Errorf("bytesPerRow %d is smaller than a row of %d bytes", bytesPerRow, rowBytes)
	}
	depth := metadata.Max(region.Size.Depth, 1)
	need := bytesPerRow*(region.Size.Height*depth-1) + rowBytes
	if len(dst) < need {
		return fmt.Errorf("destination holds %d bytes, region needs %d", len(dst), need)
	}
	staging, err := t.device.MakeBuffer(rowBytes*region.Size.Height*depth, metadata.ResourceOptions{})
	if err != nil {
		return err
	}
	defer staging.Release()

	err = t.device.runUtility(func(cb *CommandBuffer) {
		blit := cb.MakeBlitCommandEncoder()
		blit.CopyTextureToBuffer(t, 0, level, region.Origin, region.Size, staging, 0, rowBytes, rowBytes*region.Size.Height)
		blit.EndEncoding()
	})
	if err != nil {
		return err
	}
	src := staging.Contents()
	for row := 0; row < region.Size.Height*depth; row++ {
		copy(dst[row*bytesPerRow:row*bytesPerRow+rowBytes], src[row*rowBytes:(row+1)*rowBytes])
	}
	return nil
}

// ReplaceRegion uploads src, rows bytesPerRow apart, into region of level.
func (t *Texture) ReplaceRegion(region metadata.Region, level int, src []byte, bytesPerRow int) error {
	bpp := t.desc.PixelFormat.BytesPerPixel()
	rowBytes := region.Size.Width * bpp
	if bytesPerRow < rowBytes {
		return fmt.Errorf("bytesPerRow %d is smaller than a row of %d bytes", bytesPerRow, rowBytes)
	}
	depth := metadata.Max(region.Size.Depth, 1)
	need := bytesPerRow*(region.Size.Height*depth-1) + rowBytes
	if len(src) < need {
		return fmt.Errorf("source holds %d bytes, region needs %d", len(src), need)
	}
	staging, err := t.device.MakeBuffer(need, metadata.ResourceOptions{})
	if err != nil {
		return err
	}
	defer staging.Release()
	copy(staging.Contents(), src[:need])

	return t.device.runUtility(func(cb *CommandBuffer) {
		blit := cb.MakeBlitCommandEncoder()
		blit.CopyBufferToTexture(staging, 0, bytesPerRow, bytesPerRow*region.Size.Height, region.Size, t, 0, level, region.Origin)
		blit.EndEncoding()
	})
}

func (t *Texture) String() string {
	return fmt.Sprintf("Texture(%s %dx%dx%d %s)", t.Label(), t.desc.Width, t.desc.Height, t.desc.Depth, t.desc.PixelFormat)
}

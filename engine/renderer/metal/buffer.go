package metal

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

const bufferUsage = vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit |
	vk.BufferUsageUniformBufferBit | vk.BufferUsageStorageBufferBit |
	vk.BufferUsageIndexBufferBit | vk.BufferUsageVertexBufferBit

// Buffer is a linear allocation in host-visible, coherent memory.
type Buffer struct {
	resource
	native driver.Buffer
	length int
}

func (d *Device) MakeBuffer(length int, options metadata.ResourceOptions) (*Buffer, error) {
	if length <= 0 {
		return nil, fmt.Errorf("buffer length must be positive, got %d", length)
	}
	if int64(length) > d.limits.MaxBufferLength {
		return nil, fmt.Errorf("buffer length %d exceeds the device maximum %d", length, d.limits.MaxBufferLength)
	}
	native, err := d.gpu.NewBuffer(int64(length), vk.BufferUsageFlags(bufferUsage))
	if err != nil {
		core.LogError("failed to allocate a buffer of %d bytes: %s", length, err)
		return nil, err
	}
	return &Buffer{resource: newResource(d, "Buffer", options), native: native, length: length}, nil
}

// MakeBufferWithBytes allocates a buffer holding a copy of bytes.
func (d *Device) MakeBufferWithBytes(bytes []byte, options metadata.ResourceOptions) (*Buffer, error) {
	b, err := d.MakeBuffer(len(bytes), options)
	if err != nil {
		return nil, err
	}
	copy(b.Contents(), bytes)
	return b, nil
}

func (b *Buffer) Length() int { return b.length }

// Contents is the mapped memory of the buffer. Writes are visible to
// command buffers committed afterwards.
func (b *Buffer) Contents() []byte { return b.native.Bytes()[:b.length] }

// DidModifyRange is a no-op: buffer memory is coherent.
func (b *Buffer) DidModifyRange(metadata.Range) {}

func (b *Buffer) AllocatedSize() int { return int(b.native.Size()) }

func (b *Buffer) Release() {
	if b.heap != nil {
		b.heap.reclaim(b.AllocatedSize())
	}
	b.native.Destroy()
}

func (b *Buffer) Native() driver.Buffer { return b.native }

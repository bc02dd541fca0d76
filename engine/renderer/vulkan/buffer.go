package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

// Buffer lives in host visible, coherent memory that stays mapped until the
// buffer is destroyed.
type Buffer struct {
	gpu    *GPU
	handle vk.Buffer
	memory vk.DeviceMemory
	size   int64
	mapped []byte
}

func (g *GPU) NewBuffer(size int64, usage vk.BufferUsageFlags) (driver.Buffer, error) {
	if size <= 0 {
		size = 4
	}
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	b := &Buffer{gpu: g, size: size}
	if res := vk.CreateBuffer(g.device, &bufferInfo, nil, &b.handle); res != vk.Success {
		return nil, resultError("vkCreateBuffer", res)
	}

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(g.device, b.handle, &memReqs)
	memReqs.Deref()

	mem, err := g.allocate(memReqs, vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		vk.DestroyBuffer(g.device, b.handle, nil)
		return nil, err
	}
	b.memory = mem
	if res := vk.BindBufferMemory(g.device, b.handle, b.memory, 0); res != vk.Success {
		b.Destroy()
		return nil, resultError("vkBindBufferMemory", res)
	}

	var data unsafe.Pointer
	if res := vk.MapMemory(g.device, b.memory, 0, vk.DeviceSize(size), 0, &data); res != vk.Success {
		b.Destroy()
		return nil, resultError("vkMapMemory", res)
	}
	b.mapped = unsafe.Slice((*byte)(data), size)
	return b, nil
}

func (b *Buffer) Size() int64   { return b.size }
func (b *Buffer) Bytes() []byte { return b.mapped }

func (b *Buffer) Destroy() {
	if b.mapped != nil {
		vk.UnmapMemory(b.gpu.device, b.memory)
		b.mapped = nil
	}
	if b.handle != nil {
		vk.DestroyBuffer(b.gpu.device, b.handle, nil)
		b.handle = nil
	}
	if b.memory != nil {
		vk.FreeMemory(b.gpu.device, b.memory, nil)
		b.memory = nil
	}
}

package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

// GPU is a logical device with one queue that accepts compute, graphics and
// transfer work.
type GPU struct {
	debug          bool
	instance       vk.Instance
	debugReport    vk.DebugReportCallback
	hasDebugReport bool

	physical    vk.PhysicalDevice
	device      vk.Device
	queue       vk.Queue
	queueFamily uint32

	memory vk.PhysicalDeviceMemoryProperties
	props  driver.Properties
	limits driver.Limits

	locks *VulkanLockPool
}

var _ driver.GPU = (*GPU)(nil)

func (g *GPU) Properties() driver.Properties { return g.props }
func (g *GPU) Limits() driver.Limits         { return g.limits }

// findMemoryIndex returns the first memory type allowed by typeFilter that
// has every bit of propertyFlags.
func (g *GPU) findMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) (uint32, error) {
	for i := uint32(0); i < g.memory.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		g.memory.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (g.memory.MemoryTypes[i].PropertyFlags&propertyFlags) == propertyFlags {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no memory type with flags %#x: %w", uint32(propertyFlags), driver.ErrNoDeviceMemory)
}

func (g *GPU) allocate(req vk.MemoryRequirements, flags vk.MemoryPropertyFlags) (vk.DeviceMemory, error) {
	index, err := g.findMemoryIndex(req.MemoryTypeBits, flags)
	if err != nil {
		return nil, err
	}
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: index,
	}
	var mem vk.DeviceMemory
	if res := vk.AllocateMemory(g.device, &allocInfo, nil, &mem); res != vk.Success {
		return nil, resultError("vkAllocateMemory", res)
	}
	return mem, nil
}

func (g *GPU) Submit(cb driver.CommandBuffer, fence driver.Fence) error {
	c := cb.(*CommandBuffer)
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{c.handle},
	}
	var f vk.Fence
	if fence != nil {
		f = fence.(*Fence).handle
	}
	return g.locks.SafeCall(QueueManagement, func() error {
		if res := vk.QueueSubmit(g.queue, 1, []vk.SubmitInfo{submitInfo}, f); res != vk.Success {
			return resultError("vkQueueSubmit", res)
		}
		c.state = commandBufferSubmitted
		return nil
	})
}

func (g *GPU) WaitIdle() error {
	return g.locks.SafeCall(QueueManagement, func() error {
		if res := vk.DeviceWaitIdle(g.device); res != vk.Success {
			return resultError("vkDeviceWaitIdle", res)
		}
		return nil
	})
}

// Destroy waits for the queue to drain and releases the device and the
// instance. Objects created from the GPU must be destroyed first.
func (g *GPU) Destroy() {
	if g.device != nil {
		if err := g.WaitIdle(); err != nil {
			core.LogWarn("vulkan: %s", err)
		}
		core.LogDebug("Destroying logical device...")
		vk.DestroyDevice(g.device, nil)
		g.device = nil
		g.queue = nil
	}
	g.physical = nil
	g.destroyInstance()
}

package vulkan

import (
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

type Fence struct {
	gpu    *GPU
	handle vk.Fence
}

func (g *GPU) NewFence(signaled bool) (driver.Fence, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	// Make sure to signal the fence if required.
	if signaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	f := &Fence{gpu: g}
	if res := vk.CreateFence(g.device, &fenceCreateInfo, nil, &f.handle); res != vk.Success {
		return nil, resultError("vkCreateFence", res)
	}
	return f, nil
}

func (f *Fence) Destroy() {
	if f.handle != nil {
		vk.DestroyFence(f.gpu.device, f.handle, nil)
		f.handle = nil
	}
}

// Wait reports false without an error when the timeout elapses.
func (f *Fence) Wait(timeout time.Duration) (bool, error) {
	res := vk.WaitForFences(f.gpu.device, 1, []vk.Fence{f.handle}, vk.True, uint64(timeout.Nanoseconds()))
	switch res {
	case vk.Success:
		return true, nil
	case vk.Timeout:
		return false, nil
	case vk.ErrorDeviceLost:
		core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
	}
	return false, resultError("vkWaitForFences", res)
}

func (f *Fence) Reset() error {
	if res := vk.ResetFences(f.gpu.device, 1, []vk.Fence{f.handle}); res != vk.Success {
		return resultError("vkResetFences", res)
	}
	return nil
}

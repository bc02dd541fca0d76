package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

// Event is a VkEvent. It is not device-only, so the host can poll and set it.
type Event struct {
	gpu    *GPU
	handle vk.Event
}

func (g *GPU) NewEvent() (driver.Event, error) {
	e := &Event{gpu: g}
	info := vk.EventCreateInfo{SType: vk.StructureTypeEventCreateInfo}
	if res := vk.CreateEvent(g.device, &info, nil, &e.handle); res != vk.Success {
		return nil, resultError("vkCreateEvent", res)
	}
	return e, nil
}

func (e *Event) Destroy() {
	if e.handle != nil {
		vk.DestroyEvent(e.gpu.device, e.handle, nil)
		e.handle = nil
	}
}

func (e *Event) Status() (bool, error) {
	switch res := vk.GetEventStatus(e.gpu.device, e.handle); res {
	case vk.EventSet:
		return true, nil
	case vk.EventReset:
		return false, nil
	default:
		return false, resultError("vkGetEventStatus", res)
	}
}

func (e *Event) Set() error {
	return resultError("vkSetEvent", vk.SetEvent(e.gpu.device, e.handle))
}

func (e *Event) Reset() error {
	return resultError("vkResetEvent", vk.ResetEvent(e.gpu.device, e.handle))
}

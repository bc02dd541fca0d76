package metal

import (
	"sync"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

// Resource is memory the device can read or write from a command buffer.
type Resource interface {
	Device() *Device
	Label() string
	SetLabel(label string)
	AllocatedSize() int
	StorageMode() metadata.StorageMode
	// Release frees the native allocation. It must not be called while a
	// command buffer that uses the resource is in flight.
	Release()
}

type resource struct {
	device  *Device
	options metadata.ResourceOptions
	heap    *Heap

	mu    sync.Mutex
	label string
}

func newResource(device *Device, kind string, options metadata.ResourceOptions) resource {
	return resource{device: device, options: options, label: core.DefaultLabel(kind)}
}

func (r *resource) Device() *Device { return r.device }

func (r *resource) Label() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.label
}

func (r *resource) SetLabel(label string) {
	r.mu.Lock()
	r.label = label
	r.mu.Unlock()
}

func (r *resource) StorageMode() metadata.StorageMode { return r.options.StorageMode }

func (r *resource) HazardTrackingMode() metadata.HazardTrackingMode {
	return r.options.HazardTrackingMode
}

// Heap is nil unless the resource was sub-allocated from one.
func (r *resource) Heap() *Heap { return r.heap }

package metal

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

// Heap is an accounting arena: resources made from it are ordinary device
// allocations whose sizes count against the heap's capacity.
type Heap struct {
	device *Device
	desc   metadata.HeapDescriptor

	mu    sync.Mutex
	label string
	used  int
}

func (d *Device) MakeHeap(desc metadata.HeapDescriptor) (*Heap, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("heap size must be positive")
	}
	return &Heap{device: d, desc: desc, label: core.DefaultLabel("Heap")}, nil
}

func (h *Heap) Device() *Device                   { return h.device }
func (h *Heap) Size() int                         { return int(h.desc.Size) }
func (h *Heap) StorageMode() metadata.StorageMode { return h.desc.StorageMode }

func (h *Heap) Label() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.label
}

func (h *Heap) SetLabel(label string) {
	h.mu.Lock()
	h.label = label
	h.mu.Unlock()
}

func (h *Heap) UsedSize() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

func (h *Heap) CurrentAllocatedSize() int { return h.Size() }

// MaxAvailableSize is the largest allocation the heap can still satisfy.
func (h *Heap) MaxAvailableSize(alignment int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	free := int(h.desc.Size) - h.used
	if alignment > 1 {
		free -= free % alignment
	}
	return free
}

func (h *Heap) reserve(size int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.used+size > int(h.desc.Size) {
		return fmt.Errorf("heap %s: %d bytes requested, %d available", h.label, size, int(h.desc.Size)-h.used)
	}
	h.used += size
	return nil
}

func (h *Heap) reclaim(size int) {
	h.mu.Lock()
	h.used -= size
	h.mu.Unlock()
}

func (h *Heap) MakeBuffer(length int, options metadata.ResourceOptions) (*Buffer, error) {
	if length > h.MaxAvailableSize(1) {
		return nil, fmt.Errorf("heap %s: %d bytes requested, %d available", h.Label(), length, h.MaxAvailableSize(1))
	}
	options.StorageMode = h.desc.StorageMode
	b, err := h.device.MakeBuffer(length, options)
	if err != nil {
		return nil, err
	}
	if err := h.reserve(b.AllocatedSize()); err != nil {
		b.native.Destroy()
		return nil, err
	}
	b.heap = h
	return b, nil
}

func (h *Heap) MakeTexture(desc metadata.TextureDescriptor) (*Texture, error) {
	desc.StorageMode = h.desc.StorageMode
	t, err := h.device.MakeTexture(desc)
	if err != nil {
		return nil, err
	}
	if err := h.reserve(t.AllocatedSize()); err != nil {
		t.native.Destroy()
		return nil, err
	}
	t.heap = h
	return t, nil
}

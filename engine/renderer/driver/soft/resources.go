package soft

import (
	"sync"
	"sync/atomic"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

type Buffer struct {
	data      []byte
	usage     vk.BufferUsageFlags
	destroyed bool
}

func (b *Buffer) Size() int64   { return int64(len(b.data)) }
func (b *Buffer) Bytes() []byte { return b.data }
func (b *Buffer) Destroy()      { b.destroyed = true }

// Image stores each mip level as layers of tightly packed rows.
type Image struct {
	desc   driver.ImageDesc
	bpp    int
	levels [][]byte

	mu     sync.Mutex
	layout vk.ImageLayout
}

func (i *Image) Desc() driver.ImageDesc { return i.desc }
func (i *Image) Destroy()               { i.levels = nil }

// Layout is the layout the queue last transitioned the image to.
func (i *Image) Layout() vk.ImageLayout {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.layout
}

func (i *Image) setLayout(l vk.ImageLayout) {
	i.mu.Lock()
	i.layout = l
	i.mu.Unlock()
}

func (i *Image) extent(level uint32) (uint32, uint32, uint32) {
	w, h, d := i.desc.Width>>level, i.desc.Height>>level, i.desc.Depth
	if i.desc.Is3D {
		d = i.desc.Depth >> level
	}
	if w == 0 {
		w = 1
	}
	if h == 0 {
		h = 1
	}
	if d == 0 {
		d = 1
	}
	return w, h, d
}

// texel returns the byte offset of (x, y, z) in layer of level.
func (i *Image) texel(level, layer uint32, x, y, z int32) int {
	w, h, d := i.extent(level)
	idx := ((int(layer)*int(d)+int(z))*int(h)+int(y))*int(w) + int(x)
	return idx * i.bpp
}

// Texels returns the raw bytes of a level, for inspection in tests.
func (i *Image) Texels(level uint32) []byte {
	return i.levels[level]
}

type Sampler struct {
	desc driver.SamplerDesc
}

func (s *Sampler) Destroy() {}

type ShaderModule struct {
	code []uint32
	// fixed holds the workgroup size of kernels that hardcode it; those
	// ignore specialization constants 0..2.
	fixed map[string][3]uint32
}

func (m *ShaderModule) Destroy() { m.code = nil }

type DescriptorSetLayout struct {
	bindings []driver.DescriptorBinding
}

func (l *DescriptorSetLayout) Destroy() {}

type PipelineLayout struct {
	sets     int
	pushSize uint32
}

func (l *PipelineLayout) Destroy() {}

type Pipeline struct {
	compute  bool
	entry    string
	local    [3]uint32
	graphics driver.GraphicsPipelineDesc
}

func (p *Pipeline) Destroy() {}

// LocalSize is the workgroup size a compute pipeline was specialized with.
func (p *Pipeline) LocalSize() [3]uint32 { return p.local }

type RenderPass struct {
	colors []driver.AttachmentDesc
	depth  *driver.AttachmentDesc
}

func (r *RenderPass) Destroy() {}

type Framebuffer struct {
	pass          *RenderPass
	attachments   []*Image
	width, height uint32
	destroyed     bool
}

func (f *Framebuffer) Destroy() { f.destroyed = true }

type DescriptorPool struct {
	mu        sync.Mutex
	max       int
	allocated int
}

func (p *DescriptorPool) Allocate(layout driver.DescriptorSetLayout) (driver.DescriptorSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.allocated >= p.max {
		return nil, driver.ErrPoolExhausted
	}
	p.allocated++
	return &DescriptorSet{pool: p, layout: layout.(*DescriptorSetLayout), bindings: map[uint32]binding{}}, nil
}

func (p *DescriptorPool) Free(sets ...driver.DescriptorSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range sets {
		ds := s.(*DescriptorSet)
		if ds.pool == p && !ds.freed {
			ds.freed = true
			p.allocated--
		}
	}
}

// Allocated is the number of live sets.
func (p *DescriptorPool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}

func (p *DescriptorPool) Destroy() {}

type binding struct {
	typ     vk.DescriptorType
	buffer  *Buffer
	offset  int64
	size    int64
	image   *Image
	layout  vk.ImageLayout
	sampler *Sampler
}

type DescriptorSet struct {
	mu       sync.Mutex
	pool     *DescriptorPool
	layout   *DescriptorSetLayout
	bindings map[uint32]binding
	freed    bool
}

func (s *DescriptorSet) WriteBuffer(b uint32, typ vk.DescriptorType, buf driver.Buffer, offset, size int64) {
	s.mu.Lock()
	s.bindings[b] = binding{typ: typ, buffer: buf.(*Buffer), offset: offset, size: size}
	s.mu.Unlock()
}

func (s *DescriptorSet) WriteImage(b uint32, typ vk.DescriptorType, img driver.Image, layout vk.ImageLayout) {
	s.mu.Lock()
	s.bindings[b] = binding{typ: typ, image: img.(*Image), layout: layout}
	s.mu.Unlock()
}

func (s *DescriptorSet) WriteSampler(b uint32, smp driver.Sampler) {
	s.mu.Lock()
	s.bindings[b] = binding{typ: vk.DescriptorTypeSampler, sampler: smp.(*Sampler)}
	s.mu.Unlock()
}

func (s *DescriptorSet) get(b uint32) (binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.bindings[b]
	return v, ok
}

// Fence closes its channel when signaled; Reset installs a fresh one.
type Fence struct {
	mu       sync.Mutex
	ch       chan struct{}
	signaled bool
}

func (f *Fence) signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.signaled {
		f.signaled = true
		close(f.ch)
	}
}

func (f *Fence) Wait(timeout time.Duration) (bool, error) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	if timeout <= 0 {
		select {
		case <-ch:
			return true, nil
		default:
			return false, nil
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true, nil
	case <-t.C:
		return false, nil
	}
}

func (f *Fence) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		f.signaled = false
		f.ch = make(chan struct{})
	}
	return nil
}

func (f *Fence) Destroy() {}

// Event reports any host access after Destroy as a validation error.
type Event struct {
	gpu       *GPU
	set       atomic.Bool
	destroyed atomic.Bool
}

func (e *Event) alive(op string) bool {
	if e.destroyed.Load() {
		e.gpu.validationError("%s on a destroyed event", op)
		return false
	}
	return true
}

func (e *Event) Status() (bool, error) {
	if !e.alive("Status") {
		return false, driver.ErrFatal
	}
	if err := e.gpu.eventStatusErr(); err != nil {
		return false, err
	}
	return e.set.Load(), nil
}

func (e *Event) Set() error {
	if !e.alive("Set") {
		return driver.ErrFatal
	}
	e.set.Store(true)
	return nil
}

func (e *Event) Reset() error {
	if !e.alive("Reset") {
		return driver.ErrFatal
	}
	e.set.Store(false)
	return nil
}

func (e *Event) Destroy() {
	if e.destroyed.Swap(true) {
		e.gpu.validationError("event destroyed twice")
	}
}

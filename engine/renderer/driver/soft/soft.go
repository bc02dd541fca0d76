// Package soft implements the driver interfaces in host memory. Commands are
// recorded as closures and executed in submission order by a queue goroutine.
// Copies, fills, clears and registered kernels produce real results; draws
// are counted but not rasterized.
package soft

import (
	"fmt"
	"sync"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/containers"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
	"github.com/spaghettifunk/anima/engine/renderer/spirv"
)

const driverName = "soft"

func init() {
	driver.Register(&Driver{})
}

// Driver opens a single shared soft GPU.
type Driver struct {
	mu  sync.Mutex
	gpu *GPU
}

func (d *Driver) Name() string { return driverName }

func (d *Driver) Open() (driver.GPU, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gpu == nil {
		d.gpu = New()
	}
	return d.gpu, nil
}

func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gpu != nil {
		d.gpu.Destroy()
		d.gpu = nil
	}
}

type submission struct {
	cb    *CommandBuffer
	ops   []op
	fence *Fence
}

// GPU is a host-memory device with one queue.
type GPU struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending *containers.RingQueue[submission]
	busy    bool
	paused  bool
	latency time.Duration
	// statusErr, when set, is what every event status query fails with.
	statusErr error
	closed    bool
	done      chan struct{}

	kmu     sync.RWMutex
	kernels map[string]KernelFunc

	stats struct {
		sync.Mutex
		submits int
		draws   int
		errors  []string
	}
}

// New returns a running soft GPU. Destroy stops its queue.
func New() *GPU {
	g := &GPU{
		pending: containers.NewGrowableRingQueue[submission](16),
		done:    make(chan struct{}),
		kernels: map[string]KernelFunc{},
	}
	g.cond = sync.NewCond(&g.mu)
	go g.run()
	core.LogDebug("soft GPU started")
	return g
}

func (g *GPU) run() {
	defer close(g.done)
	for {
		g.mu.Lock()
		for !g.closed && (g.paused || g.pending.IsEmpty()) {
			g.cond.Wait()
		}
		if g.closed {
			g.mu.Unlock()
			return
		}
		sub, _ := g.pending.Dequeue()
		g.busy = true
		g.mu.Unlock()

		g.execute(sub)

		g.mu.Lock()
		g.busy = false
		g.cond.Broadcast()
		g.mu.Unlock()
	}
}

func (g *GPU) execute(sub submission) {
	st := &execState{gpu: g}
	for _, o := range sub.ops {
		o.run(st)
	}
	g.mu.Lock()
	latency := g.latency
	g.mu.Unlock()
	if latency > 0 {
		time.Sleep(latency)
	}
	if sub.fence != nil {
		sub.fence.signal()
	}
}

// Pause holds queued work until Resume. Work already executing finishes.
func (g *GPU) Pause() {
	g.mu.Lock()
	g.paused = true
	g.mu.Unlock()
}

// SetFenceLatency delays every fence signal by d after the submission's
// commands ran, like a device that reports completion late.
func (g *GPU) SetFenceLatency(d time.Duration) {
	g.mu.Lock()
	g.latency = d
	g.mu.Unlock()
}

// FailEventStatus makes every later event status query return err, like a
// device that cannot read event state back. A nil err restores it.
func (g *GPU) FailEventStatus(err error) {
	g.mu.Lock()
	g.statusErr = err
	g.mu.Unlock()
}

func (g *GPU) eventStatusErr() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusErr
}

func (g *GPU) Resume() {
	g.mu.Lock()
	g.paused = false
	g.cond.Broadcast()
	g.mu.Unlock()
}

// RegisterKernel binds a compute entry point name to a host function.
func (g *GPU) RegisterKernel(entry string, fn KernelFunc) {
	g.kmu.Lock()
	g.kernels[entry] = fn
	g.kmu.Unlock()
}

func (g *GPU) kernel(entry string) (KernelFunc, bool) {
	g.kmu.RLock()
	defer g.kmu.RUnlock()
	fn, ok := g.kernels[entry]
	return fn, ok
}

// Errors returns validation failures observed while executing commands.
func (g *GPU) Errors() []string {
	g.stats.Lock()
	defer g.stats.Unlock()
	out := make([]string, len(g.stats.errors))
	copy(out, g.stats.errors)
	return out
}

func (g *GPU) Submits() int {
	g.stats.Lock()
	defer g.stats.Unlock()
	return g.stats.submits
}

func (g *GPU) Draws() int {
	g.stats.Lock()
	defer g.stats.Unlock()
	return g.stats.draws
}

func (g *GPU) validationError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	core.LogWarn("soft: %s", msg)
	g.stats.Lock()
	g.stats.errors = append(g.stats.errors, msg)
	g.stats.Unlock()
}

func (g *GPU) Properties() driver.Properties {
	return driver.Properties{
		Name:       "Anima Soft Device",
		DeviceType: driver.DeviceTypeCPU,
		Headless:   true,
	}
}

func (g *GPU) Limits() driver.Limits {
	return driver.Limits{
		MaxBufferLength:                1 << 30,
		MaxImageDimension2D:            16384,
		MaxComputeWorkGroupInvocations: 1024,
		MaxComputeWorkGroupSize:        [3]uint32{1024, 1024, 64},
		MaxComputeSharedMemorySize:     32768,
		MaxPushConstantsSize:           128,
		MaxBoundDescriptorSets:         4,
		SubgroupSize:                   32,
		NonCoherentAtomSize:            64,
	}
}

func (g *GPU) Submit(cb driver.CommandBuffer, fence driver.Fence) error {
	scb, ok := cb.(*CommandBuffer)
	if !ok {
		return fmt.Errorf("soft: foreign command buffer %T", cb)
	}
	if scb.state != cbExecutable {
		return fmt.Errorf("soft: command buffer is not executable")
	}
	var f *Fence
	if fence != nil {
		f = fence.(*Fence)
	}
	ops := make([]op, len(scb.ops))
	copy(ops, scb.ops)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return driver.ErrFatal
	}
	if err := g.pending.Enqueue(submission{cb: scb, ops: ops, fence: f}); err != nil {
		return err
	}
	g.stats.Lock()
	g.stats.submits++
	g.stats.Unlock()
	g.cond.Broadcast()
	return nil
}

func (g *GPU) WaitIdle() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for !g.closed && (g.busy || (!g.pending.IsEmpty() && !g.paused)) {
		g.cond.Wait()
	}
	return nil
}

func (g *GPU) Destroy() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.cond.Broadcast()
	g.mu.Unlock()
	<-g.done
	core.LogDebug("soft GPU stopped")
}

func (g *GPU) NewCommandBuffer() (driver.CommandBuffer, error) {
	return &CommandBuffer{gpu: g}, nil
}

func (g *GPU) NewFence(signaled bool) (driver.Fence, error) {
	f := &Fence{ch: make(chan struct{})}
	if signaled {
		f.signal()
	}
	return f, nil
}

func (g *GPU) NewEvent() (driver.Event, error) {
	return &Event{gpu: g}, nil
}

func (g *GPU) NewBuffer(size int64, usage vk.BufferUsageFlags) (driver.Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("soft: invalid buffer size %d", size)
	}
	if size > g.Limits().MaxBufferLength {
		return nil, driver.ErrNoDeviceMemory
	}
	return &Buffer{data: make([]byte, size), usage: usage}, nil
}

func (g *GPU) NewImage(desc driver.ImageDesc) (driver.Image, error) {
	bpp := formatSize(desc.Format)
	if bpp == 0 {
		return nil, fmt.Errorf("%w: format %d", driver.ErrUnsupportedDesc, desc.Format)
	}
	if desc.Depth == 0 {
		desc.Depth = 1
	}
	if desc.Levels == 0 {
		desc.Levels = 1
	}
	if desc.Layers == 0 {
		desc.Layers = 1
	}
	if desc.Samples == 0 {
		desc.Samples = 1
	}
	img := &Image{desc: desc, bpp: bpp, layout: vk.ImageLayoutUndefined}
	img.levels = make([][]byte, desc.Levels)
	for l := uint32(0); l < desc.Levels; l++ {
		w, h, d := img.extent(l)
		img.levels[l] = make([]byte, int(w*h*d*desc.Layers)*bpp)
	}
	return img, nil
}

func (g *GPU) NewSampler(desc driver.SamplerDesc) (driver.Sampler, error) {
	return &Sampler{desc: desc}, nil
}

func (g *GPU) NewShaderModule(code []uint32) (driver.ShaderModule, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("soft: empty shader module")
	}
	c := make([]uint32, len(code))
	copy(c, code)
	m := &ShaderModule{code: c, fixed: map[string][3]uint32{}}
	// Modules the reflector cannot read are treated as fully specializable.
	if mod, err := spirv.Reflect(c); err == nil {
		for _, ep := range mod.EntryPoints {
			if ep.Layout.FixedThreadgroupSize {
				s := ep.Layout.ThreadgroupSize
				m.fixed[ep.Name] = [3]uint32{uint32(s.Width), uint32(s.Height), uint32(s.Depth)}
			}
		}
	}
	return m, nil
}

func (g *GPU) NewDescriptorSetLayout(bindings []driver.DescriptorBinding) (driver.DescriptorSetLayout, error) {
	b := make([]driver.DescriptorBinding, len(bindings))
	copy(b, bindings)
	return &DescriptorSetLayout{bindings: b}, nil
}

func (g *GPU) NewPipelineLayout(sets []driver.DescriptorSetLayout, push []driver.PushConstantRange) (driver.PipelineLayout, error) {
	var size uint32
	for _, r := range push {
		if r.Offset+r.Size > size {
			size = r.Offset + r.Size
		}
	}
	if size > g.Limits().MaxPushConstantsSize {
		return nil, fmt.Errorf("%w: push constants of %d bytes", driver.ErrUnsupportedDesc, size)
	}
	return &PipelineLayout{sets: len(sets), pushSize: size}, nil
}

func (g *GPU) NewComputePipeline(desc driver.ComputePipelineDesc) (driver.Pipeline, error) {
	if desc.Stage.Module == nil || desc.Stage.Entry == "" {
		return nil, fmt.Errorf("%w: compute stage", driver.ErrUnsupportedDesc)
	}
	p := &Pipeline{compute: true, entry: desc.Stage.Entry, local: [3]uint32{1, 1, 1}}
	if local, ok := desc.Stage.Module.(*ShaderModule).fixed[desc.Stage.Entry]; ok {
		p.local = local
		return p, nil
	}
	for _, sc := range desc.Stage.Specialization {
		if sc.ID < 3 {
			p.local[sc.ID] = sc.Value
		}
	}
	return p, nil
}

func (g *GPU) NewGraphicsPipeline(desc driver.GraphicsPipelineDesc) (driver.Pipeline, error) {
	if desc.Pass == nil || len(desc.Stages) == 0 {
		return nil, fmt.Errorf("%w: graphics pipeline", driver.ErrUnsupportedDesc)
	}
	return &Pipeline{graphics: desc}, nil
}

func (g *GPU) NewRenderPass(desc driver.RenderPassDesc) (driver.RenderPass, error) {
	rp := &RenderPass{colors: append([]driver.AttachmentDesc(nil), desc.Colors...)}
	if desc.Depth != nil {
		d := *desc.Depth
		rp.depth = &d
	}
	return rp, nil
}

func (g *GPU) NewFramebuffer(pass driver.RenderPass, attachments []driver.Image, width, height uint32) (driver.Framebuffer, error) {
	rp := pass.(*RenderPass)
	want := len(rp.colors)
	if rp.depth != nil {
		want++
	}
	if len(attachments) != want {
		return nil, fmt.Errorf("%w: framebuffer has %d attachments, pass wants %d", driver.ErrUnsupportedDesc, len(attachments), want)
	}
	fb := &Framebuffer{pass: rp, width: width, height: height}
	for _, a := range attachments {
		fb.attachments = append(fb.attachments, a.(*Image))
	}
	return fb, nil
}

func (g *GPU) NewDescriptorPool(maxSets uint32, sizes []driver.DescriptorPoolSize) (driver.DescriptorPool, error) {
	return &DescriptorPool{max: int(maxSets)}, nil
}

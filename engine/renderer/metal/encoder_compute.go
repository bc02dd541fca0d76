package metal

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

/**
 * @brief Records kernel dispatches. A serial encoder orders each dispatch
 * after the previous one; a concurrent one leaves that to MemoryBarrier.
 */
type ComputeCommandEncoder struct {
	commandEncoder
	dispatchType metadata.DispatchType
	pipeline     *ComputePipelineState
	args         argumentTable
	set          driver.DescriptorSet
	dispatched   bool
}

func (cb *CommandBuffer) MakeComputeCommandEncoder() *ComputeCommandEncoder {
	return cb.MakeComputeCommandEncoderWithDispatchType(metadata.DispatchTypeSerial)
}

func (cb *CommandBuffer) MakeComputeCommandEncoderWithDispatchType(dt metadata.DispatchType) *ComputeCommandEncoder {
	e := &ComputeCommandEncoder{
		commandEncoder: newCommandEncoder(cb, "ComputeCommandEncoder"),
		dispatchType:   dt,
		args:           newArgumentTable(),
	}
	cb.beginEncoder(e)
	return e
}

func (e *ComputeCommandEncoder) DispatchType() metadata.DispatchType { return e.dispatchType }

// MemoryBarrier makes the writes of every dispatch recorded so far visible
// to the dispatches that follow.
func (e *ComputeCommandEncoder) MemoryBarrier() {
	e.checkOpen()
	if !e.dispatched {
		return
	}
	compute := stages(vk.PipelineStageComputeShaderBit)
	e.memoryBarrier(compute, compute,
		access(vk.AccessShaderWriteBit),
		access(vk.AccessShaderReadBit, vk.AccessShaderWriteBit))
	e.dispatched = false
}

func (e *ComputeCommandEncoder) EndEncoding() { e.finish(e) }

// SetComputePipelineState makes ps current and takes a fresh descriptor
// set for it.
func (e *ComputeCommandEncoder) SetComputePipelineState(ps *ComputePipelineState) {
	e.checkOpen()
	e.pipeline = ps
	e.set = e.cb.allocateSet(ps.setLayout)
	e.args.dirty = true
}

func (e *ComputeCommandEncoder) SetBuffer(buf *Buffer, offset, index int) {
	e.checkOpen()
	e.args.setBuffer(buf, offset, index)
}

// SetBuffers binds bufs[i] at offsets[i] to index start+i.
func (e *ComputeCommandEncoder) SetBuffers(bufs []*Buffer, offsets []int, start int) {
	core.Precondition(len(bufs) == len(offsets), "%d buffers with %d offsets", len(bufs), len(offsets))
	for i := range bufs {
		e.SetBuffer(bufs[i], offsets[i], start+i)
	}
}

func (e *ComputeCommandEncoder) SetBufferOffset(offset, index int) {
	e.checkOpen()
	e.args.setBufferOffset(offset, index)
}

func (e *ComputeCommandEncoder) SetBytes(data []byte, index int) {
	e.checkOpen()
	e.args.setBytes(data, index)
}

func (e *ComputeCommandEncoder) SetTexture(tex *Texture, index int) {
	e.checkOpen()
	e.args.setTexture(tex, index)
}

func (e *ComputeCommandEncoder) SetTextures(texs []*Texture, start int) {
	for i, t := range texs {
		e.SetTexture(t, start+i)
	}
}

func (e *ComputeCommandEncoder) SetSamplerState(s *SamplerState, index int) {
	e.checkOpen()
	e.args.setSampler(s, index)
}

func (e *ComputeCommandEncoder) SetSamplerStates(ss []*SamplerState, start int) {
	for i, s := range ss {
		e.SetSamplerState(s, start+i)
	}
}

// DispatchThreads runs at least threads invocations, rounded up to whole
// threadgroups. A function with a fixed threadgroup size is divided by that
// size and threadsPerThreadgroup is ignored. An empty grid records nothing.
func (e *ComputeCommandEncoder) DispatchThreads(threads, threadsPerThreadgroup metadata.Size) {
	e.checkOpen()
	core.Precondition(e.pipeline != nil, "dispatch without a compute pipeline state")
	if threads.Volume() == 0 {
		core.LogDebug("%s: skipping empty dispatch of %dx%dx%d threads", e.label, threads.Width, threads.Height, threads.Depth)
		return
	}
	tg := normalizedSize(threadsPerThreadgroup)
	if fixed, ok := e.pipeline.FixedThreadgroupSize(); ok {
		tg = fixed
	}
	groups := metadata.Size{
		Width:  metadata.CeilDiv(threads.Width, tg.Width),
		Height: metadata.CeilDiv(threads.Height, tg.Height),
		Depth:  metadata.CeilDiv(threads.Depth, tg.Depth),
	}
	e.DispatchThreadgroups(groups, tg)
}

// DispatchThreadgroups runs threadgroups groups. For a function with a fixed
// threadgroup size, threadsPerThreadgroup must be zero or match it.
func (e *ComputeCommandEncoder) DispatchThreadgroups(threadgroups, threadsPerThreadgroup metadata.Size) {
	e.checkOpen()
	core.Precondition(e.pipeline != nil, "dispatch without a compute pipeline state")
	if threadgroups.Volume() == 0 {
		core.LogDebug("%s: skipping empty dispatch of %dx%dx%d threadgroups", e.label, threadgroups.Width, threadgroups.Height, threadgroups.Depth)
		return
	}
	tg := normalizedSize(threadsPerThreadgroup)
	if fixed, ok := e.pipeline.FixedThreadgroupSize(); ok {
		core.Precondition(threadsPerThreadgroup.Volume() == 0 || tg == fixed,
			"%s runs %dx%dx%d threadgroups, dispatched with %dx%dx%d", e.pipeline.function.Name(),
			fixed.Width, fixed.Height, fixed.Depth, tg.Width, tg.Height, tg.Depth)
		tg = fixed
	}
	groups := threadgroups
	core.Precondition(tg.Volume() <= e.pipeline.MaxTotalThreadsPerThreadgroup(),
		"threadgroup %dx%dx%d exceeds %d threads", tg.Width, tg.Height, tg.Depth, e.pipeline.MaxTotalThreadsPerThreadgroup())

	ps := e.pipeline
	fn := ps.function
	compute := stages(vk.PipelineStageComputeShaderBit)
	if e.dispatched && e.dispatchType == metadata.DispatchTypeSerial {
		e.memoryBarrier(compute, compute,
			access(vk.AccessShaderWriteBit),
			access(vk.AccessShaderReadBit, vk.AccessShaderWriteBit))
	}
	for _, tr := range e.args.textureTransitions(fn) {
		tr.texture.transitionTo(tr.layout, e.native)
	}

	pipeline, err := ps.pipeline(tg)
	if err != nil {
		e.cb.setError(err)
		return
	}
	var push []byte
	if ps.hasPush {
		push = make([]byte, ps.push.Offset+ps.push.Size)
	}
	e.args.write(e.cb, fn, e.set, push, nil)

	e.native.BindPipeline(vk.PipelineBindPointCompute, pipeline)
	e.native.BindDescriptorSets(vk.PipelineBindPointCompute, ps.layout, 0, []driver.DescriptorSet{e.set})
	if ps.hasPush {
		e.native.PushConstants(ps.layout, ps.push.Stages, ps.push.Offset, push[ps.push.Offset:])
	}
	e.native.Dispatch(uint32(groups.Width), uint32(groups.Height), uint32(groups.Depth))
	e.dispatched = true

	// The recorded dispatch keeps reading e.set; the next one gets its own.
	e.set = e.cb.allocateSet(ps.setLayout)
	e.args.dirty = true
}

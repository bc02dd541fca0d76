package driver

import (
	"time"

	vk "github.com/goki/vulkan"
)

// Destroyer is implemented by every object a GPU creates.
type Destroyer interface {
	Destroy()
}

// GPU is a logical device together with the single queue all submissions
// go through.
type GPU interface {
	Destroyer

	Properties() Properties
	Limits() Limits

	NewCommandBuffer() (CommandBuffer, error)
	NewFence(signaled bool) (Fence, error)
	NewEvent() (Event, error)

	// NewBuffer allocates host-visible, coherent memory of size bytes.
	NewBuffer(size int64, usage vk.BufferUsageFlags) (Buffer, error)
	NewImage(desc ImageDesc) (Image, error)
	NewSampler(desc SamplerDesc) (Sampler, error)

	NewShaderModule(code []uint32) (ShaderModule, error)
	NewDescriptorSetLayout(bindings []DescriptorBinding) (DescriptorSetLayout, error)
	NewPipelineLayout(sets []DescriptorSetLayout, push []PushConstantRange) (PipelineLayout, error)
	NewComputePipeline(desc ComputePipelineDesc) (Pipeline, error)
	NewGraphicsPipeline(desc GraphicsPipelineDesc) (Pipeline, error)
	NewRenderPass(desc RenderPassDesc) (RenderPass, error)
	NewFramebuffer(pass RenderPass, attachments []Image, width, height uint32) (Framebuffer, error)
	NewDescriptorPool(maxSets uint32, sizes []DescriptorPoolSize) (DescriptorPool, error)

	// Submit queues cb for execution; fence is signaled when it completes.
	Submit(cb CommandBuffer, fence Fence) error
	WaitIdle() error
}

type Buffer interface {
	Destroyer
	Size() int64
	// Bytes is the persistently mapped contents.
	Bytes() []byte
}

type Image interface {
	Destroyer
	Desc() ImageDesc
}

type Sampler interface{ Destroyer }
type ShaderModule interface{ Destroyer }
type DescriptorSetLayout interface{ Destroyer }
type PipelineLayout interface{ Destroyer }
type Pipeline interface{ Destroyer }
type RenderPass interface{ Destroyer }
type Framebuffer interface{ Destroyer }

type DescriptorPool interface {
	Destroyer
	// Allocate returns ErrPoolExhausted when the pool is full.
	Allocate(layout DescriptorSetLayout) (DescriptorSet, error)
	Free(sets ...DescriptorSet)
}

type DescriptorSet interface {
	WriteBuffer(binding uint32, typ vk.DescriptorType, buf Buffer, offset, size int64)
	WriteImage(binding uint32, typ vk.DescriptorType, img Image, layout vk.ImageLayout)
	WriteSampler(binding uint32, smp Sampler)
}

type Fence interface {
	Destroyer
	// Wait blocks up to timeout and reports whether the fence is signaled.
	Wait(timeout time.Duration) (bool, error)
	Reset() error
}

// Event is a signal the device or the host can set and the host can poll.
type Event interface {
	Destroyer
	Status() (bool, error)
	Set() error
	Reset() error
}

// CommandBuffer records commands. It is not safe for concurrent use.
type CommandBuffer interface {
	Destroyer

	Begin() error
	End() error
	Reset() error

	PipelineBarrier(src, dst vk.PipelineStageFlags, mem []MemoryBarrier, images []ImageBarrier)

	CopyBuffer(src, dst Buffer, regions []BufferCopy)
	CopyBufferToImage(src Buffer, dst Image, layout vk.ImageLayout, regions []BufferImageCopy)
	CopyImageToBuffer(src Image, layout vk.ImageLayout, dst Buffer, regions []BufferImageCopy)
	CopyImage(src Image, srcLayout vk.ImageLayout, dst Image, dstLayout vk.ImageLayout, regions []ImageCopy)
	BlitImage(src Image, srcLayout vk.ImageLayout, dst Image, dstLayout vk.ImageLayout, regions []ImageBlit, filter vk.Filter)
	FillBuffer(dst Buffer, offset, size int64, data uint32)

	BindPipeline(bp vk.PipelineBindPoint, p Pipeline)
	BindDescriptorSets(bp vk.PipelineBindPoint, layout PipelineLayout, first uint32, sets []DescriptorSet)
	PushConstants(layout PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte)
	Dispatch(x, y, z uint32)

	BeginRenderPass(pass RenderPass, fb Framebuffer, area Rect, clears []ClearValue)
	EndRenderPass()
	BindVertexBuffers(first uint32, bufs []Buffer, offsets []int64)
	BindIndexBuffer(buf Buffer, offset int64, typ vk.IndexType)
	SetViewports(vps []Viewport)
	SetScissors(rects []Rect)
	SetBlendConstants(c [4]float32)
	SetStencilReference(front, back uint32)
	SetDepthBias(constant, clamp, slope float32)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)

	SetEvent(ev Event, stage vk.PipelineStageFlags)
	WaitEvents(evs []Event, src, dst vk.PipelineStageFlags)
}

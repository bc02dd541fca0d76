package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

type commandBufferState int

const (
	commandBufferReady commandBufferState = iota
	commandBufferRecording
	commandBufferInRenderPass
	commandBufferRecordingEnded
	commandBufferSubmitted
	commandBufferNotAllocated
)

// CommandBuffer owns its command pool so separate buffers can be recorded
// from separate goroutines without locking.
type CommandBuffer struct {
	gpu    *GPU
	pool   vk.CommandPool
	handle vk.CommandBuffer
	// Command buffer state.
	state commandBufferState
}

var _ driver.CommandBuffer = (*CommandBuffer)(nil)

func (g *GPU) NewCommandBuffer() (driver.CommandBuffer, error) {
	cb := &CommandBuffer{gpu: g, state: commandBufferNotAllocated}

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: g.queueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if res := vk.CreateCommandPool(g.device, &poolCreateInfo, nil, &cb.pool); res != vk.Success {
		return nil, resultError("vkCreateCommandPool", res)
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        cb.pool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}
	cmds := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(g.device, &allocateInfo, cmds); res != vk.Success {
		vk.DestroyCommandPool(g.device, cb.pool, nil)
		return nil, resultError("vkAllocateCommandBuffers", res)
	}
	cb.handle = cmds[0]
	cb.state = commandBufferReady
	return cb, nil
}

func (c *CommandBuffer) Destroy() {
	if c.handle != nil {
		vk.FreeCommandBuffers(c.gpu.device, c.pool, 1, []vk.CommandBuffer{c.handle})
		c.handle = nil
	}
	if c.pool != nil {
		vk.DestroyCommandPool(c.gpu.device, c.pool, nil)
		c.pool = nil
	}
	c.state = commandBufferNotAllocated
}

// Begin starts a one-time-submit recording.
func (c *CommandBuffer) Begin() error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(c.handle, &beginInfo); res != vk.Success {
		return resultError("vkBeginCommandBuffer", res)
	}
	c.state = commandBufferRecording
	return nil
}

func (c *CommandBuffer) End() error {
	if c.state == commandBufferInRenderPass {
		err := fmt.Errorf("command buffer ended inside a render pass: %w", driver.ErrFatal)
		core.LogError("%s", err.Error())
		return err
	}
	if res := vk.EndCommandBuffer(c.handle); res != vk.Success {
		return resultError("vkEndCommandBuffer", res)
	}
	c.state = commandBufferRecordingEnded
	return nil
}

func (c *CommandBuffer) Reset() error {
	if res := vk.ResetCommandBuffer(c.handle, 0); res != vk.Success {
		return resultError("vkResetCommandBuffer", res)
	}
	c.state = commandBufferReady
	return nil
}

func (c *CommandBuffer) PipelineBarrier(src, dst vk.PipelineStageFlags, mem []driver.MemoryBarrier, images []driver.ImageBarrier) {
	memBarriers := make([]vk.MemoryBarrier, len(mem))
	for i, m := range mem {
		memBarriers[i] = vk.MemoryBarrier{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: m.SrcAccess,
			DstAccessMask: m.DstAccess,
		}
	}
	imgBarriers := make([]vk.ImageMemoryBarrier, len(images))
	for i, b := range images {
		img := b.Image.(*Image)
		levels, layers := b.LevelCount, b.LayerCount
		if levels == 0 {
			levels = img.desc.Levels - b.BaseLevel
		}
		if layers == 0 {
			layers = img.desc.Layers - b.BaseLayer
		}
		imgBarriers[i] = vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			OldLayout:           b.OldLayout,
			NewLayout:           b.NewLayout,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.Handle,
			SrcAccessMask:       b.SrcAccess,
			DstAccessMask:       b.DstAccess,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     img.desc.Aspect(),
				BaseMipLevel:   b.BaseLevel,
				LevelCount:     levels,
				BaseArrayLayer: b.BaseLayer,
				LayerCount:     layers,
			},
		}
	}
	vk.CmdPipelineBarrier(c.handle, src, dst, 0,
		uint32(len(memBarriers)), memBarriers,
		0, nil,
		uint32(len(imgBarriers)), imgBarriers)
}

func (c *CommandBuffer) CopyBuffer(src, dst driver.Buffer, regions []driver.BufferCopy) {
	if len(regions) == 0 {
		return
	}
	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(c.handle, src.(*Buffer).handle, dst.(*Buffer).handle, uint32(len(copies)), copies)
}

func bufferImageCopies(img *Image, regions []driver.BufferImageCopy) []vk.BufferImageCopy {
	out := make([]vk.BufferImageCopy, len(regions))
	for i, r := range regions {
		out[i] = vk.BufferImageCopy{
			BufferOffset:      vk.DeviceSize(r.BufferOffset),
			BufferRowLength:   r.RowLength,
			BufferImageHeight: r.ImageHeight,
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask:     img.desc.Aspect(),
				MipLevel:       r.Level,
				BaseArrayLayer: r.Layer,
				LayerCount:     1,
			},
			ImageOffset: toOffset3D(r.Offset),
			ImageExtent: toExtent3D(r.Extent),
		}
	}
	return out
}

func (c *CommandBuffer) CopyBufferToImage(src driver.Buffer, dst driver.Image, layout vk.ImageLayout, regions []driver.BufferImageCopy) {
	if len(regions) == 0 {
		return
	}
	img := dst.(*Image)
	copies := bufferImageCopies(img, regions)
	vk.CmdCopyBufferToImage(c.handle, src.(*Buffer).handle, img.Handle, layout, uint32(len(copies)), copies)
}

func (c *CommandBuffer) CopyImageToBuffer(src driver.Image, layout vk.ImageLayout, dst driver.Buffer, regions []driver.BufferImageCopy) {
	if len(regions) == 0 {
		return
	}
	img := src.(*Image)
	copies := bufferImageCopies(img, regions)
	vk.CmdCopyImageToBuffer(c.handle, img.Handle, layout, dst.(*Buffer).handle, uint32(len(copies)), copies)
}

func (c *CommandBuffer) CopyImage(src driver.Image, srcLayout vk.ImageLayout, dst driver.Image, dstLayout vk.ImageLayout, regions []driver.ImageCopy) {
	if len(regions) == 0 {
		return
	}
	s, d := src.(*Image), dst.(*Image)
	copies := make([]vk.ImageCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.ImageCopy{
			SrcSubresource: vk.ImageSubresourceLayers{
				AspectMask:     s.desc.Aspect(),
				MipLevel:       r.SrcLevel,
				BaseArrayLayer: r.SrcLayer,
				LayerCount:     1,
			},
			SrcOffset: toOffset3D(r.SrcOffset),
			DstSubresource: vk.ImageSubresourceLayers{
				AspectMask:     d.desc.Aspect(),
				MipLevel:       r.DstLevel,
				BaseArrayLayer: r.DstLayer,
				LayerCount:     1,
			},
			DstOffset: toOffset3D(r.DstOffset),
			Extent:    toExtent3D(r.Extent),
		}
	}
	vk.CmdCopyImage(c.handle, s.Handle, srcLayout, d.Handle, dstLayout, uint32(len(copies)), copies)
}

func (c *CommandBuffer) BlitImage(src driver.Image, srcLayout vk.ImageLayout, dst driver.Image, dstLayout vk.ImageLayout, regions []driver.ImageBlit, filter vk.Filter) {
	if len(regions) == 0 {
		return
	}
	s, d := src.(*Image), dst.(*Image)
	blits := make([]vk.ImageBlit, len(regions))
	for i, r := range regions {
		blits[i] = vk.ImageBlit{
			SrcSubresource: vk.ImageSubresourceLayers{
				AspectMask:     s.desc.Aspect(),
				MipLevel:       r.SrcLevel,
				BaseArrayLayer: r.SrcLayer,
				LayerCount:     1,
			},
			SrcOffsets: [2]vk.Offset3D{toOffset3D(r.SrcOffsets[0]), toOffset3D(r.SrcOffsets[1])},
			DstSubresource: vk.ImageSubresourceLayers{
				AspectMask:     d.desc.Aspect(),
				MipLevel:       r.DstLevel,
				BaseArrayLayer: r.DstLayer,
				LayerCount:     1,
			},
			DstOffsets: [2]vk.Offset3D{toOffset3D(r.DstOffsets[0]), toOffset3D(r.DstOffsets[1])},
		}
	}
	vk.CmdBlitImage(c.handle, s.Handle, srcLayout, d.Handle, dstLayout, uint32(len(blits)), blits, filter)
}

// FillBuffer writes data repeatedly; offset and size must be multiples of 4.
func (c *CommandBuffer) FillBuffer(dst driver.Buffer, offset, size int64, data uint32) {
	vk.CmdFillBuffer(c.handle, dst.(*Buffer).handle, vk.DeviceSize(offset), vk.DeviceSize(size), data)
}

func (c *CommandBuffer) BindPipeline(bp vk.PipelineBindPoint, p driver.Pipeline) {
	vk.CmdBindPipeline(c.handle, bp, p.(*Pipeline).handle)
}

func (c *CommandBuffer) BindDescriptorSets(bp vk.PipelineBindPoint, layout driver.PipelineLayout, first uint32, sets []driver.DescriptorSet) {
	if len(sets) == 0 {
		return
	}
	handles := make([]vk.DescriptorSet, len(sets))
	for i, s := range sets {
		handles[i] = s.(*DescriptorSet).handle
	}
	vk.CmdBindDescriptorSets(c.handle, bp, layout.(*PipelineLayout).handle, first, uint32(len(handles)), handles, 0, nil)
}

func (c *CommandBuffer) PushConstants(layout driver.PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	vk.CmdPushConstants(c.handle, layout.(*PipelineLayout).handle, stages, offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (c *CommandBuffer) Dispatch(x, y, z uint32) {
	vk.CmdDispatch(c.handle, x, y, z)
}

func (c *CommandBuffer) BeginRenderPass(pass driver.RenderPass, fb driver.Framebuffer, area driver.Rect, clears []driver.ClearValue) {
	rp := pass.(*RenderPass)
	clearValues := rp.clearValues(clears)
	beginInfo := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      rp.handle,
		Framebuffer:     fb.(*Framebuffer).handle,
		RenderArea:      toRect2D(area),
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(c.handle, &beginInfo, vk.SubpassContentsInline)
	c.state = commandBufferInRenderPass
}

func (c *CommandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(c.handle)
	c.state = commandBufferRecording
}

func (c *CommandBuffer) BindVertexBuffers(first uint32, bufs []driver.Buffer, offsets []int64) {
	if len(bufs) == 0 {
		return
	}
	handles := make([]vk.Buffer, len(bufs))
	offs := make([]vk.DeviceSize, len(bufs))
	for i, b := range bufs {
		handles[i] = b.(*Buffer).handle
		if i < len(offsets) {
			offs[i] = vk.DeviceSize(offsets[i])
		}
	}
	vk.CmdBindVertexBuffers(c.handle, first, uint32(len(handles)), handles, offs)
}

func (c *CommandBuffer) BindIndexBuffer(buf driver.Buffer, offset int64, typ vk.IndexType) {
	vk.CmdBindIndexBuffer(c.handle, buf.(*Buffer).handle, vk.DeviceSize(offset), typ)
}

func (c *CommandBuffer) SetViewports(vps []driver.Viewport) {
	if len(vps) == 0 {
		return
	}
	viewports := make([]vk.Viewport, len(vps))
	for i, v := range vps {
		viewports[i] = vk.Viewport{
			X:        v.X,
			Y:        v.Y,
			Width:    v.Width,
			Height:   v.Height,
			MinDepth: v.MinDepth,
			MaxDepth: v.MaxDepth,
		}
	}
	vk.CmdSetViewport(c.handle, 0, uint32(len(viewports)), viewports)
}

func (c *CommandBuffer) SetScissors(rects []driver.Rect) {
	if len(rects) == 0 {
		return
	}
	scissors := make([]vk.Rect2D, len(rects))
	for i, r := range rects {
		scissors[i] = toRect2D(r)
	}
	vk.CmdSetScissor(c.handle, 0, uint32(len(scissors)), scissors)
}

func (c *CommandBuffer) SetBlendConstants(constants [4]float32) {
	vk.CmdSetBlendConstants(c.handle, &constants)
}

func (c *CommandBuffer) SetStencilReference(front, back uint32) {
	if front == back {
		vk.CmdSetStencilReference(c.handle, vk.StencilFaceFlags(vk.StencilFrontAndBack), front)
		return
	}
	vk.CmdSetStencilReference(c.handle, vk.StencilFaceFlags(vk.StencilFaceFrontBit), front)
	vk.CmdSetStencilReference(c.handle, vk.StencilFaceFlags(vk.StencilFaceBackBit), back)
}

func (c *CommandBuffer) SetDepthBias(constant, clamp, slope float32) {
	vk.CmdSetDepthBias(c.handle, constant, clamp, slope)
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(c.handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(c.handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (c *CommandBuffer) SetEvent(ev driver.Event, stage vk.PipelineStageFlags) {
	vk.CmdSetEvent(c.handle, ev.(*Event).handle, stage)
}

func (c *CommandBuffer) WaitEvents(evs []driver.Event, src, dst vk.PipelineStageFlags) {
	if len(evs) == 0 {
		return
	}
	handles := make([]vk.Event, len(evs))
	for i, e := range evs {
		handles[i] = e.(*Event).handle
	}
	// A global memory barrier makes writes before the set visible after the wait.
	barrier := []vk.MemoryBarrier{{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(vk.AccessMemoryWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessMemoryReadBit) | vk.AccessFlags(vk.AccessMemoryWriteBit),
	}}
	vk.CmdWaitEvents(c.handle, uint32(len(handles)), handles, src, dst, 1, barrier, 0, nil, 0, nil)
}

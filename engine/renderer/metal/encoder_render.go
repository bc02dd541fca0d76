package metal

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

type RenderPassColorAttachmentDescriptor struct {
	Texture     *Texture
	Level       int
	Slice       int
	LoadAction  metadata.LoadAction
	StoreAction metadata.StoreAction
	ClearColor  metadata.ClearColor
}

type RenderPassDepthAttachmentDescriptor struct {
	Texture     *Texture
	Level       int
	Slice       int
	LoadAction  metadata.LoadAction
	StoreAction metadata.StoreAction
	ClearDepth  float64
}

type RenderPassStencilAttachmentDescriptor struct {
	Texture      *Texture
	Level        int
	Slice        int
	LoadAction   metadata.LoadAction
	StoreAction  metadata.StoreAction
	ClearStencil uint32
}

/**
 * @brief The attachments of a render pass. Color attachments are used from
 * index 0 up to the first one without a texture. Depth and stencil, when
 * both are set, must share one combined texture.
 */
type RenderPassDescriptor struct {
	ColorAttachments  [MaxColorAttachments]RenderPassColorAttachmentDescriptor
	DepthAttachment   RenderPassDepthAttachmentDescriptor
	StencilAttachment RenderPassStencilAttachmentDescriptor
}

func NewRenderPassDescriptor() *RenderPassDescriptor {
	d := &RenderPassDescriptor{}
	for i := range d.ColorAttachments {
		d.ColorAttachments[i].StoreAction = metadata.StoreActionStore
		d.ColorAttachments[i].ClearColor = metadata.NewClearColor(0, 0, 0, 1)
	}
	d.DepthAttachment.ClearDepth = 1
	return d
}

// RenderCommandEncoder records draws into one render pass.
type RenderCommandEncoder struct {
	commandEncoder
	key         renderPassKey
	attachments []*Texture
	framebuffer driver.Framebuffer
	area        driver.Rect
	inPass      bool

	pipeline     *RenderPipelineState
	depthStencil *DepthStencilState
	cull         metadata.CullMode
	winding      metadata.Winding
	fill         metadata.TriangleFillMode
	depthClip    metadata.DepthClipMode
	bound        driver.Pipeline

	vertexArgs   argumentTable
	fragmentArgs argumentTable
	sets         [2]driver.DescriptorSet
	setsUsed     bool
}

func (cb *CommandBuffer) MakeRenderCommandEncoder(desc *RenderPassDescriptor) *RenderCommandEncoder {
	core.Precondition(desc != nil, "render pass descriptor is nil")
	e := &RenderCommandEncoder{
		commandEncoder: newCommandEncoder(cb, "RenderCommandEncoder"),
		winding:        metadata.WindingClockwise,
		vertexArgs:     newArgumentTable(),
		fragmentArgs:   newArgumentTable(),
	}
	var clears []driver.ClearValue
	var width, height int
	extent := func(t *Texture, level, slice int) {
		core.Precondition(level == 0 && slice == 0, "attachment %s: only level 0 slice 0 can be rendered to", t.Label())
		if width == 0 {
			width, height = t.Width(), t.Height()
		}
		core.Precondition(t.Width() == width && t.Height() == height,
			"attachment %s is %dx%d, pass is %dx%d", t.Label(), t.Width(), t.Height(), width, height)
	}

	for i := range desc.ColorAttachments {
		ca := desc.ColorAttachments[i]
		if ca.Texture == nil {
			for j := i + 1; j < MaxColorAttachments; j++ {
				core.Precondition(desc.ColorAttachments[j].Texture == nil, "color attachment %d set after empty attachment %d", j, i)
			}
			break
		}
		extent(ca.Texture, ca.Level, ca.Slice)
		e.key.colors[i] = attachmentKey{
			format:  vulkanFormat(ca.Texture.PixelFormat()),
			samples: uint32(metadata.Max(ca.Texture.SampleCount(), 1)),
			load:    loadOp(ca.LoadAction),
			store:   storeOp(ca.StoreAction),
		}
		e.key.colorCount++
		e.attachments = append(e.attachments, ca.Texture)
		clears = append(clears, driver.ClearValue{Color: clearValue(ca.ClearColor)})
	}

	depth, stencil := desc.DepthAttachment, desc.StencilAttachment
	if depth.Texture != nil || stencil.Texture != nil {
		tex := depth.Texture
		load, store := depth.LoadAction, depth.StoreAction
		if tex == nil {
			tex = stencil.Texture
			load, store = stencil.LoadAction, stencil.StoreAction
		}
		core.Precondition(stencil.Texture == nil || stencil.Texture == tex, "depth and stencil attachments must be one texture")
		core.Precondition(tex.PixelFormat().IsDepth(), "depth attachment %s has color format %s", tex.Label(), tex.PixelFormat())
		extent(tex, metadata.Max(depth.Level, stencil.Level), metadata.Max(depth.Slice, stencil.Slice))
		e.key.hasDepth = true
		e.key.depth = attachmentKey{
			format:  vulkanFormat(tex.PixelFormat()),
			samples: uint32(metadata.Max(tex.SampleCount(), 1)),
			load:    loadOp(load),
			store:   storeOp(store),
		}
		e.attachments = append(e.attachments, tex)
		clears = append(clears, driver.ClearValue{Depth: float32(depth.ClearDepth), Stencil: stencil.ClearStencil})
	}
	core.Precondition(len(e.attachments) > 0, "render pass without attachments")
	e.area = driver.Rect{Width: uint32(width), Height: uint32(height)}

	pass, err := cb.Device().renderPass(e.key)
	if err != nil {
		core.Fatalf("%w: render pass: %w", core.ErrRenderPipelineStateFailed, err)
	}
	images := make([]driver.Image, len(e.attachments))
	for i, t := range e.attachments {
		images[i] = t.native
	}
	e.framebuffer, err = cb.Device().gpu.NewFramebuffer(pass, images, uint32(width), uint32(height))
	if err != nil {
		core.Fatalf("%w: framebuffer: %w", core.ErrRenderPipelineStateFailed, err)
	}

	cb.beginEncoder(e)
	cb.addTransient(e.framebuffer)
	for i, t := range e.attachments {
		if i < e.key.colorCount {
			t.transitionTo(vk.ImageLayoutColorAttachmentOptimal, e.native)
		} else {
			t.transitionTo(vk.ImageLayoutDepthStencilAttachmentOptimal, e.native)
		}
		cb.addTrackedResource(t)
	}
	e.native.BeginRenderPass(pass, e.framebuffer, e.area, clears)
	e.inPass = true
	e.native.SetViewports([]driver.Viewport{{Width: float32(width), Height: float32(height), MaxDepth: 1}})
	e.native.SetScissors([]driver.Rect{e.area})
	return e
}

func (e *RenderCommandEncoder) EndEncoding() {
	e.checkOpen()
	if e.inPass {
		e.native.EndRenderPass()
		e.inPass = false
	}
	e.finish(e)
}

// resume re-opens the pass after it was interrupted for layout changes.
// The attachments keep what was drawn so far.
func (e *RenderCommandEncoder) resume() {
	pass, err := e.cb.Device().renderPass(e.key.resumed())
	if err != nil {
		core.Fatalf("%w: render pass: %w", core.ErrRenderPipelineStateFailed, err)
	}
	e.native.BeginRenderPass(pass, e.framebuffer, e.area, nil)
	e.inPass = true
}

func (e *RenderCommandEncoder) SetRenderPipelineState(ps *RenderPipelineState) {
	e.checkOpen()
	if e.pipeline == ps {
		return
	}
	e.pipeline = ps
	e.bound = nil
	e.sets = [2]driver.DescriptorSet{
		e.cb.allocateSet(ps.setLayouts[0]),
		e.cb.allocateSet(ps.setLayouts[1]),
	}
	e.setsUsed = false
	e.vertexArgs.dirty = true
	e.fragmentArgs.dirty = true
}

func (e *RenderCommandEncoder) SetCullMode(m metadata.CullMode) {
	e.checkOpen()
	e.cull = m
}

func (e *RenderCommandEncoder) SetFrontFacingWinding(w metadata.Winding) {
	e.checkOpen()
	e.winding = w
}

func (e *RenderCommandEncoder) SetTriangleFillMode(f metadata.TriangleFillMode) {
	e.checkOpen()
	e.fill = f
}

func (e *RenderCommandEncoder) SetDepthClipMode(m metadata.DepthClipMode) {
	e.checkOpen()
	e.depthClip = m
}

func (e *RenderCommandEncoder) SetDepthStencilState(s *DepthStencilState) {
	e.checkOpen()
	e.depthStencil = s
}

func nativeViewport(v metadata.Viewport) driver.Viewport {
	return driver.Viewport{
		X:        float32(v.OriginX),
		Y:        float32(v.OriginY),
		Width:    float32(v.Width),
		Height:   float32(v.Height),
		MinDepth: float32(v.ZNear),
		MaxDepth: float32(v.ZFar),
	}
}

func nativeRect(r metadata.ScissorRect) driver.Rect {
	return driver.Rect{X: int32(r.X), Y: int32(r.Y), Width: uint32(r.Width), Height: uint32(r.Height)}
}

func (e *RenderCommandEncoder) SetViewport(v metadata.Viewport) {
	e.SetViewports([]metadata.Viewport{v})
}

func (e *RenderCommandEncoder) SetViewports(vs []metadata.Viewport) {
	e.checkOpen()
	out := make([]driver.Viewport, len(vs))
	for i, v := range vs {
		out[i] = nativeViewport(v)
	}
	e.native.SetViewports(out)
}

func (e *RenderCommandEncoder) SetScissorRect(r metadata.ScissorRect) {
	e.SetScissorRects([]metadata.ScissorRect{r})
}

func (e *RenderCommandEncoder) SetScissorRects(rs []metadata.ScissorRect) {
	e.checkOpen()
	out := make([]driver.Rect, len(rs))
	for i, r := range rs {
		out[i] = nativeRect(r)
	}
	e.native.SetScissors(out)
}

func (e *RenderCommandEncoder) SetBlendColor(red, green, blue, alpha float32) {
	e.checkOpen()
	e.native.SetBlendConstants([4]float32{red, green, blue, alpha})
}

func (e *RenderCommandEncoder) SetStencilReferenceValue(ref uint32) {
	e.SetStencilFrontReferenceValue(ref, ref)
}

func (e *RenderCommandEncoder) SetStencilFrontReferenceValue(front, back uint32) {
	e.checkOpen()
	e.native.SetStencilReference(front, back)
}

func (e *RenderCommandEncoder) SetDepthBias(bias, slopeScale, clamp float32) {
	e.checkOpen()
	e.native.SetDepthBias(bias, clamp, slopeScale)
}

func (e *RenderCommandEncoder) SetVertexBuffer(buf *Buffer, offset, index int) {
	e.checkOpen()
	e.vertexArgs.setBuffer(buf, offset, index)
}

func (e *RenderCommandEncoder) SetVertexBufferOffset(offset, index int) {
	e.checkOpen()
	e.vertexArgs.setBufferOffset(offset, index)
}

func (e *RenderCommandEncoder) SetVertexBytes(data []byte, index int) {
	e.checkOpen()
	e.vertexArgs.setBytes(data, index)
}

func (e *RenderCommandEncoder) SetVertexTexture(tex *Texture, index int) {
	e.checkOpen()
	e.vertexArgs.setTexture(tex, index)
}

func (e *RenderCommandEncoder) SetVertexSamplerState(s *SamplerState, index int) {
	e.checkOpen()
	e.vertexArgs.setSampler(s, index)
}

func (e *RenderCommandEncoder) SetFragmentBuffer(buf *Buffer, offset, index int) {
	e.checkOpen()
	e.fragmentArgs.setBuffer(buf, offset, index)
}

func (e *RenderCommandEncoder) SetFragmentBufferOffset(offset, index int) {
	e.checkOpen()
	e.fragmentArgs.setBufferOffset(offset, index)
}

func (e *RenderCommandEncoder) SetFragmentBytes(data []byte, index int) {
	e.checkOpen()
	e.fragmentArgs.setBytes(data, index)
}

func (e *RenderCommandEncoder) SetFragmentTexture(tex *Texture, index int) {
	e.checkOpen()
	e.fragmentArgs.setTexture(tex, index)
}

func (e *RenderCommandEncoder) SetFragmentSamplerState(s *SamplerState, index int) {
	e.checkOpen()
	e.fragmentArgs.setSampler(s, index)
}

func (e *RenderCommandEncoder) isAttachment(t *Texture) bool {
	for _, a := range e.attachments {
		if a == t {
			return true
		}
	}
	return false
}

// prepareTextures moves sampled textures into the layouts the functions
// read them in. Barriers cannot be recorded inside a pass, so the pass is
// suspended around them.
func (e *RenderCommandEncoder) prepareTextures() {
	ps := e.pipeline
	trs := e.vertexArgs.textureTransitions(ps.vertex)
	if ps.fragment != nil {
		trs = append(trs, e.fragmentArgs.textureTransitions(ps.fragment)...)
	}
	if len(trs) == 0 {
		return
	}
	for _, tr := range trs {
		core.Precondition(!e.isAttachment(tr.texture), "texture %s is sampled while attached to the pass", tr.texture.Label())
	}
	core.LogDebug("%s: suspending pass for %d layout transitions", e.label, len(trs))
	e.native.EndRenderPass()
	e.inPass = false
	for _, tr := range trs {
		tr.texture.transitionTo(tr.layout, e.native)
	}
	e.resume()
}

// prepare brings the native command buffer up to date with the encoder
// state before a draw.
func (e *RenderCommandEncoder) prepare(primitive metadata.PrimitiveType) bool {
	e.checkOpen()
	core.Precondition(e.pipeline != nil, "draw without a render pipeline state")
	ps := e.pipeline
	e.prepareTextures()

	p, err := ps.pipeline(renderKey{
		primitive:    primitive,
		cull:         e.cull,
		winding:      e.winding,
		fill:         e.fill,
		depthClip:    e.depthClip,
		depthStencil: e.depthStencil,
		pass:         e.key,
	})
	if err != nil {
		e.cb.setError(err)
		return false
	}
	if p != e.bound {
		e.native.BindPipeline(vk.PipelineBindPointGraphics, p)
		e.bound = p
	}

	if e.vertexArgs.dirty || e.fragmentArgs.dirty || !e.setsUsed {
		if e.setsUsed {
			e.sets = [2]driver.DescriptorSet{
				e.cb.allocateSet(ps.setLayouts[0]),
				e.cb.allocateSet(ps.setLayouts[1]),
			}
		}
		push := make([]byte, ps.pushSize)
		// A merged block gets the fragment constants on top of the vertex
		// ones where they overlap.
		e.vertexArgs.write(e.cb, ps.vertex, e.sets[0], push, ps.vertexDesc)
		if ps.fragment != nil {
			e.fragmentArgs.write(e.cb, ps.fragment, e.sets[1], push, nil)
		}
		e.native.BindDescriptorSets(vk.PipelineBindPointGraphics, ps.layout, 0, e.sets[:])
		for _, b := range ps.push {
			e.native.PushConstants(ps.layout, b.Stages, b.Offset, push[b.Offset:b.Offset+b.Size])
		}
		e.setsUsed = true
	}

	for _, idx := range ps.vertexDesc.BufferIndices() {
		if data, ok := e.vertexArgs.bytes[idx]; ok {
			tmp, err := e.cb.Device().MakeBufferWithBytes(data, metadata.ResourceOptions{})
			if err != nil {
				core.Fatalf("%s: staging %d vertex bytes: %w", ps.label, len(data), err)
			}
			e.cb.addTransient(tmp.native)
			e.native.BindVertexBuffers(uint32(idx), []driver.Buffer{tmp.native}, []int64{0})
			continue
		}
		b, ok := e.vertexArgs.buffers[idx]
		core.Precondition(ok, "%s: no vertex buffer bound at index %d", ps.label, idx)
		e.native.BindVertexBuffers(uint32(idx), []driver.Buffer{b.buffer.native}, []int64{int64(b.offset)})
		e.cb.addTrackedResource(b.buffer)
	}
	return true
}

func (e *RenderCommandEncoder) DrawPrimitives(primitive metadata.PrimitiveType, vertexStart, vertexCount int) {
	e.DrawPrimitivesInstanced(primitive, vertexStart, vertexCount, 1, 0)
}

func (e *RenderCommandEncoder) DrawPrimitivesInstanced(primitive metadata.PrimitiveType, vertexStart, vertexCount, instanceCount, baseInstance int) {
	if vertexCount == 0 || instanceCount == 0 {
		return
	}
	if !e.prepare(primitive) {
		return
	}
	e.native.Draw(uint32(vertexCount), uint32(instanceCount), uint32(vertexStart), uint32(baseInstance))
}

func (e *RenderCommandEncoder) DrawIndexedPrimitives(primitive metadata.PrimitiveType, indexCount int, typ metadata.IndexType,
	indexBuffer *Buffer, indexBufferOffset int) {
	e.DrawIndexedPrimitivesInstanced(primitive, indexCount, typ, indexBuffer, indexBufferOffset, 1, 0, 0)
}

func (e *RenderCommandEncoder) DrawIndexedPrimitivesInstanced(primitive metadata.PrimitiveType, indexCount int, typ metadata.IndexType,
	indexBuffer *Buffer, indexBufferOffset, instanceCount, baseVertex, baseInstance int) {
	core.Precondition(indexBuffer != nil, "indexed draw without an index buffer")
	core.Precondition(indexBufferOffset >= 0 && uint64(indexBufferOffset)%typ.Size() == 0, "index buffer offset %d is not aligned to the index size", indexBufferOffset)
	if indexCount == 0 || instanceCount == 0 {
		return
	}
	if !e.prepare(primitive) {
		return
	}
	e.native.BindIndexBuffer(indexBuffer.native, int64(indexBufferOffset), indexType(typ))
	e.cb.addTrackedResource(indexBuffer)
	e.native.DrawIndexed(uint32(indexCount), uint32(instanceCount), 0, int32(baseVertex), uint32(baseInstance))
}

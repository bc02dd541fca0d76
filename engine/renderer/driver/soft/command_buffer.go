package soft

import (
	"encoding/binary"
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

type cbState int

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
)

// Recorded describes one recorded command, for inspection in tests.
type Recorded struct {
	Name          string
	ImageBarriers int
}

type op struct {
	Recorded
	run func(st *execState)
}

type execState struct {
	gpu *GPU

	compute     *Pipeline
	computeSets map[uint32]*DescriptorSet
	graphics    *Pipeline
	push        [256]byte

	pass *Framebuffer
}

type CommandBuffer struct {
	gpu   *GPU
	state cbState
	ops   []op
}

func (c *CommandBuffer) Begin() error {
	if c.state == cbRecording {
		return fmt.Errorf("soft: command buffer already recording")
	}
	c.ops = c.ops[:0]
	c.state = cbRecording
	return nil
}

func (c *CommandBuffer) End() error {
	if c.state != cbRecording {
		return fmt.Errorf("soft: command buffer is not recording")
	}
	c.state = cbExecutable
	return nil
}

func (c *CommandBuffer) Reset() error {
	c.ops = c.ops[:0]
	c.state = cbInitial
	return nil
}

func (c *CommandBuffer) Destroy() {
	c.ops = nil
}

// Recorded returns the commands recorded since the last Begin.
func (c *CommandBuffer) Recorded() []Recorded {
	out := make([]Recorded, len(c.ops))
	for i := range c.ops {
		out[i] = c.ops[i].Recorded
	}
	return out
}

func (c *CommandBuffer) record(name string, fn func(st *execState)) {
	c.recordBarrier(name, 0, fn)
}

func (c *CommandBuffer) recordBarrier(name string, images int, fn func(st *execState)) {
	if c.state != cbRecording {
		c.gpu.validationError("%s recorded outside Begin/End", name)
		return
	}
	c.ops = append(c.ops, op{Recorded: Recorded{Name: name, ImageBarriers: images}, run: fn})
}

func (c *CommandBuffer) PipelineBarrier(src, dst vk.PipelineStageFlags, mem []driver.MemoryBarrier, images []driver.ImageBarrier) {
	imgs := append([]driver.ImageBarrier(nil), images...)
	c.recordBarrier("PipelineBarrier", len(imgs), func(st *execState) {
		for _, b := range imgs {
			img := b.Image.(*Image)
			cur := img.Layout()
			if b.OldLayout != vk.ImageLayoutUndefined && b.OldLayout != cur {
				st.gpu.validationError("barrier old layout %d does not match image layout %d", b.OldLayout, cur)
			}
			img.setLayout(b.NewLayout)
		}
	})
}

func (c *CommandBuffer) CopyBuffer(src, dst driver.Buffer, regions []driver.BufferCopy) {
	s, d := src.(*Buffer), dst.(*Buffer)
	regs := append([]driver.BufferCopy(nil), regions...)
	c.record("CopyBuffer", func(st *execState) {
		for _, r := range regs {
			if r.SrcOffset+r.Size > int64(len(s.data)) || r.DstOffset+r.Size > int64(len(d.data)) {
				st.gpu.validationError("CopyBuffer region out of range")
				continue
			}
			copy(d.data[r.DstOffset:r.DstOffset+r.Size], s.data[r.SrcOffset:r.SrcOffset+r.Size])
		}
	})
}

func checkLayout(st *execState, cmd string, img *Image, want vk.ImageLayout) {
	if cur := img.Layout(); cur != want && cur != vk.ImageLayoutGeneral {
		st.gpu.validationError("%s: image in layout %d, command expects %d", cmd, cur, want)
	}
}

// rows walks the rows of region r, calling fn with the image byte offset,
// the buffer byte offset and the row length in bytes.
func rows(img *Image, r driver.BufferImageCopy, fn func(imgOff, bufOff, n int)) bool {
	rowLen, imgHeight := r.RowLength, r.ImageHeight
	if rowLen == 0 {
		rowLen = r.Extent.Width
	}
	if imgHeight == 0 {
		imgHeight = r.Extent.Height
	}
	w, h, d := img.extent(r.Level)
	if uint32(r.Offset.X)+r.Extent.Width > w || uint32(r.Offset.Y)+r.Extent.Height > h ||
		uint32(r.Offset.Z)+r.Extent.Depth > d || r.Layer >= img.desc.Layers {
		return false
	}
	n := int(r.Extent.Width) * img.bpp
	for z := uint32(0); z < r.Extent.Depth; z++ {
		for y := uint32(0); y < r.Extent.Height; y++ {
			bufOff := int(r.BufferOffset) + int((z*imgHeight+y)*rowLen)*img.bpp
			imgOff := img.texel(r.Level, r.Layer, r.Offset.X, r.Offset.Y+int32(y), r.Offset.Z+int32(z))
			fn(imgOff, bufOff, n)
		}
	}
	return true
}

func (c *CommandBuffer) CopyBufferToImage(src driver.Buffer, dst driver.Image, layout vk.ImageLayout, regions []driver.BufferImageCopy) {
	s, d := src.(*Buffer), dst.(*Image)
	regs := append([]driver.BufferImageCopy(nil), regions...)
	c.record("CopyBufferToImage", func(st *execState) {
		checkLayout(st, "CopyBufferToImage", d, layout)
		for _, r := range regs {
			ok := rows(d, r, func(imgOff, bufOff, n int) {
				if bufOff+n <= len(s.data) {
					copy(d.levels[r.Level][imgOff:imgOff+n], s.data[bufOff:bufOff+n])
				}
			})
			if !ok {
				st.gpu.validationError("CopyBufferToImage region out of range")
			}
		}
	})
}

func (c *CommandBuffer) CopyImageToBuffer(src driver.Image, layout vk.ImageLayout, dst driver.Buffer, regions []driver.BufferImageCopy) {
	s, d := src.(*Image), dst.(*Buffer)
	regs := append([]driver.BufferImageCopy(nil), regions...)
	c.record("CopyImageToBuffer", func(st *execState) {
		checkLayout(st, "CopyImageToBuffer", s, layout)
		for _, r := range regs {
			ok := rows(s, r, func(imgOff, bufOff, n int) {
				if bufOff+n <= len(d.data) {
					copy(d.data[bufOff:bufOff+n], s.levels[r.Level][imgOff:imgOff+n])
				}
			})
			if !ok {
				st.gpu.validationError("CopyImageToBuffer region out of range")
			}
		}
	})
}

func (c *CommandBuffer) CopyImage(src driver.Image, srcLayout vk.ImageLayout, dst driver.Image, dstLayout vk.ImageLayout, regions []driver.ImageCopy) {
	s, d := src.(*Image), dst.(*Image)
	regs := append([]driver.ImageCopy(nil), regions...)
	c.record("CopyImage", func(st *execState) {
		checkLayout(st, "CopyImage", s, srcLayout)
		checkLayout(st, "CopyImage", d, dstLayout)
		if s.bpp != d.bpp {
			st.gpu.validationError("CopyImage between incompatible formats")
			return
		}
		for _, r := range regs {
			n := int(r.Extent.Width) * s.bpp
			for z := uint32(0); z < r.Extent.Depth; z++ {
				for y := uint32(0); y < r.Extent.Height; y++ {
					so := s.texel(r.SrcLevel, r.SrcLayer, r.SrcOffset.X, r.SrcOffset.Y+int32(y), r.SrcOffset.Z+int32(z))
					do := d.texel(r.DstLevel, r.DstLayer, r.DstOffset.X, r.DstOffset.Y+int32(y), r.DstOffset.Z+int32(z))
					if so+n > len(s.levels[r.SrcLevel]) || do+n > len(d.levels[r.DstLevel]) {
						st.gpu.validationError("CopyImage region out of range")
						return
					}
					copy(d.levels[r.DstLevel][do:do+n], s.levels[r.SrcLevel][so:so+n])
				}
			}
		}
	})
}

// byteChannels reports formats whose channels are one normalized byte each,
// the ones a linear blit averages.
func byteChannels(f vk.Format) bool {
	switch f {
	case vk.FormatR8Unorm, vk.FormatR8g8Unorm, vk.FormatR8g8b8a8Unorm, vk.FormatR8g8b8a8Srgb,
		vk.FormatB8g8r8a8Unorm, vk.FormatB8g8r8a8Srgb:
		return true
	}
	return false
}

// span maps destination texel i of a dst-wide box onto the source range it
// covers in a src-wide box.
func span(i, dst, src int32) (int32, int32) {
	lo := i * src / dst
	hi := (i + 1) * src / dst
	if hi <= lo {
		hi = lo + 1
	}
	return lo, hi
}

func boxInside(img *Image, level, layer uint32, box [2]driver.Offset3D) bool {
	w, h, d := img.extent(level)
	return level < img.desc.Levels && layer < img.desc.Layers &&
		box[0].X >= 0 && box[0].Y >= 0 && box[0].Z >= 0 &&
		box[1].X > box[0].X && box[1].Y > box[0].Y && box[1].Z > box[0].Z &&
		uint32(box[1].X) <= w && uint32(box[1].Y) <= h && uint32(box[1].Z) <= d
}

func (c *CommandBuffer) BlitImage(src driver.Image, srcLayout vk.ImageLayout, dst driver.Image, dstLayout vk.ImageLayout, regions []driver.ImageBlit, filter vk.Filter) {
	s, d := src.(*Image), dst.(*Image)
	regs := append([]driver.ImageBlit(nil), regions...)
	c.record("BlitImage", func(st *execState) {
		checkLayout(st, "BlitImage", s, srcLayout)
		checkLayout(st, "BlitImage", d, dstLayout)
		if s.bpp != d.bpp {
			st.gpu.validationError("BlitImage between incompatible formats")
			return
		}
		average := filter == vk.FilterLinear && byteChannels(s.desc.Format)
		sum := make([]int, s.bpp)
		for _, r := range regs {
			if !boxInside(s, r.SrcLevel, r.SrcLayer, r.SrcOffsets) || !boxInside(d, r.DstLevel, r.DstLayer, r.DstOffsets) {
				st.gpu.validationError("BlitImage region out of range")
				return
			}
			so, do := r.SrcOffsets, r.DstOffsets
			sw, sh, sd := so[1].X-so[0].X, so[1].Y-so[0].Y, so[1].Z-so[0].Z
			dw, dh, dd := do[1].X-do[0].X, do[1].Y-do[0].Y, do[1].Z-do[0].Z
			for z := int32(0); z < dd; z++ {
				z0, z1 := span(z, dd, sd)
				for y := int32(0); y < dh; y++ {
					y0, y1 := span(y, dh, sh)
					for x := int32(0); x < dw; x++ {
						x0, x1 := span(x, dw, sw)
						out := d.levels[r.DstLevel][d.texel(r.DstLevel, r.DstLayer, do[0].X+x, do[0].Y+y, do[0].Z+z):]
						if !average {
							in := s.texel(r.SrcLevel, r.SrcLayer, so[0].X+x0, so[0].Y+y0, so[0].Z+z0)
							copy(out[:s.bpp], s.levels[r.SrcLevel][in:in+s.bpp])
							continue
						}
						for i := range sum {
							sum[i] = 0
						}
						n := 0
						for sz := z0; sz < z1; sz++ {
							for sy := y0; sy < y1; sy++ {
								for sx := x0; sx < x1; sx++ {
									in := s.texel(r.SrcLevel, r.SrcLayer, so[0].X+sx, so[0].Y+sy, so[0].Z+sz)
									for i := range sum {
										sum[i] += int(s.levels[r.SrcLevel][in+i])
									}
									n++
								}
							}
						}
						for i := range sum {
							out[i] = byte((sum[i] + n/2) / n)
						}
					}
				}
			}
		}
	})
}

func (c *CommandBuffer) FillBuffer(dst driver.Buffer, offset, size int64, data uint32) {
	d := dst.(*Buffer)
	c.record("FillBuffer", func(st *execState) {
		if offset%4 != 0 || size%4 != 0 || offset+size > int64(len(d.data)) {
			st.gpu.validationError("FillBuffer range [%d, %d) invalid", offset, offset+size)
			return
		}
		for i := offset; i < offset+size; i += 4 {
			binary.LittleEndian.PutUint32(d.data[i:], data)
		}
	})
}

func (c *CommandBuffer) BindPipeline(bp vk.PipelineBindPoint, p driver.Pipeline) {
	pl := p.(*Pipeline)
	c.record("BindPipeline", func(st *execState) {
		if bp == vk.PipelineBindPointCompute {
			st.compute = pl
		} else {
			st.graphics = pl
		}
	})
}

func (c *CommandBuffer) BindDescriptorSets(bp vk.PipelineBindPoint, layout driver.PipelineLayout, first uint32, sets []driver.DescriptorSet) {
	ss := make([]*DescriptorSet, len(sets))
	for i, s := range sets {
		ss[i] = s.(*DescriptorSet)
	}
	c.record("BindDescriptorSets", func(st *execState) {
		if bp != vk.PipelineBindPointCompute {
			return
		}
		if st.computeSets == nil {
			st.computeSets = map[uint32]*DescriptorSet{}
		}
		for i, s := range ss {
			if s.freed {
				st.gpu.validationError("descriptor set used after free")
			}
			st.computeSets[first+uint32(i)] = s
		}
	})
}

func (c *CommandBuffer) PushConstants(layout driver.PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte) {
	d := append([]byte(nil), data...)
	c.record("PushConstants", func(st *execState) {
		if int(offset)+len(d) > len(st.push) {
			st.gpu.validationError("push constants out of range")
			return
		}
		copy(st.push[offset:], d)
	})
}

func (c *CommandBuffer) Dispatch(x, y, z uint32) {
	c.record("Dispatch", func(st *execState) {
		if st.compute == nil {
			st.gpu.validationError("Dispatch without a compute pipeline")
			return
		}
		fn, ok := st.gpu.kernel(st.compute.entry)
		if !ok {
			st.gpu.validationError("no kernel registered for entry point %q", st.compute.entry)
			return
		}
		ctx := &KernelContext{
			Groups:    [3]uint32{x, y, z},
			LocalSize: st.compute.local,
			Push:      append([]byte(nil), st.push[:]...),
			sets:      st.computeSets,
		}
		fn(ctx)
	})
}

func (c *CommandBuffer) BeginRenderPass(pass driver.RenderPass, fb driver.Framebuffer, area driver.Rect, clears []driver.ClearValue) {
	rp, f := pass.(*RenderPass), fb.(*Framebuffer)
	cv := append([]driver.ClearValue(nil), clears...)
	c.record("BeginRenderPass", func(st *execState) {
		if st.pass != nil {
			st.gpu.validationError("BeginRenderPass inside a render pass")
		}
		st.pass = f
		for i, img := range f.attachments {
			var desc driver.AttachmentDesc
			if i < len(rp.colors) {
				desc = rp.colors[i]
			} else {
				desc = *rp.depth
			}
			if desc.Initial != vk.ImageLayoutUndefined && img.Layout() != desc.Initial {
				st.gpu.validationError("attachment %d in layout %d, pass expects %d", i, img.Layout(), desc.Initial)
			}
			if desc.Load != vk.AttachmentLoadOpClear || i >= len(cv) {
				continue
			}
			var texel []byte
			if isDepthFormat(img.desc.Format) {
				texel = encodeDepth(img.desc.Format, cv[i])
			} else {
				texel = encodeColor(img.desc.Format, cv[i].Color)
			}
			clearRect(img, area, texel)
		}
	})
}

func clearRect(img *Image, area driver.Rect, texel []byte) {
	w, h, _ := img.extent(0)
	for y := uint32(0); y < area.Height && uint32(area.Y)+y < h; y++ {
		for x := uint32(0); x < area.Width && uint32(area.X)+x < w; x++ {
			off := img.texel(0, 0, area.X+int32(x), area.Y+int32(y), 0)
			copy(img.levels[0][off:off+img.bpp], texel)
		}
	}
}

func (c *CommandBuffer) EndRenderPass() {
	c.record("EndRenderPass", func(st *execState) {
		if st.pass == nil {
			st.gpu.validationError("EndRenderPass outside a render pass")
			return
		}
		rp := st.pass.pass
		for i, img := range st.pass.attachments {
			if i < len(rp.colors) {
				img.setLayout(rp.colors[i].Final)
			} else {
				img.setLayout(rp.depth.Final)
			}
		}
		st.pass = nil
	})
}

func (c *CommandBuffer) inPass(name string) func(st *execState) {
	return func(st *execState) {
		if st.pass == nil {
			st.gpu.validationError("%s outside a render pass", name)
		}
	}
}

func (c *CommandBuffer) BindVertexBuffers(first uint32, bufs []driver.Buffer, offsets []int64) {
	c.record("BindVertexBuffers", func(*execState) {})
}

func (c *CommandBuffer) BindIndexBuffer(buf driver.Buffer, offset int64, typ vk.IndexType) {
	c.record("BindIndexBuffer", func(*execState) {})
}

func (c *CommandBuffer) SetViewports(vps []driver.Viewport) {
	c.record("SetViewports", func(*execState) {})
}

func (c *CommandBuffer) SetScissors(rects []driver.Rect) {
	c.record("SetScissors", func(*execState) {})
}

func (c *CommandBuffer) SetBlendConstants(v [4]float32) {
	c.record("SetBlendConstants", func(*execState) {})
}

func (c *CommandBuffer) SetStencilReference(front, back uint32) {
	c.record("SetStencilReference", func(*execState) {})
}

func (c *CommandBuffer) SetDepthBias(constant, clamp, slope float32) {
	c.record("SetDepthBias", func(*execState) {})
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	check := c.inPass("Draw")
	c.record("Draw", func(st *execState) {
		check(st)
		if st.graphics == nil {
			st.gpu.validationError("Draw without a graphics pipeline")
		}
		st.gpu.stats.Lock()
		st.gpu.stats.draws++
		st.gpu.stats.Unlock()
	})
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	check := c.inPass("DrawIndexed")
	c.record("DrawIndexed", func(st *execState) {
		check(st)
		if st.graphics == nil {
			st.gpu.validationError("DrawIndexed without a graphics pipeline")
		}
		st.gpu.stats.Lock()
		st.gpu.stats.draws++
		st.gpu.stats.Unlock()
	})
}

func (c *CommandBuffer) SetEvent(ev driver.Event, stage vk.PipelineStageFlags) {
	e := ev.(*Event)
	c.record("SetEvent", func(st *execState) {
		if e.destroyed.Load() {
			st.gpu.validationError("SetEvent on a destroyed event")
			return
		}
		e.set.Store(true)
	})
}

// WaitEvents requires the events to be set already; the soft queue never
// stalls on host signals.
func (c *CommandBuffer) WaitEvents(evs []driver.Event, src, dst vk.PipelineStageFlags) {
	es := make([]*Event, len(evs))
	for i, e := range evs {
		es[i] = e.(*Event)
	}
	c.record("WaitEvents", func(st *execState) {
		for _, e := range es {
			if !e.set.Load() {
				st.gpu.validationError("WaitEvents on an unsignaled event")
			}
		}
	})
}

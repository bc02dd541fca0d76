package metal

import (
	"sort"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

// CommandEncoder is the behavior shared by blit, compute and render
// encoders. Only one encoder can be open on a command buffer.
type CommandEncoder interface {
	Device() *Device
	CommandBuffer() *CommandBuffer
	Label() string
	SetLabel(label string)
	EndEncoding()
	PushDebugGroup(name string)
	PopDebugGroup()
	InsertDebugSignpost(name string)
}

type commandEncoder struct {
	cb     *CommandBuffer
	native driver.CommandBuffer
	label  string
	groups []string
	ended  bool
}

func newCommandEncoder(cb *CommandBuffer, kind string) commandEncoder {
	return commandEncoder{cb: cb, native: cb.native, label: core.DefaultLabel(kind)}
}

func (e *commandEncoder) Device() *Device               { return e.cb.Device() }
func (e *commandEncoder) CommandBuffer() *CommandBuffer { return e.cb }
func (e *commandEncoder) Label() string                 { return e.label }
func (e *commandEncoder) SetLabel(label string)         { e.label = label }

func (e *commandEncoder) PushDebugGroup(name string) {
	e.groups = append(e.groups, name)
	core.LogDebug("%s: push debug group %q", e.label, name)
}

func (e *commandEncoder) PopDebugGroup() {
	if len(e.groups) == 0 {
		core.LogWarn("%s: PopDebugGroup without a matching push", e.label)
		return
	}
	core.LogDebug("%s: pop debug group %q", e.label, e.groups[len(e.groups)-1])
	e.groups = e.groups[:len(e.groups)-1]
}

func (e *commandEncoder) InsertDebugSignpost(name string) {
	core.LogDebug("%s: signpost %q", e.label, name)
}

func (e *commandEncoder) checkOpen() {
	core.Precondition(!e.ended, "encoder %s used after EndEncoding", e.label)
}

// finish closes the encoder on its command buffer.
func (e *commandEncoder) finish(self CommandEncoder) {
	e.checkOpen()
	if len(e.groups) > 0 {
		core.LogWarn("%s: %d debug groups still open at EndEncoding", e.label, len(e.groups))
	}
	e.ended = true
	e.cb.endEncoder(self)
}

func (e *commandEncoder) memoryBarrier(src, dst vk.PipelineStageFlags, srcAccess, dstAccess vk.AccessFlags) {
	e.native.PipelineBarrier(src, dst, []driver.MemoryBarrier{{SrcAccess: srcAccess, DstAccess: dstAccess}}, nil)
}

type boundBuffer struct {
	buffer *Buffer
	offset int
}

// argumentTable is what the caller bound for one shader stage, by flat
// argument index. It is translated into native bindings when work is
// recorded, against the function active at that point.
type argumentTable struct {
	buffers  map[int]boundBuffer
	bytes    map[int][]byte
	textures map[int]*Texture
	samplers map[int]*SamplerState
	dirty    bool
}

func newArgumentTable() argumentTable {
	return argumentTable{
		buffers:  map[int]boundBuffer{},
		bytes:    map[int][]byte{},
		textures: map[int]*Texture{},
		samplers: map[int]*SamplerState{},
	}
}

func (t *argumentTable) setBuffer(buf *Buffer, offset, index int) {
	delete(t.bytes, index)
	if buf == nil {
		delete(t.buffers, index)
	} else {
		t.buffers[index] = boundBuffer{buffer: buf, offset: offset}
	}
	t.dirty = true
}

func (t *argumentTable) setBufferOffset(offset, index int) {
	b, ok := t.buffers[index]
	core.Precondition(ok, "no buffer bound at index %d", index)
	b.offset = offset
	t.buffers[index] = b
	t.dirty = true
}

func (t *argumentTable) setBytes(data []byte, index int) {
	delete(t.buffers, index)
	t.bytes[index] = append([]byte(nil), data...)
	t.dirty = true
}

func (t *argumentTable) setTexture(tex *Texture, index int) {
	if tex == nil {
		delete(t.textures, index)
	} else {
		t.textures[index] = tex
	}
	t.dirty = true
}

func (t *argumentTable) setSampler(s *SamplerState, index int) {
	if s == nil {
		delete(t.samplers, index)
	} else {
		t.samplers[index] = s
	}
	t.dirty = true
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// imageLayout is the layout a texture argument must be in when fn runs.
func imageLayout(a metadata.Argument, fn *Function) vk.ImageLayout {
	if descriptorType(a, fn.FunctionType()) == vk.DescriptorTypeStorageImage {
		return vk.ImageLayoutGeneral
	}
	return vk.ImageLayoutShaderReadOnlyOptimal
}

type textureTransition struct {
	texture *Texture
	layout  vk.ImageLayout
}

// textureTransitions lists, in index order, the textures of the table that
// are not yet in the layout fn reads them in.
func (t *argumentTable) textureTransitions(fn *Function) []textureTransition {
	var out []textureTransition
	for _, idx := range sortedKeys(t.textures) {
		slot, err := fn.translator.Translate(idx, metadata.ArgumentClassTexture)
		core.Precondition(err == nil, "%s: %w", fn.Name(), err)
		want := imageLayout(metadata.Argument{Class: slot.Class, Kind: slot.Kind}, fn)
		if tex := t.textures[idx]; tex.Layout() != want {
			out = append(out, textureTransition{texture: tex, layout: want})
		}
	}
	return out
}

// write translates every binding of the table for fn into set and push.
// Constants land in push at their absolute offsets; bytes bound at a
// buffer argument are copied into a transient buffer. Buffer indices fed
// by vertex are skipped.
func (t *argumentTable) write(cb *CommandBuffer, fn *Function, set driver.DescriptorSet, push []byte, vertex *metadata.VertexDescriptor) {
	stage := fn.FunctionType()
	for _, idx := range sortedKeys(t.buffers) {
		if vertex.IsVertexBuffer(idx) {
			continue
		}
		slot, err := fn.translator.Translate(idx, metadata.ArgumentClassBuffer)
		core.Precondition(err == nil, "%s: %w", fn.Name(), err)
		b := t.buffers[idx]
		core.Precondition(b.offset >= 0 && b.offset < b.buffer.Length(), "buffer offset %d out of range for index %d", b.offset, idx)
		typ := descriptorType(metadata.Argument{Class: slot.Class, Kind: slot.Kind}, stage)
		set.WriteBuffer(slot.Binding, typ, b.buffer.native, int64(b.offset), int64(b.buffer.Length()-b.offset))
		cb.addTrackedResource(b.buffer)
	}
	for _, idx := range sortedKeys(t.bytes) {
		if vertex.IsVertexBuffer(idx) {
			continue
		}
		data := t.bytes[idx]
		if slot, err := fn.translator.Translate(idx, metadata.ArgumentClassConstant); err == nil {
			core.Precondition(slot.Size == 0 || uint32(len(data)) <= slot.Size,
				"%s: %d bytes bound at constant %d, which holds %d", fn.Name(), len(data), idx, slot.Size)
			core.Precondition(int(slot.Offset)+len(data) <= len(push),
				"%s: constant %d at offset %d overruns the %d-byte push range", fn.Name(), idx, slot.Offset, len(push))
			copy(push[slot.Offset:], data)
			continue
		}
		slot, err := fn.translator.Translate(idx, metadata.ArgumentClassBuffer)
		core.Precondition(err == nil, "%s: %w", fn.Name(), err)
		tmp, err := cb.Device().MakeBufferWithBytes(data, metadata.ResourceOptions{})
		if err != nil {
			core.Fatalf("%s: staging %d inline bytes: %w", fn.Name(), len(data), err)
		}
		cb.addTransient(tmp.native)
		typ := descriptorType(metadata.Argument{Class: slot.Class, Kind: slot.Kind}, stage)
		set.WriteBuffer(slot.Binding, typ, tmp.native, 0, int64(len(data)))
	}
	for _, idx := range sortedKeys(t.textures) {
		slot, err := fn.translator.Translate(idx, metadata.ArgumentClassTexture)
		core.Precondition(err == nil, "%s: %w", fn.Name(), err)
		tex := t.textures[idx]
		a := metadata.Argument{Class: slot.Class, Kind: slot.Kind}
		set.WriteImage(slot.Binding, descriptorType(a, stage), tex.native, imageLayout(a, fn))
		cb.addTrackedResource(tex)
	}
	for _, idx := range sortedKeys(t.samplers) {
		slot, err := fn.translator.Translate(idx, metadata.ArgumentClassSampler)
		core.Precondition(err == nil, "%s: %w", fn.Name(), err)
		set.WriteSampler(slot.Binding, t.samplers[idx].native)
	}
	t.dirty = false
}

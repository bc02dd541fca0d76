package metal

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

const MaxColorAttachments = 8

type attachmentKey struct {
	format  vk.Format
	samples uint32
	load    vk.AttachmentLoadOp
	store   vk.AttachmentStoreOp
}

// renderPassKey identifies a native render pass. Two keys that differ only
// in load and store operations describe compatible passes.
type renderPassKey struct {
	colors     [MaxColorAttachments]attachmentKey
	colorCount int
	depth      attachmentKey
	hasDepth   bool
}

func (k renderPassKey) compatible() renderPassKey {
	for i := range k.colors {
		k.colors[i].load, k.colors[i].store = 0, 0
	}
	k.depth.load, k.depth.store = 0, 0
	return k
}

// resumed is the pass that continues an interrupted one: nothing is
// cleared a second time.
func (k renderPassKey) resumed() renderPassKey {
	for i := 0; i < k.colorCount; i++ {
		k.colors[i].load = vk.AttachmentLoadOpLoad
	}
	if k.hasDepth {
		k.depth.load = vk.AttachmentLoadOpLoad
	}
	return k
}

func (k renderPassKey) desc() driver.RenderPassDesc {
	var d driver.RenderPassDesc
	for i := 0; i < k.colorCount; i++ {
		c := k.colors[i]
		d.Colors = append(d.Colors, driver.AttachmentDesc{
			Format:  c.format,
			Samples: c.samples,
			Load:    c.load,
			Store:   c.store,
			Initial: vk.ImageLayoutColorAttachmentOptimal,
			Final:   vk.ImageLayoutColorAttachmentOptimal,
		})
	}
	if k.hasDepth {
		d.Depth = &driver.AttachmentDesc{
			Format:  k.depth.format,
			Samples: k.depth.samples,
			Load:    k.depth.load,
			Store:   k.depth.store,
			Initial: vk.ImageLayoutDepthStencilAttachmentOptimal,
			Final:   vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}
	return d
}

// renderPass returns the device's native pass for key, creating it once.
func (d *Device) renderPass(key renderPassKey) (driver.RenderPass, error) {
	return d.renderPasses.get(key, func() (driver.RenderPass, error) {
		return d.gpu.NewRenderPass(key.desc())
	})
}

type RenderPipelineColorAttachmentDescriptor struct {
	PixelFormat                 metadata.PixelFormat
	BlendingEnabled             bool
	SourceRGBBlendFactor        metadata.BlendFactor
	DestinationRGBBlendFactor   metadata.BlendFactor
	RGBBlendOperation           metadata.BlendOperation
	SourceAlphaBlendFactor      metadata.BlendFactor
	DestinationAlphaBlendFactor metadata.BlendFactor
	AlphaBlendOperation         metadata.BlendOperation
	// WriteMask is taken as given: zero writes nothing.
	WriteMask metadata.ColorWriteMask
}

type RenderPipelineDescriptor struct {
	Label            string
	VertexFunction   *Function
	FragmentFunction *Function
	VertexDescriptor *metadata.VertexDescriptor
	ColorAttachments [MaxColorAttachments]RenderPipelineColorAttachmentDescriptor

	DepthAttachmentPixelFormat   metadata.PixelFormat
	StencilAttachmentPixelFormat metadata.PixelFormat
	SampleCount                  int
}

// NewRenderPipelineDescriptor returns a descriptor whose color attachments
// write every channel without blending.
func NewRenderPipelineDescriptor() *RenderPipelineDescriptor {
	d := &RenderPipelineDescriptor{SampleCount: 1}
	for i := range d.ColorAttachments {
		d.ColorAttachments[i] = RenderPipelineColorAttachmentDescriptor{
			SourceRGBBlendFactor:        metadata.BlendFactorOne,
			DestinationRGBBlendFactor:   metadata.BlendFactorZero,
			SourceAlphaBlendFactor:      metadata.BlendFactorOne,
			DestinationAlphaBlendFactor: metadata.BlendFactorZero,
			WriteMask:                   metadata.ColorWriteMaskAll,
		}
	}
	return d
}

// renderKey is the rasterization state a native graphics pipeline bakes
// in. The encoder treats all of it as mutable per draw.
type renderKey struct {
	primitive    metadata.PrimitiveType
	cull         metadata.CullMode
	winding      metadata.Winding
	fill         metadata.TriangleFillMode
	depthClip    metadata.DepthClipMode
	depthStencil *DepthStencilState
	pass         renderPassKey
}

// pushBlock is one push-constant range and the stages that write into it.
type pushBlock struct {
	driver.PushConstantRange
	vertex, fragment bool
}

/**
 * @brief A vertex/fragment pair with its vertex fetch, blending and
 * pipeline layout. Native pipelines are specialized per rasterization
 * state and render pass.
 */
type RenderPipelineState struct {
	device     *Device
	label      string
	vertex     *Function
	fragment   *Function
	vertexDesc *metadata.VertexDescriptor
	samples    uint32

	setLayouts [2]driver.DescriptorSetLayout
	layout     driver.PipelineLayout
	push       []pushBlock
	pushSize   uint32

	bindings   []driver.VertexBinding
	attributes []driver.VertexAttribute
	blend      []driver.ColorBlend

	pipelines *specializationCache[renderKey, driver.Pipeline]
}

func (d *Device) MakeRenderPipelineState(desc *RenderPipelineDescriptor) (*RenderPipelineState, error) {
	if desc == nil || desc.VertexFunction == nil {
		return nil, fmt.Errorf("%w: no vertex function", core.ErrRenderPipelineStateFailed)
	}
	if desc.VertexFunction.FunctionType() != metadata.FunctionTypeVertex {
		return nil, fmt.Errorf("%w: %s is a %s function", core.ErrRenderPipelineStateFailed, desc.VertexFunction.Name(), desc.VertexFunction.FunctionType())
	}
	if f := desc.FragmentFunction; f != nil && f.FunctionType() != metadata.FunctionTypeFragment {
		return nil, fmt.Errorf("%w: %s is a %s function", core.ErrRenderPipelineStateFailed, f.Name(), f.FunctionType())
	}
	if desc.DepthAttachmentPixelFormat != metadata.PixelFormatInvalid && desc.StencilAttachmentPixelFormat != metadata.PixelFormatInvalid &&
		desc.DepthAttachmentPixelFormat != desc.StencilAttachmentPixelFormat {
		return nil, fmt.Errorf("%w: depth format %s and stencil format %s differ", core.ErrRenderPipelineStateFailed,
			desc.DepthAttachmentPixelFormat, desc.StencilAttachmentPixelFormat)
	}
	label := desc.Label
	if label == "" {
		label = core.DefaultLabel("RenderPipelineState")
	}
	ps := &RenderPipelineState{
		device:     d,
		label:      label,
		vertex:     desc.VertexFunction,
		fragment:   desc.FragmentFunction,
		vertexDesc: desc.VertexDescriptor,
		samples:    uint32(metadata.Max(desc.SampleCount, 1)),
		pipelines:  newSpecializationCache[renderKey, driver.Pipeline](label),
	}
	ps.vertexInput()
	for i := range desc.ColorAttachments {
		ca := desc.ColorAttachments[i]
		if ca.PixelFormat == metadata.PixelFormatInvalid {
			break
		}
		ps.blend = append(ps.blend, driver.ColorBlend{
			Enable:    ca.BlendingEnabled,
			SrcColor:  blendFactor(ca.SourceRGBBlendFactor),
			DstColor:  blendFactor(ca.DestinationRGBBlendFactor),
			ColorOp:   blendOp(ca.RGBBlendOperation),
			SrcAlpha:  blendFactor(ca.SourceAlphaBlendFactor),
			DstAlpha:  blendFactor(ca.DestinationAlphaBlendFactor),
			AlphaOp:   blendOp(ca.AlphaBlendOperation),
			WriteMask: colorWriteMask(ca.WriteMask),
		})
	}

	if err := ps.buildLayout(); err != nil {
		ps.Release()
		return nil, fmt.Errorf("%w: %s: %w", core.ErrRenderPipelineStateFailed, label, err)
	}
	core.LogDebug("render pipeline state %s created for %s", label, ps.functionNames())
	return ps, nil
}

func (ps *RenderPipelineState) functionNames() string {
	if ps.fragment == nil {
		return ps.vertex.Name()
	}
	return ps.vertex.Name() + "/" + ps.fragment.Name()
}

func (ps *RenderPipelineState) vertexInput() {
	vd := ps.vertexDesc
	for _, idx := range vd.BufferIndices() {
		l := vd.Layouts[idx]
		stride := l.Stride
		if stride == 0 {
			for _, a := range vd.Attributes {
				if a.BufferIndex == idx {
					stride = metadata.Max(stride, a.Offset+a.Format.Size())
				}
			}
		}
		ps.bindings = append(ps.bindings, driver.VertexBinding{
			Binding:   uint32(idx),
			Stride:    stride,
			InputRate: vertexInputRate(l.StepFunction),
		})
	}
	if vd == nil {
		return
	}
	for loc, a := range vd.Attributes {
		ps.attributes = append(ps.attributes, driver.VertexAttribute{
			Location: uint32(loc),
			Binding:  uint32(a.BufferIndex),
			Format:   vertexFormat(a.Format),
			Offset:   a.Offset,
		})
	}
}

// buildLayout creates set 0 for the vertex stage and set 1 for the fragment
// stage. Push ranges of the two stages that overlap are merged into one
// block both stages write.
func (ps *RenderPipelineState) buildLayout() error {
	var err error
	if ps.setLayouts[0], err = ps.device.gpu.NewDescriptorSetLayout(ps.vertex.descriptorBindings()); err != nil {
		return err
	}
	var fragBindings []driver.DescriptorBinding
	if ps.fragment != nil {
		fragBindings = ps.fragment.descriptorBindings()
	}
	if ps.setLayouts[1], err = ps.device.gpu.NewDescriptorSetLayout(fragBindings); err != nil {
		return err
	}

	if r, ok := ps.vertex.pushRange(); ok {
		ps.push = append(ps.push, pushBlock{PushConstantRange: r, vertex: true})
	}
	if ps.fragment != nil {
		if r, ok := ps.fragment.pushRange(); ok {
			if len(ps.push) == 1 && overlaps(ps.push[0].PushConstantRange, r) {
				b := &ps.push[0]
				end := metadata.Max(b.Offset+b.Size, r.Offset+r.Size)
				b.Offset = min(b.Offset, r.Offset)
				b.Size = end - b.Offset
				b.Stages |= r.Stages
				b.fragment = true
			} else {
				ps.push = append(ps.push, pushBlock{PushConstantRange: r, fragment: true})
			}
		}
	}
	ranges := make([]driver.PushConstantRange, 0, len(ps.push))
	for _, b := range ps.push {
		ranges = append(ranges, b.PushConstantRange)
		ps.pushSize = metadata.Max(ps.pushSize, b.Offset+b.Size)
	}
	ps.layout, err = ps.device.gpu.NewPipelineLayout(ps.setLayouts[:], ranges)
	return err
}

func overlaps(a, b driver.PushConstantRange) bool {
	return a.Offset < b.Offset+b.Size && b.Offset < a.Offset+a.Size
}

func (ps *RenderPipelineState) Device() *Device { return ps.device }
func (ps *RenderPipelineState) Label() string   { return ps.label }

func (ps *RenderPipelineState) VertexFunction() *Function   { return ps.vertex }
func (ps *RenderPipelineState) FragmentFunction() *Function { return ps.fragment }

// pipeline returns the native pipeline for key, building it on first use.
func (ps *RenderPipelineState) pipeline(key renderKey) (driver.Pipeline, error) {
	key.pass = key.pass.compatible()
	return ps.pipelines.get(key, func() (driver.Pipeline, error) {
		pass, err := ps.device.renderPass(key.pass)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: render pass: %w", core.ErrRenderPipelineStateFailed, ps.label, err)
		}
		core.Precondition(len(ps.blend) == key.pass.colorCount,
			"%s: pipeline has %d color attachments, render pass %d", ps.label, len(ps.blend), key.pass.colorCount)

		stages := make([]driver.ShaderStage, 0, 2)
		for _, fn := range []*Function{ps.vertex, ps.fragment} {
			if fn == nil {
				continue
			}
			st, err := fn.stage()
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", core.ErrRenderPipelineStateFailed, fn.Name(), err)
			}
			stages = append(stages, st)
		}
		desc := driver.GraphicsPipelineDesc{
			Layout:           ps.layout,
			Pass:             pass,
			Stages:           stages,
			VertexBindings:   ps.bindings,
			VertexAttributes: ps.attributes,
			Topology:         topology(key.primitive),
			CullMode:         cullMode(key.cull),
			FrontFace:        frontFace(key.winding),
			PolygonMode:      polygonMode(key.fill),
			DepthClamp:       key.depthClip == metadata.DepthClipModeClamp,
			Samples:          ps.samples,
			ColorBlend:       ps.blend,
		}
		key.depthStencil.apply(&desc)
		p, err := ps.device.gpu.NewGraphicsPipeline(desc)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", core.ErrRenderPipelineStateFailed, ps.label, err)
		}
		return p, nil
	})
}

func (ps *RenderPipelineState) Release() {
	ps.pipelines.drain(func(p driver.Pipeline) { p.Destroy() })
	if ps.layout != nil {
		ps.layout.Destroy()
	}
	for _, l := range ps.setLayouts {
		if l != nil {
			l.Destroy()
		}
	}
}

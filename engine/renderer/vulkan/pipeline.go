package vulkan

import (
	"fmt"
	"runtime"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

type PipelineLayout struct {
	gpu    *GPU
	handle vk.PipelineLayout
}

func (g *GPU) NewPipelineLayout(sets []driver.DescriptorSetLayout, push []driver.PushConstantRange) (driver.PipelineLayout, error) {
	setLayouts := make([]vk.DescriptorSetLayout, len(sets))
	for i, s := range sets {
		setLayouts[i] = s.(*DescriptorSetLayout).handle
	}
	ranges := make([]vk.PushConstantRange, len(push))
	for i, r := range push {
		ranges[i] = vk.PushConstantRange{StageFlags: r.Stages, Offset: r.Offset, Size: r.Size}
	}

	// Pipeline layout
	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(setLayouts)),
		PSetLayouts:            setLayouts,
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}
	l := &PipelineLayout{gpu: g}
	if res := vk.CreatePipelineLayout(g.device, &pipelineLayoutCreateInfo, nil, &l.handle); res != vk.Success {
		return nil, resultError("vkCreatePipelineLayout", res)
	}
	return l, nil
}

func (l *PipelineLayout) Destroy() {
	if l.handle != nil {
		vk.DestroyPipelineLayout(l.gpu.device, l.handle, nil)
		l.handle = nil
	}
}

/**
 * @brief Holds a Vulkan pipeline and the bind point it was built for.
 */
type Pipeline struct {
	gpu *GPU
	/** @brief The internal pipeline handle. */
	handle    vk.Pipeline
	bindPoint vk.PipelineBindPoint
}

func (p *Pipeline) Destroy() {
	if p.handle != nil {
		vk.DestroyPipeline(p.gpu.device, p.handle, nil)
		p.handle = nil
	}
}

func (g *GPU) NewComputePipeline(desc driver.ComputePipelineDesc) (driver.Pipeline, error) {
	stage, values := stageCreateInfo(desc.Stage)
	info := vk.ComputePipelineCreateInfo{
		SType:              vk.StructureTypeComputePipelineCreateInfo,
		Stage:              stage,
		Layout:             desc.Layout.(*PipelineLayout).handle,
		BasePipelineHandle: vk.NullPipeline,
		BasePipelineIndex:  -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateComputePipelines(g.device, vk.NullPipelineCache, 1, []vk.ComputePipelineCreateInfo{info}, nil, pipelines)
	runtime.KeepAlive(values)
	if res != vk.Success {
		return nil, resultError("vkCreateComputePipelines", res)
	}
	core.LogDebug("Compute pipeline '%s' created.", desc.Stage.Entry)
	return &Pipeline{gpu: g, handle: pipelines[0], bindPoint: vk.PipelineBindPointCompute}, nil
}

func (g *GPU) NewGraphicsPipeline(desc driver.GraphicsPipelineDesc) (driver.Pipeline, error) {
	if len(desc.Stages) == 0 {
		return nil, fmt.Errorf("graphics pipeline without stages: %w", driver.ErrUnsupportedDesc)
	}
	stages := make([]vk.PipelineShaderStageCreateInfo, len(desc.Stages))
	keep := make([][]uint32, len(desc.Stages))
	for i, s := range desc.Stages {
		stages[i], keep[i] = stageCreateInfo(s)
	}

	// Viewport and scissor are dynamic; only the counts matter here.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	// Rasterizer
	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vkBool(desc.DepthClamp),
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             desc.PolygonMode,
		LineWidth:               1.0,
		CullMode:                desc.CullMode,
		FrontFace:               desc.FrontFace,
		DepthBiasEnable:         vk.True,
	}

	samples := desc.Samples
	if samples == 0 {
		samples = 1
	}
	// Multisampling.
	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vk.SampleCountFlagBits(samples),
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	// Depth and stencil testing.
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:       vkBool(desc.DepthTest),
		DepthWriteEnable:      vkBool(desc.DepthWrite),
		DepthCompareOp:        desc.DepthCompare,
		DepthBoundsTestEnable: vk.False,
		StencilTestEnable:     vkBool(desc.StencilTest),
		Front:                 stencilOpState(desc.StencilFront),
		Back:                  stencilOpState(desc.StencilBack),
		MaxDepthBounds:        1.0,
	}

	attachments := make([]vk.PipelineColorBlendAttachmentState, len(desc.ColorBlend))
	for i, b := range desc.ColorBlend {
		attachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:         vkBool(b.Enable),
			SrcColorBlendFactor: b.SrcColor,
			DstColorBlendFactor: b.DstColor,
			ColorBlendOp:        b.ColorOp,
			SrcAlphaBlendFactor: b.SrcAlpha,
			DstAlphaBlendFactor: b.DstAlpha,
			AlphaBlendOp:        b.AlphaOp,
			ColorWriteMask:      b.WriteMask,
		}
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
	}

	// Dynamic state
	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
		vk.DynamicStateBlendConstants,
		vk.DynamicStateStencilReference,
		vk.DynamicStateDepthBias,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	// Vertex input
	bindings := make([]vk.VertexInputBindingDescription, len(desc.VertexBindings))
	for i, b := range desc.VertexBindings {
		bindings[i] = vk.VertexInputBindingDescription{Binding: b.Binding, Stride: b.Stride, InputRate: b.InputRate}
	}
	attributes := make([]vk.VertexInputAttributeDescription, len(desc.VertexAttributes))
	for i, a := range desc.VertexAttributes {
		attributes[i] = vk.VertexInputAttributeDescription{Location: a.Location, Binding: a.Binding, Format: a.Format, Offset: a.Offset}
	}
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	// Input assembly
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               desc.Topology,
		PrimitiveRestartEnable: vk.False,
	}

	// Pipeline create
	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              desc.Layout.(*PipelineLayout).handle,
		RenderPass:          desc.Pass.(*RenderPass).handle,
		Subpass:             desc.Subpass,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateGraphicsPipelines(g.device, vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{pipelineCreateInfo}, nil, pipelines)
	runtime.KeepAlive(keep)
	if res != vk.Success {
		return nil, resultError("vkCreateGraphicsPipelines", res)
	}

	core.LogDebug("Graphics pipeline created!")
	return &Pipeline{gpu: g, handle: pipelines[0], bindPoint: vk.PipelineBindPointGraphics}, nil
}

func stencilOpState(s driver.StencilState) vk.StencilOpState {
	return vk.StencilOpState{
		FailOp:      s.FailOp,
		PassOp:      s.PassOp,
		DepthFailOp: s.DepthFailOp,
		CompareOp:   s.CompareOp,
		CompareMask: s.CompareMask,
		WriteMask:   s.WriteMask,
	}
}

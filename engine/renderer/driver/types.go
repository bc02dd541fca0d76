package driver

import vk "github.com/goki/vulkan"

type DeviceType int

const (
	DeviceTypeOther DeviceType = iota
	DeviceTypeIntegrated
	DeviceTypeDiscrete
	DeviceTypeVirtual
	DeviceTypeCPU
)

type Properties struct {
	Name       string
	VendorID   uint32
	DeviceID   uint32
	DeviceType DeviceType
	Headless   bool
}

type Limits struct {
	MaxBufferLength                int64
	MaxImageDimension2D            uint32
	MaxComputeWorkGroupInvocations uint32
	MaxComputeWorkGroupSize        [3]uint32
	MaxComputeSharedMemorySize     uint32
	MaxPushConstantsSize           uint32
	MaxBoundDescriptorSets         uint32
	SubgroupSize                   uint32
	NonCoherentAtomSize            int64
}

type Offset3D struct {
	X, Y, Z int32
}

type Extent3D struct {
	Width, Height, Depth uint32
}

type Rect struct {
	X, Y          int32
	Width, Height uint32
}

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

type ImageDesc struct {
	Format  vk.Format
	Width   uint32
	Height  uint32
	Depth   uint32
	Levels  uint32
	Layers  uint32
	Samples uint32
	Cube    bool
	Is3D    bool
	Usage   vk.ImageUsageFlags
}

// Aspect is the aspect mask every subresource of the image uses.
func (d ImageDesc) Aspect() vk.ImageAspectFlags {
	switch d.Format {
	case vk.FormatD16Unorm, vk.FormatD32Sfloat:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	case vk.FormatD24UnormS8Uint, vk.FormatD32SfloatS8Uint:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit) | vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

type SamplerDesc struct {
	MinFilter, MagFilter vk.Filter
	MipmapMode           vk.SamplerMipmapMode
	AddressU             vk.SamplerAddressMode
	AddressV             vk.SamplerAddressMode
	AddressW             vk.SamplerAddressMode
	MaxAnisotropy        float32
	CompareEnable        bool
	CompareOp            vk.CompareOp
	MinLod, MaxLod       float32
}

type DescriptorBinding struct {
	Binding uint32
	Type    vk.DescriptorType
	Count   uint32
	Stages  vk.ShaderStageFlags
}

type PushConstantRange struct {
	Stages vk.ShaderStageFlags
	Offset uint32
	Size   uint32
}

type DescriptorPoolSize struct {
	Type  vk.DescriptorType
	Count uint32
}

// SpecConstant is a 4-byte specialization constant value.
type SpecConstant struct {
	ID    uint32
	Value uint32
}

type ShaderStage struct {
	Module         ShaderModule
	Entry          string
	Stage          vk.ShaderStageFlagBits
	Specialization []SpecConstant
}

type ComputePipelineDesc struct {
	Layout PipelineLayout
	Stage  ShaderStage
}

type VertexBinding struct {
	Binding   uint32
	Stride    uint32
	InputRate vk.VertexInputRate
}

type VertexAttribute struct {
	Location uint32
	Binding  uint32
	Format   vk.Format
	Offset   uint32
}

type StencilState struct {
	FailOp      vk.StencilOp
	PassOp      vk.StencilOp
	DepthFailOp vk.StencilOp
	CompareOp   vk.CompareOp
	CompareMask uint32
	WriteMask   uint32
}

type ColorBlend struct {
	Enable    bool
	SrcColor  vk.BlendFactor
	DstColor  vk.BlendFactor
	ColorOp   vk.BlendOp
	SrcAlpha  vk.BlendFactor
	DstAlpha  vk.BlendFactor
	AlphaOp   vk.BlendOp
	WriteMask vk.ColorComponentFlags
}

// GraphicsPipelineDesc describes a pipeline whose viewport, scissor,
// blend constants, stencil reference and depth bias are dynamic state.
type GraphicsPipelineDesc struct {
	Layout  PipelineLayout
	Pass    RenderPass
	Subpass uint32
	Stages  []ShaderStage

	VertexBindings   []VertexBinding
	VertexAttributes []VertexAttribute

	Topology    vk.PrimitiveTopology
	CullMode    vk.CullModeFlags
	FrontFace   vk.FrontFace
	PolygonMode vk.PolygonMode
	DepthClamp  bool
	Samples     uint32

	DepthTest    bool
	DepthWrite   bool
	DepthCompare vk.CompareOp
	StencilTest  bool
	StencilFront StencilState
	StencilBack  StencilState

	ColorBlend []ColorBlend
}

type AttachmentDesc struct {
	Format  vk.Format
	Samples uint32
	Load    vk.AttachmentLoadOp
	Store   vk.AttachmentStoreOp
	Initial vk.ImageLayout
	Final   vk.ImageLayout
}

type RenderPassDesc struct {
	Colors []AttachmentDesc
	Depth  *AttachmentDesc
}

type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

type MemoryBarrier struct {
	SrcAccess vk.AccessFlags
	DstAccess vk.AccessFlags
}

type ImageBarrier struct {
	Image      Image
	OldLayout  vk.ImageLayout
	NewLayout  vk.ImageLayout
	SrcAccess  vk.AccessFlags
	DstAccess  vk.AccessFlags
	BaseLevel  uint32
	LevelCount uint32
	BaseLayer  uint32
	LayerCount uint32
}

type BufferCopy struct {
	SrcOffset int64
	DstOffset int64
	Size      int64
}

// BufferImageCopy rows are RowLength texels apart in the buffer; zero means
// tightly packed.
type BufferImageCopy struct {
	BufferOffset int64
	RowLength    uint32
	ImageHeight  uint32
	Level        uint32
	Layer        uint32
	Offset       Offset3D
	Extent       Extent3D
}

type ImageCopy struct {
	SrcLevel, SrcLayer uint32
	SrcOffset          Offset3D
	DstLevel, DstLayer uint32
	DstOffset          Offset3D
	Extent             Extent3D
}

// ImageBlit scales the box between SrcOffsets into the box between
// DstOffsets.
type ImageBlit struct {
	SrcLevel, SrcLayer uint32
	SrcOffsets         [2]Offset3D
	DstLevel, DstLayer uint32
	DstOffsets         [2]Offset3D
}

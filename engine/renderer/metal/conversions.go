package metal

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

func vulkanFormat(pf metadata.PixelFormat) vk.Format {
	switch pf {
	case metadata.PixelFormatR8Unorm:
		return vk.FormatR8Unorm
	case metadata.PixelFormatRG8Unorm:
		return vk.FormatR8g8Unorm
	case metadata.PixelFormatRGBA8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case metadata.PixelFormatRGBA8UnormSRGB:
		return vk.FormatR8g8b8a8Srgb
	case metadata.PixelFormatBGRA8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case metadata.PixelFormatBGRA8UnormSRGB:
		return vk.FormatB8g8r8a8Srgb
	case metadata.PixelFormatR16Float:
		return vk.FormatR16Sfloat
	case metadata.PixelFormatRGBA16Float:
		return vk.FormatR16g16b16a16Sfloat
	case metadata.PixelFormatR32Uint:
		return vk.FormatR32Uint
	case metadata.PixelFormatR32Float:
		return vk.FormatR32Sfloat
	case metadata.PixelFormatRG32Float:
		return vk.FormatR32g32Sfloat
	case metadata.PixelFormatRGBA32Float:
		return vk.FormatR32g32b32a32Sfloat
	case metadata.PixelFormatDepth16Unorm:
		return vk.FormatD16Unorm
	case metadata.PixelFormatDepth32Float:
		return vk.FormatD32Sfloat
	case metadata.PixelFormatDepth24UnormStencil8:
		return vk.FormatD24UnormS8Uint
	case metadata.PixelFormatDepth32FloatStencil8:
		return vk.FormatD32SfloatS8Uint
	}
	return vk.FormatUndefined
}

func imageUsage(format metadata.PixelFormat, usage metadata.TextureUsage) vk.ImageUsageFlags {
	flags := vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit
	if usage&metadata.TextureUsageShaderRead != 0 {
		flags |= vk.ImageUsageSampledBit
	}
	if usage&metadata.TextureUsageShaderWrite != 0 {
		flags |= vk.ImageUsageStorageBit
	}
	if usage&metadata.TextureUsageRenderTarget != 0 {
		if format.IsDepth() {
			flags |= vk.ImageUsageDepthStencilAttachmentBit
		} else {
			flags |= vk.ImageUsageColorAttachmentBit
		}
	}
	return vk.ImageUsageFlags(flags)
}

func filter(f metadata.TextureFilter) vk.Filter {
	if f == metadata.TextureFilterModeLinear {
		return vk.FilterLinear
	}
	return vk.FilterNearest
}

func mipmapMode(f metadata.TextureFilter) vk.SamplerMipmapMode {
	if f == metadata.TextureFilterModeLinear {
		return vk.SamplerMipmapModeLinear
	}
	return vk.SamplerMipmapModeNearest
}

func addressMode(r metadata.TextureRepeat) vk.SamplerAddressMode {
	switch r {
	case metadata.TextureRepeatMirroredRepeat:
		return vk.SamplerAddressModeMirroredRepeat
	case metadata.TextureRepeatClampToEdge:
		return vk.SamplerAddressModeClampToEdge
	case metadata.TextureRepeatClampToBorder:
		return vk.SamplerAddressModeClampToBorder
	}
	return vk.SamplerAddressModeRepeat
}

func compareOp(f metadata.CompareFunction) vk.CompareOp {
	switch f {
	case metadata.CompareFunctionNever:
		return vk.CompareOpNever
	case metadata.CompareFunctionLess:
		return vk.CompareOpLess
	case metadata.CompareFunctionEqual:
		return vk.CompareOpEqual
	case metadata.CompareFunctionLessEqual:
		return vk.CompareOpLessOrEqual
	case metadata.CompareFunctionGreater:
		return vk.CompareOpGreater
	case metadata.CompareFunctionNotEqual:
		return vk.CompareOpNotEqual
	case metadata.CompareFunctionGreaterEqual:
		return vk.CompareOpGreaterOrEqual
	}
	return vk.CompareOpAlways
}

func stencilOp(op metadata.StencilOperation) vk.StencilOp {
	switch op {
	case metadata.StencilOperationZero:
		return vk.StencilOpZero
	case metadata.StencilOperationReplace:
		return vk.StencilOpReplace
	case metadata.StencilOperationIncrementClamp:
		return vk.StencilOpIncrementAndClamp
	case metadata.StencilOperationDecrementClamp:
		return vk.StencilOpDecrementAndClamp
	case metadata.StencilOperationInvert:
		return vk.StencilOpInvert
	case metadata.StencilOperationIncrementWrap:
		return vk.StencilOpIncrementAndWrap
	case metadata.StencilOperationDecrementWrap:
		return vk.StencilOpDecrementAndWrap
	}
	return vk.StencilOpKeep
}

func blendFactor(f metadata.BlendFactor) vk.BlendFactor {
	switch f {
	case metadata.BlendFactorZero:
		return vk.BlendFactorZero
	case metadata.BlendFactorSourceColor:
		return vk.BlendFactorSrcColor
	case metadata.BlendFactorOneMinusSourceColor:
		return vk.BlendFactorOneMinusSrcColor
	case metadata.BlendFactorSourceAlpha:
		return vk.BlendFactorSrcAlpha
	case metadata.BlendFactorOneMinusSourceAlpha:
		return vk.BlendFactorOneMinusSrcAlpha
	case metadata.BlendFactorDestinationColor:
		return vk.BlendFactorDstColor
	case metadata.BlendFactorOneMinusDestinationColor:
		return vk.BlendFactorOneMinusDstColor
	case metadata.BlendFactorDestinationAlpha:
		return vk.BlendFactorDstAlpha
	case metadata.BlendFactorOneMinusDestinationAlpha:
		return vk.BlendFactorOneMinusDstAlpha
	case metadata.BlendFactorBlendColor:
		return vk.BlendFactorConstantColor
	case metadata.BlendFactorOneMinusBlendColor:
		return vk.BlendFactorOneMinusConstantColor
	}
	return vk.BlendFactorOne
}

func blendOp(op metadata.BlendOperation) vk.BlendOp {
	switch op {
	case metadata.BlendOperationSubtract:
		return vk.BlendOpSubtract
	case metadata.BlendOperationReverseSubtract:
		return vk.BlendOpReverseSubtract
	case metadata.BlendOperationMin:
		return vk.BlendOpMin
	case metadata.BlendOperationMax:
		return vk.BlendOpMax
	}
	return vk.BlendOpAdd
}

func colorWriteMask(m metadata.ColorWriteMask) vk.ColorComponentFlags {
	var flags vk.ColorComponentFlagBits
	if m&metadata.ColorWriteMaskRed != 0 {
		flags |= vk.ColorComponentRBit
	}
	if m&metadata.ColorWriteMaskGreen != 0 {
		flags |= vk.ColorComponentGBit
	}
	if m&metadata.ColorWriteMaskBlue != 0 {
		flags |= vk.ColorComponentBBit
	}
	if m&metadata.ColorWriteMaskAlpha != 0 {
		flags |= vk.ColorComponentABit
	}
	return vk.ColorComponentFlags(flags)
}

func topology(p metadata.PrimitiveType) vk.PrimitiveTopology {
	switch p {
	case metadata.PrimitiveTypePoint:
		return vk.PrimitiveTopologyPointList
	case metadata.PrimitiveTypeLine:
		return vk.PrimitiveTopologyLineList
	case metadata.PrimitiveTypeLineStrip:
		return vk.PrimitiveTopologyLineStrip
	case metadata.PrimitiveTypeTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	}
	return vk.PrimitiveTopologyTriangleList
}

func cullMode(c metadata.CullMode) vk.CullModeFlags {
	switch c {
	case metadata.CullModeFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case metadata.CullModeBack:
		return vk.CullModeFlags(vk.CullModeBackBit)
	}
	return vk.CullModeFlags(vk.CullModeNone)
}

// frontFace maps the winding of front-facing triangles. Metal's
// viewport has y pointing up, so the sense is flipped.
func frontFace(w metadata.Winding) vk.FrontFace {
	if w == metadata.WindingClockwise {
		return vk.FrontFaceCounterClockwise
	}
	return vk.FrontFaceClockwise
}

func polygonMode(f metadata.TriangleFillMode) vk.PolygonMode {
	if f == metadata.TriangleFillModeLines {
		return vk.PolygonModeLine
	}
	return vk.PolygonModeFill
}

func indexType(t metadata.IndexType) vk.IndexType {
	if t == metadata.IndexTypeUInt32 {
		return vk.IndexTypeUint32
	}
	return vk.IndexTypeUint16
}

func loadOp(a metadata.LoadAction) vk.AttachmentLoadOp {
	switch a {
	case metadata.LoadActionLoad:
		return vk.AttachmentLoadOpLoad
	case metadata.LoadActionClear:
		return vk.AttachmentLoadOpClear
	}
	return vk.AttachmentLoadOpDontCare
}

func storeOp(a metadata.StoreAction) vk.AttachmentStoreOp {
	if a == metadata.StoreActionStore {
		return vk.AttachmentStoreOpStore
	}
	return vk.AttachmentStoreOpDontCare
}

func vertexFormat(f metadata.VertexFormat) vk.Format {
	switch f {
	case metadata.VertexFormatFloat:
		return vk.FormatR32Sfloat
	case metadata.VertexFormatFloat2:
		return vk.FormatR32g32Sfloat
	case metadata.VertexFormatFloat3:
		return vk.FormatR32g32b32Sfloat
	case metadata.VertexFormatFloat4:
		return vk.FormatR32g32b32a32Sfloat
	case metadata.VertexFormatUInt:
		return vk.FormatR32Uint
	case metadata.VertexFormatUInt2:
		return vk.FormatR32g32Uint
	case metadata.VertexFormatUInt4:
		return vk.FormatR32g32b32a32Uint
	case metadata.VertexFormatInt:
		return vk.FormatR32Sint
	case metadata.VertexFormatUChar4Normalized:
		return vk.FormatR8g8b8a8Unorm
	}
	core.Fatalf("vertex format %d has no native equivalent", f)
	return vk.FormatUndefined
}

func vertexInputRate(s metadata.VertexStepFunction) vk.VertexInputRate {
	if s == metadata.VertexStepFunctionPerInstance {
		return vk.VertexInputRateInstance
	}
	return vk.VertexInputRateVertex
}

// descriptorType picks the native descriptor type of a resource argument.
// Images default to storage images in kernels and sampled images elsewhere.
func descriptorType(a metadata.Argument, stage metadata.FunctionType) vk.DescriptorType {
	switch a.Class {
	case metadata.ArgumentClassBuffer:
		if a.Kind == metadata.DescriptorKindUniformBuffer {
			return vk.DescriptorTypeUniformBuffer
		}
		return vk.DescriptorTypeStorageBuffer
	case metadata.ArgumentClassTexture:
		switch a.Kind {
		case metadata.DescriptorKindSampledImage:
			return vk.DescriptorTypeSampledImage
		case metadata.DescriptorKindStorageImage:
			return vk.DescriptorTypeStorageImage
		case metadata.DescriptorKindCombinedImageSampler:
			return vk.DescriptorTypeCombinedImageSampler
		}
		if stage == metadata.FunctionTypeKernel {
			return vk.DescriptorTypeStorageImage
		}
		return vk.DescriptorTypeSampledImage
	}
	return vk.DescriptorTypeSampler
}

func shaderStage(t metadata.FunctionType) vk.ShaderStageFlagBits {
	switch t {
	case metadata.FunctionTypeVertex:
		return vk.ShaderStageVertexBit
	case metadata.FunctionTypeFragment:
		return vk.ShaderStageFragmentBit
	}
	return vk.ShaderStageComputeBit
}

func clearValue(c metadata.ClearColor) [4]float32 {
	return [4]float32{float32(c.Red), float32(c.Green), float32(c.Blue), float32(c.Alpha)}
}

func vkStageFlags(bits ...vk.ShaderStageFlagBits) vk.ShaderStageFlags {
	var f vk.ShaderStageFlags
	for _, b := range bits {
		f |= vk.ShaderStageFlags(b)
	}
	return f
}

package metadata

type StencilDescriptor struct {
	StencilCompareFunction    CompareFunction
	StencilFailureOperation   StencilOperation
	DepthFailureOperation     StencilOperation
	DepthStencilPassOperation StencilOperation
	ReadMask                  uint32
	WriteMask                 uint32
}

func DefaultStencilDescriptor() StencilDescriptor {
	return StencilDescriptor{
		StencilCompareFunction: CompareFunctionAlways,
		ReadMask:               0xFFFFFFFF,
		WriteMask:              0xFFFFFFFF,
	}
}

/**
 * @brief Describes depth and stencil testing. Comparable, so a value of this
 * type can be part of a pipeline cache key.
 */
type DepthStencilDescriptor struct {
	DepthCompareFunction CompareFunction
	DepthWriteEnabled    bool
	FrontFaceStencil     StencilDescriptor
	BackFaceStencil      StencilDescriptor
	Label                string
}

func DefaultDepthStencilDescriptor() DepthStencilDescriptor {
	return DepthStencilDescriptor{
		DepthCompareFunction: CompareFunctionAlways,
		FrontFaceStencil:     DefaultStencilDescriptor(),
		BackFaceStencil:      DefaultStencilDescriptor(),
	}
}

// StencilEnabled reports whether either face does anything other than pass.
func (d DepthStencilDescriptor) StencilEnabled() bool {
	def := DefaultStencilDescriptor()
	return d.FrontFaceStencil != def || d.BackFaceStencil != def
}

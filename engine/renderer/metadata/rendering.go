package metadata

/** @brief Determines face culling mode during rendering. */
type CullMode int

const (
	/** @brief No faces are culled. */
	CullModeNone CullMode = iota
	/** @brief Only front faces are culled. */
	CullModeFront
	/** @brief Only back faces are culled. */
	CullModeBack
)

/** @brief The vertex winding that marks a triangle as front facing. */
type Winding int

const (
	WindingClockwise Winding = iota
	WindingCounterClockwise
)

/** @brief How triangles are rasterized. */
type TriangleFillMode int

const (
	TriangleFillModeFill TriangleFillMode = iota
	TriangleFillModeLines
)

/** @brief Whether fragments outside the depth range are clipped or clamped. */
type DepthClipMode int

const (
	DepthClipModeClip DepthClipMode = iota
	DepthClipModeClamp
)

type PrimitiveType int

const (
	PrimitiveTypePoint PrimitiveType = iota
	PrimitiveTypeLine
	PrimitiveTypeLineStrip
	PrimitiveTypeTriangle
	PrimitiveTypeTriangleStrip
)

type IndexType int

const (
	IndexTypeUInt16 IndexType = iota
	IndexTypeUInt32
)

// Size returns the byte width of a single index.
func (t IndexType) Size() uint64 {
	if t == IndexTypeUInt16 {
		return 2
	}
	return 4
}

type CompareFunction int

const (
	CompareFunctionNever CompareFunction = iota
	CompareFunctionLess
	CompareFunctionEqual
	CompareFunctionLessEqual
	CompareFunctionGreater
	CompareFunctionNotEqual
	CompareFunctionGreaterEqual
	CompareFunctionAlways
)

type StencilOperation int

const (
	StencilOperationKeep StencilOperation = iota
	StencilOperationZero
	StencilOperationReplace
	StencilOperationIncrementClamp
	StencilOperationDecrementClamp
	StencilOperationInvert
	StencilOperationIncrementWrap
	StencilOperationDecrementWrap
)

/** @brief What happens to an attachment's contents when a render pass starts. */
type LoadAction int

const (
	LoadActionDontCare LoadAction = iota
	LoadActionLoad
	LoadActionClear
)

/** @brief What happens to an attachment's contents when a render pass ends. */
type StoreAction int

const (
	StoreActionDontCare StoreAction = iota
	StoreActionStore
)

type BlendFactor int

const (
	BlendFactorZero BlendFactor = iota
	BlendFactorOne
	BlendFactorSourceColor
	BlendFactorOneMinusSourceColor
	BlendFactorSourceAlpha
	BlendFactorOneMinusSourceAlpha
	BlendFactorDestinationColor
	BlendFactorOneMinusDestinationColor
	BlendFactorDestinationAlpha
	BlendFactorOneMinusDestinationAlpha
	BlendFactorBlendColor
	BlendFactorOneMinusBlendColor
)

type BlendOperation int

const (
	BlendOperationAdd BlendOperation = iota
	BlendOperationSubtract
	BlendOperationReverseSubtract
	BlendOperationMin
	BlendOperationMax
)

/** @brief Bit mask of color channels written by a color attachment. */
type ColorWriteMask uint8

const (
	ColorWriteMaskNone  ColorWriteMask = 0
	ColorWriteMaskRed   ColorWriteMask = 0x1
	ColorWriteMaskGreen ColorWriteMask = 0x2
	ColorWriteMaskBlue  ColorWriteMask = 0x4
	ColorWriteMaskAlpha ColorWriteMask = 0x8
	ColorWriteMaskAll   ColorWriteMask = 0xF
)

/** @brief A clear value for a color attachment, in normalized floats. */
type ClearColor struct {
	Red, Green, Blue, Alpha float64
}

func NewClearColor(r, g, b, a float64) ClearColor {
	return ClearColor{Red: r, Green: g, Blue: b, Alpha: a}
}

type Viewport struct {
	OriginX, OriginY float64
	Width, Height    float64
	ZNear, ZFar      float64
}

type ScissorRect struct {
	X, Y          int
	Width, Height int
}

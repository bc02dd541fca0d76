package metadata

/** @brief Texel formats understood by the runtime. */
type PixelFormat int

const (
	PixelFormatInvalid PixelFormat = iota
	PixelFormatR8Unorm
	PixelFormatRG8Unorm
	PixelFormatRGBA8Unorm
	PixelFormatRGBA8UnormSRGB
	PixelFormatBGRA8Unorm
	PixelFormatBGRA8UnormSRGB
	PixelFormatR16Float
	PixelFormatRGBA16Float
	PixelFormatR32Uint
	PixelFormatR32Float
	PixelFormatRG32Float
	PixelFormatRGBA32Float
	PixelFormatDepth16Unorm
	PixelFormatDepth32Float
	PixelFormatDepth24UnormStencil8
	PixelFormatDepth32FloatStencil8
)

var pixelFormatNames = map[PixelFormat]string{
	PixelFormatInvalid:              "invalid",
	PixelFormatR8Unorm:              "r8Unorm",
	PixelFormatRG8Unorm:             "rg8Unorm",
	PixelFormatRGBA8Unorm:           "rgba8Unorm",
	PixelFormatRGBA8UnormSRGB:       "rgba8Unorm_srgb",
	PixelFormatBGRA8Unorm:           "bgra8Unorm",
	PixelFormatBGRA8UnormSRGB:       "bgra8Unorm_srgb",
	PixelFormatR16Float:             "r16Float",
	PixelFormatRGBA16Float:          "rgba16Float",
	PixelFormatR32Uint:              "r32Uint",
	PixelFormatR32Float:             "r32Float",
	PixelFormatRG32Float:            "rg32Float",
	PixelFormatRGBA32Float:          "rgba32Float",
	PixelFormatDepth16Unorm:         "depth16Unorm",
	PixelFormatDepth32Float:         "depth32Float",
	PixelFormatDepth24UnormStencil8: "depth24Unorm_stencil8",
	PixelFormatDepth32FloatStencil8: "depth32Float_stencil8",
}

func (pf PixelFormat) String() string {
	if n, ok := pixelFormatNames[pf]; ok {
		return n
	}
	return "unknown"
}

// BytesPerPixel is the size of one texel, or 0 for PixelFormatInvalid.
func (pf PixelFormat) BytesPerPixel() int {
	switch pf {
	case PixelFormatR8Unorm:
		return 1
	case PixelFormatRG8Unorm, PixelFormatR16Float, PixelFormatDepth16Unorm:
		return 2
	case PixelFormatRGBA8Unorm, PixelFormatRGBA8UnormSRGB, PixelFormatBGRA8Unorm, PixelFormatBGRA8UnormSRGB,
		PixelFormatR32Uint, PixelFormatR32Float, PixelFormatDepth32Float, PixelFormatDepth24UnormStencil8:
		return 4
	case PixelFormatRGBA16Float, PixelFormatRG32Float, PixelFormatDepth32FloatStencil8:
		return 8
	case PixelFormatRGBA32Float:
		return 16
	}
	return 0
}

func (pf PixelFormat) IsDepth() bool {
	switch pf {
	case PixelFormatDepth16Unorm, PixelFormatDepth32Float, PixelFormatDepth24UnormStencil8, PixelFormatDepth32FloatStencil8:
		return true
	}
	return false
}

func (pf PixelFormat) HasStencil() bool {
	return pf == PixelFormatDepth24UnormStencil8 || pf == PixelFormatDepth32FloatStencil8
}

package metadata

/** @brief A three dimensional extent in texels (or threads). */
type Size struct {
	Width, Height, Depth int
}

func NewSize(w, h, d int) Size {
	return Size{Width: w, Height: h, Depth: d}
}

// Volume is Width*Height*Depth.
func (s Size) Volume() int {
	return s.Width * s.Height * s.Depth
}

type Origin struct {
	X, Y, Z int
}

func NewOrigin(x, y, z int) Origin {
	return Origin{X: x, Y: y, Z: z}
}

/** @brief An origin plus a size. */
type Region struct {
	Origin Origin
	Size   Size
}

// Region2D is a single-slice region.
func Region2D(x, y, w, h int) Region {
	return Region{Origin: Origin{X: x, Y: y}, Size: Size{Width: w, Height: h, Depth: 1}}
}

/** @brief A byte range inside a buffer. */
type Range struct {
	Location int
	Length   int
}

/**
 * @brief Represents various types of textures.
 */
type TextureType int

const (
	/** @brief A standard two-dimensional texture. */
	TextureType2D TextureType = iota
	TextureType2DArray
	TextureType3D
	/** @brief A cube texture, used for cubemaps. */
	TextureTypeCube
)

/** @brief Bit flags describing how a texture will be used. */
type TextureUsage uint32

const (
	TextureUsageUnknown      TextureUsage = 0x0
	TextureUsageShaderRead   TextureUsage = 0x1
	TextureUsageShaderWrite  TextureUsage = 0x2
	TextureUsageRenderTarget TextureUsage = 0x4
)

/** @brief Where a resource's memory lives and who may touch it. */
type StorageMode int

const (
	StorageModeShared StorageMode = iota
	StorageModeManaged
	StorageModePrivate
	StorageModeMemoryless
)

type CPUCacheMode int

const (
	CPUCacheModeDefaultCache CPUCacheMode = iota
	CPUCacheModeWriteCombined
)

type HazardTrackingMode int

const (
	HazardTrackingModeDefault HazardTrackingMode = iota
	HazardTrackingModeUntracked
	HazardTrackingModeTracked
)

/** @brief Options used when allocating buffers and heaps. */
type ResourceOptions struct {
	StorageMode        StorageMode
	CPUCacheMode       CPUCacheMode
	HazardTrackingMode HazardTrackingMode
}

/**
 * @brief Describes a texture to be created by a device or heap.
 */
type TextureDescriptor struct {
	TextureType      TextureType
	PixelFormat      PixelFormat
	Width            int
	Height           int
	Depth            int
	MipmapLevelCount int
	SampleCount      int
	ArrayLength      int
	Usage            TextureUsage
	StorageMode      StorageMode
}

// Texture2DDescriptor mirrors the convenience constructor of Metal's descriptor API.
func Texture2DDescriptor(format PixelFormat, width, height int, mipmapped bool) TextureDescriptor {
	levels := 1
	if mipmapped {
		for w, h := width, height; w > 1 || h > 1; w, h = w/2, h/2 {
			levels++
		}
	}
	return TextureDescriptor{
		TextureType:      TextureType2D,
		PixelFormat:      format,
		Width:            width,
		Height:           height,
		Depth:            1,
		MipmapLevelCount: levels,
		SampleCount:      1,
		ArrayLength:      1,
		Usage:            TextureUsageShaderRead,
	}
}

// Normalized fills zero counts with one.
func (td TextureDescriptor) Normalized() TextureDescriptor {
	if td.Depth < 1 {
		td.Depth = 1
	}
	if td.MipmapLevelCount < 1 {
		td.MipmapLevelCount = 1
	}
	if td.SampleCount < 1 {
		td.SampleCount = 1
	}
	if td.ArrayLength < 1 {
		td.ArrayLength = 1
	}
	return td
}

/** @brief Represents supported texture filtering modes. */
type TextureFilter int

const (
	/** @brief Nearest-neighbor filtering. */
	TextureFilterModeNearest TextureFilter = 0x0
	/** @brief Linear (i.e. bilinear) filtering.*/
	TextureFilterModeLinear TextureFilter = 0x1
)

type TextureRepeat int

const (
	TextureRepeatRepeat         TextureRepeat = 0x1
	TextureRepeatMirroredRepeat TextureRepeat = 0x2
	TextureRepeatClampToEdge    TextureRepeat = 0x3
	TextureRepeatClampToBorder  TextureRepeat = 0x4
)

/**
 * @brief Describes a sampler state object.
 */
type SamplerDescriptor struct {
	/** @brief Texture filtering mode for minification. */
	MinFilter TextureFilter
	/** @brief Texture filtering mode for magnification. */
	MagFilter TextureFilter
	MipFilter TextureFilter
	/** @brief The repeat mode on the U axis (or X, or S) */
	RepeatU TextureRepeat
	/** @brief The repeat mode on the V axis (or Y, or T) */
	RepeatV TextureRepeat
	/** @brief The repeat mode on the W axis (or Z, or U) */
	RepeatW         TextureRepeat
	MaxAnisotropy   int
	CompareFunction CompareFunction
	LodMinClamp     float32
	LodMaxClamp     float32
	Label           string
}

func DefaultSamplerDescriptor() SamplerDescriptor {
	return SamplerDescriptor{
		MinFilter:       TextureFilterModeNearest,
		MagFilter:       TextureFilterModeNearest,
		MipFilter:       TextureFilterModeNearest,
		RepeatU:         TextureRepeatClampToEdge,
		RepeatV:         TextureRepeatClampToEdge,
		RepeatW:         TextureRepeatClampToEdge,
		MaxAnisotropy:   1,
		CompareFunction: CompareFunctionNever,
		LodMaxClamp:     1000,
	}
}

type HeapDescriptor struct {
	Size        uint64
	StorageMode StorageMode
	Options     ResourceOptions
}

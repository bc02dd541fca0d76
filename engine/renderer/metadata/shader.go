package metadata

import (
	"fmt"
	"sort"
)

/** @brief The pipeline stage a shader function runs in. */
type FunctionType int

const (
	FunctionTypeVertex FunctionType = iota
	FunctionTypeFragment
	FunctionTypeKernel
)

func (ft FunctionType) String() string {
	switch ft {
	case FunctionTypeVertex:
		return "vertex"
	case FunctionTypeFragment:
		return "fragment"
	case FunctionTypeKernel:
		return "kernel"
	}
	return "unknown"
}

func FunctionTypeFromString(s string) (FunctionType, error) {
	switch s {
	case "vertex":
		return FunctionTypeVertex, nil
	case "fragment":
		return FunctionTypeFragment, nil
	case "kernel", "compute":
		return FunctionTypeKernel, nil
	}
	return 0, fmt.Errorf("string %s is not a valid FunctionType", s)
}

/** @brief How a compute encoder orders its dispatches. */
type DispatchType int

const (
	// DispatchTypeSerial makes each dispatch see the writes of the previous one.
	DispatchTypeSerial DispatchType = iota
	// DispatchTypeConcurrent lets dispatches overlap; the caller orders them
	// with memory barriers where it needs to.
	DispatchTypeConcurrent
)

func (dt DispatchType) String() string {
	switch dt {
	case DispatchTypeSerial:
		return "serial"
	case DispatchTypeConcurrent:
		return "concurrent"
	}
	return "unknown"
}

/**
 * @brief The binding class of a shader argument. Arguments share one flat
 * index space at the API surface but live in separate binding spaces
 * on the GPU.
 */
type ArgumentClass int

const (
	/** @brief A storage or uniform buffer, bound through a descriptor. */
	ArgumentClassBuffer ArgumentClass = iota
	/** @brief Inline bytes delivered through the push-constant range. */
	ArgumentClassConstant
	/** @brief A sampled or storage image. */
	ArgumentClassTexture
	ArgumentClassSampler
)

func (ac ArgumentClass) String() string {
	switch ac {
	case ArgumentClassBuffer:
		return "buffer"
	case ArgumentClassConstant:
		return "constant"
	case ArgumentClassTexture:
		return "texture"
	case ArgumentClassSampler:
		return "sampler"
	}
	return "unknown"
}

func ArgumentClassFromString(s string) (ArgumentClass, error) {
	switch s {
	case "buffer":
		return ArgumentClassBuffer, nil
	case "constant":
		return ArgumentClassConstant, nil
	case "texture", "image":
		return ArgumentClassTexture, nil
	case "sampler":
		return ArgumentClassSampler, nil
	}
	return 0, fmt.Errorf("string %s is not a valid ArgumentClass", s)
}

/** @brief Kinds of descriptor an argument needs when it is not a constant. */
type DescriptorKind int

const (
	DescriptorKindStorageBuffer DescriptorKind = iota
	DescriptorKindUniformBuffer
	DescriptorKindSampledImage
	DescriptorKindStorageImage
	DescriptorKindSampler
	DescriptorKindCombinedImageSampler
)

/**
 * @brief One reflected shader argument. Binding is the descriptor binding for
 * buffers, textures and samplers; Offset/Size locate constants inside the
 * push-constant range.
 */
type Argument struct {
	Name    string
	Class   ArgumentClass
	Kind    DescriptorKind
	Binding uint32
	Offset  uint32
	Size    uint32
}

/** @brief Everything reflection yields for one entry point. */
type ArgumentLayout struct {
	Arguments []Argument
	/** @brief Byte offset of the push-constant block. */
	PushOffset uint32
	/** @brief Byte size of the push-constant block, 0 if none. */
	PushSize uint32
	/** @brief Fixed workgroup size declared by a kernel, zero when absent. */
	ThreadgroupSize Size
	/**
	 * @brief Set when ThreadgroupSize is baked into the module: specialization
	 * constants 0..2 do not resize it, so every dispatch runs that size.
	 */
	FixedThreadgroupSize bool
}

// Count returns how many arguments of class c the layout declares.
func (al ArgumentLayout) Count(c ArgumentClass) int {
	n := 0
	for _, a := range al.Arguments {
		if a.Class == c {
			n++
		}
	}
	return n
}

type LanguageVersion int

const (
	LanguageVersionDefault LanguageVersion = iota
	LanguageVersionWGSL
	LanguageVersionSPIRV
)

/** @brief Options passed when compiling a library from source. */
type CompileOptions struct {
	LanguageVersion    LanguageVersion
	FastMathEnabled    bool
	PreprocessorMacros map[string]string
	Label              string
}

/** @brief Vertex attribute formats. */
type VertexFormat int

const (
	VertexFormatInvalid VertexFormat = iota
	VertexFormatFloat
	VertexFormatFloat2
	VertexFormatFloat3
	VertexFormatFloat4
	VertexFormatUInt
	VertexFormatUInt2
	VertexFormatUInt4
	VertexFormatInt
	VertexFormatUChar4Normalized
)

func (vf VertexFormat) Size() uint32 {
	switch vf {
	case VertexFormatFloat, VertexFormatUInt, VertexFormatInt, VertexFormatUChar4Normalized:
		return 4
	case VertexFormatFloat2, VertexFormatUInt2:
		return 8
	case VertexFormatFloat3:
		return 12
	case VertexFormatFloat4, VertexFormatUInt4:
		return 16
	}
	return 0
}

type VertexStepFunction int

const (
	VertexStepFunctionPerVertex VertexStepFunction = iota
	VertexStepFunctionPerInstance
	VertexStepFunctionConstant
)

type VertexAttributeDescriptor struct {
	Format      VertexFormat
	Offset      uint32
	BufferIndex int
}

type VertexBufferLayoutDescriptor struct {
	Stride       uint32
	StepFunction VertexStepFunction
	StepRate     uint32
}

/**
 * @brief Describes vertex fetch. Attribute i reads from
 * Layouts[Attributes[i].BufferIndex]; those buffer indices bind as vertex
 * buffers instead of going through argument translation.
 */
type VertexDescriptor struct {
	Attributes []VertexAttributeDescriptor
	Layouts    map[int]VertexBufferLayoutDescriptor
}

// BufferIndices returns the sorted vertex-buffer indices in use.
func (vd *VertexDescriptor) BufferIndices() []int {
	if vd == nil {
		return nil
	}
	seen := map[int]bool{}
	out := []int{}
	for _, a := range vd.Attributes {
		if !seen[a.BufferIndex] {
			seen[a.BufferIndex] = true
			out = append(out, a.BufferIndex)
		}
	}
	sort.Ints(out)
	return out
}

// IsVertexBuffer reports whether index is fed by a vertex layout.
func (vd *VertexDescriptor) IsVertexBuffer(index int) bool {
	if vd == nil {
		return false
	}
	for _, a := range vd.Attributes {
		if a.BufferIndex == index {
			return true
		}
	}
	return false
}

package metal

import (
	"math"
	"sort"
	"sync"

	"github.com/spaghettifunk/anima/engine/renderer/driver"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

// Specialization constants 0..2 carry the threadgroup size of a kernel.
// Function constant i is specialization constant functionConstantBase+i.
const functionConstantBase = 3

// FunctionConstantValues holds the values a function is specialized with.
type FunctionConstantValues struct {
	values map[uint32]uint32
}

func NewFunctionConstantValues() *FunctionConstantValues {
	return &FunctionConstantValues{values: map[uint32]uint32{}}
}

func (v *FunctionConstantValues) SetUint32(index int, value uint32) {
	v.values[uint32(index)] = value
}

func (v *FunctionConstantValues) SetInt32(index int, value int32) {
	v.values[uint32(index)] = uint32(value)
}

func (v *FunctionConstantValues) SetFloat32(index int, value float32) {
	v.values[uint32(index)] = math.Float32bits(value)
}

func (v *FunctionConstantValues) SetBool(index int, value bool) {
	if value {
		v.values[uint32(index)] = 1
	} else {
		v.values[uint32(index)] = 0
	}
}

func (v *FunctionConstantValues) specialization() []driver.SpecConstant {
	if v == nil {
		return nil
	}
	out := make([]driver.SpecConstant, 0, len(v.values))
	for idx, val := range v.values {
		out = append(out, driver.SpecConstant{ID: functionConstantBase + idx, Value: val})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// functionSource is what a library knows about one entry point.
type functionSource struct {
	name            string
	functionType    metadata.FunctionType
	words           []uint32
	layout          metadata.ArgumentLayout
	workgroupMemory uint32
}

/**
 * @brief A shader entry point taken from a library, optionally specialized
 * with constant values. Pipeline states built from it share its shader
 * module.
 */
type Function struct {
	device     *Device
	source     *functionSource
	constants  []driver.SpecConstant
	translator *BindingTranslator

	mu     sync.Mutex
	module driver.ShaderModule
}

func newFunction(device *Device, src *functionSource, values *FunctionConstantValues) *Function {
	return &Function{
		device:     device,
		source:     src,
		constants:  values.specialization(),
		translator: NewBindingTranslator(src.layout.Arguments),
	}
}

func (f *Function) Device() *Device                     { return f.device }
func (f *Function) Name() string                        { return f.source.name }
func (f *Function) FunctionType() metadata.FunctionType { return f.source.functionType }
func (f *Function) Layout() metadata.ArgumentLayout     { return f.source.layout }
func (f *Function) Arguments() []metadata.Argument      { return f.translator.Arguments() }

// shaderModule creates the native module on first use.
func (f *Function) shaderModule() (driver.ShaderModule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.module != nil {
		return f.module, nil
	}
	m, err := f.device.gpu.NewShaderModule(f.source.words)
	if err != nil {
		return nil, err
	}
	f.module = m
	return m, nil
}

// stage describes the function as a pipeline stage, with the given extra
// specialization entries placed before its function constants.
func (f *Function) stage(extra ...driver.SpecConstant) (driver.ShaderStage, error) {
	m, err := f.shaderModule()
	if err != nil {
		return driver.ShaderStage{}, err
	}
	spec := make([]driver.SpecConstant, 0, len(extra)+len(f.constants))
	spec = append(spec, extra...)
	spec = append(spec, f.constants...)
	return driver.ShaderStage{
		Module:         m,
		Entry:          f.source.name,
		Stage:          shaderStage(f.source.functionType),
		Specialization: spec,
	}, nil
}

func (f *Function) pushRange() (driver.PushConstantRange, bool) {
	l := f.source.layout
	if l.PushSize == 0 {
		return driver.PushConstantRange{}, false
	}
	return driver.PushConstantRange{
		Stages: vkStageFlags(shaderStage(f.source.functionType)),
		Offset: l.PushOffset,
		Size:   l.PushSize,
	}, true
}

func (f *Function) descriptorBindings() []driver.DescriptorBinding {
	var out []driver.DescriptorBinding
	stage := vkStageFlags(shaderStage(f.source.functionType))
	for _, a := range f.translator.Resources() {
		out = append(out, driver.DescriptorBinding{
			Binding: a.Binding,
			Type:    descriptorType(a, f.source.functionType),
			Count:   1,
			Stages:  stage,
		})
	}
	return out
}

func (f *Function) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.module != nil {
		f.module.Destroy()
		f.module = nil
	}
}

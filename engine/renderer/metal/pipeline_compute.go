package metal

import (
	"fmt"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

type ComputePipelineDescriptor struct {
	Label           string
	ComputeFunction *Function
	// MaxTotalThreadsPerThreadgroup caps the threadgroup size; zero means
	// the device limit.
	MaxTotalThreadsPerThreadgroup int
}

/**
 * @brief A compute function with its pipeline layout. Native pipelines are
 * specialized per threadgroup size and built the first time a size is
 * dispatched.
 */
type ComputePipelineState struct {
	device    *Device
	label     string
	function  *Function
	setLayout driver.DescriptorSetLayout
	layout    driver.PipelineLayout
	push      driver.PushConstantRange
	hasPush   bool
	maxTotal  int
	// fixed is set when the module bakes its threadgroup size in.
	fixed bool

	pipelines *specializationCache[metadata.Size, driver.Pipeline]
}

func (d *Device) MakeComputePipelineState(fn *Function) (*ComputePipelineState, error) {
	return d.MakeComputePipelineStateWithDescriptor(ComputePipelineDescriptor{ComputeFunction: fn})
}

func (d *Device) MakeComputePipelineStateWithDescriptor(desc ComputePipelineDescriptor) (*ComputePipelineState, error) {
	fn := desc.ComputeFunction
	if fn == nil {
		return nil, fmt.Errorf("%w: no compute function", core.ErrComputePipelineStateFailed)
	}
	if fn.FunctionType() != metadata.FunctionTypeKernel {
		return nil, fmt.Errorf("%w: %s is a %s function", core.ErrComputePipelineStateFailed, fn.Name(), fn.FunctionType())
	}
	label := desc.Label
	if label == "" {
		label = core.DefaultLabel("ComputePipelineState")
	}
	maxTotal := int(d.limits.MaxComputeWorkGroupInvocations)
	if desc.MaxTotalThreadsPerThreadgroup > 0 && desc.MaxTotalThreadsPerThreadgroup < maxTotal {
		maxTotal = desc.MaxTotalThreadsPerThreadgroup
	}

	setLayout, err := d.gpu.NewDescriptorSetLayout(fn.descriptorBindings())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrComputePipelineStateFailed, fn.Name(), err)
	}
	ps := &ComputePipelineState{
		device:    d,
		label:     label,
		function:  fn,
		setLayout: setLayout,
		maxTotal:  maxTotal,
		fixed:     fn.Layout().FixedThreadgroupSize,
		pipelines: newSpecializationCache[metadata.Size, driver.Pipeline](label),
	}
	var ranges []driver.PushConstantRange
	if r, ok := fn.pushRange(); ok {
		ps.push, ps.hasPush = r, true
		ranges = append(ranges, r)
	}
	ps.layout, err = d.gpu.NewPipelineLayout([]driver.DescriptorSetLayout{setLayout}, ranges)
	if err != nil {
		setLayout.Destroy()
		return nil, fmt.Errorf("%w: %s: %w", core.ErrComputePipelineStateFailed, fn.Name(), err)
	}

	// Build the declared size up front so a broken shader fails here and
	// not at the first dispatch.
	if _, err := ps.pipeline(fn.Layout().ThreadgroupSize); err != nil {
		ps.Release()
		return nil, err
	}
	core.LogDebug("compute pipeline state %s created for %s", label, fn.Name())
	return ps, nil
}

func (ps *ComputePipelineState) Device() *Device     { return ps.device }
func (ps *ComputePipelineState) Label() string       { return ps.label }
func (ps *ComputePipelineState) Function() *Function { return ps.function }

func (ps *ComputePipelineState) MaxTotalThreadsPerThreadgroup() int { return ps.maxTotal }

// ThreadExecutionWidth is the device's subgroup size.
func (ps *ComputePipelineState) ThreadExecutionWidth() int {
	if w := ps.device.limits.SubgroupSize; w > 0 {
		return int(w)
	}
	return 32
}

func (ps *ComputePipelineState) StaticThreadgroupMemoryLength() int {
	return int(ps.function.source.workgroupMemory)
}

// FixedThreadgroupSize returns the size every dispatch runs with when the
// function declares one it cannot be specialized away from.
func (ps *ComputePipelineState) FixedThreadgroupSize() (metadata.Size, bool) {
	if !ps.fixed {
		return metadata.Size{}, false
	}
	return normalizedSize(ps.function.Layout().ThreadgroupSize), true
}

// threadgroupKey fills unset dimensions with one. A fixed-size function has
// a single pipeline whatever the caller asks for.
func (ps *ComputePipelineState) threadgroupKey(s metadata.Size) metadata.Size {
	if fixed, ok := ps.FixedThreadgroupSize(); ok {
		return fixed
	}
	return normalizedSize(s)
}

// pipeline returns the native pipeline specialized for size, building it
// on first use. Repeated sizes return the identical object.
func (ps *ComputePipelineState) pipeline(size metadata.Size) (driver.Pipeline, error) {
	key := ps.threadgroupKey(size)
	return ps.pipelines.get(key, func() (driver.Pipeline, error) {
		stage, err := ps.function.stage(
			driver.SpecConstant{ID: 0, Value: uint32(key.Width)},
			driver.SpecConstant{ID: 1, Value: uint32(key.Height)},
			driver.SpecConstant{ID: 2, Value: uint32(key.Depth)},
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", core.ErrComputePipelineStateFailed, ps.function.Name(), err)
		}
		p, err := ps.device.gpu.NewComputePipeline(driver.ComputePipelineDesc{Layout: ps.layout, Stage: stage})
		if err != nil {
			return nil, fmt.Errorf("%w: %s %dx%dx%d: %w", core.ErrComputePipelineStateFailed, ps.function.Name(), key.Width, key.Height, key.Depth, err)
		}
		return p, nil
	})
}

func (ps *ComputePipelineState) Release() {
	ps.pipelines.drain(func(p driver.Pipeline) { p.Destroy() })
	if ps.layout != nil {
		ps.layout.Destroy()
	}
	ps.setLayout.Destroy()
}

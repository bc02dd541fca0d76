package metal

import (
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

type SamplerState struct {
	device *Device
	native driver.Sampler
	desc   metadata.SamplerDescriptor
	label  string
}

func (d *Device) MakeSamplerState(desc metadata.SamplerDescriptor) (*SamplerState, error) {
	native, err := d.gpu.NewSampler(driver.SamplerDesc{
		MinFilter:     filter(desc.MinFilter),
		MagFilter:     filter(desc.MagFilter),
		MipmapMode:    mipmapMode(desc.MipFilter),
		AddressU:      addressMode(desc.RepeatU),
		AddressV:      addressMode(desc.RepeatV),
		AddressW:      addressMode(desc.RepeatW),
		MaxAnisotropy: float32(metadata.Max(desc.MaxAnisotropy, 1)),
		CompareEnable: desc.CompareFunction != metadata.CompareFunctionNever,
		CompareOp:     compareOp(desc.CompareFunction),
		MinLod:        desc.LodMinClamp,
		MaxLod:        desc.LodMaxClamp,
	})
	if err != nil {
		core.LogError("failed to create sampler: %s", err)
		return nil, err
	}
	label := desc.Label
	if label == "" {
		label = core.DefaultLabel("SamplerState")
	}
	return &SamplerState{device: d, native: native, desc: desc, label: label}, nil
}

func (s *SamplerState) Device() *Device { return s.device }
func (s *SamplerState) Label() string   { return s.label }
func (s *SamplerState) Release()        { s.native.Destroy() }

// DepthStencilState is immutable; render pipelines are specialized per
// instance.
type DepthStencilState struct {
	device *Device
	desc   metadata.DepthStencilDescriptor
}

func (d *Device) MakeDepthStencilState(desc metadata.DepthStencilDescriptor) *DepthStencilState {
	if desc.Label == "" {
		desc.Label = core.DefaultLabel("DepthStencilState")
	}
	return &DepthStencilState{device: d, desc: desc}
}

func (s *DepthStencilState) Device() *Device { return s.device }
func (s *DepthStencilState) Label() string   { return s.desc.Label }

func stencilState(sd metadata.StencilDescriptor) driver.StencilState {
	return driver.StencilState{
		FailOp:      stencilOp(sd.StencilFailureOperation),
		PassOp:      stencilOp(sd.DepthStencilPassOperation),
		DepthFailOp: stencilOp(sd.DepthFailureOperation),
		CompareOp:   compareOp(sd.StencilCompareFunction),
		CompareMask: sd.ReadMask,
		WriteMask:   sd.WriteMask,
	}
}

// apply fills the depth and stencil fields of a pipeline description. A nil
// state disables both tests.
func (s *DepthStencilState) apply(desc *driver.GraphicsPipelineDesc) {
	if s == nil {
		return
	}
	d := s.desc
	desc.DepthTest = d.DepthCompareFunction != metadata.CompareFunctionAlways || d.DepthWriteEnabled
	desc.DepthWrite = d.DepthWriteEnabled
	desc.DepthCompare = compareOp(d.DepthCompareFunction)
	desc.StencilTest = d.StencilEnabled()
	desc.StencilFront = stencilState(d.FrontFaceStencil)
	desc.StencilBack = stencilState(d.BackFaceStencil)
}

package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

type ShaderModule struct {
	gpu    *GPU
	handle vk.ShaderModule
}

func (g *GPU) NewShaderModule(code []uint32) (driver.ShaderModule, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("empty SPIR-V module: %w", driver.ErrUnsupportedDesc)
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code) * 4),
		PCode:    code,
	}
	m := &ShaderModule{gpu: g}
	if res := vk.CreateShaderModule(g.device, &createInfo, nil, &m.handle); res != vk.Success {
		return nil, resultError("vkCreateShaderModule", res)
	}
	return m, nil
}

func (m *ShaderModule) Destroy() {
	if m.handle != nil {
		vk.DestroyShaderModule(m.gpu.device, m.handle, nil)
		m.handle = nil
	}
}

// stageCreateInfo builds the pipeline stage for s. The returned values slice
// backs PData of the specialization info and must outlive pipeline creation.
func stageCreateInfo(s driver.ShaderStage) (vk.PipelineShaderStageCreateInfo, []uint32) {
	info := vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  s.Stage,
		Module: s.Module.(*ShaderModule).handle,
		PName:  VulkanSafeString(s.Entry),
	}
	if len(s.Specialization) == 0 {
		return info, nil
	}
	entries := make([]vk.SpecializationMapEntry, len(s.Specialization))
	values := make([]uint32, len(s.Specialization))
	for i, c := range s.Specialization {
		entries[i] = vk.SpecializationMapEntry{
			ConstantID: c.ID,
			Offset:     uint32(i * 4),
			Size:       4,
		}
		values[i] = c.Value
	}
	info.PSpecializationInfo = []vk.SpecializationInfo{{
		MapEntryCount: uint32(len(entries)),
		PMapEntries:   entries,
		DataSize:      uint64(len(values) * 4),
		PData:         unsafe.Pointer(&values[0]),
	}}
	return info, values
}

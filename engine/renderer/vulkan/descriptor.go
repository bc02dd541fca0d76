package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

type DescriptorSetLayout struct {
	gpu    *GPU
	handle vk.DescriptorSetLayout
}

func (g *GPU) NewDescriptorSetLayout(bindings []driver.DescriptorBinding) (driver.DescriptorSetLayout, error) {
	vkBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		count := b.Count
		if count == 0 {
			count = 1
		}
		vkBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  b.Type,
			DescriptorCount: count,
			StageFlags:      b.Stages,
		}
	}
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}
	l := &DescriptorSetLayout{gpu: g}
	if res := vk.CreateDescriptorSetLayout(g.device, &info, nil, &l.handle); res != vk.Success {
		return nil, resultError("vkCreateDescriptorSetLayout", res)
	}
	return l, nil
}

func (l *DescriptorSetLayout) Destroy() {
	if l.handle != nil {
		vk.DestroyDescriptorSetLayout(l.gpu.device, l.handle, nil)
		l.handle = nil
	}
}

// DescriptorPool allows freeing individual sets. Allocation and freeing are
// serialized through the GPU lock pool.
type DescriptorPool struct {
	gpu    *GPU
	handle vk.DescriptorPool
}

func (g *GPU) NewDescriptorPool(maxSets uint32, sizes []driver.DescriptorPoolSize) (driver.DescriptorPool, error) {
	poolSizes := make([]vk.DescriptorPoolSize, len(sizes))
	for i, s := range sizes {
		poolSizes[i] = vk.DescriptorPoolSize{Type: s.Type, DescriptorCount: s.Count}
	}
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	p := &DescriptorPool{gpu: g}
	if res := vk.CreateDescriptorPool(g.device, &info, nil, &p.handle); res != vk.Success {
		return nil, resultError("vkCreateDescriptorPool", res)
	}
	return p, nil
}

func (p *DescriptorPool) Destroy() {
	if p.handle != nil {
		vk.DestroyDescriptorPool(p.gpu.device, p.handle, nil)
		p.handle = nil
	}
}

// Allocate returns driver.ErrPoolExhausted when the pool ran out of sets or
// descriptors.
func (p *DescriptorPool) Allocate(layout driver.DescriptorSetLayout) (driver.DescriptorSet, error) {
	info := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.handle,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout.(*DescriptorSetLayout).handle},
	}
	set := &DescriptorSet{gpu: p.gpu}
	err := p.gpu.locks.SafeCall(DescriptorManagement, func() error {
		return resultError("vkAllocateDescriptorSets", vk.AllocateDescriptorSets(p.gpu.device, &info, &set.handle))
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

func (p *DescriptorPool) Free(sets ...driver.DescriptorSet) {
	_ = p.gpu.locks.SafeCall(DescriptorManagement, func() error {
		for _, s := range sets {
			ds := s.(*DescriptorSet)
			if ds.handle == nil {
				continue
			}
			vk.FreeDescriptorSets(p.gpu.device, p.handle, 1, &ds.handle)
			ds.handle = nil
		}
		return nil
	})
}

type DescriptorSet struct {
	gpu    *GPU
	handle vk.DescriptorSet
}

func (s *DescriptorSet) update(write vk.WriteDescriptorSet) {
	write.SType = vk.StructureTypeWriteDescriptorSet
	write.DstSet = s.handle
	write.DescriptorCount = 1
	vk.UpdateDescriptorSets(s.gpu.device, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

func (s *DescriptorSet) WriteBuffer(binding uint32, typ vk.DescriptorType, buf driver.Buffer, offset, size int64) {
	rng := vk.DeviceSize(size)
	if size <= 0 {
		rng = vk.DeviceSize(vk.WholeSize)
	}
	s.update(vk.WriteDescriptorSet{
		DstBinding:     binding,
		DescriptorType: typ,
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: buf.(*Buffer).handle,
			Offset: vk.DeviceSize(offset),
			Range:  rng,
		}},
	})
}

func (s *DescriptorSet) WriteImage(binding uint32, typ vk.DescriptorType, img driver.Image, layout vk.ImageLayout) {
	s.update(vk.WriteDescriptorSet{
		DstBinding:     binding,
		DescriptorType: typ,
		PImageInfo: []vk.DescriptorImageInfo{{
			ImageView:   img.(*Image).View,
			ImageLayout: layout,
		}},
	})
}

func (s *DescriptorSet) WriteSampler(binding uint32, smp driver.Sampler) {
	s.update(vk.WriteDescriptorSet{
		DstBinding:     binding,
		DescriptorType: vk.DescriptorTypeSampler,
		PImageInfo: []vk.DescriptorImageInfo{{
			Sampler: smp.(*Sampler).handle,
		}},
	})
}

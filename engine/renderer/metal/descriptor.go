package metal

import (
	"errors"
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

type pooledSet struct {
	pool driver.DescriptorPool
	set  driver.DescriptorSet
}

var descriptorTypes = []vk.DescriptorType{
	vk.DescriptorTypeStorageBuffer,
	vk.DescriptorTypeUniformBuffer,
	vk.DescriptorTypeSampledImage,
	vk.DescriptorTypeStorageImage,
	vk.DescriptorTypeSampler,
	vk.DescriptorTypeCombinedImageSampler,
}

// descriptorAllocator hands out descriptor sets from a chain of native
// pools, adding a pool whenever every existing one is full. Sets go back to
// the pool they came from.
type descriptorAllocator struct {
	gpu         driver.GPU
	setsPerPool uint32

	mu    sync.Mutex
	pools []driver.DescriptorPool
}

func newDescriptorAllocator(gpu driver.GPU, setsPerPool int) *descriptorAllocator {
	return &descriptorAllocator{gpu: gpu, setsPerPool: uint32(setsPerPool)}
}

func (a *descriptorAllocator) grow() (driver.DescriptorPool, error) {
	sizes := make([]driver.DescriptorPoolSize, len(descriptorTypes))
	for i, t := range descriptorTypes {
		sizes[i] = driver.DescriptorPoolSize{Type: t, Count: a.setsPerPool * 4}
	}
	p, err := a.gpu.NewDescriptorPool(a.setsPerPool, sizes)
	if err != nil {
		return nil, err
	}
	a.pools = append(a.pools, p)
	core.LogDebug("descriptor pool %d created (%d sets)", len(a.pools), a.setsPerPool)
	return p, nil
}

func (a *descriptorAllocator) allocate(layout driver.DescriptorSetLayout) (pooledSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := len(a.pools) - 1; i >= 0; i-- {
		s, err := a.pools[i].Allocate(layout)
		if err == nil {
			return pooledSet{pool: a.pools[i], set: s}, nil
		}
		if !errors.Is(err, driver.ErrPoolExhausted) {
			return pooledSet{}, err
		}
	}
	p, err := a.grow()
	if err != nil {
		return pooledSet{}, err
	}
	s, err := p.Allocate(layout)
	if err != nil {
		return pooledSet{}, fmt.Errorf("%w: fresh pool refused allocation: %w", core.ErrDescriptorPoolExhausted, err)
	}
	return pooledSet{pool: p, set: s}, nil
}

func (a *descriptorAllocator) free(sets []pooledSet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range sets {
		s.pool.Free(s.set)
	}
}

func (a *descriptorAllocator) poolCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pools)
}

func (a *descriptorAllocator) destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.pools {
		p.Destroy()
	}
	a.pools = nil
}

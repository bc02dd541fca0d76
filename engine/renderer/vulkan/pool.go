package vulkan

import "sync"

// LockGroup names a set of Vulkan calls that need external synchronization.
type LockGroup string

const (
	// Submission, waits on the queue and vkDeviceWaitIdle.
	QueueManagement LockGroup = "queue_management"
	// Allocating and freeing descriptor sets.
	DescriptorManagement LockGroup = "descriptor_management"
	// Instance level calls made while opening and closing the driver.
	InstanceManagement LockGroup = "instance_management"
)

// VulkanLockPool hands out one mutex per group, created on first use.
type VulkanLockPool struct {
	mu    sync.Mutex
	locks map[LockGroup]*sync.Mutex
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		locks: make(map[LockGroup]*sync.Mutex),
	}
}

func (vs *VulkanLockPool) lock(group LockGroup) *sync.Mutex {
	vs.mu.Lock()
	l, ok := vs.locks[group]
	if !ok {
		l = &sync.Mutex{}
		vs.locks[group] = l
	}
	vs.mu.Unlock()
	return l
}

// SafeCall runs fn while holding the group's mutex.
func (vs *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := vs.lock(group)
	l.Lock()
	defer l.Unlock()
	return fn()
}

package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

const portabilitySubset = "VK_KHR_portability_subset"

type physicalDeviceCandidate struct {
	device     vk.PhysicalDevice
	properties vk.PhysicalDeviceProperties
	family     uint32
	score      int
}

func (g *GPU) createDevice() error {
	if err := g.selectPhysicalDevice(); err != nil {
		return err
	}

	core.LogDebug("Creating logical device...")

	queueCreateInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: g.queueFamily,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}

	var features vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(g.physical, &features)
	features.Deref()

	// Request only what the device has.
	enabled := vk.PhysicalDeviceFeatures{
		SamplerAnisotropy: features.SamplerAnisotropy,
		DepthClamp:        features.DepthClamp,
		FillModeNonSolid:  features.FillModeNonSolid,
		DepthBiasClamp:    features.DepthBiasClamp,
		ImageCubeArray:    features.ImageCubeArray,
	}

	extensions := []string{}
	if g.hasDeviceExtension(portabilitySubset) {
		core.LogInfo("Adding required extension '%s'.", portabilitySubset)
		extensions = append(extensions, portabilitySubset)
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{enabled},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensions),
	}

	if res := vk.CreateDevice(g.physical, &deviceCreateInfo, nil, &g.device); res != vk.Success {
		return resultError("vkCreateDevice", res)
	}
	core.LogDebug("Logical device created.")

	vk.GetDeviceQueue(g.device, g.queueFamily, 0, &g.queue)
	return nil
}

// selectPhysicalDevice picks the highest scoring device with a queue family
// that supports graphics and compute together.
func (g *GPU) selectPhysicalDevice() error {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(g.instance, &count, nil); res != vk.Success {
		return resultError("vkEnumeratePhysicalDevices", res)
	}
	if count == 0 {
		return fmt.Errorf("no devices which support Vulkan were found: %w", driver.ErrNoDevice)
	}
	devices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(g.instance, &count, devices); res != vk.Success {
		return resultError("vkEnumeratePhysicalDevices", res)
	}

	var best *physicalDeviceCandidate
	for _, dev := range devices {
		c, ok := evaluatePhysicalDevice(dev)
		if !ok {
			continue
		}
		if best == nil || c.score > best.score {
			best = c
		}
	}
	if best == nil {
		return fmt.Errorf("no physical device has a graphics and compute queue: %w", driver.ErrNoDevice)
	}

	g.physical = best.device
	g.queueFamily = best.family
	vk.GetPhysicalDeviceMemoryProperties(g.physical, &g.memory)
	g.memory.Deref()
	g.props, g.limits = translateProperties(best.properties)

	core.LogInfo("Selected device: '%s'.", g.props.Name)
	core.LogInfo(
		"Vulkan API version: %d.%d.%d",
		vk.Version.Major(vk.Version(best.properties.ApiVersion)),
		vk.Version.Minor(vk.Version(best.properties.ApiVersion)),
		vk.Version.Patch(vk.Version(best.properties.ApiVersion)),
	)
	for j := uint32(0); j < g.memory.MemoryHeapCount; j++ {
		g.memory.MemoryHeaps[j].Deref()
		gib := float64(g.memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(g.memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogDebug("Local GPU memory: %.2f GiB", gib)
		} else {
			core.LogDebug("Shared System memory: %.2f GiB", gib)
		}
	}
	return nil
}

func evaluatePhysicalDevice(dev vk.PhysicalDevice) (*physicalDeviceCandidate, bool) {
	var properties vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(dev, &properties)
	properties.Deref()
	properties.Limits.Deref()

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(dev, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(dev, &familyCount, families)

	want := vk.QueueFlags(vk.QueueGraphicsBit) | vk.QueueFlags(vk.QueueComputeBit)
	for i := range families {
		families[i].Deref()
		if families[i].QueueFlags&want != want {
			continue
		}
		c := &physicalDeviceCandidate{device: dev, properties: properties, family: uint32(i)}
		switch properties.DeviceType {
		case vk.PhysicalDeviceTypeDiscreteGpu:
			c.score = 4
		case vk.PhysicalDeviceTypeIntegratedGpu:
			c.score = 3
		case vk.PhysicalDeviceTypeVirtualGpu:
			c.score = 2
		case vk.PhysicalDeviceTypeCpu:
			c.score = 1
		}
		return c, true
	}
	core.LogDebug("Device '%s' has no graphics and compute queue, skipping.", deviceName(properties))
	return nil, false
}

func deviceName(p vk.PhysicalDeviceProperties) string {
	end := FindFirstZeroInByteArray(p.DeviceName[:])
	return string(p.DeviceName[:end])
}

func translateProperties(p vk.PhysicalDeviceProperties) (driver.Properties, driver.Limits) {
	props := driver.Properties{
		Name:     deviceName(p),
		VendorID: p.VendorID,
		DeviceID: p.DeviceID,
		Headless: true,
	}
	switch p.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		props.DeviceType = driver.DeviceTypeIntegrated
	case vk.PhysicalDeviceTypeDiscreteGpu:
		props.DeviceType = driver.DeviceTypeDiscrete
	case vk.PhysicalDeviceTypeVirtualGpu:
		props.DeviceType = driver.DeviceTypeVirtual
	case vk.PhysicalDeviceTypeCpu:
		props.DeviceType = driver.DeviceTypeCPU
	default:
		props.DeviceType = driver.DeviceTypeOther
	}

	l := p.Limits
	limits := driver.Limits{
		MaxBufferLength:                int64(l.MaxStorageBufferRange),
		MaxImageDimension2D:            l.MaxImageDimension2D,
		MaxComputeWorkGroupInvocations: l.MaxComputeWorkGroupInvocations,
		MaxComputeWorkGroupSize:        l.MaxComputeWorkGroupSize,
		MaxComputeSharedMemorySize:     l.MaxComputeSharedMemorySize,
		MaxPushConstantsSize:           l.MaxPushConstantsSize,
		MaxBoundDescriptorSets:         l.MaxBoundDescriptorSets,
		SubgroupSize:                   subgroupSize(p.VendorID),
		NonCoherentAtomSize:            int64(l.NonCoherentAtomSize),
	}
	return props, limits
}

// subgroupSize guesses the SIMD width from the vendor; querying it needs
// VkPhysicalDeviceSubgroupProperties.
func subgroupSize(vendor uint32) uint32 {
	switch vendor {
	case 0x1002: // AMD
		return 64
	case 0x8086: // Intel
		return 16
	}
	return 32
}

func (g *GPU) hasDeviceExtension(name string) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(g.physical, "", &count, nil); res != vk.Success || count == 0 {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(g.physical, "", &count, available); res != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		end := FindFirstZeroInByteArray(available[i].ExtensionName[:])
		if string(available[i].ExtensionName[:end]) == name {
			return true
		}
	}
	return false
}
